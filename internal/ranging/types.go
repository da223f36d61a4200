package ranging

import (
	"strings"
	"time"

	"beaconwatch/internal/frame"
	"beaconwatch/internal/registry"
)

// Advertisement is one raw frame handed over by a scanning source.
type Advertisement struct {
	// Data is the manufacturer-specific payload, company ID first.
	Data     []byte
	RSSI     int
	Address  string
	Name     string
	Received time.Time
}

// Snapshot is what a consumer receives at the end of each ranging cycle.
// It shares no memory with the session.
type Snapshot struct {
	SessionID string
	Cycle     uint64
	Taken     time.Time
	Entries   []registry.Entry
	Evicted   []frame.Identity
}

// Consumer receives snapshots. It runs on the session's delivery goroutine
// and must not call Stop.
type Consumer func(Snapshot)

// Region restricts ranging to beacons whose leading identifiers match.
// Empty or "*" identifiers are wildcards; the zero Region matches all.
type Region struct {
	Name        string
	Identifiers []string
}

// Matches reports whether id falls inside the region.
func (r Region) Matches(id frame.Identity) bool {
	if len(r.Identifiers) == 0 {
		return true
	}
	ids := id.Identifiers()
	for i, want := range r.Identifiers {
		if want == "" || want == "*" {
			continue
		}
		if i >= len(ids) || !strings.EqualFold(ids[i].String(), want) {
			return false
		}
	}
	return true
}

// State is the session lifecycle state.
type State int32

const (
	Idle State = iota
	Scanning
)

func (s State) String() string {
	if s == Scanning {
		return "scanning"
	}
	return "idle"
}
