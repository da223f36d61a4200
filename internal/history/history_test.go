package history

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"beaconwatch/internal/distance"
	"beaconwatch/internal/frame"
	"beaconwatch/internal/ranging"
	"beaconwatch/internal/registry"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testIdentity(minor byte) frame.Identity {
	return frame.NewIdentity("ibeacon", frame.Identifier{0xde, 0xad}, frame.Identifier{0, 1}, frame.Identifier{0, minor})
}

func entry(minor byte, rssi int, seen time.Time) registry.Entry {
	return registry.Entry{
		Identity:  testIdentity(minor),
		RSSI:      rssi,
		TxPower:   -59,
		Distance:  distance.Estimate(rssi, -59),
		Address:   fmt.Sprintf("aa:bb:cc:dd:ee:%02x", minor),
		FirstSeen: seen,
		LastSeen:  seen,
		Sightings: 1,
	}
}

func TestStore_RecordAndGetAll(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.Record(ranging.Snapshot{Entries: []registry.Entry{entry(1, -60, now)}}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	records, err := s.GetAll()
	if err != nil {
		t.Fatalf("getall failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	r := records[0]
	if r.Key != testIdentity(1).Key() {
		t.Errorf("Key: got %s, want %s", r.Key, testIdentity(1).Key())
	}
	if len(r.Identifiers) != 3 || r.Identifiers[2] != "1" {
		t.Errorf("Identifiers: got %v", r.Identifiers)
	}
	if r.LastRSSI != -60 {
		t.Errorf("LastRSSI: got %d, want -60", r.LastRSSI)
	}
	if r.LastDistance == nil {
		t.Error("expected a distance")
	}
	if r.Cycles != 1 {
		t.Errorf("Cycles: got %d, want 1", r.Cycles)
	}
	if !r.Active {
		t.Error("expected beacon to be active")
	}
}

func TestStore_RecordAccumulatesCycles(t *testing.T) {
	s := testStore(t)
	first := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 4; i++ {
		e := entry(1, -60-i, first.Add(time.Duration(i)*time.Second))
		e.FirstSeen = first
		if err := s.Record(ranging.Snapshot{Entries: []registry.Entry{e}}); err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}

	records, _ := s.GetAll()
	if records[0].Cycles != 4 {
		t.Errorf("Cycles: got %d, want 4", records[0].Cycles)
	}
	if records[0].LastRSSI != -63 {
		t.Errorf("LastRSSI: got %d, want -63", records[0].LastRSSI)
	}
	if !records[0].FirstSeen.Equal(first) {
		t.Errorf("FirstSeen: got %v, want %v", records[0].FirstSeen, first)
	}
	if !records[0].LastSeen.Equal(first.Add(3 * time.Second)) {
		t.Errorf("LastSeen: got %v", records[0].LastSeen)
	}
}

func TestStore_UnknownDistance(t *testing.T) {
	s := testStore(t)
	e := entry(1, 0, time.Now())

	if err := s.Record(ranging.Snapshot{Entries: []registry.Entry{e}}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	records, _ := s.GetAll()
	if records[0].LastDistance != nil {
		t.Errorf("LastDistance: got %v, want nil", *records[0].LastDistance)
	}
}

func TestStore_EvictedBecomeInactive(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	s.Record(ranging.Snapshot{Entries: []registry.Entry{entry(1, -60, now), entry(2, -70, now)}})
	if err := s.Record(ranging.Snapshot{
		Entries: []registry.Entry{entry(2, -71, now.Add(time.Second))},
		Evicted: []frame.Identity{testIdentity(1)},
	}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	active, err := s.GetActive()
	if err != nil {
		t.Fatalf("getactive failed: %v", err)
	}
	if len(active) != 1 || active[0].Key != testIdentity(2).Key() {
		t.Fatalf("expected only beacon 2 active, got %+v", active)
	}

	all, _ := s.GetAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
}

func TestStore_MarkGone(t *testing.T) {
	s := testStore(t)
	s.Record(ranging.Snapshot{Entries: []registry.Entry{entry(1, -60, time.Now())}})

	if err := s.MarkGone([]frame.Identity{testIdentity(1), testIdentity(9)}); err != nil {
		t.Fatalf("mark gone failed: %v", err)
	}

	active, _ := s.GetActive()
	if len(active) != 0 {
		t.Errorf("expected no active beacons, got %d", len(active))
	}
}
