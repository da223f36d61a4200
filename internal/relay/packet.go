// Package relay forwards raw beacon frames from remote scanners to a
// ranging node over UDP.
package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"beaconwatch/internal/ranging"
)

// HMACSize is the length of the HMAC-SHA256 signature prefixing each packet.
const HMACSize = 32

// Version is the current FrameBatch format.
const Version = 1

var (
	ErrPacketTooSmall = errors.New("packet too small")
	ErrBadSignature   = errors.New("HMAC mismatch")
	ErrStalePacket    = errors.New("stale packet timestamp")
	ErrBadVersion     = errors.New("unsupported batch version")
)

// FrameRecord is one advertisement as captured by a relay.
type FrameRecord struct {
	Data     []byte `msgpack:"data"`
	RSSI     int16  `msgpack:"rssi"`
	Address  string `msgpack:"address"`
	Name     string `msgpack:"name,omitempty"`
	Received int64  `msgpack:"received_ms"`
}

// FrameBatch is the body of one relay packet.
type FrameBatch struct {
	Version   uint8         `msgpack:"version"`
	Timestamp int64         `msgpack:"timestamp_ms"`
	Scanner   ScannerInfo   `msgpack:"scanner"`
	Frames    []FrameRecord `msgpack:"frames"`
}

// ScannerInfo identifies the relay host.
type ScannerInfo struct {
	Hostname string `msgpack:"hostname"`
	MAC      string `msgpack:"mac"`
	Platform string `msgpack:"platform,omitempty"`
}

// RecordFrom converts an advertisement into its wire form.
func RecordFrom(adv ranging.Advertisement) FrameRecord {
	return FrameRecord{
		Data:     append([]byte(nil), adv.Data...),
		RSSI:     int16(adv.RSSI),
		Address:  adv.Address,
		Name:     adv.Name,
		Received: adv.Received.UnixMilli(),
	}
}

// Advertisement converts a relayed record back, stamped with the local
// receive time since relay clocks are not trusted.
func (r FrameRecord) Advertisement(received time.Time) ranging.Advertisement {
	return ranging.Advertisement{
		Data:     append([]byte(nil), r.Data...),
		RSSI:     int(r.RSSI),
		Address:  r.Address,
		Name:     r.Name,
		Received: received,
	}
}

// Seal marshals batch and prefixes it with its signature.
func Seal(batch *FrameBatch, secret string) ([]byte, error) {
	data, err := msgpack.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshaling frame batch: %w", err)
	}
	packet := make([]byte, 0, HMACSize+len(data))
	packet = append(packet, sign(data, secret)...)
	return append(packet, data...), nil
}

// Open verifies and unmarshals a packet produced by Seal. Batches whose
// timestamp is further than maxAge from now are rejected; maxAge of zero
// disables the check.
func Open(packet []byte, secret string, now time.Time, maxAge time.Duration) (*FrameBatch, error) {
	if len(packet) <= HMACSize {
		return nil, ErrPacketTooSmall
	}

	sig, data := packet[:HMACSize], packet[HMACSize:]
	if !hmac.Equal(sig, sign(data, secret)) {
		return nil, ErrBadSignature
	}

	var batch FrameBatch
	if err := msgpack.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("unmarshaling frame batch: %w", err)
	}
	if batch.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, batch.Version)
	}

	if maxAge > 0 {
		skew := now.Sub(time.UnixMilli(batch.Timestamp))
		if skew > maxAge || skew < -maxAge {
			return nil, fmt.Errorf("%w: skew %s", ErrStalePacket, skew)
		}
	}
	return &batch, nil
}

func sign(data []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return mac.Sum(nil)
}
