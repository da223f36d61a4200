// Package scanner reads BLE advertisements from the local adapter and
// hands their manufacturer data to a ranging session.
package scanner

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"

	"beaconwatch/internal/ranging"
)

// ErrUnavailable is returned when the adapter cannot be enabled.
var ErrUnavailable = errors.New("bluetooth adapter unavailable")

// Scanner wraps the default BLE adapter.
type Scanner struct {
	adapter *bluetooth.Adapter
	log     zerolog.Logger
	now     func() time.Time
}

// New returns a scanner on the system default adapter.
func New(log zerolog.Logger) *Scanner {
	return &Scanner{
		adapter: bluetooth.DefaultAdapter,
		log:     log,
		now:     time.Now,
	}
}

// Enable powers up the adapter. Scanning must not start before it succeeds.
func (s *Scanner) Enable() error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: %v (try running with sudo or setcap cap_net_admin+ep)", ErrUnavailable, err)
	}
	s.log.Info().Msg("Bluetooth adapter enabled")
	return nil
}

// Run scans until ctx is done, calling onAdv for every manufacturer data
// element of every advertisement received.
func (s *Scanner) Run(ctx context.Context, onAdv func(ranging.Advertisement)) error {
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			if err := s.adapter.StopScan(); err != nil {
				s.log.Warn().Err(err).Msg("Failed to stop scan")
			}
		case <-stopped:
		}
	}()

	s.log.Info().Msg("BLE scan started")
	err := s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		advs := Advertisements(result.Address.String(), result.LocalName(), result.RSSI, result.ManufacturerData(), s.now())
		for _, adv := range advs {
			onAdv(adv)
		}
	})
	if ctx.Err() != nil {
		s.log.Info().Msg("BLE scan stopped")
		return nil
	}
	if err != nil {
		return fmt.Errorf("scanning: %w", err)
	}
	return nil
}

// Advertisements builds one advertisement per manufacturer data element.
func Advertisements(address, name string, rssi int16, elems []bluetooth.ManufacturerDataElement, received time.Time) []ranging.Advertisement {
	if len(elems) == 0 {
		return nil
	}
	out := make([]ranging.Advertisement, 0, len(elems))
	for _, el := range elems {
		out = append(out, ranging.Advertisement{
			Data:     ManufacturerFrame(el.CompanyID, el.Data),
			RSSI:     int(rssi),
			Address:  address,
			Name:     name,
			Received: received,
		})
	}
	return out
}

// ManufacturerFrame rebuilds the manufacturer specific AD payload: the
// company ID in little-endian followed by the data.
func ManufacturerFrame(companyID uint16, data []byte) []byte {
	frame := make([]byte, 2+len(data))
	binary.LittleEndian.PutUint16(frame, companyID)
	copy(frame[2:], data)
	return frame
}
