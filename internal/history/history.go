// Package history provides a BoltDB-backed archive of beacon sightings.
package history

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"beaconwatch/internal/distance"
	"beaconwatch/internal/frame"
	"beaconwatch/internal/ranging"
)

var beaconsBucket = []byte("beacons")

// Record is the archived state of one beacon identity.
type Record struct {
	Key         string    `json:"key"`
	Layout      string    `json:"layout"`
	Identifiers []string  `json:"identifiers"`
	Address     string    `json:"address,omitempty"`
	Name        string    `json:"name,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	LastRSSI    int       `json:"last_rssi"`
	TxPower     int       `json:"tx_power"`
	// LastDistance is nil when the distance was unknown.
	LastDistance *float64 `json:"last_distance,omitempty"`
	Cycles       uint64   `json:"cycles"`
	Active       bool     `json:"active"`
}

// Store wraps a bbolt database of sighting records.
type Store struct {
	db  *bolt.DB
	mu  sync.RWMutex
	log zerolog.Logger
}

// Open opens or creates the archive at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(beaconsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating beacons bucket: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close closes the underlying BoltDB.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record archives one ranging snapshot: every visible beacon is upserted
// and every evicted one is marked inactive, in a single transaction.
func (s *Store) Record(snap ranging.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(beaconsBucket)

		for _, e := range snap.Entries {
			key := []byte(e.Identity.Key())

			var rec Record
			if existing := b.Get(key); existing != nil {
				if err := json.Unmarshal(existing, &rec); err != nil {
					s.log.Warn().Err(err).Str("key", string(key)).Msg("Failed to unmarshal existing record, overwriting")
					rec = Record{}
				}
			}
			if rec.Key == "" {
				rec = Record{
					Key:         string(key),
					Layout:      e.Identity.Layout,
					Identifiers: identifierStrings(e.Identity),
					FirstSeen:   e.FirstSeen,
				}
				s.log.Debug().Str("key", rec.Key).Msg("Archiving new beacon")
			}

			rec.LastSeen = e.LastSeen
			rec.LastRSSI = e.RSSI
			rec.TxPower = e.TxPower
			rec.LastDistance = nil
			if !distance.IsUnknown(e.Distance) {
				d := e.Distance
				rec.LastDistance = &d
			}
			if e.Address != "" {
				rec.Address = e.Address
			}
			if e.Name != "" {
				rec.Name = e.Name
			}
			rec.Cycles++
			rec.Active = true

			if err := put(b, key, rec); err != nil {
				return err
			}
		}

		for _, id := range snap.Evicted {
			if err := markGone(b, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkGone flags the given identities inactive.
func (s *Store) MarkGone(ids []frame.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(beaconsBucket)
		for _, id := range ids {
			if err := markGone(b, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAll returns every archived record.
func (s *Store) GetAll() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(beaconsBucket).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				s.log.Warn().Err(err).Str("key", string(k)).Msg("Skipping corrupt record")
				return nil
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// GetActive returns records of beacons that have not been evicted.
func (s *Store) GetActive() ([]Record, error) {
	all, err := s.GetAll()
	if err != nil {
		return nil, err
	}

	var active []Record
	for _, r := range all {
		if r.Active {
			active = append(active, r)
		}
	}
	return active, nil
}

func markGone(b *bolt.Bucket, id frame.Identity) error {
	key := []byte(id.Key())
	existing := b.Get(key)
	if existing == nil {
		return nil
	}

	var rec Record
	if err := json.Unmarshal(existing, &rec); err != nil {
		return nil
	}
	rec.Active = false
	return put(b, key, rec)
}

func put(b *bolt.Bucket, key []byte, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	return b.Put(key, data)
}

func identifierStrings(id frame.Identity) []string {
	ids := id.Identifiers()
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}
