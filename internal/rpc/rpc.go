// Package rpc provides Unix socket IPC between a ranging node and the list CLI.
package rpc

import (
	"errors"
	"fmt"
	"net"
	netrpc "net/rpc"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"beaconwatch/internal/history"
	"beaconwatch/internal/ranging"
)

// Beacon is the wire view of one visible beacon.
type Beacon struct {
	Layout      string
	Identity    string
	Identifiers []string
	Address     string
	Name        string
	RSSI        int
	TxPower     int
	Distance    float64
	FirstSeen   time.Time
	LastSeen    time.Time
	Sightings   uint64
}

// Latest holds the most recent snapshot delivered by the session.
type Latest struct {
	mu    sync.RWMutex
	snap  ranging.Snapshot
	valid bool
}

// Set replaces the held snapshot.
func (l *Latest) Set(snap ranging.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = snap
	l.valid = true
}

// Get returns the held snapshot and whether one has been delivered yet.
func (l *Latest) Get() (ranging.Snapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap, l.valid
}

// Service is the RPC service exposed by a node.
type Service struct {
	latest  *Latest
	history *history.Store
	log     zerolog.Logger
}

// ListBeaconsArgs is the request for ListBeacons.
type ListBeaconsArgs struct{}

// ListBeaconsReply is the response for ListBeacons.
type ListBeaconsReply struct {
	SessionID string
	Cycle     uint64
	Taken     time.Time
	Beacons   []Beacon
}

// ListHistoryArgs is the request for ListHistory.
type ListHistoryArgs struct {
	ActiveOnly bool
}

// ListHistoryReply is the response for ListHistory.
type ListHistoryReply struct {
	Records []history.Record
}

// ListBeacons returns the beacons of the latest ranging cycle.
func (s *Service) ListBeacons(args *ListBeaconsArgs, reply *ListBeaconsReply) error {
	snap, ok := s.latest.Get()
	if !ok {
		return nil
	}

	reply.SessionID = snap.SessionID
	reply.Cycle = snap.Cycle
	reply.Taken = snap.Taken
	reply.Beacons = make([]Beacon, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		ids := e.Identity.Identifiers()
		idStrings := make([]string, len(ids))
		for i, id := range ids {
			idStrings[i] = id.String()
		}
		reply.Beacons = append(reply.Beacons, Beacon{
			Layout:      e.Identity.Layout,
			Identity:    e.Identity.String(),
			Identifiers: idStrings,
			Address:     e.Address,
			Name:        e.Name,
			RSSI:        e.RSSI,
			TxPower:     e.TxPower,
			Distance:    e.Distance,
			FirstSeen:   e.FirstSeen,
			LastSeen:    e.LastSeen,
			Sightings:   e.Sightings,
		})
	}
	return nil
}

// ListHistory returns archived sightings.
func (s *Service) ListHistory(args *ListHistoryArgs, reply *ListHistoryReply) error {
	if s.history == nil {
		s.log.Warn().Msg("History requested but archive is disabled")
		return errors.New("history archive is disabled on this node")
	}

	var (
		records []history.Record
		err     error
	)
	if args.ActiveOnly {
		records, err = s.history.GetActive()
	} else {
		records, err = s.history.GetAll()
	}
	if err != nil {
		s.log.Error().Err(err).Bool("active_only", args.ActiveOnly).Msg("Failed to read history")
		return fmt.Errorf("fetching history: %w", err)
	}
	reply.Records = records
	return nil
}

// Server is a running RPC listener.
type Server struct {
	listener net.Listener
	path     string
	log      zerolog.Logger
}

// StartServer starts the Unix socket RPC server. hist may be nil.
func StartServer(socketPath string, latest *Latest, hist *history.Store, log zerolog.Logger) (*Server, error) {
	service := &Service{latest: latest, history: hist, log: log}

	server := netrpc.NewServer()
	if err := server.RegisterName("Beacons", service); err != nil {
		return nil, fmt.Errorf("registering RPC service: %w", err)
	}

	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}

	if err := os.Chmod(socketPath, 0660); err != nil {
		log.Warn().Err(err).Msg("Failed to set socket permissions")
	}

	log.Info().Str("socket", socketPath).Msg("RPC server started")

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Error().Err(err).Msg("RPC accept error")
				continue
			}
			go server.ServeConn(conn)
		}
	}()

	return &Server{listener: listener, path: socketPath, log: log}, nil
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
		s.log.Warn().Err(rmErr).Str("socket", s.path).Msg("Failed to remove socket")
	}
	s.log.Info().Str("socket", s.path).Msg("RPC server stopped")
	return err
}

// Client is a client for the node RPC service.
type Client struct {
	client *netrpc.Client
}

// NewClient dials the Unix socket and returns an RPC client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to RPC socket %s: %w", socketPath, err)
	}
	return &Client{client: netrpc.NewClient(conn)}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// ListBeacons fetches the latest visible beacons from the node.
func (c *Client) ListBeacons() (*ListBeaconsReply, error) {
	reply := &ListBeaconsReply{}
	if err := c.client.Call("Beacons.ListBeacons", &ListBeaconsArgs{}, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// ListHistory fetches archived sightings from the node.
func (c *Client) ListHistory(activeOnly bool) ([]history.Record, error) {
	reply := &ListHistoryReply{}
	if err := c.client.Call("Beacons.ListHistory", &ListHistoryArgs{ActiveOnly: activeOnly}, reply); err != nil {
		return nil, err
	}
	return reply.Records, nil
}
