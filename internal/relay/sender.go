package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"beaconwatch/internal/ranging"
)

// maxPacketSize bounds a sealed packet; batches are flushed before they
// would exceed it.
const maxPacketSize = 4096

// SenderConfig configures a Sender.
type SenderConfig struct {
	Interface      string
	MulticastGroup string
	// NodeAddress optionally adds a unicast target.
	NodeAddress   string
	Port          int
	SharedSecret  string
	FlushInterval time.Duration
	MaxBatch      int
	Scanner       ScannerInfo
}

// Sender batches advertisements and sends them to one or more nodes.
type Sender struct {
	cfg     SenderConfig
	conn    *net.UDPConn
	targets []*net.UDPAddr
	log     zerolog.Logger

	mu      sync.Mutex
	pending []FrameRecord
	sent    uint64
}

// NewSender resolves the targets and opens the outgoing socket.
func NewSender(cfg SenderConfig, log zerolog.Logger) (*Sender, error) {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}

	var targets []*net.UDPAddr
	mAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.MulticastGroup, cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("resolving multicast address: %w", err)
	}
	targets = append(targets, mAddr)

	if cfg.NodeAddress != "" {
		nAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", cfg.NodeAddress, cfg.Port))
		if err != nil {
			log.Warn().Err(err).Str("node_address", cfg.NodeAddress).Msg("Failed to resolve node address")
		} else {
			targets = append(targets, nAddr)
		}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("listening for UDP: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if cfg.Interface != "" {
		iface, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("finding interface %s: %w", cfg.Interface, err)
		}
		if err := pc.SetMulticastInterface(iface); err != nil {
			log.Warn().Err(err).Msg("Failed to set multicast interface")
		}
	}
	if err := pc.SetMulticastTTL(1); err != nil {
		log.Warn().Err(err).Msg("Failed to set multicast TTL")
	}

	return &Sender{cfg: cfg, conn: conn, targets: targets, log: log}, nil
}

// Add queues an advertisement, flushing when the batch is full.
func (s *Sender) Add(adv ranging.Advertisement) {
	s.mu.Lock()
	s.pending = append(s.pending, RecordFrom(adv))
	full := len(s.pending) >= s.cfg.MaxBatch
	s.mu.Unlock()

	if full {
		s.Flush()
	}
}

// Flush sends every queued frame.
func (s *Sender) Flush() {
	s.mu.Lock()
	frames := s.pending
	s.pending = nil
	s.mu.Unlock()

	for len(frames) > 0 {
		n, packet, err := s.seal(frames)
		if err != nil {
			s.log.Error().Err(err).Int("frames", len(frames)).Msg("Failed to seal frame batch")
			return
		}
		frames = frames[n:]

		for _, addr := range s.targets {
			if _, err := s.conn.WriteToUDP(packet, addr); err != nil {
				s.log.Error().Err(err).Str("target", addr.String()).Msg("Failed to send frame batch")
				continue
			}
			s.log.Debug().
				Str("target", addr.String()).
				Int("frames", n).
				Int("bytes", len(packet)).
				Msg("Frame batch sent")
		}

		s.mu.Lock()
		s.sent += uint64(n)
		s.mu.Unlock()
	}
}

// seal packs as many leading frames as fit in one packet.
func (s *Sender) seal(frames []FrameRecord) (int, []byte, error) {
	n := len(frames)
	for {
		batch := &FrameBatch{
			Version:   Version,
			Timestamp: time.Now().UnixMilli(),
			Scanner:   s.cfg.Scanner,
			Frames:    frames[:n],
		}
		packet, err := Seal(batch, s.cfg.SharedSecret)
		if err != nil {
			return 0, nil, err
		}
		if len(packet) <= maxPacketSize || n == 1 {
			return n, packet, nil
		}
		n /= 2
	}
}

// Run flushes on the configured interval until ctx is done.
func (s *Sender) Run(ctx context.Context) error {
	s.log.Info().
		Str("multicast_group", s.cfg.MulticastGroup).
		Str("node_address", s.cfg.NodeAddress).
		Int("port", s.cfg.Port).
		Dur("flush_interval", s.cfg.FlushInterval).
		Msg("Relay sender started")

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return nil
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Sent returns the number of frames sent so far.
func (s *Sender) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Close closes the socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}
