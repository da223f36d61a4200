package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"beaconwatch/internal/ranging"
)

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Interface      string
	MulticastGroup string
	Port           int
	SharedSecret   string
	MaxAge         time.Duration
	// PacketsPerSecond and Burst size the per-source token bucket.
	PacketsPerSecond float64
	Burst            int
}

// Listener receives relay packets and hands their frames to a callback.
type Listener struct {
	cfg ListenerConfig
	log zerolog.Logger
	now func() time.Time

	limiters   map[string]*rate.Limiter
	limiterTTL time.Time
}

// NewListener returns a listener; call Run to start receiving.
func NewListener(cfg ListenerConfig, log zerolog.Logger) *Listener {
	if cfg.PacketsPerSecond <= 0 {
		cfg.PacketsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	return &Listener{
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run joins the multicast group and delivers frames to onFrame until ctx is
// done. Packets are processed one at a time on the calling goroutine.
func (l *Listener) Run(ctx context.Context, onFrame func(ranging.Advertisement)) error {
	var iface *net.Interface
	if l.cfg.Interface != "" {
		var err error
		iface, err = net.InterfaceByName(l.cfg.Interface)
		if err != nil {
			return fmt.Errorf("finding interface %s: %w", l.cfg.Interface, err)
		}
	}

	group := net.ParseIP(l.cfg.MulticastGroup)
	if group == nil {
		return fmt.Errorf("invalid multicast group: %s", l.cfg.MulticastGroup)
	}

	conn, err := net.ListenMulticastUDP("udp4", iface, &net.UDPAddr{IP: group, Port: l.cfg.Port})
	if err != nil {
		return fmt.Errorf("joining multicast group: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadBuffer(maxPacketSize * 16); err != nil {
		l.log.Warn().Err(err).Msg("Failed to set read buffer")
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	l.log.Info().
		Str("multicast_group", l.cfg.MulticastGroup).
		Int("port", l.cfg.Port).
		Msg("Relay listener started")

	buf := make([]byte, maxPacketSize)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Error().Err(err).Msg("Error reading from UDP")
			continue
		}
		l.handlePacket(buf[:n], src.IP.String(), onFrame)
	}
}

// handlePacket validates one packet and forwards its frames. It returns the
// number of frames forwarded.
func (l *Listener) handlePacket(packet []byte, srcIP string, onFrame func(ranging.Advertisement)) int {
	now := l.now()
	if !l.allow(srcIP, now) {
		l.log.Warn().Str("src_ip", srcIP).Msg("Rate limit exceeded, dropping packet")
		return 0
	}

	batch, err := Open(packet, l.cfg.SharedSecret, now, l.cfg.MaxAge)
	if err != nil {
		l.log.Warn().Err(err).Str("src_ip", srcIP).Int("bytes", len(packet)).Msg("Discarding relay packet")
		return 0
	}

	l.log.Debug().
		Str("src_ip", srcIP).
		Str("scanner", batch.Scanner.Hostname).
		Int("frames", len(batch.Frames)).
		Msg("Frame batch received")

	for _, rec := range batch.Frames {
		onFrame(rec.Advertisement(now))
	}
	return len(batch.Frames)
}

// allow applies the per-source token bucket. Buckets are dropped every
// minute so idle sources do not accumulate.
func (l *Listener) allow(srcIP string, now time.Time) bool {
	if now.After(l.limiterTTL) {
		l.limiters = make(map[string]*rate.Limiter)
		l.limiterTTL = now.Add(time.Minute)
	}
	lim, ok := l.limiters[srcIP]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.PacketsPerSecond), l.cfg.Burst)
		l.limiters[srcIP] = lim
	}
	return lim.AllowN(now, 1)
}
