// Package ranging runs periodic ranging cycles over decoded beacon frames.
package ranging

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"beaconwatch/internal/distance"
	"beaconwatch/internal/frame"
	"beaconwatch/internal/registry"
)

const (
	// DefaultForegroundPeriod and DefaultBackgroundPeriod match the scan
	// periods Android beacon libraries use for visible and hidden activities.
	DefaultForegroundPeriod = 1100 * time.Millisecond
	DefaultBackgroundPeriod = 10 * time.Second

	// expiryCycles is how many cycle periods a beacon may stay silent
	// before it is evicted, unless an explicit window is configured.
	expiryCycles = 5
)

var (
	// ErrSessionRunning is returned by Start on a session that is scanning.
	ErrSessionRunning = errors.New("ranging session is already scanning")

	// ErrNoLayouts indicates a session was created without beacon layouts.
	ErrNoLayouts = errors.New("no beacon layouts configured")
)

// Options configures a Session.
type Options struct {
	Layouts          []*frame.Layout
	Region           Region
	ForegroundPeriod time.Duration
	BackgroundPeriod time.Duration
	// ExpiryWindow overrides the default of five active cycle periods.
	ExpiryWindow time.Duration
	Background   bool
	// Now is the clock used to timestamp frames and evict entries.
	Now func() time.Time
}

// run holds the channels of one Start/Stop span.
type run struct {
	stop    chan struct{}
	reset   chan time.Duration
	mailbox chan Snapshot
	wg      sync.WaitGroup
}

// Session owns a registry and feeds it from OnFrame, emitting a snapshot
// to its consumer once per cycle while scanning.
type Session struct {
	opts     Options
	log      zerolog.Logger
	registry *registry.Registry

	// mu guards the fields below. OnFrame holds it shared so that Stop
	// cannot return while a frame is half applied.
	mu         sync.RWMutex
	state      State
	id         string
	period     time.Duration
	background bool
	current    *run

	cycles atomic.Uint64

	// carried holds evictions from a snapshot that was still undelivered
	// when its run stopped. The next cycle reports them.
	carriedMu sync.Mutex
	carried   []frame.Identity
}

// NewSession validates opts and returns an idle session.
func NewSession(opts Options, log zerolog.Logger) (*Session, error) {
	if len(opts.Layouts) == 0 {
		return nil, ErrNoLayouts
	}
	if opts.ForegroundPeriod <= 0 {
		opts.ForegroundPeriod = DefaultForegroundPeriod
	}
	if opts.BackgroundPeriod <= 0 {
		opts.BackgroundPeriod = DefaultBackgroundPeriod
	}
	if opts.ExpiryWindow < 0 {
		return nil, fmt.Errorf("negative expiry window %s", opts.ExpiryWindow)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		opts:       opts,
		log:        log,
		background: opts.Background,
	}
	s.period = s.modePeriod()
	s.registry = registry.New(s.expiryFor(s.period))
	return s, nil
}

// Start begins a scanning span that cycles every period (the current
// foreground or background period when period is zero) and delivers
// snapshots to consumer. Registry contents from earlier spans are kept.
func (s *Session) Start(period time.Duration, consumer Consumer) error {
	if period < 0 {
		return fmt.Errorf("negative cycle period %s", period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Scanning {
		return ErrSessionRunning
	}
	if period == 0 {
		period = s.modePeriod()
	}

	s.period = period
	s.registry.SetExpiryWindow(s.expiryFor(period))
	s.id = uuid.NewString()

	r := &run{
		stop:    make(chan struct{}),
		reset:   make(chan time.Duration, 1),
		mailbox: make(chan Snapshot, 1),
	}
	r.wg.Add(2)
	go s.loop(r, period)
	go s.deliver(r, consumer)

	s.current = r
	s.state = Scanning

	s.log.Info().
		Str("session", s.id).
		Dur("period", period).
		Dur("expiry_window", s.registry.ExpiryWindow()).
		Int("layouts", len(s.opts.Layouts)).
		Int("beacons", s.registry.Len()).
		Msg("Ranging started")
	return nil
}

// Stop ends the scanning span. When it returns no consumer call is running
// and none will start. Calling Stop on an idle session does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != Scanning {
		s.mu.Unlock()
		return
	}
	r := s.current
	s.state = Idle
	s.current = nil
	close(r.stop)
	s.mu.Unlock()

	r.wg.Wait()

	select {
	case snap := <-r.mailbox:
		s.carry(snap.Evicted)
	default:
	}

	s.log.Info().
		Str("session", s.ID()).
		Uint64("cycles", s.cycles.Load()).
		Msg("Ranging stopped")
}

// OnFrame decodes adv and applies it to the registry. It reports whether the
// frame was accepted; idle sessions, unknown formats and beacons outside
// the region are ignored.
func (s *Session) OnFrame(adv Advertisement) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != Scanning {
		return false
	}

	d, ok := frame.Decode(adv.Data, s.opts.Layouts)
	if !ok {
		return false
	}
	if !s.opts.Region.Matches(d.Identity) {
		return false
	}

	seen := adv.Received
	if seen.IsZero() {
		seen = s.opts.Now()
	}

	obs := registry.Observation{
		Identity: d.Identity,
		RSSI:     adv.RSSI,
		TxPower:  d.TxPower,
		Distance: distance.Estimate(adv.RSSI, d.TxPower),
		Address:  adv.Address,
		Name:     adv.Name,
		Seen:     seen,
	}

	if s.registry.Update(obs) {
		s.log.Info().
			Str("identity", d.Identity.String()).
			Str("layout", d.Identity.Layout).
			Str("address", adv.Address).
			Int("rssi", adv.RSSI).
			Str("distance", distance.Format(obs.Distance)).
			Msg("Beacon discovered")
	}
	return true
}

// Cycle evicts expired beacons and returns a snapshot of the rest. The
// periodic loop calls it; it may also be called directly.
func (s *Session) Cycle() Snapshot {
	now := s.opts.Now()
	evicted := s.registry.EvictExpired(now)

	snap := Snapshot{
		SessionID: s.ID(),
		Cycle:     s.cycles.Add(1),
		Taken:     now,
		Entries:   s.registry.Snapshot(),
		Evicted:   evicted,
	}
	snap.Evicted = mergeEvicted(s.takeCarried(), snap)

	for _, id := range evicted {
		s.log.Info().
			Str("identity", id.String()).
			Str("layout", id.Layout).
			Msg("Beacon lost")
	}
	s.log.Debug().
		Uint64("cycle", snap.Cycle).
		Int("visible", len(snap.Entries)).
		Int("evicted", len(evicted)).
		Msg("Ranging cycle complete")

	return snap
}

// SetBackgroundMode switches between the background and foreground cycle
// periods. A running loop picks up the new period immediately.
func (s *Session) SetBackgroundMode(background bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.background == background {
		return
	}
	s.background = background
	s.period = s.modePeriod()
	s.registry.SetExpiryWindow(s.expiryFor(s.period))

	if s.current != nil {
		select {
		case <-s.current.reset:
		default:
		}
		s.current.reset <- s.period
	}

	s.log.Info().
		Bool("background", background).
		Dur("period", s.period).
		Msg("Ranging mode changed")
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ID returns the identifier of the current or most recent scanning span.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Period returns the active cycle period.
func (s *Session) Period() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.period
}

// Background reports whether background mode is on.
func (s *Session) Background() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.background
}

// Registry exposes the session's registry.
func (s *Session) Registry() *registry.Registry {
	return s.registry
}

func (s *Session) loop(r *run, period time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case p := <-r.reset:
			ticker.Reset(p)
		case <-ticker.C:
			select {
			case <-r.stop:
				return
			default:
			}
			post(r.mailbox, s.Cycle())
		}
	}
}

// post leaves snap in the one-slot mailbox, replacing an undelivered one.
// Evictions of the replaced snapshot move into snap so that every eviction
// reaches the consumer.
func post(mailbox chan Snapshot, snap Snapshot) {
	select {
	case old := <-mailbox:
		snap.Evicted = mergeEvicted(old.Evicted, snap)
	default:
	}
	select {
	case mailbox <- snap:
	default:
	}
}

// mergeEvicted prepends the older evictions to snap's own, skipping
// identities that are visible again or already reported by snap.
func mergeEvicted(older []frame.Identity, snap Snapshot) []frame.Identity {
	if len(older) == 0 {
		return snap.Evicted
	}
	skip := make(map[frame.Identity]struct{}, len(snap.Entries)+len(snap.Evicted))
	for _, e := range snap.Entries {
		skip[e.Identity] = struct{}{}
	}
	for _, id := range snap.Evicted {
		skip[id] = struct{}{}
	}

	merged := make([]frame.Identity, 0, len(older)+len(snap.Evicted))
	for _, id := range older {
		if _, ok := skip[id]; ok {
			continue
		}
		skip[id] = struct{}{}
		merged = append(merged, id)
	}
	return append(merged, snap.Evicted...)
}

func (s *Session) carry(ids []frame.Identity) {
	if len(ids) == 0 {
		return
	}
	s.carriedMu.Lock()
	defer s.carriedMu.Unlock()
	s.carried = append(s.carried, ids...)
}

func (s *Session) takeCarried() []frame.Identity {
	s.carriedMu.Lock()
	defer s.carriedMu.Unlock()
	ids := s.carried
	s.carried = nil
	return ids
}

func (s *Session) deliver(r *run, consumer Consumer) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stop:
			return
		case snap := <-r.mailbox:
			select {
			case <-r.stop:
				s.carry(snap.Evicted)
				return
			default:
			}
			if consumer != nil {
				consumer(snap)
			}
		}
	}
}

func (s *Session) modePeriod() time.Duration {
	if s.background {
		return s.opts.BackgroundPeriod
	}
	return s.opts.ForegroundPeriod
}

func (s *Session) expiryFor(period time.Duration) time.Duration {
	if s.opts.ExpiryWindow > 0 {
		return s.opts.ExpiryWindow
	}
	return expiryCycles * period
}
