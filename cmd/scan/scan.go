// Package scan implements the beaconwatch ranging node.
package scan

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"beaconwatch/internal/frame"
	"beaconwatch/internal/history"
	"beaconwatch/internal/ranging"
	"beaconwatch/internal/relay"
	"beaconwatch/internal/rpc"
	"beaconwatch/internal/scanner"
	"beaconwatch/pkg/config"
	"beaconwatch/pkg/logger"
)

// Run starts a ranging node fed by the local adapter and/or relays.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Node.LogLevel)

	if cfg.Scanner.Disabled && !cfg.Relay.Listen {
		return fmt.Errorf("nothing to range: enable the scanner or set relay.listen")
	}
	if cfg.Relay.Listen {
		if err := cfg.Relay.CheckSecret(); err != nil {
			return err
		}
	}

	opts, err := sessionOptions(&cfg.Ranging)
	if err != nil {
		return err
	}

	var ble *scanner.Scanner
	if !cfg.Scanner.Disabled {
		ble = scanner.New(log)
		if err := ble.Enable(); err != nil {
			return err
		}
	}

	// Ensure RPC socket directory exists
	sockDir := filepath.Dir(cfg.Node.RPCSocket)
	if err := os.MkdirAll(sockDir, 0700); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", sockDir, err)
	}

	var hist *history.Store
	if !cfg.Node.DisableHistory {
		histDir := filepath.Dir(cfg.Node.HistoryPath)
		if err := os.MkdirAll(histDir, 0700); err != nil {
			return fmt.Errorf("creating history directory %s: %w", histDir, err)
		}
		hist, err = history.Open(cfg.Node.HistoryPath, log)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer hist.Close()
	}

	session, err := ranging.NewSession(opts, log)
	if err != nil {
		return fmt.Errorf("creating ranging session: %w", err)
	}

	latest := &rpc.Latest{}
	server, err := rpc.StartServer(cfg.Node.RPCSocket, latest, hist, log)
	if err != nil {
		return fmt.Errorf("starting RPC server: %w", err)
	}
	defer server.Close()

	if err := session.Start(0, consumer(latest, hist, log)); err != nil {
		return fmt.Errorf("starting ranging session: %w", err)
	}
	defer shutdown(session, hist, log)

	log.Info().
		Int("layouts", len(opts.Layouts)).
		Str("region", opts.Region.Name).
		Bool("scanner", ble != nil).
		Bool("relay_listen", cfg.Relay.Listen).
		Str("history", cfg.Node.HistoryPath).
		Msg("Starting beaconwatch node")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	onFrame := func(adv ranging.Advertisement) { session.OnFrame(adv) }

	if ble != nil {
		go func() { errCh <- ble.Run(ctx, onFrame) }()
	}

	if cfg.Relay.Listen {
		maxAge, err := cfg.Relay.ParseMaxAge()
		if err != nil {
			return err
		}
		listener := relay.NewListener(relay.ListenerConfig{
			Interface:        cfg.Relay.Interface,
			MulticastGroup:   cfg.Relay.MulticastGroup,
			Port:             cfg.Relay.Port,
			SharedSecret:     cfg.Relay.SharedSecret,
			MaxAge:           maxAge,
			PacketsPerSecond: cfg.Relay.PacketsPerSecond,
			Burst:            cfg.Relay.Burst,
		}, log)
		go func() { errCh <- listener.Run(ctx, onFrame) }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("frame source error: %w", err)
			}
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				session.SetBackgroundMode(true)
			case syscall.SIGUSR2:
				session.SetBackgroundMode(false)
			default:
				log.Info().Str("signal", sig.String()).Msg("Shutting down")
				return nil
			}
		}
	}
}

// sessionOptions builds ranging options from the [ranging] section.
func sessionOptions(rc *config.RangingConfig) (ranging.Options, error) {
	layouts, err := rc.ParseLayouts()
	if err != nil {
		return ranging.Options{}, fmt.Errorf("parsing layouts: %w", err)
	}
	fg, err := rc.ParseForegroundPeriod()
	if err != nil {
		return ranging.Options{}, err
	}
	bg, err := rc.ParseBackgroundPeriod()
	if err != nil {
		return ranging.Options{}, err
	}
	expiry, err := rc.ParseExpiryWindow()
	if err != nil {
		return ranging.Options{}, err
	}

	return ranging.Options{
		Layouts:          layouts,
		Region:           rc.RangingRegion(),
		ForegroundPeriod: fg,
		BackgroundPeriod: bg,
		ExpiryWindow:     expiry,
		Background:       rc.Background,
	}, nil
}

// shutdown stops the session and marks the beacons it still sees as gone,
// since nothing observes them once the node exits.
func shutdown(session *ranging.Session, hist *history.Store, log zerolog.Logger) {
	session.Stop()
	if hist == nil {
		return
	}

	entries := session.Registry().Snapshot()
	ids := make([]frame.Identity, len(entries))
	for i, e := range entries {
		ids[i] = e.Identity
	}
	if err := hist.MarkGone(ids); err != nil {
		log.Warn().Err(err).Int("beacons", len(ids)).Msg("Failed to retire visible beacons")
	}
}

// consumer publishes each snapshot to RPC clients and the archive.
func consumer(latest *rpc.Latest, hist *history.Store, log zerolog.Logger) ranging.Consumer {
	return func(snap ranging.Snapshot) {
		latest.Set(snap)

		if hist != nil {
			if err := hist.Record(snap); err != nil {
				log.Warn().Err(err).Uint64("cycle", snap.Cycle).Msg("Failed to archive snapshot")
			}
		}

		log.Debug().
			Uint64("cycle", snap.Cycle).
			Int("visible", len(snap.Entries)).
			Int("evicted", len(snap.Evicted)).
			Msg("Ranging cycle")
	}
}
