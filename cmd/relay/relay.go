// Package relay implements the beaconwatch relay: a remote scanner that
// forwards raw advertisements to a ranging node.
package relay

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"beaconwatch/internal/relay"
	"beaconwatch/internal/scanner"
	"beaconwatch/internal/sysinfo"
	"beaconwatch/pkg/config"
	"beaconwatch/pkg/logger"
)

// Run scans locally and forwards frames until interrupted.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Node.LogLevel)

	if err := cfg.Relay.CheckSecret(); err != nil {
		return err
	}

	flush, err := cfg.Relay.ParseFlushInterval()
	if err != nil {
		return err
	}

	host, err := sysinfo.Collect(cfg.Relay.Interface)
	if err != nil {
		return fmt.Errorf("collecting host info: %w", err)
	}

	ble := scanner.New(log)
	if err := ble.Enable(); err != nil {
		return err
	}

	sender, err := relay.NewSender(relay.SenderConfig{
		Interface:      cfg.Relay.Interface,
		MulticastGroup: cfg.Relay.MulticastGroup,
		NodeAddress:    cfg.Relay.NodeAddress,
		Port:           cfg.Relay.Port,
		SharedSecret:   cfg.Relay.SharedSecret,
		FlushInterval:  flush,
		MaxBatch:       cfg.Relay.MaxBatch,
		Scanner:        scannerInfo(host),
	}, log)
	if err != nil {
		return fmt.Errorf("creating relay sender: %w", err)
	}
	defer sender.Close()

	log.Info().
		Str("hostname", host.Hostname).
		Str("mac", host.MACAddress).
		Str("platform", host.Platform).
		Msg("Starting beaconwatch relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- sender.Run(ctx) }()
	go func() { errCh <- ble.Run(ctx, sender.Add) }()

	running := 2
	select {
	case err := <-errCh:
		running--
		if err != nil {
			return fmt.Errorf("relay error: %w", err)
		}
	case <-ctx.Done():
	}

	stop()
	// The sender flushes its queue on the way out.
	for ; running > 0; running-- {
		if err := <-errCh; err != nil {
			log.Warn().Err(err).Msg("Relay stopped with error")
		}
	}
	log.Info().Uint64("frames_sent", sender.Sent()).Msg("Shutting down")
	return nil
}

func scannerInfo(host *sysinfo.HostInfo) relay.ScannerInfo {
	return relay.ScannerInfo{
		Hostname: host.Hostname,
		MAC:      host.MACAddress,
		Platform: host.Platform,
	}
}
