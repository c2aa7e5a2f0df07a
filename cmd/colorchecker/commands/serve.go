package commands

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/ColorChecker/internal/analysis"
	"github.com/bryanchriswhite/ColorChecker/internal/api"
	"github.com/bryanchriswhite/ColorChecker/internal/capture"
	"github.com/bryanchriswhite/ColorChecker/internal/config"
	"github.com/bryanchriswhite/ColorChecker/internal/events"
	"github.com/bryanchriswhite/ColorChecker/internal/fieldbus"
	"github.com/bryanchriswhite/ColorChecker/internal/logger"
	"github.com/bryanchriswhite/ColorChecker/internal/output"
	"github.com/bryanchriswhite/ColorChecker/internal/overlay"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ColorChecker service",
	Long: `Start capturing frames and evaluating the configured region.

The service runs the Modbus/TCP server on the Port parameter, publishes
transitions to MQTT when a broker is configured and serves the HTTP API.`,
	Example: `  # Start with the synthetic source
  colorchecker serve

  # Capture from a V4L2 camera through GStreamer
  colorchecker serve --source gstreamer

  # Start with debug logging on another HTTP port
  colorchecker serve --log-level debug --http-port 9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	mgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer mgr.Close()

	logger.Init(cfg.Log.Level, cfg.Log.Pretty)
	log := logger.WithComponent("serve")
	if cfg.Log.Syslog {
		if err := logger.InitSyslog("colorchecker"); err != nil {
			log.Warn().Err(err).Msg("Syslog unavailable, logging to stdout only")
		}
	}
	log.Info().Str("path", mgr.GetConfigPath()).Str("level", cfg.Log.Level).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params := cfg.Parameters

	// Frame provider
	dev, err := capture.OpenDevice(capture.DeviceOptions{
		Source: cfg.Stream.Source,
		Device: cfg.Stream.Device,
		FPS:    cfg.Stream.FPS,
		Color:  color.RGBA{R: uint8(params.ColorR), G: uint8(params.ColorG), B: uint8(params.ColorB), A: 0xff},
		Origin: image.Pt(cfg.Stream.OriginX, cfg.Stream.OriginY),
	})
	if err != nil {
		return fmt.Errorf("failed to open capture device: %w", err)
	}
	provider, err := capture.Start(ctx, dev, capture.StreamConfig{
		Width:   cfg.Stream.Width,
		Height:  cfg.Stream.Height,
		Format:  capture.FormatNV12,
		Buffers: cfg.Stream.Buffers,
	}, cfg.Stream.KeepFrames)
	if err != nil {
		dev.Close()
		return err
	}
	stream := provider.Config()
	if err := mgr.SetResolution(stream.Width, stream.Height); err != nil {
		provider.Stop()
		return fmt.Errorf("failed to store resolution: %w", err)
	}

	// Fieldbus server
	fb := fieldbus.New(fieldbus.Options{
		MinRefresh: time.Duration(cfg.Fieldbus.MinRefreshMS) * time.Millisecond,
		MaxClients: uint(cfg.Fieldbus.MaxClients),
	})
	if cfg.Fieldbus.Enabled {
		if err := fb.Start(params.Port); err != nil {
			provider.Stop()
			return fmt.Errorf("failed to start fieldbus server: %w", err)
		}
	}

	// Event bus
	hub := events.NewHub()
	publishers := []events.Publisher{hub}
	var mq *events.MQTTPublisher
	if cfg.MQTT.Broker != "" {
		mq = events.NewMQTTPublisher(events.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
		})
		mq.Connect()
		publishers = append(publishers, mq)
	}
	bus := events.NewBus(events.Topic, publishers...)

	// Preview
	mjpeg := output.NewMJPEGOutput(output.Config{
		Width:   cfg.Preview.Width,
		FPS:     cfg.Preview.FPS,
		Quality: cfg.Preview.Quality,
	})
	preview := output.NewPreview(mjpeg, overlay.NewDefaultManager(), cfg.Preview.FPS)

	deps := analysis.Deps{
		Source: provider,
		Values: fb,
		Events: bus,
		Store:  mgr,
	}
	if cfg.Fieldbus.Enabled {
		deps.Restarter = fb
	}
	if cfg.Preview.Enabled {
		if err := mjpeg.Start(); err != nil {
			log.Warn().Err(err).Msg("Preview output not started")
		}
		deps.Preview = preview
	}
	engine := analysis.New(deps, analysis.SettingsFrom(mgr.Parameters()), image.Pt(stream.Width, stream.Height))

	if err := mgr.OnChange(config.AllParameters, engine.HandleParameter); err != nil {
		provider.Stop()
		return err
	}

	apiOpts := api.Options{
		AdminToken: cfg.HTTP.AdminToken,
		Hub:        hub,
		Fieldbus:   fb.Timestamp,
		Stats: func() any {
			st := map[string]any{
				"provider":        provider.Stats(),
				"preview":         preview.Stats(),
				"mjpeg":           mjpeg.Stats(),
				"events_sent":     bus.Sent(),
				"hub_subscribers": hub.Subscribers(),
				"ticks":           engine.Snapshot().Ticks,
				"fieldbus":        fb.IsRunning(),
			}
			if mq != nil {
				published, failed := mq.Stats()
				st["mqtt"] = map[string]uint64{"published": published, "failed": failed}
			}
			return st
		},
	}
	if cfg.Preview.Enabled {
		apiOpts.Stream = mjpeg.GetHTTPHandler()
	}
	server := api.NewServer(engine, mgr, apiOpts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return mgr.Watch(gctx) })
	if cfg.Preview.Enabled {
		g.Go(func() error { return preview.Run(gctx) })
	}
	g.Go(func() error {
		if err := server.Start(cfg.HTTP.Port); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := multierr.Combine(
			server.Shutdown(shutdownCtx),
			provider.Stop(),
			fb.Stop(),
			mjpeg.Stop(),
		)
		if mq != nil {
			mq.Close()
		}
		return err
	})

	log.Info().
		Int("http_port", cfg.HTTP.Port).
		Int("fieldbus_port", params.Port).
		Int("width", stream.Width).
		Int("height", stream.Height).
		Str("source", cfg.Stream.Source).
		Msg("ColorChecker is running")

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Service stopped with error")
		return err
	}
	log.Info().Msg("Service stopped")
	return nil
}
