// ragol relays and inspects the framed binary protocol spoken by the legacy
// game clients: a TCP relay that decodes every frame in both directions, a
// SQLite capture store, an HTTP inspection API, MQTT telemetry and offline
// decoding tools.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/ragol/internal/api"
	"github.com/energizer-project/ragol/internal/cli"
	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/db"
	"github.com/energizer-project/ragol/internal/events"
	"github.com/energizer-project/ragol/internal/health"
	"github.com/energizer-project/ragol/internal/network"
	"github.com/energizer-project/ragol/internal/scheduler"
	"github.com/energizer-project/ragol/internal/telemetry"
	"github.com/energizer-project/ragol/internal/util"
)

const usage = `usage: ragol <command> [flags]

commands:
  serve      run the relay, capture store, API and telemetry
  decode     decode a file of raw frames and print them
  captures   list frames from the capture store
  version    print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "decode":
		err = runDecode(os.Args[2:])
	case "captures":
		err = runCaptures(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Printf("ragol %s (%s/%s)\n", util.Version, runtime.GOOS, runtime.GOARCH)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ragol: %v\n", err)
		os.Exit(1)
	}
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configDir := fs.String("config", config.DefaultConfigDir, "configuration directory")
	console := fs.Bool("console", false, "attach the interactive console to stdin")
	debug := fs.Bool("debug", false, "debug logging and gin debug mode")
	fs.Parse(args)

	if err := util.InitLogger(util.LogConfig{Level: "info", Console: true}); err != nil {
		return err
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		return err
	}

	logging := cfg.GetLogging()
	logCfg := util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxBackups: logging.MaxBackups,
		Console:    true,
		Trace:      logging.Trace,
	}
	if *debug {
		logCfg.Level = "debug"
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", util.Version).
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Int("cpu_threads", sysInfo.CPUThreads).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("starting ragol")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	defer bus.Stop()

	relayCfg := network.RelayConfigFrom(cfg.GetRelay())
	relay, err := network.NewRelay(relayCfg, bus)
	if err != nil {
		return err
	}

	var captures *db.CaptureStore
	if capCfg := cfg.GetCapture(); capCfg.Enabled {
		captures, err = db.NewCaptureStore(capCfg.Database, capCfg.StoreBodies)
		if err != nil {
			return err
		}
		defer captures.Close()
		captures.Subscribe(bus)
	}

	var sched *scheduler.Scheduler
	if captures != nil {
		if sched, err = scheduler.NewScheduler(cfg.GetCapture(), captures); err != nil {
			return err
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		status := func() any {
			return map[string]any{
				"sessions": relay.Sessions().Count(),
				"variant":  relay.Framer().Variant(),
			}
		}
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, bus, status, cfg.GetCapture().Database)
		if err != nil {
			log.Warn().Err(err).Msg("MQTT telemetry disabled")
		}
	}

	if notifyCfg := cfg.GetNotify(); notifyCfg.Enabled {
		notifier, err := telemetry.NewNotifier(notifyCfg, bus)
		if err != nil {
			log.Warn().Err(err).Msg("webhook notifications disabled")
		} else {
			defer notifier.Close()
		}
	}

	if err := relay.Listen(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return relay.Serve(gctx)
	})

	if apiCfg := cfg.GetAPI(); apiCfg.Enabled {
		deps := api.Deps{Relay: relayCfg, Sessions: relay.Sessions()}
		if captures != nil {
			deps.Captures = captures
		}
		server := api.NewServer(apiCfg, deps, *debug)
		g.Go(func() error {
			if err := server.Start(gctx); err != nil {
				log.Warn().Err(err).Msg("API server stopped (non-fatal)")
			}
			return nil
		})
	}

	if mqttHandler != nil {
		g.Go(func() error {
			if err := mqttHandler.Start(gctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
			return nil
		})
	}

	healthMgr := health.NewManager(cfg.GetHealth(), cfg.GetRelay(), relay.Sessions(), bus, cfg.GetCapture().Database)
	g.Go(func() error {
		healthMgr.Start(gctx)
		return nil
	})

	if sched != nil {
		g.Go(func() error {
			sched.Start(gctx)
			return nil
		})
	}

	if *console {
		var store cli.CaptureSource
		if captures != nil {
			store = captures
		}
		c := cli.NewConsole(relay.Sessions(), store, relay.Framer(), os.Stdout, cancel)
		go c.Start(gctx, os.Stdin)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-gctx.Done():
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err = <-done:
		if err != nil {
			log.Error().Err(err).Msg("relay stopped with error")
		} else {
			log.Info().Msg("all tasks stopped gracefully")
		}
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	log.Info().Msg("ragol stopped")
	return err
}

func runDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	variant := fs.String("variant", config.VariantB, "frame variant: b (little-endian) or a (big-endian legacy)")
	maxBody := fs.Int("max", 0, "largest frame body to accept, 0 for no limit")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: ragol decode [-variant b|a] [-max N] <file>")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}

	if err := util.InitLogger(util.LogConfig{Level: "warn", Console: true}); err != nil {
		return err
	}

	framer, err := network.NewFramer(*variant, *maxBody)
	if err != nil {
		return err
	}
	return cli.DecodeFile(os.Stdout, fs.Arg(0), framer)
}

func runCaptures(args []string) error {
	fs := flag.NewFlagSet("captures", flag.ExitOnError)
	configDir := fs.String("config", config.DefaultConfigDir, "configuration directory")
	dbPath := fs.String("db", "", "capture database, overrides the configured path")
	limit := fs.Int("limit", 50, "number of frames to show")
	session := fs.String("session", "", "only frames of this session")
	stats := fs.Bool("stats", false, "show per-opcode totals instead of frames")
	fs.Parse(args)

	if err := util.InitLogger(util.LogConfig{Level: "warn", Console: true}); err != nil {
		return err
	}

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(*configDir)
		if err != nil {
			return err
		}
		path = cfg.GetCapture().Database
	}
	if !util.FileExists(path) {
		return fmt.Errorf("capture database %s does not exist", path)
	}

	store, err := db.NewCaptureStore(path, true)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *stats {
		counts, err := store.CountByCode(ctx)
		if err != nil {
			return err
		}
		cli.PrintStats(os.Stdout, counts)
		return nil
	}

	captures, err := store.Recent(ctx, *limit, db.Filter{Session: *session})
	if err != nil {
		return err
	}
	cli.PrintCaptures(os.Stdout, captures)
	return nil
}
