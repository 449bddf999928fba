// lobbylink keeps a game server advertised on a remote lobby service.
//
// It holds one TCP link to the lobby, performs the version handshake,
// republishes the server's name, player count and addresses whenever they
// change, and deregisters the server on shutdown. A REST API, an operator
// console, Prometheus metrics, MQTT telemetry and a sqlite event journal
// sit around the link.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbylink/internal/api"
	"github.com/energizer-project/lobbylink/internal/cli"
	"github.com/energizer-project/lobbylink/internal/config"
	"github.com/energizer-project/lobbylink/internal/db"
	"github.com/energizer-project/lobbylink/internal/events"
	"github.com/energizer-project/lobbylink/internal/health"
	"github.com/energizer-project/lobbylink/internal/lobby"
	"github.com/energizer-project/lobbylink/internal/metrics"
	"github.com/energizer-project/lobbylink/internal/scheduler"
	"github.com/energizer-project/lobbylink/internal/server"
	"github.com/energizer-project/lobbylink/internal/telemetry"
	"github.com/energizer-project/lobbylink/internal/util"
)

const (
	AppName    = "lobbylink"
	AppVersion = "1.0.0"
	Banner     = `
  _       _     _           _ _       _
 | | ___ | |__ | |__  _   _| (_)_ __ | | __
 | |/ _ \| '_ \| '_ \| | | | | | '_ \| |/ /
 | | (_) | |_) | |_) | |_| | | | | | |   <
 |_|\___/|_.__/|_.__/ \__, |_|_|_| |_|_|\_\
                      |___/  v%s
 Lobby advertisement link
`

	// stopTimeout bounds how long shutdown waits for the link to deregister.
	stopTimeout = 5 * time.Second
)

func main() {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first; reconfigured once the config is loaded.
	if _, err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting lobbylink")

	configDir := config.DefaultConfigDir
	if dir := os.Getenv("LOBBYLINK_CONFIG_DIR"); dir != "" {
		configDir = dir
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appData := cfg.GetApplicationData()
	logCfg := util.DefaultLogConfig()
	logCfg.Level = appData.Logging.Level
	logCfg.Directory = appData.Logging.Directory
	if path, err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	} else {
		log.Debug().Str("file", path).Msg("logging to file")
	}

	validateOrSetup(cfg)

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	linkCfg := cfg.GetLink()
	serverCfg := cfg.GetServer()
	detect := newDetectors(linkCfg, serverCfg)

	eventBus := events.NewEventBus()
	link := lobby.NewLink(linkCfg, eventBus)
	state := server.NewAdvertised(link, serverCfg)

	local, external := resolveAddresses(ctx, serverCfg, detect)
	state.SetLocalIP(local)
	state.SetExternalIP(external)

	// Optional components
	var journal *db.Journal
	if appData.Journal.Enabled {
		journal, err = db.NewJournal(appData.Journal.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open event journal, journaling disabled")
			journal = nil
		} else {
			journal.Attach(eventBus)
		}
	}

	var collector *metrics.Collector
	if appData.Metrics.Enabled {
		collector = metrics.New(link)
		collector.Attach(eventBus)
	}

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(appData.MQTT, eventBus, link, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	healthMgr := health.NewManager(serverCfg, link, state, eventBus, detect)

	var apiServer *api.Server
	if appData.API.Enabled {
		apiServer = api.NewServer(cfg, eventBus, link, state, AppVersion)
		var metricsHandler http.Handler
		if collector != nil {
			metricsHandler = collector.Handler()
		}
		apiServer.SetDependencies(journalOrNil(journal), metricsHandler)
	}

	console := cli.NewCLI(cfg, eventBus, link, state, journalOrNil(journal), os.Stdin, os.Stdout)

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
		return nil
	})

	// The link goes live before anything else so the server shows up as
	// early as possible.
	link.Start()
	state.Publish()

	var wg sync.WaitGroup
	run := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msgf("starting %s", name)
			fn()
		}()
	}

	run("health check manager", func() { healthMgr.Start(ctx) })

	if journal != nil {
		sched := scheduler.NewScheduler(appData.Journal, journal)
		run("task scheduler", func() { sched.Start(ctx) })
	}

	if mqttHandler != nil {
		run("MQTT telemetry", func() {
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		})
	}

	if apiServer != nil {
		run("REST API server", func() {
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		})
	}

	// The console is not waited on: a blocked stdin read must not hold up
	// shutdown.
	go console.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Deregister from the lobby while the rest is still up.
	link.Stop()
	select {
	case <-link.Done():
		log.Info().Msg("lobby link stopped")
	case <-time.After(stopTimeout):
		log.Warn().Dur("timeout", stopTimeout).Msg("lobby link did not stop in time")
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Handlers may still be writing to the journal until the bus drains.
	eventBus.Stop()
	if journal != nil {
		if err := journal.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close event journal")
		}
	}

	log.Info().Msg("lobbylink stopped")
}

// journalOrNil keeps a nil *db.Journal from becoming a non-nil interface.
func journalOrNil(j *db.Journal) api.EventLog {
	if j == nil {
		return nil
	}
	return j
}

// validateOrSetup logs validation findings, runs the setup wizard on first
// run and exits when the configuration is still unusable.
func validateOrSetup(cfg *config.Config) {
	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if validation.IsValid() {
		return
	}

	for _, e := range validation.Errors {
		log.Error().Str("field", e.Field).Msg(e.Message)
	}
	if !cfg.IsFirstRun() {
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	log.Info().Msg("first run detected, launching setup wizard")
	if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("setup wizard failed")
	}
	if result := config.Validate(cfg); !result.IsValid() {
		for _, e := range result.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration is still invalid after setup")
	}
}

// newDetectors builds the address lookups used at startup and by the
// health manager.
func newDetectors(linkCfg config.LinkConfig, serverCfg config.ServerConfig) health.Detectors {
	return health.Detectors{
		Local: func(context.Context) (netip.Addr, error) {
			return util.DetectRouteIP(linkCfg.RemoteAddress)
		},
		External: func(ctx context.Context) (netip.Addr, error) {
			ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return util.DetectPublicIP(ctx, serverCfg.PublicIPServices)
		},
	}
}

// resolveAddresses picks the local and external IP to advertise. Configured
// values win. A public local address doubles as the external one; a
// private one triggers a public IP lookup, and if that fails the local
// address is advertised for both.
func resolveAddresses(ctx context.Context, cfg config.ServerConfig, detect health.Detectors) (local, external netip.Addr) {
	if ip, err := netip.ParseAddr(cfg.LocalIP); err == nil {
		local = ip.Unmap()
		log.Info().Str("local_ip", local.String()).Msg("using configured local IP")
	} else if detect.Local != nil {
		ip, err := detect.Local(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("local IP detection failed, set server.local_ip in config")
		} else {
			local = ip
			log.Info().Str("local_ip", local.String()).Msg("auto-detected local IP")
		}
	}

	if ip, err := netip.ParseAddr(cfg.ExternalIP); err == nil {
		external = ip.Unmap()
		log.Info().Str("external_ip", external.String()).Msg("using configured external IP")
		return local, external
	}

	if local.IsValid() && !util.IsPrivateIP(local) {
		return local, local
	}

	if detect.External != nil {
		ip, err := detect.External(ctx)
		if err == nil {
			log.Info().
				Str("local_ip", local.String()).
				Str("external_ip", ip.String()).
				Msg("using public IP (local IP is private)")
			return local, ip
		}
		log.Warn().Err(err).Msg("public IP detection failed, lobby clients outside this network may not reach the server")
	}
	return local, local
}

// startWithRetry retries startFn on bind errors at a fixed 3 second
// interval. It returns nil on success or the last error.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
