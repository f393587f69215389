// Command lantern hosts a renderer session: it loads config, starts the
// selected engine binding and drives it from an interactive shell, the
// message bus and the diagnostics server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/lantern/pkg/browser"
	"github.com/odvcencio/lantern/pkg/browser/adapters/headless"
	"github.com/odvcencio/lantern/pkg/browser/adapters/servo"
	"github.com/odvcencio/lantern/pkg/bus"
	"github.com/odvcencio/lantern/pkg/config"
	"github.com/odvcencio/lantern/pkg/diagnostics"
	"github.com/odvcencio/lantern/pkg/logging"
	"github.com/odvcencio/lantern/pkg/storage"
	"github.com/odvcencio/lantern/pkg/telemetry"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// shutdownGrace is added to the renderer's own shutdown timeout so the
// renderer, not the caller's context, reports the timeout.
const shutdownGrace = time.Second

type options struct {
	configPath  string
	engine      string
	url         string
	metricsAddr string
	interactive bool
	showVersion bool
}

// loadConfigFn allows tests to stub config loading.
var loadConfigFn = func(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitUsage)
	}
	if opts.showVersion {
		fmt.Printf("lantern %s (%s, %s)\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeForError(err))
	}
}

func parseOptions(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("lantern", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to a config file (default: ~/.lantern and ./.lantern layering)")
	fs.StringVar(&opts.engine, "engine", "", "engine binding: headless or servo")
	fs.StringVar(&opts.url, "url", "", "location opened in the first view")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "diagnostics listen address; \"off\" disables it")
	fs.BoolVar(&opts.interactive, "interactive", true, "read commands from stdin")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return opts, nil
}

// loadConfig loads config and applies flag overrides on top.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := loadConfigFn(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.engine != "" {
		cfg.Engine.Kind = strings.ToLower(strings.TrimSpace(opts.engine))
	}
	if opts.url != "" {
		cfg.Renderer.InitialLocation = opts.url
	}
	switch strings.ToLower(strings.TrimSpace(opts.metricsAddr)) {
	case "":
	case "off", "none":
		cfg.Telemetry.MetricsAddr = ""
	default:
		cfg.Telemetry.MetricsAddr = opts.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// watchPath returns the file the config watcher follows, or "" when there
// is nothing on disk to follow.
func watchPath(opts *options) string {
	if opts.configPath != "" {
		return opts.configPath
	}
	project := filepath.Join(".", config.DirName, "config.yaml")
	if _, err := os.Stat(project); err == nil {
		return project
	}
	return ""
}

func newEngine(cfg *config.Config, log *logging.Logger) (browser.Engine, error) {
	switch cfg.Engine.Kind {
	case config.EngineServo:
		eng, err := servo.NewEngine(cfg.ServoConfig(), servo.WithLogger(log))
		if err != nil {
			return nil, err
		}
		return eng, nil
	case config.EngineHeadless:
		client := &http.Client{Timeout: cfg.Engine.FetchTimeout}
		return headless.NewEngine(headless.WithHTTPClient(client), headless.WithLogger(log)), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine.Kind)
	}
}

func run(ctx context.Context, opts *options, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return withExitCode(err, exitConfig)
	}

	log := logging.New("lantern", logging.ParseLevel(cfg.Logging.Level), stderr)
	for _, warning := range cfg.ValidationWarnings() {
		log.Warn("config warning", "warning", warning)
	}

	if cfg.Telemetry.Tracing {
		tp, err := telemetry.NewTracerProvider("lantern", stderr)
		if err != nil {
			return withExitCode(err, exitConfig)
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	var store *storage.Store
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.StoragePath())
		if err != nil {
			return withExitCode(fmt.Errorf("open storage: %w", err), exitConfig)
		}
		defer store.Close()
	}

	hub := telemetry.NewHub()
	defer hub.Close()

	msgBus, err := bus.New(cfg.BusConfig())
	if err != nil {
		return withExitCode(fmt.Errorf("connect bus: %w", err), exitConfig)
	}
	defer msgBus.Close()

	engine, err := newEngine(cfg, log.WithComponent("engine"))
	if err != nil {
		return withExitCode(err, exitEngine)
	}

	renderer := browser.NewRenderer(engine, browser.WithLogger(log), browser.WithHub(hub))
	if err := renderer.Initialize(ctx, cfg.BrowserConfig()); err != nil {
		return withExitCode(fmt.Errorf("initialize renderer: %w", err), exitEngine)
	}

	sh := newShell(renderer, store, stdout)
	collector := diagnostics.NewCollector()
	collector.Subscribe(hub)
	defer collector.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	loop := browser.NewLoop(renderer,
		browser.WithFrameRate(cfg.Renderer.FrameRate),
		browser.WithIdleTick(cfg.Renderer.IdleTick),
		browser.WithOnTick(sh.notify),
		browser.WithLoopLogger(log),
	)
	g.Go(func() error {
		if err := loop.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if store != nil {
		recorder := storage.NewRecorder(store, log)
		g.Go(func() error { return recorder.Run(gctx, hub) })
	}

	bridge := bus.NewBridge(msgBus, cfg.Bus.SubjectPrefix, log)
	g.Go(func() error { return bridge.Run(gctx, hub) })

	var controlSub bus.Subscription
	if cfg.Bus.Control {
		control := bus.NewControl(msgBus, renderer, cfg.Bus.SubjectPrefix, log)
		controlSub, err = control.Start(gctx)
		if err != nil {
			cancel()
			_ = g.Wait()
			return shutdownRenderer(renderer, cfg, log, withExitCode(fmt.Errorf("start bus control: %w", err), exitConfig))
		}
		log.Info("bus control listening", "subject", control.Subject())
	}

	if addr := strings.TrimSpace(cfg.Telemetry.MetricsAddr); addr != "" {
		var pinger diagnostics.Pinger
		if store != nil {
			pinger = store
		}
		router := diagnostics.NewRouter(diagnostics.NewChecker(renderer, pinger), collector, renderer)
		g.Go(func() error { return diagnostics.Serve(gctx, addr, router, log) })
	}

	if path := watchPath(opts); path != "" {
		g.Go(func() error {
			return config.Watch(gctx, path, func(next *config.Config) {
				applyReload(gctx, renderer, log, hub, cfg, next)
			}, func(err error) {
				log.Warn("config reload failed", "path", path, "error", err)
			})
		})
	}

	// The first view opens the configured initial location.
	if id, err := renderer.CreateView(gctx, ""); err != nil {
		log.Warn("open initial view failed", "error", err)
	} else {
		sh.setCurrent(id)
	}

	if opts.interactive {
		g.Go(func() error {
			defer cancel()
			return sh.Run(gctx, stdin)
		})
	}

	runErr := g.Wait()
	if controlSub != nil {
		_ = controlSub.Unsubscribe()
	}
	return shutdownRenderer(renderer, cfg, log, runErr)
}

// shutdownRenderer tears the session down and joins its error with cause.
func shutdownRenderer(r *browser.Renderer, cfg *config.Config, log *logging.Logger, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Renderer.ShutdownTimeout+shutdownGrace)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		log.Error("renderer shutdown", "error", err)
		return errors.Join(cause, err)
	}
	log.Info("renderer stopped")
	return cause
}

// applyReload applies the settings that can change without a restart: the
// log level and the viewport of every open view.
func applyReload(ctx context.Context, r *browser.Renderer, log *logging.Logger, hub *telemetry.Hub, current, next *config.Config) {
	log.SetLevel(logging.ParseLevel(next.Logging.Level))

	vp := next.BrowserConfig().Viewport
	if vp != current.BrowserConfig().Viewport {
		for _, id := range r.Views() {
			if err := r.Resize(ctx, id, vp); err != nil {
				log.Warn("resize on reload failed", "view", string(id), "error", err)
			}
		}
	}
	current.Logging = next.Logging
	current.Renderer.Width = next.Renderer.Width
	current.Renderer.Height = next.Renderer.Height
	current.Renderer.DeviceScaleFactor = next.Renderer.DeviceScaleFactor

	hub.Publish(telemetry.Event{
		Type: telemetry.EventConfigReloaded,
		Data: map[string]any{"log_level": next.Logging.Level, "viewport": vp.String()},
	})
	log.Info("config reloaded", "log_level", next.Logging.Level, "viewport", vp.String())
}
