// Command regbind-console binds every register of a target and offers an
// interactive console over the bindings.
//
// The probe is reached at -addr, or discovered over mDNS when no address is
// given. Bindings are polled in the background; the link is re-established
// automatically and bindings are halted while it is down.
//
// Usage:
//
//	regbind-console [flags]
//
// Flags:
//
//	-config string      Configuration file path (TOML, YAML or JSON)
//	-symbols string     Symbol table file (required unless set in the config)
//	-addr string        Probe address host:port (empty browses mDNS)
//	-probe string       Probe ID to pick when browsing
//	-timeout duration   Request timeout (default 5s)
//	-poll duration      Poll interval, 0 disables polling (default 1s)
//	-max-ops float      Cap on binding reads started per second
//	-hold-writes        Keep writes local while the probe is unreachable
//	-metrics string     Serve Prometheus metrics on this address
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-event-log string   Capture protocol events to an .rlog file
//
// Examples:
//
//	# Connect to a known probe
//	regbind-console -symbols mcu.yaml -addr 192.168.1.40:7450
//
//	# Find the probe on the LAN and expose metrics
//	regbind-console -symbols mcu.yaml -metrics :9090
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/regbind/regbind-go/cmd/regbind-console/interactive"
	"github.com/regbind/regbind-go/internal/config"
	"github.com/regbind/regbind-go/pkg/connection"
	"github.com/regbind/regbind-go/pkg/discovery"
	"github.com/regbind/regbind-go/pkg/interaction"
	"github.com/regbind/regbind-go/pkg/log"
	"github.com/regbind/regbind-go/pkg/metrics"
	"github.com/regbind/regbind-go/pkg/refresh"
	"github.com/regbind/regbind-go/pkg/register"
)

type options struct {
	configFile string
	symbols    string
	addr       string
	probe      string
	timeout    time.Duration
	poll       time.Duration
	pollSet    bool
	maxOps     float64
	holdWrites bool
	metrics    string
	logLevel   string
	eventLog   string
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "Configuration file path")
	flag.StringVar(&opts.symbols, "symbols", "", "Symbol table file")
	flag.StringVar(&opts.addr, "addr", "", "Probe address host:port (empty browses mDNS)")
	flag.StringVar(&opts.probe, "probe", "", "Probe ID to pick when browsing")
	flag.DurationVar(&opts.timeout, "timeout", 0, "Request timeout (default 5s)")
	flag.DurationVar(&opts.poll, "poll", 0, "Poll interval, 0 disables polling (default 1s)")
	flag.Float64Var(&opts.maxOps, "max-ops", 0, "Cap on binding reads started per second")
	flag.BoolVar(&opts.holdWrites, "hold-writes", false, "Keep writes local while the probe is unreachable")
	flag.StringVar(&opts.metrics, "metrics", "", "Serve Prometheus metrics on this address")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&opts.eventLog, "event-log", "", "Capture protocol events to an .rlog file")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "poll" {
			opts.pollSet = true
		}
	})

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "regbind-console: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	applyFlags(&cfg, opts)

	if cfg.Symbols.Path == "" {
		return errors.New("no symbol table: use -symbols or symbols.path")
	}
	st, err := register.LoadSymbols(cfg.Symbols.Path)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lvl, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	console, err := interactive.New()
	if err != nil {
		return err
	}
	// Logs go through readline so they do not garble the prompt.
	logger := slog.New(slog.NewTextHandler(console.Stdout(), &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	events, closeEvents, err := openEventLog(cfg.Log.EventFile, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	registry := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(registry)
	if err != nil {
		return err
	}
	if cfg.Metrics.Listen != "" {
		ms := metrics.NewServer(cfg.Metrics.Listen, registry)
		if err := ms.Start(); err != nil {
			return err
		}
		logger.Info("serving metrics", "address", ms.Addr().String())
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			_ = ms.Stop(sctx)
		}()
	}

	address := cfg.Target.Address
	if address == "" {
		address, err = discover(ctx, cfg.Target.ProbeID, st.Target(), logger)
		if err != nil {
			return err
		}
	}

	session := interactive.NewSession(interactive.SessionConfig{
		Address: address,
		Symbols: st,
		Client: interaction.Config{
			Timeout:   cfg.Target.Timeout,
			KeepAlive: interaction.DefaultConfig().KeepAlive,
		},
		Connection: connection.DefaultConfig(),
		HoldWrites: cfg.Target.HoldWrites,
		Poll: refresh.Config{
			Interval:        cfg.Poll.Interval,
			MaxOpsPerSecond: cfg.Poll.MaxOps,
		},
		Logger:      logger,
		EventLogger: events,
		Metrics:     collector,
	})
	if err := session.Start(ctx); err != nil {
		session.Close()
		return err
	}
	defer session.Close()

	console.Attach(session)
	console.Run(ctx, cancel)
	return nil
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.symbols != "" {
		cfg.Symbols.Path = opts.symbols
	}
	if opts.addr != "" {
		cfg.Target.Address = opts.addr
	}
	if opts.probe != "" {
		cfg.Target.ProbeID = opts.probe
	}
	if opts.timeout > 0 {
		cfg.Target.Timeout = opts.timeout
	}
	if opts.pollSet {
		cfg.Poll.Interval = opts.poll
	}
	if opts.maxOps > 0 {
		cfg.Poll.MaxOps = opts.maxOps
	}
	if opts.holdWrites {
		cfg.Target.HoldWrites = true
	}
	if opts.metrics != "" {
		cfg.Metrics.Listen = opts.metrics
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.eventLog != "" {
		cfg.Log.EventFile = opts.eventLog
	}
}

// discover browses mDNS for a probe. With an ID it waits for that probe;
// otherwise it takes the only probe serving target, or fails when there is
// more than one.
func discover(ctx context.Context, id, target string, logger *slog.Logger) (string, error) {
	browser := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	defer browser.Stop()

	logger.Info("browsing for probes", "service", discovery.ServiceType, "id", id, "target", target)
	if id != "" {
		svc, err := browser.Find(ctx, id)
		if err != nil {
			return "", err
		}
		logger.Info("found probe", "probe", svc.DisplayName(), "address", svc.Address())
		return svc.Address(), nil
	}

	all, err := browser.FindAll(ctx)
	if err != nil {
		return "", err
	}
	if target != "" {
		all = discovery.FilterBrowseResults(all, discovery.FilterByTarget(target))
	}
	switch len(all) {
	case 0:
		return "", discovery.ErrNotFound
	case 1:
		logger.Info("found probe", "probe", all[0].DisplayName(), "address", all[0].Address())
		return all[0].Address(), nil
	default:
		for _, svc := range all {
			logger.Info("probe available", "id", svc.ID, "probe", svc.DisplayName(), "address", svc.Address())
		}
		return "", fmt.Errorf("%d probes found, pick one with -probe", len(all))
	}
}

// openEventLog opens the capture file, or returns a no-op logger when path
// is empty.
func openEventLog(path string, logger *slog.Logger) (log.Logger, func(), error) {
	if path == "" {
		return log.NoopLogger{}, func() {}, nil
	}
	fl, err := log.NewFileLogger(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open event log: %w", err)
	}
	logger.Info("capturing protocol events", "file", path)
	return fl, func() {
		if n := fl.Dropped(); n > 0 {
			logger.Warn("events dropped", "count", n)
		}
		_ = fl.Close()
	}, nil
}
