// Command regbind-sim serves a simulated register target over TCP.
//
// The target is described by a symbol table. Every register starts at zero;
// readonly and const registers reject writes just like on hardware. The
// server can advertise itself over mDNS so that regbind-console finds it
// without an address.
//
// Usage:
//
//	regbind-sim [flags]
//
// Flags:
//
//	-config string      Configuration file path (TOML, YAML or JSON)
//	-symbols string     Symbol table file (required unless set in the config)
//	-listen string      Listen address (default ":7450")
//	-latency duration   Added delay per register access
//	-max-multi int      Cap on multi-register reads, negative disables them
//	-advertise          Advertise over mDNS
//	-name string        Probe name for mDNS
//	-tick string        Register incremented on every tick, e.g. periph.COUNTER
//	-tick-interval dur  Tick period (default 1s)
//	-log-level string   Log level: debug, info, warn, error (default "info")
//	-event-log string   Capture protocol events to an .rlog file
//
// Examples:
//
//	# Serve a target and announce it on the LAN
//	regbind-sim -symbols mcu.yaml -advertise -name bench
//
//	# Slow target with no multi-register reads
//	regbind-sim -symbols mcu.yaml -latency 20ms -max-multi -1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/regbind/regbind-go/internal/config"
	"github.com/regbind/regbind-go/pkg/discovery"
	"github.com/regbind/regbind-go/pkg/interaction"
	"github.com/regbind/regbind-go/pkg/log"
	"github.com/regbind/regbind-go/pkg/register"
	"github.com/regbind/regbind-go/pkg/sim"
	"github.com/regbind/regbind-go/pkg/transport"
)

type options struct {
	configFile   string
	symbols      string
	listen       string
	latency      time.Duration
	maxMulti     int
	advertise    bool
	name         string
	tick         string
	tickInterval time.Duration
	logLevel     string
	eventLog     string
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "Configuration file path")
	flag.StringVar(&opts.symbols, "symbols", "", "Symbol table file")
	flag.StringVar(&opts.listen, "listen", "", "Listen address (default \":7450\")")
	flag.DurationVar(&opts.latency, "latency", 0, "Added delay per register access")
	flag.IntVar(&opts.maxMulti, "max-multi", 0, "Cap on multi-register reads, negative disables them")
	flag.BoolVar(&opts.advertise, "advertise", false, "Advertise over mDNS")
	flag.StringVar(&opts.name, "name", "", "Probe name for mDNS")
	flag.StringVar(&opts.tick, "tick", "", "Register incremented on every tick (group.NAME or NAME)")
	flag.DurationVar(&opts.tickInterval, "tick-interval", time.Second, "Tick period")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&opts.eventLog, "event-log", "", "Capture protocol events to an .rlog file")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "regbind-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	applyFlags(&cfg, opts)

	logger, err := setupLogging(cfg.Log.Level)
	if err != nil {
		return err
	}
	if cfg.Symbols.Path == "" {
		return errors.New("no symbol table: use -symbols or symbols.path")
	}

	st, err := register.LoadSymbols(cfg.Symbols.Path)
	if err != nil {
		return err
	}

	events, closeEvents, err := openEventLog(cfg.Log.EventFile, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	mem := sim.New(st, sim.Config{Latency: cfg.Sim.Latency, Logger: logger})
	mem.OnWrite(func(reg *register.Register, core int, v uint64) {
		logger.Debug("value changed", "register", reg.String(), "core", core, "value", fmt.Sprintf("%#x", v))
	})

	handler := interaction.NewServer(interaction.ServerConfig{
		Backend:       mem,
		MaxMultiCount: cfg.Sim.MaxMulti,
		Logger:        logger,
		EventLogger:   events,
	})

	srv := transport.NewServer(transport.ServerConfig{
		Address:   cfg.Sim.Listen,
		Logger:    events,
		OnMessage: handler.OnMessage,
		OnConnect: func(conn *transport.ServerConn) {
			logger.Info("console connected", "remote", conn.RemoteAddr(), "conn", conn.ConnID())
		},
		OnDisconnect: func(conn *transport.ServerConn) {
			logger.Info("console disconnected", "remote", conn.RemoteAddr(), "conn", conn.ConnID())
		},
		OnError: func(conn *transport.ServerConn, err error) {
			logger.Warn("connection error", "error", err)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = srv.Stop() }()

	logger.Info("serving simulated target",
		"target", mem.Name(),
		"cores", mem.Cores(),
		"registers", len(st.Registers()),
		"address", srv.Addr().String())

	if cfg.Sim.Advertise {
		adv := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
		info := probeInfo(cfg, st, srv)
		if err := adv.Advertise(ctx, info); err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			logger.Info("advertising", "service", discovery.ServiceType, "instance", info.InstanceName(), "id", info.ID)
			defer adv.StopAll()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.tick != "" {
		reg, err := lookupRegister(st, opts.tick)
		if err != nil {
			return err
		}
		g.Go(func() error {
			runTicker(gctx, mem, reg, opts.tickInterval, logger)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	_ = g.Wait()

	logger.Info("shutting down", "stats", fmt.Sprintf("%+v", mem.Stats()))
	return nil
}

func applyFlags(cfg *config.Config, opts options) {
	if opts.symbols != "" {
		cfg.Symbols.Path = opts.symbols
	}
	if opts.listen != "" {
		cfg.Sim.Listen = opts.listen
	}
	if opts.latency > 0 {
		cfg.Sim.Latency = opts.latency
	}
	if opts.maxMulti != 0 {
		cfg.Sim.MaxMulti = opts.maxMulti
	}
	if opts.advertise {
		cfg.Sim.Advertise = true
	}
	if opts.name != "" {
		cfg.Sim.Name = opts.name
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.eventLog != "" {
		cfg.Log.EventFile = opts.eventLog
	}
}

func setupLogging(level string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger, nil
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

func probeInfo(cfg config.Config, st *register.SymbolTable, srv *transport.Server) *discovery.ProbeInfo {
	port := uint16(discovery.DefaultPort)
	if addr, ok := srv.Addr().(interface{ AddrPort() netip.AddrPort }); ok {
		port = addr.AddrPort().Port()
	}
	return &discovery.ProbeInfo{
		ID:     uuid.NewString()[:8],
		Name:   cfg.Sim.Name,
		Target: st.Target(),
		Groups: st.Groups(),
		Cores:  st.Cores(),
		Port:   port,
	}
}
