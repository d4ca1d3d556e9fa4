package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/api"
	"github.com/markus-lassfolk/acsd/pkg/logx"
	"github.com/markus-lassfolk/acsd/pkg/metrics"
	"github.com/markus-lassfolk/acsd/pkg/mqtt"
	"github.com/markus-lassfolk/acsd/pkg/pidfile"
	"github.com/markus-lassfolk/acsd/pkg/regdomain"
	"github.com/markus-lassfolk/acsd/pkg/store"
	"github.com/markus-lassfolk/acsd/pkg/uci"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

var (
	configPath  = flag.String("config", uci.DefaultConfigPath, "Path to UCI or YAML configuration file")
	pidPath     = flag.String("pid-file", "", "Path to PID file (overrides config)")
	logLevel    = flag.String("log-level", "", "Override log level (trace|debug|info|warn|error)")
	version     = flag.Bool("version", false, "Show version information")
	force       = flag.Bool("force", false, "Force start by removing stale PID file")
	detectReg   = flag.Bool("detect-country", false, "Read the country code from 'iw reg get' at start-up")
	checkConfig = flag.Bool("check-config", false, "Validate the configuration and exit")
)

const (
	AppName    = "acsd"
	AppVersion = "1.0.0"

	defaultPIDPath = "/var/run/acsd.pid"
	pruneInterval  = 6 * time.Hour
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	cfg, err := uci.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *checkConfig {
		fmt.Printf("configuration %s is valid\n", *configPath)
		os.Exit(0)
	}

	logger := logx.NewLogger(cfg.LogLevel, AppName)
	logger.SetFormat(cfg.LogFormat)

	path := *pidPath
	if path == "" {
		path = cfg.PIDFile
	}
	if path == "" {
		path = defaultPIDPath
	}
	pidFile := pidfile.New(path)

	running, existingPID, err := pidFile.CheckRunning()
	if err != nil {
		logger.Error("Failed to check for running instance", "error", err)
		os.Exit(1)
	}
	if running {
		if !*force {
			logger.Error("Another instance is already running", "existing_pid", existingPID, "pid_file", path)
			fmt.Fprintf(os.Stderr, "Error: %s is already running with PID %d\n", AppName, existingPID)
			fmt.Fprintf(os.Stderr, "Use --force to override, or stop the existing instance first\n")
			os.Exit(1)
		}
		logger.Warn("Another instance is running, but force flag specified", "existing_pid", existingPID)
		if err := pidFile.ForceRemove(); err != nil {
			logger.Error("Failed to remove existing PID file", "error", err)
			os.Exit(1)
		}
	}
	if err := pidFile.Create(); err != nil {
		logger.Error("Failed to create PID file", "error", err, "path", path)
		os.Exit(1)
	}

	logger.Info("Starting acsd", "version", AppVersion, "pid", os.Getpid(), "pid_file", path, "selector", cfg.Selector)

	code := 0
	if err := run(cfg, logger); err != nil {
		logger.Error("acsd stopped with error", "error", err)
		code = 1
	}
	if err := pidFile.Remove(); err != nil {
		logger.Error("Failed to remove PID file", "error", err)
	}
	logger.Info("acsd stopped")
	os.Exit(code)
}

// daemon holds everything run wires together
type daemon struct {
	cfg     *uci.Config
	logger  *logx.Logger
	reg     *regdomain.Regulatory
	policy  *regdomain.StaticPolicy
	metrics *metrics.Collector
	mqtt    *mqtt.Client
	app     *acs.AppSelector
	state   *store.StateStore
	history *store.HistoryDB
	engine  *acs.Engine
}

func run(cfg *uci.Config, logger *logx.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	g, gctx := errgroup.WithContext(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					d.reload()
					continue
				}
				logger.Info("Received shutdown signal", "signal", sig.String())
				cancel()
				return nil
			}
		}
	})

	if cfg.API.Enabled {
		srv := d.apiServer()
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if cfg.Scheduler.NightlyEnabled {
		sched := wifi.NewScheduler(d.engine, logger.With("component", "scheduler"), &cfg.Scheduler)
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			sched.Stop()
			return nil
		})
	}

	if d.history != nil {
		g.Go(func() error {
			d.pruneLoop(gctx)
			return nil
		})
	}

	d.startRadios(gctx)

	return g.Wait()
}

func newDaemon(ctx context.Context, cfg *uci.Config, logger *logx.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger}

	country := cfg.Country
	if *detectReg {
		detected, err := regdomain.DetectCountry(ctx)
		if err != nil {
			logger.Warn("Failed to detect country, using configured value", "error", err, "country", country)
		} else {
			country = detected
		}
	}
	d.reg = regdomain.NewRegulatory(country, cfg.AllowDFS, cfg.DisabledChannels)
	d.reg.SetNOLDuration(time.Duration(cfg.NOLMinutes) * time.Minute)
	cc, domain := d.reg.Country()
	logger.Info("Regulatory domain", "country", cc, "domain", domain, "allow_dfs", cfg.AllowDFS)

	d.policy = regdomain.NewStaticPolicy(cfg.PCL.Entries, cfg.UnsafeChannels, cfg.ForceSCC, regdomain.NewConnectionTable())

	nonDBS, err := uci.WidthList(cfg.WidthCapNonDBS)
	if err != nil {
		return nil, err
	}
	dbs, err := uci.WidthList(cfg.WidthCapDBS)
	if err != nil {
		return nil, err
	}
	fwMode := acs.FirmwareNonDBS
	if cfg.DBSMode {
		fwMode = acs.FirmwareDBS
	}
	caps := regdomain.NewStaticCapabilities(fwMode, nonDBS, dbs, cfg.HESupported)

	d.metrics, err = metrics.NewCollector(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	sinks := acs.MultiSink{}

	if cfg.Storage.StatePath != "" {
		d.state, err = store.OpenState(cfg.Storage.StatePath, logger.With("component", "state"))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d.state)
	}
	if cfg.Storage.HistoryEnabled && cfg.Storage.HistoryPath != "" {
		d.history, err = store.OpenHistory(cfg.Storage.HistoryPath, logger.With("component", "history"))
		if err != nil {
			d.close()
			return nil, err
		}
		sinks = append(sinks, d.history)
	}

	if cfg.MQTT.Enabled {
		d.mqtt = mqtt.NewClient(&mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Port:        cfg.MQTT.Port,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Retain:      cfg.MQTT.Retain,
			Enabled:     true,
		}, logger.With("component", "mqtt"))
		sinks = append(sinks, d.mqtt)
	}

	selector, err := d.selector()
	if err != nil {
		d.close()
		return nil, err
	}

	if d.mqtt != nil {
		if d.app != nil {
			d.mqtt.SetReplyHandler(d.app.Resolve)
		}
		// paho keeps retrying in the background after a failed first attempt
		if err := d.mqtt.Connect(); err != nil {
			logger.Warn("MQTT broker not reachable yet", "error", err, "broker", cfg.MQTT.Broker)
		}
	}

	d.engine = acs.NewEngine(acs.Deps{
		Regulatory:   d.reg,
		Policy:       d.policy,
		Capabilities: caps,
		Selector:     selector,
		Sink:         sinks,
		Logger:       logger.With("component", "engine"),
		Metrics:      d.metrics,
	}, acs.Options{
		Bonding24GHz: cfg.Bonding24GHz,
		FilterUnsafe: cfg.FilterUnsafe,
		PCLMode:      cfg.PCLMode(),
	})

	if d.state != nil {
		n, err := d.state.RestoreInto(d.engine)
		if err != nil {
			logger.Warn("Failed to restore persisted selections", "error", err)
		} else if n > 0 {
			logger.Info("Restored persisted selections", "count", n)
		}
	}

	return d, nil
}

func (d *daemon) selector() (acs.Selector, error) {
	switch d.cfg.Selector {
	case uci.SelectorScan:
		rater := &deviceRater{
			scanner: wifi.NewScanner(nil, d.logger.With("component", "scanner")),
			radios:  d.cfg.Radios,
		}
		return acs.NewScanSelector(rater, time.Duration(d.cfg.ScanTimeoutS)*time.Second, d.logger.With("component", "scan")), nil
	case uci.SelectorExternal:
		if d.mqtt == nil {
			return nil, errors.New("external selector requires mqtt")
		}
		d.app = acs.NewAppSelector(d.mqtt, time.Duration(d.cfg.ExternalTimeoutMS)*time.Millisecond, d.logger.With("component", "external"))
		return d.app, nil
	case uci.SelectorPCL, "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown selector %q", d.cfg.Selector)
}

func (d *daemon) apiServer() *api.Server {
	deps := api.Deps{
		Engine:  d.engine,
		Table:   d.policy.Table(),
		Radar:   d.reg,
		Metrics: d.metrics,
		Logger:  d.logger.With("component", "api"),
	}
	// typed nils must not end up in the interfaces
	if d.app != nil {
		deps.Resolver = d.app
	}
	if d.history != nil {
		deps.History = d.history
	}
	if d.mqtt != nil {
		deps.Events = d.mqtt
	}
	return api.NewServer(deps, &api.Config{
		Listen:   d.cfg.API.Listen,
		APIKey:   d.cfg.API.APIKey,
		AllowEHT: d.cfg.EHTSupported,
	})
}

// startRadios runs DO_ACS for every configured radio that has no restored
// selection. Pending selections finish through the sinks.
func (d *daemon) startRadios(ctx context.Context) {
	ifaces := make([]string, 0, len(d.cfg.Radios))
	for iface := range d.cfg.Radios {
		ifaces = append(ifaces, iface)
	}
	sort.Strings(ifaces)

	for _, iface := range ifaces {
		if st, err := d.engine.Status(iface); err == nil && st.Last != nil {
			d.logger.Debug("Keeping restored selection", "iface", iface, "primary", st.Last.Primary)
			continue
		}
		req := d.cfg.Radios[iface].Request()
		out, err := d.engine.DoACS(ctx, iface, &req)
		if err != nil {
			d.logger.Error("Initial channel selection failed", "iface", iface, "error", err)
			continue
		}
		if out.Pending {
			d.logger.Info("Initial channel selection started", "iface", iface, "job_id", out.JobID)
			continue
		}
		d.logger.Info("Initial channel selection done", "iface", iface, "primary", out.Result.Primary, "width", out.Result.Width)
	}
}

// reload re-reads channel policy on SIGHUP. Transport and storage settings
// need a restart.
func (d *daemon) reload() {
	cfg, err := uci.LoadConfig(*configPath)
	if err != nil {
		d.logger.Error("Failed to reload configuration", "error", err)
		return
	}
	d.engine.UpdateDevice(func() {
		d.reg.SetCountry(cfg.Country)
		d.reg.SetDisabled(cfg.DisabledChannels)
		d.policy.SetPCL(cfg.PCL.Entries)
		d.policy.SetUnsafe(cfg.UnsafeChannels)
	})
	d.logger.SetLevel(cfg.LogLevel)
	d.logger.Info("Configuration reloaded", "country", cfg.Country, "pcl_entries", len(cfg.PCL.Entries))
}

func (d *daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		if n, err := d.history.Prune(d.cfg.Storage.RetentionDays); err != nil {
			d.logger.Warn("Failed to prune selection history", "error", err)
		} else if n > 0 {
			d.logger.Debug("Pruned selection history", "rows", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *daemon) close() {
	if d.mqtt != nil {
		d.mqtt.Disconnect()
	}
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			d.logger.Warn("Failed to close history database", "error", err)
		}
	}
	if d.state != nil {
		if err := d.state.Close(); err != nil {
			d.logger.Warn("Failed to close state store", "error", err)
		}
	}
}

// deviceRater maps an AP interface to the radio device its scans run on
type deviceRater struct {
	scanner *wifi.Scanner
	radios  map[string]*uci.RadioConfig
}

func (r *deviceRater) RateChannels(ctx context.Context, iface string, candidates []uint32) ([]wifi.ChannelRating, error) {
	device := iface
	if rc, ok := r.radios[iface]; ok && rc.Device != "" {
		device = rc.Device
	}
	return r.scanner.RateChannels(ctx, device, candidates)
}
