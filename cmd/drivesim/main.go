package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ImmersiveDrive/simclient/internal/api"
	"github.com/ImmersiveDrive/simclient/internal/audio"
	"github.com/ImmersiveDrive/simclient/internal/bridge"
	"github.com/ImmersiveDrive/simclient/internal/config"
	"github.com/ImmersiveDrive/simclient/internal/control"
	"github.com/ImmersiveDrive/simclient/internal/display"
	"github.com/ImmersiveDrive/simclient/internal/drive"
	"github.com/ImmersiveDrive/simclient/internal/influx"
	"github.com/ImmersiveDrive/simclient/internal/input/script"
	"github.com/ImmersiveDrive/simclient/internal/logging"
	"github.com/ImmersiveDrive/simclient/internal/monitor"
	intOtel "github.com/ImmersiveDrive/simclient/internal/otel"
	"github.com/ImmersiveDrive/simclient/internal/session"
	"github.com/ImmersiveDrive/simclient/internal/storage"
	"github.com/ImmersiveDrive/simclient/internal/synthetic"
	"github.com/ImmersiveDrive/simclient/internal/timeutil"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

// module defs - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "drivesim"
)

// teardownTimeout bounds Close after the run context is gone.
const teardownTimeout = 10 * time.Second

const uploadTimeout = 2 * time.Minute

// jpegQuality of frames sent to the bridge display.
const jpegQuality = 85

func main() {
	if err := execute(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "drivesim:", err)
		os.Exit(1)
	}
}

func execute(args []string) error {
	fs := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	configDir := fs.String("config", ".", "directory containing "+config.FileName)
	fs.Bool("synthetic", false, "drive the built-in synthetic simulator instead of the bridge")
	fs.Uint64("ticks", 0, "stop after this many ticks (0 runs until quit)")
	fs.String("res", "", "display resolution, WIDTHxHEIGHT")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("bridge", "", "simulator bridge websocket URL")
	fs.String("storage", "", "telemetry backend: "+fmt.Sprint(config.StorageTypes))
	dbPath := fs.String("db", "", "SQLite file read by the sessions and history commands")
	limit := fs.Int("limit", 20, "sessions listed by the sessions command")
	showVersion := fs.Bool("version", false, "print the version and exit")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [run|sessions|history <session-id>...] [flags]\n", AppName)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("%s %s (built %s)\n", AppName, CurrentVersion, BuildDate)
		return nil
	}

	if err := config.Load(*configDir); err != nil {
		return err
	}
	if err := config.BindFlags(fs); err != nil {
		return err
	}
	settings, err := config.Decode()
	if err != nil {
		return err
	}

	cmd, rest := "run", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}
	switch cmd {
	case "run":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, settings)
	case "sessions":
		return listSessions(os.Stdout, settings, *dbPath, *limit)
	case "history":
		if len(rest) == 0 {
			return errors.New("history: no session IDs provided")
		}
		return printHistory(os.Stdout, settings, *dbPath, rest)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// run drives one session and tears everything down in reverse order.
func run(ctx context.Context, settings config.Settings) (err error) {
	sessionStart := time.Now()
	sc := session.NewContext()

	logPath := logging.LogFilePath(settings.LogsDir, AppName, sessionStart)
	logFile, err := logging.OpenLogFile(logPath)
	if err != nil {
		return err
	}
	defer logFile.Close()

	provider, err := intOtel.New(ctx, settings.OTel, logFile, CurrentVersion)
	if err != nil {
		fmt.Fprintln(os.Stderr, "OTel disabled:", err)
		provider = intOtel.Disabled()
	}

	var graylog io.Writer
	if settings.Graylog.Enabled {
		w, gerr := logging.NewGraylogWriter(settings.Graylog.Address, AppName)
		if gerr != nil {
			fmt.Fprintln(os.Stderr, "Graylog disabled:", gerr)
		} else {
			graylog = w
		}
	}

	slogManager := logging.NewSlogManager()
	slogManager.Setup(logging.Options{
		Level:        settings.LogLevel,
		File:         logFile,
		Provider:     provider.LoggerProvider(),
		Graylog:      graylog,
		GraylogLevel: settings.Graylog.Level,
		Context:      sc.Attrs,
	})
	logger := slogManager.Logger()
	slog.SetDefault(logger)
	zl := logging.NewZerolog(logFile, settings.LogLevel)

	logger.Info("Starting up", "version", CurrentVersion, "build", BuildDate,
		"config", config.Used(), "log", logPath, "otel", provider.Enabled())
	if pruned, perr := logging.PruneLogs(settings.LogsDir, AppName, settings.LogsKeep); perr != nil {
		logger.Warn("Pruning old logs failed", "error", perr)
	} else if len(pruned) > 0 {
		logger.Debug("Pruned old logs", "count", len(pruned))
	}
	fmt.Fprintf(os.Stderr, "%s %s logging to %s\n", AppName, CurrentVersion, logPath)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if failed := slogManager.SinkFailures(); len(failed) > 0 {
			fmt.Fprintln(os.Stderr, "Log sinks with failed writes:", failed)
		}
		err = errors.Join(err, provider.Shutdown(shutdownCtx), slogManager.Close(shutdownCtx))
	}()

	var metrics *intOtel.DriveMetrics
	if provider.Enabled() {
		metrics, err = intOtel.NewDriveMetrics(provider.Meter(intOtel.InstrumentationName))
		if err != nil {
			return err
		}
	}

	rig, err := connect(ctx, settings, logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rig.server.Close()) }()

	backend, err := createStorageBackend(settings, sessionStart, logger)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("init %s storage: %w", settings.Storage.Type, err)
	}
	logger.Info("Storage backend initialized", "type", settings.Storage.Type)
	defer func() {
		err = errors.Join(err, backend.Close())
		uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
		defer cancel()
		if uerr := upload(uploadCtx, settings, backend, logger); uerr != nil {
			logger.Error("Upload failed", "error", uerr)
		}
	}()

	var influxManager *influx.Manager
	if settings.Influx.Enabled {
		backup := filepath.Join(settings.LogsDir, fmt.Sprintf("influx_%s.lp.gz", sessionStart.Format("20060102_150405")))
		influxManager = influx.NewManager(zl, settings.Influx, backup)
		if err := influxManager.Connect(ctx); err != nil {
			logger.Warn("InfluxDB unavailable, points are dropped", "error", err)
		}
		defer func() { err = errors.Join(err, influxManager.Close()) }()
	}

	host, _ := os.Hostname()
	s, err := drive.Open(ctx, settings, drive.Dependencies{
		Server:           rig.server,
		Device:           rig.device,
		Player:           rig.player,
		Presenter:        rig.presenter,
		Backend:          backend,
		Influx:           influxManager,
		Metrics:          metrics,
		Session:          sc,
		Clock:            timeutil.RealClock{},
		Logger:           logger,
		DispatcherLogger: logging.NewKV(zl, "dispatcher"),
		Host:             host,
		Version:          CurrentVersion,
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		err = errors.Join(err, s.Close(closeCtx))
	}()

	monitorService := monitor.NewService(monitor.Dependencies{
		Logger:   logger,
		Session:  sc,
		Snapshot: s.Snapshot,
		Backend:  backend,
		Dir:      settings.LogsDir,
	})
	if err := monitorService.Start(); err != nil {
		logger.Warn("Status monitor not started", "error", err)
	} else {
		defer monitorService.Stop()
	}

	return s.Run(ctx)
}

// rig is the simulator side of a session.
type rig struct {
	server    simhost.Server
	device    control.Device
	player    audio.Player
	presenter display.Presenter
}

// connect dials the bridge, or builds the synthetic simulator, and picks the
// input device, audio player and presenter that go with it.
func connect(ctx context.Context, settings config.Settings, logger *slog.Logger) (*rig, error) {
	var r rig
	var client *bridge.Client

	if settings.Sim.Synthetic {
		cfg := synthetic.DefaultConfig(settings.Sim.Seed)
		cfg.Map = settings.Sim.Map
		r.server = synthetic.New(cfg, logger)
		r.player = audio.NewLogPlayer(timeutil.RealClock{}, logger)
		logger.Info("Using synthetic simulator", "seed", cfg.Seed, "map", cfg.Map)
	} else {
		var err error
		client, err = bridge.Dial(ctx, bridge.Config{
			URL:     settings.Sim.URL,
			Map:     settings.Sim.Map,
			Timeout: settings.Sim.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		r.server = client
		r.device = client
		r.player = client
		logger.Info("Connected to simulator bridge", "url", settings.Sim.URL, "map", client.MapName())
	}

	if path := settings.Control.Script; path != "" {
		sc, err := script.Load(path)
		if err != nil {
			return nil, errors.Join(err, r.server.Close())
		}
		r.device = script.NewDevice(sc)
		logger.Info("Replaying input script", "path", path, "ticks", sc.Length())
	}
	if r.device == nil {
		logger.Warn("No input device, the vehicle only moves on autopilot")
		r.device = &control.StaticDevice{}
	}

	switch settings.Display.Presenter {
	case "bridge":
		if client != nil {
			r.presenter = client.Presenter(jpegQuality)
		} else {
			logger.Warn("Bridge presenter needs the bridge, display output discarded")
			r.presenter = display.Discard{}
		}
	case "png":
		r.presenter = display.NewPNGSnapshot(settings.Display.SnapshotPath, settings.Display.SnapshotEvery)
	default:
		r.presenter = display.Discard{}
	}
	return &r, nil
}

// upload sends the exported session file to the results server.
func upload(ctx context.Context, settings config.Settings, backend storage.Backend, logger *slog.Logger) error {
	if !settings.Storage.Upload {
		return nil
	}
	u, ok := backend.(storage.Uploadable)
	if !ok {
		logger.Debug("Storage backend has no export to upload", "type", settings.Storage.Type)
		return nil
	}
	path := u.GetExportedFilePath()
	if path == "" {
		return nil
	}
	meta := u.GetExportMetadata()
	meta.Tag = settings.Tag
	client := api.New(settings.API.ServerURL, settings.API.APIKey)
	if err := client.Healthcheck(ctx); err != nil {
		return fmt.Errorf("results server unavailable, export kept at %s: %w", path, err)
	}
	if err := client.Upload(ctx, path, meta); err != nil {
		return err
	}
	logger.Info("Uploaded session", "session", meta.SessionID, "file", path)
	return nil
}
