package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tartampluch/go-schedule/internal/availability"
	"github.com/tartampluch/go-schedule/internal/config"
	"github.com/tartampluch/go-schedule/internal/engine"
	"github.com/tartampluch/go-schedule/internal/i18n"
	"github.com/tartampluch/go-schedule/internal/refresh"
	"github.com/tartampluch/go-schedule/internal/server"
	"golang.org/x/sync/errgroup"
)

// main is the application entry point.
// It delegates to runMain so deferred calls run before os.Exit.
func main() {
	os.Exit(runMain())
}

// cliOptions holds the parsed command line.
type cliOptions struct {
	configPath string
	once       bool
}

// runMain manages the application lifecycle, argument parsing, and exit codes.
func runMain() int {
	// -------------------------------------------------------------------------
	// 1. CLI Argument Parsing
	// -------------------------------------------------------------------------
	showVersion := flag.Bool(config.FlagVersion, false, config.FlagDescVersion)
	debugMode := flag.Bool(config.FlagDebug, false, config.FlagDescDebug)
	configPath := flag.String(config.FlagConfig, "", config.FlagDescConfig)
	once := flag.Bool(config.FlagOnce, false, config.FlagDescOnce)
	flag.Parse()

	if *showVersion {
		printVersion()
		return config.ExitCodeSuccess
	}

	// -------------------------------------------------------------------------
	// 2. Logging Initialization
	// -------------------------------------------------------------------------
	logCloser := setupLogging(*debugMode)
	if logCloser != nil {
		defer func() {
			_ = logCloser.Close()
		}()
	}

	// -------------------------------------------------------------------------
	// 3. Context & Signal Handling
	// -------------------------------------------------------------------------
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logStartupInfo()

	// -------------------------------------------------------------------------
	// 4. Application Logic
	// -------------------------------------------------------------------------
	if err := run(ctx, cliOptions{configPath: *configPath, once: *once}); err != nil {
		slog.Error(config.ErrAppFailed,
			config.LogKeyComponent, config.CompMain,
			config.LogKeyError, err,
		)
		return config.ExitCodeError
	}

	slog.Info(config.MsgAppStop, config.LogKeyComponent, config.CompMain)
	return config.ExitCodeSuccess
}

// run loads the settings, wires the engine to its source and serves it.
func run(ctx context.Context, opts cliOptions) error {
	config.LoadDotEnv()

	path := opts.configPath
	if path == "" {
		p, err := config.SettingsPath()
		if err != nil {
			return err
		}
		path = p
	}

	settings, err := config.LoadSettings(path)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	settings.ResolvePassword()

	loc, err := settings.Location()
	if err != nil {
		return err
	}

	fetcher, closeSource, err := buildSource(settings)
	if err != nil {
		return err
	}
	defer closeSource()

	catalog, err := i18n.NewCatalog(settings.Language)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Options{
		Fetcher:      fetcher,
		TeacherID:    settings.TeacherID,
		TeacherName:  teacherName(settings),
		Location:     loc,
		FetchTimeout: settings.FetchTimeout,
		Messages:     catalog,
	})
	if err != nil {
		return err
	}

	if opts.once {
		return printOnce(ctx, eng, os.Stdout)
	}

	srv := server.NewScheduleServer(settings.Port, eng)
	// Attach before the engine runs so the startup announcement is not dropped.
	srv.AttachEvents(eng.Events().Subscribe())
	worker := refresh.New(settings.RefreshCron, loc, eng)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		srv.Watch(gctx, eng)
		return nil
	})
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		if err := eng.Announce(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	err = g.Wait()
	slog.Info(config.MsgCtxCancel, config.LogKeyComponent, config.CompMain)
	return err
}

// buildSource selects the availability source named by the settings.
// The returned func releases connections held by the source.
func buildSource(s *config.Settings) (engine.AvailabilityFetcher, func(), error) {
	noop := func() {}
	log := slog.With(config.LogKeyComponent, config.CompMain, config.LogKeyMode, s.Source.Mode)

	newStore := func() (*availability.RedisStore, func()) {
		client := redis.NewClient(&redis.Options{
			Addr:     s.Source.RedisAddr,
			DB:       s.Source.RedisDB,
			Password: s.Source.RedisPassword,
		})
		store := availability.NewRedisStore(client)
		store.TTL = s.Source.RedisTTL
		store.SlotLength = s.SlotLength()
		return store, func() { _ = client.Close() }
	}

	switch s.Source.Mode {
	case config.SourceModeICS:
		log.Info(config.MsgSourceSelected, config.LogKeyPath, s.Source.ICSDir)
		return &availability.ICSSource{
			Dir:        s.Source.ICSDir,
			File:       s.Source.ICSFile,
			SlotLength: s.SlotLength(),
		}, noop, nil

	case config.SourceModeRedis:
		log.Info(config.MsgSourceSelected, config.LogKeyURL, s.Source.RedisAddr)
		store, closeFn := newStore()
		return store, closeFn, nil

	case config.SourceModeHTTP:
		src := availability.NewHTTPSource(s.Source.URL, s.Source.User, s.Source.Password)
		src.SlotLength = s.SlotLength()
		log.Info(config.MsgSourceSelected, config.LogKeyURL, src.BaseURL)
		if !s.Source.Cache {
			return src, noop, nil
		}
		store, closeFn := newStore()
		return &availability.Cached{Source: src, Store: store}, closeFn, nil
	}

	return nil, noop, fmt.Errorf("%s: %q", config.ErrSourceMode, s.Source.Mode)
}

// teacherName prefers the configured name, then the vCard directory.
func teacherName(s *config.Settings) string {
	if s.TeacherName != "" {
		return s.TeacherName
	}
	if s.Directory == "" {
		return s.TeacherID
	}
	dir, err := availability.LoadDirectory(s.Directory)
	if err != nil {
		slog.Warn(config.ErrDirectoryLoad,
			config.LogKeyComponent, config.CompMain,
			config.LogKeyFile, s.Directory,
			config.LogKeyError, err,
		)
		return s.TeacherID
	}
	return dir.Name(s.TeacherID)
}

// printOnce selects the first tab, waits for its slots and prints the week.
func printOnce(ctx context.Context, eng *engine.Engine, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	view, err := eng.View(ctx)
	if err != nil {
		return err
	}
	if err := eng.OnTabSelected(ctx, view.Tabs[0].Date); err != nil {
		return err
	}

	sub := eng.FilteredTimeList().Subscribe()
	defer sub.Close()

	var result engine.SlotsResult
	for result == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-sub.C():
			if !ok {
				return <-runErr
			}
			if _, loading := r.(engine.Loading[[]engine.IntervalScheduleTimeSlot]); !loading {
				result = r
			}
		}
	}

	_, _ = fmt.Fprintln(out, view.WeekDateText)
	for _, tab := range view.Tabs {
		_, _ = fmt.Fprintf(out, "  %s\n", tab.Label)
	}
	_, _ = fmt.Fprintln(out)

	switch r := result.(type) {
	case engine.Success[[]engine.IntervalScheduleTimeSlot]:
		for _, slot := range r.Data {
			mark := " "
			if slot.Booked {
				mark = "x"
			}
			_, _ = fmt.Fprintf(out, "[%s] %s - %s\n", mark, slot.Start.Format(time.Kitchen), slot.End.Format(time.Kitchen))
		}
	case engine.Failure[[]engine.IntervalScheduleTimeSlot]:
		return r.Cause
	}
	return nil
}

// printVersion outputs the build information to stdout.
func printVersion() {
	fmt.Printf(config.MsgVersionOutput,
		config.AppName,
		config.Version,
		runtime.GOOS,
		runtime.GOARCH,
	)
}

// logStartupInfo logs environment details useful for debugging.
func logStartupInfo() {
	slog.Info(config.MsgAppStarting,
		config.LogKeyComponent, config.CompMain,
		slog.Group(config.LogKeyBuild,
			slog.String(config.LogKeyApp, config.AppName),
			slog.String(config.LogKeyVersion, config.Version),
			slog.String(config.LogKeyGoVer, runtime.Version()),
		),
		slog.Group(config.LogKeyEnv,
			slog.String(config.LogKeyOS, runtime.GOOS),
			slog.String(config.LogKeyArch, runtime.GOARCH),
			slog.Int(config.LogKeyPID, os.Getpid()),
		),
	)
}

// setupLogging configures the default slog logger: JSON to stdout and to a
// log file in the user cache directory.
func setupLogging(debugMode bool) io.Closer {
	writers := []io.Writer{os.Stdout}
	var logFile *os.File

	if logPath, err := getLogFilePath(); err == nil {
		// O_TRUNC resets logs on restart to prevent indefinite growth.
		f, err := os.OpenFile(logPath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, config.FilePermUserRW)
		if err == nil {
			writers = append(writers, f)
			logFile = f
		} else {
			fmt.Fprintf(os.Stderr, config.MsgLogWarning, config.ErrLogFile, logPath, err)
		}
	}

	level := slog.LevelInfo
	if debugMode {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level:     level,
		AddSource: debugMode,
	}))
	slog.SetDefault(logger)

	if logFile == nil {
		return nil
	}
	return logFile
}

// getLogFilePath determines the platform-specific cache directory for logs.
func getLogFilePath() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("%s: %w", config.ErrCacheDir, err)
	}

	appDir := filepath.Join(cacheDir, config.AppID)
	if err := os.MkdirAll(appDir, config.DirPermUserRWX); err != nil {
		return "", fmt.Errorf("%s: %w", config.ErrCreateDir, err)
	}

	return filepath.Join(appDir, config.LogFileName), nil
}
