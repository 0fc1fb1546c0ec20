package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/donmikel/rangeserve/applications/server"
	"github.com/donmikel/rangeserve/applications/server/adapters/headers"
	"github.com/donmikel/rangeserve/applications/server/adapters/inmemory"
	"github.com/donmikel/rangeserve/applications/server/adapters/mimetable"
	"github.com/donmikel/rangeserve/applications/server/adapters/sanitizer"
	"github.com/donmikel/rangeserve/applications/server/adapters/sysmem"
	"github.com/donmikel/rangeserve/applications/server/config"
	"github.com/donmikel/rangeserve/applications/server/handlers/http"
	"github.com/donmikel/rangeserve/applications/server/interfaces"
	"github.com/donmikel/rangeserve/applications/server/services"
)

// exitCode is a process termination code.
type exitCode int

// Possible process termination codes are listed below.
const (
	// exitSuccess is code for successful program termination.
	exitSuccess exitCode = 0
	// exitFailure is code for unsuccessful program termination.
	exitFailure exitCode = 1
)

// preStopWait keeps the listener up for a while after SIGTERM so load
// balancers can drain the instance.
const preStopWait = 5 * time.Second

// shutdownTimeout bounds how long in-flight transfers get to finish. Throttled
// downloads still running after it are cut off.
const shutdownTimeout = 5 * time.Second

var (
	// version is the service version from git tag.
	version = ""
)

func main() {
	os.Exit(int(gracefulMain()))
}

// gracefulMain runs the server and returns the exit code, so deferred cleanup
// runs before os.Exit.
// nolint
func gracefulMain() exitCode {
	var logger log.Logger
	{
		logger = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
		logger = log.With(logger, "ts", log.DefaultTimestampUTC)
		logger = log.With(logger, "caller", log.DefaultCaller)
	}
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("config", "config/config.yml", "path to the config file")
	v := fs.Bool("v", false, "Show version")

	err := fs.Parse(os.Args[1:])
	if err == flag.ErrHelp {
		return exitSuccess
	}
	if err != nil {
		logger.Log("msg", "parsing cli flags failed", "err", err)
		return exitFailure
	}

	if *v {
		if version == "" {
			level.Error(logger).Log("msg", "version not set")
		} else {
			level.Info(logger).Log("msg", "version", "version", version)
		}

		return exitSuccess
	}

	logger.Log("configPath", *configPath)

	cfg, err := config.Parse(*configPath)
	if err != nil {
		logger.Log("msg", "cannot parse service config", "err", err)
		return exitFailure
	}

	err = cfg.Validate()
	if err != nil {
		logger.Log("msg", "config validation failed", "err", err)
		return exitFailure
	}

	defer monitorPanic(logger)
	ctx := context.Background()

	if cfg.Upload.Enabled {
		if err = os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
			level.Error(logger).Log("msg", "can't create upload directory",
				"dir", cfg.Upload.Dir,
				"err", err,
			)

			return exitFailure
		}
	}

	var fileMetaStorage interfaces.FileMetaStorage
	{
		fileMetaStorage = inmemory.NewFileMetaStorage()
	}

	var throttler *services.Throttler
	{
		probe := sysmem.NewProbe(uint64(cfg.Transfer.MemoryLimit))
		throttler = services.NewThrottler(probe, cfg.Transfer.SafetyFraction, logger)
	}

	level.Info(logger).Log("msg", "transfer budget",
		"memory_limit", cfg.Transfer.MemoryLimit,
		"default_speed", humanize.Bytes(uint64(throttler.DefaultSpeed())),
	)

	var fileService server.FileService
	{
		fileService = services.NewService(services.Options{
			Root:      cfg.Download.Root,
			MaxRanges: cfg.Download.MaxRanges,
			Upload: services.UploadOptions{
				Enabled:       cfg.Upload.Enabled,
				Dir:           cfg.Upload.Dir,
				StagingDir:    cfg.Upload.StagingDir,
				MaxSize:       uint64(cfg.Upload.MaxSize),
				AllowedMIME:   cfg.Upload.AllowedMIME,
				PreserveNames: cfg.Upload.PreserveNames,
				Overwrite:     cfg.Upload.Overwrite,
				Intolerant:    cfg.Upload.Intolerant,
				Destinations:  cfg.Upload.Destinations,
			},
		}, services.Collaborators{
			FileMetaStorage: fileMetaStorage,
			Validators:      inmemory.NewValidatorCache(logger),
			Headers:         headers.NewEmitter(cfg.Download.CacheControl),
			Sanitizer:       sanitizer.New(),
			Mimes:           mimetable.New(),
			Throttler:       throttler,
		}, logger)
	}

	hServer := http.NewHTTPServer(cfg.API, fileService, int64(cfg.Download.Speed), logger)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-sig:
			level.Info(logger).Log("msg", fmt.Sprintf("signal received (waiting %v before terminating): %v", preStopWait, s))
			time.Sleep(preStopWait)
			level.Info(logger).Log("msg", "terminating...")

			return fmt.Errorf("signal received: %s", s)
		}
	})

	group.Go(func() error {
		level.Info(logger).Log("msg", "listening", "addr", cfg.API.HTTPAddr, "root", cfg.Download.Root)
		if err := hServer.ListenAndServe(); err != nil {
			return fmt.Errorf("listen and server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()

		level.Info(logger).Log("msg", "graceful shutdown of server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err = hServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}

		return ctx.Err()
	})

	if err = group.Wait(); err != nil {
		level.Error(logger).Log("msg", fmt.Sprintf("actors stopped with err: %v", err))
		return exitFailure
	}

	level.Info(logger).Log("msg", "actors stopped without errors")

	return exitSuccess
}

// monitorPanic monitors panics and reports them somewhere (e.g. logs, ...).
func monitorPanic(logger log.Logger) {
	if rec := recover(); rec != nil {
		err := fmt.Sprintf("panic: %v \n stack trace: %s", rec, debug.Stack())
		level.Error(logger).Log("err", err)
		panic(err)
	}
}
