// Command engined is the long-running daemon: it loads sources.hcl and
// engine.hcl, starts the Supervisor, the Job Manager, and the
// control-plane HTTP surface, and dispatches Queued jobs through the
// pipeline runtime until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/skysweep/internal/adapters"
	"github.com/oriys/skysweep/internal/archive"
	"github.com/oriys/skysweep/internal/cache"
	"github.com/oriys/skysweep/internal/config"
	"github.com/oriys/skysweep/internal/controlapi"
	"github.com/oriys/skysweep/internal/enginestate"
	"github.com/oriys/skysweep/internal/jobrunner"
	"github.com/oriys/skysweep/internal/jobs"
	"github.com/oriys/skysweep/internal/logging"
	"github.com/oriys/skysweep/internal/sources"
	"github.com/oriys/skysweep/internal/stats"
	"github.com/oriys/skysweep/internal/supervisor"
	"github.com/oriys/skysweep/internal/telemetry"
)

func main() {
	var (
		sourcesPath     string
		enginePath      string
		processDataPath string
		httpAddr        string
		logLevel        string
		logFormat       string
		redisAddr       string
		otlpEndpoint    string
		dispatchPoll    time.Duration
		reconnectDelay  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "engined",
		Short: "Run the surveillance data-acquisition engine daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitStructured(logFormat, logLevel)
			logging.SetLevelFromString(logLevel)

			engineCfg, err := config.LoadEngine(enginePath)
			if err != nil {
				return fmt.Errorf("engined: %w", err)
			}
			sourcesCfg, err := config.LoadSources(sourcesPath)
			if err != nil {
				return fmt.Errorf("engined: %w", err)
			}

			ctx := context.Background()
			tCfg := telemetry.Config{
				Enabled:     otlpEndpoint != "",
				Exporter:    "otlp-http",
				Endpoint:    otlpEndpoint,
				ServiceName: "engined",
				SampleRate:  1.0,
			}
			if err := telemetry.Init(ctx, tCfg); err != nil {
				return fmt.Errorf("engined: init tracing: %w", err)
			}
			defer telemetry.Shutdown(context.Background())

			reg := telemetry.NewRegistry()
			statsAct := stats.New(reg)
			defer statsAct.Exit()

			var l2 *cache.RedisCache
			if redisAddr != "" {
				l2 = cache.NewRedisCache(cache.RedisCacheConfig{Addr: redisAddr})
			}
			binder := &adapters.Factory{}
			if l2 != nil {
				binder.L2 = l2

				// Share this engined instance's basic-https L1 tier with
				// a CacheInvalidator so a sibling instance publishing on
				// cache.InvalidationChannel evicts our copy too.
				invalidator := cache.NewCacheInvalidator(binder.L1(), l2.Client())
				go invalidator.Start(ctx)
				defer invalidator.Close()
			}

			vaultRoot := filepath.Join(engineCfg.Basedir, "vault")
			registry, err := sources.NewRegistry(sourcesCfg, vaultRoot, binder)
			if err != nil {
				return fmt.Errorf("engined: build registry: %w", err)
			}

			sup := supervisor.New(registry, statsAct)
			defer sup.Shutdown()

			stateStore, err := enginestate.Open(engineCfg.Basedir, "engined")
			if err != nil {
				return fmt.Errorf("engined: open engine state: %w", err)
			}
			stateStore.StartSyncLoop()
			defer stateStore.Stop()

			jobsMgr := jobs.New(stateStore)

			var mirror archive.Mirror
			if processDataPath != "" {
				pdCfg, err := config.LoadProcessData(processDataPath)
				if err != nil {
					return fmt.Errorf("engined: %w", err)
				}
				if pdCfg.Datalake != "" {
					m, err := archive.NewS3Mirror(ctx, pdCfg.Datalake)
					if err != nil {
						return fmt.Errorf("engined: build datalake mirror: %w", err)
					}
					mirror = m
				}
			}

			storageRoot := engineCfg.Basedir
			if engineCfg.Storage != nil && engineCfg.Storage.Root != "" {
				storageRoot = engineCfg.Storage.Root
			}
			runner := jobrunner.New(registry, sup, statsAct, jobsMgr, storageRoot, mirror, reconnectDelay)

			handler := &controlapi.Handler{Manager: jobsMgr}
			mux := http.NewServeMux()
			handler.RegisterRoutes(mux)
			mux.Handle("/metrics", telemetry.Handler(reg))

			httpServer := &http.Server{Addr: httpAddr, Handler: mux}
			go func() {
				logging.Op().Info("engined: control plane listening", "addr", httpAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("engined: control plane exited", "error", err)
				}
			}()

			dispatchCtx, cancelDispatch := context.WithCancel(ctx)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				dispatchLoop(dispatchCtx, jobsMgr, runner, dispatchPoll)
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("engined: shutdown signal received")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logging.Op().Error("engined: http shutdown", "error", err)
			}

			cancelDispatch()
			wg.Wait()

			return nil
		},
	}

	cmd.Flags().StringVar(&sourcesPath, "sources", "sources.hcl", "path to sources.hcl")
	cmd.Flags().StringVar(&enginePath, "engine", "engine.hcl", "path to engine.hcl")
	cmd.Flags().StringVar(&processDataPath, "process-data", "", "path to process-data.hcl (enables the S3 datalake mirror)")
	cmd.Flags().StringVar(&httpAddr, "http", ":8090", "control-plane HTTP listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", "log format (json|text)")
	cmd.Flags().StringVar(&redisAddr, "redis", "", "redis address for the adapter L2 cache (empty disables it)")
	cmd.Flags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP/HTTP trace collector endpoint (empty disables tracing)")
	cmd.Flags().DurationVar(&dispatchPoll, "dispatch-poll", time.Second, "interval between scans of the job queue")
	cmd.Flags().DurationVar(&reconnectDelay, "reconnect-delay", supervisor.DefaultReconnectDelay, "Supervisor Worker reconnect backoff cap")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dispatchLoop polls the Job Manager for Queued jobs and runs each
// exactly once via the Runner, concurrently, until ctx is cancelled.
func dispatchLoop(ctx context.Context, mgr *jobs.Manager, runner *jobrunner.Runner, poll time.Duration) {
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	inflight := make(map[uint64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			for _, job := range mgr.ListJobs() {
				if job.State != jobs.StateQueued {
					continue
				}
				mu.Lock()
				if inflight[job.ID] {
					mu.Unlock()
					continue
				}
				inflight[job.ID] = true
				mu.Unlock()

				wg.Add(1)
				go func(j *jobs.Job) {
					defer wg.Done()
					if err := runner.Run(ctx, j); err != nil {
						logging.Op().Error("engined: job run failed", "job", j.ID, "name", j.Name, "error", err)
					}
					mu.Lock()
					delete(inflight, j.ID)
					mu.Unlock()
				}(job)
			}
		}
	}
}
