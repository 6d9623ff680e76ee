package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/glesdbg/glesdbg/internal/api"
	"github.com/glesdbg/glesdbg/internal/config"
	"github.com/glesdbg/glesdbg/internal/events"
	"github.com/glesdbg/glesdbg/internal/intercept"
	"github.com/glesdbg/glesdbg/internal/session"
	"github.com/glesdbg/glesdbg/internal/store"
	"github.com/glesdbg/glesdbg/internal/store/sqlite"
	"github.com/glesdbg/glesdbg/internal/wire"
)

// workloadCall is one synthetic instrumented call the demo workload
// loops over, standing in for a real intercepted API.
type workloadCall struct {
	name string
	fn   wire.Function
}

var workloadCalls = []workloadCall{
	{"glClear", 1},
	{"glDrawArrays", 2},
	{"glDrawElements", 3},
	{"eglSwapBuffers", 4},
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		workers    int
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a target process: wait for a debugger and feed it intercepted calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			log := cfg.NewLogger(os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			broker := events.NewBroker()

			var calls store.CallStore
			if cfg.Trace.Enabled {
				s, err := sqlite.Open(cfg.Trace.DBPath)
				if err != nil {
					return fmt.Errorf("open trace store: %w", err)
				}
				defer s.Close()
				calls = s
				log.Info("call tracing enabled", "db", cfg.Trace.DBPath)
			}

			mgr, err := session.New(cfg, log,
				session.WithBroker(broker),
				session.WithCallStore(calls))
			if err != nil {
				return err
			}

			if cfg.Server.StatusAddr != "" {
				app := api.NewApp(mgr, calls, broker)
				go func() {
					if err := api.Serve(ctx, cfg.Server.StatusAddr, app); err != nil {
						log.Error("status API failed", "error", err)
					}
				}()
				log.Info("status API listening", "addr", cfg.Server.StatusAddr)
			}

			if cfg.Watch.Enabled && configPath != "" {
				w, err := config.NewWatcher(configPath, cfg.WatchDebounce(),
					mgr.ApplyConfig,
					func(err error) { log.Warn("config reload failed", "error", err) })
				if err != nil {
					return err
				}
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Stop()
				log.Info("watching config for changes", "path", configPath)
			}

			// Blocks until a debugger attaches; a transport failure here
			// exits the process.
			mgr.Start()
			defer mgr.Stop()

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(cc intercept.CallContext) {
					defer wg.Done()
					runWorkload(ctx, mgr, cc, interval)
				}(intercept.CallContext{ID: uint64(i + 1)})
			}

			<-ctx.Done()
			mgr.Stop()
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config YAML (default: built-in defaults, or $GLESDBG_CONFIG)")
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "Debug port to listen on")
	cmd.Flags().IntVar(&workers, "workers", 1, "Concurrent call contexts issuing intercepted calls")
	cmd.Flags().DurationVar(&interval, "interval", 250*time.Millisecond, "Delay between intercepted calls per context")
	return cmd
}

// runWorkload issues the synthetic call sequence until ctx is done. Each
// call blocks inside the interception loop for as long as the debugger
// holds it.
func runWorkload(ctx context.Context, mgr *session.Manager, cc intercept.CallContext, interval time.Duration) {
	for i := 0; ; i++ {
		call := workloadCalls[i%len(workloadCalls)]
		mgr.Intercept(cc, call.name, call.fn, func(res *wire.Message) any {
			return nil
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
