// Command possync inspects and drains the offline mutation queue and runs a
// realtime listener against the POS backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	possync "github.com/huykn/pos-sync"
	"github.com/huykn/pos-sync/offline"
	"github.com/huykn/pos-sync/types"
)

var errNoBackend = errors.New("no backend configured")

// localOnly stands in for the dispatcher when a command never reaches the
// backend.
type localOnly struct{}

func (localOnly) Token(context.Context) (string, error) { return "", errNoBackend }

func (localOnly) Dispatch(context.Context, types.MutationAction, string) error {
	return errNoBackend
}

type flags struct {
	configPath string
	envFile    string

	storage   string
	logPath   string
	redisAddr string
	baseURL   string
	wsURL     string
	transport string
	logLevel  string
	jsonLogs  bool
	debug     bool

	metricsAddr   string
	drainInterval time.Duration
}

// apply overrides c with every flag set on the command line.
func (f *flags) apply(cmd *cobra.Command, c *fileConfig) {
	fs := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	set("storage", &c.Storage.Backend, f.storage)
	set("log-path", &c.Storage.LogPath, f.logPath)
	set("redis-addr", &c.Redis.Addr, f.redisAddr)
	set("base-url", &c.Backend.BaseURL, f.baseURL)
	set("ws-url", &c.Realtime.URL, f.wsURL)
	set("transport", &c.Realtime.Transport, f.transport)
	set("log-level", &c.Log.Level, f.logLevel)
	set("metrics-addr", &c.Metrics.Addr, f.metricsAddr)
	if fs.Changed("json-logs") {
		c.Log.JSON = f.jsonLogs
	}
	if fs.Changed("debug") {
		c.Log.Debug = f.debug
	}
}

type app struct {
	client *possync.Client
	log    *zap.Logger
	cfg    fileConfig
	reg    *prometheus.Registry
}

func (a *app) Close() {
	if err := a.client.Close(); err != nil {
		a.log.Warn("close", zap.Error(err))
	}
	_ = a.log.Sync()
}

type mode int

const (
	// modeLocal touches the queue only.
	modeLocal mode = iota
	// modeDrain talks to the backend but needs no push transport.
	modeDrain
	modeListen
)

// open builds the client for cmd.
func open(cmd *cobra.Command, f *flags, m mode) (*app, error) {
	if f.envFile != "" {
		if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	fc, err := loadConfig(f.configPath)
	if err != nil {
		return nil, err
	}
	f.apply(cmd, &fc)

	zl, err := possync.BuildZap(fc.Log.Level, fc.Log.JSON)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	cfg, err := fc.clientConfig(possync.NewZapLogger(zl))
	if err != nil {
		return nil, err
	}

	a := &app{log: zl, cfg: fc}
	if m != modeListen {
		cfg.Transport = possync.TransportNone
	}
	if m == modeLocal && cfg.BaseURL == "" {
		cfg.Dispatcher = localOnly{}
	}
	if fc.Metrics.Addr != "" {
		a.reg = prometheus.NewRegistry()
		cfg.EnableMetrics = true
		cfg.Registerer = a.reg
	}
	cfg.OnError = func(err error) { zl.Debug("background error", zap.Error(err)) }

	a.client, err = possync.New(cfg)
	if err != nil {
		_ = zl.Sync()
		return nil, err
	}
	return a, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "possync",
		Short:         "Offline queue and realtime sync client for the POS backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML config file")
	pf.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before the config (missing file is ignored)")
	pf.StringVar(&f.storage, "storage", "", "queue backend: memory|file|redis|none (env POSSYNC_STORAGE)")
	pf.StringVar(&f.logPath, "log-path", "", "queue log file for file storage (env POSSYNC_LOG_PATH)")
	pf.StringVar(&f.redisAddr, "redis-addr", "", "Redis address (env POSSYNC_REDIS_ADDR)")
	pf.StringVar(&f.baseURL, "base-url", "", "backend base URL (env POSSYNC_BASE_URL)")
	pf.StringVar(&f.wsURL, "ws-url", "", "push websocket URL (env POSSYNC_WS_URL)")
	pf.StringVar(&f.transport, "transport", "", "push transport: websocket|redis|none (env POSSYNC_TRANSPORT)")
	pf.StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error (env POSSYNC_LOG_LEVEL)")
	pf.BoolVar(&f.jsonLogs, "json-logs", false, "JSON log output (env POSSYNC_LOG_JSON)")
	pf.BoolVar(&f.debug, "debug", false, "debug logging in the sync components (env POSSYNC_DEBUG)")

	root.AddCommand(queueCmd(f), drainCmd(f), listenCmd(f), versionCmd())
	return root
}

func queueCmd(f *flags) *cobra.Command {
	q := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the offline queue",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print queued actions in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, f, modeLocal)
			if err != nil {
				return err
			}
			defer a.Close()
			list := a.client.Queue().List()
			if list == nil {
				list = []types.MutationAction{}
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}

	enqueue := &cobra.Command{
		Use:   "enqueue <type> <payload-json>",
		Short: "Queue an action for the next drain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, f, modeLocal)
			if err != nil {
				return err
			}
			defer a.Close()
			action, err := a.client.Submit(types.ActionType(args[0]), json.RawMessage(args[1]))
			if err != nil {
				return err
			}
			if !a.client.Queue().Persistent() {
				a.log.Warn("queue storage unavailable; action was not persisted", zap.String("id", action.ID))
			}
			return printJSON(cmd.OutOrStdout(), action)
		},
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Drop expired actions and actions over the retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, f, modeLocal)
			if err != nil {
				return err
			}
			defer a.Close()
			expired := a.client.Queue().PruneExpired()
			exceeded := a.client.Queue().PruneExceeded()
			return printJSON(cmd.OutOrStdout(), map[string]int{
				"expired":   expired,
				"exceeded":  exceeded,
				"remaining": a.client.Pending(),
			})
		},
	}

	q.AddCommand(list, enqueue, prune)
	return q
}

func drainCmd(f *flags) *cobra.Command {
	var timeout time.Duration
	c := &cobra.Command{
		Use:   "drain",
		Short: "Run one drain pass against the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, f, modeDrain)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := a.client.Drain(ctx)
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			return err
		},
	}
	c.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "bound on the whole pass")
	return c
}

func listenCmd(f *flags) *cobra.Command {
	c := &cobra.Command{
		Use:   "listen",
		Short: "Follow realtime events and drain whenever the backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd, f, modeListen)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.listen(cmd.Context(), f.drainInterval)
		},
	}
	c.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (env POSSYNC_METRICS_ADDR)")
	c.Flags().DurationVar(&f.drainInterval, "drain-interval", 30*time.Second, "periodic drain while online; 0 disables")
	return c
}

func (a *app) listen(parent context.Context, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.reg != nil {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		a.log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.Addr))
	}

	if ch := a.client.Channel(); ch != nil {
		cancel := ch.OnEvent(func(ev types.RealtimeEvent) {
			a.log.Info("event", zap.String("name", ev.Name), zap.Int("bytes", len(ev.Payload)))
		})
		defer cancel()
	}
	if err := a.client.Start(ctx); err != nil {
		return err
	}
	// The websocket transport reports connectivity itself.
	if a.cfg.Realtime.Transport != possync.TransportWebSocket {
		a.client.SetOnline(true)
	}
	a.log.Info("listening",
		zap.String("client_id", a.client.ClientID()),
		zap.String("transport", a.cfg.Realtime.Transport),
		zap.Int("pending", a.client.Pending()))

	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutting down", zap.Int("pending", a.client.Pending()))
			return nil
		case <-tick:
			if !a.client.Online() || a.client.Pending() == 0 {
				continue
			}
			if _, err := a.client.Drain(ctx); err != nil && !errors.Is(err, offline.ErrDrainInProgress) && !errors.Is(err, context.Canceled) {
				a.log.Warn("periodic drain", zap.Error(err))
			}
		}
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), possync.GetVersionInfo())
		},
	}
}
