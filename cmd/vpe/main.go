package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ravi-parthasarathy/vpe/pkg/catalog"
	"github.com/ravi-parthasarathy/vpe/pkg/channel"
	"github.com/ravi-parthasarathy/vpe/pkg/compiler"
	"github.com/ravi-parthasarathy/vpe/pkg/config"
	"github.com/ravi-parthasarathy/vpe/pkg/graph"
	"github.com/ravi-parthasarathy/vpe/pkg/logging"
	"github.com/ravi-parthasarathy/vpe/pkg/metrics"
	"github.com/ravi-parthasarathy/vpe/pkg/process"
	"github.com/ravi-parthasarathy/vpe/pkg/session"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags and env are resolved.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func rootCmd() *cobra.Command {
	a := &app{}
	var (
		logLevel string
		logDev   bool
		fifoDir  string
		catPath  string
	)

	root := &cobra.Command{
		Use:   "vpe",
		Short: "vpe: video pipeline editor runner",
		Long: `vpe compiles a graph of shell-command nodes into a set of processes
connected by named pipes, and runs them.

Each node carries a command template in which <1..<7 stand for input
channels and >1..>7 for output channels. An output feeding several
inputs is fanned out through a chain of duplicator processes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("log-dev") {
				cfg.Log.Dev = logDev
			}
			if flags.Changed("fifo-dir") {
				cfg.FifoDir = fifoDir
			}
			if flags.Changed("catalog") {
				cfg.Catalog = catPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := initLogger(cfg.Log.Level, cfg.Log.Dev)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error (env VPE_LOG_LEVEL)")
	pf.BoolVar(&logDev, "log-dev", false, "human-readable console logs (env VPE_LOG_DEV)")
	pf.StringVar(&fifoDir, "fifo-dir", channel.DefaultDir, "directory FIFOs are created in (env VPE_FIFO_DIR)")
	pf.StringVar(&catPath, "catalog", "", "YAML file of extra node presets (env VPE_CATALOG)")

	root.AddCommand(runCmd(a))
	root.AddCommand(compileCmd(a))
	root.AddCommand(lintCmd(a))
	root.AddCommand(graphCmd(a))
	root.AddCommand(nodesCmd(a))
	root.AddCommand(demoCmd())
	return root
}

// ─── run ──────────────────────────────────────────────────────────────────────

func runCmd(a *app) *cobra.Command {
	var (
		console       bool
		reportPath    string
		metricsAddr   string
		atomicLaunch  bool
		freshChannels bool
		dupTemplate   string
	)

	cmd := &cobra.Command{
		Use:   "run <graph.dot>",
		Short: "Compile a graph and run its processes until they exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("atomic-launch") && atomicLaunch {
				a.cfg.LaunchPolicy = "all-or-nothing"
			}
			if cmd.Flags().Changed("fresh-channels") {
				a.cfg.ReuseChannels = !freshChannels
			}
			if cmd.Flags().Changed("dup-template") {
				a.cfg.DupTemplate = dupTemplate
			}

			g, err := a.loadGraph(args[0])
			if err != nil {
				return err
			}
			if err := a.lint(g); err != nil {
				return fmt.Errorf("invalid graph: %w", err)
			}

			var m *metrics.Metrics
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				m = metrics.New(reg)
				stop := serveMetrics(metricsAddr, reg, a.logger)
				defer stop()
			}

			s, err := a.newSession(g, m)
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(); err != nil {
					a.logger.Warn("close session", zap.Error(err))
				}
			}()

			started := time.Now()
			runErr := s.Run()
			if runErr == nil || s.Plan() != nil {
				ctx, cancel := signalContext(cmd.Context())
				defer cancel()
				if err := s.Wait(ctx); err != nil {
					a.logger.Info("stopping pipeline", zap.Error(err))
					if err := s.Stop(); err != nil {
						a.logger.Warn("stop", zap.Error(err))
					}
				}
			}

			if console {
				printConsole(cmd.OutOrStdout(), s.Statuses())
			}
			rep := newReport(s, started, runErr)
			if err := writeReport(reportPath, rep); err != nil {
				return err
			}
			return runErr
		},
	}

	f := cmd.Flags()
	f.BoolVar(&console, "console", false, "print each node's captured output when the run ends")
	f.StringVar(&reportPath, "report", "", "write a JSON run report to this file")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	f.BoolVar(&atomicLaunch, "atomic-launch", false, "stop every started process if one fails to launch")
	f.BoolVar(&freshChannels, "fresh-channels", false, "recreate every FIFO instead of reusing existing ones")
	f.StringVar(&dupTemplate, "dup-template", compiler.DefaultDuplicator, "duplicator command template (env VPE_DUP_TEMPLATE)")
	return cmd
}

// ─── compile ──────────────────────────────────────────────────────────────────

func compileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <graph.dot>",
		Short: "Print the commands a run would launch without creating or starting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.loadGraph(args[0])
			if err != nil {
				return err
			}
			alloc := channel.NewAllocator(a.cfg.FifoDir, &channel.DryRunCreator{}, a.logger)
			plan, err := compiler.Compile(g, alloc, compiler.Options{
				DuplicatorTemplate: a.cfg.DupTemplate,
				Logger:             a.logger,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range alloc.Channels() {
				fmt.Fprintf(out, "mkfifo %s\n", c)
			}
			for _, u := range plan.Units {
				fmt.Fprintln(out, u.Command)
			}
			return nil
		},
	}
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lint <graph.dot>",
		Short: "Validate a graph DOT file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.loadGraph(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, le := range graph.Lint(g) {
				fmt.Fprintf(out, "%s: %s\n", le.Severity, le.Error())
			}
			if err := graph.LintErr(g); err != nil {
				return err
			}
			fmt.Fprintf(out, "OK: graph %q is valid (%d nodes, %d connections)\n",
				g.Name, len(g.Nodes()), len(g.Connections()))
			return nil
		},
	}
}

// ─── nodes ────────────────────────────────────────────────────────────────────

func nodesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the node presets available to graphs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderPresets(cat))
			return nil
		},
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func initLogger(level string, dev bool) (*zap.Logger, error) {
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Development = dev
	return logging.New(cfg)
}

func (a *app) catalog() (*catalog.Catalog, error) {
	if a.cfg.Catalog == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(a.cfg.Catalog)
}

func (a *app) loadGraph(path string) (*graph.Graph, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	cat, err := a.catalog()
	if err != nil {
		return nil, err
	}
	g, err := graph.ParseDOT(string(src), graph.ParseOptions{Presets: cat})
	if err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	return g, nil
}

// lint logs warnings and returns the errors.
func (a *app) lint(g *graph.Graph) error {
	for _, le := range graph.Lint(g) {
		if le.Severity == graph.SeverityWarning {
			a.logger.Warn("lint", zap.String("node", le.NodeID), zap.String("problem", le.Message))
		}
	}
	return graph.LintErr(g)
}

func (a *app) newSession(g *graph.Graph, m *metrics.Metrics) (*session.Session, error) {
	lp, cp, err := a.cfg.Policies()
	if err != nil {
		return nil, err
	}
	return session.New(g, session.Options{
		FifoDir:            a.cfg.FifoDir,
		Creator:            channel.FifoCreator{ReplaceStale: a.cfg.ReplaceStale},
		Spawner:            process.ShellSpawner{Shell: a.cfg.Shell},
		DuplicatorTemplate: a.cfg.DupTemplate,
		StopTimeout:        a.cfg.StopTimeout,
		LaunchPolicy:       lp,
		ClearPolicy:        cp,
		FreshChannels:      !a.cfg.ReuseChannels,
		Logger:             a.logger,
		Metrics:            m,
	})
}

// serveMetrics starts a prometheus endpoint and returns a function that
// shuts it down.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[vpe] interrupted, stopping pipeline")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
