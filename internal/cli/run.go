package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/blockflow/internal/block"
	"github.com/roach88/blockflow/internal/config"
	"github.com/roach88/blockflow/internal/engine"
	"github.com/roach88/blockflow/internal/functions"
	"github.com/roach88/blockflow/internal/functions/builtin"
	"github.com/roach88/blockflow/internal/protocol"
	"github.com/roach88/blockflow/internal/store"
	"github.com/roach88/blockflow/internal/transport"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	Database   string
	Listen     string
	FlowsDir   string
	Codec      string
	Strict     bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine",
		Long: `Start the engine on a SQLite database.

Stored flows are restored first; flows compiled from --flows that the
database does not hold yet are added and saved. With --listen, clients
connect over WebSocket at /ws. Flows are saved on every tick and on exit.

Example:
  blockflow run --db ./blockflow.db --flows ./flows
  blockflow run --config blockflow.yaml --listen :8090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "WebSocket listen address (host:port)")
	cmd.Flags().StringVar(&opts.FlowsDir, "flows", "", "directory of CUE flows to seed")
	cmd.Flags().StringVar(&opts.Codec, "codec", "", "frame codec (json|msgpack)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "panic on graph integrity violations")

	return cmd
}

// resolveConfig loads the config file (or defaults) and applies the flags
// that were set explicitly.
func resolveConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}
	if flags.Changed("listen") {
		cfg.Listen = opts.Listen
	}
	if flags.Changed("flows") {
		cfg.FlowsDir = opts.FlowsDir
	}
	if flags.Changed("codec") {
		cfg.Codec = opts.Codec
	}
	if flags.Changed("strict") {
		cfg.Strict = opts.Strict
	}
	return cfg, cfg.Validate()
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := resolveConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := slog.Default()

	var seeds map[string]map[string]any
	if cfg.FlowsDir != "" {
		logger.Info("compiling flows", "dir", cfg.FlowsDir)
		loadResult, loadErrors := LoadFlows(cfg.FlowsDir, LoadModeFailFast)
		if len(loadErrors) > 0 {
			return WrapExitError(ExitCommandError, "failed to compile flows", loadErrors[0])
		}
		seeds = loadResult.Flows
	}

	logger.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	reg := functions.NewRegistry(functions.WithRegistryLogger(logger))
	builtin.Register(reg)

	root := block.NewRoot(
		block.WithRegistry(reg),
		block.WithStorage(st),
		block.WithStrict(cfg.Strict),
		block.WithAsyncTimeout(cfg.AsyncTimeout),
		block.WithLogger(logger),
	)
	defer root.Close()

	eng := engine.New(root, engine.WithTickInterval(cfg.TickInterval), engine.WithLogger(logger))

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := eng.Load(ctx, seeds); err != nil {
		return WrapExitError(ExitFailure, "failed to load flows", err)
	}

	if cfg.Listen != "" {
		httpSrv, err := serve(ctx, cfg, root, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			httpSrv.Shutdown(shutdownCtx)
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "Listening on ws://%s%s\n", cfg.Listen, transport.Path)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Engine started. Press Ctrl-C to stop.")

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	logger.Info("engine stopped gracefully")
	return nil
}

// serve starts the WebSocket host for root in the background.
func serve(ctx context.Context, cfg config.Config, root *block.Root, logger *slog.Logger) (*http.Server, error) {
	codec, err := transport.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, err
	}

	wsServer := transport.NewServer(ctx, root, codec, transport.DefaultSettings(), logger,
		protocol.WithFrameBudget(cfg.FrameBudget),
		protocol.WithDescFrameBudget(cfg.DescFrameBudget),
	)
	httpSrv := &http.Server{Handler: wsServer.Handler()}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()
	logger.Info("websocket host listening", "addr", ln.Addr().String(), "codec", codec.Name())
	return httpSrv, nil
}
