package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/blockflow/internal/config"
	"github.com/roach88/blockflow/internal/protocol"
	"github.com/roach88/blockflow/internal/scheduler"
	"github.com/roach88/blockflow/internal/transport"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	ConfigPath string
	Connect    string
	Codec      string
	Count      int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Stream a value from a running engine",
		Long: `Subscribe to a path on a running engine and print every value.

The client reconnects with backoff (reconnect.min to reconnect.max from
the config) and resubscribes after each reconnect.

Examples:
  blockflow watch calc.a.#output --connect ws://localhost:8090/ws
  blockflow watch calc.b.#output --connect ws://localhost:8090/ws --count 1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&opts.Connect, "connect", "", "engine WebSocket URL (required)")
	_ = cmd.MarkFlagRequired("connect")
	cmd.Flags().StringVar(&opts.Codec, "codec", "", "frame codec (json|msgpack)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many values (0 streams until interrupted)")

	return cmd
}

func runWatch(opts *WatchOptions, path string, cmd *cobra.Command) error {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return WrapExitError(ExitCommandError, "invalid configuration", err)
		}
	}
	if cmd.Flags().Changed("codec") {
		cfg.Codec = opts.Codec
	}
	codec, err := transport.CodecByName(cfg.Codec)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid codec", err)
	}
	logger := slog.Default()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mailbox := scheduler.NewMailbox()
	defer mailbox.Close()

	dialer := transport.NewDialer(opts.Connect, codec, transport.DefaultSettings(),
		protocol.NewBackoff(cfg.Reconnect.Min, cfg.Reconnect.Max), logger)
	client := protocol.NewClient(mailbox, dialer, protocol.WithLogger(logger))

	dialDone := make(chan error, 1)
	go func() { dialDone <- dialer.Run(ctx, mailbox, client) }()

	printer := newPrinter(opts.RootOptions, cmd)
	received := 0
	var watchErr error
	mailbox.Post(func() {
		client.Subscribe(path, protocol.Callbacks{
			OnUpdate: func(m protocol.Message) {
				if err := printer.Update(path, m); err != nil {
					watchErr = err
					cancel()
					return
				}
				received++
				if opts.Count > 0 && received >= opts.Count {
					cancel()
				}
			},
			OnError: func(err error) {
				logger.Warn("subscription error", "path", path, "error", err)
			},
		})
	})

	// the client lives on this goroutine
	for {
		select {
		case <-ctx.Done():
			mailbox.Drain()
			<-dialDone
			if watchErr != nil {
				return WrapExitError(ExitFailure, "failed to print value", watchErr)
			}
			return nil
		case _, ok := <-mailbox.Wait():
			if !ok {
				return nil
			}
			mailbox.Drain()
		}
	}
}
