package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/blockflow/internal/ir"
	"github.com/roach88/blockflow/internal/store"
)

// FlowsOptions holds flags shared by the flows subcommands.
type FlowsOptions struct {
	*RootOptions
	Database string
	Revision int64
}

// FlowSummary is one row of "flows list".
type FlowSummary struct {
	Name          string `json:"name"`
	Revision      int64  `json:"revision"`
	ContentHash   string `json:"content_hash"`
	FormatVersion string `json:"format_version"`
	EngineVersion string `json:"engine_version"`
	Seq           int64  `json:"seq"`
}

// RevisionSummary is one row of "flows history".
type RevisionSummary struct {
	Seq         int64  `json:"seq"`
	Revision    int64  `json:"revision"`
	ContentHash string `json:"content_hash"`
	Deleted     bool   `json:"deleted,omitempty"`
}

// NewFlowsCommand creates the flows command and its subcommands.
func NewFlowsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FlowsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Inspect stored flows",
		Long: `Inspect the flows saved in a SQLite database.

Examples:
  blockflow flows list --db ./blockflow.db
  blockflow flows history calc --db ./blockflow.db
  blockflow flows show calc --revision 2 --db ./blockflow.db
  blockflow flows delete calc --db ./blockflow.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List stored flows",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *Printer) error {
				return runFlowsList(ctx, st, f)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "history <name>",
		Short:         "Show every revision of a flow",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *Printer) error {
				return runFlowsHistory(ctx, st, f, args[0])
			})
		},
	})

	show := &cobra.Command{
		Use:           "show <name>",
		Short:         "Print a flow document as canonical JSON",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *Printer) error {
				return runFlowsShow(ctx, st, f, args[0], opts.Revision)
			})
		},
	}
	show.Flags().Int64Var(&opts.Revision, "revision", 0, "show a past revision instead of the current one")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:           "delete <name>",
		Short:         "Delete a flow, keeping its history",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, f *Printer) error {
				return runFlowsDelete(ctx, st, f, args[0])
			})
		},
	})

	return cmd
}

// withStore opens the database for one subcommand. A missing file is a
// command error rather than a new empty database.
func withStore(opts *FlowsOptions, cmd *cobra.Command, fn func(context.Context, *store.Store, *Printer) error) error {
	printer := newPrinter(opts.RootOptions, cmd)

	if _, err := os.Stat(opts.Database); err != nil {
		return printer.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.Database), err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return printer.Fail(ExitCommandError, ErrCodeStoreFailed, err.Error(), err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, st, printer)
}

func storeError(printer *Printer, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return printer.Fail(ExitFailure, ErrCodeNotFound, err.Error(), err)
	}
	return printer.Fail(ExitCommandError, ErrCodeStoreFailed, err.Error(), err)
}

func runFlowsList(ctx context.Context, st *store.Store, printer *Printer) error {
	infos, err := st.Flows(ctx)
	if err != nil {
		return storeError(printer, err)
	}

	rows := make([]FlowSummary, len(infos))
	for i, fi := range infos {
		rows[i] = FlowSummary{
			Name:          fi.Name,
			Revision:      fi.Revision,
			ContentHash:   fi.ContentHash,
			FormatVersion: fi.FormatVersion,
			EngineVersion: fi.EngineVersion,
			Seq:           fi.Seq,
		}
	}

	return printer.FlowTable(rows)
}

func runFlowsHistory(ctx context.Context, st *store.Store, printer *Printer, name string) error {
	revs, err := st.History(ctx, name)
	if err != nil {
		return storeError(printer, err)
	}
	if len(revs) == 0 {
		return storeError(printer, fmt.Errorf("history %s: %w", name, store.ErrNotFound))
	}

	rows := make([]RevisionSummary, len(revs))
	for i, r := range revs {
		rows[i] = RevisionSummary{Seq: r.Seq, Revision: r.Revision, ContentHash: r.ContentHash, Deleted: r.Deleted}
	}

	return printer.RevisionTable(rows)
}

func runFlowsShow(ctx context.Context, st *store.Store, printer *Printer, name string, revision int64) error {
	var (
		doc map[string]any
		err error
	)
	if revision > 0 {
		doc, err = st.LoadRevision(ctx, name, revision)
	} else {
		doc, err = st.LoadFlow(ctx, name)
	}
	if err != nil {
		return storeError(printer, err)
	}

	return printer.Result(doc, func(w io.Writer) error {
		data, err := ir.MarshalCanonical(doc)
		if err != nil {
			return storeError(printer, err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	})
}

func runFlowsDelete(ctx context.Context, st *store.Store, printer *Printer, name string) error {
	if _, err := st.LoadFlow(ctx, name); err != nil {
		return storeError(printer, err)
	}
	if err := st.DeleteFlow(ctx, name); err != nil {
		return storeError(printer, err)
	}

	return printer.Result(map[string]string{"deleted": name}, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "✓ Deleted %s\n", name)
		return err
	})
}
