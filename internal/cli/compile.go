package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/blockflow/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledFlow is one flow in compile output.
type CompiledFlow struct {
	Name   string         `json:"name"`
	Hash   string         `json:"hash"`
	Blocks int            `json:"blocks"`
	Doc    map[string]any `json:"doc"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <flows-dir>",
		Short: "Compile CUE flows to canonical JSON",
		Long: `Compile the flow definitions in a CUE package to the persisted
document format, printed (or written) as canonical JSON keyed by flow name.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, flowsDir string, cmd *cobra.Command) error {
	printer := newPrinter(opts.RootOptions, cmd)

	loadResult, loadErrors := LoadFlows(flowsDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(printer, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(printer, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	printer.Debugf("Found %d CUE file(s) in %s", loadResult.FileCount, flowsDir)

	if len(loadErrors) > 0 {
		return outputCompileErrors(printer, loadErrors)
	}

	flows, err := describeFlows(loadResult.Flows)
	if err != nil {
		return outputCompileError(printer, ErrCodeGeneric, err.Error(), nil)
	}
	for _, f := range flows {
		printer.Debugf("Compiled flow: %s (%d blocks)", f.Name, f.Blocks)
	}

	if opts.Output != "" {
		if err := writeFlowsToFile(loadResult.Flows, opts.Output); err != nil {
			return outputCompileError(printer, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(printer, loadResult.Flows, flows, opts.Output)
}

// describeFlows summarizes compiled flows in name order.
func describeFlows(docs map[string]map[string]any) ([]CompiledFlow, error) {
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	slices.Sort(names)

	out := make([]CompiledFlow, 0, len(names))
	for _, name := range names {
		hash, err := ir.FlowHash(docs[name])
		if err != nil {
			return nil, fmt.Errorf("flow %s: %w", name, err)
		}
		out = append(out, CompiledFlow{Name: name, Hash: hash, Blocks: countBlocks(docs[name]), Doc: docs[name]})
	}
	return out, nil
}

// countBlocks counts the child blocks of doc at every depth.
func countBlocks(doc map[string]any) int {
	n := 0
	for _, v := range doc {
		if ir.IsBlockDoc(v) {
			n += 1 + countBlocks(v.(map[string]any))
		}
	}
	return n
}

// outputCompileSuccess prints canonical JSON of every flow. In text mode a
// summary line per flow goes first.
func outputCompileSuccess(printer *Printer, docs map[string]map[string]any, flows []CompiledFlow, outputFile string) error {
	return printer.Result(flows, func(w io.Writer) error {
		fmt.Fprintf(w, "✓ Compiled %d flow(s)\n\n", len(flows))
		for _, f := range flows {
			fmt.Fprintf(w, "  %s: %d block(s) %s\n", f.Name, f.Blocks, shortHash(f.Hash))
		}
		fmt.Fprintln(w)

		if outputFile != "" {
			_, err := fmt.Fprintf(w, "Wrote canonical JSON to %s\n", outputFile)
			return err
		}
		data, err := canonicalFlows(docs)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	})
}

// outputCompileError outputs a single compilation error.
func outputCompileError(printer *Printer, code, message string, details any) error {
	_ = printer.Problem(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(printer *Printer, errs []error) error {
	problems := make([]Problem, len(errs))
	for i, err := range errs {
		code, message := parseLoadError(err)
		problems[i] = Problem{Code: code, Message: message}
	}
	summary := fmt.Sprintf("compilation failed with %d error(s)", len(errs))
	return printer.Problems(ExitCommandError, summary, "Compilation failed", problems, problems, func(w io.Writer) {
		for i, err := range errs {
			var loadErr *LoadError
			if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
				fmt.Fprintf(w, "%s:%d:%d\n", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
			}
			fmt.Fprintf(w, "  %s: %s\n\n", problems[i].Code, problems[i].Message)
		}
	})
}

// parseLoadError extracts error code and message from an error.
func parseLoadError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// canonicalFlows encodes flows keyed by name as canonical JSON.
func canonicalFlows(docs map[string]map[string]any) ([]byte, error) {
	m := make(map[string]any, len(docs))
	for name, doc := range docs {
		m[name] = doc
	}
	return ir.MarshalCanonical(m)
}

// writeFlowsToFile writes the compiled flows as canonical JSON.
func writeFlowsToFile(docs map[string]map[string]any, filename string) error {
	data, err := canonicalFlows(docs)
	if err != nil {
		return fmt.Errorf("marshaling flows: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
