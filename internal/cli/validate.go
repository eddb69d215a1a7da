package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/blockflow/internal/compiler"
	"github.com/roach88/blockflow/internal/functions"
	"github.com/roach88/blockflow/internal/functions/builtin"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <flows-dir>",
		Short: "Validate flows without writing output",
		Long: `Validate the CUE flows in a directory.

Compiles every flow, checks function types against the builtin registry,
checks sibling bindings, and reports binding cycles as warnings.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, flowsDir string, cmd *cobra.Command) error {
	printer := newPrinter(opts, cmd)

	result, err := validateDir(flowsDir, printer)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(printer, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(printer, ErrCodeGeneric, err.Error(), nil)
	}

	if !result.Valid {
		return outputValidationErrors(printer, result)
	}
	return outputValidateSuccess(printer, result)
}

// validateDir compiles and checks every flow in dir. A returned error
// means nothing could be loaded; per-flow problems land in the result.
func validateDir(flowsDir string, printer *Printer) (*ValidationResult, error) {
	loadResult, loadErrors := LoadFlows(flowsDir, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}

	printer.Debugf("Found %d CUE file(s) in %s", loadResult.FileCount, flowsDir)

	result := &ValidationResult{}
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			result.Errors = append(result.Errors, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
			})
		}
	}

	reg := functions.NewRegistry()
	builtin.Register(reg)

	names := make([]string, 0, len(loadResult.Flows))
	for name := range loadResult.Flows {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		printer.Debugf("Validating flow: %s", name)
		doc := loadResult.Flows[name]
		result.Errors = append(result.Errors, compiler.Validate(name, doc, reg)...)
		result.Warnings = append(result.Warnings, compiler.AnalyzeCycles(name, doc)...)
	}

	result.Valid = len(result.Errors) == 0
	return result, nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(printer *Printer, result *ValidationResult) error {
	return printer.Result(result, func(w io.Writer) error {
		writeWarnings(w, result.Warnings)
		_, err := fmt.Fprintln(w, "✓ All flows valid")
		return err
	})
}

// outputValidateError outputs a single validation error.
func outputValidateError(printer *Printer, code, message string, details any) error {
	_ = printer.Problem(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(printer *Printer, result *ValidationResult) error {
	errs := result.Errors
	problems := make([]Problem, len(errs))
	for i, err := range errs {
		problems[i] = Problem{Code: err.Code, Message: err.Message}
	}
	summary := fmt.Sprintf("validation failed with %d error(s)", len(errs))
	return printer.Problems(ExitFailure, summary, "Validation failed", problems, result, func(w io.Writer) {
		for _, err := range errs {
			fmt.Fprintf(w, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
		}
		writeWarnings(w, result.Warnings)
	})
}

func writeWarnings(w io.Writer, warnings []compiler.CycleWarning) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "⚠ %s\n", warn.Message)
	}
}

// ValidateFlowsDir validates all flows in a directory.
// This is a helper function for external callers.
func ValidateFlowsDir(flowsDir string) ([]compiler.ValidationError, error) {
	silent := &Printer{Format: "text", Out: io.Discard}
	result, err := validateDir(flowsDir, silent)
	if err != nil {
		return nil, err
	}
	return result.Errors, nil
}
