package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/blockflow/internal/protocol"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // invalid flows, failed scenarios, engine errors
	ExitCommandError = 2 // bad arguments, missing paths or database
)

// ExitError carries the exit code a failed command should end with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError creates an ExitError.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that carry no code
// are failures.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	if exitErr := (*ExitError)(nil); errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Envelope wraps every JSON document a command prints.
type Envelope struct {
	Status string   `json:"status"` // "ok" or "error"
	Data   any      `json:"data,omitempty"`
	Error  *Problem `json:"error,omitempty"`
}

// Problem is a coded error in JSON output.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Printer writes command results as text or as JSON envelopes. Diagnostics
// go to Diag so they never mix with a JSON document on Out.
type Printer struct {
	Format  string
	Out     io.Writer
	Diag    io.Writer
	Verbose bool
}

func newPrinter(opts *RootOptions, cmd *cobra.Command) *Printer {
	return &Printer{
		Format:  opts.Format,
		Out:     cmd.OutOrStdout(),
		Diag:    cmd.ErrOrStderr(),
		Verbose: opts.Verbose,
	}
}

// JSON reports whether output is JSON.
func (p *Printer) JSON() bool { return p.Format == "json" }

// Result prints data as an ok envelope, or runs text in text mode. A nil
// text prints data with fmt.
func (p *Printer) Result(data any, text func(w io.Writer) error) error {
	if p.JSON() {
		return p.encode(Envelope{Status: "ok", Data: data})
	}
	if text == nil {
		_, err := fmt.Fprintln(p.Out, data)
		return err
	}
	return text(p.Out)
}

// Problem prints one coded error.
func (p *Printer) Problem(code, message string, details any) error {
	if p.JSON() {
		return p.encode(Envelope{Status: "error", Error: &Problem{Code: code, Message: message, Details: details}})
	}
	fmt.Fprintf(p.Out, "Error [%s]: %s\n", code, message)
	if p.Verbose && details != nil {
		fmt.Fprintf(p.Out, "Details: %v\n", details)
	}
	return nil
}

// Problems prints a batch of errors: an error envelope led by the first
// problem and carrying data, or a header plus text in text mode. It
// returns an ExitError with exitCode and summary.
func (p *Printer) Problems(exitCode int, summary, header string, problems []Problem, data any, text func(w io.Writer)) error {
	if p.JSON() {
		env := Envelope{Status: "error", Data: data}
		if len(problems) > 0 {
			env.Error = &problems[0]
		}
		if err := p.encode(env); err != nil {
			return err
		}
		return NewExitError(exitCode, summary)
	}
	fmt.Fprintf(p.Out, "✗ %s\n\n", header)
	text(p.Out)
	return NewExitError(exitCode, summary)
}

// Fail prints one coded error and returns the matching ExitError.
func (p *Printer) Fail(exitCode int, code, message string, err error) error {
	_ = p.Problem(code, message, nil)
	return WrapExitError(exitCode, code+": "+message, err)
}

// Debugf writes a diagnostic line in verbose mode.
func (p *Printer) Debugf(format string, args ...any) {
	if !p.Verbose {
		return
	}
	w := p.Diag
	if w == nil {
		w = p.Out
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func (p *Printer) encode(env Envelope) error {
	enc := json.NewEncoder(p.Out)
	if env.Status == "error" {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(env)
}

// FlowTable prints stored flows, one row per flow.
func (p *Printer) FlowTable(rows []FlowSummary) error {
	return p.Result(rows, func(w io.Writer) error {
		if len(rows) == 0 {
			_, err := fmt.Fprintln(w, "No flows stored.")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tREVISION\tHASH\tFORMAT\tENGINE")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", r.Name, r.Revision, shortHash(r.ContentHash), r.FormatVersion, r.EngineVersion)
		}
		return tw.Flush()
	})
}

// RevisionTable prints the history of one flow, oldest first.
func (p *Printer) RevisionTable(rows []RevisionSummary) error {
	return p.Result(rows, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEQ\tREVISION\tHASH\t")
		for _, r := range rows {
			mark := ""
			if r.Deleted {
				mark = "deleted"
			}
			fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", r.Seq, r.Revision, shortHash(r.ContentHash), mark)
		}
		return tw.Flush()
	})
}

// Update prints one subscription frame for path. JSON mode emits a bare
// object per line so the stream stays line-delimited.
func (p *Printer) Update(path string, m protocol.Message) error {
	value := m[protocol.FieldValue]
	bound, _ := m[protocol.FieldBindingPath].(string)
	if p.JSON() {
		line := map[string]any{"path": path, "value": value}
		if bound != "" {
			line["bindingPath"] = bound
		}
		return json.NewEncoder(p.Out).Encode(line)
	}
	text, err := describeValue(value)
	if err != nil {
		return err
	}
	if bound != "" {
		text += " (bound to " + bound + ")"
	}
	_, err = fmt.Fprintf(p.Out, "%s = %s\n", path, text)
	return err
}

// describeValue renders a wire value, spelling out events, errors and
// block references.
func describeValue(v any) (string, error) {
	if m, ok := v.(map[string]any); ok {
		if msg, ok := m["#error"]; ok {
			code, _ := m["code"].(string)
			return fmt.Sprintf("error [%s] %v", code, msg), nil
		}
		if pass, ok := m["#event"]; ok && len(m) == 1 {
			return fmt.Sprintf("event (pass %v)", pass), nil
		}
		if id, ok := m[protocol.BlockRefField]; ok && len(m) == 1 {
			return fmt.Sprintf("block %v", id), nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
