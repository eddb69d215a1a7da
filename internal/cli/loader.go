package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/roach88/blockflow/internal/compiler"
)

// LoadMode controls how errors are handled during flow loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the flows compiled from a directory.
type LoadResult struct {
	Flows     map[string]map[string]any
	CUEValue  cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// LoadError represents an error that occurred during flow loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadFlows loads the CUE package in dir and compiles every flow.<name>.
// If mode is LoadModeFailFast, only the first compile error is returned.
func LoadFlows(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("flows directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing flows directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	value, err := compiler.BuildInstance(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}}
	}

	result := &LoadResult{CUEValue: value, FileCount: len(cueFiles)}
	flows, compileErrs := compiler.CompileFlows(value)
	result.Flows = flows

	var errs []error
	for _, e := range compileErrs {
		errs = append(errs, convertCompileError(e))
		if mode == LoadModeFailFast {
			return result, errs
		}
	}

	if len(result.Flows) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no flows found"})
	}
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Field + ": " + compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeStoreFailed = "E008" // Database error

	// Flow definition errors
	ErrCodeInvalidBlock   = "E110" // Malformed block definition
	ErrCodeInvalidMode    = "E111" // Unknown mode
	ErrCodeInvalidValue   = "E112" // Unsupported set value
	ErrCodeInvalidBinding = "E113" // Malformed bind entry
	ErrCodeInvalidType    = "E114" // Non-string is
)

// MapFieldToErrorCode maps a compiler error field to an error code by its
// last block keyword, e.g. calc.blocks.a.mode.
func MapFieldToErrorCode(field string) string {
	segs := strings.Split(field, ".")
	for i := len(segs) - 1; i >= 0; i-- {
		switch segs[i] {
		case "mode":
			return ErrCodeInvalidMode
		case "set":
			return ErrCodeInvalidValue
		case "bind":
			return ErrCodeInvalidBinding
		case "is":
			return ErrCodeInvalidType
		case "blocks", "priority", "sync":
			return ErrCodeInvalidBlock
		}
	}
	return ErrCodeGeneric
}
