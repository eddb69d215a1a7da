package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/blockflow/internal/functions"
	"github.com/roach88/blockflow/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidDocument = "E100" // structural problem in the document
	ErrUnknownType     = "E101" // #is names no registered function
	ErrInvalidMode     = "E102" // #mode is not a mode name
	ErrDanglingBinding = "E103" // binding names a sibling that does not exist
)

// ValidationError represents a flow validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a flow document against a registry. Returns all errors
// found (does not fail-fast). A nil registry skips type checks.
func Validate(name string, doc map[string]any, reg *functions.Registry) []ValidationError {
	var errs []ValidationError
	if err := ir.ValidateDoc(doc); err != nil {
		if ve, ok := err.(*ir.ValidationError); ok {
			for _, p := range ve.Problems {
				errs = append(errs, ValidationError{
					Field:   name + "." + p.Path,
					Message: p.Message,
					Code:    ErrInvalidDocument,
				})
			}
		}
	}
	validateBlock(name, doc, reg, &errs)
	return errs
}

func validateBlock(path string, doc map[string]any, reg *functions.Registry, errs *[]ValidationError) {
	add := func(field, code, msg string) {
		*errs = append(*errs, ValidationError{Field: path + "." + field, Message: msg, Code: code})
	}

	// Namespaced ids (":name") resolve against the owning job at runtime.
	if is, ok := doc[ir.KeyIs].(string); ok && is != "" && !strings.HasPrefix(is, ":") && reg != nil {
		if reg.Get(is) == nil {
			add(ir.KeyIs, ErrUnknownType, fmt.Sprintf("unknown function type %q", is))
		}
	}
	if m, ok := doc["#mode"].(string); ok {
		if _, valid := functions.ParseMode(m); !valid {
			add("#mode", ErrInvalidMode, fmt.Sprintf("unknown mode %q", m))
		}
	}

	for _, k := range ir.SortedKeys(doc) {
		child, ok := doc[k].(map[string]any)
		if !ok || !ir.IsBlockDoc(child) {
			continue
		}
		for _, ck := range ir.SortedKeys(child) {
			field, binding := ir.SplitKey(ck)
			if !binding {
				continue
			}
			target, _ := child[ck].(string)
			sibling, ok := siblingOf(target)
			if !ok {
				continue
			}
			if _, exists := doc[sibling]; !exists {
				if _, bound := doc[ir.BindingKey(sibling)]; !bound {
					*errs = append(*errs, ValidationError{
						Field:   path + "." + k + "." + ir.BindingKey(field),
						Message: fmt.Sprintf("binding %q names missing sibling %q", target, sibling),
						Code:    ErrDanglingBinding,
					})
				}
			}
		}
		validateBlock(path+"."+k, child, reg, errs)
	}
}

// siblingOf returns the sibling named by a "##.name..." path.
func siblingOf(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "##.")
	if !ok {
		return "", false
	}
	name, _, _ := strings.Cut(rest, ".")
	if strings.HasPrefix(name, "#") {
		return "", false
	}
	return name, true
}
