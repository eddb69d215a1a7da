package ir

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Document keys with a fixed meaning.
const (
	KeyIs         = "#is"
	BindingPrefix = "~"
)

// BindingKey returns the key holding the binding path of field.
func BindingKey(field string) string { return BindingPrefix + field }

// SplitKey reports which field a key describes and whether it holds a
// binding path.
func SplitKey(key string) (field string, binding bool) {
	if f, ok := strings.CutPrefix(key, BindingPrefix); ok {
		return f, true
	}
	return key, false
}

// IsBlockDoc reports whether v is an embedded child block.
func IsBlockDoc(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m[KeyIs]
	return ok
}

// ValidPath reports whether path is a non-empty dotted path with no empty
// segments.
func ValidPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return false
		}
	}
	return true
}

// reserved fields that a document may not set. They are references to
// other blocks or runtime-only state.
var reserved = map[string]bool{
	"#":        true,
	"##":       true,
	"###":      true,
	"#global":  true,
	"#waiting": true,
}

// ValidationError lists every problem found in a document.
type ValidationError struct {
	Problems []Problem
}

// Problem is one invalid entry, addressed by its dotted path in the
// document.
type Problem struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		p := e.Problems[0]
		return fmt.Sprintf("%s: %s", p.Path, p.Message)
	}
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = fmt.Sprintf("%s: %s", p.Path, p.Message)
	}
	return fmt.Sprintf("%d problems: %s", len(e.Problems), strings.Join(parts, "; "))
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateDoc checks a document for structural problems: binding keys must
// hold valid paths, #is must be a string, reserved fields must be absent
// and every value must be encodable. It returns nil or a *ValidationError.
func ValidateDoc(doc map[string]any) error {
	var problems []Problem
	validateDoc("", doc, &problems)
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

func validateDoc(prefix string, doc map[string]any, problems *[]Problem) {
	add := func(key, msg string) {
		*problems = append(*problems, Problem{Path: join(prefix, key), Message: msg})
	}
	for _, key := range SortedKeys(doc) {
		v := doc[key]
		field, binding := SplitKey(key)
		if field == "" {
			add(key, "empty field name")
			continue
		}
		if reserved[field] {
			add(key, "reserved field")
			continue
		}
		if binding {
			path, ok := v.(string)
			if !ok {
				add(key, fmt.Sprintf("binding path must be a string, got %T", v))
			} else if !ValidPath(path) {
				add(key, fmt.Sprintf("invalid binding path %q", path))
			}
			if _, both := doc[field]; both {
				add(key, "field has both a value and a binding")
			}
			continue
		}
		if key == KeyIs {
			if _, ok := v.(string); !ok {
				add(key, fmt.Sprintf("type id must be a string, got %T", v))
			}
			continue
		}
		if IsBlockDoc(v) {
			validateDoc(join(prefix, key), v.(map[string]any), problems)
			continue
		}
		if err := checkValue(v); err != nil {
			add(key, err.Error())
		}
	}
}

func checkValue(v any) error {
	switch val := v.(type) {
	case nil, bool, string, json.Number,
		int, int8, int16, int32, int64,
		uint8, uint16, uint32, uint64, float32:
		return nil
	case float64:
		_, err := MarshalCanonical(val)
		return err
	case []any:
		for i, elem := range val {
			if err := checkValue(elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		return nil
	case map[string]any:
		for k, elem := range val {
			if err := checkValue(elem); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported value type %T", v)
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// Normalize returns doc with every value converted to the plain types the
// canonical encoder accepts. Decoders yield map[any]any (yaml) or typed
// slices; those are rewritten. Unsupported values are an error.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ks, err)
			}
			out[ks] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case json.Number:
		return val.Float64()
	case nil, bool, string, float64:
		return val, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// Decode parses JSON into a document, keeping numbers as float64.
func Decode(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		return nil, errors.New("decode document: not an object")
	}
	return doc, nil
}
