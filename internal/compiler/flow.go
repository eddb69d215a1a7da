package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/blockflow/internal/functions"
	"github.com/roach88/blockflow/internal/ir"
)

// Fields of a block definition.
const (
	fieldIs       = "is"
	fieldMode     = "mode"
	fieldPriority = "priority"
	fieldSync     = "sync"
	fieldSet      = "set"
	fieldBind     = "bind"
	fieldBlocks   = "blocks"
)

// CompileFlow turns a CUE flow definition into a persisted document.
//
// A flow is a block definition:
//
//	flow: calc: {
//		blocks: {
//			a: {is: "add", set: {"0": 2, "1": 3}}
//			b: {is: "add", bind: {"0": "##.a.#output"}, set: {"1": 10}}
//		}
//	}
//
// is, mode, priority and sync set the block's #is, #mode, #priority and
// #sync. set holds saved values, bind holds binding paths and blocks holds
// child block definitions. Any other field is an error.
func CompileFlow(v cue.Value) (map[string]any, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError("flow", err)
	}
	name := "flow"
	if sels := v.Path().Selectors(); len(sels) > 0 {
		name = labelName(sels[len(sels)-1])
	}
	doc, err := compileBlock(v, name)
	if err != nil {
		return nil, err
	}
	if err := ir.ValidateDoc(doc); err != nil {
		return nil, &CompileError{Field: name, Message: err.Error(), Pos: v.Pos()}
	}
	return doc, nil
}

func labelName(sel cue.Selector) string {
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

func compileBlock(v cue.Value, path string) (map[string]any, error) {
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: path, Message: "block must be a struct", Pos: v.Pos()}
	}
	doc := map[string]any{ir.KeyIs: ""}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(path, err)
	}
	for iter.Next() {
		label := iter.Selector().Unquoted()
		fv := iter.Value()
		field := path + "." + label

		switch label {
		case fieldIs:
			s, err := fv.String()
			if err != nil {
				return nil, formatCUEError(field, err)
			}
			doc[ir.KeyIs] = s
		case fieldMode:
			s, err := fv.String()
			if err != nil {
				return nil, formatCUEError(field, err)
			}
			mode, ok := functions.ParseMode(s)
			if !ok {
				return nil, &CompileError{Field: field, Message: fmt.Sprintf("unknown mode %q", s), Pos: fv.Pos()}
			}
			doc["#mode"] = mode.String()
		case fieldPriority:
			n, err := fv.Int64()
			if err != nil {
				return nil, formatCUEError(field, err)
			}
			doc["#priority"] = float64(n)
		case fieldSync:
			b, err := fv.Bool()
			if err != nil {
				return nil, formatCUEError(field, err)
			}
			doc["#sync"] = b
		case fieldSet:
			if err := compileValues(fv, field, doc); err != nil {
				return nil, err
			}
		case fieldBind:
			if err := compileBindings(fv, field, doc); err != nil {
				return nil, err
			}
		case fieldBlocks:
			if err := compileChildren(fv, path, field, doc); err != nil {
				return nil, err
			}
		default:
			return nil, &CompileError{Field: field, Message: "unknown field", Pos: fv.Pos()}
		}
	}
	return doc, nil
}

func compileValues(v cue.Value, field string, doc map[string]any) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(field, err)
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		if err := checkPin(name, iter.Value(), field); err != nil {
			return err
		}
		val, err := toGo(iter.Value(), field+"."+name)
		if err != nil {
			return err
		}
		doc[name] = val
	}
	return nil
}

func compileBindings(v cue.Value, field string, doc map[string]any) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(field, err)
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		fv := iter.Value()
		if err := checkPin(name, fv, field); err != nil {
			return err
		}
		path, err := fv.String()
		if err != nil {
			return formatCUEError(field+"."+name, err)
		}
		if !ir.ValidPath(path) {
			return &CompileError{Field: field + "." + name, Message: fmt.Sprintf("invalid binding path %q", path), Pos: fv.Pos()}
		}
		if _, ok := doc[name]; ok {
			return &CompileError{Field: field + "." + name, Message: "field is both set and bound", Pos: fv.Pos()}
		}
		doc[ir.BindingKey(name)] = path
	}
	return nil
}

func compileChildren(v cue.Value, path, field string, doc map[string]any) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(field, err)
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		if err := checkPin(name, iter.Value(), field); err != nil {
			return err
		}
		if _, ok := doc[name]; ok {
			return &CompileError{Field: field + "." + name, Message: "name already used by a value", Pos: iter.Value().Pos()}
		}
		child, err := compileBlock(iter.Value(), path+"."+name)
		if err != nil {
			return err
		}
		doc[name] = child
	}
	return nil
}

// checkPin rejects names the runtime owns. Config fields have their own
// keywords and references are read-only.
func checkPin(name string, v cue.Value, field string) error {
	if name == "" || strings.HasPrefix(name, ir.BindingPrefix) {
		return &CompileError{Field: field + "." + name, Message: "invalid field name", Pos: v.Pos()}
	}
	switch name {
	case "#", "##", "###", "#global", "#is", "#mode", "#priority", "#sync", "#waiting":
		return &CompileError{Field: field + "." + name, Message: "reserved field name", Pos: v.Pos()}
	}
	return nil
}

// toGo converts a concrete CUE value to a document value. Numbers become
// float64, the only number type the runtime produces.
func toGo(v cue.Value, field string) (any, error) {
	if !v.IsConcrete() {
		return nil, &CompileError{Field: field, Message: "value must be concrete", Pos: v.Pos()}
	}
	switch v.Kind() {
	case cue.NullKind:
		return nil, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return b, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return s, nil
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		return f, nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		out := []any{}
		for i := 0; iter.Next(); i++ {
			elem, err := toGo(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(field, err)
		}
		out := map[string]any{}
		for iter.Next() {
			name := iter.Selector().Unquoted()
			elem, err := toGo(iter.Value(), field+"."+name)
			if err != nil {
				return nil, err
			}
			out[name] = elem
		}
		if ir.IsBlockDoc(out) {
			return nil, &CompileError{Field: field, Message: "values may not contain #is; declare a block under blocks", Pos: v.Pos()}
		}
		return out, nil
	}
	return nil, &CompileError{Field: field, Message: fmt.Sprintf("unsupported kind %v", v.Kind()), Pos: v.Pos()}
}
