package block

import (
	"strings"

	"github.com/roach88/blockflow/internal/ir"
)

// Kind classifies a property by its name. It is computed once when the
// property is created.
type Kind uint8

const (
	// KindPin is a regular input/output pin.
	KindPin Kind = iota
	// KindAttribute is an editor attribute ("@x").
	KindAttribute
	// KindHelper holds helper blocks ("!x").
	KindHelper
	// KindProperty is an unreserved "#x" property such as #emit.
	KindProperty
	// KindSelf is "#", the block itself.
	KindSelf
	// KindParent is "##", the parent block.
	KindParent
	// KindJob is "###", the owning job.
	KindJob
	// KindGlobal is "#global", the root's shared block.
	KindGlobal
	// KindIs is "#is", the function type id.
	KindIs
	// KindMode is "#mode".
	KindMode
	// KindCall is "#call", the run trigger.
	KindCall
	// KindSync is "#sync".
	KindSync
	// KindLen is "#len".
	KindLen
	// KindPriority is "#priority".
	KindPriority
	// KindWaiting is "#waiting", true while async work is pending.
	KindWaiting
	// KindCancel is "#cancel", the cancel trigger.
	KindCancel
)

var configKinds = map[string]Kind{
	"#":         KindSelf,
	"##":        KindParent,
	"###":       KindJob,
	"#global":   KindGlobal,
	"#is":       KindIs,
	"#mode":     KindMode,
	"#call":     KindCall,
	"#sync":     KindSync,
	"#len":      KindLen,
	"#priority": KindPriority,
	"#waiting":  KindWaiting,
	"#cancel":   KindCancel,
}

// ClassifyName returns the Kind of a property name.
func ClassifyName(name string) Kind {
	switch {
	case strings.HasPrefix(name, "#"):
		if k, ok := configKinds[name]; ok {
			return k
		}
		return KindProperty
	case strings.HasPrefix(name, "@"):
		return KindAttribute
	case strings.HasPrefix(name, "!"):
		return KindHelper
	default:
		return KindPin
	}
}

// IsReference reports whether the kind is one of the read-only block
// references.
func (k Kind) IsReference() bool {
	switch k {
	case KindSelf, KindParent, KindJob, KindGlobal:
		return true
	}
	return false
}

// IsConfig reports whether changes to the kind are forwarded to the block.
func (k Kind) IsConfig() bool {
	return k >= KindIs
}

// Field names used by the runtime.
const (
	FieldIs       = ir.KeyIs
	FieldMode     = "#mode"
	FieldCall     = "#call"
	FieldSync     = "#sync"
	FieldLen      = "#len"
	FieldPriority = "#priority"
	FieldWaiting  = "#waiting"
	FieldCancel   = "#cancel"
	FieldEmit     = "#emit"
	FieldOutput   = "#output"
	FieldGlobal   = "#global"
)

// BindingPrefix marks a persisted key whose value is a binding path.
const BindingPrefix = ir.BindingPrefix
