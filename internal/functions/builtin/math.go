// Package builtin holds the small set of behaviors the runtime ships with.
package builtin

import (
	"fmt"
	"strconv"

	"github.com/roach88/blockflow/internal/event"
	"github.com/roach88/blockflow/internal/functions"
)

// OutputField is where arithmetic functions write their result.
const OutputField = "#output"

const defaultLength = 2

type reducer func(acc, v float64) float64

// arithmetic folds numbered input pins "0", "1", ... into OutputField.
type arithmetic struct {
	functions.Base
	op reducer
}

func (f *arithmetic) Run() any {
	n := f.Host.Length()
	if n <= 0 {
		n = defaultLength
	}
	var acc float64
	for i := 0; i < n; i++ {
		raw := f.Host.GetValue(strconv.Itoa(i))
		v, ok := ToNumber(raw)
		if !ok {
			f.Host.Output(OutputField, nil)
			if raw == nil {
				return nil
			}
			return event.NewError(event.CodeFailed, fmt.Sprintf("input %d is not a number", i), raw)
		}
		if i == 0 {
			acc = v
			continue
		}
		acc = f.op(acc, v)
	}
	f.Host.Output(OutputField, acc)
	return nil
}

func newArithmetic(op reducer) functions.Factory {
	return func(h functions.Host) functions.Function {
		return &arithmetic{Base: functions.Base{Host: h}, op: op}
	}
}

func arithmeticDesc(name string) functions.Descriptor {
	return functions.Descriptor{
		Name:       name,
		Category:   "math",
		Priority:   0,
		Mode:       functions.ModeAlways,
		UsesLength: true,
		Properties: []functions.PropertyDesc{
			{Name: "0", Type: "number"},
			{Name: "1", Type: "number"},
			{Name: OutputField, Type: "number", Readonly: true},
		},
	}
}

// ToNumber converts the numeric shapes values arrive in (Go literals, JSON,
// msgpack, YAML) to float64.
func ToNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
