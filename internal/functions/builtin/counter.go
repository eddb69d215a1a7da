package builtin

import (
	"fmt"

	"github.com/roach88/blockflow/internal/functions"
)

// counter counts #call pulses into OutputField. Remote commands:
//
//	get          current count
//	add {by: n}  add n
//	reset        back to zero
type counter struct {
	functions.Base
	n float64
}

var _ functions.Commander = (*counter)(nil)

func (f *counter) Run() any {
	f.n++
	f.Host.Output(OutputField, f.n)
	return nil
}

func (f *counter) Command(name string, params map[string]any) (any, error) {
	switch name {
	case "get":
		return f.n, nil
	case "add":
		by, ok := ToNumber(params["by"])
		if !ok {
			return nil, fmt.Errorf("add: by is not a number")
		}
		f.n += by
	case "reset":
		f.n = 0
	default:
		return nil, fmt.Errorf("unknown command %s", name)
	}
	f.Host.Output(OutputField, f.n)
	return f.n, nil
}

func newCounter(h functions.Host) functions.Function {
	return &counter{Base: functions.Base{Host: h}}
}
