package builtin

import "github.com/roach88/blockflow/internal/functions"

// Register adds every builtin to reg.
func Register(reg *functions.Registry) {
	reg.MustAdd(newArithmetic(func(acc, v float64) float64 { return acc + v }), arithmeticDesc("add"), "")
	reg.MustAdd(newArithmetic(func(acc, v float64) float64 { return acc - v }), arithmeticDesc("subtract"), "")
	reg.MustAdd(newArithmetic(func(acc, v float64) float64 { return acc * v }), arithmeticDesc("multiply"), "")
	reg.MustAdd(newDelay, functions.Descriptor{
		Name:     "delay",
		Category: "time",
		Priority: 1,
		Mode:     functions.ModeOnChange,
		Properties: []functions.PropertyDesc{
			{Name: "input"},
			{Name: "delay", Type: "number", Default: 0},
		},
	}, "")
	reg.MustAdd(newCounter, functions.Descriptor{
		Name:     "counter",
		Category: "state",
		Priority: 1,
		Mode:     functions.ModeOnCall,
	}, "")
}
