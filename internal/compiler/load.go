package compiler

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// FlowsField is the top-level CUE field holding flow definitions.
const FlowsField = "flow"

// ErrNoInstance is returned when CUE loading produced nothing to build.
var ErrNoInstance = errors.New("no CUE instances loaded")

// BuildInstance loads and builds CUE from dir. With no files the package
// in dir is loaded; otherwise only the named files, relative to dir.
func BuildInstance(dir string, files ...string) (cue.Value, error) {
	args := files
	if len(args) == 0 {
		args = []string{"."}
	}
	instances := load.Instances(args, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, ErrNoInstance
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("loading CUE files: %w", inst.Err)
	}
	v := cuecontext.New().BuildInstance(inst)
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("building CUE value: %w", err)
	}
	return v, nil
}

// CompileFlows compiles every flow under the flow field of v. Flows that
// fail are reported in errs and left out of the result.
func CompileFlows(v cue.Value) (flows map[string]map[string]any, errs []error) {
	flows = make(map[string]map[string]any)
	root := v.LookupPath(cue.ParsePath(FlowsField))
	if !root.Exists() {
		return flows, nil
	}
	iter, err := root.Fields()
	if err != nil {
		return flows, []error{formatCUEError(FlowsField, err)}
	}
	for iter.Next() {
		name := labelName(iter.Selector())
		doc, err := CompileFlow(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("flow %s: %w", name, err))
			continue
		}
		flows[name] = doc
	}
	return flows, errs
}
