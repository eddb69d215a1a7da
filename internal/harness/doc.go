// Package harness runs scripted scenarios against block flows.
//
// A scenario loads flows, drives them through a real engine and store,
// and checks values along the way.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: add_chain
//	description: "A sum feeds a second adder"
//	flows:
//	  calc:
//	    file: ../flows/calc.cue   # defines flow: calc
//	  inline:
//	    doc: {a: {"#is": add, "0": 1, "1": 2}}
//	steps:
//	  - set: {path: calc.a.0, value: 4}
//	    expect:
//	      "calc.b.#output": 17
//	  - bind: {path: calc.b.1, to: "##.a.#output"}
//	  - call: inline.a
//	  - wait: {path: "inline.a.#output", value: 3, timeout: 1s}
//	assertions:
//	  - type: saved_equals
//	    flow: calc
//	    path: b.~0
//	    value: "##.a.#output"
//	  - type: revision_count
//	    flow: calc
//	    count: 2
//	golden: true
//
// Paths start at the flow name. Runtime-only values compare against
// the markers "<event>", "<error>" and "<wait>".
//
// # Deterministic Testing
//
// Every run gets a fresh in-memory SQLite store and sequential block ids.
// A golden scenario is compared against testdata/golden/<name>.golden,
// which holds the canonical JSON of the executed steps and the stored
// flows.
package harness
