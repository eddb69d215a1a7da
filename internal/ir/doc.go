// Package ir defines the persisted graph document format and its canonical
// encoding.
//
// A document is a nested map. A key prefixed "~" holds the binding path of
// the field named by the rest of the key. A nested map with a "#is" key is
// an embedded child block. Every other key is a literal saved value.
//
// ir imports nothing internal, so storage, the compiler and the graph can
// all share it.
package ir
