package functions

import (
	"encoding/json"
	"fmt"
)

// PropertyDesc describes one property of a Function for editors.
type PropertyDesc struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Readonly bool   `json:"readonly,omitempty"`
	Default  any    `json:"default,omitempty"`
}

// Descriptor is the editor-facing schema of a Function, plus the
// scheduling metadata the Block needs.
type Descriptor struct {
	Name        string         `json:"name"`
	ID          string         `json:"id,omitempty"`
	Namespace   string         `json:"ns,omitempty"`
	Category    string         `json:"category,omitempty"`
	Description string         `json:"desc,omitempty"`
	Priority    int            `json:"priority"`
	Mode        Mode           `json:"mode"`
	UsesLength  bool           `json:"useLength,omitempty"`
	Properties  []PropertyDesc `json:"properties,omitempty"`
}

// Validate checks the scheduling metadata.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("descriptor: missing name")
	}
	if d.Priority < 0 || d.Priority > 3 {
		return fmt.Errorf("descriptor %q: priority %d out of range 0..3", d.Name, d.Priority)
	}
	if d.Mode < ModeAuto || d.Mode > ModeDisabled {
		return fmt.Errorf("descriptor %q: invalid mode %d", d.Name, int(d.Mode))
	}
	return nil
}

// Wire returns the descriptor as a plain map for transports.
func (d *Descriptor) Wire() map[string]any {
	m := map[string]any{
		"name":     d.Name,
		"id":       d.ID,
		"priority": d.Priority,
		"mode":     d.Mode.String(),
	}
	if d.Namespace != "" {
		m["ns"] = d.Namespace
	}
	if d.Category != "" {
		m["category"] = d.Category
	}
	if d.Description != "" {
		m["desc"] = d.Description
	}
	if d.UsesLength {
		m["useLength"] = true
	}
	if len(d.Properties) > 0 {
		props := make([]any, len(d.Properties))
		for i, p := range d.Properties {
			pm := map[string]any{"name": p.Name}
			if p.Type != "" {
				pm["type"] = p.Type
			}
			if p.Readonly {
				pm["readonly"] = true
			}
			if p.Default != nil {
				pm["default"] = p.Default
			}
			props[i] = pm
		}
		m["properties"] = props
	}
	return m
}

// encodedSize returns the byte size of the wire form, used for frame
// budgeting.
func (d *Descriptor) encodedSize() int {
	data, err := json.Marshal(d.Wire())
	if err != nil {
		return 0
	}
	return len(data)
}
