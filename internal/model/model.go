// Package model holds the module graph of a loaded checkpoint and a small
// reference runtime whose matrices follow the row/column-parallel layout.
package model

import (
	"fmt"
	"sort"

	"github.com/samcharles93/lattice/internal/tensor"
)

// Split records how a module's weight was partitioned across ranks.
type Split uint8

const (
	Replicated Split = iota
	// SplitOutput means the rank holds a slice of the output rows.
	SplitOutput
	// SplitInput means the rank holds a slice of the input columns and its
	// product must be summed across ranks.
	SplitInput
)

func (s Split) String() string {
	switch s {
	case Replicated:
		return "replicated"
	case SplitOutput:
		return "split_output"
	case SplitInput:
		return "split_input"
	default:
		return fmt.Sprintf("split(%d)", uint8(s))
	}
}

// Module is a leaf weight with an optional bias.
type Module struct {
	Name   string
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
	Split  Split
}

func (m *Module) Bytes() int64 {
	if m == nil {
		return 0
	}
	return m.Weight.Bytes() + m.Bias.Bytes()
}

// Model is a decoder-only stack: embedding, layers, final norm and output head.
type Model struct {
	Config Config
	Family *Family

	// Modules maps leaf names (tensor names without .weight/.bias) to modules.
	Modules map[string]*Module

	Embed *Module
	Norm  *Module
	Head  *Module

	layers []Layer
}

// Layers returns the ordered layer list. Its length never changes after load.
func (m *Model) Layers() []Layer { return m.layers }

// SetLayer replaces layer i and drops the old layer's modules from the map.
func (m *Model) SetLayer(i int, l Layer) error {
	if i < 0 || i >= len(m.layers) {
		return fmt.Errorf("layer %d out of range [0,%d)", i, len(m.layers))
	}
	if b, ok := m.layers[i].(*Block); ok {
		for _, mod := range b.Modules() {
			delete(m.Modules, mod.Name)
		}
	}
	m.layers[i] = l
	return nil
}

// Release drops a top-level module and returns nil for assignment back into
// the owning field.
func (m *Model) Release(mod *Module) *Module {
	if mod != nil {
		if cur, ok := m.Modules[mod.Name]; ok && cur == mod {
			delete(m.Modules, mod.Name)
		}
	}
	return nil
}

// ModuleNames lists leaf module names in lexical order.
func (m *Model) ModuleNames() []string {
	names := make([]string, 0, len(m.Modules))
	for name := range m.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bytes reports the resident weight size. A tied head shares the embedding
// table and is not counted twice.
func (m *Model) Bytes() int64 {
	var n int64
	for _, mod := range m.Modules {
		n += mod.Bytes()
	}
	return n
}

// Reset clears per-sequence state in every layer.
func (m *Model) Reset() {
	for _, l := range m.layers {
		l.Reset()
	}
}
