package wasm

import "github.com/wrtgo/wrtgo/internal/wrterr"

// Global is a single mutable/immutable typed cell (spec 3/4.G).
type Global struct {
	Type    ValueType
	Mutable bool
	value   Value
}

// NewGlobal constructs a Global with its initial value.
func NewGlobal(t ValueType, mutable bool, init Value) (*Global, error) {
	if init.Type != t {
		return nil, wrterr.New(wrterr.KindTypeMismatch, "global init type %s does not match declared type %s", init.Type, t)
	}
	return &Global{Type: t, Mutable: mutable, value: init}, nil
}

// Get returns the current value.
func (g *Global) Get() Value { return g.value }

// Set updates the value. Fails with TypeMismatch if the value's type
// differs from the global's declared type, and with an error if the global
// is immutable (spec 4.G).
func (g *Global) Set(v Value) error {
	if !g.Mutable {
		return wrterr.New(wrterr.KindInvalidConfiguration, "global is immutable")
	}
	if v.Type != g.Type {
		return wrterr.New(wrterr.KindTypeMismatch, "set type %s does not match global type %s", v.Type, g.Type)
	}
	g.value = v
	return nil
}
