package handler

import "fmt"

// Handler emits the IR for one instruction. The reader is positioned just
// past the opcode (and sub-opcode for prefixed families); handlers consume
// their own immediates.
//
// Handlers are stateless and shared across functions. All mutable state
// lives in the Context.
type Handler interface {
	Handle(ctx *Context, r *Reader) error
}

// Func is an adapter to use ordinary functions as Handlers.
type Func func(ctx *Context, r *Reader) error

// Handle implements Handler.
func (f Func) Handle(ctx *Context, r *Reader) error {
	return f(ctx, r)
}

// Registry maps opcodes to their handlers.
//
// Single-byte opcodes are looked up directly. Prefixed families (0xFC,
// 0xFD, 0xFE) register a Prefix table under the prefix byte, which reads
// the LEB128 sub-opcode and dispatches again.
type Registry struct {
	handlers [256]Handler
	names    [256]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a handler for a single opcode, replacing any previous one.
func (r *Registry) Register(opcode byte, h Handler, name string) {
	r.handlers[opcode] = h
	r.names[opcode] = name
}

// RegisterFunc registers a function as a handler for an opcode.
func (r *Registry) RegisterFunc(opcode byte, fn func(*Context, *Reader) error, name string) {
	r.Register(opcode, Func(fn), name)
}

// Get returns the handler for an opcode, or nil if not registered.
func (r *Registry) Get(opcode byte) Handler {
	return r.handlers[opcode]
}

// Has returns true if a handler is registered for the opcode.
func (r *Registry) Has(opcode byte) bool {
	return r.handlers[opcode] != nil
}

// Name returns the name of the handler for an opcode.
func (r *Registry) Name(opcode byte) string {
	return r.names[opcode]
}

// MissingHandlers returns opcodes that have no registered handler.
func (r *Registry) MissingHandlers(opcodes []byte) []byte {
	var missing []byte
	for _, op := range opcodes {
		if r.handlers[op] == nil {
			missing = append(missing, op)
		}
	}
	return missing
}

// Prefix returns the sub-opcode table registered for prefix, creating it
// on first use.
func (r *Registry) Prefix(prefix byte, family string) *Prefix {
	if p, ok := r.handlers[prefix].(*Prefix); ok {
		return p
	}
	p := &Prefix{Family: family, handlers: make(map[uint32]Handler), names: make(map[uint32]string)}
	r.Register(prefix, p, family)
	return p
}

// Prefix dispatches a prefixed opcode family on its LEB128 sub-opcode.
type Prefix struct {
	Family string
	// Known reports whether a sub-opcode exists in the family. Known but
	// unregistered sub-opcodes are unsupported; unknown ones are invalid.
	Known func(sub uint32) bool
	// Enabled reports whether the family's proposal is enabled.
	Enabled func(ctx *Context, sub uint32) bool

	handlers map[uint32]Handler
	names    map[uint32]string
}

// Register adds a handler for sub-opcode sub.
func (p *Prefix) Register(sub uint32, h Handler, name string) {
	p.handlers[sub] = h
	p.names[sub] = name
}

// RegisterFunc registers a function for sub-opcode sub.
func (p *Prefix) RegisterFunc(sub uint32, fn func(*Context, *Reader) error, name string) {
	p.Register(sub, Func(fn), name)
}

// Get returns the handler for sub, or nil.
func (p *Prefix) Get(sub uint32) Handler { return p.handlers[sub] }

// Name returns the mnemonic registered for sub.
func (p *Prefix) Name(sub uint32) string {
	if n, ok := p.names[sub]; ok {
		return n
	}
	return fmt.Sprintf("%s 0x%x", p.Family, sub)
}

// Handle implements Handler.
func (p *Prefix) Handle(ctx *Context, r *Reader) error {
	sub, err := r.U32()
	if err != nil {
		return err
	}
	if p.Enabled != nil && !p.Enabled(ctx, sub) {
		return ctx.Unsupported(r, "%s is disabled", p.Name(sub))
	}
	h := p.handlers[sub]
	if h == nil {
		if p.Known != nil && p.Known(sub) {
			return ctx.Unsupported(r, "unsupported %s opcode 0x%x", p.Family, sub)
		}
		return ctx.Internal(r, "invalid %s opcode 0x%x", p.Family, sub)
	}
	return h.Handle(ctx, r)
}

// Default returns a registry with every family this compiler lowers.
// Control flow, calls and local variables are translated by the caller.
func Default() *Registry {
	r := NewRegistry()
	RegisterParametricHandlers(r)
	RegisterVariableHandlers(r)
	RegisterConstantHandlers(r)
	RegisterNumericHandlers(r)
	RegisterConversionHandlers(r)
	RegisterMemoryHandlers(r)
	RegisterReferenceHandlers(r)
	RegisterMiscHandlers(r)
	RegisterAtomicHandlers(r)
	RegisterSIMDHandlers(r)
	return r
}
