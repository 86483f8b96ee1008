package runtime

import (
	"context"
	"math"
	"reflect"
	"strings"
	"sync"
	"unicode"

	wasmaot "github.com/wippyai/wasm-aot"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/wasm"
)

// HostFunc is the raw form of an imported function. args and results hold
// one WebAssembly value each: i32 in the low 32 bits, floats as their bit
// patterns. mem is the instance's linear memory, nil when it has none.
type HostFunc func(ctx context.Context, mem wasmaot.Memory, args []uint64) ([]uint64, error)

// Host is the interface for struct-based host modules.
// All exported methods (except Namespace) are registered as host functions.
type Host interface {
	// Namespace returns the import module name (e.g., "env").
	Namespace() string
}

// hostEntry is a registered function with the signature derived from its
// Go type. params and results are nil for raw HostFuncs, which accept any
// import signature.
type hostEntry struct {
	fn      HostFunc
	params  []wasm.ValType
	results []wasm.ValType
}

type HostRegistry struct {
	funcs   map[string]map[string]*hostEntry
	globals map[string]uint64
	mu      sync.RWMutex
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs:   make(map[string]map[string]*hostEntry),
		globals: make(map[string]uint64),
	}
}

// RegisterGlobal sets the initial value of the imported global
// namespace.name in every instance created afterwards.
func (r *HostRegistry) RegisterGlobal(namespace, name string, value uint64) error {
	if namespace == "" || name == "" {
		return errors.InvalidInput(errors.PhaseHost, "global %q.%q needs a namespace and a name", namespace, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globals[namespace+"."+name] = value
	return nil
}

func (r *HostRegistry) global(namespace, name string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.globals[namespace+"."+name]
	return v, ok
}

// RegisterHost registers every exported method of h under h.Namespace().
// Method names are converted from PascalCase to snake_case
// (GetValue -> get_value), the convention of C toolchains.
func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()

	entries := make(map[string]*hostEntry)
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		name := toSnakeCase(method.Name)
		e, err := adaptFunc(rv.Method(i))
		if err != nil {
			return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Cause(err).
				Detail("method %s.%s", ns, name).
				Build()
		}
		entries[name] = e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.funcs[ns] == nil {
		r.funcs[ns] = make(map[string]*hostEntry)
	}
	for name, e := range entries {
		r.funcs[ns][name] = e
	}
	return nil
}

// RegisterFunc registers fn as namespace.name. fn is either a HostFunc or a
// Go function whose parameters are an optional context.Context, an
// optional wasmaot.Memory and then int32, uint32, int64, uint64, float32
// or float64 values, returning values of the same kinds and optionally a
// trailing error.
func (r *HostRegistry) RegisterFunc(namespace, name string, fn any) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}

	var e *hostEntry
	switch f := fn.(type) {
	case HostFunc:
		e = &hostEntry{fn: f}
	case func(context.Context, wasmaot.Memory, []uint64) ([]uint64, error):
		e = &hostEntry{fn: f}
	default:
		rv := reflect.ValueOf(fn)
		if rv.Kind() != reflect.Func {
			return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Detail("handler for %s.%s must be a function, got %T", namespace, name, fn).
				Build()
		}
		var err error
		if e, err = adaptFunc(rv); err != nil {
			return errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Cause(err).
				Detail("function %s.%s", namespace, name).
				Build()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.funcs[namespace] == nil {
		r.funcs[namespace] = make(map[string]*hostEntry)
	}
	r.funcs[namespace][name] = e
	return nil
}

func (r *HostRegistry) lookup(namespace, name string) *hostEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs[namespace][name]
}

// resolve returns the host function for every function import of m,
// checking typed registrations against the import signature.
func (r *HostRegistry) resolve(m *wasm.Module) ([]HostFunc, error) {
	n := m.NumImportedFuncs()
	out := make([]HostFunc, n)
	for i := 0; i < n; i++ {
		imp := m.ImportedFunc(uint32(i))
		e := r.lookup(imp.Module, imp.Name)
		if e == nil {
			return nil, errors.New(errors.PhaseHost, errors.KindNotFound).
				Detail("host function %s.%s is not registered", imp.Module, imp.Name).
				Build()
		}
		ft := m.GetFuncType(uint32(i))
		if e.params != nil && (!sameTypes(e.params, ft.Params) || !sameTypes(e.results, ft.Results)) {
			return nil, errors.New(errors.PhaseHost, errors.KindTypeMismatch).
				Detail("host function %s.%s has type %s, import wants %s",
					imp.Module, imp.Name, (&wasm.FuncType{Params: e.params, Results: e.results}).String(), ft.String()).
				Build()
		}
		out[i] = e.fn
	}
	return out, nil
}

func sameTypes(a, b []wasm.ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	memoryType  = reflect.TypeOf((*wasmaot.Memory)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

func valTypeOf(t reflect.Type) (wasm.ValType, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32:
		return wasm.ValI32, true
	case reflect.Int64, reflect.Uint64:
		return wasm.ValI64, true
	case reflect.Float32:
		return wasm.ValF32, true
	case reflect.Float64:
		return wasm.ValF64, true
	}
	return 0, false
}

func toGo(t reflect.Type, raw uint64) reflect.Value {
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Int32:
		v.SetInt(int64(int32(raw)))
	case reflect.Uint32:
		v.SetUint(uint64(uint32(raw)))
	case reflect.Int64:
		v.SetInt(int64(raw))
	case reflect.Uint64:
		v.SetUint(raw)
	case reflect.Float32:
		v.SetFloat(float64(math.Float32frombits(uint32(raw))))
	case reflect.Float64:
		v.SetFloat(math.Float64frombits(raw))
	}
	return v
}

func fromGo(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Int32:
		return uint64(uint32(v.Int()))
	case reflect.Uint32:
		return v.Uint()
	case reflect.Int64:
		return uint64(v.Int())
	case reflect.Uint64:
		return v.Uint()
	case reflect.Float32:
		return uint64(math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		return math.Float64bits(v.Float())
	}
	return 0
}

// adaptFunc wraps a typed Go function as a HostFunc.
func adaptFunc(fn reflect.Value) (*hostEntry, error) {
	ft := fn.Type()
	in := 0
	wantCtx := in < ft.NumIn() && ft.In(in) == contextType
	if wantCtx {
		in++
	}
	wantMem := in < ft.NumIn() && ft.In(in) == memoryType
	if wantMem {
		in++
	}

	e := &hostEntry{params: []wasm.ValType{}, results: []wasm.ValType{}}
	argTypes := make([]reflect.Type, 0, ft.NumIn()-in)
	for ; in < ft.NumIn(); in++ {
		vt, ok := valTypeOf(ft.In(in))
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseHost, "parameter %d has unsupported type %s", in, ft.In(in))
		}
		e.params = append(e.params, vt)
		argTypes = append(argTypes, ft.In(in))
	}

	nout := ft.NumOut()
	withErr := nout > 0 && ft.Out(nout-1) == errorType
	if withErr {
		nout--
	}
	for i := 0; i < nout; i++ {
		vt, ok := valTypeOf(ft.Out(i))
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseHost, "result %d has unsupported type %s", i, ft.Out(i))
		}
		e.results = append(e.results, vt)
	}

	e.fn = func(ctx context.Context, mem wasmaot.Memory, args []uint64) ([]uint64, error) {
		if len(args) != len(argTypes) {
			return nil, errors.InvalidInput(errors.PhaseRuntime, "host function takes %d arguments, got %d", len(argTypes), len(args))
		}
		callArgs := make([]reflect.Value, 0, len(args)+2)
		if wantCtx {
			callArgs = append(callArgs, reflect.ValueOf(&ctx).Elem())
		}
		if wantMem {
			mv := reflect.New(memoryType).Elem()
			if mem != nil {
				mv.Set(reflect.ValueOf(mem))
			}
			callArgs = append(callArgs, mv)
		}
		for i, a := range args {
			callArgs = append(callArgs, toGo(argTypes[i], a))
		}
		outs := fn.Call(callArgs)
		if withErr {
			if err, _ := outs[len(outs)-1].Interface().(error); err != nil {
				return nil, err
			}
			outs = outs[:len(outs)-1]
		}
		res := make([]uint64, len(outs))
		for i, o := range outs {
			res[i] = fromGo(o)
		}
		return res, nil
	}
	return e, nil
}

// initialisms are split out of runs of capitals, longest first, so that
// adjacent acronyms become separate words.
var initialisms = []string{
	"HTTPS", "HTTP", "HTML", "JSON", "UUID", "ASCII", "GUID",
	"ACL", "API", "CPU", "CSS", "DNS", "EOF", "FS", "ID", "IO", "IP",
	"OS", "RAM", "RPC", "SQL", "SSH", "TCP", "TLS", "TTL", "UDP", "UI",
	"URI", "URL", "VM", "XML",
}

// splitAcronyms breaks a run of capitals into known initialisms. An
// unknown remainder stays one word.
func splitAcronyms(run string) []string {
	var words []string
	for run != "" {
		n := 0
		for _, w := range initialisms {
			if len(w) > n && len(w) < len(run) && strings.HasPrefix(run, w) {
				n = len(w)
			}
		}
		if n == 0 {
			return append(words, run)
		}
		words = append(words, run[:n])
		run = run[n:]
	}
	return words
}

// toSnakeCase converts PascalCase to snake_case.
// Handles acronyms: GetHTTPURL -> get_http_url
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			for _, w := range splitAcronyms(string(runes[i:acronymEnd])) {
				if result.Len() > 0 {
					result.WriteByte('_')
				}
				result.WriteString(strings.ToLower(w))
			}
			i = acronymEnd - 1 // -1 because loop will increment
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
