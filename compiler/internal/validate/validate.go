// Package validate checks a module against the WebAssembly validation rules
// before translation. Translation assumes valid input and reports any
// mismatch it still finds as an internal error.
package validate

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/wasm-aot/compiler/internal/handler"
	"github.com/wippyai/wasm-aot/errors"
	"github.com/wippyai/wasm-aot/wasm"
)

// CoreFeatures maps the enabled proposals to wazero's feature set. The
// MVP extensions every current toolchain emits are always on.
func CoreFeatures(f handler.Features) api.CoreFeatures {
	features := api.CoreFeaturesV1 |
		api.CoreFeatureMultiValue |
		api.CoreFeatureNonTrappingFloatToIntConversion |
		api.CoreFeatureSignExtensionOps
	if f.BulkMemory || f.RefTypes {
		// reference types extend the bulk table instructions
		features |= api.CoreFeatureBulkMemoryOperations
	}
	if f.RefTypes {
		features |= api.CoreFeatureReferenceTypes
	}
	if f.SIMD {
		features |= api.CoreFeatureSIMD
	}
	if f.Threads {
		features |= experimental.CoreFeaturesThreads
	}
	return features
}

// Module validates the binary bin, already decoded as m.
func Module(ctx context.Context, bin []byte, m *wasm.Module, f handler.Features) error {
	if !f.RefTypes && m.NumTables() > 1 {
		return errors.New(errors.PhaseValidate, errors.KindUnsupported).
			Detail("multiple tables").
			Build()
	}

	cfg := wazero.NewRuntimeConfigInterpreter().WithCoreFeatures(CoreFeatures(f))
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return errors.Wrap(err, errors.PhaseValidate, errors.KindInvalidData, "module failed validation")
	}
	return compiled.Close(ctx)
}
