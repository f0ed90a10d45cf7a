package registry

import (
	"context"
	"fmt"
	"reflect"

	"github.com/vk/assetflow/internal/asset"
	"github.com/vk/assetflow/internal/table"
)

// Module is the interface built-in handler packages implement to register
// themselves with an application instance.
type Module interface {
	Register(r *Registry) error
}

// PureHandler is a named Go implementation backing pure assets declared in
// configuration. NewInput returns a pointer to the arguments struct the
// configuration's arguments block decodes into; Fn is the handler function
// with signature
//
//	func(ctx context.Context, input *T, inputs asset.Inputs) (*table.Table, error)
//
// where *T is the type returned by NewInput.
type PureHandler struct {
	NewInput func() any
	Fn       any
}

var (
	ctxType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	inputsType = reflect.TypeOf(asset.Inputs(nil))
	tableType  = reflect.TypeOf((*table.Table)(nil))
	errType    = reflect.TypeOf((*error)(nil)).Elem()
)

// RegisterPureHandler registers a handler under the given name, validating
// the function signature up front so miswired modules fail at startup, not
// mid-run.
func (r *Registry) RegisterPureHandler(name string, h *PureHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register handler %q: %w", name, ErrRegistryFrozen)
	}
	if name == "" {
		return fmt.Errorf("handler name must not be empty")
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q already registered", name)
	}
	if h == nil || h.Fn == nil || h.NewInput == nil {
		return fmt.Errorf("handler %q is incomplete", name)
	}

	fnType := reflect.TypeOf(h.Fn)
	inputType := reflect.TypeOf(h.NewInput())
	ok := fnType.Kind() == reflect.Func &&
		fnType.NumIn() == 3 && fnType.NumOut() == 2 &&
		fnType.In(0) == ctxType &&
		fnType.In(1) == inputType &&
		fnType.In(2) == inputsType &&
		fnType.Out(0) == tableType &&
		fnType.Out(1) == errType
	if !ok {
		return fmt.Errorf("handler %q has signature %v, want func(context.Context, %v, asset.Inputs) (*table.Table, error)",
			name, fnType, inputType)
	}

	r.handlers[name] = h
	return nil
}

// Handler looks up a registered pure handler by name.
func (r *Registry) Handler(name string) (*PureHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Call invokes the handler with a decoded input struct and the materialized
// dependency tables.
func (h *PureHandler) Call(ctx context.Context, input any, inputs asset.Inputs) (*table.Table, error) {
	results := reflect.ValueOf(h.Fn).Call([]reflect.Value{
		reflect.ValueOf(ctx),
		reflect.ValueOf(input),
		reflect.ValueOf(inputs),
	})
	var tbl *table.Table
	if !results[0].IsNil() {
		tbl = results[0].Interface().(*table.Table)
	}
	if !results[1].IsNil() {
		return tbl, results[1].Interface().(error)
	}
	return tbl, nil
}
