package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
	"github.com/felixgeelhaar/jsonrpc-go/schema"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Parameter describes one wire parameter of a method.
type Parameter struct {
	Name string // empty when the host supplied no names
	Type reflect.Type
}

// MethodDescriptor is the registered metadata of a callable method together
// with its bound invocation closure. It is immutable once registered.
type MethodDescriptor struct {
	Name       string
	Parameters []Parameter
	// ReturnType is the type of the result, nil for methods without one.
	// For asynchronous methods it is the element type of the result channel.
	ReturnType reflect.Type
	Async      bool

	invoke func(ctx context.Context, args []reflect.Value) (any, error)
}

// compileMethod validates fn and builds its invocation closure.
//
// Accepted shapes, with an optional leading context.Context:
//
//	func(args...)
//	func(args...) error
//	func(args...) R
//	func(args...) (R, error)
//
// R may be a receive-only channel <-chan T, whose first value is the result.
func compileMethod(name string, fn reflect.Value, paramNames []string, checker *schema.Checker) (*MethodDescriptor, error) {
	ft := fn.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s is a %s, not a function", ErrInvalidSignature, name, ft.Kind())
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("%w: %s is variadic", ErrInvalidSignature, name)
	}

	first := 0
	hasContext := ft.NumIn() > 0 && ft.In(0) == contextType
	if hasContext {
		first = 1
	}

	n := ft.NumIn() - first
	if len(paramNames) > 0 && len(paramNames) != n {
		return nil, fmt.Errorf("%w: %s has %d parameters but %d names were given", ErrInvalidSignature, name, n, len(paramNames))
	}

	params := make([]Parameter, n)
	for i := range params {
		t := ft.In(first + i)
		if t == contextType {
			return nil, fmt.Errorf("%w: %s: context.Context must be the first parameter", ErrInvalidSignature, name)
		}
		if err := checker.CheckParameter(t); err != nil {
			return nil, fmt.Errorf("%s parameter %d: %w", name, i, err)
		}
		params[i].Type = t
		if len(paramNames) > 0 {
			params[i].Name = paramNames[i]
		}
	}

	resultIdx, errIdx := -1, -1
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			errIdx = 0
		} else {
			resultIdx = 0
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("%w: %s: second result must be error", ErrInvalidSignature, name)
		}
		resultIdx, errIdx = 0, 1
	default:
		return nil, fmt.Errorf("%w: %s returns %d values", ErrInvalidSignature, name, ft.NumOut())
	}

	desc := &MethodDescriptor{Name: name, Parameters: params}
	if resultIdx >= 0 {
		rt := ft.Out(resultIdx)
		if rt == errorType {
			return nil, fmt.Errorf("%w: %s: error must be the last result", ErrInvalidSignature, name)
		}
		if err := checker.CheckReturn(rt); err != nil {
			return nil, fmt.Errorf("%s result: %w", name, err)
		}
		desc.ReturnType = rt
		if rt.Kind() == reflect.Chan {
			desc.Async = true
			desc.ReturnType = rt.Elem()
		}
	}

	async := desc.Async
	desc.invoke = func(ctx context.Context, args []reflect.Value) (any, error) {
		in := args
		if hasContext {
			in = make([]reflect.Value, 0, len(args)+1)
			in = append(in, reflect.ValueOf(ctx))
			in = append(in, args...)
		}

		out := fn.Call(in)
		if errIdx >= 0 && !out[errIdx].IsNil() {
			return nil, out[errIdx].Interface().(error)
		}
		if resultIdx < 0 {
			return nil, nil
		}
		if async {
			return await(ctx, out[resultIdx])
		}
		return out[resultIdx].Interface(), nil
	}
	return desc, nil
}

// await receives the first value from a result channel.
func await(ctx context.Context, ch reflect.Value) (any, error) {
	if ch.IsNil() {
		return nil, errors.New("method returned a nil result channel")
	}
	chosen, v, ok := reflect.Select([]reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: ch},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
	})
	if chosen == 1 {
		return nil, ctx.Err()
	}
	if !ok {
		return nil, errors.New("result channel closed without a value")
	}
	return v.Interface(), nil
}

// Invoke calls the method with already-typed arguments. Arguments must be
// assignable to the parameter types; nil binds the zero value.
func (m *MethodDescriptor) Invoke(ctx context.Context, args ...any) (any, error) {
	if len(args) != len(m.Parameters) {
		return nil, protocol.NewInvalidParams(fmt.Sprintf("%s expects %d arguments, got %d", m.Name, len(m.Parameters), len(args)))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		t := m.Parameters[i].Type
		if a == nil {
			in[i] = reflect.Zero(t)
			continue
		}
		v := reflect.ValueOf(a)
		if !v.Type().AssignableTo(t) {
			return nil, protocol.NewInvalidParams(fmt.Sprintf("%s argument %d: %s is not assignable to %s", m.Name, i, v.Type(), t))
		}
		in[i] = v
	}
	return m.call(ctx, in)
}

// call runs the invocation closure, turning a panic into an internal error.
func (m *MethodDescriptor) call(ctx context.Context, args []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = protocol.NewInternalError(fmt.Sprintf("panic in %s: %v\n%s", m.Name, r, debug.Stack()))
		}
	}()
	return m.invoke(ctx, args)
}

// bind decodes raw params into typed arguments.
//
// An array binds by position. A single non-array value binds to the sole
// parameter. An object binds by name when every parameter is named; for a
// sole named parameter an object holding just that name binds by name, and
// any other object is the parameter's value.
// Argument and parameter counts must match exactly.
func (m *MethodDescriptor) bind(params json.RawMessage) ([]reflect.Value, *protocol.Error) {
	n := len(m.Parameters)
	if len(params) == 0 {
		if n != 0 {
			return nil, m.countMismatch(0)
		}
		return nil, nil
	}

	switch params[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(params, &elems); err != nil {
			return nil, protocol.NewInvalidParams(err.Error())
		}
		if n == 1 && isSequence(m.Parameters[0].Type) {
			if len(elems) == 1 {
				if v, err := m.decodeArg(0, elems[0]); err == nil {
					return []reflect.Value{v}, nil
				}
			}
			v, err := m.decodeArg(0, params)
			if err != nil {
				return nil, err
			}
			return []reflect.Value{v}, nil
		}
		if len(elems) != n {
			return nil, m.countMismatch(len(elems))
		}
		return m.decodeArgs(elems)

	case '{':
		if n == 1 {
			if m.named() {
				var obj map[string]json.RawMessage
				if json.Unmarshal(params, &obj) == nil && len(obj) == 1 {
					if raw, ok := obj[m.Parameters[0].Name]; ok {
						if v, err := m.decodeArg(0, raw); err == nil {
							return []reflect.Value{v}, nil
						}
					}
				}
			}
			v, err := m.decodeArg(0, params)
			if err != nil {
				return nil, err
			}
			return []reflect.Value{v}, nil
		}
		if !m.named() {
			return nil, protocol.NewInvalidParams(m.Name + " does not accept named parameters")
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(params, &obj); err != nil {
			return nil, protocol.NewInvalidParams(err.Error())
		}
		if len(obj) != n {
			return nil, m.countMismatch(len(obj))
		}
		elems := make([]json.RawMessage, n)
		for i, p := range m.Parameters {
			raw, ok := obj[p.Name]
			if !ok {
				return nil, protocol.NewInvalidParams(fmt.Sprintf("%s: missing parameter %q", m.Name, p.Name))
			}
			elems[i] = raw
		}
		return m.decodeArgs(elems)

	default:
		if n != 1 {
			return nil, m.countMismatch(1)
		}
		v, err := m.decodeArg(0, params)
		if err != nil {
			return nil, err
		}
		return []reflect.Value{v}, nil
	}
}

func (m *MethodDescriptor) decodeArgs(elems []json.RawMessage) ([]reflect.Value, *protocol.Error) {
	args := make([]reflect.Value, len(elems))
	for i, raw := range elems {
		v, err := m.decodeArg(i, raw)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func (m *MethodDescriptor) decodeArg(i int, raw json.RawMessage) (reflect.Value, *protocol.Error) {
	t := m.Parameters[i].Type
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return reflect.Value{}, protocol.NewInvalidParams(fmt.Sprintf("%s argument %d (%s): %v", m.Name, i, t, err))
	}
	return ptr.Elem(), nil
}

func (m *MethodDescriptor) countMismatch(got int) *protocol.Error {
	return protocol.NewInvalidParams(fmt.Sprintf("%s expects %d arguments, got %d", m.Name, len(m.Parameters), got))
}

func (m *MethodDescriptor) named() bool {
	for _, p := range m.Parameters {
		if p.Name == "" {
			return false
		}
	}
	return true
}

func isSequence(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Slice || t.Kind() == reflect.Array
}
