// Package schema decides which Go types may cross the JSON-RPC wire.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// DefaultMaxDepth bounds how deeply composite types may nest.
const DefaultMaxDepth = 64

// ErrTypeNotAllowed is wrapped by every *TypeError.
var ErrTypeNotAllowed = errors.New("schema: type not allowed")

var (
	timeType            = reflect.TypeFor[time.Time]()
	rawMessageType      = reflect.TypeFor[json.RawMessage]()
	jsonMarshalerType   = reflect.TypeFor[json.Marshaler]()
	jsonUnmarshalerType = reflect.TypeFor[json.Unmarshaler]()
)

// TypeError describes why a type was rejected.
type TypeError struct {
	Type   reflect.Type // the offending type
	Path   string       // location inside the checked type, empty at the root
	Reason string
}

func (e *TypeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("schema: type %s not allowed: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("schema: type %s not allowed at %s: %s", e.Type, e.Path, e.Reason)
}

func (e *TypeError) Unwrap() error {
	return ErrTypeNotAllowed
}

// Checker validates parameter and return types at registration time.
// The zero value uses DefaultMaxDepth.
type Checker struct {
	MaxDepth int
}

// NewChecker returns a Checker with the default depth bound.
func NewChecker() *Checker {
	return &Checker{MaxDepth: DefaultMaxDepth}
}

// CheckParameter reports whether t can be decoded from a JSON argument.
func (c *Checker) CheckParameter(t reflect.Type) error {
	w := c.walker()
	_, err := w.check(t, 0, "")
	return err
}

// CheckReturn reports whether t can be encoded as a JSON result. A receive
// channel <-chan T is treated as a value that arrives later and T is checked.
func (c *Checker) CheckReturn(t reflect.Type) error {
	path := ""
	if t.Kind() == reflect.Chan {
		if t.ChanDir() != reflect.RecvDir {
			return &TypeError{Type: t, Reason: "only receive-only channels may be returned"}
		}
		t = t.Elem()
		path = "<-chan"
	}
	w := c.walker()
	_, err := w.check(t, 0, path)
	return err
}

func (c *Checker) walker() *walker {
	limit := DefaultMaxDepth
	if c != nil && c.MaxDepth > 0 {
		limit = c.MaxDepth
	}
	return &walker{max: limit, heights: make(map[reflect.Type]int)}
}

// walker remembers the nesting height of every type it has fully accepted
// so shared subtypes are visited once.
type walker struct {
	max     int
	heights map[reflect.Type]int
}

func (w *walker) check(t reflect.Type, depth int, path string) (int, error) {
	if depth > w.max {
		return 0, &TypeError{Type: t, Path: path, Reason: fmt.Sprintf("nesting exceeds depth %d", w.max)}
	}
	if h, ok := w.heights[t]; ok {
		if depth+h > w.max {
			return 0, &TypeError{Type: t, Path: path, Reason: fmt.Sprintf("nesting exceeds depth %d", w.max)}
		}
		return h, nil
	}

	h, err := w.checkKind(t, depth, path)
	if err != nil {
		return 0, err
	}
	w.heights[t] = h
	return h, nil
}

func (w *walker) checkKind(t reflect.Type, depth int, path string) (int, error) {
	if t == timeType || t == rawMessageType || selfCoding(t) {
		return 0, nil
	}

	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return 0, nil

	case reflect.Interface:
		if t.NumMethod() == 0 {
			return 0, &TypeError{Type: t, Path: path, Reason: "untyped values cannot be bound"}
		}
		return 0, &TypeError{Type: t, Path: path, Reason: "interface types have no wire representation"}

	case reflect.Pointer:
		return w.check(t.Elem(), depth, path)

	case reflect.Slice, reflect.Array:
		h, err := w.check(t.Elem(), depth+1, path+"[]")
		return h + 1, err

	case reflect.Map:
		if !validMapKey(t.Key()) {
			return 0, &TypeError{Type: t, Path: path, Reason: "map keys must be strings or integers"}
		}
		h, err := w.check(t.Elem(), depth+1, path+"[key]")
		return h + 1, err

	case reflect.Struct:
		return w.checkStruct(t, depth, path)

	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Uintptr:
		return 0, &TypeError{Type: t, Path: path, Reason: "reference types cannot cross the wire"}

	default:
		return 0, &TypeError{Type: t, Path: path, Reason: fmt.Sprintf("unsupported kind %s", t.Kind())}
	}
}

func (w *walker) checkStruct(t reflect.Type, depth int, path string) (int, error) {
	height := 0
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() && !field.Anonymous {
			continue
		}
		name, skip := fieldName(field)
		if skip {
			continue
		}

		h, err := w.check(field.Type, depth+1, path+"."+name)
		if err != nil {
			return 0, err
		}
		height = max(height, h+1)
	}
	return height, nil
}

func fieldName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, false
	}
	return f.Name, false
}

func validMapKey(k reflect.Type) bool {
	switch k.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// selfCoding reports whether t marshals and unmarshals itself.
func selfCoding(t reflect.Type) bool {
	if t.Kind() == reflect.Interface {
		return false
	}
	marshals := t.Implements(jsonMarshalerType) || reflect.PointerTo(t).Implements(jsonMarshalerType)
	return marshals && reflect.PointerTo(t).Implements(jsonUnmarshalerType)
}
