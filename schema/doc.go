// Package schema decides which Go types may cross the JSON-RPC wire.
//
// Types are checked once, when a method is registered, never per call.
//
// # Basic Usage
//
//	c := schema.NewChecker()
//	if err := c.CheckParameter(reflect.TypeFor[Point]()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Supported Types
//
//   - Booleans, strings, integers and floats
//   - Structs: every exported field is checked, honouring json:"-" and json names
//   - Slices/Arrays: the element type is checked
//   - Maps with string or integer keys: the value type is checked
//   - Pointers: the element type is checked
//   - time.Time, json.RawMessage and other types that marshal and unmarshal themselves
//
// # Rejected Types
//
//   - any and other interfaces
//   - Channels, functions, unsafe.Pointer and uintptr
//   - Complex numbers
//   - Maps with other key kinds
//   - Anything nested deeper than Checker.MaxDepth (64 by default), which
//     includes self-referential types
//
// CheckReturn additionally accepts a receive-only channel <-chan T and
// checks T, for methods whose result arrives asynchronously.
package schema
