// Package server provides the service registry and the call dispatcher.
//
// Most users should use the higher-level jsonrpc package instead of using
// this package directly.
//
// # Services
//
// Services are described with a fluent builder and registered once at
// startup. Every parameter and result type is checked then, so a bad
// signature fails Register rather than a later call:
//
//	reg := server.NewRegistry()
//	err := reg.Register(server.NewService("calc").
//	    Method("add", func(x, y int) int { return x + y }, "x", "y").
//	    Method("div", func(ctx context.Context, x, y float64) (float64, error) {
//	        if y == 0 {
//	            return 0, errors.New("division by zero")
//	        }
//	        return x / y, nil
//	    }))
//
// Receiver registers every exported method of a value, with the first
// letter of each name lowercased:
//
//	reg.Register(server.NewService("users").Receiver(&UserService{}))
//
// # Method Shapes
//
// A method may take a leading context.Context followed by any number of wire
// parameters, and may return nothing, an error, a result, or a result and an
// error. A result of type <-chan T is awaited and its first value is sent.
//
// # Dispatch
//
// A Router decodes a payload, runs each request in order through the
// middleware chain and encodes the responses:
//
//	router := server.NewRouter(reg, server.WithLogger(logger))
//	out := router.HandleMessage(ctx, "calc", body)
//	if out == nil {
//	    // notifications only: send nothing
//	}
//
// Positional params bind by index. A single non-array value binds to the
// sole parameter. An object binds by name when parameter names were given.
// Errors returned by a method that are not *protocol.Error are sent as
// internal errors; their text is logged, never sent.
package server
