package transport

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/valyala/bytebufferpool"

	"github.com/felixgeelhaar/jsonrpc-go/protocol"
)

// MountEcho registers handler on e at POST {prefix}/:service and
// POST {prefix}/:service/:version with the same semantics as the HTTP
// transport. Echo's own middleware (CORS, logging, recovery) applies.
func MountEcho(e *echo.Echo, prefix string, handler Handler) {
	h := func(c echo.Context) error {
		return serveEcho(c, handler)
	}
	e.POST(prefix+"/:service", h)
	e.POST(prefix+"/:service/:version", h)
}

func serveEcho(c echo.Context, handler Handler) error {
	req := c.Request()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	body := http.MaxBytesReader(c.Response(), req.Body, DefaultMaxBodySize)
	if _, err := buf.ReadFrom(body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return c.NoContent(http.StatusRequestEntityTooLarge)
		}
		return c.NoContent(http.StatusBadRequest)
	}

	service := c.Param("service")
	if v := c.Param("version"); v != "" {
		service += "/" + v
	}

	meta := requestMeta(req, "http")
	meta[protocol.MetaRemoteAddr] = c.RealIP()
	ctx := protocol.ContextWithRequestMeta(req.Context(), meta)

	out := handler.HandleMessage(ctx, service, buf.B)
	if out == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, out)
}
