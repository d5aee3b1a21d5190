package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	agentcore "github.com/LifeContext/lifecontext-sub000/internal/agent/core"
)

// QueryHandler serves the query and capability endpoints.
type QueryHandler struct {
	Orch    Answerer
	Catalog Catalog
	Logger  *zap.Logger
}

func (h *QueryHandler) Register(g *echo.Group) {
	g.POST("/query", h.query)
	g.GET("/capabilities", h.capabilities)
}

func (h *QueryHandler) query(c echo.Context) error {
	if h.Orch == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, agentcore.UnavailableMessage)
	}
	var req agentcore.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	if req.MaxIterations < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_iterations must be positive")
	}
	// authenticated callers are confined to the token subject
	if sub, ok := c.Get("user_id").(string); ok && sub != "" {
		if req.SessionID != "" && req.SessionID != sub {
			return echo.NewHTTPError(http.StatusForbidden, "session_id does not match token subject")
		}
		req.SessionID = sub
	}

	if req.Streaming() && wantsEventStream(c.Request()) {
		return h.stream(c, req)
	}
	resp := h.Orch.Run(c.Request().Context(), req)
	return c.JSON(statusFor(resp), resp)
}

// stream answers over server-sent events: delta events while the answer is
// generated, then one result event carrying the full response.
func (h *QueryHandler) stream(c echo.Context, req agentcore.Request) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	resp := h.Orch.Stream(ctx, req, func(delta string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return writeEvent(w, "delta", map[string]string{"delta": delta})
	})
	if err := writeEvent(w, "result", resp); err != nil {
		h.Logger.Debug("client went away before result", zap.Error(err))
	}
	return nil
}

func (h *QueryHandler) capabilities(c echo.Context) error {
	if h.Catalog == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"capabilities": []interface{}{}})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"capabilities": h.Catalog.Describe()})
}

func writeEvent(w *echo.Response, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get(echo.HeaderAccept), "text/event-stream")
}

// statusFor maps unsuccessful responses onto HTTP codes; the body is the
// response either way.
func statusFor(resp agentcore.Response) int {
	switch {
	case resp.Success:
		return http.StatusOK
	case resp.Error == agentcore.UnavailableMessage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
