package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/venue-dashboard/internal/middleware"
)

// Warmup handles POST /v1/session/warmup.  Dashboards call it right after
// login so the first purchase screen renders from cache.
func (h *PurchaseHandler) Warmup(c echo.Context) error {
    id, ctx, ok := caller(c)
    if !ok {
        return unauthorized(c)
    }
    if err := h.store(id).Warmup(ctx, id.SyncFilters()); err != nil {
        return h.apiError(c, "warm up purchase cache", err)
    }
    return c.NoContent(http.StatusNoContent)
}

// Logout handles POST /v1/session/logout and drops the caller's cached
// purchases so nothing leaks into the next session.  Other scopes are left
// alone.
func (h *PurchaseHandler) Logout(c echo.Context) error {
    id, ok := middleware.IdentityFrom(c)
    if !ok {
        return unauthorized(c)
    }
    if err := h.store(id).Clear(c.Request().Context()); err != nil {
        // memory is already cleared; the persisted region may survive
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cache clear incomplete"})
    }
    return c.NoContent(http.StatusNoContent)
}
