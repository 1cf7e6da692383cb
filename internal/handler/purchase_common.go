package handler // handler defines http handlers

import (
    "context"  // context carries the caller token to the purchase API
    "errors"   // errors matches client sentinels
    "net/http" // http provides status code constants
    "strconv"  // strconv parses path identifiers
    "time"

    "github.com/labstack/echo/v4" // echo defines request context types
    "go.uber.org/zap"

    "github.com/iliyamo/venue-dashboard/internal/client"
    "github.com/iliyamo/venue-dashboard/internal/middleware"
    "github.com/iliyamo/venue-dashboard/internal/model"
    "github.com/iliyamo/venue-dashboard/internal/purchasecache"
    "github.com/iliyamo/venue-dashboard/internal/queue"
)

// PurchaseAPI is the slice of the purchase REST API the handlers call.
// *client.PurchaseClient satisfies it.
type PurchaseAPI interface {
    Get(ctx context.Context, id uint64) (model.Purchase, error)
    Create(ctx context.Context, in client.PurchaseInput) (model.Purchase, error)
    Update(ctx context.Context, id uint64, in client.PurchaseInput) (model.Purchase, error)
    Delete(ctx context.Context, id uint64) error
    CheckIn(ctx context.Context, id uint64) (model.Purchase, error)
    Cancel(ctx context.Context, id uint64) (model.Purchase, error)
    Complete(ctx context.Context, id uint64) (model.Purchase, error)
}

// EventPublisher announces purchase changes to other instances.
type EventPublisher interface {
    Publish(ctx context.Context, ev queue.PurchaseChangedEvent) error
}

// PurchaseHandler serves the dashboard purchase endpoints on top of the
// purchase cache.  Every caller reads from the store of its own scope.
type PurchaseHandler struct {
    Cache     *purchasecache.Registry // Cache holds one store per caller scope
    API       PurchaseAPI             // API performs mutations against the source of truth
    Publisher EventPublisher          // Publisher is optional; nil disables change events
    Logger    *zap.Logger

    // Heartbeat is the SSE keep-alive interval.
    Heartbeat time.Duration
}

// NewPurchaseHandler constructs a PurchaseHandler and panics if a required
// dependency is nil.
func NewPurchaseHandler(cache *purchasecache.Registry, api PurchaseAPI, events EventPublisher, logger *zap.Logger) *PurchaseHandler {
    if cache == nil || api == nil { // check for nil dependencies
        panic("nil dependency passed to NewPurchaseHandler")
    }
    if logger == nil {
        logger = zap.NewNop()
    }
    return &PurchaseHandler{
        Cache:     cache,
        API:       api,
        Publisher: events,
        Logger:    logger,
        Heartbeat: 25 * time.Second,
    }
}

// caller returns the identity set by JWTAuth and a request context that
// forwards the caller's token to the purchase API.
func caller(c echo.Context) (middleware.Identity, context.Context, bool) {
    id, ok := middleware.IdentityFrom(c)
    if !ok {
        return middleware.Identity{}, nil, false
    }
    return id, client.WithToken(c.Request().Context(), id.Token), true
}

// store returns the cache of id's scope.
func (h *PurchaseHandler) store(id middleware.Identity) *purchasecache.Store {
    return h.Cache.For(id.SyncFilters())
}

func unauthorized(c echo.Context) error {
    return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// pathID parses the :id route parameter.
func pathID(c echo.Context) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || id == 0 {
        return 0, false
    }
    return id, true
}

// apiError maps purchase API failures to dashboard responses.
func (h *PurchaseHandler) apiError(c echo.Context, op string, err error) error {
    var apiErr *client.APIError
    switch {
    case errors.Is(err, client.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "purchase not found"})
    case errors.Is(err, client.ErrUnauthorized):
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "purchase api rejected credentials"})
    case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
        msg := apiErr.Message
        if msg == "" {
            msg = op + " rejected"
        }
        return c.JSON(apiErr.StatusCode, echo.Map{"error": msg})
    case errors.Is(err, context.Canceled):
        return c.NoContent(499) // client went away
    }
    h.Logger.Error(op+" failed", zap.Error(err))
    return c.JSON(http.StatusBadGateway, echo.Map{"error": op + " failed"})
}

// publish announces ev without holding up the response.
func (h *PurchaseHandler) publish(c echo.Context, ev queue.PurchaseChangedEvent) {
    if h.Publisher == nil {
        return
    }
    ctx := context.WithoutCancel(c.Request().Context())
    go func() {
        ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
        defer cancel()
        if err := h.Publisher.Publish(ctx, ev); err != nil {
            h.Logger.Warn("purchase change event not published", zap.Error(err), zap.Uint64("purchase_id", ev.PurchaseID))
        }
    }()
}
