package handler

import (
    "context"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/venue-dashboard/internal/client"
    "github.com/iliyamo/venue-dashboard/internal/middleware"
    "github.com/iliyamo/venue-dashboard/internal/model"
    "github.com/iliyamo/venue-dashboard/internal/purchasecache"
    "github.com/iliyamo/venue-dashboard/internal/queue"
)

// ListPurchases handles GET /v1/purchases.  The collection comes from the
// cache (syncing on a miss) and is narrowed by the optional query filters.
func (h *PurchaseHandler) ListPurchases(c echo.Context) error {
    id, ctx, ok := caller(c)
    if !ok {
        return unauthorized(c)
    }
    f, err := queryFilters(c)
    if err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
    }
    items, err := h.store(id).GetAll(ctx, id.SyncFilters())
    if err != nil {
        return h.apiError(c, "load purchases", err)
    }
    items = purchasecache.Filter(items, f)
    return c.JSON(http.StatusOK, echo.Map{"purchases": items, "count": len(items)})
}

// GetPurchase handles GET /v1/purchases/:id.  A record missing from the
// caller's snapshot is fetched from the API and added to the caller's
// cache.  A record outside the caller's location is reported as missing.
func (h *PurchaseHandler) GetPurchase(c echo.Context) error {
    id, ctx, ok := caller(c)
    if !ok {
        return unauthorized(c)
    }
    pid, ok := pathID(c)
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    store := h.store(id)
    if p, found := store.GetByID(pid); found {
        return c.JSON(http.StatusOK, p)
    }
    p, err := h.API.Get(ctx, pid)
    if err != nil {
        return h.apiError(c, "get purchase", err)
    }
    if !store.Admits(p) {
        return c.JSON(http.StatusNotFound, echo.Map{"error": "purchase not found"})
    }
    if err := store.Upsert(ctx, p); err != nil {
        h.Logger.Warn("cache upsert after fetch failed", zap.Error(err), zap.Uint64("purchase_id", pid))
    }
    return c.JSON(http.StatusOK, p)
}

// RefreshPurchases handles POST /v1/purchases/refresh.  When the API is
// unreachable the last known collection is returned with a 502.
func (h *PurchaseHandler) RefreshPurchases(c echo.Context) error {
    id, ctx, ok := caller(c)
    if !ok {
        return unauthorized(c)
    }
    items, err := h.store(id).ForceRefresh(ctx, id.SyncFilters())
    if err != nil {
        h.Logger.Warn("forced refresh failed", zap.Error(err))
        return c.JSON(http.StatusBadGateway, echo.Map{
            "error":     "refresh failed",
            "purchases": items,
            "count":     len(items),
        })
    }
    return c.JSON(http.StatusOK, echo.Map{"purchases": items, "count": len(items)})
}

// CacheStatus handles GET /v1/purchases/cache for the caller's scope.
func (h *PurchaseHandler) CacheStatus(c echo.Context) error {
    id, ok := middleware.IdentityFrom(c)
    if !ok {
        return unauthorized(c)
    }
    ctx := c.Request().Context()
    store := h.store(id)
    body := echo.Map{
        "stale":     store.IsStale(ctx, 0),
        "warmed_up": store.WarmedUp(),
        "metadata":  nil,
    }
    if meta, ok := store.Metadata(ctx); ok {
        body["metadata"] = meta
    }
    return c.JSON(http.StatusOK, body)
}

// CreatePurchase handles POST /v1/purchases.
func (h *PurchaseHandler) CreatePurchase(c echo.Context) error {
    _, ctx, ok := caller(c)
    if !ok {
        return unauthorized(c)
    }
    var in client.PurchaseInput
    if err := c.Bind(&in); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if msg := validateInput(in); msg != "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
    }
    p, err := h.API.Create(ctx, in)
    if err != nil {
        return h.apiError(c, "create purchase", err)
    }
    h.applyUpsert(c, p)
    return c.JSON(http.StatusCreated, p)
}

// UpdatePurchase handles PUT /v1/purchases/:id.
func (h *PurchaseHandler) UpdatePurchase(c echo.Context) error {
    _, ctx, ok := caller(c)
    if !ok {
        return unauthorized(c)
    }
    pid, ok := pathID(c)
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    var in client.PurchaseInput
    if err := c.Bind(&in); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if msg := validateInput(in); msg != "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
    }
    p, err := h.API.Update(ctx, pid, in)
    if err != nil {
        return h.apiError(c, "update purchase", err)
    }
    h.applyUpsert(c, p)
    return c.JSON(http.StatusOK, p)
}

// DeletePurchase handles DELETE /v1/purchases/:id.
func (h *PurchaseHandler) DeletePurchase(c echo.Context) error {
    _, ctx, ok := caller(c)
    if !ok {
        return unauthorized(c)
    }
    pid, ok := pathID(c)
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    if err := h.API.Delete(ctx, pid); err != nil {
        return h.apiError(c, "delete purchase", err)
    }
    if err := h.Cache.Remove(ctx, pid); err != nil {
        h.Logger.Warn("cache remove failed", zap.Error(err), zap.Uint64("purchase_id", pid))
    }
    h.publish(c, queue.Deleted(pid, time.Now()))
    return c.NoContent(http.StatusNoContent)
}

// CheckInPurchase handles PATCH /v1/purchases/:id/check-in.
func (h *PurchaseHandler) CheckInPurchase(c echo.Context) error {
    return h.transition(c, "check in purchase", h.API.CheckIn)
}

// CancelPurchase handles PATCH /v1/purchases/:id/cancel.
func (h *PurchaseHandler) CancelPurchase(c echo.Context) error {
    return h.transition(c, "cancel purchase", h.API.Cancel)
}

// CompletePurchase handles PATCH /v1/purchases/:id/complete.
func (h *PurchaseHandler) CompletePurchase(c echo.Context) error {
    return h.transition(c, "complete purchase", h.API.Complete)
}

func (h *PurchaseHandler) transition(c echo.Context, op string, call func(ctx context.Context, id uint64) (model.Purchase, error)) error {
    _, ctx, ok := caller(c)
    if !ok {
        return unauthorized(c)
    }
    pid, ok := pathID(c)
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
    }
    p, err := call(ctx, pid)
    if err != nil {
        return h.apiError(c, op, err)
    }
    h.applyUpsert(c, p)
    return c.JSON(http.StatusOK, p)
}

// applyUpsert patches every scope the record belongs to with what the API
// returned.  The API call already succeeded, so a cache failure is logged
// rather than surfaced.
func (h *PurchaseHandler) applyUpsert(c echo.Context, p model.Purchase) {
    if err := h.Cache.Upsert(c.Request().Context(), p); err != nil {
        h.Logger.Warn("cache upsert failed", zap.Error(err), zap.Uint64("purchase_id", p.ID))
    }
    h.publish(c, queue.Upserted(p, time.Now()))
}

func validateInput(in client.PurchaseInput) string {
    switch {
    case in.AttractionID == 0:
        return "attraction_id is required"
    case in.Quantity <= 0:
        return "quantity must be positive"
    case !in.PaymentMethod.Valid():
        return "invalid payment_method"
    case in.Status != "" && !in.Status.Valid():
        return "invalid status"
    case in.CustomerID == nil && strings.TrimSpace(in.GuestName) == "":
        return "customer_id or guest_name is required"
    }
    return ""
}

func queryFilters(c echo.Context) (model.QueryFilters, error) {
    var f model.QueryFilters
    ids := []struct {
        name string
        dst  **uint64
    }{
        {"location_id", &f.LocationID},
        {"attraction_id", &f.AttractionID},
        {"customer_id", &f.CustomerID},
    }
    for _, q := range ids {
        raw := c.QueryParam(q.name)
        if raw == "" {
            continue
        }
        n, err := strconv.ParseUint(raw, 10, 64)
        if err != nil {
            return model.QueryFilters{}, errInvalidParam(q.name)
        }
        *q.dst = model.Uint64Ptr(n)
    }
    if s := c.QueryParam("status"); s != "" {
        st := model.PurchaseStatus(s)
        if !st.Valid() {
            return model.QueryFilters{}, errInvalidParam("status")
        }
        f.Status = st
    }
    f.Search = strings.TrimSpace(c.QueryParam("search"))
    return f, nil
}

type errInvalidParam string

func (e errInvalidParam) Error() string { return "invalid " + string(e) }
