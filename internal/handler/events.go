package handler

import (
    "encoding/json"
    "fmt"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/venue-dashboard/internal/middleware"
    "github.com/iliyamo/venue-dashboard/internal/purchasecache"
)

type sseMessage struct {
    event string
    data  []byte
}

// StreamEvents handles GET /v1/purchases/events, a Server-Sent Events
// stream of the caller's cache notifications.  Each connection holds one subscription per event
// kind and drops both when the client disconnects.  A client that falls
// too far behind loses messages; it recovers on the next sync event.
func (h *PurchaseHandler) StreamEvents(c echo.Context) error {
    id, ok := middleware.IdentityFrom(c)
    if !ok {
        return unauthorized(c)
    }
    store := h.store(id)
    ctx := c.Request().Context()
    msgs := make(chan sseMessage, 32)
    send := func(event string, v any) {
        b, err := json.Marshal(v)
        if err != nil {
            h.Logger.Error("encode sse payload", zap.Error(err))
            return
        }
        select {
        case msgs <- sseMessage{event: event, data: b}:
        default:
            h.Logger.Warn("sse client too slow, dropping event", zap.String("event", event))
        }
    }
    unsubUpdate := store.OnUpdate(func(ev purchasecache.UpdateEvent) { send("update", ev) })
    defer unsubUpdate()
    unsubClear := store.OnClear(func(ev purchasecache.ClearEvent) { send("clear", ev) })
    defer unsubClear()

    w := c.Response()
    w.Header().Set(echo.HeaderContentType, "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    w.WriteHeader(http.StatusOK)
    if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
        return nil
    }
    w.Flush()

    heartbeat := h.Heartbeat
    if heartbeat <= 0 {
        heartbeat = 25 * time.Second
    }
    ticker := time.NewTicker(heartbeat)
    defer ticker.Stop()

    for {
        select {
        case <-ctx.Done():
            return nil
        case m := <-msgs:
            if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.event, m.data); err != nil {
                return nil
            }
            w.Flush()
        case <-ticker.C:
            if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
                return nil
            }
            w.Flush()
        }
    }
}
