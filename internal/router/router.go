package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/venue-dashboard/internal/handler"    // handlers backed by the purchase cache
	"github.com/iliyamo/venue-dashboard/internal/middleware" // JWT authentication and role enforcement
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterDashboard registers the purchase and session endpoints.  Every
// route requires a valid access token signed with jwtSecret; mutations are
// further restricted by role.
func RegisterDashboard(e *echo.Echo, h *handler.PurchaseHandler, jwtSecret string) {
	v1 := e.Group("/v1")
	v1.Use(middleware.JWTAuth(jwtSecret))
	v1.Use(middleware.RequireRole(middleware.RoleCompanyAdmin, middleware.RoleLocationManager, middleware.RoleAttendant))

	// Session lifecycle: warm the cache on login, clear it on logout.
	v1.POST("/session/warmup", h.Warmup)
	v1.POST("/session/logout", h.Logout)

	p := v1.Group("/purchases")
	p.GET("", h.ListPurchases)
	// Static segments are registered before /:id so echo matches them first.
	p.GET("/cache", h.CacheStatus)
	p.GET("/events", h.StreamEvents)
	p.POST("/refresh", h.RefreshPurchases)
	p.GET("/:id", h.GetPurchase)

	p.POST("", h.CreatePurchase)
	p.PUT("/:id", h.UpdatePurchase)
	p.PATCH("/:id/check-in", h.CheckInPurchase)
	p.PATCH("/:id/cancel", h.CancelPurchase)
	p.PATCH("/:id/complete", h.CompletePurchase)

	// Deleting a purchase is limited to managers.
	p.DELETE("/:id", h.DeletePurchase, middleware.RequireRole(middleware.RoleCompanyAdmin, middleware.RoleLocationManager))
}
