// Package client talks to the purchase REST API that owns attraction
// purchases.  It is the cache's RemoteSource and the pass-through used by
// dashboard mutations.
package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/iliyamo/venue-dashboard/internal/model"
	"github.com/iliyamo/venue-dashboard/internal/purchasecache"
)

// ErrNotFound is returned when the API answers 404 for a purchase.
var ErrNotFound = errors.New("purchase not found")

// ErrUnauthorized is returned when the API rejects the bearer token.
var ErrUnauthorized = errors.New("purchase api rejected credentials")

// APIError carries any other non-2xx answer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("purchase api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("purchase api returned status %d: %s", e.StatusCode, e.Message)
}

const (
	purchasesPath   = "/attraction-purchases"
	defaultPageSize = 100
	// maxPages bounds a full sync against a misbehaving paginator.
	maxPages = 500
)

// Config describes how to reach the purchase API.
type Config struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	PageSize int
}

// PurchaseClient is a typed client for /attraction-purchases.
type PurchaseClient struct {
	http     *resty.Client
	token    string
	pageSize int
	logger   *zap.Logger
}

// NewPurchaseClient builds a client.  Timeouts are enforced here; the cache
// layer above has none of its own.
func NewPurchaseClient(cfg Config, logger *zap.Logger) *PurchaseClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &PurchaseClient{
		http:     hc,
		token:    cfg.Token,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Close releases idle connections.
func (c *PurchaseClient) Close() error {
	return c.http.Close()
}

type tokenKey struct{}

// WithToken attaches a caller's bearer token to ctx.  It takes precedence
// over the static token from Config.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey{}).(string); ok {
		return v
	}
	return ""
}

// ListParams are the query parameters of the list endpoint.
type ListParams struct {
	LocationID   *uint64
	AttractionID *uint64
	CustomerID   *uint64
	UserID       *uint64
	Status       model.PurchaseStatus
	Search       string
	Page         int
	PerPage      int
}

func (p ListParams) query() map[string]string {
	q := map[string]string{}
	setID := func(k string, v *uint64) {
		if v != nil {
			q[k] = strconv.FormatUint(*v, 10)
		}
	}
	setID("location_id", p.LocationID)
	setID("attraction_id", p.AttractionID)
	setID("customer_id", p.CustomerID)
	setID("user_id", p.UserID)
	if p.Status != "" {
		q["status"] = string(p.Status)
	}
	if s := strings.TrimSpace(p.Search); s != "" {
		q["search"] = s
	}
	if p.Page > 0 {
		q["page"] = strconv.Itoa(p.Page)
	}
	if p.PerPage > 0 {
		q["per_page"] = strconv.Itoa(p.PerPage)
	}
	return q
}

// ListResult is one page of purchases.
type ListResult struct {
	Items      []model.Purchase
	Pagination model.Pagination
}

// PurchaseInput is the writable part of a purchase.
type PurchaseInput struct {
	AttractionID  uint64               `json:"attraction_id"`
	CustomerID    *uint64              `json:"customer_id,omitempty"`
	LocationID    *uint64              `json:"location_id,omitempty"`
	GuestName     string               `json:"guest_name,omitempty"`
	GuestEmail    string               `json:"guest_email,omitempty"`
	GuestPhone    string               `json:"guest_phone,omitempty"`
	Quantity      int                  `json:"quantity"`
	PaymentMethod model.PaymentMethod  `json:"payment_method"`
	Status        model.PurchaseStatus `json:"status,omitempty"`
	PurchaseDate  string               `json:"purchase_date,omitempty"`
	Notes         string               `json:"notes,omitempty"`
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type listData struct {
	Purchases  []model.Purchase `json:"purchases"`
	Pagination model.Pagination `json:"pagination"`
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *PurchaseClient) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	token := tokenFrom(ctx)
	if token == "" {
		token = c.token
	}
	if token != "" {
		req.SetAuthToken(token)
	}
	return req
}

func check(res *resty.Response, eb *errorBody) error {
	if !res.IsError() {
		return nil
	}
	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}
	switch res.StatusCode() {
	case 404:
		return ErrNotFound
	case 401:
		return ErrUnauthorized
	}
	return &APIError{StatusCode: res.StatusCode(), Message: msg}
}

// List fetches one page of purchases.
func (c *PurchaseClient) List(ctx context.Context, p ListParams) (ListResult, error) {
	var out envelope[listData]
	var eb errorBody
	res, err := c.request(ctx).
		SetQueryParams(p.query()).
		SetResult(&out).
		SetError(&eb).
		Get(purchasesPath)
	if err != nil {
		return ListResult{}, fmt.Errorf("list purchases: %w", err)
	}
	if err := check(res, &eb); err != nil {
		return ListResult{}, fmt.Errorf("list purchases: %w", err)
	}
	items := out.Data.Purchases
	if items == nil {
		items = []model.Purchase{}
	}
	return ListResult{Items: items, Pagination: out.Data.Pagination}, nil
}

// FetchAll walks every page of the list endpoint under filters.  It makes
// the client usable as the cache's RemoteSource.
func (c *PurchaseClient) FetchAll(ctx context.Context, filters model.SyncFilters) (purchasecache.FetchResult, error) {
	params := ListParams{LocationID: filters.LocationID, UserID: filters.UserID, PerPage: c.pageSize}
	var all []model.Purchase
	var last model.Pagination
	for page := 1; page <= maxPages; page++ {
		params.Page = page
		res, err := c.List(ctx, params)
		if err != nil {
			return purchasecache.FetchResult{}, err
		}
		all = append(all, res.Items...)
		last = res.Pagination
		if len(res.Items) == 0 || last.LastPage <= page {
			break
		}
	}
	if all == nil {
		all = []model.Purchase{}
	}
	c.logger.Debug("fetched purchase collection", zap.Int("records", len(all)), zap.Int("pages", last.LastPage))
	return purchasecache.FetchResult{Items: all, Pagination: last}, nil
}

// Get fetches a single purchase.
func (c *PurchaseClient) Get(ctx context.Context, id uint64) (model.Purchase, error) {
	return c.one("get", c.request(ctx), "GET", purchasePath(id))
}

// Create adds a purchase and returns the stored record.
func (c *PurchaseClient) Create(ctx context.Context, in PurchaseInput) (model.Purchase, error) {
	return c.one("create", c.request(ctx).SetBody(in), "POST", purchasesPath)
}

// Update replaces the writable fields of a purchase.
func (c *PurchaseClient) Update(ctx context.Context, id uint64, in PurchaseInput) (model.Purchase, error) {
	return c.one("update", c.request(ctx).SetBody(in), "PUT", purchasePath(id))
}

// CheckIn marks the guests of a purchase as arrived.
func (c *PurchaseClient) CheckIn(ctx context.Context, id uint64) (model.Purchase, error) {
	return c.one("check in", c.request(ctx), "PATCH", purchasePath(id)+"/check-in")
}

// Cancel moves a purchase to cancelled.
func (c *PurchaseClient) Cancel(ctx context.Context, id uint64) (model.Purchase, error) {
	return c.one("cancel", c.request(ctx), "PATCH", purchasePath(id)+"/cancel")
}

// Complete moves a purchase to completed.
func (c *PurchaseClient) Complete(ctx context.Context, id uint64) (model.Purchase, error) {
	return c.one("complete", c.request(ctx), "PATCH", purchasePath(id)+"/complete")
}

// Delete removes a purchase.
func (c *PurchaseClient) Delete(ctx context.Context, id uint64) error {
	var eb errorBody
	res, err := c.request(ctx).SetError(&eb).Delete(purchasePath(id))
	if err != nil {
		return fmt.Errorf("delete purchase %d: %w", id, err)
	}
	if err := check(res, &eb); err != nil {
		return fmt.Errorf("delete purchase %d: %w", id, err)
	}
	return nil
}

func (c *PurchaseClient) one(op string, req *resty.Request, method, path string) (model.Purchase, error) {
	var out envelope[model.Purchase]
	var eb errorBody
	res, err := req.SetResult(&out).SetError(&eb).Execute(method, path)
	if err != nil {
		return model.Purchase{}, fmt.Errorf("%s purchase: %w", op, err)
	}
	if err := check(res, &eb); err != nil {
		return model.Purchase{}, fmt.Errorf("%s purchase: %w", op, err)
	}
	if out.Data.ID == 0 {
		return model.Purchase{}, fmt.Errorf("%s purchase: response carried no purchase", op)
	}
	return out.Data, nil
}

func purchasePath(id uint64) string {
	return purchasesPath + "/" + strconv.FormatUint(id, 10)
}
