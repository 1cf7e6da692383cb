package model

import "time"

// Pagination mirrors the pagination block of the purchase list endpoint.
type Pagination struct {
    CurrentPage int `json:"current_page"`
    LastPage    int `json:"last_page"`
    PerPage     int `json:"per_page"`
    Total       int `json:"total"`
}

// SyncFilters is the filter context a full sync runs under.  They scope
// what the purchase API returns, so they are recorded in the metadata.
type SyncFilters struct {
    LocationID *uint64 `json:"locationId,omitempty"`
    UserID     *uint64 `json:"userId,omitempty"`
}

// Equal reports whether two filter contexts select the same data.
func (f SyncFilters) Equal(o SyncFilters) bool {
    return eqPtr(f.LocationID, o.LocationID) && eqPtr(f.UserID, o.UserID)
}

func eqPtr(a, b *uint64) bool {
    if a == nil || b == nil {
        return a == nil && b == nil
    }
    return *a == *b
}

// QueryFilters are the optional predicates applied to the cached
// collection.  Every set field must match; Search is a case-insensitive
// substring match against guest name, guest email and attraction name.
type QueryFilters struct {
    LocationID   *uint64
    Status       PurchaseStatus
    AttractionID *uint64
    CustomerID   *uint64
    Search       string
}

// CacheMetadata is the freshness record stored next to the cached
// collection.  TotalRecords always equals the length of the collection
// written with it.
type CacheMetadata struct {
    LastUpdated  time.Time `json:"lastUpdated"`
    TotalRecords int       `json:"totalRecords"`
    LocationID   *uint64   `json:"locationId,omitempty"`
    UserID       *uint64   `json:"userId,omitempty"`
}

// Filters returns the filter context the metadata was written under.
func (m CacheMetadata) Filters() SyncFilters {
    return SyncFilters{LocationID: m.LocationID, UserID: m.UserID}
}

// Uint64Ptr is a small helper for optional identifiers.
func Uint64Ptr(v uint64) *uint64 { return &v }
