package purchasecache

import (
    "strings"

    "github.com/iliyamo/venue-dashboard/internal/model"
)

// Matches reports whether p satisfies every predicate set in f.
func Matches(p model.Purchase, f model.QueryFilters) bool {
    if f.LocationID != nil {
        loc, ok := p.EffectiveLocationID()
        if !ok || loc != *f.LocationID {
            return false
        }
    }
    if f.Status != "" && p.Status != f.Status {
        return false
    }
    if f.AttractionID != nil && p.AttractionID != *f.AttractionID {
        return false
    }
    if f.CustomerID != nil && (p.CustomerID == nil || *p.CustomerID != *f.CustomerID) {
        return false
    }
    if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
        return matchesSearch(p, q)
    }
    return true
}

// matchesSearch expects q already lower-cased.
func matchesSearch(p model.Purchase, q string) bool {
    if strings.Contains(strings.ToLower(p.GuestName), q) ||
        strings.Contains(strings.ToLower(p.GuestEmail), q) {
        return true
    }
    return p.Attraction != nil && strings.Contains(strings.ToLower(p.Attraction.Name), q)
}

// Filter returns the purchases matching f, preserving order.  The result
// is never nil.
func Filter(items []model.Purchase, f model.QueryFilters) []model.Purchase {
    out := make([]model.Purchase, 0, len(items))
    for _, p := range items {
        if Matches(p, f) {
            out = append(out, p.Clone())
        }
    }
    return out
}
