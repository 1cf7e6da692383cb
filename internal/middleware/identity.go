package middleware

// identity.go turns verified JWT claims into the Identity handlers work
// with. The subject is the dashboard user, location_id (when present) pins
// a location manager or attendant to one venue.

import (
    "encoding/json"
    "errors"
    "fmt"
    "strconv"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/venue-dashboard/internal/model"
)

const identityKey = "identity"

// Identity is the authenticated caller.
type Identity struct {
    UserID     uint64
    Role       string
    LocationID *uint64
    Token      string
}

// SyncFilters is the filter context the caller's cache syncs run under.
func (i Identity) SyncFilters() model.SyncFilters {
    f := model.SyncFilters{UserID: model.Uint64Ptr(i.UserID)}
    if i.LocationID != nil {
        f.LocationID = model.Uint64Ptr(*i.LocationID)
    }
    return f
}

// IdentityFrom returns the identity stored by JWTAuth.
func IdentityFrom(c echo.Context) (Identity, bool) {
    id, ok := c.Get(identityKey).(Identity)
    return id, ok
}

func identityFromClaims(cl jwt.MapClaims) (Identity, error) {
    sub, err := claimUint(cl["sub"])
    if err != nil || sub == nil {
        return Identity{}, errors.New("sub claim is required")
    }
    role, _ := cl["role"].(string)
    loc, err := claimUint(cl["location_id"])
    if err != nil {
        return Identity{}, fmt.Errorf("location_id claim: %w", err)
    }
    return Identity{UserID: *sub, Role: role, LocationID: loc}, nil
}

// claimUint accepts the numeric and string encodings issuers use for ids.
func claimUint(v any) (*uint64, error) {
    switch t := v.(type) {
    case nil:
        return nil, nil
    case float64:
        if t < 0 || t != float64(uint64(t)) {
            return nil, fmt.Errorf("not an id: %v", t)
        }
        return model.Uint64Ptr(uint64(t)), nil
    case json.Number:
        n, err := strconv.ParseUint(string(t), 10, 64)
        if err != nil {
            return nil, err
        }
        return &n, nil
    case string:
        if t == "" {
            return nil, nil
        }
        n, err := strconv.ParseUint(t, 10, 64)
        if err != nil {
            return nil, err
        }
        return &n, nil
    default:
        return nil, fmt.Errorf("unsupported claim type %T", v)
    }
}
