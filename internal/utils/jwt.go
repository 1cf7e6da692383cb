package utils // package utils provides helper functions for token creation

import (
    "errors"
    "time" // time utilities for generating expirations

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
    Token string    // the serialized JWT string
    Exp   time.Time // the UTC expiration time
}

// TokenClaims are the dashboard claims carried by an access token.
type TokenClaims struct {
    UserID     uint64
    Role       string
    LocationID *uint64
}

// NewAccessToken builds and signs an HS256 JWT in the shape JWTAuth
// accepts: sub, role, optional location_id, exp and iat.  Production tokens
// come from the platform's auth service; this is used by the devtoken
// command and by tests.
func NewAccessToken(secret string, c TokenClaims, ttl time.Duration) (AccessToken, error) {
    if secret == "" {
        return AccessToken{}, errors.New("jwt secret is required")
    }
    now := time.Now().UTC()
    exp := now.Add(ttl)
    claims := jwt.MapClaims{
        "sub":  c.UserID,
        "role": c.Role,
        "exp":  exp.Unix(),
        "iat":  now.Unix(),
    }
    if c.LocationID != nil {
        claims["location_id"] = *c.LocationID
    }
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    signed, err := t.SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}
