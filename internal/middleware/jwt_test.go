package middleware

import (
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/venue-dashboard/internal/model"
    "github.com/iliyamo/venue-dashboard/internal/utils"
)

const testSecret = "test-secret"

func serve(t *testing.T, header string, mws ...echo.MiddlewareFunc) (*httptest.ResponseRecorder, *Identity) {
    t.Helper()
    e := echo.New()
    var seen *Identity
    h := func(c echo.Context) error {
        if id, ok := IdentityFrom(c); ok {
            seen = &id
        }
        return c.NoContent(http.StatusNoContent)
    }
    e.GET("/", h, mws...)

    req := httptest.NewRequest(http.MethodGet, "/", nil)
    if header != "" {
        req.Header.Set("Authorization", header)
    }
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    return rec, seen
}

func token(t *testing.T, claims utils.TokenClaims, ttl time.Duration) string {
    t.Helper()
    tok, err := utils.NewAccessToken(testSecret, claims, ttl)
    require.NoError(t, err)
    return tok.Token
}

func TestJWTAuth_ValidToken(t *testing.T) {
    raw := token(t, utils.TokenClaims{UserID: 42, Role: RoleLocationManager, LocationID: model.Uint64Ptr(3)}, time.Hour)

    rec, id := serve(t, "Bearer "+raw, JWTAuth(testSecret))
    assert.Equal(t, http.StatusNoContent, rec.Code)
    require.NotNil(t, id)
    assert.Equal(t, uint64(42), id.UserID)
    assert.Equal(t, RoleLocationManager, id.Role)
    require.NotNil(t, id.LocationID)
    assert.Equal(t, uint64(3), *id.LocationID)
    assert.Equal(t, raw, id.Token)

    f := id.SyncFilters()
    assert.True(t, f.Equal(model.SyncFilters{UserID: model.Uint64Ptr(42), LocationID: model.Uint64Ptr(3)}))
}

func TestJWTAuth_Rejects(t *testing.T) {
    expired := token(t, utils.TokenClaims{UserID: 1, Role: RoleAttendant}, -time.Minute)
    wrongKey, err := utils.NewAccessToken("other-secret", utils.TokenClaims{UserID: 1}, time.Hour)
    require.NoError(t, err)
    noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"role": RoleAttendant}).SignedString([]byte(testSecret))
    require.NoError(t, err)

    cases := map[string]string{
        "missing header": "",
        "not bearer":     "Basic abc",
        "garbage":        "Bearer not-a-jwt",
        "expired":        "Bearer " + expired,
        "wrong key":      "Bearer " + wrongKey.Token,
        "missing sub":    "Bearer " + noSub,
    }
    for name, header := range cases {
        t.Run(name, func(t *testing.T) {
            rec, id := serve(t, header, JWTAuth(testSecret))
            assert.Equal(t, http.StatusUnauthorized, rec.Code)
            assert.Nil(t, id)
        })
    }
}

func TestJWTAuth_StringSubject(t *testing.T) {
    raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
        "sub":  "17",
        "role": RoleCompanyAdmin,
        "exp":  time.Now().Add(time.Hour).Unix(),
    }).SignedString([]byte(testSecret))
    require.NoError(t, err)

    rec, id := serve(t, "Bearer "+raw, JWTAuth(testSecret))
    assert.Equal(t, http.StatusNoContent, rec.Code)
    require.NotNil(t, id)
    assert.Equal(t, uint64(17), id.UserID)
    assert.Nil(t, id.LocationID)
}

func TestRequireRole(t *testing.T) {
    admin := token(t, utils.TokenClaims{UserID: 1, Role: RoleCompanyAdmin}, time.Hour)
    attendant := token(t, utils.TokenClaims{UserID: 2, Role: RoleAttendant}, time.Hour)
    guard := RequireRole(RoleCompanyAdmin, RoleLocationManager)

    rec, _ := serve(t, "Bearer "+admin, JWTAuth(testSecret), guard)
    assert.Equal(t, http.StatusNoContent, rec.Code)

    rec, _ = serve(t, "Bearer "+attendant, JWTAuth(testSecret), guard)
    assert.Equal(t, http.StatusForbidden, rec.Code)

    // without JWTAuth there is no role at all
    rec, _ = serve(t, "", guard)
    assert.Equal(t, http.StatusForbidden, rec.Code)
}
