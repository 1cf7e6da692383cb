// Command devtoken prints an access token for calling the dashboard API
// locally.  Real tokens are issued by the platform's auth service.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/venue-dashboard/internal/middleware"
	"github.com/iliyamo/venue-dashboard/internal/model"
	"github.com/iliyamo/venue-dashboard/internal/utils"
)

func main() {
	_ = godotenv.Load()

	user := flag.Uint64("user", 1, "user id (sub claim)")
	role := flag.String("role", middleware.RoleCompanyAdmin, "role claim")
	location := flag.Uint64("location", 0, "location id claim, 0 for none")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	claims := utils.TokenClaims{UserID: *user, Role: *role}
	if *location != 0 {
		claims.LocationID = model.Uint64Ptr(*location)
	}
	tok, err := utils.NewAccessToken(os.Getenv("JWT_SECRET"), claims, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
