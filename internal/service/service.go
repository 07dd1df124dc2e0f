// Package service holds the business rules between the HTTP handlers and the
// repositories.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces venue rules, orchestrates
//	Repository (data layer)  → reads and writes SQLite
//
// A service never sees an *http.Request and never writes SQL. CheckIn takes
// a CheckInRequest, not a form; Open takes a handle, not a cookie. The same
// code runs behind the HTTP API, the cron scheduler and the tests.
//
// THE SERVICES:
//
//	CheckInService  door check-in, current record, match candidates, match
//	FortuneService  draw, commit through the ledger, issue coupons
//	CouponService   active coupons, mark used
//	ProfileService  profile, collection view, tester reset
//	AdminService    config document, staff code, cycle reset, debug logs
//
// DEPENDENCY INJECTION:
// Services take repository interfaces, never *sqlite.DB. Each one has a Deps
// struct so server.go wires collaborators by name, and tests pass the
// in-memory fakeStore (fakes_test.go) for every store at once.
//
// ERRORS:
// Domain failures are apperror values (ValidationFailed, Forbidden,
// NotFound...). Infrastructure failures are wrapped with the service name:
//
//	service/checkin: recording checkin for alice: sqlite: ...: database is locked
//
// The handler layer maps the sentinel underneath to a status code, so a
// wrapped NotFound is still a 404.
package service

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/sakif/fortune-club/internal/model"
)

// ConfigProvider returns the admin config snapshot for one request.
//
// ONE SNAPSHOT PER REQUEST:
// Callers read the config once at the start of a request and pass the value
// down. Staff may save a new config mid-request; the request finishes with
// the probabilities and timer it started with. AdminService implements it.
type ConfigProvider interface {
	Config(ctx context.Context) (model.AdminConfig, error)
}

// Metric outcome labels.
const (
	outcomeOpened = "opened"
	outcomeError  = "error"
)

// RandomStaffCode returns a uniformly random code in 1000..9999.
//
// The code is shown on a sign at the door and only proves the patron is in
// the room, so math/rand is enough; it rotates every cycle.
func RandomStaffCode() string {
	return fmt.Sprintf("%04d", 1000+rand.IntN(9000))
}
