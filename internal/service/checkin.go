// Door check-in.
//
// CHECK-IN RULES, in the order they are applied:
//
//  1. handle     trimmed, lower-cased, [a-z0-9._]{1,30}
//  2. credential exactly 4 digits
//  3. staff code must equal today's code in the admin config
//  4. geofence   inside the venue radius, unless disabled or a test handle
//  5. user       created on first sight, else bcrypt-verified
//  6. record     inserted once per (cycle key, handle)
//
// Steps 1-4 fail before anything is read from the user table, so a wrong
// staff code or a patron outside the venue never costs a bcrypt round.
//
// REPEAT CHECK-INS:
// Checking in twice in one cycle is not an error. The second call returns
// the stored record untouched, including fortune_opened, so a patron who
// closes the browser can check in again and still see today's fortune.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/auth"
	"github.com/sakif/fortune-club/internal/cycle"
	"github.com/sakif/fortune-club/internal/geofence"
	"github.com/sakif/fortune-club/internal/metrics"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
)

// MaxHandleLength bounds the user-chosen handle.
const MaxHandleLength = 30

// handlePattern is applied after lower-casing.
var handlePattern = regexp.MustCompile(`^[a-z0-9._]+$`)

// Check-in metric labels.
const (
	checkinNew      = "new"
	checkinRepeat   = "repeat"
	checkinRejected = "rejected"
)

// CheckInDeps groups the CheckInService collaborators.
type CheckInDeps struct {
	Users        repository.UserRepository
	Checkins     repository.CheckinRepository
	Config       ConfigProvider
	Passwords    *auth.PasswordService
	Tokens       *auth.TokenService
	Clock        *cycle.Clock
	TestIdentity model.TestIdentity
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// CheckInService admits patrons for the current cycle.
type CheckInService struct {
	users        repository.UserRepository
	checkins     repository.CheckinRepository
	config       ConfigProvider
	passwords    *auth.PasswordService
	tokens       *auth.TokenService
	clock        *cycle.Clock
	testIdentity model.TestIdentity
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewCheckInService copies the Deps fields; nothing is validated here, a
// missing collaborator is a wiring bug caught by the server tests.
func NewCheckInService(d CheckInDeps) *CheckInService {
	return &CheckInService{
		users:        d.Users,
		checkins:     d.Checkins,
		config:       d.Config,
		passwords:    d.Passwords,
		tokens:       d.Tokens,
		clock:        d.Clock,
		testIdentity: d.TestIdentity,
		metrics:      d.Metrics,
		logger:       d.Logger,
	}
}

// CheckInRequest is what a patron submits at the door. Lat and Lng are nil
// when the device did not share a location.
type CheckInRequest struct {
	Handle     string
	Credential string
	StaffCode  string
	Lat        *float64
	Lng        *float64
}

// CheckInResult carries the token so the handler can set the session
// cookie. IsNewUser tells the client to show the profile form.
type CheckInResult struct {
	Checkin   *model.Checkin
	IsNewUser bool
	Token     string
}

// NormalizeHandle trims and lowercases h and validates its characters.
func NormalizeHandle(h string) (string, error) {
	h = strings.ToLower(strings.TrimSpace(h))
	switch {
	case h == "":
		return "", apperror.ValidationFailed("handle", "handle is required")
	case len(h) > MaxHandleLength:
		return "", apperror.ValidationFailed("handle",
			fmt.Sprintf("handle must be %d characters or less", MaxHandleLength))
	case !handlePattern.MatchString(h):
		return "", apperror.ValidationFailed("handle",
			"handle may only contain lowercase letters, digits, dots and underscores")
	}
	return h, nil
}

// CheckIn validates the staff code and location, creates or authenticates
// the user and records the check-in for the current cycle. Checking in
// twice in one cycle returns the existing record unchanged.
func (s *CheckInService) CheckIn(ctx context.Context, req CheckInRequest) (*CheckInResult, error) {
	// Rules 1 and 2: shape only, no I/O.
	handle, err := NormalizeHandle(req.Handle)
	if err != nil {
		return nil, err
	}
	if !auth.ValidCredential(req.Credential) {
		return nil, apperror.ValidationFailed("credential", "credential must be exactly 4 digits")
	}

	cfg, err := s.config.Config(ctx)
	if err != nil {
		return nil, err
	}

	// Rule 3. The staff code is a 4-digit number read off a sign, not a
	// secret worth a constant-time compare.
	if strings.TrimSpace(req.StaffCode) != cfg.DailyStaffCode {
		s.reject(handle, "staff_code")
		return nil, apperror.Forbidden("staff code is incorrect")
	}

	// Rule 4. Test handles skip it so staff can demo from anywhere.
	if !s.testIdentity.Matches(handle) && cfg.Geofence.Enabled {
		if req.Lat == nil || req.Lng == nil {
			s.reject(handle, "no_location")
			return nil, apperror.Forbidden("location is required to check in")
		}
		if !geofence.Within(cfg.Geofence, *req.Lat, *req.Lng) {
			s.reject(handle, "outside_geofence")
			return nil, apperror.Forbidden("you must be at the venue to check in")
		}
	}

	// Rule 5: the first bcrypt call of the request.
	isNew, err := s.authenticate(ctx, handle, req.Credential)
	if err != nil {
		return nil, err
	}

	// Rule 6. created is false on a repeat check-in; the stored record
	// comes back either way.
	key := s.clock.Current()
	record, created, err := s.checkins.CreateCheckin(ctx, &model.Checkin{
		CycleKey:    key,
		Handle:      handle,
		CheckedInAt: s.clock.CurrentTime(),
	})
	if err != nil {
		return nil, fmt.Errorf("service/checkin: recording checkin for %s: %w", handle, err)
	}

	// A fresh token on every check-in, repeat or not. It outlives the
	// cycle; the fortune route checks the check-in, not the token age.
	token, err := s.tokens.Generate(handle)
	if err != nil {
		return nil, fmt.Errorf("service/checkin: issuing token for %s: %w", handle, err)
	}

	result := checkinRepeat
	if created {
		result = checkinNew
	}
	s.metrics.CheckIn(result)
	s.logger.Info("checked in",
		slog.String("handle", handle),
		slog.String("cycle_key", key),
		slog.Bool("new_user", isNew),
		slog.Bool("first_of_cycle", created),
	)

	return &CheckInResult{Checkin: record, IsNewUser: isNew, Token: token}, nil
}

// reject counts and logs a refused check-in. reason is a fixed label, never
// user input.
func (s *CheckInService) reject(handle, reason string) {
	s.metrics.CheckIn(checkinRejected)
	s.logger.Info("checkin rejected", slog.String("handle", handle), slog.String("reason", reason))
}

// authenticate creates the user on first sight or verifies the credential.
func (s *CheckInService) authenticate(ctx context.Context, handle, credential string) (isNew bool, err error) {
	user, err := s.users.GetUser(ctx, handle)
	// First sight: the credential they typed becomes their credential.
	if errors.Is(err, apperror.ErrNotFound) {
		hash, herr := s.passwords.Hash(credential)
		if herr != nil {
			return false, fmt.Errorf("service/checkin: %w", herr)
		}
		now := s.clock.CurrentTime()
		cerr := s.users.CreateUser(ctx, &model.User{
			Handle:         handle,
			CredentialHash: hash,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if cerr == nil {
			s.logger.Info("user created", slog.String("handle", handle))
			return true, nil
		}
		if !errors.Is(cerr, apperror.ErrConflict) {
			return false, fmt.Errorf("service/checkin: creating user %s: %w", handle, cerr)
		}
		// Lost a race with a concurrent first check-in; verify against the
		// winner's credential.
		user, err = s.users.GetUser(ctx, handle)
	}
	if err != nil {
		return false, fmt.Errorf("service/checkin: fetching user %s: %w", handle, err)
	}

	if err := s.passwords.Verify(user.CredentialHash, credential); err != nil {
		if errors.Is(err, auth.ErrCredentialMismatch) {
			s.reject(handle, "credential")
			return false, apperror.Unauthorized("credential does not match this handle")
		}
		return false, fmt.Errorf("service/checkin: %w", err)
	}
	return false, nil
}

// Current returns handle's check-in for the current cycle.
func (s *CheckInService) Current(ctx context.Context, handle string) (*model.Checkin, error) {
	c, err := s.checkins.GetCheckin(ctx, s.clock.Current(), handle)
	if err != nil {
		return nil, fmt.Errorf("service/checkin: %w", err)
	}
	return c, nil
}

// RecordMatch stores other as the advisory match on handle's current
// check-in. other need not exist.
func (s *CheckInService) RecordMatch(ctx context.Context, handle, other string) error {
	// Same normalisation as a handle at the door, so "Bob " matches "bob".
	other = strings.ToLower(strings.TrimSpace(other))
	if other == "" {
		return apperror.ValidationFailed("matchedWith", "matched handle is required")
	}
	if other == handle {
		return apperror.ValidationFailed("matchedWith", "cannot match with yourself")
	}

	if err := s.checkins.SetMatch(ctx, s.clock.Current(), handle, other); err != nil {
		return fmt.Errorf("service/checkin: recording match for %s: %w", handle, err)
	}
	return nil
}

// MatchCandidates lists the other patrons checked in for the current cycle
// with their profiles. handle must itself be checked in.
func (s *CheckInService) MatchCandidates(ctx context.Context, handle string) ([]model.MatchCandidate, error) {
	// Only someone in the room may see who else is in the room.
	key := s.clock.Current()
	if _, err := s.checkins.GetCheckin(ctx, key, handle); err != nil {
		return nil, fmt.Errorf("service/checkin: %w", err)
	}
	candidates, err := s.checkins.ListCandidates(ctx, key, handle)
	if err != nil {
		return nil, fmt.Errorf("service/checkin: listing candidates for %s: %w", handle, err)
	}
	return candidates, nil
}
