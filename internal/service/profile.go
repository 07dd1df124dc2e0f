package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/cycle"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
	"github.com/sakif/fortune-club/internal/reward"
)

// birthDateLayout is Go's reference-time layout for YYYY-MM-DD. Go layouts
// spell the date Mon Jan 2 15:04:05 2006 in the wanted shape instead of
// using %Y-%m-%d codes.
const birthDateLayout = "2006-01-02"

// ProfileService manages the patron's self-reported profile and exposes the
// collection.
//
// WHAT THE PROFILE IS FOR:
// Everything in it is optional. MBTI and element feed compatibility scoring
// on the client; birth date picks the horoscope sign at draw time. A patron
// with an empty profile still checks in, draws and collects.
type ProfileService struct {
	users        repository.UserRepository
	clock        *cycle.Clock
	testIdentity model.TestIdentity
	logger       *slog.Logger
}

// NewProfileService takes its collaborators positionally; there are few
// enough that a Deps struct would add nothing.
func NewProfileService(users repository.UserRepository, clock *cycle.Clock, testIdentity model.TestIdentity, logger *slog.Logger) *ProfileService {
	return &ProfileService{users: users, clock: clock, testIdentity: testIdentity, logger: logger}
}

// Get returns the patron's user record. CredentialHash is tagged json:"-",
// so the record can be written out as is.
func (s *ProfileService) Get(ctx context.Context, handle string) (*model.User, error) {
	u, err := s.users.GetUser(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("service/profile: fetching %s: %w", handle, err)
	}
	return u, nil
}

// Update validates and stores p. BirthDate must already be solar; lunar
// conversion happens on the client.
func (s *ProfileService) Update(ctx context.Context, handle string, p model.Profile) (*model.User, error) {
	p, err := s.normalizeProfile(p)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateProfile(ctx, handle, p); err != nil {
		return nil, fmt.Errorf("service/profile: updating %s: %w", handle, err)
	}
	// Profile values are personal; only the handle is logged.
	s.logger.Info("profile updated", slog.String("handle", handle))
	// Read back so the response shows exactly what was stored.
	return s.Get(ctx, handle)
}

// normalizeProfile canonicalises case and whitespace, then validates.
//
// VALIDATION RULES:
//
//	mbti          one of the 16 codes, any case in, upper case out
//	birthDate     YYYY-MM-DD, 1900-01-01 up to today
//	calendarType  solar or lunar; defaults to solar when a date is given
//	element       wood, fire, earth, metal or water
//
// Empty fields are allowed and clear the stored value.
func (s *ProfileService) normalizeProfile(p model.Profile) (model.Profile, error) {
	// p was passed by value, so normalising it in place does not touch the
	// caller's struct.
	p.MBTI = strings.ToUpper(strings.TrimSpace(p.MBTI))
	p.BirthDate = strings.TrimSpace(p.BirthDate)
	p.CalendarType = strings.ToLower(strings.TrimSpace(p.CalendarType))
	p.Element = strings.ToLower(strings.TrimSpace(p.Element))

	if p.MBTI != "" && !model.IsValidMBTI(p.MBTI) {
		return p, apperror.ValidationFailed("mbti", "unknown MBTI type")
	}

	if p.BirthDate != "" {
		d, err := time.Parse(birthDateLayout, p.BirthDate)
		if err != nil {
			return p, apperror.ValidationFailed("birthDate", "birth date must be YYYY-MM-DD")
		}
		// Through the cycle clock, so tests can pin "today".
		if d.Year() < 1900 || d.After(s.clock.CurrentTime()) {
			return p, apperror.ValidationFailed("birthDate", "birth date is out of range")
		}
		if p.CalendarType == "" {
			p.CalendarType = model.CalendarSolar
		}
	}

	if p.CalendarType != "" && p.CalendarType != model.CalendarSolar && p.CalendarType != model.CalendarLunar {
		return p, apperror.ValidationFailed("calendarType", "calendar type must be solar or lunar")
	}
	if p.Element != "" && !model.IsValidElement(p.Element) {
		return p, apperror.ValidationFailed("element", "element must be wood, fire, earth, metal or water")
	}
	return p, nil
}

// CollectedCard is one owned collectible with its draw count.
type CollectedCard struct {
	// Embedded: the card's fields encode at the top level beside count.
	reward.Card
	Count int `json:"count"`
}

// Collection is the patron's album: owned cards in acquisition order and
// the full catalog for rendering empty slots.
type Collection struct {
	Owned   []CollectedCard               `json:"owned"`
	Total   int                           `json:"total"`
	Catalog [reward.CardCount]reward.Card `json:"catalog"`
}

// Collection builds the album view. Ids outside the catalog are skipped so
// a shrunken catalog never breaks old accounts.
func (s *ProfileService) Collection(ctx context.Context, handle string) (*Collection, error) {
	u, err := s.Get(ctx, handle)
	if err != nil {
		return nil, err
	}

	c := &Collection{
		Owned:   make([]CollectedCard, 0, len(u.Collection)),
		Total:   reward.CardCount,
		Catalog: reward.Cards,
	}
	for _, id := range u.Collection {
		card, ok := reward.CardByID(id)
		if !ok {
			continue
		}
		c.Owned = append(c.Owned, CollectedCard{Card: card, Count: u.CollectionCounts[id]})
	}
	return c, nil
}

// ResetTestData wipes a demo account's profile, collection and coupons so
// it can be shown again from scratch. Only test identities may do this.
func (s *ProfileService) ResetTestData(ctx context.Context, handle string) error {
	if !s.testIdentity.Matches(handle) {
		return apperror.Forbidden("only test accounts can be reset")
	}
	if err := s.users.ResetUserData(ctx, handle); err != nil {
		return fmt.Errorf("service/profile: resetting %s: %w", handle, err)
	}
	s.logger.Info("test account reset", slog.String("handle", handle))
	return nil
}
