// Package ledger commits fortune opens.
//
// THE OPEN STATE MACHINE:
// For each (handle, cycle key) a patron is in exactly one of three states:
//
//	NOT_CHECKED_IN ──CheckIn──▶ CHECKED_IN_UNOPENED ──Open──▶ OPENED
//	      │                              ▲
//	      └────────── Open (refused) ────┘ never skips ahead
//
// CheckIn (service/checkin.go) makes the first transition. Open makes the
// second one here. OPENED is terminal until the cycle key changes at the
// next 21:00 KST rollover, or staff reset the cycle and the record is gone.
//
// ONE TRANSACTION PER OPEN:
// Reading the check-in, reading the collection, writing the fortune and
// bumping the collection count all run inside one RunInTx call:
//
//	BEGIN IMMEDIATE
//	  SELECT daily_checkins   ← is it already opened?
//	  SELECT users/user_cards ← first time for this card?
//	  UPSERT user_cards       ← count + 1, capped at 10
//	  UPSERT daily_checkins   ← fortune_opened = 1 plus the snapshot
//	COMMIT
//
// Two concurrent opens for the same key queue on the write lock. The second
// one reads the row the first one committed and takes the ALREADY_OPENED
// branch, so exactly one draw is ever stored.
//
// REFUSALS ARE NOT ERRORS:
// "Not checked in" and "already opened" are normal answers, not failures.
// They come back as an Outcome with a Reason and a nil error. An error from
// Open always means the transaction rolled back and nothing was written.
//
// TEST IDENTITIES:
// Handles matching the test identity skip both checks. They may open without
// checking in and open again in the same cycle; every open overwrites the
// snapshot and still counts toward the collection.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sakif/fortune-club/internal/apperror"
	"github.com/sakif/fortune-club/internal/model"
	"github.com/sakif/fortune-club/internal/repository"
)

var tracer = otel.Tracer("github.com/sakif/fortune-club/internal/ledger")

// Reason explains a refused open.
type Reason string

const (
	ReasonNotCheckedIn  Reason = "NOT_CHECKED_IN"
	ReasonAlreadyOpened Reason = "ALREADY_OPENED"
)

// Outcome is the typed result of Open. Refusals are outcomes, not errors.
//
// When Opened, Checkin is the record just written. When Reason is
// ReasonAlreadyOpened, Checkin is the previously stored record so the caller
// can show it without drawing again.
type Outcome struct {
	Opened               bool           `json:"opened"`
	Reason               Reason         `json:"reason,omitempty"`
	FirstTimeCollectible bool           `json:"isFirstTimeCollectible"`
	Checkin              *model.Checkin `json:"checkin,omitempty"`
}

// Ledger owns the CHECKED_IN_UNOPENED → OPENED transition. It draws
// nothing itself; the caller passes the draw in, so a retried transaction
// commits the same draw it started with.
type Ledger struct {
	store        repository.Transactor
	testIdentity model.TestIdentity
	now          func() time.Time
}

// New returns a Ledger over store. Handles matching testIdentity are exempt
// from the check-in and once-per-cycle rules.
func New(store repository.Transactor, testIdentity model.TestIdentity) *Ledger {
	return &Ledger{store: store, testIdentity: testIdentity, now: time.Now}
}

// Open records draw as handle's fortune for cycleKey.
//
// The user record must exist. Any error means nothing was written.
func (l *Ledger) Open(ctx context.Context, handle, cycleKey string, draw model.FortuneResult) (Outcome, error) {
	// A child span of the request span, so the trace shows how long the
	// transaction (and its retries) took inside the open.
	ctx, span := tracer.Start(ctx, "ledger.Open")
	defer span.End()
	span.SetAttributes(
		attribute.String("fortune.handle", handle),
		attribute.String("fortune.cycle_key", cycleKey),
	)

	tester := l.testIdentity.Matches(handle)

	// out is written by the closure. CLOSURES capture variables by
	// reference, so the value set on the last (successful) attempt is the
	// one seen after RunInTx returns.
	var out Outcome
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
		// RunInTx may call this again after a busy rollback; start clean.
		out = Outcome{}

		// Read inside the transaction. Under BEGIN IMMEDIATE no other writer
		// can change the row between this read and the write below.
		checkin, err := tx.GetCheckin(ctx, cycleKey, handle)
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		// A missing user is an error, not a refusal: the service only calls
		// Open for a handle it has just loaded.
		user, err := tx.GetUser(ctx, handle)
		if err != nil {
			return err
		}

		// Refusals return nil so the transaction commits nothing and the
		// caller gets a normal Outcome.
		switch {
		case checkin == nil && !tester:
			out.Reason = ReasonNotCheckedIn
			return nil
		case checkin != nil && checkin.FortuneOpened && !tester:
			out.Reason = ReasonAlreadyOpened
			out.Checkin = checkin
			return nil
		}

		// Only testers reach here without a record.
		now := l.now()
		if checkin == nil {
			checkin = &model.Checkin{CycleKey: cycleKey, Handle: handle, CheckedInAt: now}
		}
		// Copy so the stored snapshot never aliases the caller's draw.
		fortune := draw
		checkin.FortuneOpened = true
		checkin.Fortune = &fortune

		// FirstTimeCollectible is judged against the collection as it was
		// before this write.
		id := draw.CollectibleID
		// A missing map key reads as 0, so a first copy becomes count 1.
		count := min(user.CollectionCounts[id]+1, model.MaxCollectibleCount)
		if err := tx.SetCollectionCount(ctx, handle, id, count, now); err != nil {
			return err
		}
		if err := tx.PutCheckin(ctx, checkin); err != nil {
			return err
		}

		out = Outcome{
			Opened:               true,
			FirstTimeCollectible: !user.HasCollectible(id),
			Checkin:              checkin,
		}
		return nil
	})
	if err != nil {
		// RecordError adds an event with the message; SetStatus marks the
		// span red in the trace viewer.
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return Outcome{}, fmt.Errorf("ledger: opening fortune for %s/%s: %w", cycleKey, handle, err)
	}

	span.SetAttributes(
		attribute.Bool("fortune.opened", out.Opened),
		attribute.String("fortune.reason", string(out.Reason)),
	)
	return out, nil
}
