package credits

import (
	"context"
	"fmt"
	"sync"

	"github.com/bobarin/adshot/internal/errs"
	"github.com/rs/zerolog/log"
)

// Job prices in credits.
const (
	CompositeCost = 5
	VideoCost     = 10
)

const insufficientMessage = "Not enough credits. Please purchase more credits."

// PlanCredits is the number of credits granted per paid billing period.
var PlanCredits = map[string]int{
	"pro":     80,
	"premium": 240,
}

// Store is the persistence the ledger needs. *db.DB satisfies it.
type Store interface {
	DebitCredits(ctx context.Context, userID string, amount int) (bool, error)
	CreditCredits(ctx context.Context, userID string, amount int) error
}

type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Reservation is a debit that has been applied and may still be refunded.
type Reservation struct {
	UserID string
	Amount int

	once sync.Once
}

// Reserve debits amount from the user's balance if it is large enough.
// A short balance yields a PaymentRequired error and no reservation.
func (l *Ledger) Reserve(ctx context.Context, userID string, amount int) (*Reservation, error) {
	ok, err := l.store.DebitCredits(ctx, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve credits: %w", err)
	}
	if !ok {
		return nil, errs.PaymentRequired(insufficientMessage)
	}

	log.Debug().Str("user_id", userID).Int("amount", amount).Msg("[Credits] Reserved")
	return &Reservation{UserID: userID, Amount: amount}, nil
}

// Refund returns a reservation to the balance. Only the first call for a
// reservation has any effect; a nil reservation is a no-op.
func (l *Ledger) Refund(ctx context.Context, r *Reservation) error {
	if r == nil {
		return nil
	}

	var err error
	r.once.Do(func() {
		err = l.store.CreditCredits(ctx, r.UserID, r.Amount)
		if err != nil {
			log.Error().Err(err).Str("user_id", r.UserID).Int("amount", r.Amount).Msg("[Credits] Refund failed")
			return
		}
		log.Info().Str("user_id", r.UserID).Int("amount", r.Amount).Msg("[Credits] Refunded")
	})
	return err
}

// Increment adds credits outside of any reservation, e.g. after a purchase.
func (l *Ledger) Increment(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return errs.BadRequest("Credit amount must be positive")
	}
	if err := l.store.CreditCredits(ctx, userID, amount); err != nil {
		return fmt.Errorf("failed to increment credits: %w", err)
	}
	return nil
}

// ApplyPlanPurchase grants the credits attached to a billing plan slug.
func (l *Ledger) ApplyPlanPurchase(ctx context.Context, userID, planSlug string) (int, error) {
	amount, ok := PlanCredits[planSlug]
	if !ok {
		return 0, errs.BadRequest("Invalid plan")
	}
	if err := l.Increment(ctx, userID, amount); err != nil {
		return 0, err
	}

	log.Info().Str("user_id", userID).Str("plan", planSlug).Int("amount", amount).Msg("[Credits] Plan purchase applied")
	return amount, nil
}
