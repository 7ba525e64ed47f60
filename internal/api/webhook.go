package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bobarin/adshot/internal/db"
	"github.com/bobarin/adshot/internal/dedup"
	"github.com/bobarin/adshot/internal/errs"
	"github.com/bobarin/adshot/internal/models"
	"github.com/bobarin/adshot/internal/report"
	"github.com/rs/zerolog/log"
)

const maxWebhookBytes = 1 << 20

// Verifier checks a signed webhook delivery. *svix.Webhook satisfies it.
type Verifier interface {
	Verify(payload []byte, headers http.Header) error
}

// UserStore is the persistence the identity webhook writes to.
type UserStore interface {
	UpsertUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id string) error
}

// PlanLedger grants plan credits. *credits.Ledger satisfies it.
type PlanLedger interface {
	ApplyPlanPurchase(ctx context.Context, userID, planSlug string) (int, error)
}

// Deduper remembers delivered message ids. *dedup.Store satisfies it.
type Deduper interface {
	Claim(ctx context.Context, id string) (dedup.State, error)
	Complete(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

type WebhookHandler struct {
	verifier Verifier
	users    UserStore
	ledger   PlanLedger
	dedup    Deduper
	reporter report.Reporter
}

// NewWebhookHandler wires the identity/billing webhook. dedup and reporter may be nil.
func NewWebhookHandler(verifier Verifier, users UserStore, ledger PlanLedger, dedup Deduper, reporter report.Reporter) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		users:    users,
		ledger:   ledger,
		dedup:    dedup,
		reporter: reporter,
	}
}

type clerkEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type clerkUser struct {
	ID             string `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	ImageURL       string `json:"image_url"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

func (u clerkUser) toModel() *models.User {
	user := &models.User{
		ID:    u.ID,
		Name:  strings.TrimSpace(u.FirstName + " " + u.LastName),
		Image: u.ImageURL,
	}
	if len(u.EmailAddresses) > 0 {
		user.Email = u.EmailAddresses[0].EmailAddress
	}
	return user
}

type paymentAttempt struct {
	ChargeType string `json:"charge_type"`
	Status     string `json:"status"`
	Payer      struct {
		UserID string `json:"user_id"`
	} `json:"payer"`
	SubscriptionItems []struct {
		Plan struct {
			Slug string `json:"slug"`
		} `json:"plan"`
	} `json:"subscription_items"`
}

// Handle handles POST /api/clerk
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	msgID := r.Header.Get("svix-id")
	if msgID == "" || r.Header.Get("svix-timestamp") == "" || r.Header.Get("svix-signature") == "" {
		respondError(w, http.StatusBadRequest, "Missing svix headers")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	if err := h.verifier.Verify(payload, r.Header); err != nil {
		log.Warn().Err(err).Str("svix_id", msgID).Msg("[Webhook] Signature verification failed")
		respondError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	var event clerkEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	ctx := r.Context()
	claimed := false
	if h.dedup != nil {
		state, err := h.dedup.Claim(ctx, msgID)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("svix_id", msgID).Msg("[Webhook] Dedup unavailable, processing anyway")
		case state == dedup.Done:
			log.Info().Str("svix_id", msgID).Str("type", event.Type).Msg("[Webhook] Duplicate delivery ignored")
			respondJSON(w, http.StatusOK, map[string]string{"message": "Webhook Received: " + event.Type})
			return
		case state == dedup.InFlight:
			log.Info().Str("svix_id", msgID).Str("type", event.Type).Msg("[Webhook] Delivery already in flight")
			respondError(w, http.StatusConflict, "Delivery is still being processed")
			return
		default:
			claimed = true
		}
	}

	if err := h.dispatch(ctx, event); err != nil {
		if claimed {
			if rerr := h.dedup.Release(ctx, msgID); rerr != nil {
				log.Warn().Err(rerr).Str("svix_id", msgID).Msg("[Webhook] Failed to release dedup key")
			}
		}
		if !errs.Is(err, errs.KindBadRequest) && h.reporter != nil {
			h.reporter.CaptureError(ctx, err, map[string]string{"stage": "webhook", "event": event.Type})
		}
		log.Error().Err(err).Str("svix_id", msgID).Str("type", event.Type).Msg("[Webhook] Processing failed")
		respondErr(w, err)
		return
	}

	if claimed {
		if cerr := h.dedup.Complete(ctx, msgID); cerr != nil {
			log.Warn().Err(cerr).Str("svix_id", msgID).Msg("[Webhook] Failed to record completed delivery")
		}
	}

	log.Info().Str("svix_id", msgID).Str("type", event.Type).Msg("[Webhook] Processed")
	respondJSON(w, http.StatusOK, map[string]string{"message": "Webhook Received: " + event.Type})
}

func (h *WebhookHandler) dispatch(ctx context.Context, event clerkEvent) error {
	switch event.Type {
	case "user.created", "user.updated", "user.deleted":
		var u clerkUser
		if err := json.Unmarshal(event.Data, &u); err != nil || u.ID == "" {
			return errs.BadRequest("Invalid user payload")
		}
		return h.handleUser(ctx, event.Type, u)

	case "paymentAttempt.updated":
		var p paymentAttempt
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return errs.BadRequest("Invalid payment payload")
		}
		return h.handlePayment(ctx, p)

	default:
		log.Debug().Str("type", event.Type).Msg("[Webhook] Unhandled event type")
		return nil
	}
}

func (h *WebhookHandler) handleUser(ctx context.Context, eventType string, u clerkUser) error {
	user := u.toModel()

	switch eventType {
	case "user.created":
		return h.users.UpsertUser(ctx, user)

	case "user.updated":
		err := h.users.UpdateUser(ctx, user)
		if errors.Is(err, db.ErrUserNotFound) {
			return h.users.UpsertUser(ctx, user)
		}
		return err

	default:
		err := h.users.DeleteUser(ctx, user.ID)
		if errors.Is(err, db.ErrUserNotFound) {
			return nil
		}
		return err
	}
}

// handlePayment grants plan credits for paid checkouts and renewals. Other
// attempts (pending, failed, free) are acknowledged and ignored.
func (h *WebhookHandler) handlePayment(ctx context.Context, p paymentAttempt) error {
	if p.ChargeType != "recurring" && p.ChargeType != "checkout" {
		return nil
	}
	if p.Status != "paid" {
		return nil
	}
	if p.Payer.UserID == "" || len(p.SubscriptionItems) == 0 {
		return errs.BadRequest("Invalid payment payload")
	}

	_, err := h.ledger.ApplyPlanPurchase(ctx, p.Payer.UserID, p.SubscriptionItems[0].Plan.Slug)
	return err
}
