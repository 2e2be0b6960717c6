package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/buttonbid-backend/api/responses"
	"github.com/angelmondragon/buttonbid-backend/api/validators"
	"github.com/angelmondragon/buttonbid-backend/internal/issuance"
	"github.com/angelmondragon/buttonbid-backend/internal/ledger"
	"github.com/angelmondragon/buttonbid-backend/internal/settlement"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

// SettlementRunner closes every auction past its deadline.
type SettlementRunner interface {
	CloseExpiredAuctions(ctx context.Context, now time.Time) ([]settlement.Result, error)
}

type grantRequest struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	Amount      int64  `json:"amount"`
	Kind        string `json:"kind" validate:"required,notblank"`
	ReferenceID string `json:"reference_id" validate:"omitempty,uuid"`
	Description string `json:"description" validate:"max=255"`
}

// GrantButtons lets operators credit platform buttons to a user.
func GrantButtons(svc issuance.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "issuance service unavailable"))
			return
		}

		var payload grantRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind, err := enums.ParseLedgerEntryKind(strings.TrimSpace(payload.Kind))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind"))
			return
		}
		userID, err := uuid.Parse(payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id"))
			return
		}
		input := issuance.GrantInput{
			UserID:      userID,
			Amount:      payload.Amount,
			Kind:        kind,
			Description: validators.SanitizeString(payload.Description, 255),
		}
		if payload.ReferenceID != "" {
			ref, err := uuid.Parse(payload.ReferenceID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reference_id"))
				return
			}
			input.ReferenceID = &ref
		}

		balance, err := svc.GrantButtons(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, balance)
	}
}

// RunSettlement triggers one settlement sweep outside the cron schedule.
func RunSettlement(runner SettlementRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement engine unavailable"))
			return
		}

		results, err := runner.CloseExpiredAuctions(r.Context(), time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if results == nil {
			results = []settlement.Result{}
		}
		responses.WriteSuccess(w, map[string]any{"results": results})
	}
}

// ReconcileLedger compares a user's balance projection against entry sums.
func ReconcileLedger(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		userID, err := uuidParam(r, "userID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Reconcile(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// DeadLetters is the ops view of events the publisher gave up on.
type DeadLetters interface {
	List(ctx context.Context, limit int) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) error
}

// ListDeadLetters returns the newest dead-lettered feed events.
func ListDeadLetters(dlq DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if dlq == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := dlq.List(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}
		if rows == nil {
			rows = []models.OutboxDLQ{}
		}
		responses.WriteSuccess(w, map[string]any{"events": rows})
	}
}

// RequeueDeadLetter hands one dead-lettered event back to the publisher.
func RequeueDeadLetter(dlq DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if dlq == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead letter store unavailable"))
			return
		}
		eventID, err := uuidParam(r, "eventID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := dlq.Requeue(r.Context(), eventID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithField(r.Context(), "event_id", eventID.String()), "dead letter requeued")
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{"event_id": eventID, "status": "requeued"})
	}
}
