package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/buttonbid-backend/internal/issuance"
	"github.com/angelmondragon/buttonbid-backend/internal/ledger"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

// GetBalance returns the caller's button balance projection.
func GetBalance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return actorRoute(logg, "ledger", svc != nil, func(r *http.Request, actor uuid.UUID) (int, any, error) {
		balance, err := svc.GetBalance(r.Context(), actor)
		return 0, balance, err
	})
}

// OpenAccount creates the caller's balance, crediting the onboarding grant on
// first call. Repeat calls return the existing balance.
func OpenAccount(svc issuance.Service, initialGrant int64, logg *logger.Logger) http.HandlerFunc {
	return actorRoute(logg, "issuance", svc != nil, func(r *http.Request, actor uuid.UUID) (int, any, error) {
		balance, err := svc.OpenAccount(r.Context(), actor, initialGrant)
		return http.StatusCreated, balance, err
	})
}

// ListLedgerEntries pages through the caller's ledger history, newest first.
func ListLedgerEntries(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return actorRoute(logg, "ledger", svc != nil, func(r *http.Request, actor uuid.UUID) (int, any, error) {
		params, err := paginationFromQuery(r)
		if err != nil {
			return 0, nil, err
		}
		page, err := svc.ListEntries(r.Context(), actor, params)
		return 0, page, err
	})
}
