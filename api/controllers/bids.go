package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/buttonbid-backend/api/responses"
	"github.com/angelmondragon/buttonbid-backend/api/validators"
	"github.com/angelmondragon/buttonbid-backend/internal/bidding"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

// BidPlacer accepts bids on both auction kinds.
type BidPlacer interface {
	PlaceClothingBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount int64) (*bidding.ClothingBidResult, error)
	PlaceResaleBid(ctx context.Context, auctionID, bidderID uuid.UUID, amountUSD decimal.Decimal) (*bidding.ResaleBidResult, error)
}

type clothingBidRequest struct {
	Amount int64 `json:"amount"`
}

type resaleBidRequest struct {
	AmountUSD string `json:"amount_usd" validate:"required"`
}

// PlaceClothingBid holds the bid amount in buttons from the caller.
func PlaceClothingBid(placer BidPlacer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if placer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bid processor unavailable"))
			return
		}
		bidderID, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		auctionID, err := uuidParam(r, "auctionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload clothingBidRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := placer.PlaceClothingBid(r.Context(), auctionID, bidderID, payload.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// PlaceResaleBid records a USD offer for a resale lot.
func PlaceResaleBid(placer BidPlacer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if placer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bid processor unavailable"))
			return
		}
		bidderID, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		auctionID, err := uuidParam(r, "auctionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload resaleBidRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(payload.AmountUSD))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidAmount, err, "invalid amount_usd"))
			return
		}

		result, err := placer.PlaceResaleBid(r.Context(), auctionID, bidderID, amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
