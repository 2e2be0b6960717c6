package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/buttonbid-backend/api/responses"
	"github.com/angelmondragon/buttonbid-backend/api/validators"
	"github.com/angelmondragon/buttonbid-backend/internal/auctions"
	"github.com/angelmondragon/buttonbid-backend/internal/settlement"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

// LazySettler settles a single auction whose deadline has passed.
type LazySettler interface {
	SettleIfDue(ctx context.Context, kind enums.AuctionKind, auctionID uuid.UUID, now time.Time) (*settlement.Result, error)
}

type createClothingRequest struct {
	Title        string `json:"title" validate:"required,notblank,max=200"`
	Description  string `json:"description" validate:"max=5000"`
	MinimumPrice int64  `json:"minimum_price"`
	WindowHours  int    `json:"window_hours" validate:"min=0,max=720"`
}

type createResaleRequest struct {
	ButtonAmount    int64  `json:"button_amount"`
	MinimumPriceUSD string `json:"minimum_price_usd" validate:"required"`
	WindowHours     int    `json:"window_hours" validate:"min=0,max=720"`
}

func windowFromHours(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}

// CreateClothingListing opens a clothing auction owned by the caller.
func CreateClothingListing(svc auctions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auctions service unavailable"))
			return
		}
		ownerID, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createClothingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		auction, err := svc.CreateClothingListing(r.Context(), ownerID, auctions.CreateClothingInput{
			Title:        validators.SanitizeString(payload.Title, 200),
			Description:  validators.SanitizeString(payload.Description, 5000),
			MinimumPrice: payload.MinimumPrice,
			Window:       windowFromHours(payload.WindowHours),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, auction)
	}
}

// CreateResaleListing escrows the caller's buttons and opens a resale auction.
func CreateResaleListing(svc auctions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auctions service unavailable"))
			return
		}
		sellerID, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createResaleRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		minimum, err := decimal.NewFromString(strings.TrimSpace(payload.MinimumPriceUSD))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInvalidAmount, err, "invalid minimum_price_usd"))
			return
		}

		auction, err := svc.CreateResaleListing(r.Context(), sellerID, auctions.CreateResaleInput{
			ButtonAmount:    payload.ButtonAmount,
			MinimumPriceUSD: minimum,
			Window:          windowFromHours(payload.WindowHours),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, auction)
	}
}

// GetAuction returns one listing. With a settler it first closes the auction
// when its deadline has already passed.
func GetAuction(kind enums.AuctionKind, svc auctions.Service, settler LazySettler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auctions service unavailable"))
			return
		}
		auctionID, err := uuidParam(r, "auctionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if settler != nil {
			if _, err := settler.SettleIfDue(ctx, kind, auctionID, time.Now().UTC()); err != nil && logg != nil {
				logCtx := logg.WithAuctionID(ctx, auctionID.String())
				logg.Error(logCtx, "lazy settlement failed", err)
			}
		}

		var auction any
		switch kind {
		case enums.AuctionKindResale:
			auction, err = svc.GetResale(ctx, auctionID)
		default:
			auction, err = svc.GetClothing(ctx, auctionID)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, auction)
	}
}

// CancelListing withdraws the caller's open listing and releases held buttons.
func CancelListing(kind enums.AuctionKind, svc auctions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auctions service unavailable"))
			return
		}
		actorID, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		auctionID, err := uuidParam(r, "auctionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.CancelListing(r.Context(), kind, auctionID, actorID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"auction_id": auctionID, "cancelled": true})
	}
}

// ListActiveAuctions pages through open listings of one kind.
func ListActiveAuctions(svc auctions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auctions service unavailable"))
			return
		}

		filter, err := activeFilterFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListActiveAuctions(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func activeFilterFromQuery(r *http.Request) (auctions.ActiveFilter, error) {
	var filter auctions.ActiveFilter

	if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
		kind, err := enums.ParseAuctionKind(strings.ToLower(raw))
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind")
		}
		filter.Kind = kind
	}

	var err error
	if filter.OwnerID, err = validators.ParseQueryUUID(r, "owner_id"); err != nil {
		return filter, err
	}
	if filter.MinPrice, err = validators.ParseQueryDecimal(r, "min_price"); err != nil {
		return filter, err
	}
	if filter.MaxPrice, err = validators.ParseQueryDecimal(r, "max_price"); err != nil {
		return filter, err
	}
	if filter.EndingBefore, err = validators.ParseQueryTime(r, "ending_before"); err != nil {
		return filter, err
	}
	if filter.Pagination, err = paginationFromQuery(r); err != nil {
		return filter, err
	}

	// Callers browsing the market do not see their own listings unless asked.
	includeOwn, err := validators.ParseQueryBool(r, "include_own", false)
	if err != nil {
		return filter, err
	}
	if filter.OwnerID == nil && !includeOwn {
		if actorID, err := actorFromRequest(r); err == nil {
			filter.ExcludeOwnerID = &actorID
		}
	}
	return filter, nil
}

// Dashboard summarizes the caller's listings, bids, and recent activity.
func Dashboard(svc auctions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "auctions service unavailable"))
			return
		}
		userID, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dashboard, err := svc.Dashboard(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dashboard)
	}
}
