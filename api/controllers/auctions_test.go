package controllers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/buttonbid-backend/internal/auctions"
	"github.com/angelmondragon/buttonbid-backend/internal/settlement"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

func TestCreateClothingListingMapsWindow(t *testing.T) {
	ownerID := uuid.New()
	var got auctions.CreateClothingInput
	svc := &testAuctionsService{
		createClothingFn: func(ctx context.Context, oid uuid.UUID, input auctions.CreateClothingInput) (*models.ClothingAuction, error) {
			if oid != ownerID {
				t.Fatalf("unexpected owner %s", oid)
			}
			got = input
			return &models.ClothingAuction{ID: uuid.New(), OwnerID: oid}, nil
		},
	}

	body := `{"title":"  Denim jacket ","description":"worn twice","minimum_price":10,"window_hours":24}`
	req := newActorRequest(http.MethodPost, "/api/v1/auctions/clothing", body, ownerID)
	resp := httptest.NewRecorder()
	CreateClothingListing(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.Title != "Denim jacket" || got.MinimumPrice != 10 || got.Window != 24*time.Hour {
		t.Fatalf("unexpected input %+v", got)
	}
}

func TestCreateClothingListingRequiresTitle(t *testing.T) {
	req := newActorRequest(http.MethodPost, "/api/v1/auctions/clothing", `{"minimum_price":10}`, uuid.New())
	resp := httptest.NewRecorder()
	CreateClothingListing(&testAuctionsService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCreateResaleListingParsesPrice(t *testing.T) {
	var got auctions.CreateResaleInput
	svc := &testAuctionsService{
		createResaleFn: func(ctx context.Context, sellerID uuid.UUID, input auctions.CreateResaleInput) (*models.ResaleAuction, error) {
			got = input
			return &models.ResaleAuction{ID: uuid.New()}, nil
		},
	}
	req := newActorRequest(http.MethodPost, "/api/v1/auctions/resale", `{"button_amount":100,"minimum_price_usd":"7.25"}`, uuid.New())
	resp := httptest.NewRecorder()
	CreateResaleListing(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.ButtonAmount != 100 || got.MinimumPriceUSD.String() != "7.25" || got.Window != 0 {
		t.Fatalf("unexpected input %+v", got)
	}
}

func TestGetAuctionSettlesLazily(t *testing.T) {
	auctionID := uuid.New()
	settler := &testSettler{}
	svc := &testAuctionsService{
		getResaleFn: func(ctx context.Context, id uuid.UUID) (*models.ResaleAuction, error) {
			if settler.calls != 1 {
				t.Fatalf("expected settlement before read, got %d calls", settler.calls)
			}
			return &models.ResaleAuction{ID: id}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auctions/resale/"+auctionID.String(), nil)
	req = addRouteParam(req, "auctionID", auctionID.String())
	resp := httptest.NewRecorder()
	GetAuction(enums.AuctionKindResale, svc, settler, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestGetAuctionLogsLazySettlementFailure(t *testing.T) {
	auctionID := uuid.New()
	settler := &testSettler{
		settleFn: func(ctx context.Context, kind enums.AuctionKind, id uuid.UUID) (*settlement.Result, error) {
			return nil, errors.New("user balance not found")
		},
	}
	svc := &testAuctionsService{
		getClothingFn: func(ctx context.Context, id uuid.UUID) (*models.ClothingAuction, error) {
			return &models.ClothingAuction{ID: id}, nil
		},
	}
	var out bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &out})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auctions/clothing/"+auctionID.String(), nil)
	req = addRouteParam(req, "auctionID", auctionID.String())
	resp := httptest.NewRecorder()
	GetAuction(enums.AuctionKindClothing, svc, settler, logg)(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	logged := out.String()
	for _, want := range []string{`"level":"error"`, "lazy settlement failed", "user balance not found", auctionID.String()} {
		if !strings.Contains(logged, want) {
			t.Fatalf("expected log to contain %q, got %s", want, logged)
		}
	}
}

func TestGetAuctionNotFound(t *testing.T) {
	svc := &testAuctionsService{
		getClothingFn: func(ctx context.Context, id uuid.UUID) (*models.ClothingAuction, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auctions/clothing/x", nil)
	req = addRouteParam(req, "auctionID", uuid.NewString())
	resp := httptest.NewRecorder()
	GetAuction(enums.AuctionKindClothing, svc, nil, testLogger())(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestListActiveAuctionsBuildsFilter(t *testing.T) {
	callerID := uuid.New()
	var got auctions.ActiveFilter
	svc := &testAuctionsService{
		listFn: func(ctx context.Context, filter auctions.ActiveFilter) (*auctions.AuctionPage, error) {
			got = filter
			return &auctions.AuctionPage{Kind: filter.Kind}, nil
		},
	}

	req := newActorRequest(http.MethodGet, "/api/v1/auctions?kind=RESALE&min_price=2.50&max_price=10&ending_before=2026-01-02T15:04:05Z&limit=5", "", callerID)
	resp := httptest.NewRecorder()
	ListActiveAuctions(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.Kind != enums.AuctionKindResale {
		t.Fatalf("unexpected kind %s", got.Kind)
	}
	if got.MinPrice == nil || got.MinPrice.String() != "2.5" || got.MaxPrice == nil || got.MaxPrice.String() != "10" {
		t.Fatalf("unexpected price bounds %v %v", got.MinPrice, got.MaxPrice)
	}
	if got.EndingBefore == nil || !got.EndingBefore.Equal(time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected ending_before %v", got.EndingBefore)
	}
	if got.ExcludeOwnerID == nil || *got.ExcludeOwnerID != callerID {
		t.Fatalf("expected caller to be excluded, got %v", got.ExcludeOwnerID)
	}
	if got.Pagination.Limit != 5 {
		t.Fatalf("unexpected limit %d", got.Pagination.Limit)
	}
}

func TestListActiveAuctionsRejectsBadQuery(t *testing.T) {
	for _, query := range []string{"kind=vintage", "min_price=abc", "ending_before=yesterday", "limit=1000", "owner_id=nope"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auctions?"+query, nil)
		resp := httptest.NewRecorder()
		ListActiveAuctions(&testAuctionsService{}, testLogger())(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", query, resp.Code)
		}
	}
}

func TestCancelListingPassesKindAndActor(t *testing.T) {
	actorID := uuid.New()
	auctionID := uuid.New()
	called := false
	svc := &testAuctionsService{
		cancelFn: func(ctx context.Context, kind enums.AuctionKind, aid, uid uuid.UUID) error {
			called = true
			if kind != enums.AuctionKindClothing || aid != auctionID || uid != actorID {
				t.Fatalf("unexpected args %s %s %s", kind, aid, uid)
			}
			return nil
		},
	}
	req := newActorRequest(http.MethodPost, "/api/v1/auctions/clothing/x/cancel", "", actorID)
	req = addRouteParam(req, "auctionID", auctionID.String())
	resp := httptest.NewRecorder()
	CancelListing(enums.AuctionKindClothing, svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK || !called {
		t.Fatalf("expected cancel to succeed, got %d", resp.Code)
	}
}
