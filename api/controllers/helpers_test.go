package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/buttonbid-backend/api/middleware"
	"github.com/angelmondragon/buttonbid-backend/internal/auctions"
	"github.com/angelmondragon/buttonbid-backend/internal/bidding"
	"github.com/angelmondragon/buttonbid-backend/internal/issuance"
	"github.com/angelmondragon/buttonbid-backend/internal/ledger"
	"github.com/angelmondragon/buttonbid-backend/internal/settlement"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/pagination"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newActorRequest(method, target, body string, userID uuid.UUID) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func decodeErrorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return payload.Error.Code
}

type testAuctionsService struct {
	createClothingFn func(ctx context.Context, ownerID uuid.UUID, input auctions.CreateClothingInput) (*models.ClothingAuction, error)
	createResaleFn   func(ctx context.Context, sellerID uuid.UUID, input auctions.CreateResaleInput) (*models.ResaleAuction, error)
	cancelFn         func(ctx context.Context, kind enums.AuctionKind, auctionID, actorID uuid.UUID) error
	getClothingFn    func(ctx context.Context, id uuid.UUID) (*models.ClothingAuction, error)
	getResaleFn      func(ctx context.Context, id uuid.UUID) (*models.ResaleAuction, error)
	listFn           func(ctx context.Context, filter auctions.ActiveFilter) (*auctions.AuctionPage, error)
	dashboardFn      func(ctx context.Context, userID uuid.UUID) (*auctions.Dashboard, error)
}

func (s *testAuctionsService) CreateClothingListing(ctx context.Context, ownerID uuid.UUID, input auctions.CreateClothingInput) (*models.ClothingAuction, error) {
	return s.createClothingFn(ctx, ownerID, input)
}

func (s *testAuctionsService) CreateResaleListing(ctx context.Context, sellerID uuid.UUID, input auctions.CreateResaleInput) (*models.ResaleAuction, error) {
	return s.createResaleFn(ctx, sellerID, input)
}

func (s *testAuctionsService) CancelListing(ctx context.Context, kind enums.AuctionKind, auctionID, actorID uuid.UUID) error {
	return s.cancelFn(ctx, kind, auctionID, actorID)
}

func (s *testAuctionsService) GetClothing(ctx context.Context, id uuid.UUID) (*models.ClothingAuction, error) {
	return s.getClothingFn(ctx, id)
}

func (s *testAuctionsService) GetResale(ctx context.Context, id uuid.UUID) (*models.ResaleAuction, error) {
	return s.getResaleFn(ctx, id)
}

func (s *testAuctionsService) ListActiveAuctions(ctx context.Context, filter auctions.ActiveFilter) (*auctions.AuctionPage, error) {
	return s.listFn(ctx, filter)
}

func (s *testAuctionsService) Dashboard(ctx context.Context, userID uuid.UUID) (*auctions.Dashboard, error) {
	return s.dashboardFn(ctx, userID)
}

type testBidPlacer struct {
	clothingFn func(ctx context.Context, auctionID, bidderID uuid.UUID, amount int64) (*bidding.ClothingBidResult, error)
	resaleFn   func(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (*bidding.ResaleBidResult, error)
}

func (p *testBidPlacer) PlaceClothingBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount int64) (*bidding.ClothingBidResult, error) {
	return p.clothingFn(ctx, auctionID, bidderID, amount)
}

func (p *testBidPlacer) PlaceResaleBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount decimal.Decimal) (*bidding.ResaleBidResult, error) {
	return p.resaleFn(ctx, auctionID, bidderID, amount)
}

type testSettler struct {
	calls    int
	settleFn func(ctx context.Context, kind enums.AuctionKind, auctionID uuid.UUID) (*settlement.Result, error)
	closeFn  func(ctx context.Context, now time.Time) ([]settlement.Result, error)
}

func (s *testSettler) SettleIfDue(ctx context.Context, kind enums.AuctionKind, auctionID uuid.UUID, now time.Time) (*settlement.Result, error) {
	s.calls++
	if s.settleFn != nil {
		return s.settleFn(ctx, kind, auctionID)
	}
	return nil, nil
}

func (s *testSettler) CloseExpiredAuctions(ctx context.Context, now time.Time) ([]settlement.Result, error) {
	return s.closeFn(ctx, now)
}

type testIssuanceService struct {
	grantFn    func(ctx context.Context, input issuance.GrantInput) (*models.UserBalance, error)
	openFn     func(ctx context.Context, userID uuid.UUID, initialGrant int64) (*models.UserBalance, error)
	purchaseFn func(ctx context.Context, userID uuid.UUID, packageID, paymentReference string) (*issuance.PurchaseResult, error)
}

func (s *testIssuanceService) GrantButtons(ctx context.Context, input issuance.GrantInput) (*models.UserBalance, error) {
	return s.grantFn(ctx, input)
}

func (s *testIssuanceService) OpenAccount(ctx context.Context, userID uuid.UUID, initialGrant int64) (*models.UserBalance, error) {
	return s.openFn(ctx, userID, initialGrant)
}

func (s *testIssuanceService) PurchasePackage(ctx context.Context, userID uuid.UUID, packageID, paymentReference string) (*issuance.PurchaseResult, error) {
	return s.purchaseFn(ctx, userID, packageID, paymentReference)
}

func (s *testIssuanceService) ListPackages() []issuance.Package {
	return []issuance.Package{{ID: "starter", Buttons: 50, PriceUSD: decimal.RequireFromString("5.00")}}
}

// testLedgerService implements only the reads the handlers use.
type testLedgerService struct {
	ledger.Service
	balanceFn   func(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	entriesFn   func(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ledger.EntryPage, error)
	reconcileFn func(ctx context.Context, userID uuid.UUID) (*ledger.ReconcileResult, error)
}

func (s *testLedgerService) GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	return s.balanceFn(ctx, userID)
}

func (s *testLedgerService) ListEntries(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ledger.EntryPage, error) {
	return s.entriesFn(ctx, userID, params)
}

func (s *testLedgerService) Reconcile(ctx context.Context, userID uuid.UUID) (*ledger.ReconcileResult, error) {
	return s.reconcileFn(ctx, userID)
}
