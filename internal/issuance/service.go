package issuance

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/internal/ledger"
	"github.com/angelmondragon/buttonbid-backend/pkg/db"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/payloads"
)

// paymentNamespace derives stable ledger reference ids from a user, a package
// and an external payment reference.
var paymentNamespace = uuid.MustParse("6f1d3c52-93a4-4f6e-9f39-2f3b9e0b7a10")

const purchaseReferenceIndex = "ux_ledger_entries_purchase_reference"

// Package is a fixed bundle of buttons sold by the platform.
type Package struct {
	ID       string          `json:"id"`
	Buttons  int64           `json:"buttons"`
	PriceUSD decimal.Decimal `json:"price_usd"`
	Popular  bool            `json:"popular,omitempty"`
}

var catalog = []Package{
	{ID: "starter", Buttons: 50, PriceUSD: decimal.RequireFromString("5.00")},
	{ID: "popular", Buttons: 100, PriceUSD: decimal.RequireFromString("9.00"), Popular: true},
	{ID: "value", Buttons: 250, PriceUSD: decimal.RequireFromString("20.00")},
	{ID: "bulk", Buttons: 500, PriceUSD: decimal.RequireFromString("35.00")},
}

// GrantInput describes a platform credit.
type GrantInput struct {
	UserID      uuid.UUID
	Amount      int64
	Kind        enums.LedgerEntryKind
	ReferenceID *uuid.UUID
	Description string
}

// PurchaseResult is the balance after a package purchase.
type PurchaseResult struct {
	Package Package             `json:"package"`
	Balance *models.UserBalance `json:"balance"`
}

type Service interface {
	GrantButtons(ctx context.Context, input GrantInput) (*models.UserBalance, error)
	OpenAccount(ctx context.Context, userID uuid.UUID, initialGrant int64) (*models.UserBalance, error)
	PurchasePackage(ctx context.Context, userID uuid.UUID, packageID, paymentReference string) (*PurchaseResult, error)
	ListPackages() []Package
}

type ledgerWriter interface {
	AppendTx(ctx context.Context, tx *gorm.DB, entries ...ledger.Entry) (*models.UserBalance, error)
	OpenAccountTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.UserBalance, bool, error)
	HasReferenceTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, kind enums.LedgerEntryKind, reference uuid.UUID) (bool, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	ledger ledgerWriter
	outbox eventEmitter
	tx     txRunner
	logg   *logger.Logger
}

func NewService(ledgerSvc ledgerWriter, emitter eventEmitter, tx txRunner, logg *logger.Logger) (Service, error) {
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{ledger: ledgerSvc, outbox: emitter, tx: tx, logg: logg}, nil
}

// GrantButtons credits buttons the platform creates, opening the account first
// when the user has never held a balance. A purchase whose reference already
// credited the user returns the current balance unchanged.
func (s *service) GrantButtons(ctx context.Context, input GrantInput) (*models.UserBalance, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "grant amount must be positive")
	}
	if !input.Kind.IsIssuance() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "grant kind must be purchase_platform or initial_grant")
	}
	if strings.TrimSpace(input.Description) == "" {
		input.Description = fmt.Sprintf("Granted %d buttons", input.Amount)
	}

	var (
		balance *models.UserBalance
		replay  bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		balance, _, err = s.ledger.OpenAccountTx(ctx, tx, input.UserID)
		if err != nil {
			return err
		}
		if replayable(input) {
			replay, err = s.ledger.HasReferenceTx(ctx, tx, input.UserID, input.Kind, *input.ReferenceID)
			if err != nil || replay {
				return err
			}
		}
		balance, err = s.grantTx(ctx, tx, input)
		return err
	})
	if err != nil && replayable(input) && duplicatePurchase(err) {
		// A concurrent request with the same reference committed first.
		replay = true
		balance, err = s.ledger.GetBalance(ctx, input.UserID)
	}
	if err != nil {
		return nil, err
	}

	if replay {
		s.logReplay(ctx, input)
		return balance, nil
	}
	s.logGrant(ctx, input)
	return balance, nil
}

func replayable(input GrantInput) bool {
	return input.Kind == enums.LedgerEntryKindPurchasePlatform && input.ReferenceID != nil
}

// duplicatePurchase matches the purchase reference index by name on postgres
// and by column list on sqlite.
func duplicatePurchase(err error) bool {
	return db.IsUniqueViolation(err, purchaseReferenceIndex) ||
		db.IsUniqueViolation(err, "ledger_entries.reference_id")
}

// OpenAccount creates the user's balance and credits the onboarding grant
// only when this call created it.
func (s *service) OpenAccount(ctx context.Context, userID uuid.UUID, initialGrant int64) (*models.UserBalance, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if initialGrant < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "initial grant must not be negative")
	}

	input := GrantInput{
		UserID:      userID,
		Amount:      initialGrant,
		Kind:        enums.LedgerEntryKindInitialGrant,
		Description: ledger.WelcomeGrantDescription(initialGrant),
	}
	var (
		balance *models.UserBalance
		granted bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var (
			created bool
			err     error
		)
		balance, created, err = s.ledger.OpenAccountTx(ctx, tx, userID)
		if err != nil || !created || initialGrant == 0 {
			return err
		}
		balance, err = s.grantTx(ctx, tx, input)
		granted = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}

	if granted {
		s.logGrant(ctx, input)
	}
	return balance, nil
}

func (s *service) grantTx(ctx context.Context, tx *gorm.DB, input GrantInput) (*models.UserBalance, error) {
	balance, err := s.ledger.AppendTx(ctx, tx, ledger.Entry{
		UserID:      input.UserID,
		Amount:      input.Amount,
		Kind:        input.Kind,
		ReferenceID: input.ReferenceID,
		Description: input.Description,
	})
	if err != nil {
		return nil, err
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventButtonsGranted,
		AggregateType: enums.AggregateUserBalance,
		AggregateID:   input.UserID,
		Actor:         &outbox.ActorRef{UserID: input.UserID, Source: "issuance"},
		Data: payloads.ButtonsGrantedEvent{
			UserID:      input.UserID,
			Amount:      input.Amount,
			Kind:        input.Kind,
			ReferenceID: input.ReferenceID,
			Balance:     balance.ButtonBalance,
		},
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

func (s *service) logGrant(ctx context.Context, input GrantInput) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id": input.UserID.String(),
		"amount":  input.Amount,
		"kind":    string(input.Kind),
	})
	s.logg.Info(ctx, "buttons granted")
}

func (s *service) logReplay(ctx context.Context, input GrantInput) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"user_id":      input.UserID.String(),
		"reference_id": input.ReferenceID.String(),
	})
	s.logg.Warn(ctx, "purchase already credited")
}

func (s *service) PurchasePackage(ctx context.Context, userID uuid.UUID, packageID, paymentReference string) (*PurchaseResult, error) {
	pkg, ok := findPackage(packageID)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "button package not found")
	}
	paymentReference = strings.TrimSpace(paymentReference)
	if paymentReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	reference := purchaseReference(userID, pkg.ID, paymentReference)

	balance, err := s.GrantButtons(ctx, GrantInput{
		UserID:      userID,
		Amount:      pkg.Buttons,
		Kind:        enums.LedgerEntryKindPurchasePlatform,
		ReferenceID: &reference,
		Description: fmt.Sprintf("Purchased %d buttons", pkg.Buttons),
	})
	if err != nil {
		return nil, err
	}
	return &PurchaseResult{Package: pkg, Balance: balance}, nil
}

func purchaseReference(userID uuid.UUID, packageID, paymentReference string) uuid.UUID {
	return uuid.NewSHA1(paymentNamespace, []byte(userID.String()+"|"+packageID+"|"+paymentReference))
}

func (s *service) ListPackages() []Package {
	out := make([]Package, len(catalog))
	copy(out, catalog)
	return out
}

func findPackage(id string) (Package, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, pkg := range catalog {
		if pkg.ID == id {
			return pkg, true
		}
	}
	return Package{}, false
}
