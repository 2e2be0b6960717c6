package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/pagination"
)

// Service appends ledger entries and keeps the balance projection in step.
type Service interface {
	Append(ctx context.Context, entries ...Entry) (*models.UserBalance, error)
	AppendTx(ctx context.Context, tx *gorm.DB, entries ...Entry) (*models.UserBalance, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	OpenAccount(ctx context.Context, userID uuid.UUID, initialGrant int64) (*models.UserBalance, error)
	OpenAccountTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.UserBalance, bool, error)
	EnsureAccountTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
	HasReferenceTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, kind enums.LedgerEntryKind, reference uuid.UUID) (bool, error)
	ListEntries(ctx context.Context, userID uuid.UUID, params pagination.Params) (*EntryPage, error)
	Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Entry is a single signed button movement to append.
type Entry struct {
	UserID      uuid.UUID
	Amount      int64
	Kind        enums.LedgerEntryKind
	ReferenceID *uuid.UUID
	Description string
}

// EntryPage is a cursor-paginated slice of a user's history, newest first.
type EntryPage struct {
	Entries    []models.LedgerEntry `json:"entries"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// ReconcileResult compares the projection against the entry sums.
type ReconcileResult struct {
	UserID          uuid.UUID `json:"user_id"`
	ProjectedButton int64     `json:"projected_balance"`
	LedgerButton    int64     `json:"ledger_balance"`
	ProjectedEarned int64     `json:"projected_earned"`
	LedgerEarned    int64     `json:"ledger_earned"`
	ProjectedSpent  int64     `json:"projected_spent"`
	LedgerSpent     int64     `json:"ledger_spent"`
	Consistent      bool      `json:"consistent"`
}

type service struct {
	repo Repository
	tx   txRunner
	now  func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, now: time.Now}, nil
}

func (s *service) Append(ctx context.Context, entries ...Entry) (*models.UserBalance, error) {
	var balance *models.UserBalance
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		balance, err = s.AppendTx(ctx, tx, entries...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// AppendTx applies a batch for one user inside the caller's transaction. The
// projection moves by the batch's net amount in a single conditional update, so
// a batch that would overdraw is rejected before any entry is written.
func (s *service) AppendTx(ctx context.Context, tx *gorm.DB, entries ...Entry) (*models.UserBalance, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	userID, delta, err := validateBatch(entries)
	if err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	now := s.now().UTC()

	applied, err := repo.ApplyDelta(ctx, userID, delta, now)
	if err != nil {
		return nil, fmt.Errorf("apply balance delta: %w", err)
	}
	if !applied {
		current, err := repo.FindBalance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load balance: %w", err)
		}
		if current == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user balance not found")
		}
		return nil, insufficientFunds(current.ButtonBalance, -delta.Balance)
	}

	rows := make([]models.LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, models.LedgerEntry{
			UserID:      entry.UserID,
			Amount:      entry.Amount,
			Kind:        entry.Kind,
			ReferenceID: entry.ReferenceID,
			Description: entry.Description,
			CreatedAt:   now,
		})
	}
	if err := repo.InsertEntries(ctx, rows); err != nil {
		return nil, fmt.Errorf("insert ledger entries: %w", err)
	}

	balance, err := repo.FindBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	if balance == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user balance not found")
	}
	return balance, nil
}

func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	balance, err := s.repo.FindBalance(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load balance")
	}
	if balance == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user balance not found")
	}
	return balance, nil
}

// OpenAccount creates the projection row for a user. Re-opening an existing
// account returns the current balance without granting again.
func (s *service) OpenAccount(ctx context.Context, userID uuid.UUID, initialGrant int64) (*models.UserBalance, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if initialGrant < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "initial grant must not be negative")
	}

	var balance *models.UserBalance
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var (
			created bool
			err     error
		)
		balance, created, err = s.OpenAccountTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if created && initialGrant > 0 {
			balance, err = s.AppendTx(ctx, tx, Entry{
				UserID:      userID,
				Amount:      initialGrant,
				Kind:        enums.LedgerEntryKindInitialGrant,
				Description: WelcomeGrantDescription(initialGrant),
			})
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// OpenAccountTx creates the projection row inside the caller's transaction and
// reports whether this call created it.
func (s *service) OpenAccountTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*models.UserBalance, bool, error) {
	if tx == nil {
		return nil, false, fmt.Errorf("transaction required")
	}
	if userID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	repo := s.repo.WithTx(tx)
	created, err := repo.CreateBalance(ctx, &models.UserBalance{UserID: userID})
	if err != nil {
		return nil, false, fmt.Errorf("create balance: %w", err)
	}
	balance, err := repo.FindBalance(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("load balance: %w", err)
	}
	if balance == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "balance not found")
	}
	return balance, created, nil
}

// WelcomeGrantDescription is the ledger text for onboarding credits.
func WelcomeGrantDescription(amount int64) string {
	return fmt.Sprintf("Welcome grant of %d buttons", amount)
}

// EnsureAccountTx creates an empty projection row inside the caller's
// transaction when the user has none yet.
func (s *service) EnsureAccountTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if _, err := s.repo.WithTx(tx).CreateBalance(ctx, &models.UserBalance{UserID: userID}); err != nil {
		return fmt.Errorf("create balance: %w", err)
	}
	return nil
}

// HasReferenceTx reports whether the user already holds an entry of kind
// carrying reference.
func (s *service) HasReferenceTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID, kind enums.LedgerEntryKind, reference uuid.UUID) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("transaction required")
	}
	found, err := s.repo.WithTx(tx).HasReference(ctx, userID, kind, reference)
	if err != nil {
		return false, fmt.Errorf("look up ledger reference: %w", err)
	}
	return found, nil
}

func (s *service) ListEntries(ctx context.Context, userID uuid.UUID, params pagination.Params) (*EntryPage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	entries, next, err := s.repo.ListEntries(ctx, listEntriesParams{
		UserID: userID,
		Limit:  params.Limit,
		Cursor: cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}

	page := &EntryPage{Entries: entries}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

func (s *service) Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileResult, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	sums, err := s.repo.SumByKind(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger entries")
	}

	var total int64
	for _, amount := range sums {
		total += amount
	}
	earned := sums[enums.LedgerEntryKindEarnedSale]
	spent := -sums[enums.LedgerEntryKindSpentBid] - sums[enums.LedgerEntryKindRefund]

	result := &ReconcileResult{
		UserID:          userID,
		ProjectedButton: balance.ButtonBalance,
		LedgerButton:    total,
		ProjectedEarned: balance.TotalButtonsEarned,
		LedgerEarned:    earned,
		ProjectedSpent:  balance.TotalButtonsSpent,
		LedgerSpent:     spent,
	}
	result.Consistent = result.ProjectedButton == result.LedgerButton &&
		result.ProjectedEarned == result.LedgerEarned &&
		result.ProjectedSpent == result.LedgerSpent
	return result, nil
}

// validateBatch checks a batch and folds it into one projection delta.
// Refunds only ever reverse bid debits, so they net against the spent total.
func validateBatch(entries []Entry) (uuid.UUID, balanceDelta, error) {
	var delta balanceDelta
	if len(entries) == 0 {
		return uuid.Nil, delta, pkgerrors.New(pkgerrors.CodeValidation, "at least one ledger entry is required")
	}

	userID := entries[0].UserID
	for _, entry := range entries {
		if entry.UserID == uuid.Nil {
			return uuid.Nil, delta, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
		}
		if entry.UserID != userID {
			return uuid.Nil, delta, pkgerrors.New(pkgerrors.CodeValidation, "ledger batch must target a single user")
		}
		if !entry.Kind.IsValid() {
			return uuid.Nil, delta, pkgerrors.Errorf(pkgerrors.CodeInvalidAmount, "invalid ledger entry kind %q", entry.Kind)
		}
		if entry.Amount == 0 {
			return uuid.Nil, delta, pkgerrors.New(pkgerrors.CodeInvalidAmount, "ledger amount must be non-zero")
		}
		if err := checkSign(entry); err != nil {
			return uuid.Nil, delta, err
		}
		if strings.TrimSpace(entry.Description) == "" {
			return uuid.Nil, delta, pkgerrors.New(pkgerrors.CodeValidation, "ledger description is required")
		}

		delta.Balance += entry.Amount
		switch entry.Kind {
		case enums.LedgerEntryKindEarnedSale:
			delta.Earned += entry.Amount
		case enums.LedgerEntryKindSpentBid:
			delta.Spent -= entry.Amount
		case enums.LedgerEntryKindRefund:
			delta.Spent -= entry.Amount
		}
	}
	return userID, delta, nil
}

func checkSign(entry Entry) error {
	switch entry.Kind {
	case enums.LedgerEntryKindSpentBid:
		if entry.Amount > 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidAmount, "spent_bid entries must be debits")
		}
	case enums.LedgerEntryKindPurchaseUser:
	default:
		if entry.Amount < 0 {
			return pkgerrors.Errorf(pkgerrors.CodeInvalidAmount, "%s entries must be credits", entry.Kind)
		}
	}
	return nil
}

func insufficientFunds(balance, required int64) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient button balance").
		WithDetails(map[string]any{
			"balance":  balance,
			"required": required,
		})
}
