package enums

// LedgerEntryKind maps to the ledger_entry_kind enum in Postgres.
type LedgerEntryKind string

const (
	LedgerEntryKindEarnedSale       LedgerEntryKind = "earned_sale"
	LedgerEntryKindSpentBid         LedgerEntryKind = "spent_bid"
	LedgerEntryKindPurchasePlatform LedgerEntryKind = "purchase_platform"
	LedgerEntryKindPurchaseUser     LedgerEntryKind = "purchase_user"
	LedgerEntryKindRefund           LedgerEntryKind = "refund"
	LedgerEntryKindInitialGrant     LedgerEntryKind = "initial_grant"
)

var validLedgerEntryKinds = []LedgerEntryKind{
	LedgerEntryKindEarnedSale,
	LedgerEntryKindSpentBid,
	LedgerEntryKindPurchasePlatform,
	LedgerEntryKindPurchaseUser,
	LedgerEntryKindRefund,
	LedgerEntryKindInitialGrant,
}

// IsValid reports whether the value matches the canonical ledger entry kind enum.
func (k LedgerEntryKind) IsValid() bool {
	return oneOf(k, validLedgerEntryKinds)
}

// IsIssuance reports whether the kind may be granted directly by the platform.
func (k LedgerEntryKind) IsIssuance() bool {
	return k == LedgerEntryKindPurchasePlatform || k == LedgerEntryKindInitialGrant
}

// ParseLedgerEntryKind converts raw input into LedgerEntryKind.
func ParseLedgerEntryKind(value string) (LedgerEntryKind, error) {
	return parse(value, "ledger entry kind", validLedgerEntryKinds)
}
