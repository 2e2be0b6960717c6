package enums

import "testing"

func TestParseLedgerEntryKind(t *testing.T) {
	for _, kind := range validLedgerEntryKinds {
		got, err := ParseLedgerEntryKind(string(kind))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", kind, err)
		}
		if got != kind {
			t.Fatalf("expected %q got %q", kind, got)
		}
	}
	if _, err := ParseLedgerEntryKind("bonus"); err == nil {
		t.Fatal("expected unknown kind to be rejected")
	}
}

func TestLedgerEntryKindIsIssuance(t *testing.T) {
	if !LedgerEntryKindPurchasePlatform.IsIssuance() || !LedgerEntryKindInitialGrant.IsIssuance() {
		t.Fatal("platform purchases and onboarding grants are issuance kinds")
	}
	if LedgerEntryKindRefund.IsIssuance() || LedgerEntryKindEarnedSale.IsIssuance() {
		t.Fatal("refunds and sales are not issuance kinds")
	}
}

func TestAuctionStatusTerminal(t *testing.T) {
	tests := map[AuctionStatus]bool{
		AuctionStatusActive:    false,
		AuctionStatusSold:      true,
		AuctionStatusExpired:   true,
		AuctionStatusCancelled: true,
	}
	for status, terminal := range tests {
		if status.IsTerminal() != terminal {
			t.Fatalf("status %q terminal=%v", status, status.IsTerminal())
		}
	}
}

func TestAggregateForAuction(t *testing.T) {
	if AggregateForAuction(AuctionKindClothing) != AggregateClothingAuction {
		t.Fatal("clothing auctions map to clothing aggregate")
	}
	if AggregateForAuction(AuctionKindResale) != AggregateResaleAuction {
		t.Fatal("resale auctions map to resale aggregate")
	}
	if _, err := ParseAuctionKind("vintage"); err == nil {
		t.Fatal("expected unknown auction kind to be rejected")
	}
}

func TestParseRejectsNearMisses(t *testing.T) {
	if _, err := ParseAuctionKind("Clothing"); err == nil {
		t.Fatal("parsing is case sensitive")
	}
	if _, err := ParseOutboxEventType("auction_bid_placed "); err == nil {
		t.Fatal("surrounding whitespace must be trimmed by callers")
	}
	status, err := ParseAuctionStatus("expired")
	if err != nil || !status.IsTerminal() {
		t.Fatalf("expected terminal expired status, got %q err=%v", status, err)
	}
	if BidStatus("pending").IsValid() {
		t.Fatal("unknown bid status must be invalid")
	}
	if _, err := ParseOutboxDLQErrorReason("max_attempts"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
