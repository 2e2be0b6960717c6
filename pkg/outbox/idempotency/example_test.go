package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func ExampleManager_Claim() {
	ctx := context.Background()
	manager, _ := NewManager(newMemStore(), 7*24*time.Hour)
	eventID := uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

	apply := func() string {
		state, err := manager.Claim(ctx, "feed-notifications", eventID)
		if err != nil {
			return "retry later"
		}
		switch state {
		case Done:
			return "duplicate delivery acked"
		case InFlight:
			return "nacked while another worker runs"
		}
		_ = manager.Complete(ctx, "feed-notifications", eventID)
		return "applied"
	}

	fmt.Println(apply())
	fmt.Println(apply())
	// Output:
	// applied
	// duplicate delivery acked
}
