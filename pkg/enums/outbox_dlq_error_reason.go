package enums

// OutboxDLQErrorReason records why an event was moved out of the publish loop.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonUnknownEvent OutboxDLQErrorReason = "unknown_event"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
	OutboxDLQReasonUnknownEvent,
}

func (r OutboxDLQErrorReason) IsValid() bool {
	return oneOf(r, validOutboxDLQErrorReasons)
}

func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	return parse(value, "dlq reason", validOutboxDLQErrorReasons)
}
