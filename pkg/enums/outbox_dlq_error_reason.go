package enums

import "fmt"

// OutboxDLQErrorReason explains why an outbox row was parked.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

// ParseOutboxDLQErrorReason accepts the stored reason values.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	switch reason := OutboxDLQErrorReason(value); reason {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable:
		return reason, nil
	}
	return "", fmt.Errorf("invalid dlq error reason %q", value)
}
