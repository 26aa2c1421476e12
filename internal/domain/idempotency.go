package domain

import "time"

// IdempotencyState is the lifecycle of a key tracked by the exactly-once
// executor's backing store (spec §3/§4.9).
type IdempotencyState string

const (
	IdempotencyInProgress IdempotencyState = "in_progress"
	IdempotencyCompleted  IdempotencyState = "completed"
	IdempotencyFailed     IdempotencyState = "failed"
)

// IdempotencyRecord is a single Key -> state mapping.
type IdempotencyRecord struct {
	Key       string
	State     IdempotencyState
	CreatedAt time.Time
	UpdatedAt time.Time
}
