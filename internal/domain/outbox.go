package domain

import (
	"errors"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/ids"
)

var (
	ErrOutboxMessageNotFound = errors.New("outbox message not found")
	ErrDuplicateMessageID    = errors.New("outbox message with this message id already exists")
	ErrJoinNotFound          = errors.New("outbox join not found")
)

// OutboxMessage is a work-item row plus the fields specific to transactionally
// enqueued outbound messages (spec §3).
type OutboxMessage struct {
	WorkItem
	Topic         string
	Payload       []byte
	CorrelationID string
	MessageID     string // stable producer id, unique
	IsProcessed   bool
	JoinID        *string
}

type JoinStatus string

const (
	JoinOpen      JoinStatus = "open"
	JoinCompleted JoinStatus = "completed"
	JoinFailed    JoinStatus = "failed"
)

// OutboxJoin is a saga-style aggregate over multiple outbox messages; it
// terminates once every expected step has reported.
type OutboxJoin struct {
	JoinID         string
	TenantID       string
	ExpectedSteps  int
	CompletedSteps int
	FailedSteps    int
	Status         JoinStatus
	Metadata       map[string]string
	CreatedAt      time.Time
}

// Done reports whether every expected step has reported in, regardless of
// outcome.
func (j OutboxJoin) Done() bool {
	return j.CompletedSteps+j.FailedSteps >= j.ExpectedSteps
}

// ResolvedStatus computes the terminal status once Done(); Failed wins
// over Completed the moment any step fails (spec §4.2).
func (j OutboxJoin) ResolvedStatus() JoinStatus {
	if j.FailedSteps > 0 {
		return JoinFailed
	}
	return JoinCompleted
}

type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// OutboxJoinMember is a single (join, message) membership record.
type OutboxJoinMember struct {
	JoinID          string
	OutboxMessageID ids.WorkItemID
	StepStatus      *StepStatus
}

// HandlerOutcome is the tagged result a dispatcher handler returns for a
// claimed message (spec §4.2).
type HandlerOutcome int

const (
	Success HandlerOutcome = iota
	TransientFailure
	PermanentFailure
)

// HandlerResult pairs an outcome with an optional explicit retry delay
// (used only when Outcome == TransientFailure) and the error to record.
type HandlerResult struct {
	Outcome HandlerOutcome
	Delay   time.Duration // zero means "use the backoff policy"
	Err     error
}
