// Package ids provides the opaque 128-bit identifier types shared across
// the work-queue engine: work-item identifiers, owner tokens, and the
// monotonic fencing-token counter. Equality and ordering are always on the
// raw underlying value — the wrapper exists only for type discipline.
package ids

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// WorkItemID identifies a single row in any work-queue-backed table
// (outbox, inbox, timers, job runs).
type WorkItemID uuid.UUID

// NewWorkItemID generates a fresh random identifier.
func NewWorkItemID() WorkItemID { return WorkItemID(uuid.New()) }

func (id WorkItemID) String() string { return uuid.UUID(id).String() }
func (id WorkItemID) IsNil() bool    { return id == WorkItemID{} }

func (id WorkItemID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id *WorkItemID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = WorkItemID(u)
	return nil
}

// Value / Scan let pgx bind WorkItemID directly to a uuid column.
func (id WorkItemID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }
func (id *WorkItemID) Scan(src any) error {
	var u uuid.UUID
	if err := u.Scan(src); err != nil {
		return fmt.Errorf("scan work item id: %w", err)
	}
	*id = WorkItemID(u)
	return nil
}

func ParseWorkItemID(s string) (WorkItemID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return WorkItemID{}, fmt.Errorf("parse work item id: %w", err)
	}
	return WorkItemID(u), nil
}

// OwnerToken is the 128-bit identity a worker attaches to a claim.
type OwnerToken uuid.UUID

func NewOwnerToken() OwnerToken { return OwnerToken(uuid.New()) }

func (t OwnerToken) String() string { return uuid.UUID(t).String() }
func (t OwnerToken) IsNil() bool    { return t == OwnerToken{} }

func (t OwnerToken) Value() (driver.Value, error) { return uuid.UUID(t).String(), nil }
func (t *OwnerToken) Scan(src any) error {
	if src == nil {
		*t = OwnerToken{}
		return nil
	}
	var u uuid.UUID
	if err := u.Scan(src); err != nil {
		return fmt.Errorf("scan owner token: %w", err)
	}
	*t = OwnerToken(u)
	return nil
}

// FencingToken is a monotonically non-decreasing counter bound to a
// resource. Downstream stores reject writes carrying a token lower than
// the highest one they have already observed for that resource.
type FencingToken int64

// Next returns the following token in sequence.
func (f FencingToken) Next() FencingToken { return f + 1 }

// Less reports whether f is strictly behind other — used by downstream
// stores to reject stale writers.
func (f FencingToken) Less(other FencingToken) bool { return f < other }
