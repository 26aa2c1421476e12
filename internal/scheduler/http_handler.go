package scheduler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/outbox"
)

// HTTPOutboxHandler adapts Executor into an outbox.Handler for the
// built-in "scheduler.http" topic — the one handler every deployment gets
// for free, since it is the teacher's own job-execution behavior carried
// forward unchanged in spirit (spec SUPPLEMENTED FEATURES).
func HTTPOutboxHandler(executor *Executor) outbox.Handler {
	return func(ctx context.Context, msg *domain.OutboxMessage) domain.HandlerResult {
		spec, err := DecodeHTTPJobSpec(msg.Payload)
		if err != nil {
			return domain.HandlerResult{Outcome: domain.PermanentFailure, Err: fmt.Errorf("decode http job spec: %w", err)}
		}

		result := executor.Run(ctx, msg.CorrelationID, spec)
		if result.Err != nil {
			return domain.HandlerResult{Outcome: domain.TransientFailure, Err: result.Err}
		}
		if result.StatusCode != http.StatusOK {
			return domain.HandlerResult{
				Outcome: domain.TransientFailure,
				Err:     fmt.Errorf("unexpected status code: %d", result.StatusCode),
			}
		}
		return domain.HandlerResult{Outcome: domain.Success}
	}
}
