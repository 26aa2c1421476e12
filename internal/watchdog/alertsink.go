package watchdog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/email"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/metrics"
)

// Alert is one anomaly the watchdog's scan found.
type Alert struct {
	Bucket  string
	Subject string
	Detail  string
}

// AlertSink delivers an Alert somewhere an operator will see it.
type AlertSink interface {
	Send(ctx context.Context, alert Alert) error
}

// LogAlertSink just logs the alert — the default for local development
// and the fallback when no email sink is configured.
type LogAlertSink struct {
	logger *slog.Logger
}

func NewLogAlertSink(logger *slog.Logger) *LogAlertSink {
	return &LogAlertSink{logger: logger.With("component", "watchdog.alert")}
}

func (s *LogAlertSink) Send(_ context.Context, alert Alert) error {
	s.logger.Error("watchdog alert", "bucket", alert.Bucket, "subject", alert.Subject, "detail", alert.Detail)
	metrics.WatchdogAlertsTotal.WithLabelValues(alert.Bucket).Inc()
	return nil
}

// EmailAlertSink repurposes the teacher's email.Sender (originally used
// for magic-link auth emails) as the watchdog's production alert
// transport, since both are "deliver a short message to an operator"
// concerns backed by the same Resend client.
type EmailAlertSink struct {
	sender email.Sender
	to     string
}

func NewEmailAlertSink(sender email.Sender, to string) *EmailAlertSink {
	return &EmailAlertSink{sender: sender, to: to}
}

func (s *EmailAlertSink) Send(ctx context.Context, alert Alert) error {
	metrics.WatchdogAlertsTotal.WithLabelValues(alert.Bucket).Inc()
	subject := fmt.Sprintf("[%s] %s", alert.Bucket, alert.Subject)
	body := fmt.Sprintf("<p>%s</p>", alert.Detail)
	return s.sender.Send(ctx, s.to, subject, body)
}

// FanoutSink delivers to every configured sink; a failure in one does not
// stop delivery to the others, and only the first error is returned.
type FanoutSink struct {
	sinks []AlertSink
}

func NewFanoutSink(sinks ...AlertSink) *FanoutSink { return &FanoutSink{sinks: sinks} }

func (f *FanoutSink) Send(ctx context.Context, alert Alert) error {
	var firstErr error
	for _, sink := range f.sinks {
		if err := sink.Send(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
