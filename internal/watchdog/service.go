package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe checks one condition the watchdog cares about (e.g. "fewer than
// N poisoned outbox rows", "oldest claimed row's lease is not about to
// expire"). ok=false triggers an alert; detail is included in it.
type Probe struct {
	Name   string
	Bucket string
	Run    func(ctx context.Context) (ok bool, detail string, err error)
}

// Service runs every registered Probe on an interval and raises an Alert
// through sink the first time a probe starts failing, then stays quiet
// about that probe until it recovers — so a sustained outage pages once,
// not once per scan interval.
type Service struct {
	probes   []Probe
	sink     AlertSink
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	failing  map[string]bool
}

func NewService(probes []Probe, sink AlertSink, interval time.Duration, logger *slog.Logger) *Service {
	return &Service{
		probes:   probes,
		sink:     sink,
		interval: interval,
		logger:   logger.With("component", "watchdog.service"),
		failing:  make(map[string]bool),
	}
}

func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("watchdog service started", "interval", s.interval, "probes", len(s.probes))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watchdog service shut down")
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Service) scanOnce(ctx context.Context) {
	for _, probe := range s.probes {
		ok, detail, err := probe.Run(ctx)
		if err != nil {
			s.logger.Error("watchdog probe errored", "probe", probe.Name, "error", err)
			continue
		}

		s.mu.Lock()
		wasFailing := s.failing[probe.Name]
		s.failing[probe.Name] = !ok
		s.mu.Unlock()

		if !ok && !wasFailing {
			if err := s.sink.Send(ctx, Alert{Bucket: probe.Bucket, Subject: probe.Name + " is unhealthy", Detail: detail}); err != nil {
				s.logger.Error("send watchdog alert", "probe", probe.Name, "error", err)
			}
		}
		if ok && wasFailing {
			s.logger.Info("watchdog probe recovered", "probe", probe.Name)
		}
	}
}
