package domain

import "time"

// FanoutPolicy configures how often and under what lease a given fanout
// topic emits per-shard slice messages (spec §3/§4.5).
type FanoutPolicy struct {
	FanoutTopic        string
	Cron               string // empty means "use DefaultEverySeconds+jitter"
	DefaultEverySeconds int
	JitterSeconds      int
	LeaseDuration      time.Duration
	WorkKey            string
	MaxCatchupWindows  int
}

// FanoutCursor tracks the last emitted window per (topic, shard).
type FanoutCursor struct {
	FanoutTopic            string
	ShardKey               string
	LastEmittedWindowStart time.Time
}

// FanoutSlice is the stable wire payload enqueued to the outbox for each
// emitted window (spec §6).
type FanoutSlice struct {
	FanoutTopic   string    `json:"fanoutTopic"`
	ShardKey      string    `json:"shardKey"`
	WorkKey       string    `json:"workKey"`
	WindowStart   time.Time `json:"windowStart"`
	CorrelationID string    `json:"correlationId,omitempty"`
}
