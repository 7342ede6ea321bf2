package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// DedupWindow is how long a job id stays in the in-memory dedup map.
	DedupWindow     time.Duration
	DedupMaxEntries int
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	JobID   string    `json:"job_id"`
	Channel string    `json:"channel"`
	Kind    Kind      `json:"kind"`
}
