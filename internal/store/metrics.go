package store

import "sync/atomic"

// Metrics holds simple in-process counters for the durable store.
// There is no HTTP request context to hang per-request counters off, so
// retry accounting is a plain counter shared by every store holding the
// same Metrics value.
type Metrics struct {
	DatabaseRetries atomic.Int64
}

func (m *Metrics) databaseRetries() *atomic.Int64 {
	if m == nil {
		return &atomic.Int64{}
	}
	return &m.DatabaseRetries
}
