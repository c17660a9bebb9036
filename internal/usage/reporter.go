// Package usage implements the best-effort usage-reporting queue
// (C8): a process-wide FIFO batched and flushed to the commerce back
// end on a size or time trigger. Generalizes the teacher's
// catalog.Catalog refresh-goroutine/timer discipline
// (internal/catalog/catalog.go) into a queue-drain timer instead of a
// periodic refresh.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hanzoai/gateway/pkg/gwmodels"
)

const (
	maxBatch    = 50
	flushWindow = 5 * time.Second
)

// Reporter is the C8 usage reporter.
type Reporter struct {
	report func(ctx context.Context, records []gwmodels.UsageRecord) error

	mu      sync.Mutex
	queue   []gwmodels.UsageRecord
	timer   *time.Timer
	closed  bool
}

// reportFunc matches billing.Client.ReportUsage's signature without
// importing the billing package, keeping usage free of a billing
// dependency.
type reportFunc = func(ctx context.Context, records []gwmodels.UsageRecord) error

// NewReporter builds a Reporter that posts batches via report. A nil
// report func makes the reporter a no-op, per spec.md §4.8 ("the
// reporter is a no-op until configured with back-end credentials").
func NewReporter(report reportFunc) *Reporter {
	return &Reporter{report: report}
}

// Report enqueues a usage record. At 50 queued records it flushes
// immediately; otherwise it arms a 5-second timer if one isn't
// already pending.
func (r *Reporter) Report(record gwmodels.UsageRecord) {
	if r.report == nil {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, record)
	full := len(r.queue) >= maxBatch
	if full {
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
	} else if r.timer == nil {
		r.timer = time.AfterFunc(flushWindow, func() { r.flushTimerFired() })
	}
	r.mu.Unlock()

	if full {
		r.flush()
	}
}

func (r *Reporter) flushTimerFired() {
	r.mu.Lock()
	r.timer = nil
	r.mu.Unlock()
	r.flush()
}

// flush takes up to maxBatch records FIFO and posts them. Failures
// are logged and the batch is discarded (best-effort, per spec.md
// §4.8 and the Non-goals on durable queueing).
func (r *Reporter) flush() {
	batch := r.takeBatch()
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.report(ctx, batch); err != nil {
		log.Warn().Err(err).Int("count", len(batch)).Msg("usage: flush failed, discarding batch")
	}
}

func (r *Reporter) takeBatch() []gwmodels.UsageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.queue)
	if n > maxBatch {
		n = maxBatch
	}
	if n == 0 {
		return nil
	}
	batch := make([]gwmodels.UsageRecord, n)
	copy(batch, r.queue[:n])
	r.queue = r.queue[n:]
	return batch
}

// Shutdown drains the queue by repeatedly flushing until empty, per
// spec.md §4.8 and the concurrency-model shutdown note.
func (r *Reporter) Shutdown() {
	r.mu.Lock()
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	for {
		r.mu.Lock()
		remaining := len(r.queue)
		r.mu.Unlock()
		if remaining == 0 {
			return
		}
		r.flush()
	}
}

// Len reports the current queue depth, for diagnostics and tests.
func (r *Reporter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
