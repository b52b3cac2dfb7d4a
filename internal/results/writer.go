package results

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AuditWriter batches result inserts off the execution path. Writes
// that fail are retried with backoff; a full buffer drops entries
// rather than blocking executions.
type AuditWriter struct {
	db        *DB
	ch        chan *Result
	wg        sync.WaitGroup
	done      chan struct{}
	retention time.Duration
}

func NewAuditWriter(db *DB, bufferSize int, retention time.Duration) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		db:        db,
		ch:        make(chan *Result, bufferSize),
		done:      make(chan struct{}),
		retention: retention,
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Record enqueues a result for durable insert. Never blocks.
func (w *AuditWriter) Record(r *Result) {
	select {
	case w.ch <- r:
	default:
		log.Warn().Str("exec_id", r.ID).Msg("audit buffer full, dropping result")
	}
}

// Flush drains pending writes and stops the loop.
func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	// Purge on the same cadence the in-memory store sweeps, so the
	// durable sink honors the retention window too.
	purge := time.NewTicker(time.Hour)
	defer purge.Stop()

	for {
		select {
		case r := <-w.ch:
			w.writeWithRetry(r)
		case <-purge.C:
			w.purgeExpired()
		case <-w.done:
			for {
				select {
				case r := <-w.ch:
					w.writeWithRetry(r)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) purgeExpired() {
	if w.retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := w.db.PurgeExpired(ctx, w.retention)
	if err != nil {
		log.Error().Err(err).Msg("retention purge failed")
		return
	}
	if n > 0 {
		log.Info().Int64("rows", n).Msg("purged expired results from database")
	}
}

func (w *AuditWriter) writeWithRetry(r *Result) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.InsertResult(ctx, r)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Str("exec_id", r.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("exec_id", r.ID).
				Msg("audit write failed permanently after retries")
		}
	}
}
