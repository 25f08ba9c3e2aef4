// Package usage records every tool invocation to the telemetry store and fans
// the record out to Slack and live dashboard subscribers.
package usage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/pride-mcp/internal/db"
	"github.com/thebtf/pride-mcp/internal/observability"
	"github.com/thebtf/pride-mcp/internal/privacy"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// EventQuestion is the broadcast event name for a stored record.
const EventQuestion = "question"

// Broadcaster pushes events to live subscribers.
type Broadcaster interface {
	Broadcast(event string, data any)
}

// Notifier announces records to an external channel.
type Notifier interface {
	Enabled() bool
	NotifyQuestion(ctx context.Context, q *models.Question) error
}

// Options configures a Recorder. Every field except Store is optional.
type Options struct {
	Store           db.QuestionWriter
	Notifier        Notifier
	Broadcaster     Broadcaster
	NotifyQuestions bool
	StoreTimeout    time.Duration
	NotifyTimeout   time.Duration
}

// Recorder persists invocation records. A failed write is logged and reported
// but never surfaces to the tool caller.
type Recorder struct {
	store         db.QuestionWriter
	notifier      Notifier
	broadcaster   Broadcaster
	logger        zerolog.Logger
	pending       sync.WaitGroup
	storeTimeout  time.Duration
	notifyTimeout time.Duration
	notify        bool
}

// NewRecorder creates a recorder.
func NewRecorder(opts Options) *Recorder {
	r := &Recorder{
		store:         opts.Store,
		notifier:      opts.Notifier,
		broadcaster:   opts.Broadcaster,
		notify:        opts.NotifyQuestions,
		storeTimeout:  opts.StoreTimeout,
		notifyTimeout: opts.NotifyTimeout,
		logger:        log.With().Str("component", "usage").Logger(),
	}
	if r.storeTimeout <= 0 {
		r.storeTimeout = 5 * time.Second
	}
	if r.notifyTimeout <= 0 {
		r.notifyTimeout = 10 * time.Second
	}
	return r
}

// Record scrubs q, stores it and fans it out. The returned id is 0 when the
// store is unavailable. The caller's context bounds nothing beyond its values:
// a cancelled request is still recorded.
func (r *Recorder) Record(ctx context.Context, q *models.Question) (int64, error) {
	if r == nil || q == nil {
		return 0, nil
	}
	rec := Scrubbed(q)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var id int64
	if r.store != nil {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout)
		defer cancel()

		var err error
		id, err = r.store.StoreQuestion(storeCtx, rec)
		if err != nil {
			observability.QuestionsStoredTotal.WithLabelValues("error").Inc()
			r.logger.Error().Err(err).Msg("Failed to store question")
			observability.CaptureError(ctx, err, map[string]string{"component": "usage"})
			return 0, err
		}
		rec.ID = id
		observability.QuestionsStoredTotal.WithLabelValues(strconv.FormatBool(rec.Success)).Inc()
		r.logger.Debug().Int64("id", id).Bool("success", rec.Success).Msg("Question stored")
	}

	if r.broadcaster != nil {
		r.broadcaster.Broadcast(EventQuestion, rec)
	}

	if r.notify && r.notifier != nil && r.notifier.Enabled() {
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.notifyTimeout)
			defer cancel()
			if err := r.notifier.NotifyQuestion(nctx, rec); err != nil {
				r.logger.Warn().Err(err).Int64("id", id).Msg("Question notification failed")
			}
		}()
	}
	return id, nil
}

// Wait blocks until in-flight notifications finish.
func (r *Recorder) Wait() {
	if r != nil {
		r.pending.Wait()
	}
}

// Scrubbed returns a copy of q with credentials removed from free-text fields.
func Scrubbed(q *models.Question) *models.Question {
	out := *q
	out.Question = privacy.Scrub(q.Question)
	out.ErrorMessage = privacy.Scrub(q.ErrorMessage)
	out.Metadata = privacy.ScrubMap(q.Metadata)
	if q.ToolsCalled != nil {
		out.ToolsCalled = append(models.JSONStringArray(nil), q.ToolsCalled...)
	}
	return &out
}
