// Package audit records one api_logs row per API request. Entries travel
// through a queue so that a slow store never delays a response.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seminarhub/internal/metrics"
	"seminarhub/internal/queue"
	"seminarhub/internal/store"
)

// MessageType tags audit entries on the queue.
const MessageType = "api_log"

// ErrorKey is the gin context key holding the error message of a failed
// request.
const ErrorKey = "audit.error_message"

// Entry is one api_logs row.
type Entry struct {
	Timestamp    string `json:"timestamp"`
	Endpoint     string `json:"endpoint"`
	Method       string `json:"method"`
	StatusCode   int    `json:"status_code"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Record converts e into the stored row.
func (e Entry) Record() store.Record {
	rec := store.Record{
		"timestamp":   e.Timestamp,
		"endpoint":    e.Endpoint,
		"method":      e.Method,
		"status_code": e.StatusCode,
	}
	if e.ErrorMessage != "" {
		rec["error_message"] = e.ErrorMessage
	}
	return rec
}

// Middleware publishes an Entry for every request under prefix after the
// handler ran.
func Middleware(q queue.Queue, prefix string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if !strings.HasPrefix(c.Request.URL.Path, prefix) {
			return
		}
		entry := Entry{
			Timestamp:    store.FormatTime(time.Now()),
			Endpoint:     c.Request.URL.Path,
			Method:       c.Request.Method,
			StatusCode:   c.Writer.Status(),
			ErrorMessage: c.GetString(ErrorKey),
		}
		body, err := json.Marshal(entry)
		if err != nil {
			metrics.AuditDropped.Inc()
			return
		}
		if err := publish(q, queue.Message{Type: MessageType, Body: body}); err != nil {
			metrics.AuditDropped.Inc()
			log.Warn("audit entry dropped", zap.String("endpoint", entry.Endpoint), zap.Error(err))
		}
	}
}

type tryPublisher interface {
	TryPublish(msg queue.Message) error
}

// publish never blocks on an in-process queue; remote queues get a short
// deadline.
func publish(q queue.Queue, msg queue.Message) error {
	if tp, ok := q.(tryPublisher); ok {
		return tp.TryPublish(msg)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	return q.Publish(ctx, msg)
}

// Recorder writes queued entries to the store.
type Recorder struct {
	store store.Store
	log   *zap.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(s store.Store, log *zap.Logger) *Recorder {
	return &Recorder{store: s, log: log}
}

// Record stores one entry.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if _, err := r.store.Insert(ctx, store.APILogs, e.Record()); err != nil {
		return fmt.Errorf("insert api log: %w", err)
	}
	return nil
}

// Recent returns the latest api_logs rows, newest first.
func Recent(ctx context.Context, s store.Store, limit int) ([]store.Record, error) {
	return s.Select(ctx, store.From(store.APILogs).OrderByDesc("timestamp").Take(limit))
}

// Run consumes q until ctx is done.
func (r *Recorder) Run(ctx context.Context, q queue.Queue) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		if msg.Type != MessageType {
			r.log.Warn("unexpected message type", zap.String("type", msg.Type))
			continue
		}
		var e Entry
		if err := json.Unmarshal(msg.Body, &e); err != nil {
			metrics.AuditDropped.Inc()
			r.log.Warn("invalid audit entry", zap.Error(err))
			continue
		}
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.Record(writeCtx, e)
		cancel()
		if err != nil {
			metrics.AuditDropped.Inc()
			r.log.Error("audit entry not stored", zap.String("endpoint", e.Endpoint), zap.Error(err))
		}
	}
	return ctx.Err()
}
