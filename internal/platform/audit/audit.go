// Package audit records "entity X action Y by user Z" entries for billing
// writes. Recording never blocks or fails the calling operation.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/dentalcare/clinic/internal/platform/db"
)

// Entry is one audited action.
type Entry struct {
	Entity   string
	EntityID uuid.UUID
	Action   string
	UserID   string
	At       time.Time
	Detail   string
}

// Recorder accepts entries. Implementations must not block the caller.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, e Entry)

func (f RecorderFunc) Record(ctx context.Context, e Entry) { f(ctx, e) }

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Writer inserts entries into the clinic's audit_log table from a background
// goroutine. Failures are logged and dropped.
type Writer struct {
	exec    execer
	logger  zerolog.Logger
	timeout time.Duration
}

// NewWriter returns a Writer that executes inserts through exec, normally the
// shared *pgxpool.Pool. The request connection cannot be used because it is
// released when the handler returns.
func NewWriter(exec execer, logger zerolog.Logger) *Writer {
	return &Writer{exec: exec, logger: logger, timeout: 5 * time.Second}
}

func (w *Writer) Record(ctx context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	clinicID := db.ClinicFromContext(ctx)
	if !db.ValidClinicID(clinicID) {
		w.logger.Warn().Str("entity", e.Entity).Str("action", e.Action).Msg("audit entry without clinic dropped")
		return
	}
	query := fmt.Sprintf(`INSERT INTO %s.audit_log (id, entity, entity_id, action, user_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, db.SchemaFor(clinicID))

	bg := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(bg, w.timeout)
		defer cancel()
		if _, err := w.exec.Exec(ctx, query, uuid.New(), e.Entity, e.EntityID, e.Action, e.UserID, e.Detail, e.At); err != nil {
			w.logger.Error().Err(err).
				Str("clinic_id", clinicID).
				Str("entity", e.Entity).
				Str("entity_id", e.EntityID.String()).
				Str("action", e.Action).
				Msg("audit write failed")
		}
	}()
}
