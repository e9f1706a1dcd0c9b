package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists events to PostgreSQL. Writes are fire-and-forget with a
// bounded timeout so a slow database never stalls the pipeline.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) Emit(ctx context.Context, e Event) {
	if s.db == nil {
		return
	}
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := s.db.Exec(bgCtx, `
			INSERT INTO audit_events
				(occurred_at, request_id, user_id, surface_id, stage, decision, categories, reason, provider, score)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, e.Time, e.RequestID, e.UserID, e.SurfaceID, e.Stage, e.Decision, e.Categories, e.Reason, e.Provider, e.Score)
		if err != nil {
			s.logger.Warn("audit insert failed", "request_id", e.RequestID, "error", err)
		}
	}()
}
