package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/storage/models"
	"github.com/billing-agent/backend/pkg/logger"
)

// InsertQueryRecord stores one workflow run with the citations it returned.
func (c *Client) InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var approved sql.NullBool
	if record.Approved != nil {
		approved = sql.NullBool{Bool: *record.Approved, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO query_history (id, session_id, query_text, intent, response, approved, top_score, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.SessionID,
		record.QueryText,
		record.Intent,
		record.Response,
		approved,
		record.TopScore,
		record.LatencyMS,
		record.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	for _, src := range record.Sources {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO query_sources (query_id, doc_id, chunk_id, quote) VALUES (?, ?, ?, ?)`,
			record.ID, src.DocID, src.ChunkID, src.Quote); err != nil {
			return fmt.Errorf("failed to insert query source: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("intent", record.Intent),
		zap.Int("sources", len(record.Sources)),
	)
	return nil
}

// GetQueryHistory returns the most recent runs for a session, newest first.
func (c *Client) GetQueryHistory(ctx context.Context, sessionID string, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, session_id, query_text, intent, response, approved, top_score, latency_ms, created_at
		FROM query_history
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	records := make([]models.QueryRecord, 0)
	for rows.Next() {
		var r models.QueryRecord
		var approved sql.NullBool
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.QueryText, &r.Intent, &r.Response,
			&approved, &r.TopScore, &r.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan query record: %w", err)
		}
		if approved.Valid {
			v := approved.Bool
			r.Approved = &v
		}
		r.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read query history: %w", err)
	}

	for i := range records {
		sources, err := c.querySources(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Sources = sources
	}
	return records, nil
}

func (c *Client) querySources(ctx context.Context, queryID string) ([]models.QuerySource, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, query_id, doc_id, chunk_id, quote FROM query_sources WHERE query_id = ? ORDER BY id ASC`, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get query sources: %w", err)
	}
	defer rows.Close()

	var out []models.QuerySource
	for rows.Next() {
		var s models.QuerySource
		if err := rows.Scan(&s.ID, &s.QueryID, &s.DocID, &s.ChunkID, &s.Quote); err != nil {
			return nil, fmt.Errorf("failed to scan query source: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
