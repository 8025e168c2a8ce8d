package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/storage/models"
	"github.com/billing-agent/backend/pkg/logger"
)

const sessionColumns = `id, created_at, last_activity, account_id, customer_name, billing_period,
	current_topic, last_query, last_response`

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetSession returns nil without error when id is unknown.
func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return c.loadSession(ctx, c.db, id)
}

func (c *Client) loadSession(ctx context.Context, q queryer, id string) (*models.Session, error) {
	var s models.Session
	var createdAt, lastActivity int64

	err := q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id).Scan(
		&s.ID,
		&createdAt,
		&lastActivity,
		&s.AccountID,
		&s.CustomerName,
		&s.BillingPeriod,
		&s.CurrentTopic,
		&s.LastQuery,
		&s.LastResponse,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s.CreatedAt = time.UnixMilli(createdAt)
	s.LastActivity = time.UnixMilli(lastActivity)

	rows, err := q.QueryContext(ctx,
		`SELECT role, content, created_at FROM conversation_turns WHERE session_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation turns: %w", err)
	}
	defer rows.Close()

	s.History = make([]models.ConversationTurn, 0, c.maxHistory)
	for rows.Next() {
		var t models.ConversationTurn
		var ts int64
		if err := rows.Scan(&t.Role, &t.Content, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan conversation turn: %w", err)
		}
		t.Timestamp = time.UnixMilli(ts)
		s.History = append(s.History, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversation turns: %w", err)
	}

	return &s, nil
}

// GetOrCreateSession is idempotent: concurrent calls with the same unseen id
// create exactly one row.
func (c *Client) GetOrCreateSession(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session id must not be empty")
	}

	c.writeMu.Lock()
	now := time.Now().UnixMilli()
	res, err := c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, created_at, last_activity) VALUES (?, ?, ?)`, id, now, now)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.Info("Session created", zap.String("session_id", id))
	}

	return c.GetSession(ctx, id)
}

// UpdateSession merges non-empty fields of u into the session. A nil session
// is returned when id is unknown.
func (c *Client) UpdateSession(ctx context.Context, id string, u models.SessionUpdate) (*models.Session, error) {
	c.writeMu.Lock()
	res, err := c.db.ExecContext(ctx, `
		UPDATE sessions SET
			account_id = COALESCE(NULLIF(?, ''), account_id),
			customer_name = COALESCE(NULLIF(?, ''), customer_name),
			billing_period = COALESCE(NULLIF(?, ''), billing_period),
			current_topic = COALESCE(NULLIF(?, ''), current_topic),
			last_query = COALESCE(NULLIF(?, ''), last_query),
			last_response = COALESCE(NULLIF(?, ''), last_response),
			last_activity = ?
		WHERE id = ?`,
		u.AccountID,
		u.CustomerName,
		u.BillingPeriod,
		u.CurrentTopic,
		u.LastQuery,
		u.LastResponse,
		time.Now().UnixMilli(),
		id,
	)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return c.GetSession(ctx, id)
}

// AppendTurn inserts a turn and evicts the oldest turns beyond the history
// cap in the same transaction. A nil session is returned when id is unknown.
func (c *Client) AppendTurn(ctx context.Context, id, role, content string) (*models.Session, error) {
	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, fmt.Errorf("invalid conversation role %q", role)
	}

	c.writeMu.Lock()
	found, err := c.appendTurnTx(ctx, id, role, content)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return c.GetSession(ctx, id)
}

func (c *Client) appendTurnTx(ctx context.Context, id, role, content string) (bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET last_activity = ? WHERE id = ?`, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_turns (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		id, role, content, now); err != nil {
		return false, fmt.Errorf("failed to insert conversation turn: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_turns
		WHERE session_id = ? AND id NOT IN (
			SELECT id FROM conversation_turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)`, id, id, c.maxHistory); err != nil {
		return false, fmt.Errorf("failed to trim conversation history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit conversation turn: %w", err)
	}
	return true, nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) (bool, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	if n > 0 {
		logger.Info("Session deleted", zap.String("session_id", id))
	}
	return n > 0, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *Client) SessionStats(ctx context.Context) (*models.SessionStats, error) {
	var stats models.SessionStats
	err := c.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM sessions), (SELECT COUNT(*) FROM conversation_turns)`).
		Scan(&stats.TotalSessions, &stats.TotalTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}
	return &stats, nil
}
