// Package memory keeps per-conversation context: entity extraction, the
// session store contract, and the glue that merges one into the other.
package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/billing-agent/backend/internal/storage/models"
	"github.com/billing-agent/backend/pkg/logger"
)

// Store is the durable session memory. Lookups and mutations on an unknown id
// return a nil session and a nil error.
type Store interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetOrCreateSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSession(ctx context.Context, id string, u models.SessionUpdate) (*models.Session, error)
	AppendTurn(ctx context.Context, id, role, content string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
	ListSessions(ctx context.Context) ([]string, error)
	SessionStats(ctx context.Context) (*models.SessionStats, error)
}

// Manager extracts entities from user text and merges them into the store.
type Manager struct {
	store     Store
	extractor *Extractor
}

func NewManager(store Store, extractor *Extractor) *Manager {
	if extractor == nil {
		extractor = NewExtractor()
	}
	return &Manager{store: store, extractor: extractor}
}

func (m *Manager) Store() Store { return m.store }

// ExtractAndUpdate runs extraction on text and writes every non-empty entity
// to the session. The returned session is nil when the id is unknown.
func (m *Manager) ExtractAndUpdate(ctx context.Context, sessionID, text string) (Entities, *models.Session, error) {
	entities := m.extractor.Extract(text)

	update := models.SessionUpdate{
		AccountID:     entities.AccountID,
		CustomerName:  entities.CustomerName,
		BillingPeriod: entities.BillingPeriod,
		CurrentTopic:  entities.Topic,
	}
	if update.IsEmpty() {
		s, err := m.store.GetSession(ctx, sessionID)
		if err != nil {
			return entities, nil, err
		}
		return entities, s, nil
	}

	s, err := m.store.UpdateSession(ctx, sessionID, update)
	if err != nil {
		return entities, nil, fmt.Errorf("failed to update session entities: %w", err)
	}
	if s == nil {
		logger.Warn("Entity update for unknown session", zap.String("session_id", sessionID))
		return entities, nil, nil
	}

	logger.Info("Session entities updated",
		zap.String("session_id", sessionID),
		zap.String("account_id", entities.AccountID),
		zap.String("billing_period", entities.BillingPeriod),
		zap.String("topic", entities.Topic),
	)
	return entities, s, nil
}
