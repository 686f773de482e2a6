package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/memohai/supportbot/internal/db"
	"github.com/memohai/supportbot/internal/db/sqlc"
)

// sessionNamespace scopes per-user conversation session ids.
var sessionNamespace = uuid.MustParse("6f1c2a0e-3b7d-4f7a-9a51-2c8e5d0b9e41")

// SessionID returns the stable conversation session id for a user.
func SessionID(userID string) uuid.UUID {
	return uuid.NewSHA1(sessionNamespace, []byte("discord:"+userID))
}

// Queries is the subset of sqlc.Queries the store reads and writes.
type Queries interface {
	ListKnowledgeEntries(ctx context.Context) ([]sqlc.KnowledgeEntry, error)
	ListRecentTurns(ctx context.Context, arg sqlc.ListRecentTurnsParams) ([]sqlc.ConversationTurn, error)
	InsertConversationTurn(ctx context.Context, arg sqlc.InsertConversationTurnParams) error
	ListTrainingCorrections(ctx context.Context, limit int32) ([]sqlc.TrainingCorrection, error)
	ListActivePromotions(ctx context.Context, now pgtype.Timestamptz) ([]sqlc.Promotion, error)
	GetUserProfile(ctx context.Context, userID string) (sqlc.UserProfile, error)
	TouchUserProfile(ctx context.Context, arg sqlc.TouchUserProfileParams) (sqlc.UserProfile, error)
}

// DefaultCorrectionScan bounds how many corrections are scored per question.
const DefaultCorrectionScan = 200

// Store serves every context source from PostgreSQL. The knowledge base is
// cached in memory and reloaded by RefreshKnowledge.
type Store struct {
	queries Queries
	logger  *slog.Logger
	scan    int32

	mu          sync.RWMutex
	knowledge   string
	knowledgeOK bool
	refreshedAt time.Time
}

func NewStore(log *slog.Logger, queries Queries) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		queries: queries,
		logger:  log.With(slog.String("service", "conversation_store")),
		scan:    DefaultCorrectionScan,
	}
}

// Knowledge returns the cached knowledge base, loading it on first use.
func (s *Store) Knowledge(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.knowledgeOK {
		text := s.knowledge
		s.mu.RUnlock()
		return text, nil
	}
	s.mu.RUnlock()
	if err := s.RefreshKnowledge(ctx); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.knowledge, nil
}

// RefreshKnowledge reloads the knowledge base. On failure the previous copy
// stays in place.
func (s *Store) RefreshKnowledge(ctx context.Context) error {
	entries, err := s.queries.ListKnowledgeEntries(ctx)
	if err != nil {
		return fmt.Errorf("list knowledge entries: %w", err)
	}
	text := JoinKnowledge(entries)
	s.mu.Lock()
	s.knowledge = text
	s.knowledgeOK = true
	s.refreshedAt = time.Now()
	s.mu.Unlock()
	s.logger.Debug("knowledge base refreshed", slog.Int("entries", len(entries)))
	return nil
}

// JoinKnowledge renders entries as one block.
func JoinKnowledge(entries []sqlc.KnowledgeEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		content := strings.TrimSpace(e.Content)
		if content == "" {
			continue
		}
		if title := strings.TrimSpace(e.Title); title != "" {
			content = "### " + title + "\n" + content
		}
		parts = append(parts, content)
	}
	return strings.Join(parts, "\n\n")
}

func (s *Store) RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.queries.ListRecentTurns(ctx, sqlc.ListRecentTurnsParams{
		SessionID: db.UUID(SessionID(userID)),
		Limit:     int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	turns := make([]Turn, len(rows))
	for i, row := range rows {
		// rows are newest first
		turns[len(rows)-1-i] = Turn{
			Role:      row.Role,
			Content:   row.Content,
			CreatedAt: row.CreatedAt.Time,
		}
	}
	return turns, nil
}

func (s *Store) Corrections(ctx context.Context) ([]Correction, error) {
	rows, err := s.queries.ListTrainingCorrections(ctx, s.scan)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	out := make([]Correction, 0, len(rows))
	for _, row := range rows {
		out = append(out, Correction{Question: row.Question, Answer: row.CorrectedAnswer})
	}
	return out, nil
}

func (s *Store) ActivePromotions(ctx context.Context, now time.Time) ([]Promotion, error) {
	rows, err := s.queries.ListActivePromotions(ctx, db.Timestamptz(now))
	if err != nil {
		return nil, fmt.Errorf("list promotions: %w", err)
	}
	out := make([]Promotion, 0, len(rows))
	for _, row := range rows {
		p := Promotion{Code: row.Code, Description: row.Description}
		if row.EndsAt.Valid {
			p.EndsAt = row.EndsAt.Time
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) Profile(ctx context.Context, userID string) (Profile, bool, error) {
	row, err := s.queries.GetUserProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, false, nil
		}
		return Profile{}, false, fmt.Errorf("get profile: %w", err)
	}
	return Profile{MessageCount: int(row.MessageCount), FirstSeen: row.FirstSeenAt.Time}, true, nil
}

// RecordExchange appends the question and answer to the user's history and
// bumps their profile counters.
func (s *Store) RecordExchange(ctx context.Context, req Request, answer string) error {
	sessionID := db.UUID(SessionID(req.UserID))
	var errs []error
	for _, turn := range []struct{ role, content string }{
		{RoleUser, req.Text},
		{RoleAssistant, answer},
	} {
		if strings.TrimSpace(turn.content) == "" {
			continue
		}
		if err := s.queries.InsertConversationTurn(ctx, sqlc.InsertConversationTurnParams{
			SessionID: sessionID,
			UserID:    req.UserID,
			ChannelID: req.ChannelID,
			Role:      turn.role,
			Content:   turn.content,
		}); err != nil {
			errs = append(errs, fmt.Errorf("insert %s turn: %w", turn.role, err))
		}
	}
	if _, err := s.queries.TouchUserProfile(ctx, sqlc.TouchUserProfileParams{
		UserID:   req.UserID,
		Username: req.Username,
	}); err != nil {
		errs = append(errs, fmt.Errorf("touch profile: %w", err))
	}
	return errors.Join(errs...)
}

// RefreshedAt reports when the knowledge base was last loaded.
func (s *Store) RefreshedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshedAt
}
