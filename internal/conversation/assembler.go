package conversation

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// KnowledgeSource returns the knowledge base as one text block.
type KnowledgeSource interface {
	Knowledge(ctx context.Context) (string, error)
}

// HistorySource returns up to limit of a user's turns, oldest first.
type HistorySource interface {
	RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error)
}

// CorrectionSource returns the learned corrections.
type CorrectionSource interface {
	Corrections(ctx context.Context) ([]Correction, error)
}

// PromotionSource returns promotions valid at now.
type PromotionSource interface {
	ActivePromotions(ctx context.Context, now time.Time) ([]Promotion, error)
}

// ProfileSource returns profile metadata. ok is false for unknown users.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (profile Profile, ok bool, err error)
}

// Sources groups the optional context providers. Any may be nil.
type Sources struct {
	Knowledge   KnowledgeSource
	History     HistorySource
	Corrections CorrectionSource
	Promotions  PromotionSource
	Profiles    ProfileSource
}

// AssemblerOptions tune an Assembler.
type AssemblerOptions struct {
	BotName        string
	HistoryLimit   int
	MaxCorrections int
	Clock          clockwork.Clock
}

// Assembler builds completion prompts.
type Assembler struct {
	logger  *slog.Logger
	sources Sources
	opts    AssemblerOptions
}

func NewAssembler(log *slog.Logger, sources Sources, opts AssemblerOptions) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.MaxCorrections < 0 {
		opts.MaxCorrections = 0
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Assembler{
		logger:  log.With(slog.String("component", "conversation")),
		sources: sources,
		opts:    opts,
	}
}

// Assemble gathers every context block for req. A failing block is replaced
// with a placeholder and reported in Prompt.Degraded.
func (a *Assembler) Assemble(ctx context.Context, req Request) Prompt {
	logger := a.logger.With(slog.String("user_id", req.UserID))
	now := a.opts.Clock.Now()
	var degraded []string
	fail := func(block string, err error) {
		degraded = append(degraded, block)
		logger.Warn("context block unavailable", slog.String("block", block), slog.Any("error", err))
	}

	params := PromptParams{
		BotName: a.opts.BotName,
		Date:    now,
	}

	if a.sources.Knowledge != nil {
		kb, err := a.sources.Knowledge.Knowledge(ctx)
		if err != nil {
			fail(BlockKnowledge, err)
		} else {
			params.Knowledge = kb
		}
	}

	if a.sources.Corrections != nil && a.opts.MaxCorrections > 0 {
		all, err := a.sources.Corrections.Corrections(ctx)
		if err != nil {
			fail(BlockCorrections, err)
		} else {
			params.Corrections = SelectCorrections(all, req.Text, a.opts.MaxCorrections)
		}
	}

	if a.sources.Promotions != nil {
		promos, err := a.sources.Promotions.ActivePromotions(ctx, now)
		if err != nil {
			fail(BlockPromotions, err)
		} else {
			params.Promotions = promos
		}
	}

	if a.sources.Profiles != nil && req.UserID != "" {
		profile, ok, err := a.sources.Profiles.Profile(ctx, req.UserID)
		if err != nil {
			fail(BlockProfile, err)
		} else if ok {
			params.Profile = &profile
		}
	}

	messages := []ModelMessage{{Role: RoleSystem, Content: SystemPrompt(params)}}

	if a.sources.History != nil && req.UserID != "" {
		turns, err := a.sources.History.RecentTurns(ctx, req.UserID, a.opts.HistoryLimit)
		if err != nil {
			fail(BlockHistory, err)
		} else {
			messages = append(messages, historyMessages(turns, a.opts.HistoryLimit)...)
		}
	}

	messages = append(messages, ModelMessage{Role: RoleUser, Content: strings.TrimSpace(req.Text)})
	return Prompt{Messages: messages, Degraded: degraded}
}

// historyMessages keeps the newest limit turns in chronological order.
func historyMessages(turns []Turn, limit int) []ModelMessage {
	sorted := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		if t.Role != RoleUser && t.Role != RoleAssistant {
			continue
		}
		sorted = append(sorted, t)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	out := make([]ModelMessage, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, ModelMessage{Role: t.Role, Content: t.Content})
	}
	return out
}

// SelectCorrections picks up to max corrections sharing the most keywords
// with question. Corrections with no overlap are never selected.
func SelectCorrections(all []Correction, question string, max int) []Correction {
	if max <= 0 || len(all) == 0 {
		return nil
	}
	qk := Keywords(question)
	if len(qk) == 0 {
		return nil
	}
	type scored struct {
		c     Correction
		score int
		index int
	}
	var candidates []scored
	for i, c := range all {
		score := overlap(qk, Keywords(c.Question))
		if score == 0 {
			continue
		}
		answer := SanitizeCorrection(c.Answer)
		if answer == "" {
			continue
		}
		candidates = append(candidates, scored{
			c:     Correction{Question: SanitizeCorrection(c.Question), Answer: answer},
			score: score,
			index: i,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].index < candidates[j].index
	})
	if len(candidates) > max {
		candidates = candidates[:max]
	}
	out := make([]Correction, len(candidates))
	for i, s := range candidates {
		out[i] = s.c
	}
	return out
}
