package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/memohai/supportbot/internal/chat"
	"github.com/memohai/supportbot/internal/conversation"
)

// completion is the outcome of one completion call. Fallback is set when
// Text is the canned fallback message.
type completion struct {
	Text     string
	Fallback bool
	Err      error
	Degraded []string
}

func (b *Bot) complete(ctx context.Context, req conversation.Request) completion {
	prompt := b.deps.Assembler.Assemble(ctx, req)
	messages := make([]chat.Message, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		messages = append(messages, chat.Message{Role: m.Role, Content: m.Content})
	}
	text, err := b.deps.Completer.Generate(ctx, chat.Request{Messages: messages})
	if err == nil && strings.TrimSpace(text) == "" {
		err = chat.ErrEmptyCompletion
	}
	if err != nil {
		b.logger.Error("completion failed",
			slog.String("user_id", req.UserID),
			slog.Any("degraded", prompt.Degraded),
			slog.Any("error", err),
		)
		return completion{Text: b.opts.FallbackMessage, Fallback: true, Err: err, Degraded: prompt.Degraded}
	}
	return completion{Text: strings.TrimSpace(text), Degraded: prompt.Degraded}
}
