package discord

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
)

// typingRefresh is shorter than the ~10s Discord shows an indicator for.
const typingRefresh = 8 * time.Second

type processingStatusSession interface {
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// StartTyping shows the typing indicator in channelID and refreshes it until
// the returned stop function is called or ctx ends. Failures are logged
// only.
func StartTyping(ctx context.Context, log *slog.Logger, session processingStatusSession, clock clockwork.Clock, channelID string) (stop func()) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" || session == nil {
		return func() {}
	}
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	typing := func() {
		if err := session.ChannelTyping(channelID, discordgo.WithContext(ctx)); err != nil {
			log.Debug("typing indicator failed", slog.String("channel_id", channelID), slog.Any("error", err))
		}
	}
	typing()

	ctx, cancel := context.WithCancel(ctx)
	ticker := clock.NewTicker(typingRefresh)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				typing()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
