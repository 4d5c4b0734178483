package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mbellot/loup-garou/internal/model"
	"github.com/mbellot/loup-garou/internal/repository"
)

// Notifier receives engine-generated chat lines. Delivery is best effort:
// a lost notice never blocks or fails a game transition.
type Notifier interface {
	// Notify posts a public system line into the match chat.
	Notify(ctx context.Context, matchID, text string)
	// NotifyPlayer posts a line visible only to one player (role reveals).
	NotifyPlayer(ctx context.Context, matchID, playerID, text string)
}

// NoopNotifier discards all notices.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string, string)              {}
func (NoopNotifier) NotifyPlayer(context.Context, string, string, string) {}

// ChatNotifier writes system notices into the match chat feed and pushes
// them over the WebSocket hub. Errors are logged and swallowed.
type ChatNotifier struct {
	messages    repository.MessageRepository
	broadcaster Broadcaster
}

// NewChatNotifier creates a ChatNotifier.
func NewChatNotifier(messages repository.MessageRepository, broadcaster Broadcaster) *ChatNotifier {
	if broadcaster == nil {
		broadcaster = NoopBroadcaster{}
	}
	return &ChatNotifier{messages: messages, broadcaster: broadcaster}
}

// Notify posts a public system line.
func (n *ChatNotifier) Notify(ctx context.Context, matchID, text string) {
	msg, err := n.messages.Create(ctx, matchID, model.SystemSenderID, "", text)
	if err != nil {
		log.Warn().Err(err).Str("matchId", matchID).Msg("Failed to store system notice")
		return
	}
	n.broadcaster.BroadcastMatchEvent(matchID, "message", msg)
}

// NotifyPlayer posts a private system line to one player.
func (n *ChatNotifier) NotifyPlayer(ctx context.Context, matchID, playerID, text string) {
	if _, err := n.messages.Create(ctx, matchID, model.SystemSenderID, playerID, text); err != nil {
		log.Warn().Err(err).Str("matchId", matchID).Str("playerId", playerID).Msg("Failed to store private notice")
	}
}
