package usecase

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"builderhub/internal/domain/entity"
	"builderhub/internal/domain/repository"
	"builderhub/pkg/errors"
	"builderhub/pkg/logger"
)

const (
	// BotMinDelay and BotMaxDelay bound the simulated thinking latency.
	BotMinDelay = 500 * time.Millisecond
	BotMaxDelay = 1500 * time.Millisecond
)

type botRule struct {
	keywords []string
	reply    string
}

// Rule order matters: the first matching rule wins, so replies are
// deterministic for a given input.
var botRules = []botRule{
	{[]string{"hello", "hi", "hey"}, "Hello! How can I help you today?"},
	{[]string{"price", "cost", "how much"}, "Prices are set by each seller. Open the listing to see its current price and any offers."},
	{[]string{"order", "bill", "payment"}, "You can track your orders and bills from the Orders tab. Is there a specific order you need help with?"},
	{[]string{"worker", "hire", "service"}, "You can browse available workers by trade from the Workers screen and message them directly."},
	{[]string{"sell", "listing", "post"}, "To sell something, tap the plus button on the home screen and fill in your listing details."},
	{[]string{"thank", "thanks"}, "You're welcome! Let me know if there's anything else."},
	{[]string{"bye", "goodbye"}, "Goodbye! Happy building."},
}

const botFallback = "I'm not sure about that yet. Try asking about listings, orders, or workers."

// BotResponder produces canned replies in the reserved assistant session.
type BotResponder struct {
	chatRepo repository.ChatRepository
	minDelay time.Duration
	maxDelay time.Duration
}

func NewBotResponder(chatRepo repository.ChatRepository) *BotResponder {
	return &BotResponder{
		chatRepo: chatRepo,
		minDelay: BotMinDelay,
		maxDelay: BotMaxDelay,
	}
}

// WithDelay overrides the simulated latency bounds.
func (b *BotResponder) WithDelay(min, max time.Duration) *BotResponder {
	if min > 0 && max >= min {
		b.minDelay = min
		b.maxDelay = max
	}
	return b
}

// Respond consumes a sent user message and asynchronously produces the reply.
// The bot's typing flag is held for the duration of the simulated latency.
func (b *BotResponder) Respond(ctx context.Context, session *entity.ChatSession, userText string) (*entity.Message, error) {
	if !session.IsBot() {
		return nil, errors.BadRequest("Not an assistant session", nil)
	}

	now := time.Now()
	if err := b.chatRepo.SetTyping(ctx, session.ID, entity.BotUserID, &now); err != nil {
		logger.Warn("BotResponder: failed to set typing flag: %v", err)
	}
	defer func() {
		clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.chatRepo.SetTyping(clearCtx, session.ID, entity.BotUserID, nil); err != nil {
			logger.Warn("BotResponder: failed to clear typing flag: %v", err)
		}
	}()

	delay := b.minDelay
	if spread := b.maxDelay - b.minDelay; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	reply := lookupReply(userText)
	message := &entity.Message{
		SessionID: session.ID,
		SenderID:  entity.BotUserID,
		Kind:      entity.KindText,
		Text:      reply,
	}
	if err := b.chatRepo.CreateMessage(ctx, message); err != nil {
		return nil, err
	}

	summary := &entity.MessageSummary{
		Text:     reply,
		Kind:     entity.KindText,
		SenderID: entity.BotUserID,
		Time:     message.CreatedAt,
	}
	if err := b.chatRepo.UpdateSessionSummary(ctx, session.ID, summary); err != nil {
		logger.Warn("BotResponder: failed to update session summary: %v", err)
	}

	return message, nil
}

func lookupReply(userText string) string {
	text := strings.ToLower(userText)
	for _, rule := range botRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(text, keyword) {
				return rule.reply
			}
		}
	}
	return botFallback
}
