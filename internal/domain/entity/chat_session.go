package entity

import "time"

const (
	// BotUserID is the reserved participant id for the assistant.
	BotUserID = "builderhub-bot"
	// BotContextID is the reserved context marker for assistant chats.
	BotContextID = "assistant"
)

// BotSessionID derives the deterministic session id for a user's assistant
// chat. Keyed by the user alone, so creation has no concurrent-creator race.
func BotSessionID(userID string) string {
	return "bot_" + userID
}

// MessageSummary is the denormalized last-message preview stored on a session.
type MessageSummary struct {
	Text     string      `json:"text" firestore:"text"`
	Kind     MessageKind `json:"kind" firestore:"kind"`
	SenderID string      `json:"sender_id" firestore:"senderId"`
	Time     time.Time   `json:"time" firestore:"time"`
}

// ChatSession is the durable conversation record between two participants,
// scoped to a context (a listing id, or the reserved assistant marker).
// At most one session should exist per (contextId, unordered pair); creation
// is insert-only, so concurrent openers can still race a duplicate into
// existence. Readers converge by preferring the earliest-created record.
type ChatSession struct {
	ID           string               `json:"id" firestore:"id"`
	ContextID    string               `json:"context_id" firestore:"contextId"`
	Participants []string             `json:"participants" firestore:"participants"`
	LastMessage  *MessageSummary      `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	Typing       map[string]time.Time `json:"typing,omitempty" firestore:"typing,omitempty"`
	CreatedAt    time.Time            `json:"created_at" firestore:"createdAt"`
	UpdatedAt    time.Time            `json:"updated_at" firestore:"updatedAt"`
}

func (s *ChatSession) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// PeerOf returns the other participant's id, or "" when userID is not a
// participant.
func (s *ChatSession) PeerOf(userID string) string {
	for _, p := range s.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

// IsBot reports whether this is the reserved assistant session.
func (s *ChatSession) IsBot() bool {
	return s.ContextID == BotContextID || s.HasParticipant(BotUserID)
}

// PeerTyping reports whether the peer's typing flag is currently set. The
// flag is peer-owned and overwritten wholesale on each toggle; expiry is
// driven by the writer's client timer, so a crashed client can leave it
// stale until overwritten.
func (s *ChatSession) PeerTyping(peerID string) bool {
	if s.Typing == nil {
		return false
	}
	_, ok := s.Typing[peerID]
	return ok
}
