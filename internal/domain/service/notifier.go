package service

import "context"

// Notification is the payload handed to the dispatcher after a successful
// send when the recipient is not the sender.
type Notification struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	SenderID  string `json:"sender_id"`
	Preview   string `json:"preview"`
}

// Notifier fans a notification out to the recipient. Delivery is best-effort;
// failures never fail the send that triggered them.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, n Notification)
}
