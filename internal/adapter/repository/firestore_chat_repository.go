package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"builderhub/internal/domain/entity"
	"builderhub/internal/domain/repository"
	"builderhub/pkg/errors"
	"builderhub/pkg/logger"
)

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

func (r *firestoreChatRepository) sessions() *firestore.CollectionRef {
	return r.client.Collection("chatSessions")
}

func (r *firestoreChatRepository) messages(sessionID string) *firestore.CollectionRef {
	return r.sessions().Doc(sessionID).Collection("messages")
}

func (r *firestoreChatRepository) CreateSession(ctx context.Context, session *entity.ChatSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	_, err := r.sessions().Doc(session.ID).Set(ctx, session)
	if err != nil {
		return errors.Transport("Failed to create chat session", err)
	}

	return nil
}

func (r *firestoreChatRepository) GetSessionByID(ctx context.Context, id string) (*entity.ChatSession, error) {
	doc, err := r.sessions().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Chat session", err)
		}
		return nil, errors.Transport("Failed to get chat session", err)
	}

	var session entity.ChatSession
	if err := doc.DataTo(&session); err != nil {
		return nil, errors.Internal("Failed to parse chat session data", err)
	}
	session.ID = doc.Ref.ID

	return &session, nil
}

func (r *firestoreChatRepository) FindSessionsByContext(ctx context.Context, contextID, userID string) ([]*entity.ChatSession, error) {
	query := r.sessions().
		Where("contextId", "==", contextID).
		Where("participants", "array-contains", userID)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while querying sessions for context %s: %v", contextID, err)
		return nil, errors.Transport("Failed to query chat sessions", err)
	}

	var sessions []*entity.ChatSession
	for _, doc := range docs {
		var session entity.ChatSession
		if err := doc.DataTo(&session); err != nil {
			logger.Warn("Skipping malformed session document %s: %v", doc.Ref.ID, err)
			continue
		}
		session.ID = doc.Ref.ID
		sessions = append(sessions, &session)
	}

	// Earliest-created first, so duplicate-creation races converge on the
	// record both participants will keep writing to.
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	return sessions, nil
}

func (r *firestoreChatRepository) UpdateSessionSummary(ctx context.Context, sessionID string, summary *entity.MessageSummary) error {
	_, err := r.sessions().Doc(sessionID).Update(ctx, []firestore.Update{
		{Path: "lastMessage", Value: summary},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return errors.Transport("Failed to update session summary", err)
	}
	return nil
}

func (r *firestoreChatRepository) SetTyping(ctx context.Context, sessionID, userID string, at *time.Time) error {
	// Whole-field overwrite keyed by the writer's own id; no merge needed.
	var value interface{} = firestore.Delete
	if at != nil {
		value = *at
	}

	_, err := r.sessions().Doc(sessionID).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"typing", userID}, Value: value},
	})
	if err != nil {
		return errors.Transport("Failed to update typing flag", err)
	}
	return nil
}

func (r *firestoreChatRepository) CreateMessage(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	_, err := r.messages(message.SessionID).Doc(message.ID).Set(ctx, message)
	if err != nil {
		return errors.Transport("Failed to create message", err)
	}

	return nil
}

func (r *firestoreChatRepository) LatestMessages(ctx context.Context, sessionID string, limit int) ([]*entity.Message, error) {
	query := r.messages(sessionID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy("id", firestore.Desc).
		Limit(limit)

	return r.collectMessages(ctx, sessionID, query.Documents(ctx))
}

func (r *firestoreChatRepository) MessagesBefore(ctx context.Context, sessionID string, cursor repository.MessageCursor, limit int) ([]*entity.Message, error) {
	query := r.messages(sessionID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy("id", firestore.Desc).
		StartAfter(cursor.Timestamp, cursor.MessageID).
		Limit(limit)

	return r.collectMessages(ctx, sessionID, query.Documents(ctx))
}

func (r *firestoreChatRepository) collectMessages(ctx context.Context, sessionID string, iter *firestore.DocumentIterator) ([]*entity.Message, error) {
	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for session %s: %v", sessionID, err)
			return nil, errors.Transport("Failed to iterate messages", err)
		}

		message, err := decodeMessage(doc)
		if err != nil {
			logger.Warn("Skipping malformed message %s in session %s: %v", doc.Ref.ID, sessionID, err)
			continue
		}
		messages = append(messages, message)
	}

	return messages, nil
}

// decodeMessage validates the loosely-typed document into the closed kind set
// at the ingestion boundary.
func decodeMessage(doc *firestore.DocumentSnapshot) (*entity.Message, error) {
	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, err
	}
	message.ID = doc.Ref.ID

	kind, err := entity.ParseMessageKind(string(message.Kind))
	if err != nil {
		return nil, err
	}
	message.Kind = kind

	return &message, nil
}

func (r *firestoreChatRepository) MarkMessageRead(ctx context.Context, sessionID, messageID string) error {
	_, err := r.messages(sessionID).Doc(messageID).Update(ctx, []firestore.Update{
		{Path: "read", Value: true},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Message gone from this session - nothing to flip.
			logger.Warn("MarkMessageRead: message %s not found in session %s", messageID, sessionID)
			return nil
		}
		return errors.Transport("Failed to mark message read", err)
	}
	return nil
}

type snapshotSubscription struct {
	cancel context.CancelFunc
}

func (s *snapshotSubscription) Unsubscribe() {
	s.cancel()
}

func (r *firestoreChatRepository) SubscribeMessages(ctx context.Context, sessionID string, window int, onChange repository.MessagesHandler, onError repository.ErrorHandler) (repository.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	query := r.messages(sessionID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy("id", firestore.Desc).
		Limit(window)

	snapshots := query.Snapshots(ctx)

	go func() {
		defer snapshots.Stop()
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if status.Code(err) == codes.Canceled {
					return
				}
				onError(errors.Transport("Message subscription failed", err))
				return
			}

			messages, err := r.collectMessages(ctx, sessionID, snap.Documents)
			if err != nil {
				onError(err)
				return
			}
			onChange(messages)
		}
	}()

	return &snapshotSubscription{cancel: cancel}, nil
}

func (r *firestoreChatRepository) SubscribeSession(ctx context.Context, sessionID string, onChange repository.SessionHandler, onError repository.ErrorHandler) (repository.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)

	snapshots := r.sessions().Doc(sessionID).Snapshots(ctx)

	go func() {
		defer snapshots.Stop()
		for {
			snap, err := snapshots.Next()
			if err != nil {
				if status.Code(err) == codes.Canceled {
					return
				}
				onError(errors.Transport("Session subscription failed", err))
				return
			}
			if !snap.Exists() {
				continue
			}

			var session entity.ChatSession
			if err := snap.DataTo(&session); err != nil {
				logger.Warn("Skipping malformed session snapshot %s: %v", sessionID, err)
				continue
			}
			session.ID = snap.Ref.ID
			onChange(&session)
		}
	}()

	return &snapshotSubscription{cancel: cancel}, nil
}
