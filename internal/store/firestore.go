package store

import (
	"context"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ghostchat/internal/domain"
)

const (
	chatsCollection    = "chats"
	chatIDsCollection  = "chatIDs"
	messagesCollection = "messages"
)

// messageDoc is the persisted shape of a message. The document id doubles as
// the message id.
type messageDoc struct {
	Text         string `firestore:"text,omitempty"`
	ImageEncoded string `firestore:"imageEncoded,omitempty"`
	AudioEncoded string `firestore:"audioEncoded,omitempty"`
	Timestamp    int64  `firestore:"timestamp"`
	SenderID     string `firestore:"senderId"`
}

// Firestore implements domain.Store on Cloud Firestore. The query snapshot
// listener already delivers the full visible set on every change and handles
// reconnection internally, which is exactly the contract the sync engine
// assumes.
type Firestore struct {
	client *firestore.Client
	logger *slog.Logger
}

// FirestoreConfig selects the project and credentials.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string // empty uses application default credentials
	Logger          *slog.Logger
}

func NewFirestore(ctx context.Context, cfg FirestoreConfig) (*Firestore, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app init: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Firestore{client: client, logger: cfg.Logger}, nil
}

func (f *Firestore) messages(chatID string) *firestore.CollectionRef {
	return f.client.Collection(chatsCollection).Doc(chatID).Collection(messagesCollection)
}

func (f *Firestore) Append(ctx context.Context, chatID string, msg domain.Message) (string, error) {
	ref, _, err := f.messages(chatID).Add(ctx, messageDoc{
		Text:         msg.Text,
		ImageEncoded: msg.ImageEncoded,
		AudioEncoded: msg.AudioEncoded,
		Timestamp:    msg.Timestamp,
		SenderID:     msg.SenderID,
	})
	if err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	return ref.ID, nil
}

// Subscribe attaches a snapshot listener to the messages subcollection. Each
// delivery reads the entire visible set; a message whose fields fail to
// decode is skipped with a warning rather than poisoning the snapshot.
func (f *Firestore) Subscribe(ctx context.Context, chatID string) (<-chan domain.Snapshot, error) {
	iter := f.messages(chatID).Query.Snapshots(ctx)
	out := make(chan domain.Snapshot, 4)

	go func() {
		defer close(out)
		defer iter.Stop()
		for {
			qs, err := iter.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				f.logger.Error("firestore listener failed", "chat", chatID, "err", err)
				select {
				case out <- domain.Snapshot{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			docs, err := qs.Documents.GetAll()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case out <- domain.Snapshot{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			msgs := make([]domain.Message, 0, len(docs))
			for _, doc := range docs {
				var d messageDoc
				if err := doc.DataTo(&d); err != nil {
					f.logger.Warn("skipping undecodable message", "chat", chatID, "doc", doc.Ref.ID, "err", err)
					continue
				}
				msgs = append(msgs, domain.Message{
					ID:           doc.Ref.ID,
					Text:         d.Text,
					ImageEncoded: d.ImageEncoded,
					AudioEncoded: d.AudioEncoded,
					Timestamp:    d.Timestamp,
					SenderID:     d.SenderID,
				})
			}
			select {
			case out <- domain.Snapshot{Messages: msgs}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *Firestore) Exists(ctx context.Context, chatID string) (bool, error) {
	_, err := f.client.Collection(chatIDsCollection).Doc(chatID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check chat id: %w", err)
	}
	return true, nil
}

func (f *Firestore) CreateChat(ctx context.Context, chatID string) error {
	_, err := f.client.Collection(chatIDsCollection).Doc(chatID).Set(ctx, map[string]interface{}{
		"createdAt": firestore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("register chat id: %w", err)
	}
	return nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}
