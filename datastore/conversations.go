package datastore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

const (
	DefaultConversationTitle = "New Conversation"
	DefaultConversationLimit = 20
)

// HistoryEntry is a stored message as exposed to tools and handlers.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	AgentType string    `json:"agentType,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h HistoryEntry) Turn() contractx.HistoryTurn {
	return contractx.HistoryTurn{
		Role:        h.Role,
		Content:     h.Content,
		HandlerType: h.AgentType,
		CreatedAt:   h.CreatedAt,
	}
}

// NewMessage is the input to AddMessage.
type NewMessage struct {
	ConversationID string
	Role           string
	Content        string
	AgentType      string
	Reasoning      string
	Metadata       map[string]any
}

func (s *Store) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = DefaultConversationTitle
	}
	now := s.now()
	conv := &Conversation{
		ID:        newID(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.NewInsert().Model(conv).Exec(ctx); err != nil {
		return nil, fmt.Errorf("datastore: create conversation: %w", err)
	}
	return conv, nil
}

// Conversation returns the conversation with its messages in chronological order.
func (s *Store) Conversation(ctx context.Context, conversationID string) (*Conversation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	conv := new(Conversation)
	err := s.db.NewSelect().
		Model(conv).
		Relation("Messages", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("m.created_at ASC")
		}).
		Where("c.id = ?", conversationID).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "conversation %s", conversationID)
	}
	if conv.Messages == nil {
		conv.Messages = []*Message{}
	}
	return conv, nil
}

// UserConversations lists the user's conversations, most recently active
// first, each carrying only its latest message.
func (s *Store) UserConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = DefaultConversationLimit
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var convs []*Conversation
	err := s.db.NewSelect().
		Model(&convs).
		Where("c.user_id = ?", userID).
		Order("c.updated_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("datastore: list conversations for %s: %w", userID, err)
	}

	for _, conv := range convs {
		var latest []*Message
		err := s.db.NewSelect().
			Model(&latest).
			Where("m.conversation_id = ?", conv.ID).
			Order("m.created_at DESC").
			Limit(1).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("datastore: latest message for %s: %w", conv.ID, err)
		}
		conv.Messages = latest
		if conv.Messages == nil {
			conv.Messages = []*Message{}
		}
	}
	return convs, nil
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*Conversation)(nil)).Where("id = ?", conversationID).Exec(ctx)
		if err != nil {
			return fmt.Errorf("datastore: delete conversation %s: %w", conversationID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
		}
		if _, err := tx.NewDelete().Model((*Message)(nil)).Where("conversation_id = ?", conversationID).Exec(ctx); err != nil {
			return fmt.Errorf("datastore: delete messages of %s: %w", conversationID, err)
		}
		return nil
	})
}

// AddMessage appends a message and bumps the conversation's updated_at.
func (s *Store) AddMessage(ctx context.Context, in NewMessage) (*Message, error) {
	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	msg := &Message{
		ID:             newID(),
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Content:        in.Content,
		AgentType:      in.AgentType,
		Reasoning:      in.Reasoning,
		Metadata:       metadata,
		CreatedAt:      s.now(),
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(msg).Exec(ctx); err != nil {
			return fmt.Errorf("datastore: insert message: %w", err)
		}
		_, err := tx.NewUpdate().
			Model((*Conversation)(nil)).
			Set("updated_at = ?", msg.CreatedAt).
			Where("id = ?", in.ConversationID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("datastore: touch conversation %s: %w", in.ConversationID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// History returns up to limit of the most recent messages, oldest first.
func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var msgs []Message
	err := s.db.NewSelect().
		Model(&msgs).
		Where("m.conversation_id = ?", conversationID).
		Order("m.created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("datastore: history for %s: %w", conversationID, err)
	}

	out := make([]HistoryEntry, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = HistoryEntry{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			AgentType: m.AgentType,
			Reasoning: m.Reasoning,
			CreatedAt: m.CreatedAt,
		}
	}
	return out, nil
}

func newID() string {
	return uuid.NewString()
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
