package datastore

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/relay-support-router/agent/contract"
)

const defaultUserName = "User"

func (s *Store) UserByID(ctx context.Context, userID string) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	user := new(User)
	if err := s.db.NewSelect().Model(user).Where("u.id = ?", userID).Scan(ctx); err != nil {
		return nil, notFound(err, "user %s", userID)
	}
	return user, nil
}

// EnsureUser returns the user with userID, creating a free-tier record with
// fallback email and name when it does not exist yet.
func (s *Store) EnsureUser(ctx context.Context, userID, email, name string) (*User, error) {
	if user, err := s.UserByID(ctx, userID); err == nil {
		return user, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	if strings.TrimSpace(email) == "" {
		email = fmt.Sprintf("user-%s@example.com", userID)
	}
	if strings.TrimSpace(name) == "" {
		name = defaultUserName
	}

	now := s.now()
	user := &User{
		ID:        userID,
		Email:     email,
		Name:      name,
		Tier:      contractx.DefaultUserTier,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.NewInsert().Model(user).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return nil, fmt.Errorf("datastore: ensure user %s: %w", userID, err)
	}
	return user, nil
}

// UpsertUser creates the user or refreshes its email and, when given, name.
func (s *Store) UpsertUser(ctx context.Context, userID, email, name string) (*User, error) {
	now := s.now()
	user := &User{
		ID:        userID,
		Email:     email,
		Name:      name,
		Tier:      contractx.DefaultUserTier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if strings.TrimSpace(user.Name) == "" {
		user.Name = defaultUserName
	}

	q := s.db.NewInsert().
		Model(user).
		On("CONFLICT (id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("updated_at = EXCLUDED.updated_at")
	if strings.TrimSpace(name) != "" {
		q = q.Set("name = EXCLUDED.name")
	}

	qctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := q.Exec(qctx); err != nil {
		return nil, fmt.Errorf("datastore: upsert user %s: %w", userID, err)
	}
	return s.UserByID(ctx, userID)
}

// LookupUserTier satisfies contract.TierResolver.
func (s *Store) LookupUserTier(ctx context.Context, userID string) (string, error) {
	user, err := s.UserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(user.Tier) == "" {
		return contractx.DefaultUserTier, nil
	}
	return user.Tier, nil
}
