package identity

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/google/uuid"

	"github.com/amarcin/village-units/internal/domain"
)

// CookieName holds the session id.
const CookieName = "village_session"

type Session struct {
	ID          string           `json:"id"`
	Email       string           `json:"email,omitempty"`
	Groups      []string         `json:"groups"`
	User        map[string]any   `json:"user,omitempty"`
	Credentials *aws.Credentials `json:"credentials,omitempty"`
	Expires     time.Time        `json:"expires"`
}

func (s Session) Valid(now time.Time) bool {
	return s.ID != "" && now.Before(s.Expires)
}

// CredentialsProvider returns the session's storage credentials, or nil.
func (s Session) CredentialsProvider() aws.CredentialsProvider {
	if s.Credentials == nil {
		return nil
	}
	c := s.Credentials
	return credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
}

// Sessions keeps sessions in a cache until they expire.
type Sessions struct {
	cache domain.Cache
	now   func() time.Time
}

func NewSessions(cache domain.Cache) *Sessions {
	return &Sessions{cache: cache, now: time.Now}
}

func key(id string) string { return "session:" + id }

// Save assigns a fresh id and stores s until its expiry.
func (m *Sessions) Save(ctx context.Context, s Session) (Session, error) {
	s.ID = uuid.NewString()
	ttl := s.Expires.Sub(m.now())
	if ttl <= 0 {
		return Session{}, ErrUnauthenticated
	}
	if err := m.cache.Set(ctx, key(s.ID), s, ttl); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Get returns a live session or ErrUnauthenticated.
func (m *Sessions) Get(ctx context.Context, id string) (Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Session{}, ErrUnauthenticated
	}
	var s Session
	ok, err := m.cache.Get(ctx, key(id), &s)
	if err != nil {
		return Session{}, err
	}
	if !ok || !s.Valid(m.now()) {
		return Session{}, ErrUnauthenticated
	}
	return s, nil
}

func (m *Sessions) Delete(ctx context.Context, id string) error {
	return m.cache.Del(ctx, key(id))
}

type ctxKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
