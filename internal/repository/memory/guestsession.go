package memory

import (
	"context"
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/keylock"
	"github.com/utafrali/storefront/internal/repository"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// GuestSessionRepository implements repository.GuestSessionRepository in
// memory. Expired sessions are treated as absent; they are removed when next
// touched or by Sweep.
type GuestSessionRepository struct {
	locks    *keylock.Locker
	sessions sync.Map // token -> *domain.GuestSession
	now      func() time.Time
}

// NewGuestSessionRepository creates an empty repository. A nil clock uses
// time.Now.
func NewGuestSessionRepository(clock func() time.Time) *GuestSessionRepository {
	if clock == nil {
		clock = time.Now
	}
	return &GuestSessionRepository{locks: keylock.New(), now: clock}
}

// load returns the live session for token. Callers hold the token's lock.
func (r *GuestSessionRepository) load(token string) (*domain.GuestSession, bool) {
	v, ok := r.sessions.Load(token)
	if !ok {
		return nil, false
	}
	s := v.(*domain.GuestSession)
	if s.Expired(r.now()) {
		r.sessions.Delete(token)
		return nil, false
	}
	return s, true
}

// Create stores s.
func (r *GuestSessionRepository) Create(_ context.Context, s *domain.GuestSession) error {
	unlock := r.locks.Lock(s.Token)
	defer unlock()

	if _, ok := r.load(s.Token); ok {
		return apperrors.AlreadyExists("guest session", "token", "<redacted>")
	}
	r.sessions.Store(s.Token, s.Clone())
	return nil
}

// Get returns a copy of the live session.
func (r *GuestSessionRepository) Get(_ context.Context, token string) (*domain.GuestSession, error) {
	unlock := r.locks.Lock(token)
	defer unlock()

	s, ok := r.load(token)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s.Clone(), nil
}

// Update runs fn under the token's lock.
func (r *GuestSessionRepository) Update(ctx context.Context, token string, fn repository.GuestSessionMutator) (*domain.GuestSession, error) {
	unlock := r.locks.Lock(token)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := r.load(token)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	next := s.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	r.sessions.Store(token, next)
	return next.Clone(), nil
}

// Claim removes and returns the session.
func (r *GuestSessionRepository) Claim(_ context.Context, token string) (*domain.GuestSession, error) {
	unlock := r.locks.Lock(token)
	defer unlock()

	s, ok := r.load(token)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	r.sessions.Delete(token)
	return s, nil
}

// Restore puts s back unless the token was reused or s has expired.
func (r *GuestSessionRepository) Restore(_ context.Context, s *domain.GuestSession) error {
	unlock := r.locks.Lock(s.Token)
	defer unlock()

	if s.Expired(r.now()) {
		return nil
	}
	if _, ok := r.load(s.Token); ok {
		return nil
	}
	r.sessions.Store(s.Token, s.Clone())
	return nil
}

// Sweep removes sessions whose idle TTL has elapsed.
func (r *GuestSessionRepository) Sweep() int {
	removed := 0
	r.sessions.Range(func(key, _ any) bool {
		token := key.(string)
		unlock := r.locks.Lock(token)
		if _, ok := r.sessions.Load(token); ok {
			if _, live := r.load(token); !live {
				removed++
			}
		}
		unlock()
		return true
	})
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *GuestSessionRepository) Run(ctx context.Context, interval time.Duration) {
	runSweeper(ctx, interval, func() { r.Sweep() })
}

// Len returns the number of stored sessions, expired or not.
func (r *GuestSessionRepository) Len() int {
	return mapLen(&r.sessions)
}
