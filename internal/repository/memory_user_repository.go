package repository

import (
	"context"
	"sync"

	"github.com/spec-kit/ticket-tracker/internal/domain"
)

type memoryUserRepository struct {
	mu      sync.RWMutex
	users   []domain.User
	byID    map[string]int
	byEmail map[string]int
}

// NewMemoryUserRepository returns an in-process user store.
func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{
		byID:    make(map[string]int),
		byEmail: make(map[string]int),
	}
}

func (r *memoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}
	r.users = append(r.users, *user)
	idx := len(r.users) - 1
	r.byID[user.ID] = idx
	r.byEmail[user.Email] = idx
	return nil
}

func (r *memoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	user := r.users[idx]
	return &user, nil
}

func (r *memoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	user := r.users[idx]
	return &user, nil
}

func (r *memoryUserRepository) List(_ context.Context) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.User(nil), r.users...), nil
}
