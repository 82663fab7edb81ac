package cached

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/careslot/scheduling-api/internal/model"
	"github.com/careslot/scheduling-api/internal/repository"
)

// UserRepository is a read-through cache over a UserRepository. Profile
// fields looked up on every booking (approval status, consultation fee)
// change rarely, so short-lived caching keeps the hot path off the
// database.
type UserRepository struct {
	inner repository.UserRepository
	cache *cache.Cache
}

func NewUserRepository(inner repository.UserRepository, ttl, cleanupInterval time.Duration) *UserRepository {
	return &UserRepository{
		inner: inner,
		cache: cache.New(ttl, cleanupInterval),
	}
}

func (r *UserRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if cached, found := r.cache.Get(id.String()); found {
		return cached.(*model.User), nil
	}

	user, err := r.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache.Set(id.String(), user, cache.DefaultExpiration)
	return user, nil
}
