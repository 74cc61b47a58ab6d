// Package biometric enrolls speakers and verifies them against stored voice models.
package biometric

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/utils"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/gmm"
)

const DefaultCacheSize = 256

// Backend persists encoded speaker models. storage.DBClient implements it.
type Backend interface {
	EnrollUser(ctx context.Context, username, accessLevel string, blob []byte) (*models.User, error)
	RegisterUser(ctx context.Context, username, accessLevel string, blob []byte) (*models.User, error)
	SaveSpeakerModel(ctx context.Context, username string, blob []byte) error
	LoadSpeakerModel(ctx context.Context, username string) ([]byte, error)
	DeleteSpeakerModel(ctx context.Context, username string) error
}

// ModelStore keeps one speaker model per normalized username. Decoded models are
// cached; the cache is only written after the backend has committed.
type ModelStore struct {
	backend Backend
	cache   *lru.Cache[string, *gmm.Model]
}

func NewModelStore(backend Backend, cacheSize int) (*ModelStore, error) {
	if backend == nil {
		return nil, errors.New("model store needs a backend")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *gmm.Model](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating model cache: %w", err)
	}
	return &ModelStore{backend: backend, cache: cache}, nil
}

func (s *ModelStore) Save(ctx context.Context, username string, m *gmm.Model) error {
	key := utils.NormalizeKey(username)
	blob, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	if err := s.backend.SaveSpeakerModel(ctx, key, blob); err != nil {
		return err
	}
	s.cache.Add(key, m)
	return nil
}

// Enroll stores the account and its model together, replacing the model of an
// existing account.
func (s *ModelStore) Enroll(ctx context.Context, username, accessLevel string, m *gmm.Model) (*models.User, error) {
	return s.commit(ctx, username, accessLevel, m, s.backend.EnrollUser)
}

// Register is Enroll for new accounts only; an existing username yields
// ErrDuplicateUser and its model is kept.
func (s *ModelStore) Register(ctx context.Context, username, accessLevel string, m *gmm.Model) (*models.User, error) {
	return s.commit(ctx, username, accessLevel, m, s.backend.RegisterUser)
}

type userWriter func(ctx context.Context, username, accessLevel string, blob []byte) (*models.User, error)

func (s *ModelStore) commit(ctx context.Context, username, accessLevel string, m *gmm.Model, write userWriter) (*models.User, error) {
	key := utils.NormalizeKey(username)
	blob, err := m.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding model: %w", err)
	}
	user, err := write(ctx, key, accessLevel, blob)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, m)
	return user, nil
}

// Load returns the model for username or ErrNotEnrolled.
func (s *ModelStore) Load(ctx context.Context, username string) (*gmm.Model, error) {
	key := utils.NormalizeKey(username)
	if m, ok := s.cache.Get(key); ok {
		return m, nil
	}

	blob, err := s.backend.LoadSpeakerModel(ctx, key)
	if err != nil {
		return nil, err
	}
	var m gmm.Model
	if err := m.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("corrupt model for %s: %w", key, err)
	}
	s.cache.Add(key, &m)
	return &m, nil
}

func (s *ModelStore) Delete(ctx context.Context, username string) error {
	key := utils.NormalizeKey(username)
	if err := s.backend.DeleteSpeakerModel(ctx, key); err != nil {
		return err
	}
	s.cache.Remove(key)
	return nil
}
