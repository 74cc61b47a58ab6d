package biometric

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/utils"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/features"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/gmm"
)

const (
	DefaultSamples = 3
	// MinVectors is the smallest number of usable samples a model is fit from.
	MinVectors = 2
)

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type Enroller struct {
	extractor *features.Extractor
	store     *ModelStore
	fit       gmm.Config
	samples   int
	locks     *keyedMutex
	log       Logger
}

type EnrollerOption func(*Enroller)

// WithSamples sets how many clips Enroll requests.
func WithSamples(k int) EnrollerOption {
	return func(e *Enroller) {
		if k > 0 {
			e.samples = k
		}
	}
}

func WithFitConfig(cfg gmm.Config) EnrollerOption {
	return func(e *Enroller) { e.fit = cfg }
}

func WithEnrollLogger(l Logger) EnrollerOption {
	return func(e *Enroller) {
		if l != nil {
			e.log = l
		}
	}
}

func NewEnroller(extractor *features.Extractor, store *ModelStore, opts ...EnrollerOption) *Enroller {
	e := &Enroller{
		extractor: extractor,
		store:     store,
		fit:       gmm.DefaultConfig(),
		samples:   DefaultSamples,
		locks:     newKeyedMutex(),
		log:       logger.GetLogger().Named("enroll"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Enroller) Samples() int { return e.samples }

// Enroll requests the configured number of clips from provider, extracts them in
// parallel and commits the resulting model. Capture happens in step order.
func (e *Enroller) Enroll(ctx context.Context, username string, provider SampleProvider, accessLevel ...string) (*models.User, error) {
	unlock := e.locks.Lock(utils.NormalizeKey(username))
	defer unlock()

	vectors := make([]features.Vector, e.samples)
	failures := make([]error, e.samples)

	g, gctx := errgroup.WithContext(ctx)
	for step := 1; step <= e.samples; step++ {
		clip, err := provider.Sample(gctx, step)
		if ctxErr := gctx.Err(); ctxErr != nil {
			g.Wait()
			return nil, ctxErr
		}
		if err != nil {
			e.log.Warnf("enrollment sample %d for %s unavailable: %v", step, username, err)
			failures[step-1] = err
			continue
		}

		i := step - 1
		g.Go(func() error {
			vec, err := e.extractor.Extract(clip)
			if err != nil {
				failures[i] = err
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	good := make([]features.Vector, 0, len(vectors))
	for _, v := range vectors {
		if v != nil {
			good = append(good, v)
		}
	}
	e.log.Debugf("enrollment for %s: %d/%d usable samples", username, len(good), e.samples)

	if len(good) < MinVectors {
		if len(good) == 0 {
			return nil, fmt.Errorf("%w: %w", models.ErrInsufficientSamples, errors.Join(failures...))
		}
		return nil, fmt.Errorf("%w: %d of %d usable", models.ErrInsufficientSamples, len(good), e.samples)
	}
	return e.commit(ctx, username, good, level(accessLevel), e.store.Enroll)
}

// Commit fits a model from vectors that were already extracted and registers a new
// account with it. It fails with ErrDuplicateUser if the username is taken, so two
// registrations racing for one name cannot both succeed.
func (e *Enroller) Commit(ctx context.Context, username string, vectors []features.Vector, accessLevel ...string) (*models.User, error) {
	unlock := e.locks.Lock(utils.NormalizeKey(username))
	defer unlock()
	return e.commit(ctx, username, vectors, level(accessLevel), e.store.Register)
}

type storeFunc func(ctx context.Context, username, accessLevel string, m *gmm.Model) (*models.User, error)

func (e *Enroller) commit(ctx context.Context, username string, vectors []features.Vector, accessLevel string, store storeFunc) (*models.User, error) {
	if utils.NormalizeKey(username) == "" {
		return nil, fmt.Errorf("%w: empty username", models.ErrInvalidState)
	}
	if len(vectors) < MinVectors {
		return nil, fmt.Errorf("%w: %d usable", models.ErrInsufficientSamples, len(vectors))
	}

	data := make([][]float64, len(vectors))
	for i, v := range vectors {
		data[i] = v
	}
	model, err := gmm.Fit(data, e.fit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInsufficientSamples, err)
	}

	user, err := store(ctx, username, accessLevel, model)
	if err != nil {
		return nil, fmt.Errorf("storing enrollment: %w", err)
	}
	e.log.Infof("enrolled %s from %d samples", user.Username, len(vectors))
	return user, nil
}

func level(opt []string) string {
	if len(opt) > 0 && opt[0] != "" {
		return opt[0]
	}
	return models.AccessLevelUser
}
