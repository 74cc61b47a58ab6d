package biometric

import (
	"context"
	"fmt"
	"math"

	"github.com/himanishpuri/VoxCart/pkg/logger"
	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/audio"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/features"
)

// DefaultThreshold is the minimum log-likelihood an utterance must reach to be accepted.
const DefaultThreshold = -50.0

// Verification is the outcome of one verification attempt.
type Verification struct {
	Username  string
	Score     float64
	Threshold float64
	Accepted  bool
}

type Verifier struct {
	extractor *features.Extractor
	store     *ModelStore
	threshold float64
	log       Logger
}

func NewVerifier(extractor *features.Extractor, store *ModelStore, threshold float64, log Logger) *Verifier {
	if log == nil {
		log = logger.GetLogger().Named("verify")
	}
	return &Verifier{extractor: extractor, store: store, threshold: threshold, log: log}
}

func (v *Verifier) Threshold() float64 { return v.threshold }

// Decide reports whether score clears the threshold.
func (v *Verifier) Decide(score float64) bool {
	return score >= v.threshold
}

// Verify scores one clip against the stored model of username. A rejected attempt
// returns ErrRejected along with the Verification so callers can report the score.
func (v *Verifier) Verify(ctx context.Context, username string, clip *audio.Clip) (*Verification, error) {
	// Model lookup first: an unknown user is NotEnrolled even when the clip is unusable.
	if _, err := v.store.Load(ctx, username); err != nil {
		return nil, err
	}
	vec, err := v.extractor.Extract(clip)
	if err != nil {
		return nil, err
	}
	return v.VerifyVector(ctx, username, vec)
}

// VerifyVector scores a vector that was extracted elsewhere, e.g. in the browser.
func (v *Verifier) VerifyVector(ctx context.Context, username string, vec features.Vector) (*Verification, error) {
	model, err := v.store.Load(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(vec) != model.Dim {
		return nil, fmt.Errorf("%w: expected %d coefficients, got %d", models.ErrExtractionFailed, model.Dim, len(vec))
	}

	for i, c := range vec {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, fmt.Errorf("%w: coefficient %d is %v", models.ErrExtractionFailed, i, c)
		}
	}

	score, err := model.Score(vec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrExtractionFailed, err)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return nil, fmt.Errorf("%w: score %v", models.ErrExtractionFailed, score)
	}

	res := &Verification{Username: username, Score: score, Threshold: v.threshold, Accepted: v.Decide(score)}
	v.log.Debugf("verification for %s: score=%.2f threshold=%.2f", username, score, v.threshold)
	if !res.Accepted {
		return res, fmt.Errorf("%w: score %.2f below %.2f", models.ErrRejected, score, v.threshold)
	}
	return res, nil
}
