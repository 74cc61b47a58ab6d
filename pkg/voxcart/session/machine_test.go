package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/intent"
)

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, len(effects))
	for i, e := range effects {
		out[i] = e.Kind
	}
	return out
}

func TestRegistrationFlow(t *testing.T) {
	s, effects, err := Transition(Status{}, Event{Kind: RegistrationStarted, Username: "ana"})
	require.NoError(t, err)
	assert.Equal(t, Enrolling, s.State)
	assert.Equal(t, 1, s.Step)
	assert.Equal(t, models.AccessLevelUser, s.Access)
	assert.Equal(t, []EffectKind{Prompt, Prompt}, kinds(effects))

	for step := 2; step <= 3; step++ {
		s, _, err = Transition(s, Event{Kind: SampleCaptured, SampleOK: true})
		require.NoError(t, err)
		assert.Equal(t, step, s.Step)
	}

	s, effects, err = Transition(s, Event{Kind: SampleCaptured, SampleOK: true})
	require.NoError(t, err)
	assert.True(t, s.Pending)
	assert.Equal(t, 3, s.Good)
	assert.Equal(t, []EffectKind{RunEnrollment}, kinds(effects))

	_, _, err = Transition(s, Event{Kind: SampleCaptured, SampleOK: true})
	assert.ErrorIs(t, err, models.ErrInvalidState)

	s, effects, err = Transition(s, Event{Kind: EnrollmentFinished})
	require.NoError(t, err)
	assert.Equal(t, Authenticated, s.State)
	assert.Equal(t, "ana", s.Username)
	assert.Contains(t, kinds(effects), OpenCart)
}

func TestRegistrationDuplicateUser(t *testing.T) {
	start := Status{State: Anonymous}
	s, effects, err := Transition(start, Event{Kind: RegistrationStarted, Username: "ana", UserExists: true})
	assert.ErrorIs(t, err, models.ErrDuplicateUser)
	assert.Equal(t, start, s)
	assert.Equal(t, []EffectKind{Prompt}, kinds(effects))
}

func TestRegistrationWithTooFewGoodSamples(t *testing.T) {
	s, _, err := Transition(Status{}, Event{Kind: RegistrationStarted, Username: "ana"})
	require.NoError(t, err)

	s, _, err = Transition(s, Event{Kind: SampleCaptured, SampleOK: false})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Step, "a failed sample still uses its step")
	s, _, err = Transition(s, Event{Kind: SampleCaptured, SampleOK: true})
	require.NoError(t, err)

	s, effects, err := Transition(s, Event{Kind: SampleCaptured, SampleOK: false})
	assert.ErrorIs(t, err, models.ErrInsufficientSamples)
	assert.Equal(t, Status{State: Anonymous}, s)
	assert.NotContains(t, kinds(effects), RunEnrollment)
}

func TestRegistrationCustomSampleCount(t *testing.T) {
	m := Machine{Samples: 2}
	s, _, _ := m.Transition(Status{}, Event{Kind: RegistrationStarted, Username: "ana"})
	s, _, _ = m.Transition(s, Event{Kind: SampleCaptured, SampleOK: true})
	s, effects, err := m.Transition(s, Event{Kind: SampleCaptured, SampleOK: true})
	require.NoError(t, err)
	assert.Equal(t, []EffectKind{RunEnrollment}, kinds(effects))
	assert.True(t, s.Pending)
}

func TestEnrollmentFailureReturnsToAnonymous(t *testing.T) {
	s := Status{State: Enrolling, Username: "ana", Step: 3, Good: 2, Pending: true}
	next, _, err := Transition(s, Event{Kind: EnrollmentFinished, Err: models.ErrInsufficientSamples})
	assert.ErrorIs(t, err, models.ErrInsufficientSamples)
	assert.Equal(t, Anonymous, next.State)
}

func TestLoginFlow(t *testing.T) {
	s, _, err := Transition(Status{}, Event{Kind: LoginStarted, Username: "ana"})
	require.NoError(t, err)
	assert.Equal(t, Authenticating, s.State)

	s, effects, err := Transition(s, Event{Kind: SampleCaptured})
	require.NoError(t, err)
	assert.Equal(t, []EffectKind{RunVerification}, kinds(effects))

	s, effects, err = Transition(s, Event{Kind: VerificationFinished, Access: models.AccessLevelAdmin})
	require.NoError(t, err)
	assert.Equal(t, Authenticated, s.State)
	assert.Equal(t, models.AccessLevelAdmin, s.Access)
	assert.Equal(t, OpenCart, effects[0].Kind)
}

func TestLoginFailures(t *testing.T) {
	pending := Status{State: Authenticating, Username: "ana", Pending: true}

	for _, reason := range []error{models.ErrRejected, models.ErrNotEnrolled, models.ErrExtractionFailed} {
		s, effects, err := Transition(pending, Event{Kind: VerificationFinished, Err: reason})
		assert.ErrorIs(t, err, reason)
		assert.Equal(t, Anonymous, s.State)
		require.Len(t, effects, 1)
		assert.NotEmpty(t, effects[0].Message)
	}
}

func TestAuthenticatedCommands(t *testing.T) {
	user := Status{State: Authenticated, Username: "ana", Access: models.AccessLevelUser}
	admin := Status{State: Authenticated, Username: "root", Access: models.AccessLevelAdmin}

	s, effects, err := Transition(user, Event{Kind: CommandReceived, Command: intent.Intent{Kind: intent.AddToCart, ProductHint: "arroz", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, user, s)
	require.Len(t, effects, 1)
	assert.Equal(t, Execute, effects[0].Kind)
	assert.Equal(t, "arroz", effects[0].Command.ProductHint)

	_, effects, err = Transition(user, Event{Kind: CommandReceived, Command: intent.Intent{Kind: intent.Unrecognized}})
	require.NoError(t, err)
	assert.Equal(t, []EffectKind{Prompt}, kinds(effects))

	s, _, err = Transition(user, Event{Kind: CommandReceived, Command: intent.Intent{Kind: intent.RemoveProduct}})
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	assert.Equal(t, Authenticated, s.State)

	_, effects, err = Transition(admin, Event{Kind: CommandReceived, Command: intent.Intent{Kind: intent.RemoveProduct}})
	require.NoError(t, err)
	assert.Equal(t, []EffectKind{Execute}, kinds(effects))
}

func TestLogoutAndTimeout(t *testing.T) {
	user := Status{State: Authenticated, Username: "ana"}

	s, effects, err := Transition(user, Event{Kind: CommandReceived, Command: intent.Intent{Kind: intent.Logout}})
	require.NoError(t, err)
	assert.Equal(t, Closed, s.State)
	assert.Equal(t, []EffectKind{DiscardCart, Prompt}, kinds(effects))

	s, effects, err = Transition(user, Event{Kind: TimedOut})
	require.NoError(t, err)
	assert.Equal(t, Closed, s.State)
	assert.Contains(t, kinds(effects), DiscardCart)

	s, effects, err = Transition(Status{State: Enrolling, Username: "bob", Step: 2}, Event{Kind: TimedOut})
	require.NoError(t, err)
	assert.Equal(t, Closed, s.State)
	assert.NotContains(t, kinds(effects), DiscardCart)
}

func TestClosedIsTerminal(t *testing.T) {
	closed := Status{State: Closed, Username: "ana"}
	for _, k := range []EventKind{RegistrationStarted, LoginStarted, CommandReceived, LogoutRequested, TimedOut} {
		s, effects, err := Transition(closed, Event{Kind: k, Username: "ana"})
		assert.ErrorIs(t, err, models.ErrInvalidState)
		assert.Equal(t, closed, s)
		assert.Empty(t, effects)
	}
}

func TestInvalidEvents(t *testing.T) {
	anon := Status{State: Anonymous}
	s, _, err := Transition(anon, Event{Kind: CommandReceived, Command: intent.Intent{Kind: intent.ViewCart}})
	assert.ErrorIs(t, err, models.ErrInvalidState)
	assert.Equal(t, anon, s)

	_, _, err = Transition(Status{State: Authenticating, Username: "ana"}, Event{Kind: VerificationFinished})
	assert.ErrorIs(t, err, models.ErrInvalidState, "no verification was requested")

	_, _, err = Transition(anon, Event{Kind: RegistrationStarted})
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestTransitionIsPure(t *testing.T) {
	s := Status{State: Enrolling, Username: "ana", Step: 2, Good: 1}
	e := Event{Kind: SampleCaptured, SampleOK: true}

	a, ea, erra := Transition(s, e)
	b, eb, errb := Transition(s, e)
	assert.Equal(t, a, b)
	assert.Equal(t, ea, eb)
	assert.Equal(t, erra, errb)
	assert.Equal(t, Status{State: Enrolling, Username: "ana", Step: 2, Good: 1}, s)
}
