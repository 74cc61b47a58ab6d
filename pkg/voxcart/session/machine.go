// Package session drives a user's voice shopping session: enrollment, login by
// voice, the command loop and logout. Transition is pure; Manager owns live
// sessions and carries out the effects Transition asks for.
package session

import (
	"errors"
	"fmt"

	"github.com/himanishpuri/VoxCart/pkg/models"
	"github.com/himanishpuri/VoxCart/pkg/voxcart/intent"
)

type State int

const (
	Anonymous State = iota
	Enrolling
	Authenticating
	Authenticated
	Closed
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Enrolling:
		return "enrolling"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Status is the machine's full state. Step counts enrollment samples from 1; Pending
// is set while an enrollment or verification result is awaited.
type Status struct {
	State    State
	Username string
	Access   string
	Step     int
	Good     int
	Pending  bool
}

type EventKind int

const (
	RegistrationStarted EventKind = iota
	SampleCaptured
	EnrollmentFinished
	LoginStarted
	VerificationFinished
	CommandReceived
	LogoutRequested
	TimedOut
)

type Event struct {
	Kind       EventKind
	Username   string        // RegistrationStarted, LoginStarted
	Access     string        // RegistrationStarted, VerificationFinished
	UserExists bool          // RegistrationStarted
	SampleOK   bool          // SampleCaptured during enrollment
	Err        error         // EnrollmentFinished, VerificationFinished
	Command    intent.Intent // CommandReceived
}

type EffectKind int

const (
	Prompt EffectKind = iota
	OpenCart
	DiscardCart
	RunEnrollment
	RunVerification
	Execute
)

type Effect struct {
	Kind    EffectKind
	Message string
	Command intent.Intent
}

func say(msg string) Effect { return Effect{Kind: Prompt, Message: msg} }

// Machine holds the enrollment sample count. It has no other state.
type Machine struct {
	Samples int
}

var DefaultMachine = Machine{Samples: 3}

// Transition applies DefaultMachine.
func Transition(s Status, e Event) (Status, []Effect, error) {
	return DefaultMachine.Transition(s, e)
}

// Transition computes the next status and the effects to perform. On error the
// returned status is the one the session must move to (often unchanged).
func (m Machine) Transition(s Status, e Event) (Status, []Effect, error) {
	if s.State == Closed {
		return s, nil, fmt.Errorf("%w: session closed", models.ErrInvalidState)
	}
	if e.Kind == TimedOut {
		return closeSession(s, "Sessão encerrada por inatividade.")
	}

	switch s.State {
	case Anonymous:
		return m.anonymous(s, e)
	case Enrolling:
		return m.enrolling(s, e)
	case Authenticating:
		return m.authenticating(s, e)
	case Authenticated:
		return m.authenticated(s, e)
	}
	return s, nil, invalid(s, e)
}

func invalid(s Status, e Event) error {
	return fmt.Errorf("%w: event %d in state %s", models.ErrInvalidState, e.Kind, s.State)
}

func closeSession(s Status, msg string) (Status, []Effect, error) {
	var effects []Effect
	if s.State == Authenticated {
		effects = append(effects, Effect{Kind: DiscardCart})
	}
	effects = append(effects, say(msg))
	return Status{State: Closed, Username: s.Username}, effects, nil
}

func (m Machine) anonymous(s Status, e Event) (Status, []Effect, error) {
	switch e.Kind {
	case RegistrationStarted:
		if e.Username == "" {
			return s, []Effect{say("Informe um nome de usuário.")}, fmt.Errorf("%w: empty username", models.ErrInvalidState)
		}
		if e.UserExists {
			return s, []Effect{say(fmt.Sprintf("O usuário %s já existe.", e.Username))}, models.ErrDuplicateUser
		}
		access := e.Access
		if access == "" {
			access = models.AccessLevelUser
		}
		next := Status{State: Enrolling, Username: e.Username, Access: access, Step: 1}
		return next, []Effect{
			say(fmt.Sprintf("Olá %s, vou cadastrar sua voz.", e.Username)),
			say(m.samplePrompt(1)),
		}, nil

	case LoginStarted:
		if e.Username == "" {
			return s, []Effect{say("Informe um nome de usuário.")}, fmt.Errorf("%w: empty username", models.ErrInvalidState)
		}
		next := Status{State: Authenticating, Username: e.Username}
		return next, []Effect{say(fmt.Sprintf("Olá %s, fale para confirmar sua identidade.", e.Username))}, nil

	case LogoutRequested:
		return closeSession(s, "Até logo!")
	}
	return s, nil, invalid(s, e)
}

func (m Machine) samplePrompt(step int) string {
	return fmt.Sprintf("Amostra %d de %d: fale por alguns segundos.", step, m.Samples)
}

func (m Machine) enrolling(s Status, e Event) (Status, []Effect, error) {
	switch e.Kind {
	case SampleCaptured:
		if s.Pending {
			return s, nil, invalid(s, e)
		}
		next := s
		var effects []Effect
		if e.SampleOK {
			next.Good++
		} else {
			effects = append(effects, say("Não consegui aproveitar essa amostra."))
		}

		if next.Step < m.Samples {
			next.Step++
			return next, append(effects, say(m.samplePrompt(next.Step))), nil
		}
		if next.Good < 2 {
			return Status{State: Anonymous}, append(effects, say("Falha no cadastro da voz. Tente novamente.")),
				fmt.Errorf("%w: %d of %d usable", models.ErrInsufficientSamples, next.Good, m.Samples)
		}
		next.Pending = true
		return next, append(effects, Effect{Kind: RunEnrollment}), nil

	case EnrollmentFinished:
		if !s.Pending {
			return s, nil, invalid(s, e)
		}
		if errors.Is(e.Err, models.ErrDuplicateUser) {
			return Status{State: Anonymous}, []Effect{say(fmt.Sprintf("O usuário %s já existe.", s.Username))}, e.Err
		}
		if e.Err != nil {
			return Status{State: Anonymous}, []Effect{say("Falha no cadastro da voz. Tente novamente.")}, e.Err
		}
		next := Status{State: Authenticated, Username: s.Username, Access: s.Access}
		return next, []Effect{
			{Kind: OpenCart},
			say(fmt.Sprintf("Usuário %s cadastrado com sucesso!", s.Username)),
		}, nil

	case LogoutRequested:
		return closeSession(s, "Cadastro cancelado.")
	}
	return s, nil, invalid(s, e)
}

func (m Machine) authenticating(s Status, e Event) (Status, []Effect, error) {
	switch e.Kind {
	case SampleCaptured:
		if s.Pending {
			return s, nil, invalid(s, e)
		}
		next := s
		next.Pending = true
		return next, []Effect{{Kind: RunVerification}}, nil

	case VerificationFinished:
		if !s.Pending {
			return s, nil, invalid(s, e)
		}
		if e.Err != nil {
			return Status{State: Anonymous}, []Effect{say(rejection(e.Err))}, e.Err
		}
		access := e.Access
		if access == "" {
			access = models.AccessLevelUser
		}
		next := Status{State: Authenticated, Username: s.Username, Access: access}
		return next, []Effect{
			{Kind: OpenCart},
			say(fmt.Sprintf("Bem-vindo, %s!", s.Username)),
		}, nil

	case LogoutRequested:
		return closeSession(s, "Até logo!")
	}
	return s, nil, invalid(s, e)
}

func rejection(err error) string {
	switch {
	case errors.Is(err, models.ErrNotEnrolled):
		return "Usuário não cadastrado."
	case errors.Is(err, models.ErrExtractionFailed):
		return "Não consegui ouvir sua voz. Tente novamente."
	case errors.Is(err, models.ErrRejected):
		return "Voz não reconhecida."
	}
	return "Não foi possível verificar sua voz."
}

func (m Machine) authenticated(s Status, e Event) (Status, []Effect, error) {
	switch e.Kind {
	case CommandReceived:
		cmd := e.Command
		switch {
		case cmd.Kind == intent.Logout:
			return closeSession(s, "Saindo do sistema. Até logo!")
		case cmd.Kind == intent.Unrecognized:
			return s, []Effect{say("Comando não reconhecido. Tente novamente.")}, nil
		case cmd.Kind.AdminOnly() && s.Access != models.AccessLevelAdmin:
			return s, []Effect{say("Apenas administradores podem alterar o catálogo.")}, models.ErrPermissionDenied
		}
		return s, []Effect{{Kind: Execute, Command: cmd}}, nil

	case LogoutRequested:
		return closeSession(s, "Saindo do sistema. Até logo!")
	}
	return s, nil, invalid(s, e)
}
