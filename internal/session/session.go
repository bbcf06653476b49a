// Package session is the operator login lifecycle that gates admin loading and
// mutations. The token is an opaque credential; nothing here verifies it.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vbonduro/placemap/internal/gateway"
)

// DemoToken is issued when the demonstration credentials are accepted locally.
const DemoToken = "demo-token"

var (
	ErrInvalidCredentials   = errors.New("session: invalid credentials")
	ErrMissingCredentials   = errors.New("session: email and password are required")
	ErrLoginInProgress      = errors.New("session: login already in progress")
	ErrAlreadyAuthenticated = errors.New("session: already authenticated")
	ErrLoginAbandoned       = errors.New("session: login abandoned")
)

type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// Authenticator exchanges credentials for a token. Implementations return an
// error wrapping gateway.ErrRejected when the service answered "no", and any
// other error when it could not answer at all.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, error)
}

// Credentials is the demonstration pair accepted while the service is down.
type Credentials struct {
	Email    string
	Password string
}

func (c Credentials) matches(email, password string) bool {
	if c.Email == "" || c.Password == "" {
		return false
	}
	emailOK := subtle.ConstantTimeCompare([]byte(strings.ToLower(c.Email)), []byte(strings.ToLower(email))) == 1
	passOK := subtle.ConstantTimeCompare([]byte(c.Password), []byte(password)) == 1
	return emailOK && passOK
}

type Machine struct {
	mu         sync.Mutex
	auth       Authenticator
	demo       Credentials
	logger     *slog.Logger
	state      State
	token      string
	demoMode   bool
	generation uint64
	listeners  []func(State)
}

func New(auth Authenticator, demo Credentials, logger *slog.Logger) *Machine {
	return &Machine{auth: auth, demo: demo, logger: logger}
}

// OnChange registers fn to run after every state change, outside the lock.
func (m *Machine) OnChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Login runs anonymous -> authenticating -> authenticated. When the service cannot
// be reached the demonstration pair is accepted locally; a rejection from the
// service is final.
func (m *Machine) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return ErrMissingCredentials
	}

	m.mu.Lock()
	switch m.state {
	case StateAuthenticating:
		m.mu.Unlock()
		return ErrLoginInProgress
	case StateAuthenticated:
		m.mu.Unlock()
		return ErrAlreadyAuthenticated
	}
	m.state = StateAuthenticating
	m.generation++
	gen := m.generation
	m.mu.Unlock()
	m.notify(StateAuthenticating)

	token, err := m.auth.Login(ctx, email, password)

	m.mu.Lock()
	if m.generation != gen || m.state != StateAuthenticating {
		m.mu.Unlock()
		return ErrLoginAbandoned
	}

	var loginErr error
	switch {
	case err == nil && token != "":
		m.enter(token, false)
		m.logger.Info("operator authenticated")
	case err == nil:
		loginErr = fmt.Errorf("failed to log in: %w", gateway.ErrMalformed)
		m.state = StateAnonymous
	case errors.Is(err, gateway.ErrRejected):
		loginErr = ErrInvalidCredentials
		m.state = StateAnonymous
	case m.demo.matches(email, password):
		m.enter(DemoToken, true)
		m.logger.Warn("login service unavailable, demo session started", "error", err)
	default:
		loginErr = fmt.Errorf("failed to log in: %w", err)
		m.state = StateAnonymous
	}
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return loginErr
}

func (m *Machine) enter(token string, demo bool) {
	m.state = StateAuthenticated
	m.token = token
	m.demoMode = demo
	m.generation++
}

// Logout drops the token and returns to anonymous. A login still waiting on the
// service is abandoned.
func (m *Machine) Logout() {
	m.mu.Lock()
	if m.state == StateAnonymous {
		m.mu.Unlock()
		return
	}
	m.state = StateAnonymous
	m.token = ""
	m.demoMode = false
	m.generation++
	m.mu.Unlock()

	m.logger.Info("operator logged out")
	m.notify(StateAnonymous)
}

func (m *Machine) notify(s State) {
	m.mu.Lock()
	listeners := append([]func(State){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token returns the bearer token and whether a session exists.
func (m *Machine) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.state == StateAuthenticated
}

// IsDemo reports whether the session was granted locally.
func (m *Machine) IsDemo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.demoMode
}

// Generation changes on every login and logout, so callers can discard results
// that belong to an older session.
func (m *Machine) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}
