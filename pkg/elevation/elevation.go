// Package elevation manages privileged operation sessions: a single prompt
// authorizes a scoped, time-limited session rather than re-prompting for
// every privileged call.
//
// Rather than a package-level global registry addressed by an identifier
// threaded through arbitrary call chains, New returns a *Manager value that
// the caller wires explicitly into whatever components need privileged
// access, so two independent cores (e.g. in tests) never share elevation
// state.
package elevation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xanados/searchdestroy-core/pkg/config"
	"github.com/xanados/searchdestroy-core/pkg/sderrors"
)

// Scope identifies a category of privileged operation a session may be
// authorized to perform.
type Scope string

const (
	// ScopeQuarantine authorizes moving a detected file into quarantine.
	ScopeQuarantine        Scope = "quarantine.add"
	ScopeQuarantineRestore Scope = "quarantine.restore"
	ScopeDefinitionsUpdate Scope = "definitions.update"
	ScopeRootkitScan       Scope = "rootkit.scan"
)

// Prompter is implemented by whatever surface can ask the user to approve an
// elevation request, e.g. a GUI dialog or a terminal prompt.
type Prompter interface {
	// PromptForScopes asks the user to approve the given scopes and returns
	// whether they did.
	PromptForScopes(scopes []Scope) (bool, error)
}

// session is an authorized elevation grant.
type session struct {
	id        string
	scopes    map[Scope]bool
	expiresAt time.Time
}

func (s *session) authorizes(scope Scope) bool {
	return s.scopes[scope]
}

// Manager issues and tracks elevation sessions. The zero value is not
// usable; construct with New.
type Manager struct {
	ttl      time.Duration
	prompter Prompter

	mu       sync.Mutex
	sessions map[string]*session

	// pending coalesces concurrent requests for the same scope set into a
	// single prompt. The first caller to register a scope key becomes the
	// owner, performs the prompt, stores the outcome on the acquireCall, and
	// closes its done channel; every other caller waiting on that key reads
	// the same outcome rather than prompting again.
	pending map[string]*acquireCall
}

// acquireCall is the in-flight state shared by every caller coalesced onto
// the same scope key.
type acquireCall struct {
	done chan struct{}
	id   string
	err  error
}

// New constructs a Manager with the given session TTL and prompt surface.
func New(cfg config.SessionConfiguration, prompter Prompter) *Manager {
	return &Manager{
		ttl:      cfg.TTL(),
		prompter: prompter,
		sessions: make(map[string]*session),
		pending:  make(map[string]*acquireCall),
	}
}

func scopeKey(scopes []Scope) string {
	key := ""
	for _, s := range scopes {
		key += string(s) + "\x00"
	}
	return key
}

// Acquire returns the id of a live session that already authorizes every
// requested scope; otherwise it prompts the user and authorizes a new
// session for the given scopes. Concurrent Acquire calls requesting the
// identical scope set coalesce into a single prompt.
func (m *Manager) Acquire(scopes []Scope) (string, error) {
	key := scopeKey(scopes)

	m.mu.Lock()
	now := time.Now()
	for id, sess := range m.sessions {
		if now.After(sess.expiresAt) {
			continue
		}
		covered := true
		for _, s := range scopes {
			covered = covered && sess.authorizes(s)
		}
		if covered {
			m.mu.Unlock()
			return id, nil
		}
	}
	if call, ok := m.pending[key]; ok {
		m.mu.Unlock()
		<-call.done
		return call.id, call.err
	}
	call := &acquireCall{done: make(chan struct{})}
	m.pending[key] = call
	m.mu.Unlock()

	call.id, call.err = m.performAcquire(scopes)

	m.mu.Lock()
	delete(m.pending, key)
	m.mu.Unlock()
	close(call.done)

	return call.id, call.err
}

func (m *Manager) performAcquire(scopes []Scope) (string, error) {
	approved, err := m.prompter.PromptForScopes(scopes)
	if err != nil {
		return "", sderrors.Wrap(sderrors.KindAuthFailed, err, "elevation prompt failed")
	}
	if !approved {
		return "", sderrors.New(sderrors.KindAuthFailed, "elevation request denied")
	}

	scopeSet := make(map[Scope]bool, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = true
	}

	sess := &session{
		id:        uuid.New().String(),
		scopes:    scopeSet,
		expiresAt: time.Now().Add(m.ttl),
	}

	m.mu.Lock()
	m.sessions[sess.id] = sess
	m.mu.Unlock()

	return sess.id, nil
}

// Authorize checks whether the session identified by id is still live and
// authorizes the given scope.
func (m *Manager) Authorize(id string, scope Scope) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok && time.Now().After(sess.expiresAt) {
		delete(m.sessions, id)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return sderrors.New(sderrors.KindSessionExpired, "elevation session expired or unknown")
	}
	if !sess.authorizes(scope) {
		return sderrors.New(sderrors.KindScopeDenied, "session does not authorize this scope")
	}
	return nil
}

// Revoke ends a session early, before its TTL expires.
func (m *Manager) Revoke(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// sweepExpired removes expired sessions; called periodically by callers that
// want bounded memory rather than relying solely on lazy eviction in
// Authorize.
func (m *Manager) sweepExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		if now.After(sess.expiresAt) {
			delete(m.sessions, id)
		}
	}
}

// StartSweeper runs sweepExpired on the given interval until stop is closed.
func (m *Manager) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.sweepExpired()
			}
		}
	}()
}
