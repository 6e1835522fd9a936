package flows

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"eppd/internal/epp"
	pkgerrors "eppd/pkg/errors"
	"eppd/pkg/requestcontext"
)

// Session is one authenticated registrar connection. Sessions are held in
// memory; losing them on restart only forces registrars to log in again.
type Session struct {
	ID          string
	RegistrarID string
	LoginTime   time.Time
}

// SessionManager issues and resolves session tokens. Tokens are signed JWTs
// carrying the session id; the session itself stays server side so a logout
// invalidates the token immediately.
type SessionManager struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	signingKey []byte
	tokenTTL   time.Duration
}

// NewSessionManager builds a manager signing tokens with key.
func NewSessionManager(signingKey []byte, tokenTTL time.Duration) *SessionManager {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &SessionManager{
		sessions:   make(map[string]*Session),
		signingKey: signingKey,
		tokenTTL:   tokenTTL,
	}
}

// Create registers a new session for registrarID and returns it with a
// signed token.
func (m *SessionManager) Create(registrarID string, now time.Time) (*Session, string, error) {
	s := &Session{
		ID:          uuid.NewString(),
		RegistrarID: registrarID,
		LoginTime:   now,
	}
	claims := jwt.MapClaims{
		"sid": s.ID,
		"sub": registrarID,
		"iat": now.Unix(),
		"exp": now.Add(m.tokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return nil, "", pkgerrors.Wrap(err, pkgerrors.CodeInternal, "signing session token")
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, token, nil
}

// Resolve validates token and returns the live session it names. A token for
// a session that was logged out resolves to nothing.
func (m *SessionManager) Resolve(token string, now time.Time) (*Session, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pkgerrors.New(pkgerrors.CodeAuthentication, "unexpected signing method")
		}
		return m.signingKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !parsed.Valid {
		return nil, pkgerrors.New(pkgerrors.CodeAuthentication, "invalid session token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeAuthentication, "invalid session token")
	}
	sid, _ := claims["sid"].(string)

	m.mu.RLock()
	s := m.sessions[sid]
	m.mu.RUnlock()
	if s == nil {
		return nil, pkgerrors.New(pkgerrors.CodeAuthentication, "session expired")
	}
	return s, nil
}

// Get returns the live session with the given id.
func (m *SessionManager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	s := m.sessions[sessionID]
	m.mu.RUnlock()
	return s, s != nil
}

// Remove drops the session, invalidating any token that names it.
func (m *SessionManager) Remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

type helloFlow struct {
	baseFlow
}

func (helloFlow) Name() string          { return "Hello" }
func (helloFlow) RequiresSession() bool { return false }

func (helloFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	return epp.Success(&epp.HelloData{
		ServerID:   "eppd",
		ServerTime: requestcontext.Now(ctx),
	}), nil
}

type loginFlow struct {
	baseFlow
}

func (loginFlow) Name() string          { return "Login" }
func (loginFlow) RequiresSession() bool { return false }

func (loginFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	login := fc.Command.Login
	if login == nil || login.ClientID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSyntax, "login requires client id and password")
	}
	if fc.Session != nil {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, "already logged in")
	}
	reg, err := fc.Registry.Registrar(ctx, login.ClientID)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeAuthentication, "unknown registrar")
	}
	if !reg.Active || subtle.ConstantTimeCompare([]byte(reg.Password), []byte(login.Password)) != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeAuthentication, "bad registrar credentials")
	}
	_, token, err := fc.Sessions.Create(reg.ID, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	fc.Logger.InfoContext(ctx, "registrar logged in", slog.String("registrar_id", reg.ID))
	return epp.Success(&epp.LoginData{SessionToken: token}), nil
}

type logoutFlow struct {
	baseFlow
}

func (logoutFlow) Name() string { return "Logout" }

func (logoutFlow) Run(ctx context.Context, fc *FlowContext) (*epp.Response, error) {
	fc.Sessions.Remove(fc.Session.ID)
	return &epp.Response{
		Code:    epp.CodeSuccessEndingSession,
		Message: "Command completed successfully; ending session",
	}, nil
}
