package harvest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SessionConfig controls how a session is established.
type SessionConfig struct {
	BaseURL     string
	Credentials Credentials
	Search      string
	// SettleDelay is waited between the scope-selection steps, which the
	// site renders asynchronously.
	SettleDelay time.Duration
	Layout      Layout
}

// SessionManager logs in and derives the session token used to address
// records. It is the only owner of SessionContext values.
type SessionManager struct {
	agent   PageAgent
	sleeper Sleeper
	cfg     SessionConfig
	logger  *zap.Logger
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(agent PageAgent, sleeper Sleeper, cfg SessionConfig, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		agent:   agent,
		sleeper: sleeper,
		cfg:     cfg,
		logger:  logger,
	}
}

// Establish authenticates, derives the session token, selects the database
// scope and issues the configured search.
func (m *SessionManager) Establish(ctx context.Context) (SessionContext, error) {
	if err := m.Authenticate(ctx, m.cfg.Credentials); err != nil {
		return SessionContext{}, err
	}
	session, err := m.DeriveContext(ctx)
	if err != nil {
		return SessionContext{}, err
	}
	if err := m.SelectScope(ctx); err != nil {
		return SessionContext{}, err
	}
	if err := m.Search(ctx, m.cfg.Search); err != nil {
		return SessionContext{}, err
	}
	return session, nil
}

// Authenticate opens the login page, verifies the site signature and submits
// the credentials. A signature mismatch is fatal: it means misconfiguration.
func (m *SessionManager) Authenticate(ctx context.Context, creds Credentials) error {
	m.logger.Info("logging in", zap.String("url", m.cfg.BaseURL))
	if err := m.agent.Navigate(ctx, m.cfg.BaseURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	title, err := m.agent.Title(ctx)
	if err != nil {
		return fmt.Errorf("read login page title: %w", err)
	}
	if !strings.Contains(title, m.cfg.Layout.LandingSignature) {
		return fmt.Errorf("%w: title %q lacks %q", ErrSignatureMismatch, title, m.cfg.Layout.LandingSignature)
	}

	user, err := m.require(ctx, m.cfg.Layout.UsernameField)
	if err != nil {
		return err
	}
	if err := m.agent.SendKeys(ctx, user, creds.Username); err != nil {
		return fmt.Errorf("type username: %w", err)
	}
	pass, err := m.require(ctx, m.cfg.Layout.PasswordField)
	if err != nil {
		return err
	}
	if err := m.agent.SendKeys(ctx, pass, creds.Password+KeyEnter); err != nil {
		return fmt.Errorf("submit credentials: %w", err)
	}
	return nil
}

// DeriveContext follows the portal link and reads the session token from the
// session cookie.
func (m *SessionManager) DeriveContext(ctx context.Context) (SessionContext, error) {
	link, err := m.require(ctx, m.cfg.Layout.PortalLink)
	if err != nil {
		return SessionContext{}, err
	}
	if err := m.agent.Click(ctx, link); err != nil {
		return SessionContext{}, fmt.Errorf("open portal: %w", err)
	}
	cookie, ok, err := m.agent.Cookie(ctx, m.cfg.Layout.SessionCookie)
	if err != nil {
		return SessionContext{}, fmt.Errorf("read session cookie: %w", err)
	}
	if !ok {
		return SessionContext{}, fmt.Errorf("%w: %s", ErrSessionCookieMissing, m.cfg.Layout.SessionCookie)
	}
	token, ok := SessionToken(cookie.Value, m.cfg.Layout.SessionKeyPrefix)
	if !ok {
		return SessionContext{}, fmt.Errorf("%w: %s has no token", ErrSessionCookieMissing, m.cfg.Layout.SessionCookie)
	}
	session := SessionContext{Token: token}
	m.logger.Info("session token derived", zap.String("session", session.Redacted()))
	return session, nil
}

// SelectScope narrows the search to the configured databases and search mode.
func (m *SessionManager) SelectScope(ctx context.Context) error {
	layout := m.cfg.Layout
	if err := m.settle(ctx); err != nil {
		return err
	}
	if err := m.click(ctx, layout.DatabaseMenu); err != nil {
		return err
	}
	if err := m.settle(ctx); err != nil {
		return err
	}
	// Toggling select-all twice leaves every database unchecked.
	steps := []Selector{layout.SelectAll, layout.SelectAll}
	steps = append(steps, layout.Databases...)
	steps = append(steps, layout.ConfirmDatabases, layout.ScopeMenu)
	steps = append(steps, layout.ScopeOptions...)
	for _, sel := range steps {
		if err := m.click(ctx, sel); err != nil {
			return err
		}
	}
	return nil
}

// Search issues the query that defines the record sequence.
func (m *SessionManager) Search(ctx context.Context, query string) error {
	box, err := m.require(ctx, m.cfg.Layout.SearchBox)
	if err != nil {
		return err
	}
	if err := m.agent.SendKeys(ctx, box, query); err != nil {
		return fmt.Errorf("type search: %w", err)
	}
	if err := m.click(ctx, m.cfg.Layout.SearchButton); err != nil {
		return err
	}
	m.logger.Info("search issued", zap.String("query", query))
	return nil
}

func (m *SessionManager) settle(ctx context.Context) error {
	if m.cfg.SettleDelay <= 0 || m.sleeper == nil {
		return nil
	}
	if err := m.sleeper.Sleep(ctx, m.cfg.SettleDelay); err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	return nil
}

func (m *SessionManager) click(ctx context.Context, sel Selector) error {
	el, err := m.require(ctx, sel)
	if err != nil {
		return err
	}
	if err := m.agent.Click(ctx, el); err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

func (m *SessionManager) require(ctx context.Context, sel Selector) (Element, error) {
	return requireElement(ctx, m.agent, sel)
}

// KeyEnter submits a form when sent as part of SendKeys text.
const KeyEnter = "\r"

// SessionToken extracts the session id from a raw cookie value: the part
// before the first '&', minus keyPrefix, query-escaped.
func SessionToken(raw, keyPrefix string) (string, bool) {
	head, _, _ := strings.Cut(raw, "&")
	head = strings.TrimPrefix(head, keyPrefix)
	if head == "" {
		return "", false
	}
	return url.QueryEscape(head), true
}

func requireElement(ctx context.Context, agent PageAgent, sel Selector) (Element, error) {
	el, ok, err := agent.FindElement(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrElementMissing, sel)
	}
	return el, nil
}
