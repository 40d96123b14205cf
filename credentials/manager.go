package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, creds *Credentials) (*Credentials, error)
}

// Authorizer obtains fresh credentials, typically by asking the user.
type Authorizer interface {
	Authorize(ctx context.Context) (*Credentials, error)
}

// Manager obtains a valid credential bundle and keeps the token file current.
type Manager struct {
	store      *Store
	refresher  Refresher
	authorizer Authorizer
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager returns a Manager persisting to store.
func NewManager(store *Store, refresher Refresher, authorizer Authorizer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		refresher:  refresher,
		authorizer: authorizer,
		logger:     logger,
		now:        time.Now,
	}
}

// Acquire returns valid credentials. Stored credentials are used as they are
// when valid, refreshed when expired with a refresh token, and replaced by the
// authorizer otherwise. Any new credentials overwrite the token file.
//
// A failed refresh is returned as an error; it does not fall back to the
// authorizer.
func (m *Manager) Acquire(ctx context.Context) (*Credentials, error) {
	creds, err := m.store.Load()
	if err != nil {
		return nil, err
	}

	if creds.Valid(m.now()) {
		m.logger.Debug("using stored google credentials", "path", m.store.Path(), "expiry", creds.Expiry)
		return creds, nil
	}

	if creds != nil && creds.Expired(m.now()) && creds.RefreshToken != "" {
		m.logger.Info("refreshing google credentials", "path", m.store.Path())
		creds, err = m.refresher.Refresh(ctx, creds)
		if err != nil {
			return nil, fmt.Errorf("refreshing google credentials: %w", err)
		}
	} else {
		if m.authorizer == nil {
			return nil, errors.New("no valid google credentials and no authorizer configured")
		}
		m.logger.Info("authorizing google credentials", "path", m.store.Path())
		creds, err = m.authorizer.Authorize(ctx)
		if err != nil {
			return nil, fmt.Errorf("authorizing google credentials: %w", err)
		}
	}

	if !creds.Valid(m.now()) {
		return nil, errors.New("google credentials are still invalid after acquisition")
	}

	if err := m.store.Save(creds); err != nil {
		return nil, err
	}
	m.logger.Info("google credentials saved", "path", m.store.Path(), "expiry", creds.Expiry)

	return creds, nil
}

// TokenSource returns a token source for creds that refreshes as needed and
// writes every new token back to the token file.
func (m *Manager) TokenSource(ctx context.Context, creds *Credentials) oauth2.TokenSource {
	base := creds.oauthConfig().TokenSource(ctx, creds.Token())
	return NewPersistingTokenSource(base, creds, m.store, m.logger)
}

// PersistingTokenSource saves the credential bundle whenever its base source
// hands out a new access token.
type PersistingTokenSource struct {
	base   oauth2.TokenSource
	store  *Store
	logger *slog.Logger

	mu    sync.Mutex
	creds *Credentials
}

// NewPersistingTokenSource wraps base, starting from creds.
func NewPersistingTokenSource(base oauth2.TokenSource, creds *Credentials, store *Store, logger *slog.Logger) *PersistingTokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistingTokenSource{base: base, store: store, logger: logger, creds: creds}
}

func (p *PersistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tok.AccessToken == p.creds.AccessToken {
		return tok, nil
	}

	p.creds = p.creds.withToken(tok)
	if err := p.store.Save(p.creds); err != nil {
		// The token is still usable for this request.
		p.logger.Error("failed to persist refreshed google credentials", "path", p.store.Path(), "error", err)
	} else {
		p.logger.Debug("persisted refreshed google credentials", "path", p.store.Path(), "expiry", tok.Expiry)
	}

	return tok, nil
}
