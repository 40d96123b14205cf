package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const defaultFlowTimeout = 5 * time.Minute

// OAuthRefresher refreshes credentials with the standard refresh grant
// against the token URI recorded in the bundle.
type OAuthRefresher struct {
	// HTTPClient is used for the token request when set.
	HTTPClient *http.Client
}

func (r OAuthRefresher) Refresh(ctx context.Context, creds *Credentials) (*Credentials, error) {
	if creds.RefreshToken == "" {
		return nil, errors.New("no refresh token")
	}
	if creds.TokenURI == "" {
		return nil, errors.New("no token uri recorded in credentials")
	}
	if r.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.HTTPClient)
	}

	// Without an access token the source always hits the token endpoint.
	src := creds.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}

	return creds.withToken(tok), nil
}

// LocalServerFlow runs the authorization-code flow for an installed
// application: the user opens a consent URL and the redirect is captured by a
// listener on the loopback interface.
type LocalServerFlow struct {
	// SecretsFile is the client secrets JSON downloaded from the Google console.
	SecretsFile string
	Scopes      []string
	// Out receives the consent URL. Defaults to stdout.
	Out        io.Writer
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

type callbackResult struct {
	code  string
	state string
	err   string
}

func (f *LocalServerFlow) Authorize(ctx context.Context) (*Credentials, error) {
	data, err := os.ReadFile(f.SecretsFile)
	if err != nil {
		return nil, fmt.Errorf("reading client secrets: %w", err)
	}

	cfg, err := google.ConfigFromJSON(data, f.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secrets %s: %w", f.SecretsFile, err)
	}

	out := f.Out
	if out == nil {
		out = os.Stdout
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultFlowTimeout
	}
	if f.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
	}

	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("generating oauth state: %w", err)
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("starting oauth callback listener: %w", err)
	}
	defer func() { _ = listener.Close() }()

	cfg.RedirectURL = fmt.Sprintf("http://%s/", listener.Addr().String())

	callbackCh := make(chan callbackResult, 1)
	serveErrCh := make(chan error, 1)
	var once sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("code") == "" && q.Get("error") == "" {
			http.NotFound(w, r)
			return
		}

		result := callbackResult{
			code:  strings.TrimSpace(q.Get("code")),
			state: strings.TrimSpace(q.Get("state")),
		}
		if errCode := strings.TrimSpace(q.Get("error")); errCode != "" {
			result.err = "oauth callback error: " + errCode
		}
		once.Do(func() { callbackCh <- result })

		status := http.StatusOK
		body := "Authentication received. You can close this tab."
		if result.err != "" {
			status = http.StatusBadRequest
			body = "Authentication failed. Check the bot logs for details."
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serveErrCh <- serveErr
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	logger.Info("waiting for google authorization", "redirect", cfg.RedirectURL)
	fmt.Fprintln(out, "Open this URL in your browser to authorize spreadsheet access:")
	fmt.Fprintln(out, authURL)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var cb callbackResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case serveErr := <-serveErrCh:
		return nil, fmt.Errorf("oauth callback server failed: %w", serveErr)
	case <-timer.C:
		return nil, errors.New("timed out waiting for oauth callback")
	case cb = <-callbackCh:
	}

	if cb.err != "" {
		return nil, errors.New(cb.err)
	}
	if cb.state != state {
		return nil, errors.New("oauth state mismatch")
	}
	if cb.code == "" {
		return nil, errors.New("oauth callback did not include an authorization code")
	}

	tok, err := cfg.Exchange(ctx, cb.code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	creds := &Credentials{
		TokenURI:     cfg.Endpoint.TokenURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       append([]string(nil), f.Scopes...),
	}
	return creds.withToken(tok), nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
