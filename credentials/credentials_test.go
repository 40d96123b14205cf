package credentials_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/oauth2"

	"github.com/brensch/teamassistant/credentials"
)

type fakeRefresher struct {
	calls int
	next  *credentials.Credentials
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, c *credentials.Credentials) (*credentials.Credentials, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.next, nil
}

type fakeAuthorizer struct {
	calls int
	next  *credentials.Credentials
	err   error
}

func (f *fakeAuthorizer) Authorize(context.Context) (*credentials.Credentials, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.next, nil
}

type staticSource struct{ tok *oauth2.Token }

func (s staticSource) Token() (*oauth2.Token, error) { return s.tok, nil }

// syncBuffer is written by the flow goroutine while the spec polls it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeToken(path string, c *credentials.Credentials) {
	data, err := json.Marshal(c)
	Expect(err).NotTo(HaveOccurred())
	Expect(os.WriteFile(path, data, 0o600)).To(Succeed())
}

func readToken(path string) *credentials.Credentials {
	data, err := os.ReadFile(path)
	Expect(err).NotTo(HaveOccurred())
	c := &credentials.Credentials{}
	Expect(json.Unmarshal(data, c)).To(Succeed())
	return c
}

func tokenServer(body string, requests *[]url.Values) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if requests != nil {
			*requests = append(*requests, r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func firstURL(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "https://") {
			return line
		}
	}
	return ""
}

var _ = Describe("Manager", func() {
	var (
		tmpDir    string
		tokenPath string
		store     *credentials.Store
		refresher *fakeRefresher
		authorize *fakeAuthorizer
		manager   *credentials.Manager
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "credentials-test-*")
		Expect(err).NotTo(HaveOccurred())

		tokenPath = filepath.Join(tmpDir, "token.json")
		store = credentials.NewStore(tokenPath)
		refresher = &fakeRefresher{}
		authorize = &fakeAuthorizer{}
		manager = credentials.NewManager(store, refresher, authorize, nil)
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("uses a valid stored token without refreshing or authorizing", func() {
		writeToken(tokenPath, &credentials.Credentials{
			AccessToken: "still-good",
			Expiry:      time.Now().Add(time.Hour),
		})

		creds, err := manager.Acquire(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(creds.AccessToken).To(Equal("still-good"))
		Expect(refresher.calls).To(BeZero())
		Expect(authorize.calls).To(BeZero())
	})

	It("refreshes an expired token and rewrites the token file", func() {
		writeToken(tokenPath, &credentials.Credentials{
			AccessToken:  "stale",
			RefreshToken: "refresh-me",
			Expiry:       time.Now().Add(-time.Hour),
		})
		refresher.next = &credentials.Credentials{
			AccessToken:  "fresh",
			RefreshToken: "refresh-me",
			Expiry:       time.Now().Add(time.Hour),
		}

		creds, err := manager.Acquire(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(creds.AccessToken).To(Equal("fresh"))
		Expect(refresher.calls).To(Equal(1))
		Expect(authorize.calls).To(BeZero())
		Expect(readToken(tokenPath).AccessToken).To(Equal("fresh"))

		info, err := os.Stat(tokenPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
	})

	It("fails without falling back when the refresh fails", func() {
		writeToken(tokenPath, &credentials.Credentials{
			AccessToken:  "stale",
			RefreshToken: "revoked",
			Expiry:       time.Now().Add(-time.Hour),
		})
		refresher.err = errors.New("invalid_grant")

		_, err := manager.Acquire(context.Background())
		Expect(err).To(MatchError(ContainSubstring("invalid_grant")))
		Expect(authorize.calls).To(BeZero())
	})

	It("authorizes when no token file exists", func() {
		authorize.next = &credentials.Credentials{
			AccessToken: "brand-new",
			Expiry:      time.Now().Add(time.Hour),
		}

		creds, err := manager.Acquire(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(creds.AccessToken).To(Equal("brand-new"))
		Expect(authorize.calls).To(Equal(1))
		Expect(readToken(tokenPath).AccessToken).To(Equal("brand-new"))
	})

	It("authorizes when an expired token has no refresh token", func() {
		writeToken(tokenPath, &credentials.Credentials{
			AccessToken: "stale",
			Expiry:      time.Now().Add(-time.Hour),
		})
		authorize.next = &credentials.Credentials{AccessToken: "brand-new"}

		_, err := manager.Acquire(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(refresher.calls).To(BeZero())
		Expect(authorize.calls).To(Equal(1))
	})

	It("rejects a malformed token file", func() {
		Expect(os.WriteFile(tokenPath, []byte("{not json"), 0o600)).To(Succeed())

		_, err := manager.Acquire(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(authorize.calls).To(BeZero())
	})

	It("does not return credentials the authorizer left invalid", func() {
		authorize.next = &credentials.Credentials{}

		_, err := manager.Acquire(context.Background())
		Expect(err).To(HaveOccurred())
		_, statErr := os.Stat(tokenPath)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("fails when there is no token file and no client secrets file", func() {
		flow := &credentials.LocalServerFlow{
			SecretsFile: filepath.Join(tmpDir, "credentials.json"),
			Scopes:      []string{"https://www.googleapis.com/auth/spreadsheets.readonly"},
			Timeout:     time.Second,
		}
		manager = credentials.NewManager(store, credentials.OAuthRefresher{}, flow, nil)

		_, err := manager.Acquire(context.Background())
		Expect(err).To(MatchError(ContainSubstring("reading client secrets")))
	})
})

var _ = Describe("OAuthRefresher", func() {
	It("uses the refresh grant and keeps the refresh token", func() {
		var requests []url.Values
		srv := tokenServer(`{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`, &requests)
		defer srv.Close()

		creds := &credentials.Credentials{
			AccessToken:  "old-access",
			RefreshToken: "keep-me",
			TokenURI:     srv.URL,
			ClientID:     "cid",
			ClientSecret: "csecret",
			Scopes:       []string{"scope-a"},
			Expiry:       time.Now().Add(-time.Minute),
		}

		refreshed, err := credentials.OAuthRefresher{HTTPClient: srv.Client()}.Refresh(context.Background(), creds)
		Expect(err).NotTo(HaveOccurred())
		Expect(refreshed.AccessToken).To(Equal("new-access"))
		Expect(refreshed.RefreshToken).To(Equal("keep-me"))
		Expect(refreshed.ClientID).To(Equal("cid"))
		Expect(refreshed.Scopes).To(Equal([]string{"scope-a"}))
		Expect(refreshed.Valid(time.Now())).To(BeTrue())

		Expect(requests).NotTo(BeEmpty())
		Expect(requests[len(requests)-1].Get("grant_type")).To(Equal("refresh_token"))
		Expect(requests[len(requests)-1].Get("refresh_token")).To(Equal("keep-me"))
	})

	It("requires a token uri", func() {
		_, err := credentials.OAuthRefresher{}.Refresh(context.Background(), &credentials.Credentials{RefreshToken: "r"})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("LocalServerFlow", func() {
	var (
		tmpDir      string
		secretsPath string
		srv         *httptest.Server
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "flow-test-*")
		Expect(err).NotTo(HaveOccurred())

		srv = tokenServer(`{"access_token":"granted","refresh_token":"offline","token_type":"Bearer","expires_in":3600}`, nil)

		secrets := map[string]any{
			"installed": map[string]any{
				"client_id":     "cid",
				"client_secret": "csecret",
				"auth_uri":      "https://accounts.example.test/o/oauth2/auth",
				"token_uri":     srv.URL,
				"redirect_uris": []string{"http://localhost"},
			},
		}
		data, err := json.Marshal(secrets)
		Expect(err).NotTo(HaveOccurred())
		secretsPath = filepath.Join(tmpDir, "credentials.json")
		Expect(os.WriteFile(secretsPath, data, 0o600)).To(Succeed())
	})

	AfterEach(func() {
		srv.Close()
		os.RemoveAll(tmpDir)
	})

	type flowResult struct {
		creds *credentials.Credentials
		err   error
	}

	run := func(out *syncBuffer) chan flowResult {
		flow := &credentials.LocalServerFlow{
			SecretsFile: secretsPath,
			Scopes:      []string{"scope-a"},
			Out:         out,
			HTTPClient:  srv.Client(),
			Timeout:     3 * time.Second,
		}
		resCh := make(chan flowResult, 1)
		go func() {
			creds, err := flow.Authorize(context.Background())
			resCh <- flowResult{creds: creds, err: err}
		}()
		return resCh
	}

	consentURL := func(out *syncBuffer) *url.URL {
		var raw string
		Eventually(func() string {
			raw = firstURL(out.String())
			return raw
		}, 2*time.Second, 20*time.Millisecond).ShouldNot(BeEmpty())

		parsed, err := url.Parse(raw)
		Expect(err).NotTo(HaveOccurred())
		return parsed
	}

	It("exchanges the code captured by the callback listener", func() {
		out := &syncBuffer{}
		resCh := run(out)

		parsed := consentURL(out)
		Expect(parsed.Query().Get("access_type")).To(Equal("offline"))
		redirect := parsed.Query().Get("redirect_uri")
		Expect(redirect).To(HavePrefix("http://127.0.0.1:"))

		resp, err := http.Get(redirect + "?code=auth-code&state=" + url.QueryEscape(parsed.Query().Get("state")))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Body.Close()).To(Succeed())

		var res flowResult
		Eventually(resCh, 2*time.Second).Should(Receive(&res))
		Expect(res.err).NotTo(HaveOccurred())
		Expect(res.creds.AccessToken).To(Equal("granted"))
		Expect(res.creds.RefreshToken).To(Equal("offline"))
		Expect(res.creds.ClientID).To(Equal("cid"))
		Expect(res.creds.TokenURI).To(Equal(srv.URL))
		Expect(res.creds.Scopes).To(Equal([]string{"scope-a"}))
	})

	It("prints the consent URL to the console but not to the log", func() {
		out, logs := &syncBuffer{}, &syncBuffer{}
		flow := &credentials.LocalServerFlow{
			SecretsFile: secretsPath,
			Scopes:      []string{"scope-a"},
			Out:         out,
			HTTPClient:  srv.Client(),
			Timeout:     3 * time.Second,
			Logger:      slog.New(slog.NewTextHandler(logs, nil)),
		}
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			_, err := flow.Authorize(ctx)
			errCh <- err
		}()

		parsed := consentURL(out)
		Eventually(logs.String, 2*time.Second, 20*time.Millisecond).Should(ContainSubstring("waiting for google authorization"))
		Expect(logs.String()).To(ContainSubstring(parsed.Query().Get("redirect_uri")))
		Expect(logs.String()).NotTo(ContainSubstring(parsed.Query().Get("state")))
		Expect(logs.String()).NotTo(ContainSubstring("accounts.example.test"))

		cancel()
		Eventually(errCh, 2*time.Second).Should(Receive(MatchError(context.Canceled)))
	})

	It("rejects a callback with a mismatched state", func() {
		out := &syncBuffer{}
		resCh := run(out)

		redirect := consentURL(out).Query().Get("redirect_uri")
		resp, err := http.Get(redirect + "?code=auth-code&state=wrong-state")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Body.Close()).To(Succeed())

		var res flowResult
		Eventually(resCh, 2*time.Second).Should(Receive(&res))
		Expect(res.err).To(MatchError(ContainSubstring("oauth state mismatch")))
	})

	It("reports an error returned by the consent screen", func() {
		out := &syncBuffer{}
		resCh := run(out)

		redirect := consentURL(out).Query().Get("redirect_uri")
		resp, err := http.Get(redirect + "?error=access_denied")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(resp.Body.Close()).To(Succeed())

		var res flowResult
		Eventually(resCh, 2*time.Second).Should(Receive(&res))
		Expect(res.err).To(MatchError(ContainSubstring("access_denied")))
	})

	It("rejects malformed client secrets", func() {
		Expect(os.WriteFile(secretsPath, []byte(`{"nothing":{}}`), 0o600)).To(Succeed())

		flow := &credentials.LocalServerFlow{SecretsFile: secretsPath}
		_, err := flow.Authorize(context.Background())
		Expect(err).To(MatchError(ContainSubstring("parsing client secrets")))
	})
})

var _ = Describe("PersistingTokenSource", func() {
	It("writes the token file when a new access token is handed out", func() {
		tmpDir, err := os.MkdirTemp("", "ts-test-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(tmpDir)

		store := credentials.NewStore(filepath.Join(tmpDir, "token.json"))
		start := &credentials.Credentials{AccessToken: "a1", RefreshToken: "r1", ClientID: "cid"}
		next := &oauth2.Token{AccessToken: "a2", Expiry: time.Now().Add(time.Hour)}

		ts := credentials.NewPersistingTokenSource(staticSource{tok: next}, start, store, nil)
		tok, err := ts.Token()
		Expect(err).NotTo(HaveOccurred())
		Expect(tok.AccessToken).To(Equal("a2"))

		saved, err := store.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.AccessToken).To(Equal("a2"))
		Expect(saved.RefreshToken).To(Equal("r1"))
		Expect(saved.ClientID).To(Equal("cid"))
	})

	It("leaves the token file alone while the token is unchanged", func() {
		tmpDir, err := os.MkdirTemp("", "ts-test-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(tmpDir)

		store := credentials.NewStore(filepath.Join(tmpDir, "token.json"))
		start := &credentials.Credentials{AccessToken: "a1"}

		ts := credentials.NewPersistingTokenSource(staticSource{tok: &oauth2.Token{AccessToken: "a1"}}, start, store, nil)
		_, err = ts.Token()
		Expect(err).NotTo(HaveOccurred())

		saved, err := store.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(saved).To(BeNil())
	})
})

var _ = Describe("Credentials", func() {
	It("treats a token without expiry as valid and not expired", func() {
		c := &credentials.Credentials{AccessToken: "x"}
		Expect(c.Valid(time.Now())).To(BeTrue())
		Expect(c.Expired(time.Now())).To(BeFalse())
	})

	It("treats a token expiring within the skew as expired", func() {
		c := &credentials.Credentials{AccessToken: "x", Expiry: time.Now().Add(5 * time.Second)}
		Expect(c.Expired(time.Now())).To(BeTrue())
		Expect(c.Valid(time.Now())).To(BeFalse())
	})

	It("is invalid when nil", func() {
		var c *credentials.Credentials
		Expect(c.Valid(time.Now())).To(BeFalse())
	})
})
