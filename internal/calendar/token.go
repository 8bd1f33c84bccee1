package calendar

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

// Scope is the OAuth scope requested for calendar access.
const Scope = gcal.CalendarScope

// expiryLayout matches the expiry written by google-auth token files.
const expiryLayout = "2006-01-02T15:04:05.000000Z"

var (
	// ErrNoToken is returned when the token file does not exist.
	ErrNoToken = errors.New("calendar token not found")
	// ErrInvalidToken is returned when the token file holds no usable credentials.
	ErrInvalidToken = errors.New("calendar token is invalid")
)

// tokenFile is the "authorized_user" JSON layout shared with google-auth.
type tokenFile struct {
	Token          string   `json:"token"`
	RefreshToken   string   `json:"refresh_token"`
	TokenURI       string   `json:"token_uri"`
	ClientID       string   `json:"client_id"`
	ClientSecret   string   `json:"client_secret"`
	Scopes         []string `json:"scopes"`
	UniverseDomain string   `json:"universe_domain,omitempty"`
	Account        string   `json:"account,omitempty"`
	Expiry         string   `json:"expiry,omitempty"`
}

// LoadToken reads a token file into an OAuth config and token.
func LoadToken(path string) (*oauth2.Config, *oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNoToken, path)
		}
		return nil, nil, fmt.Errorf("read token file: %w", err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidToken, path, err)
	}
	if tf.Token == "" && tf.RefreshToken == "" {
		return nil, nil, fmt.Errorf("%w: %s has neither token nor refresh_token", ErrInvalidToken, path)
	}

	tokenURL := tf.TokenURI
	if tokenURL == "" {
		tokenURL = google.Endpoint.TokenURL
	}
	scopes := tf.Scopes
	if len(scopes) == 0 {
		scopes = []string{Scope}
	}

	cfg := &oauth2.Config{
		ClientID:     tf.ClientID,
		ClientSecret: tf.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  google.Endpoint.AuthURL,
			TokenURL: tokenURL,
		},
		Scopes: scopes,
	}

	tok := &oauth2.Token{
		AccessToken:  tf.Token,
		RefreshToken: tf.RefreshToken,
		TokenType:    "Bearer",
	}
	if tf.Expiry != "" {
		expiry, err := time.Parse(time.RFC3339Nano, tf.Expiry)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad expiry %q: %v", ErrInvalidToken, tf.Expiry, err)
		}
		tok.Expiry = expiry
	}

	return cfg, tok, nil
}

// SaveToken writes a token file readable by both this program and google-auth.
func SaveToken(path string, cfg *oauth2.Config, tok *oauth2.Token) error {
	tf := tokenFile{
		Token:          tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		TokenURI:       cfg.Endpoint.TokenURL,
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		Scopes:         cfg.Scopes,
		UniverseDomain: "googleapis.com",
	}
	if !tok.Expiry.IsZero() {
		tf.Expiry = tok.Expiry.UTC().Format(expiryLayout)
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// persistingSource writes refreshed tokens back to disk.
type persistingSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	path   string
	cfg    *oauth2.Config
	access string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.access {
		p.access = tok.AccessToken
		if err := SaveToken(p.path, p.cfg, tok); err != nil {
			slog.Warn("Failed to persist refreshed calendar token", "path", p.path, "error", err)
		} else {
			slog.Info("Calendar token refreshed", "path", p.path, "expiry", tok.Expiry)
		}
	}
	return tok, nil
}

// TokenSource loads the token file and returns a source that refreshes and
// persists tokens as needed.
func TokenSource(ctx context.Context, path string) (oauth2.TokenSource, error) {
	cfg, tok, err := LoadToken(path)
	if err != nil {
		return nil, err
	}
	src := &persistingSource{
		base:   cfg.TokenSource(ctx, tok),
		path:   path,
		cfg:    cfg,
		access: tok.AccessToken,
	}
	return oauth2.ReuseTokenSource(tok, src), nil
}

// ConfigFromCredentials reads an OAuth client credentials file downloaded from
// the Google Cloud console.
func ConfigFromCredentials(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, Scope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return cfg, nil
}

// Exchange trades an authorization code for a token and saves it.
func Exchange(ctx context.Context, cfg *oauth2.Config, code, tokenPath string) (*oauth2.Token, error) {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := SaveToken(tokenPath, cfg, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// Authorize runs the installed-app consent flow: it prints the consent URL,
// waits for the loopback redirect and writes the token file.
func Authorize(ctx context.Context, credentialsPath, tokenPath string, out io.Writer) error {
	cfg, err := ConfigFromCredentials(credentialsPath)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for oauth redirect: %w", err)
	}
	cfg.RedirectURL = "http://" + ln.Addr().String() + "/"

	state, err := randomState()
	if err != nil {
		_ = ln.Close()
		return err
	}

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("state") != state {
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			}
			if e := q.Get("error"); e != "" {
				http.Error(w, "authorization failed: "+e, http.StatusBadRequest)
				select {
				case errCh <- fmt.Errorf("authorization denied: %s", e):
				default:
				}
				return
			}
			_, _ = io.WriteString(w, "Authorization complete. You can close this window.")
			select {
			case codeCh <- q.Get("code"):
			default:
			}
		}),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this URL in your browser to authorize calendar access:\n\n%s\n\n", authURL)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	case code := <-codeCh:
		if _, err := Exchange(ctx, cfg, code, tokenPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "Token saved to %s\n", tokenPath)
		return nil
	}
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
