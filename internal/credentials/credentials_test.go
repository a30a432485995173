package credentials

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestReadToken(t *testing.T) {
	dir := t.TempDir()

	testCases := []struct {
		name     string
		content  string
		expected string
		wantErr  bool
	}{
		{"trailing newline", "abc123\n", "abc123", false},
		{"windows newline", "abc123\r\n", "abc123", false},
		{"empty", "\n", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "_"))
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))

			got, err := ReadToken(path)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected error, got token %q", got)
				}
				return
			}
			require.NoError(t, err)
			if got != tc.expected {
				t.Errorf("ReadToken() = %q; expected %q", got, tc.expected)
			}
		})
	}

	if _, err := ReadToken(filepath.Join(dir, "missing")); err == nil {
		t.Error("Expected error for a missing token file")
	}
}

// newStore writes a client secret whose token endpoint is served by h.
func newStore(t *testing.T, h http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	secret := fmt.Sprintf(`{"installed":{"client_id":"cid","client_secret":"csec",`+
		`"auth_uri":"%[1]s/auth","token_uri":"%[1]s/token","redirect_uris":["http://localhost"]}}`, srv.URL)
	s := &Store{
		ClientSecretPath: filepath.Join(dir, "client_secret.json"),
		TokenPath:        filepath.Join(dir, "creds", "sheets.json"),
	}
	require.NoError(t, os.WriteFile(s.ClientSecretPath, []byte(secret), 0o600))
	return s
}

func tokenEndpoint(access string, calls *int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600,"refresh_token":"refresh-1"}`, access)
	}
}

func TestConfig(t *testing.T) {
	s := newStore(t, http.NotFound)

	cfg, err := s.Config()
	require.NoError(t, err)
	if cfg.ClientID != "cid" {
		t.Errorf("Expected ClientID cid, got %s", cfg.ClientID)
	}
	if len(cfg.Scopes) != 1 || !strings.Contains(cfg.Scopes[0], "spreadsheets") {
		t.Errorf("Expected spreadsheets scope, got %v", cfg.Scopes)
	}
}

func TestSaveLoad(t *testing.T) {
	s := newStore(t, http.NotFound)

	if _, err := s.Load(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("Expected ErrNoToken before Save, got %v", err)
	}

	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, s.Save(tok))

	info, err := os.Stat(s.TokenPath)
	require.NoError(t, err)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected token file mode 0600, got %v", info.Mode().Perm())
	}

	got, err := s.Load()
	require.NoError(t, err)
	if got.AccessToken != "a" || got.RefreshToken != "r" || !got.Expiry.Equal(tok.Expiry) {
		t.Errorf("Loaded token differs: %+v", got)
	}
}

func TestTokenSourceWithoutToken(t *testing.T) {
	s := newStore(t, http.NotFound)
	if _, err := s.TokenSource(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("Expected ErrNoToken, got %v", err)
	}
}

func TestTokenSourceRefreshesAndPersists(t *testing.T) {
	calls := 0
	s := newStore(t, tokenEndpoint("fresh", &calls))
	require.NoError(t, s.Save(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-0",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	ts, err := s.TokenSource(context.Background())
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)

	if tok.AccessToken != "fresh" {
		t.Errorf("Expected refreshed token, got %s", tok.AccessToken)
	}
	if calls != 1 {
		t.Errorf("Expected one refresh call, got %d", calls)
	}

	stored, err := s.Load()
	require.NoError(t, err)
	if stored.AccessToken != "fresh" {
		t.Errorf("Expected refreshed token on disk, got %s", stored.AccessToken)
	}
}

func TestTokenSourceValidTokenNoRefresh(t *testing.T) {
	calls := 0
	s := newStore(t, tokenEndpoint("fresh", &calls))
	require.NoError(t, s.Save(&oauth2.Token{AccessToken: "valid", Expiry: time.Now().Add(time.Hour)}))

	ts, err := s.TokenSource(context.Background())
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	if tok.AccessToken != "valid" || calls != 0 {
		t.Errorf("Expected stored token without refresh, got %s after %d calls", tok.AccessToken, calls)
	}
}

func TestAuthorize(t *testing.T) {
	calls := 0
	s := newStore(t, tokenEndpoint("granted", &calls))

	var out bytes.Buffer
	tok, err := s.Authorize(context.Background(), strings.NewReader("4/abc-code\n"), &out)
	require.NoError(t, err)

	if tok.AccessToken != "granted" {
		t.Errorf("Expected exchanged token, got %s", tok.AccessToken)
	}
	if !strings.Contains(out.String(), "/auth?") || !strings.Contains(out.String(), "access_type=offline") {
		t.Errorf("Expected consent URL in output, got %q", out.String())
	}
	stored, err := s.Load()
	require.NoError(t, err)
	if stored.RefreshToken != "refresh-1" {
		t.Errorf("Expected refresh token to be stored, got %q", stored.RefreshToken)
	}

	if _, err := s.Authorize(context.Background(), strings.NewReader("\n"), &out); err == nil {
		t.Error("Expected error for an empty code")
	}
}
