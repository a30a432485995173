// Package credentials holds the secrets the pipeline needs: the analytics API
// token and the OAuth2 client plus stored token used for Google Sheets.
package credentials

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/sheets/v4"
)

// ErrNoToken means the interactive authorization has never been run.
var ErrNoToken = errors.New("credentials: no stored sheets token (run the auth command)")

// ReadToken reads the analytics secret token file. Surrounding whitespace is
// dropped; an empty file is an error.
func ReadToken(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("credentials: read token: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", fmt.Errorf("credentials: token file %s is empty", path)
	}
	return tok, nil
}

// Store keeps the OAuth2 client secret and the user's token on disk.
type Store struct {
	ClientSecretPath string
	TokenPath        string
}

// Config parses the client secret downloaded from the Google console.
func (s *Store) Config() (*oauth2.Config, error) {
	b, err := os.ReadFile(s.ClientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("credentials: read client secret: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("credentials: parse client secret: %w", err)
	}
	return cfg, nil
}

func (s *Store) Load() (*oauth2.Token, error) {
	b, err := os.ReadFile(s.TokenPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, fmt.Errorf("credentials: decode token %s: %w", s.TokenPath, err)
	}
	return &tok, nil
}

// Save writes tok readable by the owner only.
func (s *Store) Save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.TokenPath), 0o700); err != nil {
		return fmt.Errorf("credentials: create token dir: %w", err)
	}
	b, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.TokenPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("credentials: write token: %w", err)
	}
	if err := os.Rename(tmp, s.TokenPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("credentials: write token: %w", err)
	}
	return nil
}

// TokenSource returns a source that refreshes the stored token when it
// expires and writes every refreshed token back to disk.
func (s *Store) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}
	tok, err := s.Load()
	if err != nil {
		return nil, err
	}
	return oauth2.ReuseTokenSource(tok, &persisting{
		store: s,
		base:  cfg.TokenSource(ctx, tok),
		last:  tok.AccessToken,
	}), nil
}

type persisting struct {
	store *Store
	base  oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func (p *persisting) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.store.Save(tok); err != nil {
			return nil, err
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}

// Authorize runs the installed-app code flow: it prints the consent URL to
// out, reads the authorization code from in and stores the resulting token.
func (s *Store) Authorize(ctx context.Context, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}

	url := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this link in your browser, approve access, then paste the code parameter of the page you land on:\n\n%s\n\ncode: ", url)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("credentials: read code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return nil, errors.New("credentials: no authorization code entered")
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("credentials: exchange code: %w", err)
	}
	if err := s.Save(tok); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Credentials stored to %s\n", s.TokenPath)
	return tok, nil
}
