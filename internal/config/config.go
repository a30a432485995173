package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Analytics API
	APIBaseURL       string
	APIToken         string
	APITokenFile     string
	FetchMaxAttempts int

	// Archive
	ArchiveRoot    string
	WriteSnapshots bool
	CatalogPath    string
	LedgerPath     string

	// Tunnel
	TunnelHost                  string
	TunnelPort                  int
	TunnelUser                  string
	TunnelPass                  string
	TunnelKeyFile               string
	TunnelKnownHosts            string
	TunnelInsecureIgnoreHostKey bool
	TunnelLocalAddr             string
	TunnelRemoteAddr            string
	TunnelGrace                 time.Duration

	// Google Sheets
	SheetsClientSecret string
	SheetsTokenPath    string

	// SFTP mirror
	SFTPHost                  string
	SFTPPort                  int
	SFTPUser                  string
	SFTPPass                  string
	SFTPKeyFile               string
	SFTPDir                   string
	SFTPKnownHosts            string
	SFTPInsecureIgnoreHostKey bool

	LogLevel string
}

func Load() Config {
	return Config{
		// Analytics API
		APIBaseURL:       getenv("ANALYTICS_API_URL", "http://localhost:18100"),
		APIToken:         strings.TrimSpace(os.Getenv("ANALYTICS_TOKEN")),
		APITokenFile:     getenv("ANALYTICS_TOKEN_FILE", "hks_secret_token.txt"),
		FetchMaxAttempts: getenvInt("FETCH_MAX_ATTEMPTS", 3),

		// Archive
		ArchiveRoot:    getenv("ARCHIVE_ROOT", "archive"),
		WriteSnapshots: getenvBool("ARCHIVE_WRITE_SNAPSHOTS", false),
		CatalogPath:    os.Getenv("CATALOG_PATH"),
		LedgerPath:     getenv("LEDGER_PATH", "runs.db"),

		// Tunnel
		TunnelHost:                  os.Getenv("TUNNEL_SSH_HOST"),
		TunnelPort:                  getenvInt("TUNNEL_SSH_PORT", 22),
		TunnelUser:                  os.Getenv("TUNNEL_SSH_USER"),
		TunnelPass:                  os.Getenv("TUNNEL_SSH_PASS"),
		TunnelKeyFile:               os.Getenv("TUNNEL_SSH_KEY"),
		TunnelKnownHosts:            getenv("TUNNEL_KNOWN_HOSTS", homePath(".ssh", "known_hosts")),
		TunnelInsecureIgnoreHostKey: getenvBool("TUNNEL_INSECURE_IGNORE_HOSTKEY", false),
		TunnelLocalAddr:             getenv("TUNNEL_LOCAL_ADDR", "127.0.0.1:18100"),
		TunnelRemoteAddr:            getenv("TUNNEL_REMOTE_ADDR", "localhost:18100"),
		TunnelGrace:                 time.Duration(getenvInt("TUNNEL_GRACE_SECONDS", 10)) * time.Second,

		// Google Sheets
		SheetsClientSecret: getenv("SHEETS_CLIENT_SECRET", "client_secret.json"),
		SheetsTokenPath:    getenv("SHEETS_TOKEN_PATH", homePath(".credentials", "sheets.googleapis.com-engagement-sync.json")),

		// SFTP mirror
		SFTPHost:                  os.Getenv("SFTP_HOST"),
		SFTPPort:                  getenvInt("SFTP_PORT", 22),
		SFTPUser:                  os.Getenv("SFTP_USER"),
		SFTPPass:                  os.Getenv("SFTP_PASS"),
		SFTPKeyFile:               os.Getenv("SFTP_KEY"),
		SFTPDir:                   getenv("SFTP_DIR", "/inbound"),
		SFTPKnownHosts:            getenv("SFTP_KNOWN_HOSTS", homePath(".ssh", "known_hosts")),
		SFTPInsecureIgnoreHostKey: getenvBool("SFTP_INSECURE_IGNORE_HOSTKEY", false),

		LogLevel: getenv("LOG_LEVEL", "info"),
	}
}

// MirrorEnabled reports whether master files are replicated over SFTP.
func (c Config) MirrorEnabled() bool { return c.SFTPHost != "" }

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func homePath(elem ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(elem...)
	}
	return filepath.Join(append([]string{home}, elem...)...)
}
