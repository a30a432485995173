package sftpclient

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"engagement-sync/internal/sshconn"
	"engagement-sync/internal/sshconn/sshtest"
)

func TestNew(t *testing.T) {
	u := New(sshconn.Config{Host: "drop"}, "")
	if u.RemoteDir != "/" {
		t.Errorf("Expected default RemoteDir to be '/', got %q", u.RemoteDir)
	}
}

func TestUploadValidation(t *testing.T) {
	ctx := context.Background()

	const (
		testHost = "test-host"
		testUser = "test-user"
		testPass = "test-pass"
		testFile = "test.txt"
	)

	testCases := []struct {
		name          string
		cfg           sshconn.Config
		localPath     string
		errorContains string
	}{
		{
			name:          "Missing credentials",
			cfg:           sshconn.Config{},
			localPath:     testFile,
			errorContains: "sftp: missing env SFTP_HOST / SFTP_USER / SFTP_PASS or SFTP_KEY",
		},
		{
			name:          "Non-existent local file",
			cfg:           sshconn.Config{Host: testHost, User: testUser, Pass: testPass},
			localPath:     "non_existent_file.txt",
			errorContains: "sftp: open local file",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := New(tc.cfg, "/inbound").Upload(ctx, tc.localPath, testFile)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.errorContains) {
				t.Errorf("Expected error to contain %q, got %q", tc.errorContains, err.Error())
			}
		})
	}
}

func TestUpload(t *testing.T) {
	srv := sshtest.Start(t, "mirror", "hunter2")

	local := filepath.Join(t.TempDir(), "AGG_engagement_master.csv")
	content := "user_id,download_datetime_UTC\r\n1,2024-01-01 00:00:00\r\n"
	require.NoError(t, os.WriteFile(local, []byte(content), 0o644))

	drop := t.TempDir()
	u := New(sshconn.Config{
		Host: srv.Host, Port: srv.Port, User: "mirror", Pass: "hunter2", HostKey: srv.HostKey,
	}, drop)

	require.NoError(t, u.Upload(context.Background(), local, "AGG/AGG_engagement_master.csv"))

	got, err := os.ReadFile(filepath.Join(drop, "AGG", "AGG_engagement_master.csv"))
	require.NoError(t, err)
	if string(got) != content {
		t.Errorf("Uploaded content mismatch: %q", got)
	}

	// a second upload replaces the first
	require.NoError(t, os.WriteFile(local, []byte(content+"2,2024-01-08 00:00:00\r\n"), 0o644))
	require.NoError(t, u.Upload(context.Background(), local, "AGG/AGG_engagement_master.csv"))
	got, err = os.ReadFile(filepath.Join(drop, "AGG", "AGG_engagement_master.csv"))
	require.NoError(t, err)
	if !strings.HasSuffix(string(got), "2,2024-01-08 00:00:00\r\n") {
		t.Errorf("Expected replaced content, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(drop, "AGG", "AGG_engagement_master.csv.part")); !os.IsNotExist(err) {
		t.Error("Expected no temporary file left behind")
	}
}

func TestUploadDialError(t *testing.T) {
	local := filepath.Join(t.TempDir(), "f.csv")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	u := New(sshconn.Config{Host: "127.0.0.1", Port: 1, User: "u", Pass: "p", InsecureIgnoreHostKey: true}, "/inbound")
	err := u.Upload(context.Background(), local, "f.csv")
	if err == nil || !strings.Contains(err.Error(), "sftp: dial error") {
		t.Errorf("Expected dial error, got %v", err)
	}
}
