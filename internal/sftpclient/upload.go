// Package sftpclient mirrors archive files to a shared SFTP drop.
package sftpclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"

	"engagement-sync/internal/sshconn"
)

type Uploader struct {
	SSH       sshconn.Config
	RemoteDir string
}

func New(cfg sshconn.Config, remoteDir string) *Uploader {
	if remoteDir == "" {
		remoteDir = "/"
	}
	return &Uploader{SSH: cfg, RemoteDir: remoteDir}
}

// Upload copies localPath to RemoteDir/remoteName, creating directories on
// the way. remoteName may contain a subdirectory ("AGG/AGG_engagement_master.csv").
// The file is written under a temporary name and renamed, so readers of the
// drop never see a half-written master.
func (u *Uploader) Upload(ctx context.Context, localPath, remoteName string) error {
	if u.SSH.Host == "" || u.SSH.User == "" || (u.SSH.Pass == "" && u.SSH.KeyFile == "") {
		return fmt.Errorf("sftp: missing env SFTP_HOST / SFTP_USER / SFTP_PASS or SFTP_KEY")
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("sftp: open local file: %w", err)
	}
	defer src.Close()

	sshClient, err := sshconn.Dial(ctx, u.SSH)
	if err != nil {
		return fmt.Errorf("sftp: dial error: %w", err)
	}
	defer sshClient.Close()

	sftpCli, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("sftp: new client: %w", err)
	}
	defer sftpCli.Close()

	remotePath := path.Join(u.RemoteDir, remoteName)
	remoteDir := path.Dir(remotePath)
	if err := sftpCli.MkdirAll(remoteDir); err != nil {
		return fmt.Errorf("sftp: mkdir %s: %w", remoteDir, err)
	}

	tmpPath := remotePath + ".part"
	dst, err := sftpCli.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("sftp: create remote file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		sftpCli.Remove(tmpPath)
		return fmt.Errorf("sftp: upload copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		sftpCli.Remove(tmpPath)
		return fmt.Errorf("sftp: close remote file: %w", err)
	}
	if err := sftpCli.PosixRename(tmpPath, remotePath); err != nil {
		sftpCli.Remove(tmpPath)
		return fmt.Errorf("sftp: rename %s: %w", remotePath, err)
	}
	return nil
}
