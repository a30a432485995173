// Package sshconn builds SSH client connections for the tunnel and the
// archive mirror from one set of settings.
package sshconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type Config struct {
	Host                  string
	Port                  int
	User                  string
	Pass                  string
	KeyFile               string
	KnownHosts            string
	InsecureIgnoreHostKey bool
	Timeout               time.Duration

	// HostKey pins a single key and wins over KnownHosts.
	HostKey ssh.PublicKey
}

func (c Config) Addr() string {
	port := c.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// ClientConfig resolves auth methods and host key verification. A key file is
// tried before the password when both are set.
func (c Config) ClientConfig() (*ssh.ClientConfig, error) {
	if c.Host == "" || c.User == "" {
		return nil, errors.New("ssh: host and user are required")
	}

	var auth []ssh.AuthMethod
	if c.KeyFile != "" {
		pem, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("ssh: read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("ssh: parse key %s: %w", c.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.Pass != "" {
		auth = append(auth, ssh.Password(c.Pass))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh: no password or key file configured")
	}

	cb, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: cb,
		Timeout:         timeout,
	}, nil
}

func (c Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	switch {
	case c.HostKey != nil:
		return ssh.FixedHostKey(c.HostKey), nil
	case c.InsecureIgnoreHostKey:
		return ssh.InsecureIgnoreHostKey(), nil
	case c.KnownHosts != "":
		cb, err := knownhosts.New(c.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("ssh: known_hosts: %w", err)
		}
		return cb, nil
	}
	return nil, errors.New("ssh: no known_hosts file and host key checking not disabled")
}

// Dial connects and authenticates, honouring ctx for the TCP dial and the
// handshake.
func Dial(ctx context.Context, c Config) (*ssh.Client, error) {
	cfg, err := c.ClientConfig()
	if err != nil {
		return nil, err
	}

	addr := c.Addr()
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// Abort the handshake if ctx goes away first.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return ssh.NewClient(sc, chans, reqs), nil
}
