// Package tunnel forwards a local port to the analytics API through an SSH
// bastion. A tunnel lives for a fixed grace window and then closes itself,
// whether or not anything is still using it.
package tunnel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"engagement-sync/internal/domain"
	"engagement-sync/internal/sshconn"
)

const DefaultGrace = 10 * time.Second

type Provisioner struct {
	SSH        sshconn.Config
	LocalAddr  string
	RemoteAddr string
	Grace      time.Duration

	mu       sync.Mutex
	gen      int
	client   *ssh.Client
	ln       net.Listener
	timer    *time.Timer
	openedAt time.Time
	wg       sync.WaitGroup
}

func New(cfg sshconn.Config, localAddr, remoteAddr string, grace time.Duration) *Provisioner {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Provisioner{SSH: cfg, LocalAddr: localAddr, RemoteAddr: remoteAddr, Grace: grace}
}

// Enabled is false when no bastion is configured and the API is reached
// directly.
func (p *Provisioner) Enabled() bool {
	return p != nil && p.SSH.Host != ""
}

// Open makes sure a tunnel is up. A tunnel opened earlier and not yet expired
// is reused as is; its window is not extended.
func (p *Provisioner) Open(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ln != nil {
		return nil
	}

	client, err := sshconn.Dial(ctx, p.SSH)
	if err != nil {
		return &domain.ConnectivityError{Addr: p.SSH.Addr(), Err: err}
	}
	ln, err := net.Listen("tcp", p.LocalAddr)
	if err != nil {
		client.Close()
		return &domain.ConnectivityError{Addr: p.LocalAddr, Err: err}
	}

	p.gen++
	gen := p.gen
	p.client = client
	p.ln = ln
	p.openedAt = time.Now()
	p.timer = time.AfterFunc(p.Grace, func() { p.expire(gen) })

	p.wg.Add(1)
	go p.accept(ln, client)

	slog.InfoContext(ctx, "tunnel open",
		"bastion", p.SSH.Addr(),
		"local", ln.Addr().String(),
		"remote", p.RemoteAddr,
		"grace", p.Grace,
	)
	return nil
}

// Addr is the address the current tunnel listens on, or "" when none is open.
// Only tests look at it; callers dial LocalAddr.
func (p *Provisioner) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr().String()
}

// Close tears the tunnel down early. It is safe to call at any time.
func (p *Provisioner) Close() error {
	if !p.Enabled() {
		return nil
	}
	p.mu.Lock()
	err := p.teardownLocked()
	p.mu.Unlock()
	p.wg.Wait()
	return err
}

func (p *Provisioner) expire(gen int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || p.ln == nil {
		return
	}
	slog.Info("tunnel closed", "reason", "grace elapsed", "open_for", time.Since(p.openedAt).Round(time.Millisecond))
	p.teardownLocked()
}

func (p *Provisioner) teardownLocked() error {
	if p.ln == nil {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	err := errors.Join(p.ln.Close(), p.client.Close())
	p.ln, p.client, p.timer = nil, nil, nil
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (p *Provisioner) accept(ln net.Listener, client *ssh.Client) {
	defer p.wg.Done()
	for {
		local, err := ln.Accept()
		if err != nil {
			return
		}
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.forward(local, client)
		}()
	}
}

func (p *Provisioner) forward(local net.Conn, client *ssh.Client) {
	defer local.Close()

	remote, err := client.Dial("tcp", p.RemoteAddr)
	if err != nil {
		slog.Warn("tunnel forward failed", "remote", p.RemoteAddr, "err", err)
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}
