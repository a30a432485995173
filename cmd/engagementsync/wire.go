package main

import (
	"context"
	"errors"
	"fmt"

	"engagement-sync/internal/analytics"
	"engagement-sync/internal/archive"
	"engagement-sync/internal/credentials"
	"engagement-sync/internal/domain"
	"engagement-sync/internal/ledger"
	"engagement-sync/internal/pipeline"
	"engagement-sync/internal/sftpclient"
	"engagement-sync/internal/sheets"
	"engagement-sync/internal/sshconn"
	"engagement-sync/internal/tunnel"
)

func (a *app) apiToken() (string, error) {
	if a.cfg.APIToken != "" {
		return a.cfg.APIToken, nil
	}
	tok, err := credentials.ReadToken(a.cfg.APITokenFile)
	if err != nil {
		return "", &domain.ConfigurationError{Key: "ANALYTICS_TOKEN_FILE", Reason: err.Error()}
	}
	return tok, nil
}

func (a *app) tunnel() *tunnel.Provisioner {
	return tunnel.New(sshconn.Config{
		Host:                  a.cfg.TunnelHost,
		Port:                  a.cfg.TunnelPort,
		User:                  a.cfg.TunnelUser,
		Pass:                  a.cfg.TunnelPass,
		KeyFile:               a.cfg.TunnelKeyFile,
		KnownHosts:            a.cfg.TunnelKnownHosts,
		InsecureIgnoreHostKey: a.cfg.TunnelInsecureIgnoreHostKey,
	}, a.cfg.TunnelLocalAddr, a.cfg.TunnelRemoteAddr, a.cfg.TunnelGrace)
}

func (a *app) archives() pipeline.ArchiverFor {
	return func(fieldSet string, fields []string) pipeline.Archiver {
		return archive.NewWriter(a.cfg.ArchiveRoot, fieldSet, fields)
	}
}

func (a *app) mirror() *sftpclient.Uploader {
	return sftpclient.New(sshconn.Config{
		Host:                  a.cfg.SFTPHost,
		Port:                  a.cfg.SFTPPort,
		User:                  a.cfg.SFTPUser,
		Pass:                  a.cfg.SFTPPass,
		KeyFile:               a.cfg.SFTPKeyFile,
		KnownHosts:            a.cfg.SFTPKnownHosts,
		InsecureIgnoreHostKey: a.cfg.SFTPInsecureIgnoreHostKey,
	}, a.cfg.SFTPDir)
}

func (a *app) store() *credentials.Store {
	return &credentials.Store{ClientSecretPath: a.cfg.SheetsClientSecret, TokenPath: a.cfg.SheetsTokenPath}
}

func (a *app) publisher(ctx context.Context) (*sheets.Publisher, error) {
	ts, err := a.store().TokenSource(ctx)
	if errors.Is(err, credentials.ErrNoToken) {
		return nil, &domain.ConfigurationError{Key: "SHEETS_TOKEN_PATH", Reason: err.Error()}
	}
	if err != nil {
		return nil, err
	}
	return sheets.New(ctx, ts)
}

func (a *app) openLedger() (*ledger.Ledger, error) {
	if a.cfg.LedgerPath == "" {
		return nil, nil
	}
	return ledger.Open(a.cfg.LedgerPath)
}

// runner assembles a pipeline.Runner. withSheets adds the publisher, which
// needs stored OAuth credentials.
func (a *app) runner(ctx context.Context, withSheets bool) (*pipeline.Runner, func(), error) {
	token, err := a.apiToken()
	if err != nil {
		return nil, nil, err
	}

	tun := a.tunnel()
	r := &pipeline.Runner{
		Catalog:        a.catalog,
		Tunnel:         tun,
		Fetcher:        analytics.New(a.cfg.APIBaseURL, token, a.cfg.FetchMaxAttempts),
		Archives:       a.archives(),
		WriteSnapshots: a.cfg.WriteSnapshots,
	}
	if a.cfg.MirrorEnabled() {
		r.Mirror = a.mirror()
	}
	if withSheets {
		pub, err := a.publisher(ctx)
		if err != nil {
			return nil, nil, err
		}
		r.Publisher = pub
	}

	led, err := a.openLedger()
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	if led != nil {
		r.Ledger = led
	}

	cleanup := func() {
		tun.Close()
		if led != nil {
			led.Close()
		}
	}
	return r, cleanup, nil
}
