package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Mindburn-Labs/briefgate/pkg/artifacts"
	"github.com/Mindburn-Labs/briefgate/pkg/backends/connector"
	"github.com/Mindburn-Labs/briefgate/pkg/backends/designtool"
	"github.com/Mindburn-Labs/briefgate/pkg/backends/pdfservices"
	"github.com/Mindburn-Labs/briefgate/pkg/budget"
	"github.com/Mindburn-Labs/briefgate/pkg/config"
	"github.com/Mindburn-Labs/briefgate/pkg/credentials"
	"github.com/Mindburn-Labs/briefgate/pkg/ledger"
	"github.com/Mindburn-Labs/briefgate/pkg/observability"
	"github.com/Mindburn-Labs/briefgate/pkg/payload"
	"github.com/Mindburn-Labs/briefgate/pkg/pipeline"
	"github.com/Mindburn-Labs/briefgate/pkg/router"
	"github.com/Mindburn-Labs/briefgate/pkg/template"

	_ "modernc.org/sqlite"
)

// EnvVaultPassphrase unlocks the credentials vault.
const EnvVaultPassphrase = "BRIEFGATE_VAULT_PASSPHRASE"

// renderOptions are the per-invocation backend knobs set by flags.
type renderOptions struct {
	credentialsPath string
	activeTitle     string
	metadataPath    string
	mock            bool
}

// descriptor builds the approved template descriptor from configuration.
func descriptor(cfg config.TemplateConfig) (template.Descriptor, error) {
	if cfg.ManifestPath != "" {
		m, err := template.LoadManifest(cfg.ManifestPath)
		if err != nil {
			return template.Descriptor{}, err
		}
		return m.Descriptor(cfg.Dir, cfg.Name, cfg.Keyword), nil
	}
	name := cfg.Name
	if name == "" {
		name = template.DefaultTemplateName
	}
	return template.Descriptor{
		TemplateName:    name,
		RequiredKeyword: cfg.Keyword,
		CanonicalPath:   filepath.Join(cfg.Dir, name),
	}, nil
}

// services owns the long-lived dependencies of one CLI invocation.
type services struct {
	cfg      *config.Config
	getenv   func(string) string
	obs      *observability.Provider
	ledger   *ledger.Store
	store    artifacts.Store
	limiter  budget.Limiter
	closers  []func() error
	bindings map[string]string
	desc     template.Descriptor
}

func (a *app) openServices(ctx context.Context) (*services, error) {
	cfg := a.cfg
	s := &services{cfg: cfg, getenv: a.getenv}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.Enabled = cfg.Observability.Enabled
	obsCfg.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	obsCfg.SampleRate = cfg.Observability.SampleRate
	obsCfg.Insecure = cfg.Observability.Insecure
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, err
	}
	s.obs = obs
	s.closers = append(s.closers, func() error { return obs.Shutdown(context.Background()) })

	if s.desc, err = descriptor(cfg.Template); err != nil {
		_ = s.Close()
		return nil, err
	}
	if cfg.Template.BindingsPath != "" {
		if s.bindings, err = designtool.LoadBindings(cfg.Template.BindingsPath); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	if cfg.Ledger.DSN != "" && cfg.Ledger.DSN != "none" {
		led, err := ledger.Open(ctx, cfg.Ledger.DSN)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		s.ledger = led
		s.closers = append(s.closers, led.Close)
	}

	if s.store, err = artifacts.New(ctx, cfg.Artifacts); err != nil {
		_ = s.Close()
		return nil, err
	}

	policy := budget.Policy{PerMinute: cfg.Budget.PerMinute, Burst: cfg.Budget.Burst}
	switch cfg.Budget.Backend {
	case "redis":
		s.limiter = budget.NewRedisLimiter(cfg.Budget.RedisAddr, cfg.Budget.RedisPassword, cfg.Budget.RedisDB, policy)
	case "none":
		s.limiter = budget.Unlimited{}
	default:
		s.limiter = budget.NewMemoryLimiter(policy)
	}
	return s, nil
}

func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func (s *services) pipeline(ro renderOptions) *pipeline.Pipeline {
	opts := []pipeline.Option{
		pipeline.WithArtifactStore(s.store),
		pipeline.WithObservability(s.obs),
		pipeline.WithConcurrency(s.cfg.Batch.Concurrency),
	}
	if s.ledger != nil {
		opts = append(opts, pipeline.WithRecorder(s.ledger))
	}
	return pipeline.New(s.routerFactory(ro), opts...)
}

// routerFactory builds per-request backends: the design tool writes its job
// next to the request log, the fallback writes to the output path.
func (s *services) routerFactory(ro renderOptions) pipeline.RouterFactory {
	fallback := s.fallbackSource(ro)
	return func(req pipeline.Request, paths pipeline.Paths) (*router.Router, error) {
		policy, err := router.ParsePendingPolicy(s.cfg.Router.PendingPolicy)
		if err != nil {
			return nil, err
		}
		profile, err := connector.ParseProfile(s.cfg.Connector.Profile)
		if err != nil {
			return nil, err
		}

		rt := designtool.NewJobFileRuntime(paths.Job)
		rt.Title = ro.activeTitle
		primary := designtool.NewBackend(rt, designtool.Config{
			Descriptor:   req.Descriptor,
			Bindings:     s.bindings,
			ExpectedPath: paths.Output,
		})

		fb, err := fallback(paths.Output)
		if err != nil {
			return nil, err
		}
		return router.New(primary, fb,
			router.WithPendingPolicy(policy),
			router.WithAttemptTimeout(s.cfg.Router.AttemptTimeout),
			router.WithHandoffBuilder(&connector.Builder{Profile: profile, PromptPath: paths.Prompt, ExpectedPath: paths.Output}),
			router.WithObservability(s.obs),
		), nil
	}
}

// fallbackSource returns a constructor for the fallback backend. The REST
// client is shared across requests so the access token is reused.
func (s *services) fallbackSource(ro renderOptions) func(output string) (router.Backend, error) {
	if ro.mock || s.cfg.PDFServices.Mock {
		var metadata map[string]string
		var metaErr error
		if ro.metadataPath != "" {
			metadata, metaErr = loadMetadata(ro.metadataPath)
		}
		return func(output string) (router.Backend, error) {
			if metaErr != nil {
				return nil, metaErr
			}
			return &pdfservices.MockRenderer{OutputPath: output, Metadata: metadata}, nil
		}
	}
	lazy := &lazyClient{services: s, credentialsPath: ro.credentialsPath}
	return func(output string) (router.Backend, error) {
		return &deferredBackend{client: lazy, output: output}, nil
	}
}

func loadMetadata(path string) (map[string]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied metadata file
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return out, nil
}

// lazyClient resolves credentials on first use, so a run that never falls
// back never needs them. Only a built client is cached; a failed resolution
// is retried by the next caller.
type lazyClient struct {
	services        *services
	credentialsPath string

	mu     sync.Mutex
	client *pdfservices.Client
}

func (l *lazyClient) get(ctx context.Context) (*pdfservices.Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		return l.client, nil
	}

	creds, err := l.services.resolveCredentials(ctx, l.credentialsPath)
	if err != nil {
		return nil, err
	}
	slog.Default().With("component", "cli").InfoContext(ctx, "credentials resolved",
		"source", creds.Source, "client_id", credentials.Mask(creds.ClientID))
	pc := l.services.cfg.PDFServices
	opts := []pdfservices.ClientOption{pdfservices.WithBudget(l.services.limiter)}
	if pc.RatePerSecond > 0 {
		opts = append(opts, pdfservices.WithRateLimit(pc.RatePerSecond, 1))
	}
	c, err := pdfservices.NewClient(pdfservices.Config{
		BaseURL:        pc.BaseURL,
		TokenURL:       pc.TokenURL,
		PollInterval:   pc.PollInterval,
		PollTimeout:    pc.PollTimeout,
		RequestTimeout: pc.RequestTimeout,
	}, creds, opts...)
	if err != nil {
		return nil, err
	}
	l.client = c
	return c, nil
}

type deferredBackend struct {
	client *lazyClient
	output string
}

func (d *deferredBackend) Kind() router.BackendKind { return router.Fallback }

func (d *deferredBackend) AttemptRender(ctx context.Context, p payload.Payload) (router.Outcome, error) {
	c, err := d.client.get(ctx)
	if err != nil {
		return router.Outcome{}, fmt.Errorf("pdf services: %w", err)
	}
	return pdfservices.NewBackend(c, d.output).AttemptRender(ctx, p)
}

// resolveCredentials walks the standard strategies, then the vault when one
// is configured and unlocked.
func (s *services) resolveCredentials(ctx context.Context, explicitPath string) (credentials.Credentials, error) {
	if explicitPath == "" {
		explicitPath = s.cfg.PDFServices.CredentialsPath
	}
	strategies := credentials.DefaultStrategies(explicitPath, s.getenv)

	if vp := s.cfg.PDFServices.VaultPath; vp != "" {
		pass := s.getenv(EnvVaultPassphrase)
		if pass == "" {
			return credentials.Credentials{}, fmt.Errorf("vault %s configured but %s is not set", vp, EnvVaultPassphrase)
		}
		db, err := sql.Open("sqlite", vp)
		if err != nil {
			return credentials.Credentials{}, fmt.Errorf("open vault: %w", err)
		}
		defer func() { _ = db.Close() }()
		v, err := credentials.OpenVault(ctx, db, pass)
		if err != nil {
			return credentials.Credentials{}, err
		}
		strategies = append(strategies, v.Strategy(s.cfg.PDFServices.VaultProfile))
	}
	return credentials.Resolve(ctx, strategies...)
}
