package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"paper2slides/pkg/domain"
	"paper2slides/pkg/guard"
	"paper2slides/pkg/poller"
	"paper2slides/pkg/storage"
	"paper2slides/pkg/store"
	"paper2slides/services/generator/internal/backend"
	"paper2slides/services/generator/internal/config"
)

// App bundles the conversation store, backend client and orchestrator built from config.
type App struct {
	Store        *store.ConversationStore
	Backend      *backend.Client
	Orchestrator *Orchestrator
	// Archive is nil when no artifact archive is configured.
	Archive  storage.ObjectStore
	Defaults domain.GenerationConfig

	logger  *slog.Logger
	closers []func() error
}

const artifactLinkTTL = time.Hour

// New wires every component from cfg. onWorkflow may be nil.
func New(cfg config.FileConfig, logger *slog.Logger, onWorkflow func(domain.WorkflowState)) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Defaults: cfg.GenerationDefaults(), logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	persister, err := newPersister(cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := persister.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	convs, err := store.NewConversationStore(store.Options{
		Persister: persister,
		Logger:    logger,
		ReleasePreview: func(handle string) {
			logger.Debug("preview released", "handle", handle)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init conversation store: %w", err)
	}
	a.Store = convs

	var fetchGuard guard.Guard = guard.NewMemoryGuard()
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		rg, err := guard.NewRedisGuard(cfg.RedisAddr, cfg.RedisPassword, "", config.Millis(cfg.FetchGuardTTLMs))
		if err != nil {
			return nil, fmt.Errorf("init fetch guard: %w", err)
		}
		fetchGuard = rg
		a.closers = append(a.closers, rg.Close)
	}

	archive, err := newArchive(cfg.Archive)
	if err != nil {
		return nil, err
	}
	a.Archive = archive

	a.Backend = backend.NewClient(cfg.BackendURL, config.Millis(cfg.RequestTimeoutMs))
	orch, err := NewOrchestrator(Options{
		Store:            convs,
		Backend:          a.Backend,
		Guard:            fetchGuard,
		Polls:            poller.NewRegistry(),
		Archive:          archive,
		Logger:           logger,
		PollInterval:     config.Millis(cfg.PollIntervalMs),
		ResultRetryDelay: config.Millis(cfg.ResultRetryDelayMs),
		OnWorkflow:       onWorkflow,
	})
	if err != nil {
		return nil, err
	}
	a.Orchestrator = orch
	return a, nil
}

// Close stops every run and releases external connections.
func (a *App) Close() {
	if a.Orchestrator != nil {
		a.Orchestrator.Close()
	}
	for _, c := range a.closers {
		_ = c()
	}
}

// ArtifactLink returns a URL for the archived copy of out, or "" when it was not archived.
func (a *App) ArtifactLink(ctx context.Context, out domain.GeneratedOutput) (string, error) {
	if a.Archive == nil || out.ArchiveKey == "" {
		return "", nil
	}
	return a.Archive.Link(ctx, out.ArchiveKey, artifactLinkTTL)
}

// DeleteConversation removes a conversation and then its archived artifacts.
// Archive cleanup failures are logged; the conversation is gone either way.
func (a *App) DeleteConversation(ctx context.Context, convID string) error {
	conv, ok := a.Store.Get(convID)
	if !ok {
		return store.ErrConversationNotFound
	}
	if err := a.Store.DeleteConversation(convID); err != nil {
		return err
	}
	if a.Archive == nil {
		return nil
	}
	for _, out := range conv.GeneratedOutputs {
		if out.ArchiveKey == "" {
			continue
		}
		if err := a.Archive.Remove(ctx, out.ArchiveKey); err != nil {
			a.logger.Warn("remove archived artifact", "conversation_id", convID, "key", out.ArchiveKey, "err", err)
		}
	}
	return nil
}

func newPersister(cfg config.FileConfig) (store.Persister, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		p, err := store.OpenGormPersister(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init database store: %w", err)
		}
		return p, nil
	}
	if strings.TrimSpace(cfg.StatePath) == "" {
		return store.NewMemoryPersister(), nil
	}
	p, err := store.NewBoltPersister(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("init bolt store: %w", err)
	}
	return p, nil
}

func newArchive(cfg config.ArchiveConfig) (storage.ObjectStore, error) {
	switch {
	case cfg.MinioEndpoint != "":
		s, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init artifact archive: %w", err)
		}
		return s, nil
	case cfg.Dir != "":
		s, err := storage.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("init artifact archive: %w", err)
		}
		return s, nil
	default:
		return nil, nil
	}
}
