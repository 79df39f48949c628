package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"paper2slides/internal/util"
	"paper2slides/pkg/domain"
	"paper2slides/pkg/guard"
	"paper2slides/pkg/storage"
	"paper2slides/pkg/store"
	"paper2slides/services/generator/internal/backend"
)

const (
	defaultResultRetryDelay = 2 * time.Second
	fetchFailedMessage      = "Generation completed but failed to fetch results. Please check the output directory."
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeDone      Outcome = "done"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// SettleFunc claims the run for a terminal outcome and, if the claim wins,
// runs record before waiters are released. It returns false when the run was
// already settled, for example by a cancel.
type SettleFunc func(outcome Outcome, err error, record func()) bool

// FetchRequest identifies the run whose result is fetched.
type FetchRequest struct {
	SessionID      string
	ConversationID string
	Config         domain.GenerationConfig
	Settle         SettleFunc
	// OnResult, when set, receives the reply and output built from a fetched
	// result before the run settles, whether or not the store keeps them.
	OnResult func(reply domain.Message, out domain.GeneratedOutput)
}

// ResultFetcher retrieves a finished session's result and merges it into the store.
type ResultFetcher struct {
	backend    Backend
	guard      guard.Guard
	store      *store.ConversationStore
	archive    storage.ObjectStore
	logger     *slog.Logger
	retryDelay time.Duration
	// waitRetry blocks between a 202 and the next attempt.
	waitRetry func(ctx context.Context, d time.Duration) error
}

func newResultFetcher(b Backend, g guard.Guard, s *store.ConversationStore, archive storage.ObjectStore, logger *slog.Logger, retryDelay time.Duration) *ResultFetcher {
	if retryDelay <= 0 {
		retryDelay = defaultResultRetryDelay
	}
	return &ResultFetcher{
		backend:    b,
		guard:      g,
		store:      s,
		archive:    archive,
		logger:     logger,
		retryDelay: retryDelay,
		waitRetry:  sleepContext,
	}
}

// Fetch must be called with the guard for req.SessionID already held.
// The guard is released before every return and before each retry wait.
func (f *ResultFetcher) Fetch(ctx context.Context, req FetchRequest) {
	sid := req.SessionID
	for {
		res, err := f.backend.Result(ctx, sid)
		switch {
		case err == nil:
			f.complete(ctx, req, res)
			return
		case errors.Is(err, backend.ErrNotReady):
			f.guard.Release(sid)
			f.logger.Debug("result not ready, retrying", "session_id", sid, "delay", f.retryDelay)
			if err := f.waitRetry(ctx, f.retryDelay); err != nil {
				return
			}
			acquired, err := f.guard.TryAcquire(sid)
			if err != nil {
				f.logger.Warn("fetch guard unavailable", "session_id", sid, "err", err)
				f.fail(req)
				return
			}
			if !acquired {
				f.logger.Debug("result fetch already pending", "session_id", sid)
				return
			}
		case ctx.Err() != nil:
			f.guard.Release(sid)
			return
		default:
			f.guard.Release(sid)
			f.logger.Warn("fetch result failed", "session_id", sid, "err", err)
			f.fail(req)
			return
		}
	}
}

// fail settles the run with the fetch failure message.
func (f *ResultFetcher) fail(req FetchRequest) {
	req.Settle(OutcomeFailed, &GenerationError{Message: fetchFailedMessage}, func() {
		f.appendAssistant(req.ConversationID, domain.Message{Content: fetchFailedMessage, IsError: true})
	})
}

func (f *ResultFetcher) complete(ctx context.Context, req FetchRequest, res backend.ResultResponse) {
	cfg := req.Config
	msg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   res.Message,
		Slides:    res.Slides,
		PPTURL:    res.PPTURL,
		PosterURL: res.PosterURL,
		Config:    cfg.Clone(),
	}
	out := domain.GeneratedOutput{
		ID:         util.NewID(),
		OutputType: cfg.Output,
		Style:      cfg.Style,
		Content:    cfg.Content,
		PPTURL:     res.PPTURL,
		PosterURL:  res.PosterURL,
		Slides:     res.Slides,
	}
	if cfg.Output == domain.OutputSlides {
		out.Length = cfg.Length
	} else {
		out.Density = cfg.Density
	}
	if conv, ok := f.store.Get(req.ConversationID); ok {
		out.SourceFiles = make([]string, 0, len(conv.Files))
		for _, file := range conv.Files {
			out.SourceFiles = append(out.SourceFiles, file.Name)
		}
	}
	out.ArchiveKey = f.archiveArtifact(ctx, req.ConversationID, out)
	f.guard.Release(req.SessionID)
	if req.OnResult != nil {
		req.OnResult(msg, out)
	}

	settled := req.Settle(OutcomeDone, nil, func() {
		if _, err := f.store.AppendMessage(req.ConversationID, msg); err != nil {
			f.logger.Error("append result message", "conversation_id", req.ConversationID, "err", err)
		}
		added, err := f.store.AppendGeneratedOutput(req.ConversationID, out)
		if err != nil {
			f.logger.Error("append generated output", "conversation_id", req.ConversationID, "err", err)
			return
		}
		if !added {
			f.logger.Info("duplicate output skipped", "conversation_id", req.ConversationID, "url", out.ArtifactURL())
		}
	})
	if !settled {
		f.logger.Info("result discarded for settled run", "session_id", req.SessionID, "conversation_id", req.ConversationID)
	}
}

// archiveArtifact copies the finished file into the archive and returns its key.
// Archive failures never fail the generation.
func (f *ResultFetcher) archiveArtifact(ctx context.Context, convID string, out domain.GeneratedOutput) string {
	src := out.ArtifactURL()
	if f.archive == nil || src == "" {
		return ""
	}
	body, size, contentType, err := f.backend.Download(ctx, src)
	if err != nil {
		f.logger.Warn("download artifact", "url", src, "err", err)
		return ""
	}
	defer body.Close()
	if contentType == "" {
		contentType = "application/pdf"
	}
	key := storage.ArtifactKey(convID, out.ID, src)
	if err := f.archive.Put(ctx, key, body, size, contentType); err != nil {
		f.logger.Warn("archive artifact", "key", key, "err", err)
		return ""
	}
	f.logger.Info("artifact archived", "key", key, "conversation_id", convID)
	return key
}

func (f *ResultFetcher) appendAssistant(convID string, msg domain.Message) {
	msg.Role = domain.RoleAssistant
	if _, err := f.store.AppendMessage(convID, msg); err != nil {
		f.logger.Error("append assistant message", "conversation_id", convID, "err", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
