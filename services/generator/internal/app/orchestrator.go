package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"paper2slides/pkg/document"
	"paper2slides/pkg/domain"
	"paper2slides/pkg/guard"
	"paper2slides/pkg/poller"
	"paper2slides/pkg/storage"
	"paper2slides/pkg/store"
	"paper2slides/services/generator/internal/backend"
)

const (
	defaultPollInterval  = 1500 * time.Millisecond
	defaultCancelTimeout = 10 * time.Second

	regenerateText      = "Regenerate with current settings"
	cancelledMessage    = "Generation cancelled by user."
	submitFailedMessage = "Sorry, an error occurred. Please try again later."
	regenFailedMessage  = "Failed to regenerate. Please try again."
	defaultConflictText = "Another session is already running. Please wait for it to complete."
)

// Backend is the subset of the backend client the orchestrator drives.
type Backend interface {
	Submit(ctx context.Context, p backend.SubmitParams) (backend.SubmitResponse, error)
	Status(ctx context.Context, sessionID string) (backend.StatusResponse, error)
	Result(ctx context.Context, sessionID string) (backend.ResultResponse, error)
	Cancel(ctx context.Context, sessionID string) error
	Download(ctx context.Context, artifactPath string) (io.ReadCloser, int64, string, error)
}

// State is where a conversation's run sits in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateCompleting State = "completing"
)

// SubmitRequest is a user submission. An empty ConversationID targets the
// current conversation, creating one when none is selected.
type SubmitRequest struct {
	ConversationID string
	Text           string
	Files          []document.Upload
	Config         domain.GenerationConfig
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Store            *store.ConversationStore
	Backend          Backend
	Guard            guard.Guard
	Polls            *poller.Registry
	Archive          storage.ObjectStore
	Logger           *slog.Logger
	PollInterval     time.Duration
	ResultRetryDelay time.Duration
	CancelTimeout    time.Duration
	// OnWorkflow observes every workflow change. It runs outside internal locks.
	OnWorkflow func(domain.WorkflowState)
}

type run struct {
	convID     string
	sessionID  string
	cfg        domain.GenerationConfig
	regenerate bool
	state      State
	workflow   *domain.WorkflowState // nil once cleared

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	outcome Outcome
	err     error
	reply   *domain.Message
	output  *domain.GeneratedOutput
}

// Orchestrator runs generation sessions for conversations: one run per
// conversation at a time, each moving through submit, poll and fetch.
type Orchestrator struct {
	store         *store.ConversationStore
	backend       Backend
	guard         guard.Guard
	polls         *poller.Registry
	fetcher       *ResultFetcher
	logger        *slog.Logger
	pollInterval  time.Duration
	cancelTimeout time.Duration
	onWorkflow    func(domain.WorkflowState)

	mu       sync.Mutex
	runs     map[string]*run
	finished map[string]*run
	wg       sync.WaitGroup
}

// NewOrchestrator validates opts and fills defaults.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("conversation store required")
	}
	if opts.Backend == nil {
		return nil, errors.New("backend client required")
	}
	if opts.Guard == nil {
		opts.Guard = guard.NewMemoryGuard()
	}
	if opts.Polls == nil {
		opts.Polls = poller.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = defaultCancelTimeout
	}
	return &Orchestrator{
		store:         opts.Store,
		backend:       opts.Backend,
		guard:         opts.Guard,
		polls:         opts.Polls,
		fetcher:       newResultFetcher(opts.Backend, opts.Guard, opts.Store, opts.Archive, opts.Logger, opts.ResultRetryDelay),
		logger:        opts.Logger,
		pollInterval:  opts.PollInterval,
		cancelTimeout: opts.CancelTimeout,
		onWorkflow:    opts.OnWorkflow,
		runs:          make(map[string]*run),
		finished:      make(map[string]*run),
	}, nil
}

// Submit records the user's message and files, then submits in the background.
// It returns the conversation id the run belongs to.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Files) == 0 {
		return "", validationf("message text or files required")
	}
	convID := req.ConversationID
	if convID == "" {
		convID = o.store.CurrentID()
	}
	if convID == "" {
		convID = o.store.CreateConversation(req.Config)
	}
	conv, ok := o.store.Get(convID)
	if !ok {
		return "", store.ErrConversationNotFound
	}
	r, err := o.reserve(ctx, convID, req.Config, false, "")
	if err != nil {
		return "", err
	}

	refs := make([]domain.FileRef, 0, len(req.Files))
	for _, up := range req.Files {
		refs = append(refs, up.FileRef())
	}
	userMsg := domain.Message{Role: domain.RoleUser, Content: req.Text, Config: req.Config.Clone()}
	if len(refs) > 0 {
		userMsg.Files = refs
	}
	if _, err := o.store.AppendMessage(convID, userMsg); err != nil {
		o.logger.Error("append user message", "conversation_id", convID, "err", err)
	}
	if len(refs) > 0 {
		if _, err := o.store.AddFiles(convID, refs); err != nil {
			o.logger.Error("add files", "conversation_id", convID, "err", err)
		}
		if len(conv.Files) == 0 {
			title := domain.TitleFromFilename(refs[0].Name)
			_ = o.store.UpdateConversation(convID, store.ConversationPatch{Title: &title})
		}
	}
	cfg := req.Config
	_ = o.store.UpdateConversation(convID, store.ConversationPatch{Config: &cfg})

	o.notify(r)
	o.wg.Add(1)
	go o.submit(r, backend.SubmitParams{Message: req.Text, Config: req.Config, Files: req.Files})
	return convID, nil
}

// Regenerate resubmits a conversation's already-uploaded files with cfg.
func (o *Orchestrator) Regenerate(ctx context.Context, convID string, cfg domain.GenerationConfig) error {
	conv, ok := o.store.Get(convID)
	if !ok {
		return store.ErrConversationNotFound
	}
	if len(conv.Files) == 0 {
		return validationf("upload files before regenerating")
	}
	sid := conv.SessionID()
	if sid == "" {
		return validationf("session not found, upload files again")
	}
	r, err := o.reserve(ctx, convID, cfg, true, sid)
	if err != nil {
		return err
	}
	msg := domain.Message{Role: domain.RoleUser, Content: regenerateText, Config: cfg.Clone()}
	if _, err := o.store.AppendMessage(convID, msg); err != nil {
		o.logger.Error("append user message", "conversation_id", convID, "err", err)
	}

	o.notify(r)
	o.wg.Add(1)
	go o.submit(r, backend.SubmitParams{Message: "", Config: cfg, SessionID: sid})
	return nil
}

// Cancel stops the conversation's run. The backend is told on a best-effort basis.
func (o *Orchestrator) Cancel(ctx context.Context, convID string) error {
	o.mu.Lock()
	r := o.runs[convID]
	o.mu.Unlock()
	if r == nil {
		return ErrNoActiveRun
	}
	o.cancelRun(ctx, r)
	return nil
}

// Workflow returns a copy of the conversation's in-flight workflow.
func (o *Orchestrator) Workflow(convID string) (domain.WorkflowState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.runs[convID]
	if r == nil || r.workflow == nil {
		return domain.WorkflowState{}, false
	}
	return r.workflow.Copy(), true
}

func (o *Orchestrator) State(convID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r := o.runs[convID]; r != nil {
		return r.state
	}
	return StateIdle
}

// Wait blocks until the conversation's current or most recent run settles.
// A failed run reports its terminal message as the error.
func (o *Orchestrator) Wait(ctx context.Context, convID string) (Outcome, error) {
	o.mu.Lock()
	r := o.runs[convID]
	if r == nil {
		r = o.finished[convID]
	}
	o.mu.Unlock()
	if r == nil {
		return "", ErrNoActiveRun
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.done:
		return r.outcome, r.err
	}
}

// Result returns the reply and output fetched by the conversation's most
// recent successful run. They are reported even when the store dropped them
// as duplicates of earlier entries.
func (o *Orchestrator) Result(convID string) (domain.Message, domain.GeneratedOutput, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.finished[convID]
	if r == nil || r.outcome != OutcomeDone || r.reply == nil {
		return domain.Message{}, domain.GeneratedOutput{}, false
	}
	return *r.reply, *r.output, true
}

// Close cancels every run, stops every poller and waits for background work.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	active := make([]*run, 0, len(o.runs))
	for _, r := range o.runs {
		active = append(active, r)
	}
	o.mu.Unlock()
	for _, r := range active {
		o.cancelRun(context.Background(), r)
	}
	o.polls.StopAll()
	o.wg.Wait()
}

func (o *Orchestrator) reserve(ctx context.Context, convID string, cfg domain.GenerationConfig, regenerate bool, sessionID string) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.runs[convID]; busy {
		return nil, validationf("generation already in progress for this conversation")
	}
	rctx, cancel := context.WithCancel(ctx)
	r := &run{
		convID:     convID,
		sessionID:  sessionID,
		cfg:        cfg,
		regenerate: regenerate,
		state:      StateSubmitting,
		workflow:   newWorkflow(convID, cfg),
		ctx:        rctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	r.workflow.SessionID = sessionID
	o.runs[convID] = r
	// A cancelled parent context is a user cancel.
	context.AfterFunc(rctx, func() { o.cancelRun(context.Background(), r) })
	return r, nil
}

func (o *Orchestrator) submit(r *run, params backend.SubmitParams) {
	defer o.wg.Done()
	resp, err := o.backend.Submit(r.ctx, params)
	if err != nil {
		if r.ctx.Err() != nil {
			o.logger.Info("submission aborted", "conversation_id", r.convID)
			return
		}
		failure := submitFailure(err, r.regenerate)
		o.logger.Warn("submit generation failed", "conversation_id", r.convID, "regenerate", r.regenerate, "err", err)
		o.settle(r, OutcomeFailed, failure, func() { o.appendAssistant(r.convID, failure.Error(), true) })
		return
	}

	sid := resp.SessionID
	if sid == "" {
		sid = params.SessionID
	}
	if len(resp.UploadedFiles) > 0 {
		if err := o.store.BindUploadedFiles(r.convID, sid, resp.UploadedFiles); err != nil {
			o.logger.Error("bind uploaded files", "conversation_id", r.convID, "err", err)
		}
	}

	o.mu.Lock()
	live := o.runs[r.convID] == r && r.workflow != nil
	if live {
		r.sessionID = sid
		r.state = StatePolling
		r.workflow.SessionID = sid
	}
	o.mu.Unlock()
	if !live {
		o.logger.Info("discarding submission response for cancelled run", "conversation_id", r.convID, "session_id", sid)
		if sid != "" {
			o.cancelBackend(context.Background(), sid)
		}
		return
	}
	if sid == "" {
		failure := &GenerationError{Message: submitFailedMessage}
		o.logger.Warn("backend returned no session id", "conversation_id", r.convID)
		o.settle(r, OutcomeFailed, failure, func() { o.appendAssistant(r.convID, failure.Message, true) })
		return
	}

	o.logger.Info("generation submitted", "conversation_id", r.convID, "session_id", sid, "regenerate", r.regenerate)
	o.notify(r)
	o.polls.Start(r.ctx, sid, o.pollInterval, func(ctx context.Context) { o.pollTick(ctx, r, sid) })
}

func (o *Orchestrator) pollTick(ctx context.Context, r *run, sid string) {
	if !o.isLive(r) {
		return
	}
	st, err := o.backend.Status(ctx, sid)
	if err != nil {
		o.logger.Debug("status poll failed", "session_id", sid, "err", err)
		return
	}

	o.mu.Lock()
	if o.runs[r.convID] != r || r.workflow == nil {
		o.mu.Unlock()
		return
	}
	allCompleted, anyFailed := applyStatus(r.workflow, st)
	if allCompleted && !anyFailed {
		r.state = StateCompleting
	}
	snapshot := r.workflow.Copy()
	o.mu.Unlock()
	o.emit(snapshot)

	switch {
	case anyFailed:
		o.polls.Stop(sid)
		failure := &GenerationError{Message: failureMessage(st.Error)}
		o.settle(r, OutcomeFailed, failure, func() { o.appendAssistant(r.convID, failure.Message, true) })
	case allCompleted:
		o.polls.Stop(sid)
		req := FetchRequest{
			SessionID:      sid,
			ConversationID: r.convID,
			Config:         r.cfg,
			Settle: func(outcome Outcome, err error, record func()) bool {
				return o.settle(r, outcome, err, record)
			},
			OnResult: func(reply domain.Message, out domain.GeneratedOutput) {
				o.mu.Lock()
				r.reply, r.output = &reply, &out
				o.mu.Unlock()
			},
		}
		acquired, err := o.guard.TryAcquire(sid)
		if err != nil {
			o.logger.Warn("fetch guard unavailable", "session_id", sid, "err", err)
			o.fetcher.fail(req)
			return
		}
		if !acquired {
			o.logger.Debug("result fetch already pending", "session_id", sid)
			return
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.fetcher.Fetch(r.ctx, req)
		}()
	}
}

// cancelRun settles r as cancelled, stops its poller and notifies the backend.
func (o *Orchestrator) cancelRun(ctx context.Context, r *run) bool {
	o.mu.Lock()
	sid := r.sessionID
	o.mu.Unlock()
	target := sid
	if conv, ok := o.store.Get(r.convID); ok && conv.SessionID() != "" {
		target = conv.SessionID()
	}
	if !o.settle(r, OutcomeCancelled, ErrCancelled, func() { o.appendAssistant(r.convID, cancelledMessage, false) }) {
		return false
	}
	if sid != "" {
		o.polls.Stop(sid)
	}
	if target != "" {
		o.cancelBackend(ctx, target)
	}
	o.logger.Info("generation cancelled", "conversation_id", r.convID, "session_id", target)
	return true
}

// settle retires r with a terminal outcome. Only the first caller wins; record
// runs under the orchestrator lock so no new run can interleave its messages.
func (o *Orchestrator) settle(r *run, outcome Outcome, err error, record func()) bool {
	o.mu.Lock()
	if o.runs[r.convID] != r {
		o.mu.Unlock()
		return false
	}
	delete(o.runs, r.convID)
	r.workflow = nil
	r.state = StateIdle
	r.outcome = outcome
	r.err = err
	o.finished[r.convID] = r
	if record != nil {
		record()
	}
	o.mu.Unlock()

	r.cancel()
	close(r.done)
	o.logger.Info("generation settled", "conversation_id", r.convID, "session_id", r.sessionID, "outcome", outcome)
	return true
}

func (o *Orchestrator) isLive(r *run) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[r.convID] == r && r.workflow != nil
}

func (o *Orchestrator) cancelBackend(ctx context.Context, sid string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cancelTimeout)
	defer cancel()
	if err := o.backend.Cancel(cctx, sid); err != nil {
		o.logger.Warn("backend cancel failed", "session_id", sid, "err", err)
	}
}

func (o *Orchestrator) appendAssistant(convID, content string, isError bool) {
	msg := domain.Message{Role: domain.RoleAssistant, Content: content, IsError: isError}
	if _, err := o.store.AppendMessage(convID, msg); err != nil {
		o.logger.Error("append assistant message", "conversation_id", convID, "err", err)
	}
}

func (o *Orchestrator) notify(r *run) {
	o.mu.Lock()
	if r.workflow == nil {
		o.mu.Unlock()
		return
	}
	snapshot := r.workflow.Copy()
	o.mu.Unlock()
	o.emit(snapshot)
}

func (o *Orchestrator) emit(ws domain.WorkflowState) {
	if o.onWorkflow != nil {
		o.onWorkflow(ws)
	}
}

func submitFailure(err error, regenerate bool) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && backend.IsConflict(err) {
		detail := apiErr.Detail
		if detail == "" {
			detail = defaultConflictText
		}
		return &ConflictError{Detail: detail}
	}
	if regenerate {
		return &GenerationError{Message: regenFailedMessage}
	}
	return &GenerationError{Message: submitFailedMessage}
}
