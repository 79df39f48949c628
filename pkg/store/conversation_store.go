package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"paper2slides/internal/util"
	"paper2slides/pkg/domain"
)

// Options configures a ConversationStore.
type Options struct {
	Persister      Persister
	ReleasePreview PreviewReleaser
	Logger         *slog.Logger
	Now            func() time.Time
}

// ConversationStore holds the conversation list and the current selection.
// Every mutation applies its dedup rules under the store lock, so racing
// callers need no coordination of their own.
type ConversationStore struct {
	mu      sync.RWMutex
	convs   []domain.Conversation // newest first
	current string
	persist Persister
	release PreviewReleaser
	logger  *slog.Logger
	now     func() time.Time
}

// NewConversationStore loads persisted conversations and selects the most recent one.
func NewConversationStore(opts Options) (*ConversationStore, error) {
	s := &ConversationStore{
		persist: opts.Persister,
		release: opts.ReleasePreview,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.persist == nil {
		s.persist = NewMemoryPersister()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	convs, err := s.persist.Load()
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	for _, c := range convs {
		s.convs = append(s.convs, cloneConversation(c, true))
	}
	if len(s.convs) > 0 {
		s.current = s.convs[0].ID
	}
	return s, nil
}

// CreateConversation selects an empty conversation if one exists, otherwise
// prepends a new one. It returns the id of the selected conversation.
func (s *ConversationStore) CreateConversation(cfg domain.GenerationConfig) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.IsEmpty() {
			s.current = c.ID
			return c.ID
		}
	}
	now := s.now()
	conv := domain.Conversation{
		ID:               util.NewID(),
		Title:            "New Chat",
		Messages:         []domain.Message{},
		Files:            []domain.FileRef{},
		GeneratedOutputs: []domain.GeneratedOutput{},
		Config:           cfg,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.convs = append([]domain.Conversation{conv}, s.convs...)
	s.current = conv.ID
	s.persistLocked()
	return conv.ID
}

// SelectConversation makes id the current conversation.
func (s *ConversationStore) SelectConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return ErrConversationNotFound
	}
	s.current = id
	return nil
}

// CurrentID returns the selected conversation id, or "" when nothing is selected.
func (s *ConversationStore) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Current returns a copy of the selected conversation.
func (s *ConversationStore) Current() (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(s.current)
	if idx < 0 {
		return domain.Conversation{}, false
	}
	return cloneConversation(s.convs[idx], false), true
}

// Get returns a copy of a conversation by id.
func (s *ConversationStore) Get(id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.Conversation{}, false
	}
	return cloneConversation(s.convs[idx], false), true
}

// List returns copies of all conversations, newest first.
func (s *ConversationStore) List() []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		res = append(res, cloneConversation(c, false))
	}
	return res
}

// DeleteConversation removes a conversation. When the deleted conversation was
// selected, selection moves to the first remaining one. An empty store clears
// durable storage.
func (s *ConversationStore) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return ErrConversationNotFound
	}
	s.convs = append(s.convs[:idx], s.convs[idx+1:]...)
	if len(s.convs) == 0 {
		s.current = ""
		if err := s.persist.Clear(); err != nil {
			s.logger.Error("clear conversations", "err", err)
		}
		return nil
	}
	if s.current == id {
		s.current = s.convs[0].ID
	}
	s.persistLocked()
	return nil
}

// AppendMessage adds msg unless it duplicates a message already in the conversation.
// It reports whether the message was stored.
func (s *ConversationStore) AppendMessage(convID string, msg domain.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(convID)
	if idx < 0 {
		return false, ErrConversationNotFound
	}
	if msg.ID == "" {
		msg.ID = util.NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	conv := &s.convs[idx]
	if containsDuplicateMessage(conv.Messages, msg) {
		s.logger.Debug("duplicate message skipped", "conversation_id", convID, "role", msg.Role)
		return false, nil
	}
	conv.Messages = append(conv.Messages, cloneMessage(msg, false))
	conv.UpdatedAt = s.now()
	s.persistLocked()
	return true, nil
}

// AddFiles appends files whose names are not yet present and returns how many were added.
func (s *ConversationStore) AddFiles(convID string, files []domain.FileRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(convID)
	if idx < 0 {
		return 0, ErrConversationNotFound
	}
	conv := &s.convs[idx]
	names := make(map[string]struct{}, len(conv.Files)+len(files))
	for _, f := range conv.Files {
		names[f.Name] = struct{}{}
	}
	added := 0
	for _, f := range files {
		if _, exists := names[f.Name]; exists {
			continue
		}
		names[f.Name] = struct{}{}
		conv.Files = append(conv.Files, f)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	conv.UpdatedAt = s.now()
	s.persistLocked()
	return added, nil
}

// UpdateConversation applies the non-nil fields of patch.
func (s *ConversationStore) UpdateConversation(convID string, patch ConversationPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(convID)
	if idx < 0 {
		return ErrConversationNotFound
	}
	conv := &s.convs[idx]
	if patch.Title != nil {
		conv.Title = *patch.Title
	}
	if patch.Config != nil {
		conv.Config = *patch.Config
	}
	conv.UpdatedAt = s.now()
	s.persistLocked()
	return nil
}

// AppendGeneratedOutput adds out unless an output with the same artifact URL exists.
func (s *ConversationStore) AppendGeneratedOutput(convID string, out domain.GeneratedOutput) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(convID)
	if idx < 0 {
		return false, ErrConversationNotFound
	}
	if out.ID == "" {
		out.ID = util.NewID()
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = s.now()
	}
	conv := &s.convs[idx]
	if containsDuplicateOutput(conv.GeneratedOutputs, out) {
		s.logger.Debug("duplicate output skipped", "conversation_id", convID, "url", out.ArtifactURL())
		return false, nil
	}
	out.SourceFiles = append([]string(nil), out.SourceFiles...)
	out.Slides = append([]domain.Slide(nil), out.Slides...)
	conv.GeneratedOutputs = append(conv.GeneratedOutputs, out)
	conv.UpdatedAt = s.now()
	s.persistLocked()
	return true, nil
}

// BindUploadedFiles records the permanent URLs the backend assigned to uploaded files.
// Matching is by file name, across the conversation's file list and every message.
// Conversation files also get the session id. Preview handles are released and cleared.
func (s *ConversationStore) BindUploadedFiles(convID, sessionID string, uploaded []domain.UploadedFile) error {
	if len(uploaded) == 0 {
		return nil
	}
	urls := make(map[string]string, len(uploaded))
	for _, uf := range uploaded {
		urls[uf.Name] = uf.URL
	}

	var released []string
	s.mu.Lock()
	idx := s.indexLocked(convID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrConversationNotFound
	}
	conv := &s.convs[idx]
	bind := func(f *domain.FileRef, withSession bool) {
		url, ok := urls[f.Name]
		if !ok {
			return
		}
		if f.PreviewHandle != "" {
			released = append(released, f.PreviewHandle)
			f.PreviewHandle = ""
		}
		f.URL = url
		if withSession {
			f.SessionID = sessionID
		}
	}
	for i := range conv.Files {
		bind(&conv.Files[i], true)
	}
	for i := range conv.Messages {
		for j := range conv.Messages[i].Files {
			bind(&conv.Messages[i].Files[j], false)
		}
	}
	conv.UpdatedAt = s.now()
	s.persistLocked()
	s.mu.Unlock()

	if s.release != nil {
		seen := make(map[string]struct{}, len(released))
		for _, h := range released {
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			s.release(h)
		}
	}
	return nil
}

func (s *ConversationStore) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.convs {
		if s.convs[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked mirrors the current list to durable storage. Caller holds s.mu.
func (s *ConversationStore) persistLocked() {
	snapshot := make([]domain.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		snapshot = append(snapshot, cloneConversation(c, true))
	}
	if err := s.persist.Save(snapshot); err != nil {
		s.logger.Error("persist conversations", "err", err, "count", len(snapshot))
	}
}

func cloneConversation(c domain.Conversation, stripPreview bool) domain.Conversation {
	out := c
	out.Files = cloneFiles(c.Files, stripPreview)
	out.Messages = make([]domain.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		out.Messages = append(out.Messages, cloneMessage(m, stripPreview))
	}
	out.GeneratedOutputs = make([]domain.GeneratedOutput, 0, len(c.GeneratedOutputs))
	for _, o := range c.GeneratedOutputs {
		o.SourceFiles = append([]string(nil), o.SourceFiles...)
		o.Slides = append([]domain.Slide(nil), o.Slides...)
		out.GeneratedOutputs = append(out.GeneratedOutputs, o)
	}
	return out
}

func cloneMessage(m domain.Message, stripPreview bool) domain.Message {
	out := m
	if m.Files != nil {
		out.Files = cloneFiles(m.Files, stripPreview)
	}
	if m.Config != nil {
		out.Config = m.Config.Clone()
	}
	if m.Slides != nil {
		out.Slides = append([]domain.Slide(nil), m.Slides...)
	}
	return out
}

func cloneFiles(files []domain.FileRef, stripPreview bool) []domain.FileRef {
	out := make([]domain.FileRef, 0, len(files))
	for _, f := range files {
		if stripPreview {
			f.PreviewHandle = ""
		}
		out = append(out, f)
	}
	return out
}
