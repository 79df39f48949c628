package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"paper2slides/pkg/document"
	"paper2slides/pkg/domain"
	"paper2slides/pkg/guard"
	"paper2slides/pkg/poller"
	"paper2slides/pkg/store"
	"paper2slides/services/generator/internal/backend"
)

// fakeServer imitates the Paper2Slides HTTP API.
type fakeServer struct {
	mu           sync.Mutex
	sessionID    string
	submitStatus int
	submitBody   string
	submits      []map[string][]string
	submitFiles  [][]string
	statuses     []backend.StatusResponse
	statusCalls  int
	resultCodes  []int
	resultCalls  int
	result       backend.ResultResponse
	cancelled    []string
	server       *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		sessionID: "sess-1",
		result:    backend.ResultResponse{Message: "", PPTURL: "/outputs/sess-1/slides.pdf", Slides: []domain.Slide{{Title: "Intro", ImageURL: "/outputs/sess-1/1.png"}}},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", f.handleChat)
	mux.HandleFunc("/api/status/", f.handleStatus)
	mux.HandleFunc("/api/result/", f.handleResult)
	mux.HandleFunc("/api/cancel/", f.handleCancel)
	mux.HandleFunc("/outputs/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeServer) URL() string { return f.server.URL + "/api" }

func (f *fakeServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var names []string
	for _, fh := range r.MultipartForm.File["files"] {
		names = append(names, fh.Filename)
	}
	f.mu.Lock()
	f.submits = append(f.submits, r.MultipartForm.Value)
	f.submitFiles = append(f.submitFiles, names)
	status, body, sid := f.submitStatus, f.submitBody, f.sessionID
	f.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
		return
	}
	resp := backend.SubmitResponse{SessionID: sid}
	for _, n := range names {
		resp.UploadedFiles = append(resp.UploadedFiles, domain.UploadedFile{Name: n, URL: "/uploads/" + sid + "/" + n})
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		http.Error(w, "no status", http.StatusInternalServerError)
		return
	}
	idx := f.statusCalls
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.statusCalls++
	st := f.statuses[idx]
	if st.Status == "http-error" {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	_ = json.NewEncoder(w).Encode(st)
}

func (f *fakeServer) handleResult(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	code := http.StatusOK
	if f.resultCalls < len(f.resultCodes) {
		code = f.resultCodes[f.resultCalls]
	}
	f.resultCalls++
	res := f.result
	f.mu.Unlock()
	if code != http.StatusOK {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"detail":"not yet"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(res)
}

func (f *fakeServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, strings.TrimPrefix(r.URL.Path, "/api/cancel/"))
	f.mu.Unlock()
	_, _ = w.Write([]byte(`{"status":"cancelled"}`))
}

func (f *fakeServer) setStatuses(st ...backend.StatusResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = st
}

func (f *fakeServer) snapshot() (submits []map[string][]string, files [][]string, statusCalls, resultCalls int, cancelled []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string][]string(nil), f.submits...), append([][]string(nil), f.submitFiles...), f.statusCalls, f.resultCalls, append([]string(nil), f.cancelled...)
}

func stages(rag, summary, plan, generate string) backend.StatusResponse {
	return backend.StatusResponse{Stages: map[string]string{
		domain.StageRAG:      rag,
		domain.StageSummary:  summary,
		domain.StagePlan:     plan,
		domain.StageGenerate: generate,
	}}
}

func allCompleted() backend.StatusResponse {
	return stages("completed", "completed", "completed", "completed")
}

type harness struct {
	orch      *Orchestrator
	store     *store.ConversationStore
	persister *store.MemoryPersister
	guard     *guard.MemoryGuard
	polls     *poller.Registry

	mu        sync.Mutex
	workflows []domain.WorkflowState
}

func newHarness(t *testing.T, b Backend, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		persister: store.NewMemoryPersister(),
		guard:     guard.NewMemoryGuard(),
		polls:     poller.NewRegistry(),
	}
	s, err := store.NewConversationStore(store.Options{Persister: h.persister})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	h.store = s
	opts := Options{
		Store:            s,
		Backend:          b,
		Guard:            h.guard,
		Polls:            h.polls,
		PollInterval:     10 * time.Millisecond,
		ResultRetryDelay: 10 * time.Millisecond,
		CancelTimeout:    time.Second,
		OnWorkflow: func(ws domain.WorkflowState) {
			h.mu.Lock()
			h.workflows = append(h.workflows, ws)
			h.mu.Unlock()
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	o, err := NewOrchestrator(opts)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	h.orch = o
	t.Cleanup(o.Close)
	return h
}

func (h *harness) seenSteps() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.workflows))
	for _, ws := range h.workflows {
		out = append(out, ws.CurrentStep)
	}
	return out
}

func (h *harness) conversation(t *testing.T, id string) domain.Conversation {
	t.Helper()
	conv, ok := h.store.Get(id)
	if !ok {
		t.Fatalf("conversation %s not found", id)
	}
	return conv
}

func waitOutcome(t *testing.T, o *Orchestrator, convID string) (Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcome, err := o.Wait(ctx, convID)
	if ctx.Err() != nil {
		t.Fatalf("run for %s did not settle", convID)
	}
	return outcome, err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func testUpload(t *testing.T, name string) document.Upload {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return document.Upload{
		Path:    path,
		Name:    name,
		Size:    13,
		Type:    "application/pdf",
		Preview: "file://" + path,
	}
}

func assistantMessages(conv domain.Conversation) []domain.Message {
	var out []domain.Message
	for _, m := range conv.Messages {
		if m.Role == domain.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}
