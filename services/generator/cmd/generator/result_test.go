package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"paper2slides/pkg/domain"
	"paper2slides/services/generator/internal/app"
	"paper2slides/services/generator/internal/config"
)

func newResultBackend(t *testing.T) string {
	t.Helper()
	var results atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"session_id": "s1"})
	})
	mux.HandleFunc("/api/status/s1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "completed",
			"stages": map[string]string{"rag": "completed", "summary": "completed", "plan": "completed", "generate": "completed"},
		})
	})
	mux.HandleFunc("/api/result/s1", func(w http.ResponseWriter, r *http.Request) {
		n := results.Add(1)
		msg := "first run"
		if n > 1 {
			msg = "second run"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"message": msg, "ppt_url": "/outputs/s1/slides.pdf"})
	})
	mux.HandleFunc("/outputs/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4 test"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/api"
}

func TestPrintResultShowsLatestRun(t *testing.T) {
	a, err := app.New(config.FileConfig{
		BackendURL:         newResultBackend(t),
		RequestTimeoutMs:   1000,
		PollIntervalMs:     10,
		ResultRetryDelayMs: 10,
		Archive:            config.ArchiveConfig{Dir: t.TempDir()},
	}, nil, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	convID := a.Store.CreateConversation(domain.DefaultConfig())
	for _, text := range []string{"make slides", "once more"} {
		if _, err := a.Orchestrator.Submit(ctx, app.SubmitRequest{ConversationID: convID, Text: text, Config: domain.DefaultConfig()}); err != nil {
			t.Fatalf("submit: %v", err)
		}
		if outcome, err := a.Orchestrator.Wait(ctx, convID); outcome != app.OutcomeDone {
			t.Fatalf("unexpected outcome %q: %v", outcome, err)
		}
	}

	var buf bytes.Buffer
	printResult(ctx, &buf, a, convID)
	got := buf.String()
	if !strings.Contains(got, "second run") || strings.Contains(got, "first run") {
		t.Fatalf("expected the latest run's reply, got:\n%s", got)
	}
	if !strings.Contains(got, "archived:     file://") {
		t.Fatalf("expected archived link, got:\n%s", got)
	}
}
