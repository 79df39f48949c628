package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"paper2slides/pkg/domain"
	"paper2slides/pkg/storage"
	"paper2slides/pkg/store"
	"paper2slides/services/generator/internal/config"
)

func TestNewRegistersDatabaseAndRedisClosers(t *testing.T) {
	redis := miniredis.RunT(t)
	dbPath := filepath.Join(t.TempDir(), "conversations.sqlite")
	a, err := New(config.FileConfig{
		BackendURL:      "http://127.0.0.1:8001/api",
		DatabaseURL:     "sqlite:" + dbPath,
		RedisAddr:       redis.Addr(),
		FetchGuardTTLMs: 60000,
	}, nil, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if len(a.closers) != 2 {
		t.Fatalf("expected database and redis closers, got %d", len(a.closers))
	}
	a.Store.CreateConversation(a.Defaults)
	a.Close()

	reopened, err := store.OpenGormPersister("sqlite:" + dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	convs, err := reopened.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("expected persisted conversation, got %d", len(convs))
	}
}

func TestNewWithBoltStateHasNoDatabaseCloser(t *testing.T) {
	a, err := New(config.FileConfig{
		BackendURL: "http://127.0.0.1:8001/api",
		StatePath:  filepath.Join(t.TempDir(), "state.db"),
	}, nil, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	if len(a.closers) != 0 {
		t.Fatalf("expected no closers, got %d", len(a.closers))
	}
}

func TestDeleteConversationRemovesArchivedArtifacts(t *testing.T) {
	dir := t.TempDir()
	a, err := New(config.FileConfig{
		BackendURL: "http://127.0.0.1:8001/api",
		Archive:    config.ArchiveConfig{Dir: dir},
	}, nil, nil)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	convID := a.Store.CreateConversation(domain.DefaultConfig())
	key := storage.ArtifactKey(convID, "out-1", "/outputs/s1/slides.pdf")
	if err := a.Archive.Put(ctx, key, strings.NewReader("%PDF-1.4"), 8, "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}
	out := domain.GeneratedOutput{ID: "out-1", PPTURL: "/outputs/s1/slides.pdf", ArchiveKey: key}
	if _, err := a.Store.AppendGeneratedOutput(convID, out); err != nil {
		t.Fatalf("append output: %v", err)
	}

	link, err := a.ArtifactLink(ctx, out)
	if err != nil || !strings.HasPrefix(link, "file://") {
		t.Fatalf("unexpected link %q: %v", link, err)
	}
	if link, err := a.ArtifactLink(ctx, domain.GeneratedOutput{PPTURL: "/x.pdf"}); link != "" || err != nil {
		t.Fatalf("unarchived output must have no link: %q %v", link, err)
	}

	if err := a.DeleteConversation(ctx, convID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := a.Store.Get(convID); ok {
		t.Fatalf("conversation should be gone")
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(key))); !os.IsNotExist(err) {
		t.Fatalf("archived artifact should be removed, stat err=%v", err)
	}
	if err := a.DeleteConversation(ctx, convID); !errors.Is(err, store.ErrConversationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
