package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// minimalPDF builds a single-page PDF with a correct xref table.
func minimalPDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	}
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", len(objects)+1)
	b.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(b.String())
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestInspectPDF(t *testing.T) {
	path := writeFile(t, t.TempDir(), "paper.pdf", minimalPDF())
	up, err := Inspect(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if up.Name != "paper.pdf" || up.Type != "application/pdf" || up.Pages != 1 {
		t.Fatalf("unexpected upload: %+v", up)
	}
	if !strings.HasPrefix(up.Preview, "file://") {
		t.Fatalf("expected file preview handle, got %q", up.Preview)
	}
	ref := up.FileRef()
	if ref.Name != up.Name || ref.Size != up.Size || ref.PreviewHandle != up.Preview || ref.URL != "" {
		t.Fatalf("unexpected file ref: %+v", ref)
	}
}

func TestInspectRejectsBrokenPDF(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.pdf", []byte("not a pdf at all"))
	if _, err := Inspect(path); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected invalid document, got %v", err)
	}
}

func TestInspectRejectsMissingAndEmpty(t *testing.T) {
	dir := t.TempDir()
	if _, err := Inspect(filepath.Join(dir, "missing.pdf")); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected invalid document for missing file, got %v", err)
	}
	empty := writeFile(t, dir, "empty.pdf", nil)
	if _, err := Inspect(empty); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected invalid document for empty file, got %v", err)
	}
	if _, err := Inspect(dir); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected invalid document for directory, got %v", err)
	}
}

func TestInspectNonPDFSkipsPageCount(t *testing.T) {
	path := writeFile(t, t.TempDir(), "notes.json", []byte(`{"a":1}`))
	up, err := Inspect(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if up.Type != "application/json" || up.Pages != 0 {
		t.Fatalf("unexpected upload: %+v", up)
	}
}

func TestInspectAllKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"c.pdf", "a.pdf", "b.pdf"} {
		paths = append(paths, writeFile(t, dir, name, minimalPDF()))
	}
	ups, err := InspectAll(context.Background(), paths)
	if err != nil {
		t.Fatalf("inspect all: %v", err)
	}
	for i, name := range []string{"c.pdf", "a.pdf", "b.pdf"} {
		if ups[i].Name != name {
			t.Fatalf("order mismatch at %d: %s", i, ups[i].Name)
		}
	}

	paths = append(paths, writeFile(t, dir, "bad.pdf", []byte("garbage")))
	if _, err := InspectAll(context.Background(), paths); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected invalid document, got %v", err)
	}
}

func TestHumanSize(t *testing.T) {
	if got := HumanSize(2_500_000); got != "2.5 MB" {
		t.Fatalf("unexpected size: %q", got)
	}
	if got := HumanSize(-1); got != "0 B" {
		t.Fatalf("unexpected size: %q", got)
	}
}
