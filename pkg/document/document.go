package document

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
	"paper2slides/pkg/domain"
)

const defaultMIME = "application/pdf"

// ErrInvalidDocument marks files that cannot be submitted.
var ErrInvalidDocument = errors.New("invalid document")

// Upload is a local file staged for submission.
type Upload struct {
	Path    string
	Name    string
	Size    int64
	Type    string
	Pages   int
	Preview string
}

// FileRef converts the upload into the reference stored on messages and conversations.
func (u Upload) FileRef() domain.FileRef {
	return domain.FileRef{
		Name:          u.Name,
		Size:          u.Size,
		Type:          u.Type,
		PreviewHandle: u.Preview,
	}
}

// Open returns a reader over the upload's bytes.
func (u Upload) Open() (*os.File, error) {
	return os.Open(u.Path)
}

// Inspect stats path and validates it. PDFs must parse and have at least one page.
func Inspect(path string) (Upload, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Upload{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Upload{}, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, path, err)
	}
	if info.IsDir() {
		return Upload{}, fmt.Errorf("%w: %s is a directory", ErrInvalidDocument, path)
	}
	if info.Size() == 0 {
		return Upload{}, fmt.Errorf("%w: %s is empty", ErrInvalidDocument, path)
	}
	up := Upload{
		Path:    abs,
		Name:    filepath.Base(abs),
		Size:    info.Size(),
		Type:    detectType(abs),
		Preview: previewHandle(abs),
	}
	if strings.EqualFold(filepath.Ext(abs), ".pdf") {
		pages, err := countPages(abs)
		if err != nil {
			return Upload{}, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, up.Name, err)
		}
		up.Pages = pages
	}
	return up, nil
}

// InspectAll inspects paths concurrently and returns uploads in input order.
func InspectAll(ctx context.Context, paths []string) ([]Upload, error) {
	out := make([]Upload, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			up, err := Inspect(p)
			if err != nil {
				return err
			}
			out[i] = up
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// HumanSize renders a byte count the way file lists display it.
func HumanSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func detectType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" || ext == ".pdf" {
		return defaultMIME
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if base, _, err := mime.ParseMediaType(t); err == nil {
			return base
		}
		return t
	}
	return defaultMIME
}

func previewHandle(abs string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func countPages(path string) (pages int, err error) {
	// The pdf reader panics on some malformed xref tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()
	file, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	pages = reader.NumPage()
	if pages <= 0 {
		return 0, errors.New("pdf has no pages")
	}
	return pages, nil
}
