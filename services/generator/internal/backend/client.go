package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paper2slides/pkg/document"
	"paper2slides/pkg/domain"
)

// ErrNotReady is returned by Result while the backend answers 202.
var ErrNotReady = errors.New("result not ready")

// APIError represents a backend error response.
// Detail is the server-supplied text and may be empty; Message never is.
type APIError struct {
	Status  int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsConflict reports whether err is a 409 from the backend.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// Client calls the Paper2Slides backend over HTTP.
type Client struct {
	baseURL string
	// submit carries no timeout; generation uploads are bounded by the caller's context.
	submitClient *http.Client
	httpClient   *http.Client
}

// NewClient constructs a backend client. baseURL includes the API prefix, e.g. http://localhost:8152/api.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		submitClient: &http.Client{},
		httpClient:   &http.Client{Timeout: timeout},
	}
}

type SubmitParams struct {
	Message   string
	Config    domain.GenerationConfig
	SessionID string
	Files     []document.Upload
}

type SubmitResponse struct {
	SessionID     string                `json:"session_id"`
	Message       string                `json:"message,omitempty"`
	UploadedFiles []domain.UploadedFile `json:"uploaded_files,omitempty"`
}

type StatusResponse struct {
	Status string            `json:"status,omitempty"`
	Stages map[string]string `json:"stages"`
	Error  string            `json:"error,omitempty"`
}

type ResultResponse struct {
	Message   string         `json:"message,omitempty"`
	Slides    []domain.Slide `json:"slides,omitempty"`
	PPTURL    string         `json:"ppt_url,omitempty"`
	PosterURL string         `json:"poster_url,omitempty"`
}

type SlideAsset struct {
	ID      string `json:"id"`
	Caption string `json:"caption,omitempty"`
}

type SlideDetail struct {
	SlideNumber int          `json:"slide_number"`
	Title       string       `json:"title"`
	SectionType string       `json:"section_type,omitempty"`
	Content     string       `json:"content,omitempty"`
	ImageURL    string       `json:"image_url,omitempty"`
	Tables      []SlideAsset `json:"tables,omitempty"`
	Figures     []SlideAsset `json:"figures,omitempty"`
}

type SlideContent struct {
	TotalSlides int           `json:"total_slides"`
	OutputType  string        `json:"output_type"`
	Slides      []SlideDetail `json:"slides"`
}

// Submit starts a generation. Regeneration passes SessionID and no files.
func (c *Client) Submit(ctx context.Context, p SubmitParams) (SubmitResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fields := submitFields(p)
	for _, kv := range fields {
		if err := writer.WriteField(kv[0], kv[1]); err != nil {
			return SubmitResponse{}, err
		}
	}
	for _, up := range p.Files {
		if err := writeFilePart(writer, up); err != nil {
			return SubmitResponse{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return SubmitResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", body)
	if err != nil {
		return SubmitResponse{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp SubmitResponse
	if err := c.do(c.submitClient, req, &resp); err != nil {
		return SubmitResponse{}, err
	}
	return resp, nil
}

func (c *Client) Status(ctx context.Context, sessionID string) (StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sessionURL("status", sessionID), nil)
	if err != nil {
		return StatusResponse{}, err
	}
	var resp StatusResponse
	if err := c.do(c.httpClient, req, &resp); err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

// Result returns ErrNotReady while the backend is still assembling output.
func (c *Client) Result(ctx context.Context, sessionID string) (ResultResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sessionURL("result", sessionID), nil)
	if err != nil {
		return ResultResponse{}, err
	}
	var resp ResultResponse
	if err := c.do(c.httpClient, req, &resp); err != nil {
		return ResultResponse{}, err
	}
	return resp, nil
}

func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL("cancel", sessionID), nil)
	if err != nil {
		return err
	}
	return c.do(c.httpClient, req, nil)
}

func (c *Client) SlideContent(ctx context.Context, sessionID string) (SlideContent, error) {
	path := fmt.Sprintf("%s/slides/%s/content", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return SlideContent{}, err
	}
	var resp SlideContent
	if err := c.do(c.httpClient, req, &resp); err != nil {
		return SlideContent{}, err
	}
	return resp, nil
}

// Download opens an artifact path returned in a result (e.g. /outputs/x.pdf).
// Relative paths resolve against the backend origin. The caller closes the body.
func (c *Client) Download(ctx context.Context, artifactPath string) (io.ReadCloser, int64, string, error) {
	target, err := c.resolveArtifact(artifactPath)
	if err != nil {
		return nil, 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, "", err
	}
	resp, err := c.submitClient.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, 0, "", decodeError(resp)
	}
	return resp.Body, resp.ContentLength, resp.Header.Get("Content-Type"), nil
}

func (c *Client) resolveArtifact(artifactPath string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(artifactPath))
	if err != nil || ref.String() == "" {
		return "", fmt.Errorf("invalid artifact path %q", artifactPath)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) sessionURL(action, sessionID string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, action, url.PathEscape(sessionID))
}

func (c *Client) do(hc *http.Client, req *http.Request, out any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrNotReady
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// decodeError reads FastAPI {"detail": ...} bodies and {"error": ...} bodies.
func decodeError(resp *http.Response) error {
	var errResp struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp)
	detail := strings.TrimSpace(detailText(errResp.Detail))
	if detail == "" {
		detail = strings.TrimSpace(errResp.Error)
	}
	msg := detail
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg, Detail: detail}
}

func detailText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func submitFields(p SubmitParams) [][2]string {
	cfg := p.Config
	fields := [][2]string{
		{"message", p.Message},
		{"content", string(cfg.Content)},
		{"output_type", string(cfg.Output)},
		{"style", cfg.Style},
	}
	if cfg.Output == domain.OutputSlides {
		fields = append(fields, [2]string{"length", cfg.Length})
	} else {
		fields = append(fields, [2]string{"density", cfg.Density})
	}
	if cfg.Content == domain.ContentPaper {
		fast := "false"
		if cfg.FastMode {
			fast = "true"
		}
		fields = append(fields, [2]string{"fast_mode", fast})
	}
	if cfg.Language != "" {
		fields = append(fields, [2]string{"language", cfg.Language})
	}
	if p.SessionID != "" {
		fields = append(fields, [2]string{"session_id", p.SessionID})
	}
	return fields
}

func writeFilePart(writer *multipart.Writer, up document.Upload) error {
	f, err := up.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", up.Name, err)
	}
	defer f.Close()
	part, err := writer.CreateFormFile("files", up.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read %s: %w", up.Name, err)
	}
	return nil
}
