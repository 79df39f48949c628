package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ContentType string

const (
	ContentPaper   ContentType = "paper"
	ContentGeneral ContentType = "general"
)

type OutputType string

const (
	OutputSlides OutputType = "slides"
	OutputPoster OutputType = "poster"
)

type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// Built-in styles. Any other non-empty text is sent as a custom style description.
const (
	StyleAcademic = "academic"
	StyleDoraemon = "doraemon"
)

// GenerationConfig is the set of knobs sent with each submission.
// It is a value type: every holder keeps its own copy.
type GenerationConfig struct {
	Content  ContentType `json:"content"`
	Style    string      `json:"style"`
	Output   OutputType  `json:"output"`
	Length   string      `json:"length"`
	Density  string      `json:"density"`
	FastMode bool        `json:"fastMode"`
	Language string      `json:"language,omitempty"`
}

// DefaultConfig mirrors the settings a fresh client starts with.
func DefaultConfig() GenerationConfig {
	return GenerationConfig{
		Content:  ContentPaper,
		Style:    StyleAcademic,
		Output:   OutputSlides,
		Length:   "medium",
		Density:  "medium",
		FastMode: true,
	}
}

// Clone returns a pointer to an independent copy, suitable for attaching to a message.
func (c GenerationConfig) Clone() *GenerationConfig {
	cp := c
	return &cp
}

type FileRef struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	// PreviewHandle points at a process-local preview of the file and never survives a restart.
	PreviewHandle string `json:"-"`
	SessionID     string `json:"sessionId,omitempty"`
}

type Slide struct {
	Title    string `json:"title,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type Message struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Files     []FileRef         `json:"files,omitempty"`
	Config    *GenerationConfig `json:"config,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	IsError   bool              `json:"isError,omitempty"`
	PPTURL    string            `json:"pptUrl,omitempty"`
	PosterURL string            `json:"posterUrl,omitempty"`
	Slides    []Slide           `json:"slides,omitempty"`
}

type GeneratedOutput struct {
	ID          string      `json:"id"`
	OutputType  OutputType  `json:"outputType"`
	Style       string      `json:"style"`
	Content     ContentType `json:"content"`
	Length      string      `json:"length,omitempty"`
	Density     string      `json:"density,omitempty"`
	PPTURL      string      `json:"pptUrl,omitempty"`
	PosterURL   string      `json:"posterUrl,omitempty"`
	Slides      []Slide     `json:"slides,omitempty"`
	SourceFiles []string    `json:"sourceFiles"`
	Timestamp   time.Time   `json:"timestamp"`
	ArchiveKey  string      `json:"archiveKey,omitempty"`
}

// ArtifactURL returns the ppt URL, falling back to the poster URL.
func (o GeneratedOutput) ArtifactURL() string {
	if o.PPTURL != "" {
		return o.PPTURL
	}
	return o.PosterURL
}

type Conversation struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Messages         []Message         `json:"messages"`
	Files            []FileRef         `json:"files"`
	GeneratedOutputs []GeneratedOutput `json:"generatedOutputs"`
	Config           GenerationConfig  `json:"config"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// IsEmpty reports whether the conversation has no messages, files or outputs.
func (c Conversation) IsEmpty() bool {
	return len(c.Messages) == 0 && len(c.Files) == 0 && len(c.GeneratedOutputs) == 0
}

// SessionID returns the backend session bound to the conversation's first file.
func (c Conversation) SessionID() string {
	if len(c.Files) == 0 {
		return ""
	}
	return c.Files[0].SessionID
}

// UploadedFile is the backend's record of an accepted upload.
type UploadedFile struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Stage struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Status      StageStatus `json:"status"`
	Description string      `json:"description"`
}

// WorkflowState is the in-memory progress view of one in-flight generation.
type WorkflowState struct {
	OutputType     OutputType  `json:"outputType"`
	Style          string      `json:"style"`
	Content        ContentType `json:"content"`
	ConversationID string      `json:"conversationId"`
	SessionID      string      `json:"sessionId,omitempty"`
	Stages         []Stage     `json:"stages"`
	CurrentStep    string      `json:"currentStep"`
	Error          string      `json:"error,omitempty"`
}

// Copy returns a deep copy of the workflow.
func (w WorkflowState) Copy() WorkflowState {
	w.Stages = append([]Stage(nil), w.Stages...)
	return w
}

// Pipeline stage ids in backend order.
const (
	StageRAG      = "rag"
	StageSummary  = "summary"
	StagePlan     = "plan"
	StageGenerate = "generate"
)

// NewStages returns the four pipeline stages, all pending.
func NewStages() []Stage {
	return []Stage{
		{ID: StageRAG, Name: "RAG", Status: StagePending, Description: "Building knowledge graph from documents"},
		{ID: StageSummary, Name: "Summary", Status: StagePending, Description: "Extracting and summarizing key content"},
		{ID: StagePlan, Name: "Plan", Status: StagePending, Description: "Planning content structure and sections"},
		{ID: StageGenerate, Name: "Generate", Status: StagePending, Description: "Generating final slides/poster"},
	}
}

// TitleFromFilename strips directory and extension from a file name.
func TitleFromFilename(name string) string {
	base := filepath.Base(name)
	title := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if title == "" || title == "." {
		return "New Chat"
	}
	return title
}

// OutputDisplayName renders "Slides - paper - academic - paper - medium" style labels.
func OutputDisplayName(o GeneratedOutput) string {
	parts := make([]string, 0, 5)
	if o.OutputType == OutputPoster {
		parts = append(parts, "Poster")
	} else {
		parts = append(parts, "Slides")
	}
	if len(o.SourceFiles) > 0 {
		base := o.SourceFiles[0]
		parts = append(parts, strings.TrimSuffix(base, filepath.Ext(base)))
	}
	if o.Style != "" {
		parts = append(parts, o.Style)
	}
	if o.Content != "" {
		parts = append(parts, string(o.Content))
	}
	switch {
	case o.OutputType == OutputSlides && o.Length != "":
		parts = append(parts, o.Length)
	case o.OutputType == OutputPoster && o.Density != "":
		parts = append(parts, o.Density)
	}
	return strings.Join(parts, " - ")
}
