package domain

import "testing"

func TestTitleFromFilename(t *testing.T) {
	cases := map[string]string{
		"paper.pdf":              "paper",
		"/tmp/dir/Attention.PDF": "Attention",
		"notes":                  "notes",
		".pdf":                   "New Chat",
		"":                       "New Chat",
	}
	for in, want := range cases {
		if got := TitleFromFilename(in); got != want {
			t.Fatalf("TitleFromFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOutputDisplayName(t *testing.T) {
	slides := GeneratedOutput{OutputType: OutputSlides, Style: "academic", Content: ContentPaper, Length: "short", Density: "dense", SourceFiles: []string{"paper.pdf"}}
	if got := OutputDisplayName(slides); got != "Slides - paper - academic - paper - short" {
		t.Fatalf("unexpected slides name: %q", got)
	}
	poster := GeneratedOutput{OutputType: OutputPoster, Style: "doraemon", Content: ContentGeneral, Length: "short", Density: "sparse"}
	if got := OutputDisplayName(poster); got != "Poster - doraemon - general - sparse" {
		t.Fatalf("unexpected poster name: %q", got)
	}
}

func TestConversationSessionAndEmpty(t *testing.T) {
	var c Conversation
	if !c.IsEmpty() || c.SessionID() != "" {
		t.Fatalf("zero conversation should be empty without session")
	}
	c.Files = []FileRef{{Name: "a.pdf", SessionID: "s1"}, {Name: "b.pdf", SessionID: "s2"}}
	if c.IsEmpty() {
		t.Fatalf("conversation with files is not empty")
	}
	if c.SessionID() != "s1" {
		t.Fatalf("expected first file session, got %q", c.SessionID())
	}
}

func TestWorkflowCopyIsIndependent(t *testing.T) {
	w := WorkflowState{Stages: NewStages()}
	cp := w.Copy()
	cp.Stages[0].Status = StageCompleted
	if w.Stages[0].Status != StagePending {
		t.Fatalf("copy shares stage storage")
	}
}

func TestGeneratedOutputArtifactURL(t *testing.T) {
	if got := (GeneratedOutput{PPTURL: "a", PosterURL: "b"}).ArtifactURL(); got != "a" {
		t.Fatalf("expected ppt url, got %q", got)
	}
	if got := (GeneratedOutput{PosterURL: "b"}).ArtifactURL(); got != "b" {
		t.Fatalf("expected poster url, got %q", got)
	}
}
