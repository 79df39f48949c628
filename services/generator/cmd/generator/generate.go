package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"paper2slides/pkg/document"
	"paper2slides/pkg/domain"
	"paper2slides/services/generator/internal/app"
)

type configFlags struct {
	content  string
	style    string
	output   string
	length   string
	density  string
	language string
	fastMode bool
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.content, "content", "", "content type: paper or general")
	cmd.Flags().StringVar(&f.style, "style", "", "academic, doraemon or a custom style description")
	cmd.Flags().StringVar(&f.output, "output", "", "output type: slides or poster")
	cmd.Flags().StringVar(&f.length, "length", "", "slides length: short, medium or long")
	cmd.Flags().StringVar(&f.density, "density", "", "poster density: sparse, medium or dense")
	cmd.Flags().StringVar(&f.language, "language", "", "output language")
	cmd.Flags().BoolVar(&f.fastMode, "fast", true, "skip the full RAG pass")
}

// apply overlays the flags that were set on base.
func (f *configFlags) apply(cmd *cobra.Command, base domain.GenerationConfig) (domain.GenerationConfig, error) {
	cfg := base
	if f.content != "" {
		cfg.Content = domain.ContentType(f.content)
	}
	if f.style != "" {
		cfg.Style = f.style
	}
	if f.output != "" {
		cfg.Output = domain.OutputType(f.output)
	}
	if f.length != "" {
		cfg.Length = f.length
	}
	if f.density != "" {
		cfg.Density = f.density
	}
	if f.language != "" {
		cfg.Language = f.language
	}
	if cmd.Flags().Changed("fast") {
		cfg.FastMode = f.fastMode
	}
	switch cfg.Content {
	case domain.ContentPaper, domain.ContentGeneral:
	default:
		return cfg, fmt.Errorf("unknown content type %q", cfg.Content)
	}
	switch cfg.Output {
	case domain.OutputSlides, domain.OutputPoster:
	default:
		return cfg, fmt.Errorf("unknown output type %q", cfg.Output)
	}
	return cfg, nil
}

func newGenerateCmd() *cobra.Command {
	var (
		flags   configFlags
		text    string
		convID  string
		newConv bool
	)
	cmd := &cobra.Command{
		Use:   "generate [files...]",
		Short: "Upload documents and generate slides or a poster",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(stepPrinter())
			if err != nil {
				return err
			}
			defer a.Close()

			cfg, err := flags.apply(cmd, a.Defaults)
			if err != nil {
				return err
			}
			uploads, err := document.InspectAll(ctx, args)
			if err != nil {
				return err
			}
			for _, up := range uploads {
				fmt.Fprintf(os.Stderr, "attached %s (%s", up.Name, document.HumanSize(up.Size))
				if up.Pages > 0 {
					fmt.Fprintf(os.Stderr, ", %d pages", up.Pages)
				}
				fmt.Fprintln(os.Stderr, ")")
			}
			if newConv {
				convID = a.Store.CreateConversation(cfg)
			}

			// The run keeps going after ctx ends so the cancel path can record its message.
			id, err := a.Orchestrator.Submit(context.WithoutCancel(ctx), app.SubmitRequest{
				ConversationID: convID,
				Text:           text,
				Files:          uploads,
				Config:         cfg,
			})
			if err != nil {
				return err
			}
			return waitRun(ctx, a, id)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&text, "message", "m", "", "instructions sent with the documents")
	cmd.Flags().StringVar(&convID, "conversation", "", "conversation id to continue")
	cmd.Flags().BoolVar(&newConv, "new", false, "start a new conversation")
	return cmd
}

func newRegenerateCmd() *cobra.Command {
	var flags configFlags
	cmd := &cobra.Command{
		Use:   "regenerate <conversation-id>",
		Short: "Regenerate a conversation's output with new settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(stepPrinter())
			if err != nil {
				return err
			}
			defer a.Close()

			conv, ok := a.Store.Get(args[0])
			if !ok {
				return fmt.Errorf("conversation %s not found", args[0])
			}
			cfg, err := flags.apply(cmd, conv.Config)
			if err != nil {
				return err
			}
			if err := a.Orchestrator.Regenerate(context.WithoutCancel(ctx), conv.ID, cfg); err != nil {
				return err
			}
			return waitRun(ctx, a, conv.ID)
		},
	}
	flags.register(cmd)
	return cmd
}

// waitRun blocks until the run settles. An interrupt cancels the run.
func waitRun(ctx context.Context, a *app.App, convID string) error {
	outcome, err := a.Orchestrator.Wait(ctx, convID)
	if ctx.Err() != nil {
		if cerr := a.Orchestrator.Cancel(context.Background(), convID); cerr != nil && !errors.Is(cerr, app.ErrNoActiveRun) {
			return cerr
		}
		outcome, err = a.Orchestrator.Wait(context.Background(), convID)
	}
	switch outcome {
	case app.OutcomeDone:
		printResult(context.WithoutCancel(ctx), os.Stdout, a, convID)
		return nil
	case app.OutcomeCancelled:
		fmt.Fprintln(os.Stderr, "cancelled")
		return nil
	default:
		return err
	}
}

// printResult prints the reply and output of the run that just finished,
// including when the store already held an identical artifact.
func printResult(ctx context.Context, w io.Writer, a *app.App, convID string) {
	reply, out, ok := a.Orchestrator.Result(convID)
	if !ok {
		return
	}
	fmt.Fprintf(w, "conversation: %s\n", convID)
	if reply.Content != "" {
		fmt.Fprintf(w, "message:      %s\n", reply.Content)
	}
	fmt.Fprintf(w, "output:       %s\n", domain.OutputDisplayName(out))
	fmt.Fprintf(w, "artifact:     %s\n", out.ArtifactURL())
	if link, err := a.ArtifactLink(ctx, out); err != nil {
		fmt.Fprintf(os.Stderr, "archived copy unavailable: %v\n", err)
	} else if link != "" {
		fmt.Fprintf(w, "archived:     %s\n", link)
	}
	for i, s := range reply.Slides {
		fmt.Fprintf(w, "  %2d. %s %s\n", i+1, s.Title, s.ImageURL)
	}
}
