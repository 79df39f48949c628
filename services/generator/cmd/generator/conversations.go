package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"paper2slides/pkg/domain"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect and manage the local conversation history",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List conversations, newest first",
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(nil)
				if err != nil {
					return err
				}
				defer a.Close()
				current := a.Store.CurrentID()
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "\tID\tTITLE\tFILES\tOUTPUTS\tUPDATED")
				for _, c := range a.Store.List() {
					marker := ""
					if c.ID == current {
						marker = "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", marker, c.ID, c.Title, len(c.Files), len(c.GeneratedOutputs), humanize.Time(c.UpdatedAt))
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a conversation as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(nil)
				if err != nil {
					return err
				}
				defer a.Close()
				conv, ok := a.Store.Get(args[0])
				if !ok {
					return fmt.Errorf("conversation %s not found", args[0])
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(conv)
			},
		},
		&cobra.Command{
			Use:   "outputs <id>",
			Short: "List a conversation's generated outputs",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(nil)
				if err != nil {
					return err
				}
				defer a.Close()
				conv, ok := a.Store.Get(args[0])
				if !ok {
					return fmt.Errorf("conversation %s not found", args[0])
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tURL\tARCHIVED\tCREATED")
				for _, o := range conv.GeneratedOutputs {
					link, err := a.ArtifactLink(cmd.Context(), o)
					if err != nil {
						link = "unavailable"
					}
					if link == "" {
						link = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", domain.OutputDisplayName(o), o.ArtifactURL(), link, humanize.Time(o.Timestamp))
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a conversation and its archived artifacts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(nil)
				if err != nil {
					return err
				}
				defer a.Close()
				return a.DeleteConversation(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

func newSlidesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slides <session-id>",
		Short: "Print the structured slide content of a finished session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(nil)
			if err != nil {
				return err
			}
			defer a.Close()
			sc, err := a.Backend.SlideContent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%d %s\n", sc.TotalSlides, sc.OutputType)
			for _, s := range sc.Slides {
				fmt.Printf("\n%d. %s", s.SlideNumber, s.Title)
				if s.SectionType != "" {
					fmt.Printf(" (%s)", s.SectionType)
				}
				fmt.Println()
				if s.Content != "" {
					fmt.Println(s.Content)
				}
				for _, f := range s.Figures {
					fmt.Printf("  figure %s %s\n", f.ID, f.Caption)
				}
				for _, t := range s.Tables {
					fmt.Printf("  table %s %s\n", t.ID, t.Caption)
				}
			}
			return nil
		},
	}
}
