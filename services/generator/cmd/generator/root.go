package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"paper2slides/internal/util"
	"paper2slides/pkg/domain"
	"paper2slides/services/generator/internal/app"
	"paper2slides/services/generator/internal/config"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "paper2slides",
	Short: "Turn papers into slides and posters through the Paper2Slides backend",
	Long: `paper2slides uploads documents to a Paper2Slides backend, follows the
generation pipeline and keeps a local history of conversations and outputs.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(newGenerateCmd(), newRegenerateCmd(), newConversationsCmd(), newSlidesCmd())
}

// openApp loads config and wires the app. progress receives workflow updates.
func openApp(progress func(domain.WorkflowState)) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger := util.InitLogger(cfg.LogLevel, nil)
	a, err := app.New(cfg, logger, progress)
	if err != nil {
		return nil, fmt.Errorf("init app: %w", err)
	}
	return a, nil
}

// stepPrinter writes each new current step to stderr once.
func stepPrinter() func(domain.WorkflowState) {
	var (
		mu   sync.Mutex
		last string
	)
	return func(ws domain.WorkflowState) {
		mu.Lock()
		defer mu.Unlock()
		if ws.CurrentStep == last {
			return
		}
		last = ws.CurrentStep
		fmt.Fprintf(os.Stderr, "[%s] %s\n", ws.OutputType, ws.CurrentStep)
	}
}
