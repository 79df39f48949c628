package main

import (
	"testing"

	"github.com/spf13/cobra"

	"paper2slides/pkg/domain"
)

func TestConfigFlagsOverlayOnlyChangedValues(t *testing.T) {
	var flags configFlags
	cmd := &cobra.Command{Use: "test"}
	flags.register(cmd)
	if err := cmd.Flags().Parse([]string{"--output", "poster", "--density", "dense", "--fast=false"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := flags.apply(cmd, domain.DefaultConfig())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Output != domain.OutputPoster || cfg.Density != "dense" || cfg.FastMode {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Style != domain.StyleAcademic || cfg.Length != "medium" {
		t.Fatalf("unset flags must keep defaults: %+v", cfg)
	}
}

func TestConfigFlagsRejectUnknownOutput(t *testing.T) {
	var flags configFlags
	cmd := &cobra.Command{Use: "test"}
	flags.register(cmd)
	if err := cmd.Flags().Parse([]string{"--output", "video"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := flags.apply(cmd, domain.DefaultConfig()); err == nil {
		t.Fatalf("expected error for unknown output")
	}
}
