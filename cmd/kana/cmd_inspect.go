package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kana-backend/internal/kanafile"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.kana>",
	Short: "Describe a saved state file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	info, err := kanafile.Inspect(data)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Container: v%d (%s)\n", info.Version, info.Mode)
	fmt.Fprintf(out, "Format:    %d\n", info.FormatVersion)
	fmt.Fprintf(out, "State:     %d bytes\n", info.StateBytes)
	fmt.Fprintf(out, "Stages:    (%d)\n", len(info.Stages))
	for _, s := range info.Stages {
		fmt.Fprintf(out, "  %s\n", s)
	}
	if len(info.Files) > 0 {
		fmt.Fprintf(out, "Files:\n")
		for _, f := range info.Files {
			if f.ArtifactID != "" {
				fmt.Fprintf(out, "  %-12s %s (%d bytes, artifact %s)\n", f.Kind, f.Name, f.Size, f.ArtifactID)
				continue
			}
			fmt.Fprintf(out, "  %-12s %s (%d bytes)\n", f.Kind, f.Name, f.Size)
		}
	}
	return nil
}
