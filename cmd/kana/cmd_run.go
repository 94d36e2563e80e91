package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"kana-backend/internal/kanafile"
	"kana-backend/internal/matrix"
	"kana-backend/internal/pipeline"
	"kana-backend/internal/references"
	"kana-backend/internal/shared/config"
	"kana-backend/internal/stages"
)

var runFlags struct {
	matrix      string
	genes       string
	annotations string
	batch       string
	params      string
	demo        bool
	export      string
	threads     int
	verbose     bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysis pipeline over a count matrix",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.matrix, "matrix", "", "MatrixMarket count matrix (genes x cells)")
	f.StringVar(&runFlags.genes, "genes", "", "Gene names, one per row")
	f.StringVar(&runFlags.annotations, "annotations", "", "Per-cell annotations (CSV or TSV with header)")
	f.StringVar(&runFlags.batch, "batch", "", "Annotation column holding the batch")
	f.StringVar(&runFlags.params, "params", "", "YAML file overriding default parameters")
	f.BoolVar(&runFlags.demo, "demo", false, "Use a small synthetic dataset")
	f.StringVar(&runFlags.export, "export", "", "Write the resulting state to this .kana file")
	f.IntVar(&runFlags.threads, "threads", 0, "Worker goroutines per stage (default: 2/3 of cores)")
	f.BoolVarP(&runFlags.verbose, "verbose", "v", false, "Print every pipeline event")
}

func runRun(cmd *cobra.Command, _ []string) error {
	files, err := inputFiles()
	if err != nil {
		return err
	}

	params := pipeline.DefaultParameters()
	if runFlags.params != "" {
		raw, err := os.ReadFile(runFlags.params)
		if err != nil {
			return fmt.Errorf("read params: %w", err)
		}
		if err := yaml.Unmarshal(raw, &params); err != nil {
			return fmt.Errorf("parse params %s: %w", runFlags.params, err)
		}
	}
	params.Inputs = stages.InputsParams{Files: files, Batch: runFlags.batch}

	threads := runFlags.threads
	if threads <= 0 {
		threads = config.DefaultThreads()
	}
	orch := pipeline.New(stages.Env{Threads: threads}, references.NewStore(nil, ""))
	defer orch.Free()

	out := cmd.OutOrStdout()
	sink := pipeline.SinkFunc(func(e pipeline.Event) {
		if e.Kind == pipeline.EventStart {
			return
		}
		if e.Kind == pipeline.EventIter && !runFlags.verbose {
			return
		}
		if e.Kind == pipeline.EventIter {
			fmt.Fprintf(out, "%-20s iteration %d\n", e.Stage, e.Iteration)
			return
		}
		fmt.Fprintf(out, "%-20s %s\n", e.Stage, strings.TrimPrefix(e.Type(), e.Stage+"_"))
	})

	changed, err := orch.Run(cmd.Context(), params, sink)
	if err != nil {
		return err
	}
	var n int
	for _, c := range changed {
		if c {
			n++
		}
	}
	fmt.Fprintf(out, "%d of %d stages recomputed\n", n, len(changed))

	if runFlags.export == "" {
		return nil
	}
	data, _, err := kanafile.Serialize(cmd.Context(), orch.Current(), true, nil)
	if err != nil {
		return err
	}
	if err := os.WriteFile(runFlags.export, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", runFlags.export, err)
	}
	fmt.Fprintf(out, "wrote %s (%d bytes)\n", runFlags.export, len(data))
	return nil
}

func inputFiles() ([]matrix.File, error) {
	if runFlags.demo {
		return matrix.Synthetic(matrix.SyntheticConfig{
			Genes:      200,
			Cells:      300,
			Groups:     4,
			Batches:    2,
			LowQuality: 10,
			Seed:       42,
		}), nil
	}
	if runFlags.matrix == "" {
		return nil, fmt.Errorf("--matrix or --demo is required")
	}

	var files []matrix.File
	for _, in := range []struct{ kind, path string }{
		{matrix.KindMatrix, runFlags.matrix},
		{matrix.KindGenes, runFlags.genes},
		{matrix.KindAnnotations, runFlags.annotations},
	} {
		if in.path == "" {
			continue
		}
		data, err := os.ReadFile(in.path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", in.kind, err)
		}
		files = append(files, matrix.File{Kind: in.kind, Name: filepath.Base(in.path), Data: data})
	}
	return files, nil
}
