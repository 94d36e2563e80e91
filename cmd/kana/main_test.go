package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("kana %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestRunDemoExportThenInspect(t *testing.T) {
	dir := t.TempDir()
	params := filepath.Join(dir, "params.yaml")
	body := `
pca:
  num_hvgs: 100
  num_pcs: 10
tsne:
  perplexity: 10
  iterations: 60
umap:
  num_neighbors: 10
  num_epochs: 60
  min_dist: 0.1
kmeans_cluster:
  k: 4
`
	if err := os.WriteFile(params, []byte(body), 0o644); err != nil {
		t.Fatalf("write params: %v", err)
	}
	out := filepath.Join(dir, "demo.kana")

	got := execute(t, "run", "--demo", "--threads", "2", "--params", params, "--export", out)
	if !strings.Contains(got, "14 of 14 stages recomputed") {
		t.Fatalf("unexpected run output:\n%s", got)
	}
	if !strings.Contains(got, "wrote "+out) {
		t.Fatalf("export not reported:\n%s", got)
	}

	got = execute(t, "inspect", out)
	if !strings.Contains(got, "(embedded)") || !strings.Contains(got, "Stages:    (14)") {
		t.Fatalf("unexpected inspect output:\n%s", got)
	}
}
