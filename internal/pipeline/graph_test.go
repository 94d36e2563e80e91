package pipeline

import "testing"

func TestGraphIsTopological(t *testing.T) {
	seen := map[string]bool{}
	for _, n := range graph {
		for _, dep := range n.deps {
			if !seen[dep] {
				t.Fatalf("%s depends on %s which runs later", n.name, dep)
			}
		}
		seen[n.name] = true
	}
	if len(seen) != 14 {
		t.Fatalf("graph has %d stages, want 14", len(seen))
	}
}

func TestForcedFollowsDirectDeps(t *testing.T) {
	changed := map[string]bool{"pca": true}
	if !forced(changed, "neighbor_index") || !forced(changed, "kmeans_cluster") {
		t.Fatalf("direct dependents of pca should be forced")
	}
	if forced(changed, "umap") {
		t.Fatalf("umap depends on neighbor_index, not pca")
	}
}

func TestDependentsAreTransitive(t *testing.T) {
	got := Dependents("pca")
	want := []string{
		"neighbor_index", "tsne", "umap", "kmeans_cluster", "snn_graph_cluster",
		"choose_clustering", "marker_detection", "cell_labelling",
	}
	if len(got) != len(want) {
		t.Fatalf("Dependents(pca) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Dependents(pca) = %v, want %v", got, want)
		}
	}
	if d := Dependents("custom_selections"); len(d) != 0 {
		t.Fatalf("Dependents(custom_selections) = %v, want none", d)
	}
}
