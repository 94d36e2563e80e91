package stages

// Clustering methods.
const (
	MethodKMeans   = "kmeans"
	MethodSNNGraph = "snn_graph"
)

// ChooseClusteringParams picks which clustering downstream stages use.
type ChooseClusteringParams struct {
	Method string `cbor:"method" json:"method" yaml:"method"`
}

func (p ChooseClusteringParams) Equal(o ChooseClusteringParams) bool { return p == o }

// SelectClustering selects one of the upstream clusterings.
func SelectClustering(kmeans, snn *Clustering, p ChooseClusteringParams) (*Clustering, error) {
	var pick *Clustering
	switch p.Method {
	case MethodKMeans:
		if kmeans == nil {
			return nil, missing(KMeansCluster)
		}
		pick = kmeans
	case MethodSNNGraph:
		if snn == nil {
			return nil, missing(SNNGraphCluster)
		}
		pick = snn
	default:
		return nil, invalidf("unknown clustering method %q", p.Method)
	}
	return &Clustering{
		Assignments: append([]int(nil), pick.Assignments...),
		NumClusters: pick.NumClusters,
	}, nil
}
