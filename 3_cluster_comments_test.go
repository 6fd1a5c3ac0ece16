package voxtube

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertPartition checks the structural contract of a ClusterResult over n
// vectors: every index in exactly one cluster, IDs dense and ascending,
// confidences in range.
func assertPartition(t *testing.T, result ClusterResult, n int) {
	t.Helper()

	seen := make(map[int]bool)
	for i, cluster := range result.Clusters {
		assert.Equal(t, i, cluster.ID)
		require.NotEmpty(t, cluster.MemberIndices, "cluster %d is empty", i)
		assert.GreaterOrEqual(t, cluster.Confidence, 0.0)
		assert.LessOrEqual(t, cluster.Confidence, 1.0)
		for _, idx := range cluster.MemberIndices {
			require.False(t, seen[idx], "index %d appears in more than one cluster", idx)
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, n)
			seen[idx] = true
		}
	}
	assert.Len(t, seen, n, "not every vector was assigned")
}

// circleVectors produces n deterministic unit vectors spread around the unit
// circle, padded to four dimensions.
func circleVectors(n int) [][]float64 {
	vectors := make([][]float64, n)
	for i := range vectors {
		angle := float64(i) * 0.7
		vectors[i] = []float64{math.Cos(angle), math.Sin(angle), math.Cos(2 * angle), math.Sin(3 * angle)}
	}
	return vectors
}

func TestPartitionEmptyInput(t *testing.T) {
	_, err := Partition(nil, FineClusterCount)
	assert.ErrorIs(t, err, ErrNothingToCluster)
}

func TestPartitionInvalidVectors(t *testing.T) {
	_, err := Partition([][]float64{{1, 0}, {1, 0, 0}}, FineClusterCount)
	assert.ErrorIs(t, err, ErrInvalidVectors)

	_, err = Partition([][]float64{{}}, FineClusterCount)
	assert.ErrorIs(t, err, ErrInvalidVectors)
}

func TestPartitionSingleVector(t *testing.T) {
	result, err := Partition([][]float64{{0.5, 0.5}}, FineClusterCount)

	require.NoError(t, err)
	require.Len(t, result.Clusters, 1)
	assert.Equal(t, []int{0}, result.Clusters[0].MemberIndices)
	assert.Equal(t, 1.0, result.Clusters[0].Confidence)
}

func TestPartitionIdenticalVectors(t *testing.T) {
	vectors := make([][]float64, 10)
	for i := range vectors {
		vectors[i] = []float64{0.2, 0.9, -0.1}
	}

	result, err := Partition(vectors, FineClusterCount)

	require.NoError(t, err)
	assertPartition(t, result, 10)
	// Identical vectors collapse into one cluster; the extra centroids die.
	require.Len(t, result.Clusters, 1)
	assert.Len(t, result.Clusters[0].MemberIndices, 10)
	assert.InDelta(t, 1.0, result.Clusters[0].Confidence, 1e-9)
}

func TestPartitionDeterministic(t *testing.T) {
	vectors := circleVectors(30)

	first, err := Partition(vectors, FineClusterCount)
	require.NoError(t, err)
	second, err := Partition(vectors, FineClusterCount)
	require.NoError(t, err)

	require.Equal(t, len(first.Clusters), len(second.Clusters))
	for i := range first.Clusters {
		assert.Equal(t, first.Clusters[i].MemberIndices, second.Clusters[i].MemberIndices)
		assert.Equal(t, first.Clusters[i].Confidence, second.Clusters[i].Confidence)
	}
}

func TestPartitionPolicyClamped(t *testing.T) {
	vectors := circleVectors(5)

	// A policy below 1 is clamped up.
	result, err := Partition(vectors, func(int) int { return 0 })
	require.NoError(t, err)
	assertPartition(t, result, 5)
	assert.Len(t, result.Clusters, 1)

	// A policy above N is clamped down to N singletons, each perfectly
	// cohesive.
	result, err = Partition(vectors, func(int) int { return 100 })
	require.NoError(t, err)
	assertPartition(t, result, 5)
	require.Len(t, result.Clusters, 5)
	for _, cluster := range result.Clusters {
		assert.Len(t, cluster.MemberIndices, 1)
		assert.Equal(t, 1.0, cluster.Confidence)
	}
}

func TestFineClusterCount(t *testing.T) {
	assert.Equal(t, 1, FineClusterCount(1))
	assert.Equal(t, 1, FineClusterCount(4))
	assert.Equal(t, 2, FineClusterCount(5))
	assert.Equal(t, 3, FineClusterCount(12))
	assert.Equal(t, 25, FineClusterCount(100))
}

func TestCoarseClusterCount(t *testing.T) {
	assert.Equal(t, 2, CoarseClusterCount(1))
	assert.Equal(t, 2, CoarseClusterCount(40))
	assert.Equal(t, 3, CoarseClusterCount(41))
	assert.Equal(t, 5, CoarseClusterCount(100))
	assert.Equal(t, 8, CoarseClusterCount(160))
	assert.Equal(t, 8, CoarseClusterCount(1000))
}

// nearDuplicateVectors builds the canonical quality scenario: eight
// near-duplicate vectors along one axis plus four mutually unrelated ones.
func nearDuplicateVectors() [][]float64 {
	vectors := make([][]float64, 0, 12)
	for i := 0; i < 8; i++ {
		vectors = append(vectors, []float64{1, 0.01 * float64(i+1), 0, 0, 0, 0})
	}
	for j := 0; j < 4; j++ {
		v := []float64{-0.1, 0, 0, 0, 0, 0}
		v[2+j] = 1
		vectors = append(vectors, v)
	}
	return vectors
}

func TestPartitionNearDuplicates(t *testing.T) {
	vectors := nearDuplicateVectors()

	result, err := Partition(vectors, FineClusterCount)
	require.NoError(t, err)
	assertPartition(t, result, 12)

	// The eight near-duplicates must land in one cluster together, with
	// nothing else mixed in.
	var dupeCluster *Cluster
	for i := range result.Clusters {
		for _, idx := range result.Clusters[i].MemberIndices {
			if idx < 8 {
				require.Nil(t, dupeCluster, "near-duplicates split across clusters")
				dupeCluster = &result.Clusters[i]
				break
			}
		}
	}
	require.NotNil(t, dupeCluster)
	require.Len(t, dupeCluster.MemberIndices, 8)
	for _, idx := range dupeCluster.MemberIndices {
		assert.Less(t, idx, 8)
	}
	assert.Greater(t, dupeCluster.Confidence, 0.9)
}

func TestMultiLevelClustersNearDuplicates(t *testing.T) {
	vectors := nearDuplicateVectors()

	result, err := MultiLevelClusters(vectors)
	require.NoError(t, err)
	assertPartition(t, result.Fine, 12)
	assertPartition(t, result.Coarse, 12)

	assert.LessOrEqual(t, len(result.Coarse.Clusters), 3)
	assert.LessOrEqual(t, len(result.Coarse.Clusters), len(result.Fine.Clusters))
}

func TestMultiLevelClustersSingleVector(t *testing.T) {
	result, err := MultiLevelClusters([][]float64{{1, 0, 0}})

	require.NoError(t, err)
	require.Len(t, result.Fine.Clusters, 1)
	require.Len(t, result.Coarse.Clusters, 1)
	assert.Equal(t, 1.0, result.Fine.Clusters[0].Confidence)
	assert.Equal(t, 1.0, result.Coarse.Clusters[0].Confidence)
}

func TestMultiLevelClustersEmpty(t *testing.T) {
	_, err := MultiLevelClusters(nil)
	assert.ErrorIs(t, err, ErrNothingToCluster)
}

func TestMultiLevelClustersMonotoneGranularity(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 10, 25, 60} {
		result, err := MultiLevelClusters(circleVectors(n))
		require.NoError(t, err, "n=%d", n)
		assertPartition(t, result.Fine, n)
		assertPartition(t, result.Coarse, n)
		assert.LessOrEqual(t, len(result.Coarse.Clusters), len(result.Fine.Clusters), "n=%d", n)
	}
}

func TestMultiLevelClustersDeterministic(t *testing.T) {
	vectors := circleVectors(40)

	first, err := MultiLevelClusters(vectors)
	require.NoError(t, err)
	second, err := MultiLevelClusters(vectors)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAnnotateClustersMapsToOriginalIndices(t *testing.T) {
	// Comments 1 and 3 have no embeddings; the remaining vectors are two
	// tight pairs.
	embedded := []EmbeddedComment{
		{Comment: Comment{Text: "left a"}, Embedding: []float64{1, 0}},
		{Comment: Comment{Text: "dropped"}},
		{Comment: Comment{Text: "left b"}, Embedding: []float64{0.99, 0.01}},
		{Comment: Comment{Text: "dropped too"}},
		{Comment: Comment{Text: "up a"}, Embedding: []float64{0, 1}},
		{Comment: Comment{Text: "up b"}, Embedding: []float64{0.01, 0.99}},
	}

	vectors, originalIndices := ValidEmbeddings(embedded)
	require.Len(t, vectors, 4)

	result, err := Partition(vectors, func(int) int { return 2 })
	require.NoError(t, err)
	require.Len(t, result.Clusters, 2)

	annotated := annotateClusters(result, vectors, originalIndices, embedded)
	require.Len(t, annotated, 2)

	var allIndices []int
	for _, cluster := range annotated {
		assert.NotEmpty(t, cluster.TopComments)
		assert.LessOrEqual(t, len(cluster.TopComments), 3)
		allIndices = append(allIndices, cluster.CommentIndices...)
	}
	assert.ElementsMatch(t, []int{0, 2, 4, 5}, allIndices)

	for _, cluster := range annotated {
		for _, top := range cluster.TopComments {
			assert.NotContains(t, top, "dropped")
		}
	}
}
