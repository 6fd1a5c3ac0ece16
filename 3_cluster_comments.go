package voxtube

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNothingToCluster is returned when no comments with usable embeddings
// reach the partitioner. This is a real absence of data, not a fault.
var ErrNothingToCluster = errors.New("no comments with usable embeddings")

// ErrInvalidVectors marks a contract violation: mismatched or zero-length
// embedding vectors handed to the partitioner. This is a caller bug and is
// never silently coerced.
var ErrInvalidVectors = errors.New("invalid embedding vectors")

// Cluster is one group of comments within a ClusterResult. MemberIndices
// index into the vector sequence handed to Partition; IDs are stable within
// a single run only.
type Cluster struct {
	ID            int       `json:"cluster_id"`
	MemberIndices []int     `json:"member_indices"`
	Confidence    float64   `json:"confidence"`
	Centroid      []float64 `json:"-"` // Don't serialize centroid
}

// ClusterResult is the output of one partitioning pass. The MemberIndices of
// its clusters partition [0, N) exactly: every index appears in exactly one
// cluster.
type ClusterResult struct {
	Clusters []Cluster `json:"clusters"`
}

// MultiLevelResult holds the fine and coarse partitions of the same vector
// sequence. Index i refers to the same comment in both levels.
type MultiLevelResult struct {
	Fine   ClusterResult `json:"fine"`
	Coarse ClusterResult `json:"coarse"`
}

// TargetCountPolicy maps the number of vectors to a desired cluster count.
// The result is always clamped to [1, N] by Partition.
type TargetCountPolicy func(n int) int

// FineClusterCount targets many small, tight groups of roughly four members.
func FineClusterCount(n int) int {
	return (n + 3) / 4
}

// CoarseClusterCount targets a handful of broad themes.
func CoarseClusterCount(n int) int {
	k := (n + 19) / 20
	if k < 2 {
		k = 2
	}
	if k > 8 {
		k = 8
	}
	return k
}

// maxPartitionIterations caps the assignment/update loop; in practice the
// loop converges in a handful of iterations at this input scale.
const maxPartitionIterations = 50

// Partition groups N embedding vectors into clusters using iterative
// centroid refinement over cosine similarity (k-means on L2-normalized
// vectors). Seeding is deterministic, so identical input in identical order
// always produces an identical partition with identical confidences.
func Partition(vectors [][]float64, policy TargetCountPolicy) (ClusterResult, error) {
	n := len(vectors)
	if n == 0 {
		return ClusterResult{}, ErrNothingToCluster
	}

	dim := len(vectors[0])
	if dim == 0 {
		return ClusterResult{}, fmt.Errorf("vector 0 has zero length: %w", ErrInvalidVectors)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return ClusterResult{}, fmt.Errorf("vector %d has length %d, want %d: %w", i, len(v), dim, ErrInvalidVectors)
		}
	}

	k := policy(n)
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	// All comparisons below are dot products of unit vectors, which equal
	// cosine similarity.
	data := mat.NewDense(n, dim, nil)
	for i, v := range vectors {
		data.SetRow(i, normalizeVector(v))
	}

	centroids := seedCentroids(data, k)
	alive := make([]bool, k)
	for i := range alive {
		alive[i] = true
	}

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}

	for iter := 0; iter < maxPartitionIterations; iter++ {
		next := assignToCentroids(data, centroids, alive)
		if slices.Equal(next, assignments) {
			break
		}
		assignments = next
		updateCentroids(data, assignments, centroids, alive)
	}

	return buildClusters(data, assignments, k), nil
}

// seedCentroids picks k seed rows deterministically: the row closest to the
// global mean first, then greedy farthest-point selection (the remaining row
// with the lowest maximum similarity to every chosen seed). Ties always go
// to the lowest index so runs are reproducible.
func seedCentroids(data *mat.Dense, k int) [][]float64 {
	n, dim := data.Dims()

	mean := make([]float64, dim)
	for i := 0; i < n; i++ {
		floats.Add(mean, data.RawRowView(i))
	}
	floats.Scale(1/float64(n), mean)

	first := 0
	bestSim := math.Inf(-1)
	for i := 0; i < n; i++ {
		if sim := floats.Dot(data.RawRowView(i), mean); sim > bestSim {
			first, bestSim = i, sim
		}
	}

	chosen := make([]int, 0, k)
	chosen = append(chosen, first)
	isChosen := make([]bool, n)
	isChosen[first] = true

	// maxSim[i] tracks the highest similarity of row i to any chosen seed.
	maxSim := make([]float64, n)
	for i := 0; i < n; i++ {
		maxSim[i] = floats.Dot(data.RawRowView(i), data.RawRowView(first))
	}

	for len(chosen) < k {
		next := -1
		nextSim := math.Inf(1)
		for i := 0; i < n; i++ {
			if !isChosen[i] && maxSim[i] < nextSim {
				next, nextSim = i, maxSim[i]
			}
		}
		chosen = append(chosen, next)
		isChosen[next] = true
		for i := 0; i < n; i++ {
			if sim := floats.Dot(data.RawRowView(i), data.RawRowView(next)); sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}

	centroids := make([][]float64, k)
	for c, idx := range chosen {
		centroids[c] = make([]float64, dim)
		copy(centroids[c], data.RawRowView(idx))
	}
	return centroids
}

// assignToCentroids assigns every row to the live centroid of highest
// cosine similarity. Ties go to the lowest centroid index.
func assignToCentroids(data *mat.Dense, centroids [][]float64, alive []bool) []int {
	n, _ := data.Dims()
	assignments := make([]int, n)

	for i := 0; i < n; i++ {
		row := data.RawRowView(i)
		best := -1
		bestSim := math.Inf(-1)
		for c := range centroids {
			if !alive[c] {
				continue
			}
			if sim := floats.Dot(row, centroids[c]); sim > bestSim {
				best, bestSim = c, sim
			}
		}
		assignments[i] = best
	}

	return assignments
}

// updateCentroids recomputes each live centroid as the normalized mean of
// its members. Centroids with zero members are marked dead and never come
// back; a member set whose mean cancels to zero keeps its previous centroid.
func updateCentroids(data *mat.Dense, assignments []int, centroids [][]float64, alive []bool) {
	_, dim := data.Dims()

	sums := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for c := range sums {
		sums[c] = make([]float64, dim)
	}

	for i, c := range assignments {
		floats.Add(sums[c], data.RawRowView(i))
		counts[c]++
	}

	for c := range centroids {
		if !alive[c] {
			continue
		}
		if counts[c] == 0 {
			alive[c] = false
			continue
		}
		normalized := normalizeVector(sums[c])
		if floats.Dot(normalized, normalized) == 0 {
			continue
		}
		centroids[c] = normalized
	}
}

// buildClusters converts the final assignment into a ClusterResult. IDs are
// assigned in the order clusters survive (ascending centroid slot).
func buildClusters(data *mat.Dense, assignments []int, k int) ClusterResult {
	_, dim := data.Dims()

	members := make([][]int, k)
	for i, c := range assignments {
		members[c] = append(members[c], i)
	}

	var clusters []Cluster
	for c := 0; c < k; c++ {
		if len(members[c]) == 0 {
			continue
		}

		centroid := make([]float64, dim)
		for _, idx := range members[c] {
			floats.Add(centroid, data.RawRowView(idx))
		}
		floats.Scale(1/float64(len(members[c])), centroid)
		centroid = normalizeVector(centroid)

		clusters = append(clusters, Cluster{
			ID:            len(clusters),
			MemberIndices: members[c],
			Confidence:    clusterConfidence(data, members[c], centroid),
			Centroid:      centroid,
		})
	}

	return ClusterResult{Clusters: clusters}
}

// clusterConfidence is the mean member-to-centroid cosine similarity,
// clamped to [0, 1]. Singleton clusters are perfectly cohesive by
// definition.
func clusterConfidence(data *mat.Dense, members []int, centroid []float64) float64 {
	if len(members) <= 1 {
		return 1.0
	}

	total := 0.0
	for _, idx := range members {
		total += floats.Dot(data.RawRowView(idx), centroid)
	}
	mean := total / float64(len(members))

	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}

// MultiLevelClusters partitions the same vector sequence twice, once fine
// and once coarse. Both results share the input's index space, so a fine
// cluster's members can be located inside the coarse themes directly.
func MultiLevelClusters(vectors [][]float64) (MultiLevelResult, error) {
	return MultiLevelClustersWithPolicies(vectors, FineClusterCount, CoarseClusterCount)
}

// MultiLevelClustersWithPolicies is MultiLevelClusters with tunable count
// policies. The coarse target is capped at the fine target so the coarse
// level can never be the more granular one.
func MultiLevelClustersWithPolicies(vectors [][]float64, fine, coarse TargetCountPolicy) (MultiLevelResult, error) {
	cappedCoarse := func(n int) int {
		k := coarse(n)
		if f := fine(n); k > f {
			k = f
		}
		return k
	}

	var fineResult, coarseResult ClusterResult
	var fineErr, coarseErr error

	// Both passes only read the input snapshot, so they can run in parallel.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		fineResult, fineErr = Partition(vectors, fine)
	}()
	go func() {
		defer wg.Done()
		coarseResult, coarseErr = Partition(vectors, cappedCoarse)
	}()
	wg.Wait()

	if fineErr != nil {
		return MultiLevelResult{}, fineErr
	}
	if coarseErr != nil {
		return MultiLevelResult{}, coarseErr
	}

	// Dropped empty centroids can, in degenerate inputs, leave the coarse
	// pass with more surviving clusters than the fine pass. Re-run coarse
	// pinned to the fine count so granularity stays monotone.
	if len(coarseResult.Clusters) > len(fineResult.Clusters) {
		pinned := len(fineResult.Clusters)
		coarseResult, coarseErr = Partition(vectors, func(int) int { return pinned })
		if coarseErr != nil {
			return MultiLevelResult{}, coarseErr
		}
	}

	return MultiLevelResult{Fine: fineResult, Coarse: coarseResult}, nil
}

// AnnotatedCluster is a cluster mapped back to original comment indices for
// the naming and report stages.
type AnnotatedCluster struct {
	ClusterID      int      `json:"cluster_id"`
	Confidence     float64  `json:"confidence"`
	CommentIndices []int    `json:"comment_indices"`
	TopComments    []string `json:"top_comments"`
}

// VideoClusterReport is the saved output of the clustering stage.
type VideoClusterReport struct {
	VideoID       string             `json:"video_id"`
	TotalComments int                `json:"total_comments"`
	EmbeddedCount int                `json:"embedded_count"`
	Fine          []AnnotatedCluster `json:"fine"`
	Coarse        []AnnotatedCluster `json:"coarse"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

// ClusterCommentsCmd: reads embedded/, saves clusters/videoID.json
var ClusterCommentsCmd = &cobra.Command{
	Use:   "cluster-comments",
	Short: "Cluster embedded comments at fine and coarse granularity",
	Run: func(cmd *cobra.Command, args []string) {
		if err := clusterAllComments(); err != nil {
			log.Printf("Failed to cluster comments: %v", err)
			return
		}
		log.Println("Comment clustering complete.")
	},
}

// clusterAllComments partitions every embedded comment file at both levels.
func clusterAllComments() error {
	files, err := os.ReadDir("embedded")
	if err != nil {
		return fmt.Errorf("failed to read embedded directory: %w", err)
	}

	if err := os.MkdirAll("clusters", 0755); err != nil {
		return fmt.Errorf("failed to create clusters directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		videoID := strings.TrimSuffix(file.Name(), ".json")
		if err := clusterVideoComments(videoID); err != nil {
			log.Printf("Failed to cluster comments for video %s: %v", videoID, err)
			continue
		}
	}

	return nil
}

// clusterVideoComments runs the multi-level orchestrator over one video's
// embedded comments and saves the annotated result.
func clusterVideoComments(videoID string) error {
	data, err := os.ReadFile(filepath.Join("embedded", videoID+".json"))
	if err != nil {
		return fmt.Errorf("failed to read embedded comments file: %w", err)
	}

	var embedded []EmbeddedComment
	if err := json.Unmarshal(data, &embedded); err != nil {
		return fmt.Errorf("failed to parse embedded comments: %w", err)
	}

	vectors, originalIndices := ValidEmbeddings(embedded)
	if len(vectors) == 0 {
		return fmt.Errorf("video %s: %w", videoID, ErrNothingToCluster)
	}

	result, err := MultiLevelClusters(vectors)
	if err != nil {
		return fmt.Errorf("failed to partition comments: %w", err)
	}

	report := VideoClusterReport{
		VideoID:       videoID,
		TotalComments: len(embedded),
		EmbeddedCount: len(vectors),
		Fine:          annotateClusters(result.Fine, vectors, originalIndices, embedded),
		Coarse:        annotateClusters(result.Coarse, vectors, originalIndices, embedded),
		GeneratedAt:   time.Now(),
	}

	printClusterReport(report)

	jsonData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cluster report: %w", err)
	}

	path := filepath.Join("clusters", videoID+".json")
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write cluster report: %w", err)
	}

	return nil
}

// annotateClusters maps cluster members back to original comment indices and
// picks up to three representative comment texts per cluster, closest to the
// centroid first.
func annotateClusters(result ClusterResult, vectors [][]float64, originalIndices []int, embedded []EmbeddedComment) []AnnotatedCluster {
	annotated := make([]AnnotatedCluster, 0, len(result.Clusters))

	for _, cluster := range result.Clusters {
		type rankedMember struct {
			member     int
			similarity float64
		}
		ranked := make([]rankedMember, 0, len(cluster.MemberIndices))
		for _, member := range cluster.MemberIndices {
			ranked = append(ranked, rankedMember{
				member:     member,
				similarity: CosineSimilarity(vectors[member], cluster.Centroid),
			})
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].similarity > ranked[j].similarity
		})

		indices := make([]int, len(cluster.MemberIndices))
		for i, member := range cluster.MemberIndices {
			indices[i] = originalIndices[member]
		}

		topCount := min(3, len(ranked))
		top := make([]string, 0, topCount)
		for _, r := range ranked[:topCount] {
			top = append(top, embedded[originalIndices[r.member]].Text)
		}

		annotated = append(annotated, AnnotatedCluster{
			ClusterID:      cluster.ID,
			Confidence:     cluster.Confidence,
			CommentIndices: indices,
			TopComments:    top,
		})
	}

	return annotated
}

// printClusterReport prints a clustering quality summary for one video.
func printClusterReport(report VideoClusterReport) {
	log.Println("=====================================")
	log.Printf("   COMMENT CLUSTERS: %s", report.VideoID)
	log.Println("=====================================")
	log.Printf("📊 Comments: %d total, %d with embeddings", report.TotalComments, report.EmbeddedCount)
	log.Printf("🔬 Fine level: %d clusters (avg confidence %.3f)", len(report.Fine), averageConfidence(report.Fine))
	log.Printf("🗺️  Coarse level: %d themes (avg confidence %.3f)", len(report.Coarse), averageConfidence(report.Coarse))

	for _, cluster := range report.Fine {
		preview := ""
		if len(cluster.TopComments) > 0 {
			preview = truncateString(cluster.TopComments[0], 60)
		}
		log.Printf("  Cluster %d: %d comments, confidence %.3f — %s",
			cluster.ClusterID, len(cluster.CommentIndices), cluster.Confidence, preview)
	}
	log.Println("=====================================")
}

func averageConfidence(clusters []AnnotatedCluster) float64 {
	if len(clusters) == 0 {
		return 0
	}
	total := 0.0
	for _, cluster := range clusters {
		total += cluster.Confidence
	}
	return total / float64(len(clusters))
}

// truncateString truncates a string to maxLength with ellipsis
func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength-3] + "..."
}
