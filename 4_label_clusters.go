package voxtube

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/spf13/cobra"
)

// ClusterLabel is the structured response for one comment group.
type ClusterLabel struct {
	Title   string `json:"title" jsonschema:"description=Short topical name for the comment group"`
	Summary string `json:"summary" jsonschema:"description=Two or three sentence summary of what the comments say"`
	IsStory bool   `json:"is_story" jsonschema:"description=True if the comments are personal stories or anecdotes rather than reactions"`
}

// LabeledCluster pairs a cluster with its generated label.
type LabeledCluster struct {
	ClusterID  int          `json:"cluster_id"`
	Confidence float64      `json:"confidence"`
	Size       int          `json:"size"`
	Label      ClusterLabel `json:"label"`
}

// VideoLabels is the saved output of the labeling stage.
type VideoLabels struct {
	VideoID     string           `json:"video_id"`
	Fine        []LabeledCluster `json:"fine"`
	Coarse      []LabeledCluster `json:"coarse"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// maxCommentsPerLabelPrompt bounds the prompt size for large clusters.
const maxCommentsPerLabelPrompt = 20

// LabelClustersCmd: reads clusters/ and comments/, saves labels/videoID.json
var LabelClustersCmd = &cobra.Command{
	Use:   "label-clusters",
	Short: "Generate names and summaries for comment clusters",
	Run: func(cmd *cobra.Command, args []string) {
		if err := labelAllClusters(cmd.Context()); err != nil {
			log.Printf("Failed to label clusters: %v", err)
			return
		}
		log.Println("Cluster labeling complete.")
	},
}

// labelAllClusters labels every clustered video.
func labelAllClusters(ctx context.Context) error {
	files, err := os.ReadDir("clusters")
	if err != nil {
		return fmt.Errorf("failed to read clusters directory: %w", err)
	}

	if err := os.MkdirAll("labels", 0755); err != nil {
		return fmt.Errorf("failed to create labels directory: %w", err)
	}

	client := openai.NewClient(option.WithAPIKey(Config.OpenAIAPIKey))

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		videoID := strings.TrimSuffix(file.Name(), ".json")
		if err := labelVideoClusters(ctx, client, videoID); err != nil {
			log.Printf("Failed to label clusters for video %s: %v", videoID, err)
			continue
		}
		log.Printf("🏷️  Labeled clusters for video: %s", videoID)
	}

	return nil
}

// labelVideoClusters labels the fine clusters and coarse themes of one video.
func labelVideoClusters(ctx context.Context, client openai.Client, videoID string) error {
	report, err := readClusterReport(videoID)
	if err != nil {
		return err
	}

	video, err := readVideoComments(videoID)
	if err != nil {
		return err
	}

	labels := VideoLabels{
		VideoID:     videoID,
		Fine:        labelClusterSet(ctx, client, video, report.Fine, "comment group"),
		Coarse:      labelClusterSet(ctx, client, video, report.Coarse, "broad theme"),
		GeneratedAt: time.Now(),
	}

	data, err := json.MarshalIndent(labels, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	path := filepath.Join("labels", videoID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write labels file: %w", err)
	}

	return nil
}

// readClusterReport reads clusters/videoID.json
func readClusterReport(videoID string) (VideoClusterReport, error) {
	data, err := os.ReadFile(filepath.Join("clusters", videoID+".json"))
	if err != nil {
		return VideoClusterReport{}, fmt.Errorf("failed to read cluster report: %w", err)
	}

	var report VideoClusterReport
	if err := json.Unmarshal(data, &report); err != nil {
		return VideoClusterReport{}, fmt.Errorf("failed to parse cluster report: %w", err)
	}

	return report, nil
}

// labelClusterSet labels every cluster in one level. A failed call degrades
// to a placeholder label; labeling never aborts the pipeline.
func labelClusterSet(ctx context.Context, client openai.Client, video VideoComments, clusters []AnnotatedCluster, kind string) []LabeledCluster {
	labeled := make([]LabeledCluster, 0, len(clusters))

	for _, cluster := range clusters {
		texts := clusterCommentTexts(video, cluster)

		label, err := generateClusterLabel(ctx, client, video.Title, kind, texts)
		if err != nil {
			log.Printf("Failed to label cluster %d: %v", cluster.ClusterID, err)
			label = ClusterLabel{
				Title:   fmt.Sprintf("Group %d", cluster.ClusterID+1),
				Summary: "No summary available.",
			}
		}

		labeled = append(labeled, LabeledCluster{
			ClusterID:  cluster.ClusterID,
			Confidence: cluster.Confidence,
			Size:       len(cluster.CommentIndices),
			Label:      label,
		})
	}

	return labeled
}

// clusterCommentTexts collects member comment texts for a prompt, capped so
// oversized clusters don't blow up the request.
func clusterCommentTexts(video VideoComments, cluster AnnotatedCluster) []string {
	texts := make([]string, 0, min(maxCommentsPerLabelPrompt, len(cluster.CommentIndices)))
	for _, idx := range cluster.CommentIndices {
		if idx < 0 || idx >= len(video.Comments) {
			continue
		}
		texts = append(texts, video.Comments[idx].Text)
		if len(texts) >= maxCommentsPerLabelPrompt {
			break
		}
	}
	return texts
}

// generateClusterLabel calls OpenAI with a strict JSON schema to name and
// summarize one group of comments.
func generateClusterLabel(ctx context.Context, client openai.Client, videoTitle, kind string, texts []string) (ClusterLabel, error) {
	// Generate JSON schema for structured output
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaObj := reflector.Reflect(&ClusterLabel{})

	if schemaObj.Type == "" {
		schemaObj.Type = "object"
	}

	schemaBytes, err := json.Marshal(schemaObj)
	if err != nil {
		return ClusterLabel{}, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schema any
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return ClusterLabel{}, fmt.Errorf("failed to unmarshal schema: %w", err)
	}

	var commentList strings.Builder
	for _, text := range texts {
		commentList.WriteString("- ")
		commentList.WriteString(text)
		commentList.WriteString("\n")
	}

	systemContent := fmt.Sprintf(`You summarize groups of YouTube comments. Given comments from one %s under a video, produce:
1. A short topical title (max 6 words)
2. A two or three sentence summary of what the comments say
3. Whether the comments are mostly personal stories or anecdotes (is_story)

Comments may be multi-lingual and full of emoji; summarize in the dominant language of the group.`, kind)
	userContent := fmt.Sprintf("Video: %s\n\nComments:\n%s", videoTitle, commentList.String())

	chatCompletion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemContent),
			openai.UserMessage(userContent),
		},
		Model:       openai.ChatModelGPT4_1Mini,
		MaxTokens:   openai.Int(500),
		Temperature: openai.Float(0.1),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "cluster_label",
					Description: openai.String("Name and summarize a group of YouTube comments"),
					Schema:      schema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return ClusterLabel{}, fmt.Errorf("failed to call OpenAI API: %w", err)
	}

	if len(chatCompletion.Choices) == 0 || chatCompletion.Choices[0].Message.Content == "" {
		return ClusterLabel{}, fmt.Errorf("no content in response")
	}

	var label ClusterLabel
	if err := json.Unmarshal([]byte(chatCompletion.Choices[0].Message.Content), &label); err != nil {
		return ClusterLabel{}, fmt.Errorf("failed to parse structured response: %w", err)
	}

	return label, nil
}
