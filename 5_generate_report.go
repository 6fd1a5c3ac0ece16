package voxtube

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed templates/report.html
var htmlTemplate string

//go:embed templates/styles.css
var cssStyles string

// GenerateReportCmd: merges comments, clusters and labels into report.md and report.html
var GenerateReportCmd = &cobra.Command{
	Use:   "generate-report",
	Short: "Generate the comment insight report in markdown and HTML",
	Run: func(cmd *cobra.Command, args []string) {
		report := generateReportMarkdown()
		if err := os.WriteFile("report.md", []byte(report), 0644); err != nil {
			log.Printf("Failed to write report file: %v", err)
			return
		}
		log.Println("Report generated: report.md")

		htmlContent := generateCompleteHTML(report)
		if err := os.WriteFile("report.html", []byte(htmlContent), 0644); err != nil {
			log.Printf("Failed to write HTML file: %v", err)
			return
		}
		log.Println("HTML report generated: report.html")
	},
}

// generateReportMarkdown builds the markdown report for every labeled video.
func generateReportMarkdown() string {
	files, err := os.ReadDir("labels")
	if err != nil {
		log.Printf("Failed to read labels directory: %v", err)
		return "# Comment Insights\n\nNo labeled clusters found.\n"
	}

	var sb strings.Builder
	sb.WriteString("# Comment Insights\n\n")
	sb.WriteString(fmt.Sprintf("*Generated %s*\n\n", time.Now().Format("2 January 2006")))

	videosWritten := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		videoID := strings.TrimSuffix(file.Name(), ".json")
		if err := writeVideoSection(&sb, videoID); err != nil {
			log.Printf("Skipping video %s in report: %v", videoID, err)
			continue
		}
		videosWritten++
	}

	if videosWritten == 0 {
		return "# Comment Insights\n\nNo labeled clusters found.\n"
	}

	return sb.String()
}

// writeVideoSection renders one video's themes and comment groups.
func writeVideoSection(sb *strings.Builder, videoID string) error {
	labels, err := readVideoLabels(videoID)
	if err != nil {
		return err
	}
	report, err := readClusterReport(videoID)
	if err != nil {
		return err
	}
	video, err := readVideoComments(videoID)
	if err != nil {
		return err
	}

	sb.WriteString(fmt.Sprintf("## %s\n\n", video.Title))
	sb.WriteString(fmt.Sprintf("*%s — %d comments analyzed, %d with embeddings*\n\n",
		video.ChannelTitle, report.TotalComments, report.EmbeddedCount))

	// Broad themes first, then the fine groups, largest first.
	if len(labels.Coarse) > 0 {
		sb.WriteString("### Broad themes\n\n")
		for _, cluster := range sortedBySize(labels.Coarse) {
			sb.WriteString(fmt.Sprintf("- **%s** (%d comments, cohesion %.2f): %s\n",
				cluster.Label.Title, cluster.Size, cluster.Confidence, cluster.Label.Summary))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("### Comment groups\n\n")
	fineByID := make(map[int]AnnotatedCluster)
	for _, cluster := range report.Fine {
		fineByID[cluster.ClusterID] = cluster
	}

	for _, cluster := range sortedBySize(labels.Fine) {
		marker := ""
		if cluster.Label.IsStory {
			marker = " 📖"
		}
		sb.WriteString(fmt.Sprintf("#### %s%s\n\n", cluster.Label.Title, marker))
		sb.WriteString(fmt.Sprintf("%s\n\n", cluster.Label.Summary))
		sb.WriteString(fmt.Sprintf("*%d comments, cohesion %.2f*\n\n", cluster.Size, cluster.Confidence))

		if annotated, ok := fineByID[cluster.ClusterID]; ok {
			for _, idx := range annotated.CommentIndices {
				if idx < 0 || idx >= len(video.Comments) {
					continue
				}
				comment := video.Comments[idx]
				if !isTopComment(annotated.TopComments, comment.Text) {
					continue
				}
				sb.WriteString(fmt.Sprintf("> %s — *%s* (👍 %d)\n\n",
					truncateString(comment.Text, 200), comment.AuthorName, comment.LikeCount))
			}
		}
	}

	sb.WriteString("---\n\n")
	return nil
}

func isTopComment(topComments []string, text string) bool {
	for _, top := range topComments {
		if top == text {
			return true
		}
	}
	return false
}

func sortedBySize(clusters []LabeledCluster) []LabeledCluster {
	sorted := make([]LabeledCluster, len(clusters))
	copy(sorted, clusters)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Size > sorted[j].Size
	})
	return sorted
}

// readVideoLabels reads labels/videoID.json
func readVideoLabels(videoID string) (VideoLabels, error) {
	data, err := os.ReadFile("labels/" + videoID + ".json")
	if err != nil {
		return VideoLabels{}, fmt.Errorf("failed to read labels file: %w", err)
	}

	var labels VideoLabels
	if err := json.Unmarshal(data, &labels); err != nil {
		return VideoLabels{}, fmt.Errorf("failed to parse labels file: %w", err)
	}

	return labels, nil
}

// generateCompleteHTML generates a complete HTML document with embedded CSS
func generateCompleteHTML(markdownContent string) string {
	// Configure goldmark with extensions
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Linkify,
			extension.Strikethrough,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(markdownContent), &buf); err != nil {
		log.Printf("Failed to convert markdown to HTML: %v", err)
		return ""
	}

	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		log.Printf("Failed to parse HTML template: %v", err)
		return ""
	}

	data := struct {
		Title string
		Date  string
		Body  template.HTML
		CSS   template.CSS
	}{
		Title: "Comment Insights",
		Date:  time.Now().Format("2 January 2006"),
		Body:  template.HTML(buf.String()),
		CSS:   template.CSS(cssStyles),
	}

	var result bytes.Buffer
	if err := tmpl.Execute(&result, data); err != nil {
		log.Printf("Failed to execute template: %v", err)
		return ""
	}

	return result.String()
}
