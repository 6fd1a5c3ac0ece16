package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/GojoSnippet/VoxTube"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func getenv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return value
}

func main() {
	// Load .env file
	err := godotenv.Load()
	if err != nil {
		log.Fatal("Error loading .env file")
	}

	// Set configuration for the voxtube package
	voxtube.Config.YouTubeAPIKey = getenv("YOUTUBE_API_KEY")
	voxtube.Config.OpenAIAPIKey = getenv("OPENAI_API_KEY")

	rootCmd := &cobra.Command{
		Use:   "voxtube",
		Short: "YouTube Comment Insight CLI",
	}

	// Add all commands from the voxtube package
	rootCmd.AddCommand(voxtube.FetchCommentsCmd)
	rootCmd.AddCommand(voxtube.EmbedCommentsCmd)
	rootCmd.AddCommand(voxtube.ClusterCommentsCmd)
	rootCmd.AddCommand(voxtube.LabelClustersCmd)
	rootCmd.AddCommand(voxtube.GenerateReportCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run [video-id-or-url]",
	Short: "Run the full pipeline: fetch-comments -> embed-comments -> cluster-comments -> label-clusters -> generate-report",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Running full pipeline...")
		voxtube.FetchCommentsCmd.Run(cmd, args)
		voxtube.EmbedCommentsCmd.Run(cmd, args)
		voxtube.ClusterCommentsCmd.Run(cmd, args)
		voxtube.LabelClustersCmd.Run(cmd, args)
		voxtube.GenerateReportCmd.Run(cmd, args)
		log.Println("Pipeline complete.")
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old comments, embeddings, clusters, labels, and reports",
	Run: func(cmd *cobra.Command, args []string) {
		dirs := []string{"comments", "embedded", "clusters", "labels"}
		for _, dir := range dirs {
			files, err := os.ReadDir(dir)
			if err != nil {
				log.Printf("Failed to read %s: %v", dir, err)
				continue
			}
			for _, file := range files {
				if file.IsDir() {
					continue
				}
				err := os.Remove(filepath.Join(dir, file.Name()))
				if err != nil {
					log.Printf("Failed to remove %s: %v", file.Name(), err)
				}
			}
		}

		for _, name := range []string{"report.md", "report.html"} {
			if err := os.Remove(name); err != nil {
				if !os.IsNotExist(err) {
					log.Printf("Failed to remove %s: %v", name, err)
				}
			}
		}

		log.Println("Cleaned comments, embedded, clusters, labels directories and reports.")
	},
}
