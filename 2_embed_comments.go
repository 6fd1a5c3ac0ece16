package voxtube

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/spf13/cobra"
)

// EmbeddedComment is a Comment plus its embedding vector. An empty Embedding
// means the embedding service could not produce a vector for this comment.
type EmbeddedComment struct {
	Comment
	Embedding []float64 `json:"embedding"`
}

// HasEmbedding reports whether a usable vector was produced.
func (ec EmbeddedComment) HasEmbedding() bool {
	return len(ec.Embedding) > 0
}

// ErrEmbeddingUnavailable marks a batch whose retries were exhausted against
// the embedding service. The affected comments degrade to empty embeddings;
// the pipeline as a whole keeps going.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// embeddingClient is the boundary to the external embedding service: one
// vector per input text, in input order. Implementations must distinguish
// transient failures (retried by the caller) from terminal ones.
type embeddingClient interface {
	embedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// embedConfig bounds the Vectorizer's batching, concurrency and retries.
type embedConfig struct {
	BatchSize    int
	MaxInFlight  int
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	BatchTimeout time.Duration
}

func defaultEmbedConfig() embedConfig {
	return embedConfig{
		BatchSize:    100,
		MaxInFlight:  4,
		MaxRetries:   3,
		BaseDelay:    2 * time.Second,
		MaxDelay:     30 * time.Second,
		BatchTimeout: 60 * time.Second,
	}
}

// EmbedComments converts comments into EmbeddedComments. Output index i
// always corresponds to input index i, regardless of which batch finishes
// first. Comments in batches that fail all retries come back with empty
// embeddings instead of failing the whole call.
func EmbedComments(ctx context.Context, client embeddingClient, comments []Comment) []EmbeddedComment {
	return embedComments(ctx, client, comments, defaultEmbedConfig())
}

func embedComments(ctx context.Context, client embeddingClient, comments []Comment, cfg embedConfig) []EmbeddedComment {
	out := make([]EmbeddedComment, len(comments))
	for i, c := range comments {
		out[i] = EmbeddedComment{Comment: c}
	}
	if len(comments) == 0 {
		return out
	}

	sem := make(chan struct{}, cfg.MaxInFlight)
	var wg sync.WaitGroup

	for start := 0; start < len(comments); start += cfg.BatchSize {
		end := min(start+cfg.BatchSize, len(comments))

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Analysis cancelled: leave the remaining slots empty rather
			// than issuing calls nobody is waiting for.
			if ctx.Err() != nil {
				return
			}

			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = comments[i].Text
			}

			vectors, err := embedBatchWithRetry(ctx, client, texts, cfg)
			if err != nil {
				log.Printf("⚠️  Batch %d-%d degraded to empty embeddings: %v", start, end-1, err)
				return
			}

			// Each batch owns a disjoint slice of the output, so no locking.
			for i, vector := range vectors {
				out[start+i].Embedding = vector
			}
		}(start, end)
	}

	wg.Wait()
	return out
}

// embedBatchWithRetry calls the embedding service with bounded exponential
// backoff. Terminal errors (bad request, invalid input) are not retried.
func embedBatchWithRetry(ctx context.Context, client embeddingClient, texts []string, cfg embedConfig) ([][]float64, error) {
	delay := cfg.BaseDelay

	for attempt := 0; ; attempt++ {
		batchCtx, cancel := context.WithTimeout(ctx, cfg.BatchTimeout)
		vectors, err := client.embedBatch(batchCtx, texts)
		cancel()

		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("embedding service returned %d vectors for %d texts: %w", len(vectors), len(texts), ErrEmbeddingUnavailable)
			}
			return vectors, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryableEmbedError(err) {
			return nil, err
		}
		if attempt == cfg.MaxRetries {
			return nil, fmt.Errorf("%w after %d retries: %v", ErrEmbeddingUnavailable, cfg.MaxRetries, err)
		}

		log.Printf("Embedding batch failed (attempt %d/%d), retrying in %v: %v", attempt+1, cfg.MaxRetries+1, delay, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// isRetryableEmbedError distinguishes transient service failures from
// terminal ones. Rate limits, server errors, timeouts and network failures
// are retried; anything the service rejected outright is not.
func isRetryableEmbedError(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500
	}
	// Network-level and timeout errors carry no status code.
	return true
}

// ValidEmbeddings filters out comments without usable vectors. It returns
// the vectors plus each vector's index in the original embedded sequence so
// cluster members can be traced back to their comments.
func ValidEmbeddings(embedded []EmbeddedComment) (vectors [][]float64, originalIndices []int) {
	for i, ec := range embedded {
		if ec.HasEmbedding() {
			vectors = append(vectors, ec.Embedding)
			originalIndices = append(originalIndices, i)
		}
	}
	return vectors, originalIndices
}

// openAIEmbeddingClient is the single adapter that normalizes the external
// service's response shape: rows are reordered by the service-reported index
// before they leave this boundary.
type openAIEmbeddingClient struct {
	client openai.Client
}

func newOpenAIEmbeddingClient() *openAIEmbeddingClient {
	return &openAIEmbeddingClient{
		client: openai.NewClient(option.WithAPIKey(Config.OpenAIAPIKey)),
	}
}

func (c *openAIEmbeddingClient) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          openai.EmbeddingModelTextEmbedding3Small,
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call OpenAI API: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || int(item.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, vector := range vectors {
		if len(vector) == 0 {
			return nil, fmt.Errorf("no embedding data for input %d", i)
		}
	}

	return vectors, nil
}

// cachedEmbeddingClient is a read-through SQLite cache keyed by comment-text
// hash. The cache is advisory only: any cache failure is logged and the
// request falls through to the inner client.
type cachedEmbeddingClient struct {
	db    *sql.DB
	inner embeddingClient
}

func newCachedEmbeddingClient(inner embeddingClient) (*cachedEmbeddingClient, error) {
	db, err := sql.Open("sqlite3", "embeddings.db")
	if err != nil {
		return nil, err
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS embedding_cache (
		text_hash TEXT PRIMARY KEY,
		embedding_json TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		if err := db.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
		return nil, err
	}

	return &cachedEmbeddingClient{db: db, inner: inner}, nil
}

func (c *cachedEmbeddingClient) Close() error {
	return c.db.Close()
}

func (c *cachedEmbeddingClient) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))

	var missingTexts []string
	var missingIndices []int
	for i, text := range texts {
		if cached, ok := c.lookup(ctx, text); ok {
			vectors[i] = cached
			continue
		}
		missingTexts = append(missingTexts, text)
		missingIndices = append(missingIndices, i)
	}

	if len(missingTexts) == 0 {
		return vectors, nil
	}

	fetched, err := c.inner.embedBatch(ctx, missingTexts)
	if err != nil {
		return nil, err
	}

	for i, vector := range fetched {
		vectors[missingIndices[i]] = vector
		c.store(ctx, missingTexts[i], vector)
	}

	return vectors, nil
}

func (c *cachedEmbeddingClient) lookup(ctx context.Context, text string) ([]float64, bool) {
	var embeddingJSON string
	err := c.db.QueryRowContext(ctx, "SELECT embedding_json FROM embedding_cache WHERE text_hash = ?", hashText(text)).Scan(&embeddingJSON)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("Embedding cache lookup failed: %v", err)
		}
		return nil, false
	}

	var vector []float64
	if err := json.Unmarshal([]byte(embeddingJSON), &vector); err != nil {
		log.Printf("Embedding cache entry corrupt, ignoring: %v", err)
		return nil, false
	}
	if len(vector) == 0 {
		return nil, false
	}

	return vector, true
}

func (c *cachedEmbeddingClient) store(ctx context.Context, text string, vector []float64) {
	embeddingJSON, err := json.Marshal(vector)
	if err != nil {
		log.Printf("Failed to marshal embedding for cache: %v", err)
		return
	}

	_, err = c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO embedding_cache (text_hash, embedding_json) VALUES (?, ?)",
		hashText(text), string(embeddingJSON))
	if err != nil {
		log.Printf("Failed to store embedding in cache: %v", err)
	}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EmbedCommentsCmd: reads comments/, saves embedded/videoID.json
var EmbedCommentsCmd = &cobra.Command{
	Use:   "embed-comments",
	Short: "Generate embeddings for all fetched comments",
	Run: func(cmd *cobra.Command, args []string) {
		if err := embedAllComments(cmd.Context()); err != nil {
			log.Printf("Failed to embed comments: %v", err)
			return
		}
		log.Println("Comment embedding complete.")
	},
}

// embedAllComments runs the Vectorizer over every fetched comment file.
func embedAllComments(ctx context.Context) error {
	client, err := newCachedEmbeddingClient(newOpenAIEmbeddingClient())
	if err != nil {
		return fmt.Errorf("failed to initialize embedding cache: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Printf("Failed to close database: %v", err)
		}
	}()

	files, err := os.ReadDir("comments")
	if err != nil {
		return fmt.Errorf("failed to read comments directory: %w", err)
	}

	if err := os.MkdirAll("embedded", 0755); err != nil {
		return fmt.Errorf("failed to create embedded directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		videoID := strings.TrimSuffix(file.Name(), ".json")
		if err := embedVideoComments(ctx, client, videoID); err != nil {
			log.Printf("Failed to embed comments for video %s: %v", videoID, err)
			continue
		}
	}

	return nil
}

// embedVideoComments embeds a single video's comments and saves the result.
func embedVideoComments(ctx context.Context, client embeddingClient, videoID string) error {
	video, err := readVideoComments(videoID)
	if err != nil {
		return err
	}

	embedded := EmbedComments(ctx, client, video.Comments)

	usable := 0
	for _, ec := range embedded {
		if ec.HasEmbedding() {
			usable++
		}
	}
	log.Printf("🧮 Embedded %d/%d comments for video: %s", usable, len(embedded), videoID)

	data, err := json.MarshalIndent(embedded, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal embedded comments: %w", err)
	}

	path := filepath.Join("embedded", videoID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write embedded comments file: %w", err)
	}

	return nil
}

// readVideoComments reads comments/videoID.json
func readVideoComments(videoID string) (VideoComments, error) {
	data, err := os.ReadFile(filepath.Join("comments", videoID+".json"))
	if err != nil {
		return VideoComments{}, fmt.Errorf("failed to read comments file: %w", err)
	}

	var video VideoComments
	if err := json.Unmarshal(data, &video); err != nil {
		return VideoComments{}, fmt.Errorf("failed to parse comments file: %w", err)
	}

	return video, nil
}
