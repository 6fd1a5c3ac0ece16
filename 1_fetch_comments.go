package voxtube

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"
	"github.com/spf13/cobra"
)

// Comment is a single top-level comment on a video. Immutable once fetched.
type Comment struct {
	Text                  string `json:"text"`
	AuthorName            string `json:"author_name"`
	AuthorProfileImageURL string `json:"author_profile_image_url,omitempty"`
	LikeCount             int    `json:"like_count"`
}

// VideoComments is the saved output of the fetch stage: video metadata plus
// every usable top-level comment, in the order the API returned them.
type VideoComments struct {
	VideoID         string    `json:"video_id"`
	Title           string    `json:"title"`
	ChannelTitle    string    `json:"channel_title"`
	DurationSeconds int       `json:"duration_seconds"`
	CommentCount    int       `json:"comment_count"`
	FetchedAt       time.Time `json:"fetched_at"`
	Comments        []Comment `json:"comments"`
}

// maxFetchedComments caps pagination; the analysis targets tens to a few
// hundred comments per run, not full comment archives.
const maxFetchedComments = 500

// FetchCommentsCmd: fetches metadata and comments for a video, saves comments/videoID.json
var FetchCommentsCmd = &cobra.Command{
	Use:   "fetch-comments [video-id-or-url]",
	Short: "Fetch top-level comments for a video",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		videoID, err := parseVideoID(args[0])
		if err != nil {
			log.Printf("Invalid video reference %q: %v", args[0], err)
			return
		}

		video, err := fetchVideoComments(videoID)
		if err != nil {
			log.Printf("Failed to fetch comments for %s: %v", videoID, err)
			return
		}

		if err := saveVideoComments(video); err != nil {
			log.Printf("Failed to save comments for %s: %v", videoID, err)
			return
		}

		log.Printf("📥 Fetched %d comments for video: %s (%s)", len(video.Comments), video.VideoID, video.Title)
	},
}

// parseVideoID accepts a bare video ID, a watch URL, or a youtu.be short link.
func parseVideoID(ref string) (string, error) {
	if !strings.Contains(ref, "/") && !strings.Contains(ref, "?") {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	if v := u.Query().Get("v"); v != "" {
		return v, nil
	}
	if strings.Contains(u.Host, "youtu.be") {
		if id := strings.Trim(u.Path, "/"); id != "" {
			return id, nil
		}
	}
	// Shorts and embed URLs carry the ID as the last path element.
	if parts := strings.Split(strings.Trim(u.Path, "/"), "/"); len(parts) > 0 && parts[len(parts)-1] != "" {
		return parts[len(parts)-1], nil
	}

	return "", fmt.Errorf("no video ID found in %q", ref)
}

// fetchVideoComments fetches video metadata and pages through commentThreads.
func fetchVideoComments(videoID string) (VideoComments, error) {
	video, err := fetchVideoMetadata(videoID)
	if err != nil {
		return VideoComments{}, err
	}

	comments, err := fetchCommentPages(videoID)
	if err != nil {
		// Quota exhaustion mid-pagination keeps whatever pages we already
		// have; degraded results beat total failure.
		if len(comments) > 0 {
			log.Printf("⚠️  Comment pagination stopped early for %s: %v (keeping %d comments)", videoID, err, len(comments))
		} else {
			return VideoComments{}, err
		}
	}

	video.Comments = comments
	video.FetchedAt = time.Now()
	return video, nil
}

// fetchVideoMetadata fetches title, channel, duration and comment count using
// the YouTube Data API v3.
func fetchVideoMetadata(videoID string) (VideoComments, error) {
	apiKey := Config.YouTubeAPIKey

	videosURL := fmt.Sprintf(
		"https://www.googleapis.com/youtube/v3/videos?key=%s&id=%s&part=snippet,contentDetails,statistics",
		apiKey, videoID,
	)

	resp, err := http.Get(videosURL)
	if err != nil {
		return VideoComments{}, fmt.Errorf("failed to fetch video metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return VideoComments{}, fmt.Errorf("YouTube API error: %s", string(body))
	}

	var videosResult struct {
		Items []struct {
			ID      string `json:"id"`
			Snippet struct {
				Title        string `json:"title"`
				ChannelTitle string `json:"channelTitle"`
			} `json:"snippet"`
			ContentDetails struct {
				Duration string `json:"duration"`
			} `json:"contentDetails"`
			Statistics struct {
				CommentCount string `json:"commentCount"`
			} `json:"statistics"`
		} `json:"items"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&videosResult); err != nil {
		return VideoComments{}, fmt.Errorf("failed to decode video metadata response: %w", err)
	}

	if len(videosResult.Items) == 0 {
		return VideoComments{}, fmt.Errorf("video %s not found", videoID)
	}

	item := videosResult.Items[0]

	video := VideoComments{
		VideoID:      item.ID,
		Title:        item.Snippet.Title,
		ChannelTitle: item.Snippet.ChannelTitle,
	}

	if item.ContentDetails.Duration != "" {
		if dur, err := duration.Parse(item.ContentDetails.Duration); err == nil {
			video.DurationSeconds = int(dur.ToTimeDuration().Seconds())
		}
	}
	if item.Statistics.CommentCount != "" {
		if count, err := strconv.Atoi(item.Statistics.CommentCount); err == nil {
			video.CommentCount = count
		}
	}

	return video, nil
}

// fetchCommentPages pages through commentThreads until the cap is reached or
// no next page token is returned. Comments with empty text are dropped at
// this boundary so downstream stages never see them.
func fetchCommentPages(videoID string) ([]Comment, error) {
	apiKey := Config.YouTubeAPIKey

	var comments []Comment
	pageToken := ""

	for {
		threadsURL := fmt.Sprintf(
			"https://www.googleapis.com/youtube/v3/commentThreads?key=%s&videoId=%s&part=snippet&maxResults=100&order=relevance&textFormat=plainText",
			apiKey, videoID,
		)
		if pageToken != "" {
			threadsURL += "&pageToken=" + url.QueryEscape(pageToken)
		}

		resp, err := http.Get(threadsURL)
		if err != nil {
			return comments, fmt.Errorf("failed to fetch comment page: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return comments, fmt.Errorf("failed to read comment page: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode == http.StatusForbidden && strings.Contains(string(body), "quotaExceeded") {
				return comments, fmt.Errorf("YouTube API quota exceeded")
			}
			return comments, fmt.Errorf("YouTube API error (status %d): %s", resp.StatusCode, string(body))
		}

		var threadsResult struct {
			NextPageToken string `json:"nextPageToken"`
			Items         []struct {
				Snippet struct {
					TopLevelComment struct {
						Snippet struct {
							TextDisplay           string `json:"textDisplay"`
							AuthorDisplayName     string `json:"authorDisplayName"`
							AuthorProfileImageURL string `json:"authorProfileImageUrl"`
							LikeCount             int    `json:"likeCount"`
						} `json:"snippet"`
					} `json:"topLevelComment"`
				} `json:"snippet"`
			} `json:"items"`
		}

		if err := json.Unmarshal(body, &threadsResult); err != nil {
			return comments, fmt.Errorf("failed to decode comment page: %w", err)
		}

		for _, item := range threadsResult.Items {
			snippet := item.Snippet.TopLevelComment.Snippet
			text := strings.TrimSpace(snippet.TextDisplay)
			if text == "" {
				continue
			}
			comments = append(comments, Comment{
				Text:                  text,
				AuthorName:            snippet.AuthorDisplayName,
				AuthorProfileImageURL: snippet.AuthorProfileImageURL,
				LikeCount:             snippet.LikeCount,
			})
			if len(comments) >= maxFetchedComments {
				return comments, nil
			}
		}

		if threadsResult.NextPageToken == "" {
			return comments, nil
		}
		pageToken = threadsResult.NextPageToken
	}
}

// saveVideoComments saves fetched comments as comments/videoID.json
func saveVideoComments(video VideoComments) error {
	if err := os.MkdirAll("comments", 0755); err != nil {
		return fmt.Errorf("failed to create comments directory: %w", err)
	}

	data, err := json.MarshalIndent(video, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal comments: %w", err)
	}

	path := filepath.Join("comments", video.VideoID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write comments file: %w", err)
	}

	return nil
}
