// Package metadata adapts the external metadata-extractor binary
// (yt-dlp-shaped) into Track descriptors. The extractor itself is an
// external collaborator; this package only speaks its documented
// command-line/JSON boundary.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"github.com/metalfistbot/metalfist/internal/audio"
)

// Extractor invokes the metadata-extractor binary to turn a
// user-supplied URL into one or more Tracks.
type Extractor struct {
	binaryPath string
}

// New builds an Extractor bound to binaryPath (e.g. "yt-dlp").
func New(binaryPath string) *Extractor {
	return &Extractor{binaryPath: binaryPath}
}

// descriptor mirrors the JSON object the extractor prints on stdout:
// at minimum title, optionally duration/thumbnail/url.
type descriptor struct {
	Title     string   `json:"title"`
	Duration  *float64 `json:"duration"`
	Thumbnail *string  `json:"thumbnail"`
	URL       *string  `json:"url"`
}

// Resolve runs `<binary> -j -f bestaudio[ext=m4a]/bestaudio/best <url>`
// and converts the resulting JSON descriptor into a Track. If the
// descriptor has no direct url, it falls back to a second invocation
// with -g to obtain the direct stream URL.
func (e *Extractor) Resolve(ctx context.Context, url string) (audio.Track, error) {
	out, err := e.run(ctx, "-j", "-f", "bestaudio[ext=m4a]/bestaudio/best", url)
	if err != nil {
		return audio.Track{}, fmt.Errorf("metadata: resolve %q: %w", url, err)
	}

	var desc descriptor
	if err := json.Unmarshal(out, &desc); err != nil {
		return audio.Track{}, fmt.Errorf("metadata: parse descriptor for %q: %w", url, err)
	}

	if desc.URL == nil {
		directURL, err := e.run(ctx, "-g", url)
		if err != nil {
			return audio.Track{}, fmt.Errorf("metadata: direct-url fallback for %q: %w", url, err)
		}
		u := strings.TrimSpace(string(directURL))
		desc.URL = &u
	}

	return audio.Track{
		ID:        uuid.NewString(),
		Title:     desc.Title,
		Duration:  desc.Duration,
		Thumbnail: desc.Thumbnail,
		URL:       desc.URL,
	}, nil
}

// playlistEntry is one element of the --flat-playlist -J response.
type playlistEntry struct {
	URL string `json:"url"`
}

// ResolvePlaylist runs `<binary> --flat-playlist -J <url>` and returns
// one Track per entry (title/duration/thumbnail are not populated by
// the flat-playlist form; a caller wanting those would Resolve each
// entry individually).
func (e *Extractor) ResolvePlaylist(ctx context.Context, url string) ([]audio.Track, error) {
	out, err := e.run(ctx, "--flat-playlist", "-J", url)
	if err != nil {
		return nil, fmt.Errorf("metadata: resolve playlist %q: %w", url, err)
	}

	var playlist struct {
		Entries []playlistEntry `json:"entries"`
	}
	if err := json.Unmarshal(out, &playlist); err != nil {
		return nil, fmt.Errorf("metadata: parse playlist for %q: %w", url, err)
	}

	tracks := make([]audio.Track, 0, len(playlist.Entries))
	for _, entry := range playlist.Entries {
		entryURL := entry.URL
		tracks = append(tracks, audio.Track{
			ID:  uuid.NewString(),
			URL: &entryURL,
		})
	}
	return tracks, nil
}

func (e *Extractor) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.binaryPath, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("run %s %v: %w", e.binaryPath, args, err)
	}
	return out, nil
}
