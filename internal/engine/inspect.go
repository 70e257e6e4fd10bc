package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/simonhull/audiometa"
)

// FileInfo is what a file currently carries, shown before tagging.
type FileInfo struct {
	Format   string        `json:"format"`
	Title    string        `json:"title,omitempty"`
	Artist   string        `json:"artist,omitempty"`
	Album    string        `json:"album,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	HasCover bool          `json:"has_cover"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Inspect reads the existing tags of an audio file. Artwork extraction errors
// only clear HasCover.
func (e *Engine) Inspect(ctx context.Context, path string) (*FileInfo, error) {
	file, err := audiometa.OpenContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close() //nolint:errcheck // read-only handle

	info := &FileInfo{
		Format:   file.Format.String(),
		Title:    file.Tags.Title,
		Artist:   file.Tags.Artist,
		Album:    file.Tags.Album,
		Duration: file.Audio.Duration,
	}
	for _, w := range file.Warnings {
		info.Warnings = append(info.Warnings, w.Stage+": "+w.Message)
	}

	artworks, err := file.ExtractArtwork()
	if err != nil {
		e.Logger.Debug("failed to extract artwork", "path", path, "error", err)
	}
	info.HasCover = len(artworks) > 0

	return info, nil
}
