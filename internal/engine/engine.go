// Package engine provides the core tagging functionality.
// It orchestrates metadata search, cover download and tag writing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"deezer-tagger/internal/api"
)

// ErrNoMatch is reported by AutoTag when a search returns nothing.
var ErrNoMatch = errors.New("no matching track")

// Engine is the core tagging engine that coordinates API calls,
// cover downloads, and metadata tagging operations.
type Engine struct {
	Client *api.Client
	Tagger *Tagger
	Logger *slog.Logger

	SearchLimit  int    // Results offered per search (default: 5)
	Concurrency  int    // Files tagged in parallel by AutoTag (default: 3)
	TempDir      string // Where tagged copies are written ("" = os.TempDir)
	FallbackYear string // Year written when Deezer has none ("" = omit)

	// Progress receives AutoTag progress bars; nil disables them.
	Progress io.Writer
}

// New creates a new Engine instance with the given API client.
func New(client *api.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		Client:      client,
		Tagger:      NewTagger(),
		Logger:      logger,
		SearchLimit: api.DefaultLimit,
		Concurrency: 3,
	}
}

// SetConcurrency sets the number of files AutoTag works on at once.
func (e *Engine) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10 // Cap at 10 to stay inside Deezer's request quota
	}
	e.Concurrency = n
}

// Search returns the top results for query as selectable options. A failed
// request is logged and reported as no results; only an empty query or a
// cancelled context is an error.
func (e *Engine) Search(ctx context.Context, query string) ([]Option, error) {
	tracks, err := e.Client.Search(ctx, query, e.SearchLimit)
	if err != nil {
		if errors.Is(err, api.ErrEmptyQuery) || ctx.Err() != nil {
			return nil, err
		}
		var apiErr *api.APIError
		if errors.As(err, &apiErr) && apiErr.IsQuota() {
			e.Logger.Warn("search rejected by deezer quota", "query", query, "error", err)
		} else {
			e.Logger.Warn("search failed", "query", query, "error", err)
		}
		return []Option{}, nil
	}

	options := make([]Option, 0, len(tracks))
	for _, t := range tracks {
		options = append(options, NewOption(t))
	}
	e.Logger.Debug("search results", "query", query, "count", len(options))
	return options, nil
}

// Resolve builds the metadata to write for req and validates it.
func (e *Engine) Resolve(ctx context.Context, req TagRequest) (*Metadata, error) {
	meta := &Metadata{}

	if req.TrackID != "" {
		typ, id, err := api.ParseURL(req.TrackID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
		}
		if typ != api.TypeTrack {
			return nil, fmt.Errorf("%w: %s is a %s, not a track", ErrInvalidMetadata, req.TrackID, typ)
		}

		track, err := e.Client.GetTrack(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get track metadata: %w", err)
		}
		meta = MetadataFromTrack(track)
		e.enrichFromAlbum(ctx, meta, track.Album.ID)
	}

	req.apply(meta)
	if meta.Year == "" {
		meta.Year = e.FallbackYear
	}

	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

// enrichFromAlbum fills year, genre and album artist from the album record.
// Failures only cost those fields.
func (e *Engine) enrichFromAlbum(ctx context.Context, meta *Metadata, albumID int64) {
	if albumID == 0 {
		return
	}
	album, err := e.Client.GetAlbum(ctx, fmt.Sprint(albumID))
	if err != nil {
		e.Logger.Warn("album lookup failed", "album_id", albumID, "error", err)
		return
	}
	if meta.Year == "" && album.ReleaseDate != "" {
		meta.Year = yearOf(album.ReleaseDate)
	}
	meta.Genre = album.GenreName()
	meta.AlbumArtist = album.Artist.Name
	if len(meta.CoverURLs) == 0 {
		for _, u := range []string{album.CoverXL, album.CoverBig} {
			if u != "" {
				meta.CoverURLs = append(meta.CoverURLs, u)
			}
		}
	}
}

// FetchCover downloads the first reachable cover URL into meta. Missing art is
// not an error; the file is then tagged without a picture.
func (e *Engine) FetchCover(ctx context.Context, meta *Metadata) {
	if len(meta.Cover) > 0 {
		return
	}
	for _, u := range meta.CoverURLs {
		data, err := e.Client.FetchImage(ctx, u)
		if err != nil {
			e.Logger.Warn("cover download failed", "url", u, "error", err)
			continue
		}
		meta.Cover = data
		meta.CoverMIME = imageMIME(data)
		return
	}
	if len(meta.CoverURLs) > 0 {
		e.Logger.Info("continuing without cover", "title", meta.Title)
	}
}

// TagCopy writes src to a temporary file named after filename's extension,
// tags it and returns its path. The caller removes the file.
func (e *Engine) TagCopy(ctx context.Context, src io.Reader, filename string, meta *Metadata) (string, error) {
	format := FormatFromName(filename)
	if format == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}

	tmp, err := os.CreateTemp(e.TempDir, "deezer-tagger-*."+format)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, err = io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("copy upload: %w", err)
	}

	if err := e.TagFile(ctx, tmpPath, meta); err != nil {
		_ = os.Remove(tmpPath)
		return "", err
	}
	return tmpPath, nil
}

// TagFile fetches the cover and writes meta into the file at path in place.
func (e *Engine) TagFile(ctx context.Context, path string, meta *Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := meta.Validate(); err != nil {
		return err
	}

	e.FetchCover(ctx, meta)

	if err := e.Tagger.WriteTags(path, meta); err != nil {
		return err
	}
	e.Logger.Info("tagged file",
		"path", path,
		"title", meta.Title,
		"artist", meta.Artist,
		"album", meta.Album,
		"year", meta.Year,
		"cover", len(meta.Cover) > 0,
	)
	return nil
}

// Result is the outcome of AutoTag for one file.
type Result struct {
	Path   string
	Match  *Option
	Status ResultStatus
	Err    error
}

// ResultStatus summarises a Result.
type ResultStatus int

const (
	StatusTagged ResultStatus = iota
	StatusNoMatch
	StatusFailed
)

func (s ResultStatus) String() string {
	switch s {
	case StatusTagged:
		return "tagged"
	case StatusNoMatch:
		return "no match"
	default:
		return "failed"
	}
}

// AutoTag tags every file with the top search result for its file name guess.
// Results are returned in the order of paths.
func (e *Engine) AutoTag(ctx context.Context, paths []string) []Result {
	results := make([]Result, len(paths))
	if len(paths) == 0 {
		return results
	}

	numWorkers := e.Concurrency
	if numWorkers < 1 {
		numWorkers = 1
	}
	if numWorkers > len(paths) {
		numWorkers = len(paths)
	}

	progress := mpb.NewWithContext(ctx, mpb.WithOutput(e.Progress), mpb.WithWidth(40))
	bar := progress.AddBar(int64(len(paths)),
		mpb.PrependDecorators(
			decor.Name("Tagging", decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(decor.Percentage(decor.WC{W: 5})),
	)

	taskChan := make(chan int, len(paths))
	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range taskChan {
				results[idx] = e.autoTagOne(ctx, paths[idx])
				bar.Increment()
			}
		}()
	}

	for i := range paths {
		taskChan <- i
	}
	close(taskChan)

	wg.Wait()
	progress.Wait()

	return results
}

func (e *Engine) autoTagOne(ctx context.Context, path string) Result {
	res := Result{Path: path}

	if FormatFromName(path) == "" {
		res.Status, res.Err = StatusFailed, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
		return res
	}

	guess := GuessFromFilename(path)
	options, err := e.Search(ctx, guess.Query())
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}
	if len(options) == 0 {
		res.Status, res.Err = StatusNoMatch, fmt.Errorf("%w for %q", ErrNoMatch, guess.Query())
		return res
	}

	match := options[0]
	res.Match = &match

	meta, err := e.Resolve(ctx, TagRequest{TrackID: match.ID})
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}
	if err := e.TagFile(ctx, path, meta); err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}

	res.Status = StatusTagged
	return res
}
