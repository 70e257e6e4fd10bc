package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"golang.org/x/time/rate"

	"deezer-tagger/internal/version"
)

const (
	BaseURL = "https://api.deezer.com/"

	// DefaultLimit is the number of search results offered to the user.
	DefaultLimit = 5

	defaultTimeout = 15 * time.Second
)

var (
	// ErrEmptyQuery is returned by Search when the query is blank.
	ErrEmptyQuery = errors.New("empty search query")
	// ErrNotFound is returned when Deezer has no object with the requested ID.
	ErrNotFound = errors.New("not found")
)

type Client struct {
	HTTP    *req.Client
	limiter *rate.Limiter
}

// NewClient builds a client for the public Deezer API. No credentials are needed.
// Deezer allows 50 requests per 5 seconds; the limiter stays well below that.
func NewClient() *Client {
	c := &Client{
		HTTP:    req.NewClient(),
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}

	c.HTTP.SetBaseURL(BaseURL).
		SetUserAgent(version.UserAgent()).
		SetTimeout(defaultTimeout).
		SetCommonHeader("Accept", "application/json")

	return c
}

func (c *Client) SetBaseURL(u string) {
	c.HTTP.SetBaseURL(u)
}

func (c *Client) SetProxy(proxyURL string) error {
	if proxyURL == "" {
		return nil
	}
	// req/v3 handles http, https and socks5 from the scheme
	c.HTTP.SetProxyURL(proxyURL)
	return nil
}

func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.HTTP.SetTimeout(d)
	}
}

// SetRateLimit replaces the request limiter. rps <= 0 disables limiting.
func (c *Client) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// Search queries the track search endpoint and returns at most limit tracks.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var result searchResponse
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":     query,
			"limit": strconv.Itoa(limit),
		}).
		SetSuccessResult(&result).
		Get("search")

	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}

	if resp.IsErrorState() {
		return nil, fmt.Errorf("search failed: %s", resp.Status)
	}

	if result.Error != nil {
		return nil, result.Error
	}

	tracks := result.Data
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks, nil
}

// GetTrack fetches the full track record. Unlike search results it carries the
// release date, track position, disc number and ISRC.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*Track, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var result trackResponse
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetPathParam("id", trackID).
		SetSuccessResult(&result).
		Get("track/{id}")

	if err != nil {
		return nil, fmt.Errorf("track request: %w", err)
	}

	if resp.IsErrorState() {
		return nil, fmt.Errorf("track %s: %s", trackID, resp.Status)
	}

	if result.Error != nil {
		if result.Error.IsNotFound() {
			return nil, fmt.Errorf("track %s: %w", trackID, ErrNotFound)
		}
		return nil, result.Error
	}

	return &result.Track, nil
}

func (c *Client) GetAlbum(ctx context.Context, albumID string) (*Album, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var result albumResponse
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetPathParam("id", albumID).
		SetSuccessResult(&result).
		Get("album/{id}")

	if err != nil {
		return nil, fmt.Errorf("album request: %w", err)
	}

	if resp.IsErrorState() {
		return nil, fmt.Errorf("album %s: %s", albumID, resp.Status)
	}

	if result.Error != nil {
		if result.Error.IsNotFound() {
			return nil, fmt.Errorf("album %s: %w", albumID, ErrNotFound)
		}
		return nil, result.Error
	}

	return &result.Album, nil
}

// FetchImage downloads artwork. Cover URLs are absolute CDN links, so the base
// URL does not apply and the rate limiter is skipped.
func (c *Client) FetchImage(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("empty image URL")
	}

	resp, err := c.HTTP.R().
		SetContext(ctx).
		Get(url)

	if err != nil {
		return nil, err
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("http error: %s", resp.Status)
	}
	return resp.Bytes(), nil
}
