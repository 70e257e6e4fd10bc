package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"deezer-tagger/internal/api"
)

// ErrInvalidMetadata is wrapped by every metadata validation failure.
var ErrInvalidMetadata = errors.New("invalid metadata")

// Metadata is what gets written into a file.
type Metadata struct {
	Title       string `json:"title" validate:"required"`
	Artist      string `json:"artist" validate:"required"`
	Album       string `json:"album" validate:"required"`
	Year        string `json:"year,omitempty" validate:"omitempty,len=4,numeric"`
	AlbumArtist string `json:"album_artist,omitempty"`
	Genre       string `json:"genre,omitempty"`
	ISRC        string `json:"isrc,omitempty"`
	TrackNumber int    `json:"track_number,omitempty" validate:"gte=0"`
	DiscNumber  int    `json:"disc_number,omitempty" validate:"gte=0"`

	// CoverURLs are tried in order; the first that downloads wins.
	CoverURLs []string `json:"cover_urls,omitempty" validate:"dive,url"`
	Cover     []byte   `json:"-"`
	CoverMIME string   `json:"-"`
}

// TagRequest selects the metadata to write. TrackID pulls everything from
// Deezer; the other fields override what Deezer returned.
type TagRequest struct {
	TrackID  string `json:"track_id,omitempty"`
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Year     string `json:"year,omitempty"`
	CoverURL string `json:"cover_url,omitempty"`
	NoCover  bool   `json:"no_cover,omitempty"`
}

func (r TagRequest) apply(m *Metadata) {
	if v := strings.TrimSpace(r.Title); v != "" {
		m.Title = v
	}
	if v := strings.TrimSpace(r.Artist); v != "" {
		m.Artist = v
	}
	if v := strings.TrimSpace(r.Album); v != "" {
		m.Album = v
	}
	if v := strings.TrimSpace(r.Year); v != "" {
		m.Year = yearOf(v)
	}
	if r.CoverURL != "" {
		m.CoverURLs = []string{r.CoverURL}
	}
	if r.NoCover {
		m.CoverURLs = nil
	}
}

// Option is one search result offered to the user.
type Option struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	CoverURL string `json:"cover_url,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

// NewOption converts a Deezer track into a selectable option.
func NewOption(t api.Track) Option {
	return Option{
		ID:       strconv.FormatInt(t.ID, 10),
		Label:    fmt.Sprintf("%s by %s (Album: %s)", t.Title, t.Artist.Name, t.Album.Title),
		Title:    t.Title,
		Artist:   t.Artist.Name,
		Album:    t.Album.Title,
		CoverURL: t.Album.CoverBig,
		Duration: t.Duration,
	}
}

// MetadataFromTrack maps a Deezer track onto Metadata.
func MetadataFromTrack(t *api.Track) *Metadata {
	m := &Metadata{
		Title:       t.Title,
		Artist:      t.Artist.Name,
		Album:       t.Album.Title,
		ISRC:        t.ISRC,
		TrackNumber: t.TrackPosition,
		DiscNumber:  t.DiskNumber,
	}

	switch {
	case t.ReleaseDate != "":
		m.Year = yearOf(t.ReleaseDate)
	case t.Album.ReleaseDate != "":
		m.Year = yearOf(t.Album.ReleaseDate)
	}

	// Largest artwork first, then the size the web player uses.
	for _, u := range []string{t.Album.CoverXL, t.Album.CoverBig} {
		if u != "" {
			m.CoverURLs = append(m.CoverURLs, u)
		}
	}
	return m
}

// yearOf returns the leading year of a release date like "2001-03-07".
func yearOf(date string) string {
	date = strings.TrimSpace(date)
	if len(date) > 4 {
		return date[:4]
	}
	return date
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks the fields required before a file can be tagged.
func (m *Metadata) Validate() error {
	err := validate.Struct(m)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidMetadata, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "len", "numeric":
		return fe.Field() + " must be a four digit year"
	case "url":
		return fe.Field() + " must be a URL"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
