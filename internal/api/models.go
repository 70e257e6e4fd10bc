package api

import "fmt"

// Artist is the artist object embedded in tracks and albums.
type Artist struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

// AlbumRef is the short album object embedded in a track.
type AlbumRef struct {
	Title       string `json:"title"`
	Cover       string `json:"cover"`
	CoverSmall  string `json:"cover_small"`
	CoverMedium string `json:"cover_medium"`
	CoverBig    string `json:"cover_big"`
	CoverXL     string `json:"cover_xl"`
	ReleaseDate string `json:"release_date"`
	ID          int64  `json:"id"`
}

// Track is a Deezer track. Search results leave ReleaseDate, TrackPosition,
// DiskNumber and ISRC empty; GetTrack fills them.
type Track struct {
	Title         string   `json:"title"`
	TitleShort    string   `json:"title_short"`
	Link          string   `json:"link"`
	ReleaseDate   string   `json:"release_date"`
	ISRC          string   `json:"isrc"`
	Artist        Artist   `json:"artist"`
	Album         AlbumRef `json:"album"`
	ID            int64    `json:"id"`
	Duration      int      `json:"duration"`
	Rank          int      `json:"rank"`
	TrackPosition int      `json:"track_position"`
	DiskNumber    int      `json:"disk_number"`
}

// Genre is an album genre entry.
type Genre struct {
	Name string `json:"name"`
	ID   int64  `json:"id"`
}

// Album contains the album fields used for tagging.
type Album struct {
	Genres struct {
		Data []Genre `json:"data"`
	} `json:"genres"`
	Title       string `json:"title"`
	ReleaseDate string `json:"release_date"`
	CoverBig    string `json:"cover_big"`
	CoverXL     string `json:"cover_xl"`
	Artist      Artist `json:"artist"`
	ID          int64  `json:"id"`
	NbTracks    int    `json:"nb_tracks"`
}

// GenreName returns the first listed genre, or "".
func (a *Album) GenreName() string {
	if len(a.Genres.Data) == 0 {
		return ""
	}
	return a.Genres.Data[0].Name
}

// APIError is the error object Deezer returns with a 200 status.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deezer: %s (%s, code %d)", e.Message, e.Type, e.Code)
}

// IsNotFound reports whether Deezer rejected the lookup as a missing object.
func (e *APIError) IsNotFound() bool {
	return e.Code == 800 || e.Type == "DataException"
}

// IsQuota reports whether the request was rejected by Deezer's rate limit.
func (e *APIError) IsQuota() bool {
	return e.Code == 4
}

type searchResponse struct {
	Error *APIError `json:"error"`
	Next  string    `json:"next"`
	Data  []Track   `json:"data"`
	Total int       `json:"total"`
}

type trackResponse struct {
	Error *APIError `json:"error"`
	Track
}

type albumResponse struct {
	Error *APIError `json:"error"`
	Album
}
