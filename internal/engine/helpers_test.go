package engine

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"github.com/stretchr/testify/require"

	"deezer-tagger/internal/api"
)

// mpegFrames is a run of bytes starting with an MPEG-1 Layer III frame header.
func mpegFrames() []byte {
	return append([]byte{0xFF, 0xFB, 0x90, 0x64}, make([]byte, 413)...)
}

// mp3WithTag returns an MP3 that already carries an ID3v2 tag with a title
// and a cover picture.
func mp3WithTag(t *testing.T) []byte {
	t.Helper()
	tag := id3v2.NewEmptyTag()
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle("Old Title")
	tag.SetArtist("Old Artist")
	tag.AddAttachedPicture(id3v2.PictureFrame{
		Encoding:    id3v2.EncodingUTF8,
		MimeType:    "image/jpeg",
		PictureType: id3v2.PTFrontCover,
		Description: "Old",
		Picture:     []byte{0xFF, 0xD8, 0xFF, 0xD9},
	})

	var buf bytes.Buffer
	_, err := tag.WriteTo(&buf)
	require.NoError(t, err)
	buf.Write(mpegFrames())
	return buf.Bytes()
}

// flacFile returns a FLAC stream with an empty STREAMINFO, an optional
// existing Vorbis comment block and a few frame bytes.
func flacFile(t *testing.T, comments ...string) []byte {
	t.Helper()
	streamInfo := flac.MetaDataBlock{Type: flac.StreamInfo, Data: make([]byte, 34)}

	var buf bytes.Buffer
	buf.WriteString("fLaC")
	if len(comments) == 0 {
		buf.Write(streamInfo.Marshal(true))
	} else {
		buf.Write(streamInfo.Marshal(false))
		cmts := flacvorbis.New()
		for _, c := range comments {
			k, v, _ := strings.Cut(c, "=")
			require.NoError(t, cmts.Add(k, v))
		}
		block := cmts.Marshal()
		buf.Write(block.Marshal(true))
	}
	buf.Write([]byte{0xFF, 0xF8, 0x69, 0x08, 0x00, 0x00})
	return buf.Bytes()
}

func pngCover(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := range 4 {
		for y := range 4 {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// fakeDeezer serves search, track, album and cover endpoints. The XL cover is
// missing so callers exercise the fallback to the big cover.
type fakeDeezer struct {
	srv      *httptest.Server
	cover    []byte
	searches atomic.Int32
	// searchBody overrides the search response when set.
	searchBody string
}

func newFakeDeezer(t *testing.T) *fakeDeezer {
	t.Helper()
	f := &fakeDeezer{cover: pngCover(t)}

	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		f.searches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if f.searchBody != "" {
			_, _ = w.Write([]byte(f.searchBody))
			return
		}
		q := r.URL.Query().Get("q")
		if strings.Contains(q, "Unknown") {
			_, _ = w.Write([]byte(`{"data": [], "total": 0}`))
			return
		}
		fmt.Fprintf(w, `{"data": [
			{"id": 3135556, "title": "Harder, Better, Faster, Stronger",
			 "artist": {"id": 27, "name": "Daft Punk"},
			 "album": {"id": 302127, "title": "Discovery", "cover_big": %q, "cover_xl": %q}}
		], "total": 1}`, f.srv.URL+"/covers/big.png", f.srv.URL+"/covers/xl.png")
	})
	mux.HandleFunc("/track/3135556", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": 3135556, "title": "Harder, Better, Faster, Stronger",
			"isrc": "GBDUW0000059", "track_position": 4, "disk_number": 1,
			"release_date": "2001-03-07",
			"artist": {"id": 27, "name": "Daft Punk"},
			"album": {"id": 302127, "title": "Discovery", "cover_big": %q, "cover_xl": %q}
		}`, f.srv.URL+"/covers/big.png", f.srv.URL+"/covers/xl.png")
	})
	mux.HandleFunc("/track/42", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42, "title": "No Date", "artist": {"name": "Someone"},
			"album": {"id": 7, "title": "Undated"}}`))
	})
	mux.HandleFunc("/track/404", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": {"type": "DataException", "message": "no data", "code": 800}}`))
	})
	mux.HandleFunc("/album/302127", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 302127, "title": "Discovery", "release_date": "2001-03-12",
			"genres": {"data": [{"id": 113, "name": "Dance"}]}, "artist": {"name": "Daft Punk"}}`))
	})
	mux.HandleFunc("/album/7", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 7, "title": "Undated", "artist": {"name": "Someone"}}`))
	})
	mux.HandleFunc("/covers/big.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(f.cover)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDeezer) client() *api.Client {
	c := api.NewClient()
	c.SetBaseURL(f.srv.URL + "/")
	c.SetRateLimit(0, 0)
	return c
}

func newTestEngine(t *testing.T, f *fakeDeezer) *Engine {
	t.Helper()
	e := New(f.client(), nil)
	e.TempDir = t.TempDir()
	return e
}
