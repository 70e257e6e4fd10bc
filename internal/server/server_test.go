package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deezer-tagger/internal/api"
	"deezer-tagger/internal/config"
	"deezer-tagger/internal/engine"
	"deezer-tagger/internal/logger"
)

// taggedMP3 is an ID3v2 tag followed by a few MPEG frame bytes.
func taggedMP3(t *testing.T) []byte {
	t.Helper()
	tg := id3v2.NewEmptyTag()
	tg.SetDefaultEncoding(id3v2.EncodingUTF8)
	tg.SetTitle("Old")

	var buf bytes.Buffer
	_, err := tg.WriteTo(&buf)
	require.NoError(t, err)
	buf.Write(append([]byte{0xFF, 0xFB, 0x90, 0x64}, make([]byte, 413)...))
	return buf.Bytes()
}

func fakeDeezer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Query().Get("q"), "nothing") {
			_, _ = w.Write([]byte(`{"data": []}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": [{"id": 3135556, "title": "Harder, Better, Faster, Stronger",
			"artist": {"name": "Daft Punk"}, "album": {"id": 302127, "title": "Discovery"}}]}`))
	})
	mux.HandleFunc("/track/3135556", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 3135556, "title": "Harder, Better, Faster, Stronger",
			"release_date": "2001-03-07", "artist": {"name": "Daft Punk"},
			"album": {"id": 302127, "title": "Discovery"}}`))
	})
	mux.HandleFunc("/album/302127", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 302127, "title": "Discovery", "genres": {"data": [{"name": "Dance"}]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	deezer := fakeDeezer(t)

	client := api.NewClient()
	client.SetBaseURL(deezer.URL + "/")
	client.SetRateLimit(0, 0)

	eng := engine.New(client, logger.Nop())
	eng.TempDir = t.TempDir()

	cfg := config.Default().Server
	cfg.UploadTTL = config.Duration{Duration: time.Hour}

	s := New(eng, cfg, logger.Nop())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func uploadFile(t *testing.T, s *Server, filename string) UploadResponse {
	t.Helper()
	rec := do(t, s, uploadRequest(t, "file", filename, taggedMP3(t)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func tagRequest(id, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/uploads/"+id+"/tag", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestIndex(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "MP3 Tagger with Deezer")
}

func TestVersion(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "dev", info["version"])
}

func TestUpload(t *testing.T) {
	s := newTestServer(t)

	res := uploadFile(t, s, "Daft Punk - Harder.mp3")
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "Daft Punk - Harder.mp3", res.Filename)
	assert.Equal(t, engine.FormatMP3, res.Format)
	assert.Equal(t, engine.Guess{Artist: "Daft Punk", Title: "Harder"}, res.Guess)
	assert.Equal(t, "Daft Punk Harder", res.Query)
	assert.Equal(t, 1, s.uploads.Len())
}

func TestUpload_Rejected(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		field    string
		filename string
		data     []byte
		want     int
	}{
		{name: "not audio", field: "file", filename: "song.mp3", data: []byte("plain text, not an mp3"), want: http.StatusUnsupportedMediaType},
		{name: "wrong extension", field: "file", filename: "song.wav", data: taggedMP3(t), want: http.StatusUnsupportedMediaType},
		{name: "missing field", field: "other", filename: "song.mp3", data: taggedMP3(t), want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, uploadRequest(t, tt.field, tt.filename, tt.data))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, s.uploads.Len())
}

func TestSearch(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/search?q=daft+punk", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var options []engine.Option
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &options))
	require.Len(t, options, 1)
	assert.Equal(t, "3135556", options[0].ID)
	assert.Equal(t, "Harder, Better, Faster, Stronger by Daft Punk (Album: Discovery)", options[0].Label)
}

func TestSearch_NoResults(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/search?q=nothing", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSearch_MissingQuery(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/search?q=+", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTag(t *testing.T) {
	s := newTestServer(t)
	up := uploadFile(t, s, "Daft Punk - Harder.mp3")
	stored, ok := s.uploads.Get(up.ID)
	require.True(t, ok)
	before, err := os.ReadFile(stored.Path)
	require.NoError(t, err)
	assert.Equal(t, taggedMP3(t), before)

	rec := do(t, s, tagRequest(up.ID, `{"track_id": "3135556"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Daft Punk - Harder.mp3")

	m, err := tag.ReadFrom(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "Harder, Better, Faster, Stronger", m.Title())
	assert.Equal(t, "Daft Punk", m.Artist())
	assert.Equal(t, "Discovery", m.Album())
	assert.Equal(t, 2001, m.Year())

	after, err := os.ReadFile(stored.Path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "the upload itself is left untouched")
	orig, err := tag.ReadFrom(bytes.NewReader(after))
	require.NoError(t, err)
	assert.Equal(t, "Old", orig.Title())

	entries, err := os.ReadDir(s.engine.TempDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the upload remains; the tagged copy is removed")
}

func TestTag_Manual(t *testing.T) {
	s := newTestServer(t)
	up := uploadFile(t, s, "whatever.mp3")

	rec := do(t, s, tagRequest(up.ID, `{"title": "T", "artist": "A", "album": "B", "year": "1999"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	m, err := tag.ReadFrom(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "T", m.Title())
	assert.Equal(t, 1999, m.Year())
}

func TestTag_Errors(t *testing.T) {
	s := newTestServer(t)
	up := uploadFile(t, s, "song.mp3")

	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{name: "unknown upload", id: "nope", body: `{"track_id": "3135556"}`, want: http.StatusNotFound},
		{name: "missing album", id: up.ID, body: `{"title": "T", "artist": "A"}`, want: http.StatusUnprocessableEntity},
		{name: "bad year", id: up.ID, body: `{"title": "T", "artist": "A", "album": "B", "year": "19"}`, want: http.StatusUnprocessableEntity},
		{name: "bad json", id: up.ID, body: `{`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tagRequest(tt.id, tt.body))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestDiscard(t *testing.T) {
	s := newTestServer(t)
	up := uploadFile(t, s, "song.mp3")

	req := httptest.NewRequest(http.MethodDelete, "/api/uploads/"+up.ID, nil)
	assert.Equal(t, http.StatusNoContent, do(t, s, req).Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/uploads/"+up.ID, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s, req).Code)

	entries, err := os.ReadDir(s.engine.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestShutdown_RemovesUploads(t *testing.T) {
	s := newTestServer(t)
	uploadFile(t, s, "a.mp3")
	uploadFile(t, s, "b.mp3")

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Zero(t, s.uploads.Len())

	entries, err := os.ReadDir(s.engine.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestShutdown_Concurrent(t *testing.T) {
	s := newTestServer(t)
	uploadFile(t, s, "a.mp3")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotPanics(t, func() { _ = s.Shutdown(context.Background()) })
		}()
	}
	wg.Wait()
	assert.Zero(t, s.uploads.Len())
}

func TestUploadStore_Sweep(t *testing.T) {
	dir := t.TempDir()
	store := newUploadStore(dir, time.Minute, logger.Nop())

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	old, err := store.Save("old.mp3", "mp3", strings.NewReader("old"))
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	fresh, err := store.Save("fresh.mp3", "mp3", strings.NewReader("fresh"))
	require.NoError(t, err)

	now = now.Add(20 * time.Second)
	assert.Equal(t, 1, store.Sweep())

	_, ok := store.Get(old.ID)
	assert.False(t, ok)
	assert.NoFileExists(t, old.Path)

	got, ok := store.Get(fresh.ID)
	require.True(t, ok)
	assert.FileExists(t, got.Path)
	assert.Equal(t, "fresh.mp3", got.Name)
	assert.Equal(t, 0, store.Sweep())
}

func TestHTTPError(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", engine.ErrInvalidMetadata), http.StatusUnprocessableEntity},
		{fmt.Errorf("x: %w", engine.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		{fmt.Errorf("x: %w", api.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", &api.APIError{Type: "Exception", Message: "Quota limit exceeded", Code: 4}), http.StatusBadGateway},
	}
	for _, tt := range tests {
		var he *echo.HTTPError
		require.ErrorAs(t, s.httpError(tt.err), &he)
		assert.Equal(t, tt.want, he.Code, tt.err.Error())
	}
}
