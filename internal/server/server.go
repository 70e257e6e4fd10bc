// Package server serves the browser UI and its JSON API.
package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"deezer-tagger/internal/api"
	"deezer-tagger/internal/config"
	"deezer-tagger/internal/engine"
	"deezer-tagger/internal/version"
)

//go:embed web/index.html
var indexHTML []byte

type Server struct {
	echo    *echo.Echo
	engine  *engine.Engine
	logger  *slog.Logger
	uploads *uploadStore
	addr    string
	done    chan struct{}
	stop    sync.Once
}

// UploadResponse describes a stored upload and what was guessed from it.
type UploadResponse struct {
	ID       string           `json:"id"`
	Filename string           `json:"filename"`
	Format   string           `json:"format"`
	Guess    engine.Guess     `json:"guess"`
	Query    string           `json:"query"`
	Current  *engine.FileInfo `json:"current,omitempty"`
}

// New builds the server and starts the upload sweeper. Call Shutdown to stop it.
func New(eng *engine.Engine, cfg config.Server, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		engine:  eng,
		logger:  logger,
		uploads: newUploadStore(eng.TempDir, cfg.UploadTTL.Duration, logger),
		addr:    cfg.Addr(),
		done:    make(chan struct{}),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Debug("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", cfg.MaxUploadMB)))

	e.GET("/", s.handleIndex)

	g := e.Group("/api")
	g.GET("/version", s.handleVersion)
	g.GET("/search", s.handleSearch)
	g.POST("/uploads", s.handleUpload)
	g.POST("/uploads/:id/tag", s.handleTag)
	g.DELETE("/uploads/:id", s.handleDiscard)

	interval := cfg.UploadTTL.Duration / 4
	if interval < time.Second {
		interval = time.Second
	}
	go s.uploads.run(interval, s.done)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("web UI listening", "addr", "http://"+s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and the sweeper and removes remaining uploads.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop.Do(func() { close(s.done) })
	err := s.echo.Shutdown(ctx)
	s.uploads.Clear()
	return err
}

func (s *Server) handleIndex(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, indexHTML)
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get())
}

func (s *Server) handleSearch(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing search query")
	}

	options, err := s.engine.Search(c.Request().Context(), q)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, options)
}

func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing file field")
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}
	defer src.Close()

	format, err := engine.SniffFormat(fh.Filename, src)
	if err != nil {
		return s.httpError(err)
	}
	if _, err := src.Seek(0, 0); err != nil {
		return fmt.Errorf("rewind upload: %w", err)
	}

	up, err := s.uploads.Save(fh.Filename, format, src)
	if err != nil {
		return err
	}

	guess := engine.GuessFromFilename(fh.Filename)
	res := UploadResponse{
		ID:       up.ID,
		Filename: up.Name,
		Format:   up.Format,
		Guess:    guess,
		Query:    guess.Query(),
	}

	info, err := s.engine.Inspect(c.Request().Context(), up.Path)
	if err != nil {
		s.logger.Debug("could not read existing tags", "id", up.ID, "error", err)
	} else {
		res.Current = info
	}

	s.logger.Info("upload stored", "id", up.ID, "filename", up.Name, "size", fh.Size)
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleTag(c echo.Context) error {
	up, ok := s.uploads.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown upload")
	}

	var req engine.TagRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tag request")
	}

	ctx := c.Request().Context()
	meta, err := s.engine.Resolve(ctx, req)
	if err != nil {
		return s.httpError(err)
	}

	src, err := os.Open(up.Path)
	if err != nil {
		// The sweeper may have removed it between Get and Open.
		return echo.NewHTTPError(http.StatusNotFound, "unknown upload")
	}
	defer src.Close()

	tagged, err := s.engine.TagCopy(ctx, src, up.Name, meta)
	if err != nil {
		return s.httpError(err)
	}
	defer func() {
		if err := os.Remove(tagged); err != nil {
			s.logger.Warn("failed to remove tagged copy", "path", tagged, "error", err)
		}
	}()

	c.Response().Header().Set(echo.HeaderContentType, engine.ContentType(up.Format))
	return c.Attachment(tagged, up.Name)
}

func (s *Server) handleDiscard(c echo.Context) error {
	if !s.uploads.Remove(c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown upload")
	}
	return c.NoContent(http.StatusNoContent)
}

// httpError maps engine and client errors to HTTP statuses.
func (s *Server) httpError(err error) error {
	switch {
	case errors.Is(err, engine.ErrInvalidMetadata):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, engine.ErrUnsupportedFormat):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, api.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, api.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return err
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return err
}
