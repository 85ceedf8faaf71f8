// Package httpapi provides the HTTP API for topicd.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/corpusworks/topicd/internal/embeddings"
	"github.com/corpusworks/topicd/internal/extract"
	"github.com/corpusworks/topicd/internal/ingest"
	"github.com/corpusworks/topicd/internal/registry"
	"github.com/corpusworks/topicd/internal/search"
	"github.com/corpusworks/topicd/internal/vectorindex"
)

// Server provides the HTTP endpoints for topicd.
type Server struct {
	echo     *echo.Echo
	ingester *ingest.Service
	searcher *search.Service
	index    vectorindex.Index
	registry registry.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// MaxUploadBytes caps the size of uploaded documents.
	MaxUploadBytes int64
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(ingester *ingest.Service, searcher *search.Service, index vectorindex.Index, reg registry.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if ingester == nil {
		return nil, fmt.Errorf("ingest service is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("search service is required")
	}
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host:           "localhost",
			Port:           8311,
			MaxUploadBytes: 32 << 20,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		ingester: ingester,
		searcher: searcher,
		index:    index,
		registry: reg,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/topics", s.handleListTopics)
	v1.GET("/topics/:topic", s.handleGetTopic)
	v1.POST("/topics/:topic/documents", s.handleIngestDocument)
	v1.POST("/search", s.handleSearch)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Topic string `json:"topic"`
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Results []search.Result `json:"results"`
}

// TopicsResponse is the response body for GET /api/v1/topics.
type TopicsResponse struct {
	Topics []registry.TopicRecord `json:"topics"`
}

// handleHealth reports connectivity to the vector index and the registry.
func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	checks := map[string]string{"index": "ok", "registry": "ok"}
	status := http.StatusOK

	if err := s.index.Ping(ctx); err != nil {
		checks["index"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if err := s.registry.Ping(ctx); err != nil {
		checks["registry"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	resp := HealthResponse{Status: "ok", Checks: checks}
	if status != http.StatusOK {
		resp.Status = "degraded"
	}
	return c.JSON(status, resp)
}

// handleListTopics returns every registered topic with its chunk count.
func (s *Server) handleListTopics(c echo.Context) error {
	records, err := s.registry.List(c.Request().Context())
	if err != nil {
		s.logger.Error("list topics failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list topics")
	}
	return c.JSON(http.StatusOK, TopicsResponse{Topics: records})
}

// StoredPoint is one stored chunk in a TopicDetailResponse, without its
// vector.
type StoredPoint struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"`
	Seq    int    `json:"seq"`
}

// TopicDetailResponse is the response body for GET /api/v1/topics/:topic.
type TopicDetailResponse struct {
	Topic  registry.TopicRecord `json:"topic"`
	Points []StoredPoint        `json:"points"`
}

// defaultScrollLimit bounds the point page returned by the topic detail
// endpoint when the request does not set one.
const defaultScrollLimit = 20

// maxScrollLimit caps the point page regardless of the request.
const maxScrollLimit = 1000

// handleGetTopic returns one topic's registry record and a bounded page of
// its stored points.
func (s *Server) handleGetTopic(c echo.Context) error {
	ctx := c.Request().Context()
	topic := c.Param("topic")

	rec, err := s.registry.Get(ctx, topic)
	if err != nil {
		if errors.Is(err, registry.ErrTopicNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		s.logger.Error("topic lookup failed", zap.String("topic", topic), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up topic")
	}

	limit := defaultScrollLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}
	if limit > maxScrollLimit {
		limit = maxScrollLimit
	}

	points, err := s.index.Scroll(ctx, topic, limit)
	if err != nil && !errors.Is(err, vectorindex.ErrTopicNotFound) {
		s.logger.Error("topic scroll failed", zap.String("topic", topic), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to read stored points")
	}

	// A registered topic with no collection yet has no points.
	stored := make([]StoredPoint, len(points))
	for i, p := range points {
		stored[i] = StoredPoint{
			ID:     p.ID,
			Text:   p.Payload.Text,
			Source: p.Payload.Source,
			Seq:    p.Payload.Seq,
		}
	}

	return c.JSON(http.StatusOK, TopicDetailResponse{Topic: *rec, Points: stored})
}

// handleIngestDocument accepts a multipart upload and runs the ingestion
// pipeline on the extracted text.
func (s *Server) handleIngestDocument(c echo.Context) error {
	topic := c.Param("topic")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	if s.config.MaxUploadBytes > 0 && fileHeader.Size > s.config.MaxUploadBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d bytes", s.config.MaxUploadBytes))
	}

	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot open uploaded file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}

	text, err := extract.Text(fileHeader.Filename, data)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedType) {
			return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.ingester.Ingest(c.Request().Context(), ingest.Request{
		Topic:    topic,
		Filename: fileHeader.Filename,
		Text:     text,
	})
	if err != nil {
		return s.ingestError(topic, err)
	}

	return c.JSON(http.StatusCreated, result)
}

func (s *Server) ingestError(topic string, err error) error {
	var partial *vectorindex.PartialUpsertError
	switch {
	case errors.Is(err, vectorindex.ErrInvalidTopicName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, embeddings.ErrInputTooLong):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, embeddings.ErrEmbeddingFailed):
		s.logger.Error("embedding failed", zap.String("topic", topic), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, vectorindex.ErrDimensionMismatch):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &partial):
		s.logger.Error("partial upsert",
			zap.String("topic", topic),
			zap.Int("failed_points", len(partial.FailedIDs)),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("ingest failed", zap.String("topic", topic), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "ingestion failed")
	}
}

// handleSearch embeds the query and returns the nearest chunks.
func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic field is required")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	results, err := s.searcher.Search(c.Request().Context(), req.Topic, req.Query, req.TopK)
	if err != nil {
		switch {
		case errors.Is(err, vectorindex.ErrTopicNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, vectorindex.ErrInvalidTopicName):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("search failed", zap.String("topic", req.Topic), zap.Error(err))
			return echo.NewHTTPError(http.StatusBadGateway, "search failed")
		}
	}

	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
