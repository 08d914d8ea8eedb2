package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/david/rfp-finder/internal/db"
	"github.com/david/rfp-finder/internal/ingest"
	"github.com/david/rfp-finder/internal/models"
)

const maxUploadBytes = 25 << 20

// Store is the read side of the results database.
type Store interface {
	ListOpportunities(ctx context.Context, params db.ListParams) (*db.ListResult, error)
	RecentRuns(ctx context.Context, limit int) ([]models.ScanRun, error)
}

type Config struct {
	Pipeline *ingest.Pipeline
	// Store is nil when no database is configured.
	Store Store
	// AdminSecret guards the extract and scan routes. Empty rejects them all.
	AdminSecret    string
	AllowedOrigins []string
}

type Server struct {
	Echo     *echo.Echo
	Pipeline *ingest.Pipeline
	Store    Store

	adminSecret string
}

func NewServer(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		Echo:        e,
		Pipeline:    cfg.Pipeline,
		Store:       cfg.Store,
		adminSecret: strings.TrimSpace(cfg.AdminSecret),
	}
	s.routes()
	return s
}

func (s *Server) Start(addr string) error {
	return s.Echo.Start(addr)
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/utilities", s.handleListUtilities)
	api.GET("/opportunities", s.handleListOpportunities)
	api.GET("/runs", s.handleListRuns)

	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.POST("/extract/html", s.handleExtractHTML)
	admin.POST("/extract/pdf", s.handleExtractPDF)
	admin.POST("/scan/:id", s.handleScanUtility)
	admin.POST("/scan", s.handleScanAll)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

type utilityView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Region     string `json:"region"`
	RFPURL     string `json:"rfp_url"`
	Active     bool   `json:"active"`
	RequiresJS bool   `json:"requires_js"`
	PDFOnly    bool   `json:"pdf_only"`
	MaxPDFs    int    `json:"max_pdfs_to_extract"`
}

func (s *Server) handleListUtilities(c echo.Context) error {
	out := []utilityView{}
	for _, u := range s.Pipeline.Registry.Utilities {
		out = append(out, utilityView{
			ID:         u.ID,
			Name:       u.Name,
			Type:       u.Type,
			Region:     u.Region,
			RFPURL:     u.RFPURL,
			Active:     u.Active,
			RequiresJS: u.RequiresJS,
			PDFOnly:    u.PDFOnly,
			MaxPDFs:    u.PDFLimit(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleListOpportunities(c echo.Context) error {
	if s.Store == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "No results store configured"})
	}

	params := db.ListParams{
		UtilityID:  c.QueryParam("utility_id"),
		SourceType: c.QueryParam("source_type"),
		Query:      c.QueryParam("q"),
		ActiveOnly: c.QueryParam("active") == "true",
		Limit:      20,
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		params.Limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		params.Offset = o
	}

	result, err := s.Store.ListOpportunities(c.Request().Context(), params)
	if err != nil {
		log.Error().Err(err).Msg("failed to list opportunities")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleListRuns(c echo.Context) error {
	if s.Store == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "No results store configured"})
	}
	limit := 20
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	runs, err := s.Store.RecentRuns(c.Request().Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list runs")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleExtractHTML(c echo.Context) error {
	baseURL := strings.TrimSpace(c.QueryParam("base_url"))
	if baseURL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "base_url is required"})
	}

	var meta models.UtilityMeta
	if id := c.QueryParam("utility_id"); id != "" {
		u, err := s.Pipeline.Registry.Get(id)
		if err != nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		meta = u.Meta()
	}

	body := io.LimitReader(c.Request().Body, maxUploadBytes)
	opps := s.Pipeline.Engine.ExtractFromHTML(body, baseURL, meta)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":         len(opps),
		"opportunities": opps,
	})
}

func (s *Server) handleExtractPDF(c echo.Context) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxUploadBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
	}
	if len(data) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "empty body"})
	}

	sourceURL := c.QueryParam("source_url")
	res, err := s.Pipeline.Engine.ExtractFromPdfBytes(data, ingest.PdfSource{URL: sourceURL})
	switch {
	case errors.Is(err, ingest.ErrNoPdfBackend):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case err != nil:
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	}

	opp := s.Pipeline.Engine.OpportunityFromPdf(res, "", sourceURL, models.UtilityMeta{})
	return c.JSON(http.StatusOK, map[string]interface{}{
		"result":      res,
		"opportunity": opp,
	})
}

func (s *Server) handleScanUtility(c echo.Context) error {
	result, err := s.Pipeline.ScanUtility(c.Request().Context(), c.Param("id"))
	if errors.Is(err, ingest.ErrUnknownUtility) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleScanAll(c echo.Context) error {
	results, err := s.Pipeline.ScanAll(c.Request().Context(), true)
	if err != nil {
		log.Warn().Err(err).Int("completed", len(results)).Msg("scan all interrupted")
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.adminSecret == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Admin access is not configured"})
		}

		// X-Admin-Secret header or Bearer token
		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if secretMatches(adminHeader, s.adminSecret) {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if secretMatches(authHeader[7:], s.adminSecret) {
				return next(c)
			}
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func secretMatches(given, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(given), []byte(secret)) == 1
}
