package http

import (
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/scriptorium/internal/engine"
)

// handleHealth reports component health; 503 when any component is down.
func (s *Server) handleHealth(c echo.Context) error {
	h := s.library.Health(c.Request().Context())
	status := http.StatusOK
	if !h.OK() {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, h)
}

// handleUpload ingests the multipart field "file".
func (s *Server) handleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "upload could not be read")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "upload could not be read")
	}

	res, err := s.library.Ingest(c.Request().Context(), data, fh.Filename)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.library.ListDocuments(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, DocumentsResponse{Documents: docs, Total: len(docs)})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	filename, err := pathParam(c, "filename")
	if err != nil {
		return err
	}
	if err := s.library.DeleteDocument(c.Request().Context(), filename); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, DeleteResponse{Status: "deleted", Filename: filename})
}

func (s *Server) handleSummary(c echo.Context) error {
	filename, err := pathParam(c, "filename")
	if err != nil {
		return err
	}
	sum, err := s.library.Summary(c.Request().Context(), filename)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, SummaryResponse{Filename: filename, Summary: sum.Text, Provider: string(sum.Provider)})
}

// handleQuery answers a question. A provider failure after retrieval
// returns 502 with the query id and the sources found.
func (s *Server) handleQuery(c echo.Context) error {
	var req engine.QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}

	res, err := s.library.Query(c.Request().Context(), req)
	if err != nil {
		status, msg := statusOf(err)
		if status == http.StatusBadGateway {
			s.logger.Warn("query failed at the provider", zap.String("query_id", res.QueryID), zap.Error(err))
			return c.JSON(status, QueryFailure{Message: msg, QueryID: res.QueryID, State: string(res.State), Sources: res.Sources})
		}
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.library.Statistics(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleTerm(c echo.Context) error {
	term, err := pathParam(c, "term")
	if err != nil {
		return err
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}
	cites, err := s.library.SearchByTerm(c.Request().Context(), term, limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, TermResponse{Term: term, Results: cites, Total: len(cites)})
}

func (s *Server) handleProviderStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.library.ProviderStatus(c.Request().Context()))
}

func (s *Server) handleSetProvider(c echo.Context) error {
	var req engine.ProviderConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	if err := s.library.SetProviderConfig(ctx, req); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, s.library.ProviderStatus(ctx))
}

func (s *Server) handleValidate(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Credentials) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "credentials field is required")
	}
	results := s.library.ValidateCredentials(c.Request().Context(), req.Credentials)
	return c.JSON(http.StatusOK, ValidateResponse{Results: results})
}

// pathParam returns an unescaped, non-empty path parameter.
func pathParam(c echo.Context, name string) (string, error) {
	v, err := url.PathUnescape(c.Param(name))
	if err != nil || v == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	return v, nil
}

// fail converts err into an HTTP error. Unexpected errors are logged and
// reported without detail.
func (s *Server) fail(c echo.Context, err error) error {
	status, msg := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err))
	}
	return echo.NewHTTPError(status, msg)
}
