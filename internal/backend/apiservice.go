package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jo-hoe/gallerystore/internal/backend/collection"
	"github.com/jo-hoe/gallerystore/internal/backend/failure"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	maxFilesPerRequest = 32
	// defaultMaxFileBytes caps a single uploaded file.
	defaultMaxFileBytes = 16 << 20
	// defaultIngestBodyLimit caps the whole multipart request.
	defaultIngestBodyLimit = "64M"
)

// CollectionService is the set of operations served over HTTP.
type CollectionService interface {
	Reorder(ctx context.Context, parentID int64, orderedIDs []int64) (collection.ReorderResult, error)
	Delete(ctx context.Context, assetID int64) (collection.DeleteResult, error)
	Ingest(ctx context.Context, parentID int64, files []collection.Upload) (collection.IngestResult, error)
	List(ctx context.Context, parentID int64) ([]collection.Family, error)
	Content(ctx context.Context, assetID int64) ([]byte, string, error)
	Verify(ctx context.Context, parentID int64) (collection.Report, error)
	BackfillHighResLinks(ctx context.Context, parentID int64) (collection.BackfillResult, error)
}

// APIService exposes a CollectionService as a JSON API.
type APIService struct {
	service         CollectionService
	metricsHandler  http.Handler
	maxFileBytes    int64
	ingestBodyLimit string
}

// NewAPIService serves service. A nil metricsHandler leaves /metrics unmounted.
func NewAPIService(service CollectionService, metricsHandler http.Handler) *APIService {
	return &APIService{
		service:         service,
		metricsHandler:  metricsHandler,
		maxFileBytes:    defaultMaxFileBytes,
		ingestBodyLimit: defaultIngestBodyLimit,
	}
}

type reorderRequest struct {
	AssetIDs []int64 `json:"assetIds" validate:"required"`
}

type errorResponse struct {
	Code       failure.Code        `json:"code"`
	Operation  string              `json:"operation,omitempty"`
	Message    string              `json:"error"`
	IDs        []failure.IDIssue   `json:"ids,omitempty"`
	Violations []failure.Violation `json:"violations,omitempty"`
	Expected   *int64              `json:"expected,omitempty"`
	Actual     *int64              `json:"actual,omitempty"`
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	// Set probe route
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "API Service is running")
	})
	if s.metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(s.metricsHandler))
	}

	api := e.Group("/api")
	api.GET("/parents/:parentId/assets", s.listHandler)
	api.POST("/parents/:parentId/assets", s.ingestHandler, middleware.BodyLimit(s.ingestBodyLimit))
	api.PUT("/parents/:parentId/order", s.reorderHandler)
	api.GET("/parents/:parentId/verify", s.verifyHandler)
	api.POST("/parents/:parentId/high-res-links", s.backfillHandler)
	api.DELETE("/assets/:assetId", s.deleteHandler)
	api.GET("/assets/:assetId/content", s.contentHandler)
}

func (s *APIService) listHandler(c echo.Context) error {
	parentID, err := pathID(c, "parentId")
	if err != nil {
		return err
	}
	families, err := s.service.List(c.Request().Context(), parentID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, families)
}

func (s *APIService) reorderHandler(c echo.Context) error {
	parentID, err := pathID(c, "parentId")
	if err != nil {
		return err
	}
	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, failure.New(failure.CodeValidation, collection.OpReorder,
			fmt.Sprintf("invalid request body: %v", err)))
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	result, err := s.service.Reorder(c.Request().Context(), parentID, req.AssetIDs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *APIService) ingestHandler(c echo.Context) error {
	parentID, err := pathID(c, "parentId")
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return writeError(c, failure.New(failure.CodeValidation, collection.OpIngest,
			fmt.Sprintf("expected multipart form with files: %v", err)))
	}
	headers := form.File["files"]
	if len(headers) > maxFilesPerRequest {
		return writeError(c, failure.New(failure.CodeValidation, collection.OpIngest,
			fmt.Sprintf("at most %d files per request, got %d", maxFilesPerRequest, len(headers))))
	}

	uploads := make([]collection.Upload, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > s.maxFileBytes {
			return writeError(c, failure.New(failure.CodeValidation, collection.OpIngest,
				fmt.Sprintf("file %q has %d bytes, at most %d allowed", fh.Filename, fh.Size, s.maxFileBytes)))
		}
		f, err := fh.Open()
		if err != nil {
			return writeError(c, failure.Wrap(failure.CodeValidation, collection.OpIngest, err))
		}
		data, err := io.ReadAll(io.LimitReader(f, s.maxFileBytes+1))
		_ = f.Close()
		if err != nil {
			return writeError(c, failure.Wrap(failure.CodeValidation, collection.OpIngest, err))
		}
		uploads = append(uploads, collection.Upload{Name: fh.Filename, Data: data})
	}

	result, err := s.service.Ingest(c.Request().Context(), parentID, uploads)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ingestStatus(result), result)
}

// ingestStatus is 201 when every file was stored, the status of the first
// failure when none was, and 200 for a partial success.
func ingestStatus(result collection.IngestResult) int {
	switch {
	case len(result.PerFileErrors) == 0:
		return http.StatusCreated
	case len(result.Created) == 0:
		return httpStatus(result.PerFileErrors[0].Code)
	default:
		return http.StatusOK
	}
}

func (s *APIService) deleteHandler(c echo.Context) error {
	assetID, err := pathID(c, "assetId")
	if err != nil {
		return err
	}
	result, err := s.service.Delete(c.Request().Context(), assetID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *APIService) contentHandler(c echo.Context) error {
	assetID, err := pathID(c, "assetId")
	if err != nil {
		return err
	}
	data, contentType, err := s.service.Content(c.Request().Context(), assetID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Blob(http.StatusOK, contentType, data)
}

func (s *APIService) verifyHandler(c echo.Context) error {
	parentID, err := pathID(c, "parentId")
	if err != nil {
		return err
	}
	report, err := s.service.Verify(c.Request().Context(), parentID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *APIService) backfillHandler(c echo.Context) error {
	parentID, err := pathID(c, "parentId")
	if err != nil {
		return err
	}
	result, err := s.service.BackfillHighResLinks(c.Request().Context(), parentID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// pathID parses a positive int64 path parameter. Invalid values become a 400
// whose body is an errorResponse.
func pathID(c echo.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, errorResponse{
			Code:    failure.CodeValidation,
			Message: fmt.Sprintf("%s must be a positive integer, got %q", name, raw),
		})
	}
	return id, nil
}

func httpStatus(code failure.Code) int {
	switch code {
	case failure.CodeValidation:
		return http.StatusBadRequest
	case failure.CodeOwnership:
		return http.StatusForbidden
	case failure.CodeNotFound:
		return http.StatusNotFound
	case failure.CodeBusy:
		return http.StatusConflict
	case failure.CodeRetryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	fe, ok := failure.As(err)
	if !ok {
		fe = failure.New(failure.CodeInternal, "", err.Error())
	}
	status := httpStatus(fe.Code)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"code", fe.Code,
			"error", err)
	}

	resp := errorResponse{
		Code:       fe.Code,
		Operation:  fe.Op,
		Message:    fe.Error(),
		IDs:        fe.IDs,
		Violations: fe.Violations,
	}
	if fe.Expected != 0 || fe.Actual != 0 {
		resp.Expected, resp.Actual = &fe.Expected, &fe.Actual
	}
	return c.JSON(status, resp)
}
