package backend

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/shelfsight/planoview/internal/backend/database"
	"github.com/shelfsight/planoview/internal/backend/labelstudio"
	"github.com/shelfsight/planoview/internal/backend/storage"
	"github.com/shelfsight/planoview/internal/backend/validation"
	"github.com/shelfsight/planoview/internal/core"
)

// APIService exposes the review/import/export workflows as a JSON API
// under /api, plus the container health probe.
type APIService struct {
	coreService *core.CoreService
}

func NewAPIService(coreService *core.CoreService) *APIService {
	return &APIService{coreService: coreService}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	e.GET("/probe", s.probeHandler)

	api := e.Group("/api")
	api.GET("/results", s.listResultsHandler)
	api.GET("/results/stats", s.statsHandler)
	api.GET("/results/:id", s.getResultHandler)
	api.PATCH("/results/:id/review", s.updateReviewHandler)
	api.GET("/projects", s.projectsHandler)
	api.POST("/imports", s.importHandler)
	api.POST("/exports", s.exportHandler)
	api.GET("/status", s.statusHandler)
}

func (s *APIService) probeHandler(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "ok")
}

type resultResponse struct {
	ID                   int64  `json:"id"`
	ImageName            string `json:"image_name"`
	S3URL                string `json:"s3_url"`
	ProductCount         string `json:"product_count,omitempty"`
	ComplianceAssessment bool   `json:"compliance_assessment"`
	ReviewComment        string `json:"review_comment,omitempty"`
	Timestamp            string `json:"timestamp"`
	PresignedURL         string `json:"presigned_url,omitempty"`
}

func toResultResponse(result *database.Result) resultResponse {
	return resultResponse{
		ID:                   result.ID,
		ImageName:            result.ImageName,
		S3URL:                result.S3URL,
		ProductCount:         result.ProductCount,
		ComplianceAssessment: result.ComplianceAssessment,
		ReviewComment:        result.ReviewComment,
		Timestamp:            result.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *APIService) listResultsHandler(ctx echo.Context) error {
	results, err := s.coreService.ListResults(ctx.Request().Context())
	if err != nil {
		slog.Error("listResultsHandler: failed to list results", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list results")
	}
	response := make([]resultResponse, 0, len(results))
	for _, result := range results {
		response = append(response, toResultResponse(result))
	}
	return ctx.JSON(http.StatusOK, response)
}

func (s *APIService) getResultHandler(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid result ID")
	}

	detail, err := s.coreService.GetResultDetail(ctx.Request().Context(), id)
	if errors.Is(err, database.ErrResultNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "result not found")
	}
	if err != nil {
		slog.Error("getResultHandler: failed to load result", "result_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load result")
	}

	response := toResultResponse(detail.Result)
	response.PresignedURL = detail.PresignedURL
	return ctx.JSON(http.StatusOK, response)
}

type reviewUpdateRequest struct {
	Comment    string `json:"comment"`
	Assessment *bool  `json:"assessment" validate:"required"`
}

func (s *APIService) updateReviewHandler(ctx echo.Context) error {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid result ID")
	}

	var req reviewUpdateRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}

	err = s.coreService.UpdateReview(ctx.Request().Context(), id, req.Comment, *req.Assessment)
	if errors.Is(err, database.ErrResultNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "result not found")
	}
	if err != nil {
		slog.Error("updateReviewHandler: failed to save review", "result_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save review")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (s *APIService) statsHandler(ctx echo.Context) error {
	stats, err := s.coreService.Stats(ctx.Request().Context())
	if err != nil {
		slog.Error("statsHandler: failed to compute stats", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute stats")
	}
	return ctx.JSON(http.StatusOK, map[string]int{
		"total":     stats.Total,
		"pass":      stats.Pass,
		"fail":      stats.Fail,
		"commented": stats.Commented,
	})
}

func (s *APIService) projectsHandler(ctx echo.Context) error {
	projects, err := s.coreService.Projects(ctx.Request().Context())
	if errors.Is(err, labelstudio.ErrUnauthorized) {
		return echo.NewHTTPError(http.StatusBadGateway, labelstudio.ErrUnauthorized.Error())
	}
	if err != nil {
		slog.Error("projectsHandler: failed to list projects", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "failed to reach label studio")
	}
	return ctx.JSON(http.StatusOK, projects)
}

func (s *APIService) importHandler(ctx echo.Context) error {
	projectID, err := strconv.Atoi(ctx.FormValue("project_id"))
	if err != nil || projectID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid or missing project_id")
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "expected multipart form upload")
	}
	headers := form.File["images"]
	if len(headers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no images attached")
	}

	files := make([]storage.UploadFile, 0, len(headers))
	for _, header := range headers {
		content, err := readMultipartFile(header)
		if err != nil {
			slog.Error("importHandler: failed to read uploaded file", "filename", header.Filename, "error", err)
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("failed to read %s", header.Filename))
		}
		files = append(files, storage.UploadFile{
			Name:        header.Filename,
			Content:     content,
			ContentType: validation.ContentType(content),
		})
	}

	result, err := s.coreService.RunImport(ctx.Request().Context(), projectID, files)
	if err != nil {
		slog.Error("importHandler: import workflow failed", "project_id", projectID, "error", err)
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return ctx.JSON(http.StatusOK, result)
}

type exportRequest struct {
	ProjectID int `json:"project_id" validate:"required,min=1"`
}

func (s *APIService) exportHandler(ctx echo.Context) error {
	var req exportRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}

	result, err := s.coreService.TriggerExport(ctx.Request().Context(), req.ProjectID)
	if err != nil {
		slog.Error("exportHandler: export failed", "project_id", req.ProjectID, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return ctx.JSON(http.StatusOK, result)
}

func (s *APIService) statusHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.coreService.Status(ctx.Request().Context()))
}

func readMultipartFile(header *multipart.FileHeader) ([]byte, error) {
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = src.Close()
	}()
	return io.ReadAll(src)
}
