package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shelfsight/planoview/internal/backend/cache"
	"github.com/shelfsight/planoview/internal/backend/database"
	"github.com/shelfsight/planoview/internal/backend/export"
	"github.com/shelfsight/planoview/internal/backend/labelstudio"
	"github.com/shelfsight/planoview/internal/backend/storage"
	"github.com/shelfsight/planoview/internal/backend/validation"
)

const (
	projectsCacheKey = "labelstudio:projects"
	presignKeyPrefix = "presign:"
)

// ObjectStorage is the slice of the S3 client the core service needs.
type ObjectStorage interface {
	ProjectFolder(projectID int) string
	UploadBatch(ctx context.Context, projectID int, files []storage.UploadFile) *storage.BatchResult
	PresignGet(ctx context.Context, s3URL string, ttl time.Duration) (string, error)
}

// AnnotationService is the slice of the Label Studio client the core
// service needs.
type AnnotationService interface {
	Projects(ctx context.Context) ([]labelstudio.Project, error)
	Project(ctx context.Context, projectID int) (*labelstudio.Project, error)
	CreateS3Storage(ctx context.Context, projectID int, folder string) (*labelstudio.StorageConnection, error)
	SyncStorage(ctx context.Context, storageID int) (*labelstudio.SyncResult, error)
	ValidateConnection(ctx context.Context) error
}

type ExportTrigger interface {
	TriggerExport(ctx context.Context, projectID int) (*export.Result, error)
}

// CoreService carries the review, import, and export workflows behind
// the HTTP layers.
type CoreService struct {
	config      *Config
	store       database.ResultStore
	storage     ObjectStorage
	annotations AnnotationService
	exporter    ExportTrigger
	validator   *validation.ImageValidator
	cache       *cache.Cache
}

func NewCoreService(
	config *Config,
	store database.ResultStore,
	objectStorage ObjectStorage,
	annotations AnnotationService,
	exporter ExportTrigger,
	resultCache *cache.Cache,
) *CoreService {
	return &CoreService{
		config:      config,
		store:       store,
		storage:     objectStorage,
		annotations: annotations,
		exporter:    exporter,
		validator:   validation.NewImageValidator(config.Upload.SupportedFormats, config.Upload.MaxFileSizeMB),
		cache:       resultCache,
	}
}

func (s *CoreService) Config() *Config {
	return s.config
}

func (s *CoreService) Close() error {
	if err := s.cache.Close(); err != nil {
		slog.Warn("failed to close cache", "error", err)
	}
	return s.store.Close()
}

// --- Review ---

// ResultDetail is one result row enriched for display: a fresh
// presigned download URL and the parsed shelf breakdown.
type ResultDetail struct {
	*database.Result
	PresignedURL string
	Breakdown    *ProductBreakdown
}

func (s *CoreService) ListResults(ctx context.Context) ([]*database.Result, error) {
	return s.store.ListResults(ctx)
}

func (s *CoreService) GetResultDetail(ctx context.Context, id int64) (*ResultDetail, error) {
	result, err := s.store.GetResult(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &ResultDetail{Result: result}
	if result.S3URL != "" {
		url, err := s.presignCached(ctx, id, result.S3URL)
		if err != nil {
			// Display degrades to the stored URL; the review flow
			// itself must not fail on a presign problem.
			slog.Warn("failed to presign image URL", "result_id", id, "error", err)
			url = result.S3URL
		}
		detail.PresignedURL = url
	}
	if result.ProductCount != "" {
		breakdown, err := ParseProductCount(result.ProductCount)
		if err != nil {
			slog.Warn("unparsable product count payload", "result_id", id, "error", err)
		} else {
			detail.Breakdown = breakdown
		}
	}
	return detail, nil
}

func (s *CoreService) UpdateReview(ctx context.Context, id int64, comment string, assessment bool) error {
	if err := s.store.UpdateReview(ctx, id, comment, assessment); err != nil {
		return err
	}
	slog.Info("review saved", "result_id", id, "assessment", assessment, "has_comment", comment != "")
	return nil
}

func (s *CoreService) Stats(ctx context.Context) (*database.ReviewStats, error) {
	return s.store.Stats(ctx)
}

// presignCached caches presigned URLs for half their lifetime so a
// cached URL handed to the browser stays usable while rendered.
func (s *CoreService) presignCached(ctx context.Context, id int64, s3URL string) (string, error) {
	key := fmt.Sprintf("%s%d", presignKeyPrefix, id)
	if cached, ok := s.cache.Get(ctx, key); ok {
		return string(cached), nil
	}

	ttl := s.config.Cache.PresignTTL
	url, err := s.storage.PresignGet(ctx, s3URL, ttl)
	if err != nil {
		return "", err
	}
	s.cache.SetTTL(ctx, key, []byte(url), ttl/2)
	return url, nil
}

// --- Label Studio projects ---

func (s *CoreService) Projects(ctx context.Context) ([]labelstudio.Project, error) {
	if cached, ok := s.cache.Get(ctx, projectsCacheKey); ok {
		var projects []labelstudio.Project
		if err := json.Unmarshal(cached, &projects); err == nil {
			return projects, nil
		}
	}

	projects, err := s.annotations.Projects(ctx)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(projects); err == nil {
		s.cache.Set(ctx, projectsCacheKey, encoded)
	}
	return projects, nil
}

// --- Import workflow ---

// ImportResult reports the outcome of a full import run.
type ImportResult struct {
	ProjectID int                  `json:"project_id"`
	Upload    *storage.BatchResult `json:"upload"`
	StorageID int                  `json:"storage_id"`
	TaskCount int                  `json:"task_count"`
	Message   string               `json:"message"`
}

// RunImport validates the uploaded images, pushes them to a fresh S3
// folder, registers that folder as a Label Studio source storage, and
// syncs it so the images become annotation tasks. Stages fail fast and
// the failing stage is named in the returned error.
func (s *CoreService) RunImport(ctx context.Context, projectID int, files []storage.UploadFile) (*ImportResult, error) {
	if projectID <= 0 {
		return nil, fmt.Errorf("validate stage failed: invalid project ID %d", projectID)
	}
	if ok, advice := s.validator.CheckBatchSize(len(files)); !ok {
		return nil, fmt.Errorf("validate stage failed: %s", advice)
	}
	batch := make(map[string][]byte, len(files))
	for _, file := range files {
		// Every file must be validated; a name collision would shadow
		// one of the payloads.
		if _, exists := batch[file.Name]; exists {
			return nil, fmt.Errorf("validate stage failed: duplicate filename %q in batch", file.Name)
		}
		batch[file.Name] = file.Content
	}
	if err := s.validator.ValidateBatch(batch); err != nil {
		return nil, fmt.Errorf("validate stage failed: %w", err)
	}

	slog.Info("starting import workflow", "project_id", projectID, "files", len(files))

	uploadResult := s.storage.UploadBatch(ctx, projectID, files)
	if uploadResult.Successful == 0 {
		return nil, fmt.Errorf("upload stage failed: no images uploaded: %v", uploadResult.Errors)
	}

	connection, err := s.annotations.CreateS3Storage(ctx, projectID, uploadResult.Folder)
	if err != nil {
		return nil, fmt.Errorf("create storage stage failed: %w", err)
	}

	sync, err := s.annotations.SyncStorage(ctx, connection.ID)
	if err != nil {
		return nil, fmt.Errorf("sync storage stage failed: %w", err)
	}

	// A new batch invalidates the cached project list since task counts changed.
	s.cache.Delete(ctx, projectsCacheKey)

	result := &ImportResult{
		ProjectID: projectID,
		Upload:    uploadResult,
		StorageID: connection.ID,
		TaskCount: sync.TaskCount,
		Message:   fmt.Sprintf("imported %d tasks into project %d", sync.TaskCount, projectID),
	}
	slog.Info("import workflow completed",
		"project_id", projectID,
		"uploaded", uploadResult.Successful,
		"failed", uploadResult.Failed,
		"tasks", sync.TaskCount)
	return result, nil
}

// --- Export ---

func (s *CoreService) TriggerExport(ctx context.Context, projectID int) (*export.Result, error) {
	if projectID <= 0 {
		return nil, fmt.Errorf("invalid project ID %d", projectID)
	}
	return s.exporter.TriggerExport(ctx, projectID)
}

// --- Status ---

// SystemStatus mirrors the connectivity summary the dashboard sidebar
// shows: which of the configured backends currently respond.
type SystemStatus struct {
	App         string `json:"app"`
	Version     string `json:"version"`
	Database    string `json:"database"`
	LabelStudio string `json:"label_studio"`
	Cache       string `json:"cache"`
}

func (s *CoreService) Status(ctx context.Context) *SystemStatus {
	status := &SystemStatus{
		App:         s.config.AppName,
		Version:     s.config.AppVersion,
		Database:    "ok",
		LabelStudio: "ok",
		Cache:       "disabled",
	}
	if err := s.store.Ping(ctx); err != nil {
		status.Database = fmt.Sprintf("unreachable: %v", err)
	}
	if err := s.annotations.ValidateConnection(ctx); err != nil {
		status.LabelStudio = fmt.Sprintf("unreachable: %v", err)
	}
	if s.cache != nil {
		status.Cache = "ok"
		if err := s.cache.Ping(ctx); err != nil {
			status.Cache = fmt.Sprintf("unreachable: %v", err)
		}
	}
	return status
}
