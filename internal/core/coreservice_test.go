package core

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/shelfsight/planoview/internal/backend/cache"
	"github.com/shelfsight/planoview/internal/backend/database"
	"github.com/shelfsight/planoview/internal/backend/export"
	"github.com/shelfsight/planoview/internal/backend/labelstudio"
	"github.com/shelfsight/planoview/internal/backend/storage"
)

type fakeStorage struct {
	presignCalls int
	uploadFail   bool
}

func (f *fakeStorage) ProjectFolder(projectID int) string {
	return fmt.Sprintf("shelves-%d/images_test/", projectID)
}

func (f *fakeStorage) UploadBatch(ctx context.Context, projectID int, files []storage.UploadFile) *storage.BatchResult {
	result := &storage.BatchResult{
		Total:  len(files),
		Folder: f.ProjectFolder(projectID),
	}
	if f.uploadFail {
		result.Failed = len(files)
		result.Errors = []string{"simulated upload failure"}
		return result
	}
	for i, file := range files {
		result.Successful++
		result.Files = append(result.Files, storage.UploadedFile{
			Filename:     fmt.Sprintf("image_%04d_%s", i+1, file.Name),
			OriginalName: file.Name,
		})
	}
	return result
}

func (f *fakeStorage) PresignGet(ctx context.Context, s3URL string, ttl time.Duration) (string, error) {
	f.presignCalls++
	return s3URL + "?X-Amz-Signature=signed", nil
}

type fakeAnnotations struct {
	projects      []labelstudio.Project
	projectCalls  int
	storageErr    error
	syncErr       error
	createdFolder string
}

func (f *fakeAnnotations) Projects(ctx context.Context) ([]labelstudio.Project, error) {
	f.projectCalls++
	return f.projects, nil
}

func (f *fakeAnnotations) Project(ctx context.Context, projectID int) (*labelstudio.Project, error) {
	for i := range f.projects {
		if f.projects[i].ID == projectID {
			return &f.projects[i], nil
		}
	}
	return nil, fmt.Errorf("project %d not found", projectID)
}

func (f *fakeAnnotations) CreateS3Storage(ctx context.Context, projectID int, folder string) (*labelstudio.StorageConnection, error) {
	if f.storageErr != nil {
		return nil, f.storageErr
	}
	f.createdFolder = folder
	return &labelstudio.StorageConnection{ID: 77, Prefix: folder}, nil
}

func (f *fakeAnnotations) SyncStorage(ctx context.Context, storageID int) (*labelstudio.SyncResult, error) {
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return &labelstudio.SyncResult{StorageID: storageID, TaskCount: 5}, nil
}

func (f *fakeAnnotations) ValidateConnection(ctx context.Context) error {
	return nil
}

type fakeExporter struct {
	lastProject int
}

func (f *fakeExporter) TriggerExport(ctx context.Context, projectID int) (*export.Result, error) {
	f.lastProject = projectID
	return &export.Result{ProjectID: projectID, StatusCode: 200, Response: "{}"}, nil
}

func testConfig() *Config {
	return &Config{
		AppName:    "planoview",
		AppVersion: "test",
		Port:       8080,
		Database:   DatabaseConfig{Type: "sqlite", Path: ":memory:", ResultTable: "results"},
		S3:         S3Config{Bucket: "test-bucket", FolderPrefix: "shelves", Region: "ap-southeast-1"},
		Upload:     UploadConfig{SupportedFormats: []string{"png", "jpg", "jpeg"}, MaxFileSizeMB: 200},
		Cache:      CacheConfig{TTL: time.Minute, PresignTTL: time.Hour},
	}
}

func newTestService(t *testing.T, annotations *fakeAnnotations, objectStorage *fakeStorage, resultCache *cache.Cache) (*CoreService, database.ResultStore) {
	t.Helper()

	store, err := database.NewResultStore("sqlite", ":memory:", "results")
	if err != nil {
		t.Fatalf("NewResultStore error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	service := NewCoreService(testConfig(), store, objectStorage, annotations, &fakeExporter{}, resultCache)
	return service, store
}

func validPNG(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32))); err != nil {
		t.Fatalf("failed to encode test PNG: %v", err)
	}
	return buf.Bytes()
}

func TestGetResultDetail_PresignsAndParsesBreakdown(t *testing.T) {
	objectStorage := &fakeStorage{}
	service, store := newTestService(t, &fakeAnnotations{}, objectStorage, nil)
	ctx := context.Background()

	id, err := store.InsertResult(ctx, &database.Result{
		ImageName:            "shelf.jpg",
		S3URL:                "https://test-bucket.s3.ap-southeast-1.amazonaws.com/a/shelf.jpg",
		ProductCount:         `{"shelves":[{"shelf_number":1,"drinks":{"joco":2,"abben":1}},{"shelf_number":2,"drinks":{"boncha":4}}]}`,
		ComplianceAssessment: true,
	})
	if err != nil {
		t.Fatalf("InsertResult error: %v", err)
	}

	detail, err := service.GetResultDetail(ctx, id)
	if err != nil {
		t.Fatalf("GetResultDetail error: %v", err)
	}
	if !strings.Contains(detail.PresignedURL, "X-Amz-Signature") {
		t.Errorf("expected presigned URL, got %q", detail.PresignedURL)
	}
	if detail.Breakdown == nil {
		t.Fatal("expected parsed breakdown")
	}
	if len(detail.Breakdown.Shelves) != 2 {
		t.Fatalf("expected 2 shelves, got %d", len(detail.Breakdown.Shelves))
	}
	if detail.Breakdown.Shelves[0].Total != 3 {
		t.Errorf("expected shelf 1 total 3, got %d", detail.Breakdown.Shelves[0].Total)
	}
	if detail.Breakdown.Total != 7 {
		t.Errorf("expected overall total 7, got %d", detail.Breakdown.Total)
	}
}

func TestGetResultDetail_PresignCache(t *testing.T) {
	server := miniredis.RunT(t)
	resultCache := cache.New(server.Addr(), "", 0, time.Minute)
	objectStorage := &fakeStorage{}
	service, store := newTestService(t, &fakeAnnotations{}, objectStorage, resultCache)
	ctx := context.Background()

	id, err := store.InsertResult(ctx, &database.Result{
		ImageName: "shelf.jpg",
		S3URL:     "https://test-bucket.s3.ap-southeast-1.amazonaws.com/a/shelf.jpg",
	})
	if err != nil {
		t.Fatalf("InsertResult error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := service.GetResultDetail(ctx, id); err != nil {
			t.Fatalf("GetResultDetail #%d error: %v", i+1, err)
		}
	}
	if objectStorage.presignCalls != 1 {
		t.Errorf("expected 1 presign call with cache, got %d", objectStorage.presignCalls)
	}
}

func TestProjects_CachedAfterFirstCall(t *testing.T) {
	server := miniredis.RunT(t)
	resultCache := cache.New(server.Addr(), "", 0, time.Minute)
	annotations := &fakeAnnotations{projects: []labelstudio.Project{{ID: 1, Title: "Shelf audit"}}}
	service, _ := newTestService(t, annotations, &fakeStorage{}, resultCache)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		projects, err := service.Projects(ctx)
		if err != nil {
			t.Fatalf("Projects #%d error: %v", i+1, err)
		}
		if len(projects) != 1 || projects[0].Title != "Shelf audit" {
			t.Fatalf("unexpected projects %+v", projects)
		}
	}
	if annotations.projectCalls != 1 {
		t.Errorf("expected 1 upstream call with cache, got %d", annotations.projectCalls)
	}
}

func TestRunImport_FullWorkflow(t *testing.T) {
	annotations := &fakeAnnotations{}
	service, _ := newTestService(t, annotations, &fakeStorage{}, nil)

	files := []storage.UploadFile{
		{Name: "front.png", Content: validPNG(t), ContentType: "image/png"},
	}
	result, err := service.RunImport(context.Background(), 3, files)
	if err != nil {
		t.Fatalf("RunImport error: %v", err)
	}
	if result.Upload.Successful != 1 {
		t.Errorf("expected 1 uploaded file, got %d", result.Upload.Successful)
	}
	if result.StorageID != 77 {
		t.Errorf("expected storage ID 77, got %d", result.StorageID)
	}
	if result.TaskCount != 5 {
		t.Errorf("expected 5 tasks, got %d", result.TaskCount)
	}
	if annotations.createdFolder != "shelves-3/images_test/" {
		t.Errorf("storage created for folder %q", annotations.createdFolder)
	}
}

func TestRunImport_StageFailures(t *testing.T) {
	tests := []struct {
		name        string
		projectID   int
		files       []storage.UploadFile
		annotations *fakeAnnotations
		objStorage  *fakeStorage
		wantStage   string
	}{
		{
			name:        "invalid project",
			projectID:   0,
			files:       []storage.UploadFile{{Name: "a.png"}},
			annotations: &fakeAnnotations{},
			objStorage:  &fakeStorage{},
			wantStage:   "validate stage",
		},
		{
			name:        "no files",
			projectID:   1,
			files:       nil,
			annotations: &fakeAnnotations{},
			objStorage:  &fakeStorage{},
			wantStage:   "validate stage",
		},
		{
			name:        "invalid image",
			projectID:   1,
			files:       []storage.UploadFile{{Name: "a.png", Content: []byte("nope")}},
			annotations: &fakeAnnotations{},
			objStorage:  &fakeStorage{},
			wantStage:   "validate stage",
		},
		{
			name:        "upload failure",
			projectID:   1,
			annotations: &fakeAnnotations{},
			objStorage:  &fakeStorage{uploadFail: true},
			wantStage:   "upload stage",
		},
		{
			name:        "storage creation failure",
			projectID:   1,
			annotations: &fakeAnnotations{storageErr: fmt.Errorf("bad storage config")},
			objStorage:  &fakeStorage{},
			wantStage:   "create storage stage",
		},
		{
			name:        "sync failure",
			projectID:   1,
			annotations: &fakeAnnotations{syncErr: fmt.Errorf("sync worker down")},
			objStorage:  &fakeStorage{},
			wantStage:   "sync storage stage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _ := newTestService(t, tt.annotations, tt.objStorage, nil)

			files := tt.files
			if files == nil && tt.name != "no files" {
				files = []storage.UploadFile{{Name: "a.png", Content: validPNG(t), ContentType: "image/png"}}
			}
			_, err := service.RunImport(context.Background(), tt.projectID, files)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantStage) {
				t.Errorf("error %q should name %q", err, tt.wantStage)
			}
		})
	}
}

func TestRunImport_RejectsDuplicateFilenames(t *testing.T) {
	objectStorage := &fakeStorage{}
	service, _ := newTestService(t, &fakeAnnotations{}, objectStorage, nil)

	png := validPNG(t)
	files := []storage.UploadFile{
		{Name: "shelf.png", Content: png, ContentType: "image/png"},
		{Name: "shelf.png", Content: png, ContentType: "image/png"},
	}

	_, err := service.RunImport(context.Background(), 3, files)
	if err == nil {
		t.Fatal("expected error for duplicate filenames")
	}
	if !strings.Contains(err.Error(), "validate stage") || !strings.Contains(err.Error(), "duplicate filename") {
		t.Errorf("error %q should name the validate stage and the duplicate", err)
	}
}

func TestTriggerExport(t *testing.T) {
	exporter := &fakeExporter{}
	store, err := database.NewResultStore("sqlite", ":memory:", "results")
	if err != nil {
		t.Fatalf("NewResultStore error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	service := NewCoreService(testConfig(), store, &fakeStorage{}, &fakeAnnotations{}, exporter, nil)

	result, err := service.TriggerExport(context.Background(), 12)
	if err != nil {
		t.Fatalf("TriggerExport error: %v", err)
	}
	if result.StatusCode != 200 || exporter.lastProject != 12 {
		t.Errorf("unexpected export result %+v (project %d)", result, exporter.lastProject)
	}

	if _, err := service.TriggerExport(context.Background(), -1); err == nil {
		t.Error("expected error for invalid project ID")
	}
}

func TestStatus(t *testing.T) {
	service, _ := newTestService(t, &fakeAnnotations{}, &fakeStorage{}, nil)

	status := service.Status(context.Background())
	if status.Database != "ok" {
		t.Errorf("database status = %q", status.Database)
	}
	if status.LabelStudio != "ok" {
		t.Errorf("label studio status = %q", status.LabelStudio)
	}
	if status.Cache != "disabled" {
		t.Errorf("cache status = %q", status.Cache)
	}
}
