package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const DefaultPresignTTL = time.Hour

// PresignAPI is the slice of the S3 presign client used here, extracted
// so tests can substitute a fake.
type PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// UploadFile is one image handed to UploadBatch.
type UploadFile struct {
	Name        string
	Content     []byte
	ContentType string
}

type UploadedFile struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	S3URL        string `json:"s3_url"`
}

// BatchResult mirrors what the import view reports per batch.
type BatchResult struct {
	Total      int            `json:"total_images"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Errors     []string       `json:"errors,omitempty"`
	Files      []UploadedFile `json:"uploaded_files"`
	Folder     string         `json:"s3_folder"`
	Elapsed    time.Duration  `json:"processing_time"`
}

type Client struct {
	uploader *manager.Uploader
	presign  PresignAPI
	bucket   string
	prefix   string
	region   string
	now      func() time.Time
}

func NewClient(cfg aws.Config, bucket, prefix, region string) *Client {
	api := s3.NewFromConfig(cfg)
	return &Client{
		uploader: manager.NewUploader(api),
		presign:  s3.NewPresignClient(api),
		bucket:   bucket,
		prefix:   prefix,
		region:   region,
		now:      time.Now,
	}
}

// NewClientWithAPI wires explicit API implementations; used by tests.
func NewClientWithAPI(upload manager.UploadAPIClient, presign PresignAPI, bucket, prefix, region string, now func() time.Time) *Client {
	return &Client{
		uploader: manager.NewUploader(upload),
		presign:  presign,
		bucket:   bucket,
		prefix:   prefix,
		region:   region,
		now:      now,
	}
}

// ProjectFolder returns the per-project S3 folder a batch lands in,
// e.g. "shelves-12/images_20260301_120000/".
func (c *Client) ProjectFolder(projectID int) string {
	timestamp := c.now().Format("20060102_150405")
	return fmt.Sprintf("%s-%d/images_%s/", c.prefix, projectID, timestamp)
}

// UploadImage stores a single object privately and returns its
// virtual-hosted-style URL.
func (c *Client) UploadImage(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.bucket, c.region, key), nil
}

// UploadBatch uploads all files into a fresh project folder, capturing
// per-file failures instead of aborting the whole batch.
func (c *Client) UploadBatch(ctx context.Context, projectID int, files []UploadFile) *BatchResult {
	result := &BatchResult{
		Total:  len(files),
		Folder: c.ProjectFolder(projectID),
	}
	start := c.now()

	slog.Info("starting batch upload", "project_id", projectID, "folder", result.Folder, "count", len(files))

	for i, file := range files {
		filename := fmt.Sprintf("image_%04d_%s", i+1, file.Name)
		key := result.Folder + filename

		url, err := c.UploadImage(ctx, key, file.Content, file.ContentType)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", file.Name, err))
			slog.Error("batch upload file failed", "index", i+1, "filename", file.Name, "error", err)
			continue
		}
		result.Successful++
		result.Files = append(result.Files, UploadedFile{
			Filename:     filename,
			OriginalName: file.Name,
			S3URL:        url,
		})
	}

	result.Elapsed = c.now().Sub(start)
	slog.Info("batch upload completed",
		"project_id", projectID,
		"successful", result.Successful,
		"failed", result.Failed,
		"elapsed", result.Elapsed)
	return result
}

// PresignGet converts a stored S3 URL into a time-limited download URL.
// Rows written by older pipeline versions may carry plain public URLs;
// anything that does not parse as a virtual-hosted S3 URL is passed
// through unchanged.
func (c *Client) PresignGet(ctx context.Context, s3URL string, ttl time.Duration) (string, error) {
	bucket, key, ok := ParseS3URL(s3URL)
	if !ok {
		return s3URL, nil
	}
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	request, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", s3URL, err)
	}
	return request.URL, nil
}

// ParseS3URL splits a virtual-hosted-style URL
// (https://<bucket>.s3.<region>.amazonaws.com/<key>) into bucket and key.
func ParseS3URL(s3URL string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(s3URL, "https://") {
		return "", "", false
	}
	rest := strings.TrimPrefix(s3URL, "https://")
	host, path, found := strings.Cut(rest, "/")
	if !found || path == "" {
		return "", "", false
	}
	bucket, _, found = strings.Cut(host, ".s3.")
	if !found || bucket == "" {
		return "", "", false
	}
	return bucket, path, true
}
