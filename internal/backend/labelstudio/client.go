package labelstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	syncTimeout    = 60 * time.Second

	// imageRegexFilter restricts storage sync to the image formats the
	// dashboard accepts.
	imageRegexFilter = `.*\.(jpg|jpeg|png)$`
)

// ErrUnauthorized indicates a rejected API token.
var ErrUnauthorized = errors.New("label studio authentication failed, check the API token")

type Project struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	TaskNumber  int    `json:"task_number"`
	CreatedAt   string `json:"created_at"`
}

type StorageConnection struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
}

type SyncResult struct {
	StorageID int `json:"storage_id"`
	TaskCount int `json:"task_count"`
}

// AWSCredentials are handed to Label Studio so it can presign task
// URLs itself. Empty credentials are omitted from the storage config.
type AWSCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

type Client struct {
	baseURL    string
	apiToken   string
	bucket     string
	region     string
	creds      AWSCredentials
	httpClient *http.Client
}

func NewClient(baseURL, apiToken, bucket, region string, creds AWSCredentials) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		bucket:   bucket,
		region:   region,
		creds:    creds,
		// No client-wide timeout: do() sets a per-request deadline, and
		// a sync gets a longer budget than the default.
		httpClient: &http.Client{},
	}
}

// Projects lists all Label Studio projects. The API returns either a
// bare array or a paginated object with a "results" field depending on
// the server version; both shapes are handled.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/projects", nil, defaultTimeout)
	if err != nil {
		return nil, err
	}

	var projects []Project
	if err := json.Unmarshal(body, &projects); err == nil {
		return projects, nil
	}
	var paginated struct {
		Results []Project `json:"results"`
	}
	if err := json.Unmarshal(body, &paginated); err != nil {
		return nil, fmt.Errorf("failed to decode project list: %w", err)
	}
	return paginated.Results, nil
}

func (c *Client) Project(ctx context.Context, projectID int) (*Project, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/projects/%d", projectID), nil, defaultTimeout)
	if err != nil {
		return nil, err
	}
	var project Project
	if err := json.Unmarshal(body, &project); err != nil {
		return nil, fmt.Errorf("failed to decode project %d: %w", projectID, err)
	}
	return &project, nil
}

// CreateS3Storage registers an S3 folder as a source storage for the
// given project so its images can be imported as annotation tasks.
func (c *Client) CreateS3Storage(ctx context.Context, projectID int, folder string) (*StorageConnection, error) {
	config := map[string]any{
		"title":         fmt.Sprintf("S3 Storage - Project %d", projectID),
		"bucket":        c.bucket,
		"prefix":        folder,
		"region_name":   c.region,
		"project":       projectID,
		"use_blob_urls": true,
		"regex_filter":  imageRegexFilter,
		"presign":       true,
		"presign_ttl":   3600,
	}
	if c.creds.AccessKeyID != "" && c.creds.SecretAccessKey != "" {
		config["aws_access_key_id"] = c.creds.AccessKeyID
		config["aws_secret_access_key"] = c.creds.SecretAccessKey
	}

	body, err := c.do(ctx, http.MethodPost, "/api/storages/s3", config, defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 storage for project %d: %w", projectID, err)
	}
	var storage StorageConnection
	if err := json.Unmarshal(body, &storage); err != nil {
		return nil, fmt.Errorf("failed to decode storage response: %w", err)
	}
	slog.Info("created label studio S3 storage", "storage_id", storage.ID, "project_id", projectID, "prefix", folder)
	return &storage, nil
}

// SyncStorage triggers a sync of the storage connection, importing any
// new objects as tasks. Sync can take a while on large folders, hence
// the longer timeout.
func (c *Client) SyncStorage(ctx context.Context, storageID int) (*SyncResult, error) {
	body, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/storages/s3/%d/sync", storageID), nil, syncTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to sync S3 storage %d: %w", storageID, err)
	}
	var sync struct {
		TaskCount int `json:"task_count"`
	}
	if err := json.Unmarshal(body, &sync); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	slog.Info("synced label studio storage", "storage_id", storageID, "task_count", sync.TaskCount)
	return &SyncResult{StorageID: storageID, TaskCount: sync.TaskCount}, nil
}

func (c *Client) StorageConnections(ctx context.Context, projectID int) ([]StorageConnection, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/storages/s3?project=%d", projectID), nil, defaultTimeout)
	if err != nil {
		return nil, err
	}
	var connections []StorageConnection
	if err := json.Unmarshal(body, &connections); err != nil {
		return nil, fmt.Errorf("failed to decode storage connections: %w", err)
	}
	return connections, nil
}

// ValidateConnection checks reachability and token validity in one call.
func (c *Client) ValidateConnection(ctx context.Context) error {
	_, err := c.Projects(ctx)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any, timeout time.Duration) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("label studio request timed out, check the server at %s: %w", c.baseURL, err)
		}
		return nil, fmt.Errorf("label studio connection failed, check LABEL_STUDIO_URL: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read label studio response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("label studio API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
