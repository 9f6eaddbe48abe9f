package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeUploadAPI struct {
	puts    []s3.PutObjectInput
	failFor string
}

func (f *fakeUploadAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failFor != "" && strings.Contains(*params.Key, f.failFor) {
		return nil, fmt.Errorf("simulated upload failure")
	}
	f.puts = append(f.puts, *params)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeUploadAPI) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart upload not expected in tests")
}

func (f *fakeUploadAPI) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, fmt.Errorf("multipart upload not expected in tests")
}

func (f *fakeUploadAPI) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart upload not expected in tests")
}

func (f *fakeUploadAPI) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, fmt.Errorf("multipart upload not expected in tests")
}

type fakePresignAPI struct {
	lastBucket string
	lastKey    string
}

func (f *fakePresignAPI) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.lastBucket = *params.Bucket
	f.lastKey = *params.Key
	return &v4.PresignedHTTPRequest{
		URL: fmt.Sprintf("https://%s.s3.amazonaws.com/%s?X-Amz-Signature=abc", *params.Bucket, *params.Key),
	}, nil
}

func newTestClient(upload *fakeUploadAPI, presign *fakePresignAPI) *Client {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return NewClientWithAPI(upload, presign, "test-bucket", "shelves", "ap-southeast-1", func() time.Time { return fixed })
}

func TestProjectFolder(t *testing.T) {
	client := newTestClient(&fakeUploadAPI{}, &fakePresignAPI{})

	folder := client.ProjectFolder(7)
	want := "shelves-7/images_20260301_120000/"
	if folder != want {
		t.Errorf("ProjectFolder = %q, want %q", folder, want)
	}
}

func TestUploadBatch_AllSuccessful(t *testing.T) {
	upload := &fakeUploadAPI{}
	client := newTestClient(upload, &fakePresignAPI{})

	files := []UploadFile{
		{Name: "front.jpg", Content: []byte{0x01}, ContentType: "image/jpeg"},
		{Name: "side.png", Content: []byte{0x02}, ContentType: "image/png"},
	}
	result := client.UploadBatch(context.Background(), 3, files)

	if result.Successful != 2 || result.Failed != 0 {
		t.Fatalf("expected 2 successful / 0 failed, got %d / %d", result.Successful, result.Failed)
	}
	if len(upload.puts) != 2 {
		t.Fatalf("expected 2 PutObject calls, got %d", len(upload.puts))
	}
	if got := *upload.puts[0].Key; got != "shelves-3/images_20260301_120000/image_0001_front.jpg" {
		t.Errorf("unexpected first object key: %q", got)
	}
	wantURL := "https://test-bucket.s3.ap-southeast-1.amazonaws.com/shelves-3/images_20260301_120000/image_0002_side.png"
	if result.Files[1].S3URL != wantURL {
		t.Errorf("unexpected S3 URL: %q", result.Files[1].S3URL)
	}
}

func TestUploadBatch_PartialFailure(t *testing.T) {
	upload := &fakeUploadAPI{failFor: "broken"}
	client := newTestClient(upload, &fakePresignAPI{})

	files := []UploadFile{
		{Name: "good.jpg", Content: []byte{0x01}, ContentType: "image/jpeg"},
		{Name: "broken.jpg", Content: []byte{0x02}, ContentType: "image/jpeg"},
	}
	result := client.UploadBatch(context.Background(), 1, files)

	if result.Successful != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 successful / 1 failed, got %d / %d", result.Successful, result.Failed)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "broken.jpg") {
		t.Errorf("expected error entry for broken.jpg, got %v", result.Errors)
	}
}

func TestPresignGet(t *testing.T) {
	presign := &fakePresignAPI{}
	client := newTestClient(&fakeUploadAPI{}, presign)

	url, err := client.PresignGet(context.Background(),
		"https://test-bucket.s3.ap-southeast-1.amazonaws.com/shelves-1/images_x/a.jpg", time.Minute)
	if err != nil {
		t.Fatalf("PresignGet error: %v", err)
	}
	if presign.lastBucket != "test-bucket" {
		t.Errorf("presign used bucket %q, want test-bucket", presign.lastBucket)
	}
	if presign.lastKey != "shelves-1/images_x/a.jpg" {
		t.Errorf("presign used key %q", presign.lastKey)
	}
	if !strings.Contains(url, "X-Amz-Signature") {
		t.Errorf("expected signed URL, got %q", url)
	}
}

func TestPresignGet_PassthroughForNonS3URLs(t *testing.T) {
	client := newTestClient(&fakeUploadAPI{}, &fakePresignAPI{})

	tests := []string{
		"",
		"http://example.com/a.jpg",
		"https://example.com/no-s3-host.jpg",
	}
	for _, input := range tests {
		got, err := client.PresignGet(context.Background(), input, time.Minute)
		if err != nil {
			t.Fatalf("PresignGet(%q) error: %v", input, err)
		}
		if got != input {
			t.Errorf("PresignGet(%q) = %q, want passthrough", input, got)
		}
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantBucket string
		wantKey    string
		wantOK     bool
	}{
		{
			name:       "virtual hosted style",
			input:      "https://uniben-data.s3.ap-southeast-1.amazonaws.com/folder/img.png",
			wantBucket: "uniben-data",
			wantKey:    "folder/img.png",
			wantOK:     true,
		},
		{
			name:   "not https",
			input:  "s3://bucket/key",
			wantOK: false,
		},
		{
			name:   "no key",
			input:  "https://bucket.s3.region.amazonaws.com/",
			wantOK: false,
		},
		{
			name:   "no s3 host marker",
			input:  "https://cdn.example.com/img.png",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, ok := ParseS3URL(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("got (%q, %q), want (%q, %q)", bucket, key, tt.wantBucket, tt.wantKey)
			}
		})
	}
}
