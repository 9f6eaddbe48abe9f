package validation

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	minDimensionPx = 10
	maxDimensionPx = 10000

	// Batch-size thresholds for the upload advisory.
	smallBatch  = 10
	mediumBatch = 50
	largeBatch  = 200
)

// ImageValidator checks uploaded files against the configured format
// whitelist and size cap, and verifies the content actually decodes.
type ImageValidator struct {
	supportedFormats []string
	maxFileBytes     int64
}

func NewImageValidator(supportedFormats []string, maxFileSizeMB int) *ImageValidator {
	formats := make([]string, len(supportedFormats))
	for i, format := range supportedFormats {
		formats[i] = strings.ToLower(format)
	}
	return &ImageValidator{
		supportedFormats: formats,
		maxFileBytes:     int64(maxFileSizeMB) * 1024 * 1024,
	}
}

// ValidateImage checks a single file. The returned error is suitable
// for showing to the user.
func (v *ImageValidator) ValidateImage(filename string, content []byte) error {
	if filename == "" {
		return fmt.Errorf("invalid file: no filename")
	}

	ext := extension(filename)
	if !v.isSupportedFormat(ext) {
		return fmt.Errorf("unsupported format %q, supported: %s", ext, strings.Join(v.supportedFormats, ", "))
	}

	if int64(len(content)) > v.maxFileBytes {
		return fmt.Errorf("file too large: %.2fMB, max size: %dMB",
			float64(len(content))/(1024*1024), v.maxFileBytes/(1024*1024))
	}

	config, _, err := image.DecodeConfig(bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("invalid image file: %w", err)
	}
	if config.Width < minDimensionPx || config.Height < minDimensionPx {
		return fmt.Errorf("image too small: %dx%dpx", config.Width, config.Height)
	}
	if config.Width > maxDimensionPx || config.Height > maxDimensionPx {
		return fmt.Errorf("image too large: %dx%dpx, max: %dx%dpx",
			config.Width, config.Height, maxDimensionPx, maxDimensionPx)
	}
	return nil
}

// ValidateBatch validates all files and aggregates per-file errors.
// The batch is only accepted when every file is valid.
func (v *ImageValidator) ValidateBatch(files map[string][]byte) error {
	if len(files) == 0 {
		return fmt.Errorf("no images uploaded")
	}

	var errs []string
	for filename, content := range files {
		if err := v.ValidateImage(filename, content); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", filename, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d/%d images invalid:\n%s", len(errs), len(files), strings.Join(errs, "\n"))
	}
	return nil
}

// CheckBatchSize returns whether a batch of the given size should be
// processed and a human-readable recommendation.
func (v *ImageValidator) CheckBatchSize(count int) (bool, string) {
	switch {
	case count == 0:
		return false, "no images to process"
	case count <= smallBatch:
		return true, fmt.Sprintf("small batch: %d images", count)
	case count <= mediumBatch:
		return true, fmt.Sprintf("medium batch: %d images", count)
	case count <= largeBatch:
		return true, fmt.Sprintf("large batch: %d images, may take longer to process", count)
	default:
		return false, fmt.Sprintf("very large batch: %d images, split into batches of at most %d", count, largeBatch)
	}
}

func (v *ImageValidator) isSupportedFormat(ext string) bool {
	for _, format := range v.supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

func extension(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// DetectFormat sniffs the image format from magic bytes. Returns
// "unknown" for anything unrecognized.
func DetectFormat(content []byte) string {
	switch {
	case bytes.HasPrefix(content, []byte{0xff, 0xd8, 0xff}):
		return "jpeg"
	case bytes.HasPrefix(content, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "png"
	case bytes.HasPrefix(content, []byte("GIF87a")), bytes.HasPrefix(content, []byte("GIF89a")):
		return "gif"
	case bytes.HasPrefix(content, []byte("RIFF")) && len(content) >= 12 && bytes.Equal(content[8:12], []byte("WEBP")):
		return "webp"
	default:
		return "unknown"
	}
}

// ContentType maps a sniffed format onto the MIME type used for the
// S3 upload. Unknown content falls back to JPEG, matching how the
// upstream pipeline stores shelf photos.
func ContentType(content []byte) string {
	switch DetectFormat(content) {
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
