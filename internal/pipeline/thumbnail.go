package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
)

// thumbnailWriter stores an encoded thumbnail and returns its path.
type thumbnailWriter interface {
	Write(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Thumbnailer downloads a page's preview image (og:image) and stores
// a resized JPEG next to the bookmark record.
type Thumbnailer struct {
	httpClient *http.Client
	writer     thumbnailWriter
	width      int
	maxBytes   int64
}

// NewLocalThumbnailer writes thumbnails under baseDir.
func NewLocalThumbnailer(baseDir string, width int) *Thumbnailer {
	return newThumbnailer(&localThumbStore{baseDir: baseDir}, width)
}

// NewS3Thumbnailer writes thumbnails to an S3 bucket.
func NewS3Thumbnailer(client *s3.Client, bucket string, width int) *Thumbnailer {
	return newThumbnailer(&s3ThumbStore{client: client, bucket: bucket}, width)
}

func newThumbnailer(w thumbnailWriter, width int) *Thumbnailer {
	if width <= 0 {
		width = 320
	}
	return &Thumbnailer{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		writer:     w,
		width:      width,
		maxBytes:   25 * 1024 * 1024,
	}
}

// Make fetches imageURL, scales it to the configured width preserving
// aspect ratio, and stores it keyed by the owning item id.
func (t *Thumbnailer) Make(ctx context.Context, itemID, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download preview image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("download preview image: status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, t.maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read preview image: %w", err)
	}
	if int64(len(data)) > t.maxBytes {
		return "", fmt.Errorf("preview image too large (>%d bytes)", t.maxBytes)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode preview image: %w", err)
	}

	// Height 0 keeps the aspect ratio.
	img = imaging.Resize(img, t.width, 0, imaging.Lanczos)

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	return t.writer.Write(ctx, itemID+".jpg", buf.Bytes(), "image/jpeg")
}

type localThumbStore struct {
	baseDir string
}

func (l *localThumbStore) Write(_ context.Context, key string, body []byte, _ string) (string, error) {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3ThumbStore struct {
	client *s3.Client
	bucket string
}

func (s *s3ThumbStore) Write(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String("thumbnails/" + key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/thumbnails/%s", s.bucket, key), nil
}
