// Package attach uploads locally selected files to object storage before the
// referencing message is emitted.
package attach

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

var (
	// ErrTooLarge means the file exceeds the size ceiling. Raised before any
	// network call.
	ErrTooLarge = errors.New("attachment too large")
	// ErrUpload means the object-storage endpoint rejected the upload.
	ErrUpload = errors.New("attachment upload failed")
)

// File is a staged local file: its bytes, name and declared message kind
// ("file" or "image").
type File struct {
	Name string
	Kind string
	Data []byte
}

// Pipeline uploads files with a fixed upload profile and resolves the
// retrieval URL. No internal retry: the caller re-invokes send() to retry.
type Pipeline struct {
	endpoint string
	preset   string
	maxBytes int64
	http     *http.Client
	logger   *zap.Logger
}

// NewPipeline creates an attachment pipeline for the given endpoint and
// upload preset. maxBytes is the size ceiling.
func NewPipeline(endpoint, preset string, maxBytes int64, timeout time.Duration, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		endpoint: endpoint,
		preset:   preset,
		maxBytes: maxBytes,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Upload performs the multipart upload and returns the retrieval URL.
func (p *Pipeline) Upload(ctx context.Context, f File) (string, error) {
	if int64(len(f.Data)) > p.maxBytes {
		return "", fmt.Errorf("%w: %d bytes (ceiling %d)", ErrTooLarge, len(f.Data), p.maxBytes)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
	header.Set("Content-Type", mimetype.Detect(f.Data).String())
	part, err := w.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if err := w.WriteField("upload_preset", p.preset); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.logger.Warn("upload rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("file", f.Name),
			zap.ByteString("body", body))
		return "", fmt.Errorf("%w: status %d", ErrUpload, resp.StatusCode)
	}

	var out struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpload, err)
	}
	url := out.SecureURL
	if url == "" {
		url = out.URL
	}
	if url == "" {
		return "", fmt.Errorf("%w: response carries no retrieval URL", ErrUpload)
	}

	p.logger.Info("attachment uploaded", zap.String("file", f.Name), zap.Int("bytes", len(f.Data)))
	return url, nil
}
