// Package s3 moves files to and from pre-signed object storage URLs. It
// speaks plain HTTP, so no credentials ever reach the workflow.
package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	Client *http.Client
}

// Input defines the arguments for the 's3' runner.
type Input struct {
	Action string `cty:"action" validate:"oneof=upload download"`
	// Path is the local file read by upload and written by download.
	Path string `cty:"path" validate:"required"`
	// URL is the pre-signed PUT (upload) or GET (download) URL.
	URL string `cty:"url" validate:"required,url"`
}

// handleUpload uploads a file to a pre-signed URL.
func (m *Module) handleUpload(ctx context.Context, input *Input) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx).With("action", "upload")

	file, err := os.Open(input.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file '%s': %w", input.Path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file stats for '%s': %w", input.Path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, input.URL, file)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 upload request: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(input.Path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = stat.Size()

	logger.Info("Uploading file to S3", "source", input.Path, "size", stat.Size(), "contentType", contentType)

	resp, err := m.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute S3 upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("S3 upload failed with status: %s", resp.Status)
	}
	logger.Info("Successfully uploaded file", "status", resp.Status)

	return map[string]any{"status": resp.Status, "bytes": stat.Size()}, nil
}

// handleDownload writes the object behind a pre-signed URL to Path. The
// file only appears once the whole body has arrived.
func (m *Module) handleDownload(ctx context.Context, input *Input) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx).With("action", "download")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 download request: %w", err)
	}
	resp, err := m.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute S3 download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("S3 download failed with status: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(input.Path), ".download-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write '%s': %w", input.Path, err)
	}
	if err := os.Rename(tmp.Name(), input.Path); err != nil {
		return nil, fmt.Errorf("failed to move download into place: %w", err)
	}
	logger.Info("Successfully downloaded file", "destination", input.Path, "size", n)

	return map[string]any{"status": resp.Status, "bytes": n}, nil
}

// OnRunS3 is the handler for the 's3' runner.
func (m *Module) OnRunS3(ctx context.Context, input *Input, upstream map[string]any) (map[string]any, error) {
	switch input.Action {
	case "upload":
		return m.handleUpload(ctx, input)
	case "download":
		return m.handleDownload(ctx, input)
	default:
		return nil, fmt.Errorf("unknown s3 action: '%s'", input.Action)
	}
}

func (m *Module) client() *http.Client {
	if m.Client != nil {
		return m.Client
	}
	return http.DefaultClient
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("s3", &registry.RegisteredRunner{
		NewInput: func() any { return &Input{Action: "upload"} },
		Fn:       m.OnRunS3,
	})
}
