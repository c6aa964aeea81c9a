package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Exporter streams a run's records into a blob store.
type Exporter struct {
	store  crawler.BlobStore
	format Format
	prefix string
	logger *zap.Logger
}

// NewExporter constructs an Exporter writing under prefix/<run_id>/records.<ext>.
func NewExporter(store crawler.BlobStore, format Format, prefix string, logger *zap.Logger) (*Exporter, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		store:  store,
		format: format,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}, nil
}

// ObjectPath returns where runID's export is written.
func (e *Exporter) ObjectPath(runID string) string {
	name := "records." + e.format.Extension()
	if e.prefix == "" {
		return path.Join(runID, name)
	}
	return path.Join(e.prefix, runID, name)
}

// Export encodes the run and returns the stored object's URI.
func (e *Exporter) Export(ctx context.Context, result crawler.RunResult) (string, error) {
	if result.RunID == "" {
		return "", errors.New("run id is required")
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(Encode(pw, e.format, result.Records))
	}()

	objectPath := e.ObjectPath(result.RunID)
	uri, err := e.store.PutObject(ctx, objectPath, e.format.ContentType(), pr)
	// Unblock the encoder if the store stopped reading early.
	_ = pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return "", fmt.Errorf("export run %s: %w", result.RunID, err)
	}
	e.logger.Info("run exported",
		zap.String("run_id", result.RunID),
		zap.String("uri", uri),
		zap.Int("records", len(result.Records)),
	)
	return uri, nil
}
