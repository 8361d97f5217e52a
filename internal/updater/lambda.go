package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/runsascoded/awair/internal/awair"
	"github.com/runsascoded/awair/internal/store"
)

// Scheduled invocations configure the handler entirely from the
// environment: AWAIR_TOKEN, AWAIR_DEVICE_TYPE, AWAIR_DEVICE_ID, and
// AWAIR_DATA_PATH (an s3:// URI).

// LambdaResult is the handler's response payload.
type LambdaResult struct {
	Status       string `json:"status"`
	RecordsAdded int    `json:"records_added"`
	TotalRecords int    `json:"total_records"`
	Timestamp    string `json:"timestamp"`
}

// Handler runs one update pass against the S3 dataset.
func Handler(ctx context.Context, _ map[string]any) (*LambdaResult, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	token := os.Getenv("AWAIR_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("AWAIR_TOKEN is required")
	}
	deviceType := os.Getenv("AWAIR_DEVICE_TYPE")
	if deviceType == "" {
		deviceType = "awair-element"
	}
	deviceID, err := strconv.Atoi(os.Getenv("AWAIR_DEVICE_ID"))
	if err != nil {
		return nil, fmt.Errorf("AWAIR_DEVICE_ID must be an integer: %w", err)
	}
	dataPath := os.Getenv("AWAIR_DATA_PATH")
	if !store.IsS3Path(dataPath) {
		return nil, fmt.Errorf("AWAIR_DATA_PATH must be an s3:// path, got %q", dataPath)
	}

	client, err := awair.NewClient(token, deviceType, deviceID, awair.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	s, err := store.OpenParquet(ctx, dataPath, store.ConflictWarn, logger)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}

	added, err := UpdateSession(ctx, client, s, 7, logger)
	if err != nil {
		return nil, err
	}

	// Re-open read-only for the post-update count.
	total := 0
	if check, err := store.OpenParquet(ctx, dataPath, store.ConflictWarn, logger); err == nil {
		total, _ = check.RecordCount(ctx)
		check.Discard()
	}

	logger.Info("update complete", "records_added", added, "total_records", total)
	return &LambdaResult{
		Status:       "success",
		RecordsAdded: added,
		TotalRecords: total,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}
