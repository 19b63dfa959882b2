package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// snapshotFiles are the state documents worth archiving.
var snapshotFiles = []string{
	"active_trades.json",
	"trade_stats.json",
	"market_guard.json",
	"cooldowns.json",
}

// Snapshotter periodically copies the on-disk state documents into the object
// store, one prefix per day. Snapshots are an operator convenience; failures
// are logged and retried on the next tick.
type Snapshotter struct {
	client   *Client
	dataDir  string
	interval time.Duration
	logger   *slog.Logger
}

// NewSnapshotter creates a Snapshotter reading documents from dataDir.
// interval <= 0 falls back to one hour.
func NewSnapshotter(client *Client, dataDir string, interval time.Duration, logger *slog.Logger) *Snapshotter {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Snapshotter{
		client:   client,
		dataDir:  dataDir,
		interval: interval,
		logger:   logger.With("component", "snapshotter"),
	}
}

// Run uploads a snapshot immediately and then on every tick until ctx is
// cancelled.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.snapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.snapshot(ctx)
		}
	}
}

// snapshot uploads every state document that exists on disk.
func (s *Snapshotter) snapshot(ctx context.Context) {
	day := time.Now().UTC().Format("2006-01-02")

	for _, name := range snapshotFiles {
		data, err := os.ReadFile(filepath.Join(s.dataDir, name))
		if err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("read state document failed", "file", name, "error", err)
			}
			continue
		}

		key := fmt.Sprintf("snapshots/%s/%s", day, name)
		if err := s.upload(ctx, key, data); err != nil {
			s.logger.Warn("snapshot upload failed", "key", key, "error", err)
			continue
		}
		s.logger.Debug("snapshot uploaded", "key", key, "bytes", len(data))
	}
}

func (s *Snapshotter) upload(ctx context.Context, key string, data []byte) error {
	_, err := s.client.S3().PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.client.Bucket()),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}
