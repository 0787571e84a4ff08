package ingestion

import (
	"context"
	"io"
	"strings"

	sentinelerrors "cybervision-siem/internal/errors"

	"github.com/nxadm/tail"
	"go.uber.org/zap"
)

// LineFunc handles one complete line. offset is the position just past it.
// Returning an error stops the follower.
type LineFunc func(ctx context.Context, line string, offset int64) error

// FollowerConfig configures a Follower.
type FollowerConfig struct {
	// Path is the alert log to follow.
	Path string
	// Offset is where to start reading.
	Offset int64
	// Poll uses stat polling instead of inotify.
	Poll bool
	// Logger is the logger instance.
	Logger *zap.Logger
}

// Follower keeps the alert log open and delivers lines as they are appended,
// reopening the file when it is rotated.
type Follower struct {
	config FollowerConfig
	logger *zap.Logger
}

// NewFollower creates a follower.
func NewFollower(cfg FollowerConfig) *Follower {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Offset < 0 {
		cfg.Offset = 0
	}
	return &Follower{
		config: cfg,
		logger: logger.With(zap.String("component", "follower"), zap.String("path", cfg.Path)),
	}
}

// Follow blocks, calling fn for each complete line, until ctx is cancelled
// or fn returns an error. Cancellation is not an error.
func (f *Follower) Follow(ctx context.Context, fn LineFunc) error {
	t, err := tail.TailFile(f.config.Path, tail.Config{
		Location:  &tail.SeekInfo{Offset: f.config.Offset, Whence: io.SeekStart},
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      f.config.Poll,
		// Hold back a trailing fragment until its newline arrives.
		CompleteLines: true,
		Logger:        tail.DiscardingLogger,
	})
	if err != nil {
		return sentinelerrors.NewSourceReadError(f.config.Path, f.config.Offset, err)
	}
	defer func() {
		_ = t.Stop()
		t.Cleanup()
	}()

	f.logger.Info("follow_started", zap.Int64("offset", f.config.Offset))

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("follow_stopped")
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				if err := t.Err(); err != nil {
					return sentinelerrors.NewSourceReadError(f.config.Path, f.config.Offset, err)
				}
				return nil
			}
			if line.Err != nil {
				f.logger.Warn("follow_line_error", zap.Error(line.Err))
				continue
			}
			if err := fn(ctx, strings.TrimSpace(line.Text), line.SeekInfo.Offset); err != nil {
				return err
			}
		}
	}
}
