package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/robertor4/transcribe-sub002/job"
)

// Logging records start and end of every job with elapsed time.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		logger.Info("job started",
			slog.String("transcription_id", j.TranscriptionID.String()),
			slog.String("user_id", j.UserID),
			slog.Int("attempt", j.Attempt))

		err := next(ctx, j)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("job failed",
				slog.String("transcription_id", j.TranscriptionID.String()),
				slog.Duration("elapsed", elapsed),
				slog.Any("error", err))
			return err
		}
		logger.Info("job finished",
			slog.String("transcription_id", j.TranscriptionID.String()),
			slog.Duration("elapsed", elapsed))
		return nil
	}
}
