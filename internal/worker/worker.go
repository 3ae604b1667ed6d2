package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gatherspace/backend/internal/models"
	"github.com/gatherspace/backend/pkg/queue"
	"github.com/gatherspace/backend/pkg/storage"
	"go.uber.org/zap"
)

// MessageStore is the subset of the message repository the archiver
// needs.
type MessageStore interface {
	OlderThan(ctx context.Context, cutoff time.Time) ([]*models.Message, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver processes message archive jobs: snapshot old messages to S3
// as JSON, then bulk delete them. Jobs that fail are retried via the
// queue and land in the DLQ after queue.MaxRetries attempts.
type Archiver struct {
	queue    *queue.Queue
	store    MessageStore
	s3       *storage.S3
	logger   *zap.Logger
	jobsDone int64
}

// NewArchiver creates an archive worker. s3 may be nil; jobs then delete
// without a snapshot.
func NewArchiver(q *queue.Queue, store MessageStore, s3 *storage.S3, logger *zap.Logger) *Archiver {
	return &Archiver{queue: q, store: store, s3: s3, logger: logger}
}

// Run consumes archive jobs until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) {
	a.logger.Info("archive worker started")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archive worker stopping", zap.Int64("jobs_done", a.jobsDone))
			return
		default:
		}

		job, _, err := a.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			a.logger.Error("dequeue failed", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		if err := a.process(ctx, job); err != nil {
			a.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if err := a.queue.Retry(ctx, job); err != nil {
				a.logger.Error("retry failed", zap.String("job_id", job.ID), zap.Error(err))
			}
			continue
		}
		a.jobsDone++
	}
}

func (a *Archiver) process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeMessageArchive:
		var payload queue.MessageArchivePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			a.logger.Warn("dropping job with bad payload", zap.String("job_id", job.ID), zap.Error(err))
			return nil
		}
		return a.archiveMessages(ctx, payload)
	default:
		a.logger.Warn("unknown job type", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		return nil
	}
}

// archiveMessages snapshots everything older than the cutoff to S3 and
// then deletes it. The snapshot must succeed before anything is
// deleted; a failed delete rolls the object back so a retry starts
// clean.
func (a *Archiver) archiveMessages(ctx context.Context, payload queue.MessageArchivePayload) error {
	msgs, err := a.store.OlderThan(ctx, payload.Before)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		a.logger.Info("no messages to archive", zap.Time("before", payload.Before))
		return nil
	}

	var key string
	if a.s3 != nil {
		body, err := json.Marshal(msgs)
		if err != nil {
			return err
		}
		key = storage.ArchiveKey(time.Now())
		url, err := a.s3.UploadJSON(ctx, key, body)
		if err != nil {
			return err
		}
		a.logger.Info("archive uploaded",
			zap.String("url", url),
			zap.Int("messages", len(msgs)))
	}

	count, err := a.store.DeleteOlderThan(ctx, payload.Before)
	if err != nil {
		if a.s3 != nil && key != "" {
			if delErr := a.s3.DeleteObject(ctx, key); delErr != nil {
				a.logger.Warn("archive rollback failed", zap.String("key", key), zap.Error(delErr))
			}
		}
		return err
	}

	a.logger.Info("old messages deleted",
		zap.Int64("count", count),
		zap.Time("before", payload.Before))
	return nil
}
