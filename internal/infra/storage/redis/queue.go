package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
	"github.com/qrcoast/linkdrop/internal/retryqueue"
)

// retryKeyPrefix is the namespace prefix for the retry scheduling system.
const retryKeyPrefix = "claim:retry"

// retryScheduleKey is the sorted set holding job ids scored by their
// next-retry time. Due jobs are read with a bounded score-range query, so
// the schedule never requires scanning the key space.
func retryScheduleKey() string {
	return fmt.Sprintf("%s:schedule", retryKeyPrefix)
}

// retryJobKey returns the hash key holding one job's metadata.
//
// Format: "claim:retry:job:{id}"
func retryJobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", retryKeyPrefix, jobID)
}

// Enqueue implements the retryqueue.Queue interface. The job metadata and
// its schedule entry are written in one pipeline; re-enqueueing an
// existing id reschedules it.
func (c *client) Enqueue(ctx context.Context, job retryqueue.Job) error {
	pipe := c.conn.TxPipeline()
	pipe.HSet(ctx, retryJobKey(job.ID), map[string]any{
		"failure_id":    job.FailureID,
		"fid":           job.FID,
		"eth_address":   job.EthAddress,
		"auction_id":    job.AuctionID,
		"source":        string(job.Source),
		"attempt":       job.Attempt,
		"status":        string(job.Status),
		"next_retry_at": job.NextRetryAt.Unix(),
		"created_at":    job.CreatedAt.Unix(),
	})
	pipe.ZAdd(ctx, retryScheduleKey(), redis.Z{
		Score:  float64(job.NextRetryAt.Unix()),
		Member: job.ID,
	})

	_, err := pipe.Exec(ctx)
	return err
}

// Due implements the retryqueue.Queue interface. It reads up to limit job
// ids whose score is at or before now, oldest first, and hydrates each
// from its metadata hash. Ids whose hash has vanished are dropped from
// the schedule.
func (c *client) Due(ctx context.Context, now time.Time, limit int) ([]retryqueue.Job, error) {
	ids, err := c.conn.ZRangeByScore(ctx, retryScheduleKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]retryqueue.Job, 0, len(ids))
	for _, id := range ids {
		fields, err := c.conn.HGetAll(ctx, retryJobKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			logger.Warn(ctx, "dropping schedule entry without metadata", "job_id", id)
			if err := c.conn.ZRem(ctx, retryScheduleKey(), id).Err(); err != nil {
				return nil, err
			}
			continue
		}

		jobs = append(jobs, hydrateJob(id, fields))
	}

	return jobs, nil
}

// SetStatus implements the retryqueue.Queue interface.
func (c *client) SetStatus(ctx context.Context, jobID string, status retryqueue.Status) error {
	return c.conn.HSet(ctx, retryJobKey(jobID), "status", string(status)).Err()
}

// Park implements the retryqueue.Queue interface: the job leaves the
// schedule but its metadata stays under the terminal status.
func (c *client) Park(ctx context.Context, jobID string, status retryqueue.Status) error {
	pipe := c.conn.TxPipeline()
	pipe.ZRem(ctx, retryScheduleKey(), jobID)
	pipe.HSet(ctx, retryJobKey(jobID), "status", string(status))

	_, err := pipe.Exec(ctx)
	return err
}

// Remove implements the retryqueue.Queue interface, deleting both the
// schedule entry and the metadata hash.
func (c *client) Remove(ctx context.Context, jobID string) error {
	pipe := c.conn.TxPipeline()
	pipe.ZRem(ctx, retryScheduleKey(), jobID)
	pipe.Del(ctx, retryJobKey(jobID))

	_, err := pipe.Exec(ctx)
	return err
}

// hydrateJob rebuilds a job from its hash fields. Malformed numeric
// fields decode to their zero values rather than failing the whole run.
func hydrateJob(id string, fields map[string]string) retryqueue.Job {
	failureID, _ := strconv.ParseInt(fields["failure_id"], 10, 64)
	fid, _ := strconv.ParseInt(fields["fid"], 10, 64)
	attempt, _ := strconv.Atoi(fields["attempt"])
	nextRetryAt, _ := strconv.ParseInt(fields["next_retry_at"], 10, 64)
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	return retryqueue.Job{
		ID:          id,
		FailureID:   failureID,
		FID:         fid,
		EthAddress:  fields["eth_address"],
		AuctionID:   fields["auction_id"],
		Source:      claim.Source(fields["source"]),
		Attempt:     attempt,
		Status:      retryqueue.Status(fields["status"]),
		NextRetryAt: time.Unix(nextRetryAt, 0).UTC(),
		CreatedAt:   time.Unix(createdAt, 0).UTC(),
	}
}

// Compile-time assertion to ensure *client satisfies the retryqueue.Queue interface
var _ retryqueue.Queue = new(client)
