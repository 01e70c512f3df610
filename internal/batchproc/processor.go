// Package batchproc drains the retry queue. A run takes a global lock so
// overlapping scheduler triggers cannot double-spend, pulls due jobs
// oldest first, drops jobs whose identity has since been banned or has
// since claimed, and retries the rest in per-source sub-batches through a
// single grouped airdrop per sub-batch.
package batchproc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/claimlock"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
	"github.com/qrcoast/linkdrop/internal/pkg/types"
	"github.com/qrcoast/linkdrop/internal/retryqueue"
	"github.com/qrcoast/linkdrop/internal/txexec"
	"github.com/qrcoast/linkdrop/internal/walletpool"
)

const (
	// BatchSize is how many claims ride one airdrop transaction.
	BatchSize = 20

	// MaxBatchesPerRun caps a run so a single trigger cannot monopolize
	// the wallets.
	MaxBatchesPerRun = 5

	// batchClaimAmount is the flat per-claim award for retried claims.
	// Retries do not re-run tiering; by the time a claim reaches the
	// queue its eligibility was already verified, and a flat amount keeps
	// the grouped transaction uniform.
	batchClaimAmount = 100

	// runLockTTL bounds a stuck run. Longer than any realistic run so an
	// active one is never preempted.
	runLockTTL = 10 * time.Minute
)

var tokenDecimals = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ErrRunInProgress is returned when another batch run holds the lock.
var ErrRunInProgress = errors.New("batch run already in progress")

// FailureReader loads and deletes the failure rows behind queue jobs.
type FailureReader interface {
	// GetFailure returns the failure row, or nil when it was removed.
	GetFailure(ctx context.Context, id int64) (*claim.Failure, error)

	// DeleteFailure removes a consumed failure row.
	DeleteFailure(ctx context.Context, id int64) error

	// SetRetryCount stores the attempt counter on the failure row so the
	// table reflects retry history, not just the queue job.
	SetRetryCount(ctx context.Context, id int64, count int) error

	// MarkExhausted stamps the failure row with the terminal
	// max-retries-exceeded code.
	MarkExhausted(ctx context.Context, id int64) error
}

// BanChecker answers whether an identity is currently banned.
type BanChecker interface {
	IsBanned(ctx context.Context, fid int64, username *string, address string) (bool, error)
}

// ClaimChecker answers whether an identity has claimed since failing.
type ClaimChecker interface {
	ClaimedByAddress(ctx context.Context, address, auctionID string) (*claim.Record, error)
}

// BatchRecorder upserts the claim rows produced by a successful sub-batch.
type BatchRecorder interface {
	// RecordClaims writes all records, upserting on (fid, auction).
	RecordClaims(ctx context.Context, records []claim.Record) error
}

// BatchResult describes one sub-batch outcome for the run report.
type BatchResult struct {
	Source claim.Source
	Size   int
	TxHash string
	Error  string
}

// Report summarizes a run for the trigger's response.
type Report struct {
	TotalProcessed int
	Successful     int
	Failed         int
	Batches        []BatchResult
}

// Processor executes retry runs.
type Processor interface {
	// Run drains due jobs once. Returns ErrRunInProgress when another run
	// holds the lock.
	Run(ctx context.Context) (Report, error)
}

type processor struct {
	locker   claimlock.Locker
	queue    retryqueue.Queue
	failures FailureReader
	bans     BanChecker
	claims   ClaimChecker
	recorder BatchRecorder
	pool     walletpool.Pool
	executor txexec.Executor
}

var _ Processor = (*processor)(nil)

// New builds the batch processor from its collaborators.
func New(
	locker claimlock.Locker,
	queue retryqueue.Queue,
	failures FailureReader,
	bans BanChecker,
	claims ClaimChecker,
	recorder BatchRecorder,
	pool walletpool.Pool,
	executor txexec.Executor,
) *processor {
	return &processor{
		locker:   locker,
		queue:    queue,
		failures: failures,
		bans:     bans,
		claims:   claims,
		recorder: recorder,
		pool:     pool,
		executor: executor,
	}
}

// Run implements Processor.
func (p *processor) Run(ctx context.Context) (Report, error) {
	token, ok, err := p.locker.Acquire(ctx, claimlock.BatchRunKey(), runLockTTL)
	if err != nil {
		return Report{}, fmt.Errorf("acquiring batch run lock: %w", err)
	}
	if !ok {
		return Report{}, ErrRunInProgress
	}
	defer func() {
		if relErr := p.locker.Release(ctx, claimlock.BatchRunKey(), token); relErr != nil && !errors.Is(relErr, claimlock.ErrNotHeld) {
			logger.Warn(ctx, "failed to release batch run lock", "error", relErr)
		}
	}()

	now := time.Now().UTC()
	jobs, err := p.queue.Due(ctx, now, BatchSize*MaxBatchesPerRun)
	if err != nil {
		return Report{}, fmt.Errorf("fetching due jobs: %w", err)
	}
	if len(jobs) == 0 {
		return Report{}, nil
	}

	logger.Info(ctx, "batch run starting", "due_jobs", len(jobs))

	eligible, err := p.filterJobs(ctx, jobs)
	if err != nil {
		return Report{}, err
	}

	report := Report{TotalProcessed: len(jobs)}

	// One source's failure must not sink the others, so each group runs
	// to completion independently.
	grouped := types.NewDefaultMap[claim.Source](func() []retryqueue.Job { return nil })
	for _, job := range eligible {
		grouped.Set(job.Source, append(grouped.Get(job.Source), job))
	}
	for source, group := range grouped.ToMap() {
		for start := 0; start < len(group); start += BatchSize {
			end := min(start+BatchSize, len(group))
			result := p.runSubBatch(ctx, source, group[start:end])

			report.Batches = append(report.Batches, result)
			if result.Error == "" {
				report.Successful += result.Size
			} else {
				report.Failed += result.Size
			}
		}
	}

	logger.Info(ctx, "batch run finished",
		"processed", report.TotalProcessed,
		"successful", report.Successful,
		"failed", report.Failed,
		"batches", len(report.Batches),
	)
	return report, nil
}

// filterJobs drops jobs whose identity is now banned or has claimed since
// the failure, cleaning up their queue entries and failure rows.
func (p *processor) filterJobs(ctx context.Context, jobs []retryqueue.Job) ([]retryqueue.Job, error) {
	eligible := make([]retryqueue.Job, 0, len(jobs))
	for _, job := range jobs {
		failure, err := p.failures.GetFailure(ctx, job.FailureID)
		if err != nil {
			return nil, fmt.Errorf("loading failure %d: %w", job.FailureID, err)
		}
		if failure == nil {
			// Row already cleaned up; drop the orphaned job.
			p.discard(ctx, job)
			continue
		}

		banned, err := p.bans.IsBanned(ctx, failure.FID, failure.Username, failure.EthAddress)
		if err != nil {
			return nil, fmt.Errorf("checking ban for fid %d: %w", failure.FID, err)
		}
		if banned {
			logger.Info(ctx, "dropping retry for banned identity", "fid", failure.FID, "failure_id", job.FailureID)
			p.park(ctx, job, retryqueue.StatusBannedUser)
			p.deleteFailure(ctx, job.FailureID)
			continue
		}

		existing, err := p.claims.ClaimedByAddress(ctx, failure.EthAddress, failure.AuctionID)
		if err != nil {
			return nil, fmt.Errorf("checking claim for %s: %w", failure.EthAddress, err)
		}
		if existing != nil && existing.Claimed() {
			logger.Info(ctx, "dropping retry for completed claim", "address", failure.EthAddress, "failure_id", job.FailureID)
			p.park(ctx, job, retryqueue.StatusAlreadyClaimed)
			p.deleteFailure(ctx, job.FailureID)
			continue
		}

		eligible = append(eligible, job)
	}
	return eligible, nil
}

// runSubBatch retries one sub-batch through a single grouped airdrop
// signed by one wallet.
func (p *processor) runSubBatch(ctx context.Context, source claim.Source, jobs []retryqueue.Job) BatchResult {
	result := BatchResult{Source: source, Size: len(jobs)}

	for _, job := range jobs {
		if err := p.queue.SetStatus(ctx, job.ID, retryqueue.StatusProcessing); err != nil {
			logger.Warn(ctx, "failed to mark job processing", "job_id", job.ID, "error", err)
		}
	}

	wallet, ok := p.pool.DirectWallet(source)
	if !ok {
		var err error
		wallet, err = p.pool.Acquire(ctx, source)
		if err != nil {
			result.Error = err.Error()
			p.rescheduleAll(ctx, jobs)
			return result
		}
		defer func() {
			if relErr := p.pool.Release(ctx, wallet); relErr != nil {
				logger.Warn(ctx, "failed to release batch wallet", "wallet", wallet.Address, "error", relErr)
			}
		}()
	}

	recipients := make([]string, len(jobs))
	amounts := make([]*big.Int, len(jobs))
	for i, job := range jobs {
		recipients[i] = job.EthAddress
		amounts[i] = new(big.Int).Mul(big.NewInt(batchClaimAmount), tokenDecimals)
	}

	txHash, err := p.executor.ExecuteAirdrop(ctx, txexec.Request{
		Signer:     txexec.Signer{Address: wallet.Address, PrivateKeyHex: wallet.PrivateKeyHex},
		Contract:   wallet.AirdropContract,
		Recipients: recipients,
		Amounts:    amounts,
	})
	if err != nil {
		logger.Error(ctx, "sub-batch airdrop failed", "source", source, "size", len(jobs), "error", err)
		result.Error = err.Error()
		p.rescheduleAll(ctx, jobs)
		return result
	}

	result.TxHash = txHash
	p.finalize(ctx, jobs, txHash)
	return result
}

// finalize records the successful claims and cleans up their jobs and
// failure rows.
func (p *processor) finalize(ctx context.Context, jobs []retryqueue.Job, txHash string) {
	now := time.Now().UTC()
	records := make([]claim.Record, 0, len(jobs))
	for _, job := range jobs {
		failure, err := p.failures.GetFailure(ctx, job.FailureID)
		if err != nil || failure == nil {
			logger.Warn(ctx, "failure row missing at finalize", "failure_id", job.FailureID, "error", err)
			continue
		}
		records = append(records, claim.Record{
			FID:        failure.FID,
			EthAddress: failure.EthAddress,
			AuctionID:  failure.AuctionID,
			Username:   failure.Username,
			UserID:     failure.UserID,
			WinningURL: failure.WinningURL,
			Source:     failure.Source,
			Amount:     batchClaimAmount,
			TxHash:     &txHash,
			ClaimedAt:  &now,
			ClientIP:   failure.ClientIP,
		})
	}

	if err := p.recorder.RecordClaims(ctx, records); err != nil {
		// The airdrop landed; leave the jobs for cleanup rather than
		// rescheduling a retry that would double-pay.
		logger.Error(ctx, "sub-batch executed but recording failed", "tx_hash", txHash, "error", err)
		return
	}

	for _, job := range jobs {
		p.discard(ctx, job)
		p.deleteFailure(ctx, job.FailureID)
	}
}

// rescheduleAll pushes every job in a failed sub-batch to its next slot,
// parking jobs that exhausted their attempts.
func (p *processor) rescheduleAll(ctx context.Context, jobs []retryqueue.Job) {
	now := time.Now().UTC()
	for _, job := range jobs {
		job.Attempt++
		if job.Attempt >= retryqueue.MaxAttempts {
			logger.Info(ctx, "retry attempts exhausted", "job_id", job.ID, "fid", job.FID)
			p.park(ctx, job, retryqueue.StatusMaxRetriesExceeded)
			if err := p.failures.MarkExhausted(ctx, job.FailureID); err != nil {
				logger.Warn(ctx, "failed to mark failure exhausted", "failure_id", job.FailureID, "error", err)
			}
			continue
		}

		job.Status = retryqueue.StatusRetryScheduled
		job.NextRetryAt = now.Add(retryqueue.DelayForAttempt(job.Attempt))
		if err := p.queue.Enqueue(ctx, job); err != nil {
			logger.Error(ctx, "failed to reschedule job", "job_id", job.ID, "error", err)
			continue
		}
		if err := p.failures.SetRetryCount(ctx, job.FailureID, job.Attempt); err != nil {
			logger.Warn(ctx, "failed to update failure retry count", "failure_id", job.FailureID, "error", err)
		}
	}
}

func (p *processor) park(ctx context.Context, job retryqueue.Job, status retryqueue.Status) {
	if err := p.queue.Park(ctx, job.ID, status); err != nil {
		logger.Warn(ctx, "failed to park job", "job_id", job.ID, "status", status, "error", err)
	}
}

func (p *processor) discard(ctx context.Context, job retryqueue.Job) {
	if err := p.queue.Remove(ctx, job.ID); err != nil {
		logger.Warn(ctx, "failed to remove job", "job_id", job.ID, "error", err)
	}
}

func (p *processor) deleteFailure(ctx context.Context, id int64) {
	if err := p.failures.DeleteFailure(ctx, id); err != nil {
		logger.Warn(ctx, "failed to delete failure row", "failure_id", id, "error", err)
	}
}
