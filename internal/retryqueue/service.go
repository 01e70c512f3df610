package retryqueue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
)

const (
	// Deduplication windows. A failure is dropped when a recent one for
	// the same identity facet already exists, so a client hammering the
	// endpoint cannot multiply queue entries.
	usernameRecentWindow = time.Minute
	ipRecentWindow       = 30 * time.Second
)

// FailureStore persists failure rows and answers the deduplication
// queries.
type FailureStore interface {
	// InsertFailure writes the failure and returns its row id.
	InsertFailure(ctx context.Context, failure claim.Failure) (int64, error)

	// FailureExistsForAuctionByUsername reports whether any failure for
	// the username and auction exists.
	FailureExistsForAuctionByUsername(ctx context.Context, username, auctionID string) (bool, error)

	// FailureExistsByUsernameSince reports whether any failure for the
	// username exists after since, across auctions.
	FailureExistsByUsernameSince(ctx context.Context, username string, since time.Time) (bool, error)

	// FailureExistsForAuctionByAddress reports whether any failure for the
	// address and auction exists.
	FailureExistsForAuctionByAddress(ctx context.Context, address, auctionID string) (bool, error)

	// FailureExistsForAuctionByIPSince reports whether any failure from
	// the IP for the auction exists after since.
	FailureExistsForAuctionByIPSince(ctx context.Context, ip, auctionID string, since time.Time) (bool, error)
}

// Service accepts claim failures for retry.
type Service interface {
	// LogFailure persists and enqueues a retryable failure. Non-retryable
	// codes and duplicates of recent failures are dropped silently.
	LogFailure(ctx context.Context, failure claim.Failure) error
}

type service struct {
	store FailureStore
	queue Queue
}

var _ Service = (*service)(nil)

// New builds the failure-logging service.
func New(store FailureStore, queue Queue) *service {
	return &service{store: store, queue: queue}
}

// LogFailure implements Service.
func (s *service) LogFailure(ctx context.Context, failure claim.Failure) error {
	if !failure.ErrorCode.Retryable() {
		logger.Info(ctx, "skipping non-retryable failure",
			"fid", failure.FID,
			"code", failure.ErrorCode,
		)
		return nil
	}

	duplicate, err := s.isDuplicate(ctx, failure)
	if err != nil {
		return fmt.Errorf("checking failure duplicates: %w", err)
	}
	if duplicate {
		logger.Info(ctx, "skipping duplicate failure",
			"fid", failure.FID,
			"address", failure.EthAddress,
			"auction_id", failure.AuctionID,
		)
		return nil
	}

	id, err := s.store.InsertFailure(ctx, failure)
	if err != nil {
		return fmt.Errorf("persisting failure: %w", err)
	}

	now := time.Now().UTC()
	job := Job{
		ID:          strconv.FormatInt(id, 10),
		FailureID:   id,
		FID:         failure.FID,
		EthAddress:  failure.EthAddress,
		AuctionID:   failure.AuctionID,
		Source:      failure.Source,
		Attempt:     failure.RetryCount,
		Status:      StatusQueued,
		NextRetryAt: now.Add(DelayForAttempt(failure.RetryCount + 1)),
		CreatedAt:   now,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueueing retry job: %w", err)
	}

	logger.Info(ctx, "claim failure queued for retry",
		"failure_id", id,
		"fid", failure.FID,
		"code", failure.ErrorCode,
		"next_retry_at", job.NextRetryAt,
	)
	return nil
}

// isDuplicate runs the four identity-facet checks concurrently and
// reports whether any of them matched.
func (s *service) isDuplicate(ctx context.Context, failure claim.Failure) (bool, error) {
	now := time.Now().UTC()

	checks := []func(context.Context) (bool, error){
		func(ctx context.Context) (bool, error) {
			return s.store.FailureExistsForAuctionByAddress(ctx, failure.EthAddress, failure.AuctionID)
		},
		func(ctx context.Context) (bool, error) {
			return s.store.FailureExistsForAuctionByIPSince(ctx, failure.ClientIP, failure.AuctionID, now.Add(-ipRecentWindow))
		},
	}
	if failure.Username != nil && *failure.Username != "" {
		username := *failure.Username
		checks = append(checks,
			func(ctx context.Context) (bool, error) {
				return s.store.FailureExistsForAuctionByUsername(ctx, username, failure.AuctionID)
			},
			func(ctx context.Context) (bool, error) {
				return s.store.FailureExistsByUsernameSince(ctx, username, now.Add(-usernameRecentWindow))
			},
		)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		found   bool
		firstEr error
	)
	for _, check := range checks {
		wg.Add(1)
		go func(check func(context.Context) (bool, error)) {
			defer wg.Done()
			exists, err := check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstEr == nil {
				firstEr = err
			}
			if exists {
				found = true
			}
		}(check)
	}
	wg.Wait()

	return found, firstEr
}
