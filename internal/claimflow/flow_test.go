package claimflow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/claimgate"
	"github.com/qrcoast/linkdrop/internal/claimlock"
	"github.com/qrcoast/linkdrop/internal/claimtier"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
	"github.com/qrcoast/linkdrop/internal/txexec"
	"github.com/qrcoast/linkdrop/internal/walletpool"
)

func init() {
	// Initialize logger for tests to prevent nil pointer dereference
	_ = logger.Init(logger.WithLevel("error"))
}

type gateFake struct {
	check func(ctx context.Context, req claimgate.Request) (claimgate.Identity, *claimgate.GateError)
}

func (f *gateFake) Check(ctx context.Context, req claimgate.Request) (claimgate.Identity, *claimgate.GateError) {
	if f.check == nil {
		return claimgate.Identity{FID: 42, Address: "0xabc"}, nil
	}
	return f.check(ctx, req)
}

type lockerFake struct {
	acquire func(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	release func(ctx context.Context, key, token string) error

	acquired []string
	released []string
}

func (f *lockerFake) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	f.acquired = append(f.acquired, key)
	if f.acquire == nil {
		return "token-" + key, true, nil
	}
	return f.acquire(ctx, key, ttl)
}

func (f *lockerFake) Release(ctx context.Context, key, token string) error {
	f.released = append(f.released, key)
	if f.release == nil {
		return nil
	}
	return f.release(ctx, key, token)
}

type poolFake struct {
	direct  func(purpose claim.Source) (walletpool.Wallet, bool)
	acquire func(ctx context.Context, purpose claim.Source) (walletpool.Wallet, error)

	released []walletpool.Wallet
}

func (f *poolFake) DirectWallet(purpose claim.Source) (walletpool.Wallet, bool) {
	if f.direct == nil {
		return walletpool.Wallet{}, false
	}
	return f.direct(purpose)
}

func (f *poolFake) Acquire(ctx context.Context, purpose claim.Source) (walletpool.Wallet, error) {
	if f.acquire == nil {
		return walletpool.Wallet{Address: "0xwallet", AirdropContract: "0xcontract", LockKey: "wallet:checkout:x"}, nil
	}
	return f.acquire(ctx, purpose)
}

func (f *poolFake) Release(ctx context.Context, w walletpool.Wallet) error {
	f.released = append(f.released, w)
	return nil
}

type tierFake struct {
	resolve func(ctx context.Context, ident claimtier.Identity, source claim.Source) (claimtier.Resolution, error)
}

func (f *tierFake) Resolve(ctx context.Context, ident claimtier.Identity, source claim.Source) (claimtier.Resolution, error) {
	if f.resolve == nil {
		return claimtier.Resolution{Amount: 100}, nil
	}
	return f.resolve(ctx, ident, source)
}

type executorFake struct {
	execute func(ctx context.Context, req txexec.Request) (string, error)

	requests []txexec.Request
}

func (f *executorFake) ExecuteAirdrop(ctx context.Context, req txexec.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.execute == nil {
		return "0xtx", nil
	}
	return f.execute(ctx, req)
}

type recorderFake struct {
	record    func(ctx context.Context, rec claim.Record) error
	byAddress func(ctx context.Context, address, auctionID string) (*claim.Record, error)
	linkVisit func(ctx context.Context, fid int64, address, auctionID, winningURL string, source claim.Source) error

	recorded []claim.Record
	visits   []string
}

func (f *recorderFake) RecordClaim(ctx context.Context, rec claim.Record) error {
	f.recorded = append(f.recorded, rec)
	if f.record == nil {
		return nil
	}
	return f.record(ctx, rec)
}

func (f *recorderFake) ClaimedByAddress(ctx context.Context, address, auctionID string) (*claim.Record, error) {
	if f.byAddress == nil {
		return nil, nil
	}
	return f.byAddress(ctx, address, auctionID)
}

func (f *recorderFake) RecordLinkVisit(ctx context.Context, fid int64, address, auctionID, winningURL string, source claim.Source) error {
	f.visits = append(f.visits, address)
	if f.linkVisit == nil {
		return nil
	}
	return f.linkVisit(ctx, fid, address, auctionID, winningURL, source)
}

type banWriterFake struct {
	autoBan func(ctx context.Context, ban claim.Ban) error

	bans []claim.Ban
}

func (f *banWriterFake) AutoBan(ctx context.Context, ban claim.Ban) error {
	f.bans = append(f.bans, ban)
	if f.autoBan == nil {
		return nil
	}
	return f.autoBan(ctx, ban)
}

type failureSinkFake struct {
	logFailure func(ctx context.Context, failure claim.Failure) error

	failures []claim.Failure
}

func (f *failureSinkFake) LogFailure(ctx context.Context, failure claim.Failure) error {
	f.failures = append(f.failures, failure)
	if f.logFailure == nil {
		return nil
	}
	return f.logFailure(ctx, failure)
}

type flowFixture struct {
	gate     *gateFake
	locker   *lockerFake
	pool     *poolFake
	tier     *tierFake
	executor *executorFake
	recorder *recorderFake
	bans     *banWriterFake
	failures *failureSinkFake
}

func newFlowFixture() *flowFixture {
	return &flowFixture{
		gate:     new(gateFake),
		locker:   new(lockerFake),
		pool:     new(poolFake),
		tier:     new(tierFake),
		executor: new(executorFake),
		recorder: new(recorderFake),
		bans:     new(banWriterFake),
		failures: new(failureSinkFake),
	}
}

func (f *flowFixture) build(opts ...Option) Service {
	return New(f.gate, f.locker, f.pool, f.tier, f.executor, f.recorder, f.bans, f.failures, opts...)
}

func miniAppRequest() Request {
	return Request{
		Request: claimgate.Request{
			FID:       42,
			Address:   "0xAbC",
			AuctionID: "auction-1",
			Source:    claim.SourceMiniApp,
			ClientIP:  "10.0.0.1",
		},
		WinningURL: "https://example.com",
	}
}

func webRequest() Request {
	return Request{
		Request: claimgate.Request{
			Address:   "0xDeF",
			AuctionID: "auction-1",
			Source:    claim.SourceWeb,
			ClientIP:  "10.0.0.2",
		},
		WinningURL: "https://example.com",
	}
}

func strPtr(s string) *string { return &s }

func TestClaimGateRejection(t *testing.T) {
	t.Run("gate errors pass through with their code and status", func(t *testing.T) {
		f := newFlowFixture()
		f.gate.check = func(_ context.Context, _ claimgate.Request) (claimgate.Identity, *claimgate.GateError) {
			return claimgate.Identity{}, &claimgate.GateError{Code: claim.CodeBannedUser, Status: 403, Message: "nope"}
		}

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.NotNil(t, cerr)
		assert.Equal(t, claim.CodeBannedUser, cerr.Code)
		assert.Equal(t, 403, cerr.Status)
		assert.Empty(t, f.locker.acquired)
	})
}

func TestClaimLocking(t *testing.T) {
	t.Run("mini-app claims lock fid then address", func(t *testing.T) {
		f := newFlowFixture()

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.Nil(t, cerr)

		require.Len(t, f.locker.acquired, 2)
		assert.Equal(t, claimlock.FIDKey(42, "auction-1"), f.locker.acquired[0])
		assert.Equal(t, claimlock.AddressKey("0xabc", "auction-1"), f.locker.acquired[1])
	})

	t.Run("web claims lock address then username", func(t *testing.T) {
		f := newFlowFixture()
		f.gate.check = func(_ context.Context, _ claimgate.Request) (claimgate.Identity, *claimgate.GateError) {
			return claimgate.Identity{FID: -9, Address: "0xdef", Username: strPtr("alice")}, nil
		}

		_, cerr := f.build().Claim(context.Background(), webRequest())
		require.Nil(t, cerr)

		require.Len(t, f.locker.acquired, 2)
		assert.Equal(t, claimlock.AddressKey("0xdef", "auction-1"), f.locker.acquired[0])
		assert.Equal(t, claimlock.UsernameKey("alice", "auction-1"), f.locker.acquired[1])
	})

	t.Run("a contended lock answers claim-in-progress", func(t *testing.T) {
		f := newFlowFixture()
		f.locker.acquire = func(_ context.Context, _ string, _ time.Duration) (string, bool, error) {
			return "", false, nil
		}

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.NotNil(t, cerr)
		assert.Equal(t, claim.CodeClaimInProgress, cerr.Code)
		assert.Equal(t, 429, cerr.Status)
		assert.Empty(t, f.executor.requests)
	})

	t.Run("partially acquired locks are released on contention", func(t *testing.T) {
		f := newFlowFixture()
		f.locker.acquire = func(_ context.Context, key string, _ time.Duration) (string, bool, error) {
			if key == claimlock.FIDKey(42, "auction-1") {
				return "token", true, nil
			}
			return "", false, nil
		}

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.NotNil(t, cerr)
		assert.Equal(t, []string{claimlock.FIDKey(42, "auction-1")}, f.locker.released)
	})

	t.Run("every lock is released after a successful claim", func(t *testing.T) {
		f := newFlowFixture()

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.Nil(t, cerr)
		assert.ElementsMatch(t, f.locker.acquired, f.locker.released)
	})
}

func TestClaimDuplicateRecheck(t *testing.T) {
	t.Run("a claim recorded since the gate check is rejected under lock", func(t *testing.T) {
		now := time.Now()
		f := newFlowFixture()
		f.recorder.byAddress = func(_ context.Context, address, _ string) (*claim.Record, error) {
			return &claim.Record{EthAddress: address, ClaimedAt: &now}, nil
		}

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.NotNil(t, cerr)
		assert.Equal(t, claim.CodeAlreadyClaimed, cerr.Code)
		assert.Equal(t, 403, cerr.Status)
		assert.Empty(t, f.executor.requests)
	})

	t.Run("a bare link-visit row does not block the claim", func(t *testing.T) {
		f := newFlowFixture()
		f.recorder.byAddress = func(_ context.Context, address, _ string) (*claim.Record, error) {
			visited := time.Now()
			return &claim.Record{EthAddress: address, LinkVisitedAt: &visited}, nil
		}

		res, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.Nil(t, cerr)
		assert.Equal(t, "0xtx", res.TxHash)
	})
}

func TestClaimExecution(t *testing.T) {
	t.Run("a successful claim records and returns the hash and amount", func(t *testing.T) {
		f := newFlowFixture()
		f.tier.resolve = func(_ context.Context, ident claimtier.Identity, source claim.Source) (claimtier.Resolution, error) {
			assert.Equal(t, int64(42), ident.FID)
			assert.Equal(t, claim.SourceMiniApp, source)
			return claimtier.Resolution{Amount: 200}, nil
		}

		res, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.Nil(t, cerr)
		assert.Equal(t, "0xtx", res.TxHash)
		assert.Equal(t, int64(200), res.Amount)
		assert.False(t, res.Duplicate)

		require.Len(t, f.executor.requests, 1)
		exec := f.executor.requests[0]
		assert.Equal(t, []string{"0xabc"}, exec.Recipients)
		require.Len(t, exec.Amounts, 1)
		assert.Equal(t, "200000000000000000000", exec.Amounts[0].String())

		require.Len(t, f.recorder.recorded, 1)
		rec := f.recorder.recorded[0]
		assert.Equal(t, int64(200), rec.Amount)
		require.NotNil(t, rec.TxHash)
		assert.Equal(t, "0xtx", *rec.TxHash)
	})

	t.Run("the link visit is recorded before execution", func(t *testing.T) {
		f := newFlowFixture()

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.Nil(t, cerr)
		assert.Equal(t, []string{"0xabc"}, f.recorder.visits)
	})

	t.Run("a failed visit write does not block the claim", func(t *testing.T) {
		f := newFlowFixture()
		f.recorder.linkVisit = func(_ context.Context, _ int64, _, _, _ string, _ claim.Source) error {
			return errors.New("insert failed")
		}

		res, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.Nil(t, cerr)
		assert.Equal(t, "0xtx", res.TxHash)
	})

	t.Run("an exhausted pool fails as retryable with 503", func(t *testing.T) {
		f := newFlowFixture()
		f.pool.acquire = func(_ context.Context, _ claim.Source) (walletpool.Wallet, error) {
			return walletpool.Wallet{}, walletpool.ErrPoolExhausted
		}

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.NotNil(t, cerr)
		assert.Equal(t, claim.CodeWalletPoolExhausted, cerr.Code)
		assert.Equal(t, 503, cerr.Status)

		require.Len(t, f.failures.failures, 1)
		assert.Equal(t, claim.CodeWalletPoolExhausted, f.failures.failures[0].ErrorCode)
	})

	t.Run("a direct wallet bypasses checkout and release", func(t *testing.T) {
		f := newFlowFixture()
		f.pool.direct = func(_ claim.Source) (walletpool.Wallet, bool) {
			return walletpool.Wallet{Address: "0xdirect", AirdropContract: "0xcontract"}, true
		}
		f.pool.acquire = func(_ context.Context, _ claim.Source) (walletpool.Wallet, error) {
			t.Fatal("pool acquire called despite direct wallet")
			return walletpool.Wallet{}, nil
		}

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.Nil(t, cerr)
		assert.Empty(t, f.pool.released)
	})

	t.Run("failure logs capture gas context and network status", func(t *testing.T) {
		f := newFlowFixture()
		f.executor.execute = func(_ context.Context, _ txexec.Request) (string, error) {
			return "", &txexec.ExecError{
				GasPrice: big.NewInt(1_200_000_000),
				GasLimit: 5_000_000,
				Err:      txexec.ErrTxTimeout,
			}
		}

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.NotNil(t, cerr)
		assert.Equal(t, claim.CodeTxTimeout, cerr.Code)

		require.Len(t, f.failures.failures, 1)
		logged := f.failures.failures[0]
		assert.Equal(t, "1200000000", logged.GasPrice)
		assert.Equal(t, "5000000", logged.GasLimit)
		assert.Equal(t, "degraded", logged.NetworkStatus)
	})

	t.Run("pool exhaustion reports a healthy network", func(t *testing.T) {
		f := newFlowFixture()
		f.pool.acquire = func(_ context.Context, _ claim.Source) (walletpool.Wallet, error) {
			return walletpool.Wallet{}, walletpool.ErrPoolExhausted
		}

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.NotNil(t, cerr)

		require.Len(t, f.failures.failures, 1)
		logged := f.failures.failures[0]
		assert.Equal(t, "ok", logged.NetworkStatus)
		assert.Empty(t, logged.GasPrice)
	})

	t.Run("tier resolution failures are unexpected errors", func(t *testing.T) {
		f := newFlowFixture()
		f.tier.resolve = func(_ context.Context, _ claimtier.Identity, _ claim.Source) (claimtier.Resolution, error) {
			return claimtier.Resolution{}, errors.New("neynar down")
		}

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.NotNil(t, cerr)
		assert.Equal(t, claim.CodeUnexpectedError, cerr.Code)
		assert.Empty(t, f.executor.requests)
	})

	t.Run("execution failures are logged to the sink with the mapped code", func(t *testing.T) {
		for _, tc := range []struct {
			err  error
			code claim.Code
		}{
			{err: txexec.ErrApprovalFailed, code: claim.CodeApprovalFailed},
			{err: txexec.ErrInsufficientGas, code: claim.CodeInsufficientGas},
			{err: txexec.ErrInsufficientTokens, code: claim.CodeInsufficientTokens},
			{err: txexec.ErrTxTimeout, code: claim.CodeTxTimeout},
			{err: txexec.ErrExecutionReverted, code: claim.CodeTxFailed},
			{err: errors.New("unclassified"), code: claim.CodeTxFailed},
		} {
			t.Run(string(tc.code), func(t *testing.T) {
				f := newFlowFixture()
				f.executor.execute = func(_ context.Context, _ txexec.Request) (string, error) {
					return "", fmt.Errorf("wrapped: %w", tc.err)
				}

				_, cerr := f.build().Claim(context.Background(), miniAppRequest())
				require.NotNil(t, cerr)
				assert.Equal(t, tc.code, cerr.Code)
				assert.Equal(t, 500, cerr.Status)

				require.Len(t, f.failures.failures, 1)
				failure := f.failures.failures[0]
				assert.Equal(t, tc.code, failure.ErrorCode)
				assert.Equal(t, "0xabc", failure.EthAddress)
				assert.NotContains(t, failure.RequestData, "token")
			})
		}
	})
}

func TestClaimDuplicateRace(t *testing.T) {
	t.Run("losing the insert race succeeds with a warning and auto-ban", func(t *testing.T) {
		f := newFlowFixture()
		f.recorder.record = func(_ context.Context, _ claim.Record) error {
			return ErrDuplicateRecord
		}
		original := "0xoriginal"
		callCount := 0
		f.recorder.byAddress = func(_ context.Context, _, _ string) (*claim.Record, error) {
			callCount++
			if callCount == 1 {
				return nil, nil // the under-lock re-check saw nothing
			}
			now := time.Now()
			return &claim.Record{TxHash: &original, ClaimedAt: &now}, nil
		}

		res, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.Nil(t, cerr)
		assert.True(t, res.Duplicate)
		assert.Equal(t, "0xtx", res.TxHash)
		assert.Equal(t, "0xoriginal", res.OriginalTxHash)
		assert.NotEmpty(t, res.Warning)

		require.Len(t, f.bans.bans, 1)
		ban := f.bans.bans[0]
		assert.True(t, ban.AutoBanned)
		assert.Equal(t, "race_condition_detector", ban.Reason)
		assert.ElementsMatch(t, []string{"0xtx", "0xoriginal"}, ban.DuplicateTransactions)
		assert.Equal(t, []string{"10.0.0.1"}, ban.IPAddresses)
	})

	t.Run("a failed ban write does not fail the response", func(t *testing.T) {
		f := newFlowFixture()
		f.recorder.record = func(_ context.Context, _ claim.Record) error {
			return ErrDuplicateRecord
		}
		f.bans.autoBan = func(_ context.Context, _ claim.Ban) error {
			return errors.New("postgres down")
		}

		res, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.Nil(t, cerr)
		assert.True(t, res.Duplicate)
	})

	t.Run("other recording failures surface the tx hash in the failure log", func(t *testing.T) {
		f := newFlowFixture()
		f.recorder.record = func(_ context.Context, _ claim.Record) error {
			return errors.New("postgres down")
		}

		_, cerr := f.build().Claim(context.Background(), miniAppRequest())
		require.NotNil(t, cerr)
		assert.Equal(t, claim.CodeUnexpectedError, cerr.Code)

		require.Len(t, f.failures.failures, 1)
		require.NotNil(t, f.failures.failures[0].TxHash)
		assert.Equal(t, "0xtx", *f.failures.failures[0].TxHash)
	})
}
