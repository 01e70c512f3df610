package claimgate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
)

func init() {
	// Initialize logger for tests to prevent nil pointer dereference
	_ = logger.Init(logger.WithLevel("error"))
}

type rateLimiterFake struct {
	hit func(ctx context.Context, key string, window time.Duration) (int64, error)
}

func (f *rateLimiterFake) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	if f.hit == nil {
		return 1, nil
	}
	return f.hit(ctx, key, window)
}

type claimReaderFake struct {
	byAddress    func(ctx context.Context, address, auctionID string) (*claim.Record, error)
	byFID        func(ctx context.Context, fid int64, auctionID string) (*claim.Record, error)
	byUsername   func(ctx context.Context, username, auctionID string) (*claim.Record, error)
	countAuction func(ctx context.Context, ip, auctionID string) (int, error)
	countSince   func(ctx context.Context, ip string, since time.Time) (int, error)
}

func (f *claimReaderFake) ClaimedByAddress(ctx context.Context, address, auctionID string) (*claim.Record, error) {
	if f.byAddress == nil {
		return nil, nil
	}
	return f.byAddress(ctx, address, auctionID)
}

func (f *claimReaderFake) ClaimedByFID(ctx context.Context, fid int64, auctionID string) (*claim.Record, error) {
	if f.byFID == nil {
		return nil, nil
	}
	return f.byFID(ctx, fid, auctionID)
}

func (f *claimReaderFake) ClaimedByUsername(ctx context.Context, username, auctionID string) (*claim.Record, error) {
	if f.byUsername == nil {
		return nil, nil
	}
	return f.byUsername(ctx, username, auctionID)
}

func (f *claimReaderFake) CountClaimsByIPForAuction(ctx context.Context, ip, auctionID string) (int, error) {
	if f.countAuction == nil {
		return 0, nil
	}
	return f.countAuction(ctx, ip, auctionID)
}

func (f *claimReaderFake) CountClaimsByIPSince(ctx context.Context, ip string, since time.Time) (int, error) {
	if f.countSince == nil {
		return 0, nil
	}
	return f.countSince(ctx, ip, since)
}

type banReaderFake struct {
	find   func(ctx context.Context, fid int64, usernameVariants []string, address string) (*claim.Ban, error)
	record func(ctx context.Context, fid int64, ip string) error

	recorded []string
}

func (f *banReaderFake) FindBan(ctx context.Context, fid int64, usernameVariants []string, address string) (*claim.Ban, error) {
	if f.find == nil {
		return nil, nil
	}
	return f.find(ctx, fid, usernameVariants, address)
}

func (f *banReaderFake) RecordBlockedAttempt(ctx context.Context, fid int64, ip string) error {
	f.recorded = append(f.recorded, ip)
	if f.record == nil {
		return nil
	}
	return f.record(ctx, fid, ip)
}

type winnerReaderFake struct {
	latest func(ctx context.Context) (*claim.Winner, error)
}

func (f *winnerReaderFake) LatestWinner(ctx context.Context) (*claim.Winner, error) {
	if f.latest == nil {
		return &claim.Winner{AuctionID: "auction-1"}, nil
	}
	return f.latest(ctx)
}

type miniAppVerifierFake struct {
	verify func(ctx context.Context, token string) (MiniAppIdentity, error)
}

func (f *miniAppVerifierFake) VerifyToken(ctx context.Context, token string) (MiniAppIdentity, error) {
	return f.verify(ctx, token)
}

type webVerifierFake struct {
	verify func(ctx context.Context, token string) (WebIdentity, error)
}

func (f *webVerifierFake) VerifyToken(ctx context.Context, token string) (WebIdentity, error) {
	return f.verify(ctx, token)
}

type ownershipVerifierFake struct {
	verify func(ctx context.Context, fid int64, address, walletHint string) (bool, error)
}

func (f *ownershipVerifierFake) VerifyAddressOwnership(ctx context.Context, fid int64, address, walletHint string) (bool, error) {
	if f.verify == nil {
		return true, nil
	}
	return f.verify(ctx, fid, address, walletHint)
}

type gateFixture struct {
	rate      *rateLimiterFake
	claims    *claimReaderFake
	bans      *banReaderFake
	winners   *winnerReaderFake
	miniApp   *miniAppVerifierFake
	web       *webVerifierFake
	ownership *ownershipVerifierFake
}

func newGateFixture() *gateFixture {
	return &gateFixture{
		rate:    new(rateLimiterFake),
		claims:  new(claimReaderFake),
		bans:    new(banReaderFake),
		winners: new(winnerReaderFake),
		miniApp: &miniAppVerifierFake{
			verify: func(_ context.Context, _ string) (MiniAppIdentity, error) {
				return MiniAppIdentity{FID: 42, Address: "0xabc"}, nil
			},
		},
		web: &webVerifierFake{
			verify: func(_ context.Context, _ string) (WebIdentity, error) {
				return WebIdentity{UserID: "privy-1", TwitterUsername: "alice"}, nil
			},
		},
		ownership: new(ownershipVerifierFake),
	}
}

func (f *gateFixture) build(opts ...Option) Service {
	return New(f.rate, f.claims, f.bans, f.winners, f.miniApp, f.web, f.ownership, opts...)
}

func miniAppRequest() Request {
	return Request{
		FID:          42,
		Address:      "0xAbC",
		AuctionID:    "auction-1",
		Source:       claim.SourceMiniApp,
		ClientIP:     "10.0.0.1",
		MiniAppToken: "token",
	}
}

func webRequest() Request {
	return Request{
		Address:    "0xDeF",
		AuctionID:  "auction-1",
		Source:     claim.SourceWeb,
		ClientIP:   "10.0.0.2",
		PrivyToken: "privy-token",
	}
}

func TestCheckRequestShape(t *testing.T) {
	t.Run("rejects an unknown source", func(t *testing.T) {
		req := miniAppRequest()
		req.Source = "desktop"

		_, gerr := newGateFixture().build().Check(context.Background(), req)
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeInvalidClaimSource, gerr.Code)
		assert.Equal(t, 400, gerr.Status)
	})

	t.Run("rejects a missing address", func(t *testing.T) {
		req := miniAppRequest()
		req.Address = ""

		_, gerr := newGateFixture().build().Check(context.Background(), req)
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeMissingParameters, gerr.Code)
	})

	t.Run("rejects a missing auction id", func(t *testing.T) {
		req := miniAppRequest()
		req.AuctionID = ""

		_, gerr := newGateFixture().build().Check(context.Background(), req)
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeMissingParameters, gerr.Code)
	})
}

func TestCheckRateLimit(t *testing.T) {
	t.Run("web traffic is limited to two hits per window", func(t *testing.T) {
		f := newGateFixture()
		f.rate.hit = func(_ context.Context, key string, window time.Duration) (int64, error) {
			assert.Equal(t, "claim:rate:web:10.0.0.2", key)
			assert.Equal(t, time.Minute, window)
			return 3, nil
		}

		_, gerr := f.build().Check(context.Background(), webRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeIPRateLimited, gerr.Code)
		assert.Equal(t, 429, gerr.Status)
	})

	t.Run("mini-app traffic gets the higher limit", func(t *testing.T) {
		f := newGateFixture()
		f.rate.hit = func(_ context.Context, _ string, _ time.Duration) (int64, error) {
			return 3, nil
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		assert.Nil(t, gerr)
	})

	t.Run("the fourth mini-app hit is rejected", func(t *testing.T) {
		f := newGateFixture()
		f.rate.hit = func(_ context.Context, _ string, _ time.Duration) (int64, error) {
			return 4, nil
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeIPRateLimited, gerr.Code)
	})

	t.Run("limiter failures surface as unexpected errors", func(t *testing.T) {
		f := newGateFixture()
		f.rate.hit = func(_ context.Context, _ string, _ time.Duration) (int64, error) {
			return 0, errors.New("redis down")
		}

		_, gerr := f.build().Check(context.Background(), webRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeUnexpectedError, gerr.Code)
		assert.Equal(t, 500, gerr.Status)
	})
}

func TestCheckIPQuotas(t *testing.T) {
	t.Run("per-auction quota blocks the third claim from one IP", func(t *testing.T) {
		f := newGateFixture()
		f.claims.countAuction = func(_ context.Context, ip, auctionID string) (int, error) {
			assert.Equal(t, "10.0.0.2", ip)
			assert.Equal(t, "auction-1", auctionID)
			return 3, nil
		}

		_, gerr := f.build().Check(context.Background(), webRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeIPAuctionLimit, gerr.Code)
		assert.Equal(t, 429, gerr.Status)
	})

	t.Run("daily quota blocks the sixth claim from one IP", func(t *testing.T) {
		f := newGateFixture()
		f.claims.countSince = func(_ context.Context, _ string, since time.Time) (int, error) {
			assert.WithinDuration(t, time.Now().Add(-24*time.Hour), since, time.Minute)
			return 5, nil
		}

		_, gerr := f.build().Check(context.Background(), webRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeIPDailyLimit, gerr.Code)
	})

	t.Run("mini-app claims skip the IP quotas entirely", func(t *testing.T) {
		f := newGateFixture()
		f.claims.countAuction = func(_ context.Context, _, _ string) (int, error) {
			t.Fatal("per-auction quota consulted for mini-app claim")
			return 0, nil
		}
		f.claims.countSince = func(_ context.Context, _ string, _ time.Time) (int, error) {
			t.Fatal("daily quota consulted for mini-app claim")
			return 0, nil
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		assert.Nil(t, gerr)
	})
}

func TestCheckDuplicatePreCheck(t *testing.T) {
	t.Run("a completed claim for the address is terminal", func(t *testing.T) {
		now := time.Now()
		f := newGateFixture()
		f.claims.byAddress = func(_ context.Context, address, auctionID string) (*claim.Record, error) {
			assert.Equal(t, "0xdef", address) // lowercased before lookup
			return &claim.Record{EthAddress: address, AuctionID: auctionID, ClaimedAt: &now}, nil
		}

		_, gerr := f.build().Check(context.Background(), webRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeAlreadyClaimed, gerr.Code)
		assert.Equal(t, 400, gerr.Status)
	})

	t.Run("a completed claim for the authenticated fid is terminal", func(t *testing.T) {
		now := time.Now()
		f := newGateFixture()
		f.claims.byFID = func(_ context.Context, fid int64, auctionID string) (*claim.Record, error) {
			assert.Equal(t, int64(42), fid)
			return &claim.Record{FID: fid, AuctionID: auctionID, ClaimedAt: &now}, nil
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeAlreadyClaimed, gerr.Code)
		assert.Equal(t, 400, gerr.Status)
	})

	t.Run("a completed claim for the verified username is terminal", func(t *testing.T) {
		now := time.Now()
		f := newGateFixture()
		f.claims.byUsername = func(_ context.Context, username, auctionID string) (*claim.Record, error) {
			assert.Equal(t, "alice", username)
			return &claim.Record{AuctionID: auctionID, ClaimedAt: &now}, nil
		}

		_, gerr := f.build().Check(context.Background(), webRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeAlreadyClaimed, gerr.Code)
	})

	t.Run("a synthetic fid is never looked up by fid", func(t *testing.T) {
		f := newGateFixture()
		f.claims.byFID = func(_ context.Context, _ int64, _ string) (*claim.Record, error) {
			t.Error("ClaimedByFID consulted for a synthetic fid")
			return nil, nil
		}

		req := webRequest()
		req.AuctionID = "auction-2" // miss auction freshness so the run stays cheap
		_, gerr := f.build().Check(context.Background(), req)
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeInvalidAuction, gerr.Code)
	})
}

func TestCheckAuthentication(t *testing.T) {
	t.Run("mini-app without a token fails", func(t *testing.T) {
		req := miniAppRequest()
		req.MiniAppToken = ""

		_, gerr := newGateFixture().build().Check(context.Background(), req)
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeAuthFailed, gerr.Code)
		assert.Equal(t, 401, gerr.Status)
	})

	t.Run("mini-app with a rejected token fails", func(t *testing.T) {
		f := newGateFixture()
		f.miniApp.verify = func(_ context.Context, _ string) (MiniAppIdentity, error) {
			return MiniAppIdentity{}, errors.New("bad signature")
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeAuthFailed, gerr.Code)
	})

	t.Run("mini-app token fid must match the request", func(t *testing.T) {
		f := newGateFixture()
		f.miniApp.verify = func(_ context.Context, _ string) (MiniAppIdentity, error) {
			return MiniAppIdentity{FID: 99, Address: "0xabc"}, nil
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeAuthFailed, gerr.Code)
	})

	t.Run("mini-app token address match is case-insensitive", func(t *testing.T) {
		f := newGateFixture()
		f.miniApp.verify = func(_ context.Context, _ string) (MiniAppIdentity, error) {
			return MiniAppIdentity{FID: 42, Address: "0xABC"}, nil
		}

		ident, gerr := f.build().Check(context.Background(), miniAppRequest())
		require.Nil(t, gerr)
		assert.Equal(t, int64(42), ident.FID)
		assert.Equal(t, "0xabc", ident.Address)
	})

	t.Run("web without a Privy token fails", func(t *testing.T) {
		req := webRequest()
		req.PrivyToken = ""

		_, gerr := newGateFixture().build().Check(context.Background(), req)
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeAuthFailed, gerr.Code)
		assert.Equal(t, 401, gerr.Status)
	})

	t.Run("web without a verified Twitter username fails", func(t *testing.T) {
		f := newGateFixture()
		f.web.verify = func(_ context.Context, _ string) (WebIdentity, error) {
			return WebIdentity{UserID: "privy-1"}, nil
		}

		_, gerr := f.build().Check(context.Background(), webRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeWebUsernameRequired, gerr.Code)
		assert.Equal(t, 400, gerr.Status)
	})

	t.Run("web identity carries a synthetic fid and normalized username", func(t *testing.T) {
		f := newGateFixture()
		f.web.verify = func(_ context.Context, _ string) (WebIdentity, error) {
			return WebIdentity{UserID: "privy-1", TwitterUsername: "@Alice"}, nil
		}

		ident, gerr := f.build().Check(context.Background(), webRequest())
		require.Nil(t, gerr)
		assert.Negative(t, ident.FID)
		assert.Equal(t, claim.SyntheticFID("0xdef"), ident.FID)
		require.NotNil(t, ident.Username)
		assert.Equal(t, "alice", *ident.Username)
		require.NotNil(t, ident.UserID)
		assert.Equal(t, "privy-1", *ident.UserID)
	})

	t.Run("mobile claims authenticate by address alone", func(t *testing.T) {
		req := webRequest()
		req.Source = claim.SourceMobile
		req.PrivyToken = ""

		ident, gerr := newGateFixture().build().Check(context.Background(), req)
		require.Nil(t, gerr)
		assert.Equal(t, claim.SyntheticFID("0xdef"), ident.FID)
		assert.Nil(t, ident.Username)
	})
}

func TestCheckBans(t *testing.T) {
	t.Run("denylisted usernames are rejected before the ban table", func(t *testing.T) {
		f := newGateFixture()
		f.bans.find = func(_ context.Context, _ int64, _ []string, _ string) (*claim.Ban, error) {
			t.Fatal("ban table consulted for denylisted username")
			return nil, nil
		}

		req := miniAppRequest()
		req.Username = "@Mallory"

		_, gerr := f.build(WithDeniedUsernames("mallory")).Check(context.Background(), req)
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeBannedUser, gerr.Code)
		assert.Equal(t, 403, gerr.Status)
	})

	t.Run("a ban table hit blocks and records the attempt", func(t *testing.T) {
		f := newGateFixture()
		f.bans.find = func(_ context.Context, fid int64, variants []string, address string) (*claim.Ban, error) {
			assert.Equal(t, int64(42), fid)
			assert.Equal(t, "0xabc", address)
			return &claim.Ban{FID: 42, Reason: "abuse"}, nil
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeBannedUser, gerr.Code)
		assert.Equal(t, []string{"10.0.0.1"}, f.bans.recorded)
	})

	t.Run("synthetic fids are not looked up directly", func(t *testing.T) {
		f := newGateFixture()
		f.bans.find = func(_ context.Context, fid int64, _ []string, _ string) (*claim.Ban, error) {
			assert.Zero(t, fid)
			return nil, nil
		}

		_, gerr := f.build().Check(context.Background(), webRequest())
		assert.Nil(t, gerr)
	})

	t.Run("a failing record call does not fail the rejection", func(t *testing.T) {
		f := newGateFixture()
		f.bans.find = func(_ context.Context, _ int64, _ []string, _ string) (*claim.Ban, error) {
			return &claim.Ban{FID: 42}, nil
		}
		f.bans.record = func(_ context.Context, _ int64, _ string) error {
			return errors.New("write failed")
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeBannedUser, gerr.Code)
	})
}

func TestCheckAuctionFreshness(t *testing.T) {
	t.Run("no won auction means nothing is claimable", func(t *testing.T) {
		f := newGateFixture()
		f.winners.latest = func(_ context.Context) (*claim.Winner, error) {
			return nil, ErrNoWinner
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeInvalidAuction, gerr.Code)
		assert.Equal(t, 400, gerr.Status)
	})

	t.Run("only the latest won auction is claimable", func(t *testing.T) {
		f := newGateFixture()
		f.winners.latest = func(_ context.Context) (*claim.Winner, error) {
			return &claim.Winner{AuctionID: "auction-2"}, nil
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeInvalidAuction, gerr.Code)
	})

	t.Run("lookup failures are unexpected, not invalid-auction", func(t *testing.T) {
		f := newGateFixture()
		f.winners.latest = func(_ context.Context) (*claim.Winner, error) {
			return nil, errors.New("postgres down")
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeUnexpectedError, gerr.Code)
	})
}

func TestCheckOwnership(t *testing.T) {
	t.Run("mini-app claims require verified address ownership", func(t *testing.T) {
		f := newGateFixture()
		f.ownership.verify = func(_ context.Context, fid int64, address, _ string) (bool, error) {
			assert.Equal(t, int64(42), fid)
			assert.Equal(t, "0xabc", address)
			return false, nil
		}

		_, gerr := f.build().Check(context.Background(), miniAppRequest())
		require.NotNil(t, gerr)
		assert.Equal(t, claim.CodeIdentityMismatch, gerr.Code)
		assert.Equal(t, 403, gerr.Status)
	})

	t.Run("web claims skip ownership verification", func(t *testing.T) {
		f := newGateFixture()
		f.ownership.verify = func(_ context.Context, _ int64, _, _ string) (bool, error) {
			t.Fatal("ownership verified for web claim")
			return false, nil
		}

		_, gerr := f.build().Check(context.Background(), webRequest())
		assert.Nil(t, gerr)
	})
}

func TestUsernameVariants(t *testing.T) {
	t.Run("empty username yields no variants", func(t *testing.T) {
		assert.Empty(t, usernameVariants(""))
	})

	t.Run("covers raw, bare, lowered, and prefixed forms", func(t *testing.T) {
		variants := usernameVariants("@Alice")
		assert.ElementsMatch(t, []string{"@Alice", "Alice", "alice", "@alice"}, variants)
	})

	t.Run("already-normalized usernames do not duplicate", func(t *testing.T) {
		variants := usernameVariants("alice")
		assert.ElementsMatch(t, []string{"alice", "@alice"}, variants)
	})
}
