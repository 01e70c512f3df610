package claimtier

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
)

func init() {
	// Initialize logger for tests to prevent nil pointer dereference
	_ = logger.Init(logger.WithLevel("error"))
}

type holdingsFake struct {
	balance func(ctx context.Context, owner string) (*big.Int, error)
}

func (f *holdingsFake) TokenBalance(ctx context.Context, owner string) (*big.Int, error) {
	if f.balance == nil {
		return big.NewInt(0), nil
	}
	return f.balance(ctx, owner)
}

type reputationFake struct {
	reputation func(ctx context.Context, fid int64) (Reputation, error)
}

func (f *reputationFake) UserReputation(ctx context.Context, fid int64) (Reputation, error) {
	if f.reputation == nil {
		return Reputation{Score: 0.5}, nil
	}
	return f.reputation(ctx, fid)
}

type spamLabelFake struct {
	label func(ctx context.Context, fid int64) (*int, error)
}

func (f *spamLabelFake) SpamLabel(ctx context.Context, fid int64) (*int, error) {
	if f.label == nil {
		return nil, nil
	}
	return f.label(ctx, fid)
}

type historicalFake struct {
	check func(ctx context.Context, address string, minUSD float64, days int) (bool, float64, error)
}

func (f *historicalFake) CheckHistoricalBalance(ctx context.Context, address string, minUSD float64, days int) (bool, float64, error) {
	if f.check == nil {
		return false, 0, nil
	}
	return f.check(ctx, address, minUSD, days)
}

type tierAmountsFake struct {
	amounts func(ctx context.Context) (int64, int64, error)
}

func (f *tierAmountsFake) WalletClaimAmounts(ctx context.Context) (int64, int64, error) {
	if f.amounts == nil {
		return 100, 500, nil
	}
	return f.amounts(ctx)
}

type tierFixture struct {
	holdings   *holdingsFake
	reputation *reputationFake
	spamLabels *spamLabelFake
	historical *historicalFake
	amounts    *tierAmountsFake
}

func newTierFixture() *tierFixture {
	return &tierFixture{
		holdings:   new(holdingsFake),
		reputation: new(reputationFake),
		spamLabels: new(spamLabelFake),
		historical: new(historicalFake),
		amounts:    new(tierAmountsFake),
	}
}

func (f *tierFixture) build() Service {
	return New(f.holdings, f.reputation, f.spamLabels, f.historical, f.amounts)
}

func intPtr(v int) *int { return &v }

func TestResolveMiniApp(t *testing.T) {
	ident := Identity{FID: 42, Address: "0xabc"}

	t.Run("empty wallet with average reputation gets the base amount", func(t *testing.T) {
		res, err := newTierFixture().build().Resolve(context.Background(), ident, claim.SourceMiniApp)
		require.NoError(t, err)
		assert.Equal(t, int64(100), res.Amount)
		require.NotNil(t, res.SpamLabel)
		assert.False(t, *res.SpamLabel)
	})

	t.Run("token holders get the holder base", func(t *testing.T) {
		f := newTierFixture()
		f.holdings.balance = func(_ context.Context, _ string) (*big.Int, error) {
			return big.NewInt(1), nil
		}

		res, err := f.build().Resolve(context.Background(), ident, claim.SourceMiniApp)
		require.NoError(t, err)
		assert.Equal(t, int64(500), res.Amount)
	})

	t.Run("high reputation doubles the base", func(t *testing.T) {
		f := newTierFixture()
		f.reputation.reputation = func(_ context.Context, _ int64) (Reputation, error) {
			return Reputation{Score: 0.70}, nil
		}

		res, err := f.build().Resolve(context.Background(), ident, claim.SourceMiniApp)
		require.NoError(t, err)
		assert.Equal(t, int64(200), res.Amount)
		require.NotNil(t, res.NeynarScore)
		assert.Equal(t, 0.70, *res.NeynarScore)
	})

	t.Run("a score just below the floor gets no bonus", func(t *testing.T) {
		f := newTierFixture()
		f.reputation.reputation = func(_ context.Context, _ int64) (Reputation, error) {
			return Reputation{Score: 0.69}, nil
		}

		res, err := f.build().Resolve(context.Background(), ident, claim.SourceMiniApp)
		require.NoError(t, err)
		assert.Equal(t, int64(100), res.Amount)
	})

	t.Run("stored spam label zero forces the spam amount", func(t *testing.T) {
		f := newTierFixture()
		f.reputation.reputation = func(_ context.Context, _ int64) (Reputation, error) {
			return Reputation{Score: 0.99}, nil
		}
		f.spamLabels.label = func(_ context.Context, fid int64) (*int, error) {
			assert.Equal(t, int64(42), fid)
			return intPtr(0), nil
		}

		res, err := f.build().Resolve(context.Background(), ident, claim.SourceMiniApp)
		require.NoError(t, err)
		assert.Equal(t, int64(50), res.Amount)
		require.NotNil(t, res.SpamLabel)
		assert.True(t, *res.SpamLabel)
	})

	t.Run("an override of 2 clears a stored spam label", func(t *testing.T) {
		f := newTierFixture()
		f.reputation.reputation = func(_ context.Context, _ int64) (Reputation, error) {
			return Reputation{Score: 0.99, SpamOverride: intPtr(2)}, nil
		}
		f.spamLabels.label = func(_ context.Context, _ int64) (*int, error) {
			t.Fatal("stored label consulted despite override")
			return nil, nil
		}

		res, err := f.build().Resolve(context.Background(), ident, claim.SourceMiniApp)
		require.NoError(t, err)
		assert.Equal(t, int64(200), res.Amount)
	})

	t.Run("any other override value means spam", func(t *testing.T) {
		f := newTierFixture()
		f.reputation.reputation = func(_ context.Context, _ int64) (Reputation, error) {
			return Reputation{Score: 0.99, SpamOverride: intPtr(1)}, nil
		}

		res, err := f.build().Resolve(context.Background(), ident, claim.SourceMiniApp)
		require.NoError(t, err)
		assert.Equal(t, int64(50), res.Amount)
	})

	t.Run("reputation lookup failures propagate", func(t *testing.T) {
		f := newTierFixture()
		f.reputation.reputation = func(_ context.Context, _ int64) (Reputation, error) {
			return Reputation{}, errors.New("neynar down")
		}

		_, err := f.build().Resolve(context.Background(), ident, claim.SourceMiniApp)
		assert.Error(t, err)
	})
}

func TestResolveWeb(t *testing.T) {
	ident := Identity{FID: -7, Address: "0xdef"}

	t.Run("meeting the historical requirement awards the value tier", func(t *testing.T) {
		f := newTierFixture()
		f.historical.check = func(_ context.Context, address string, minUSD float64, days int) (bool, float64, error) {
			assert.Equal(t, "0xdef", address)
			assert.Equal(t, 5.0, minUSD)
			assert.Equal(t, 90, days)
			return true, 12.5, nil
		}

		res, err := f.build().Resolve(context.Background(), ident, claim.SourceWeb)
		require.NoError(t, err)
		assert.Equal(t, int64(500), res.Amount)
		require.NotNil(t, res.HistoricalMet)
		assert.True(t, *res.HistoricalMet)
	})

	t.Run("failing the historical requirement demotes to the empty tier", func(t *testing.T) {
		f := newTierFixture()
		f.holdings.balance = func(_ context.Context, _ string) (*big.Int, error) {
			return big.NewInt(1_000), nil // holdings guess is overridden regardless
		}
		f.historical.check = func(_ context.Context, _ string, _ float64, _ int) (bool, float64, error) {
			return false, 1.2, nil
		}

		res, err := f.build().Resolve(context.Background(), ident, claim.SourceWeb)
		require.NoError(t, err)
		assert.Equal(t, int64(100), res.Amount)
		require.NotNil(t, res.HistoricalMet)
		assert.False(t, *res.HistoricalMet)
	})

	t.Run("stored tier amounts are honored", func(t *testing.T) {
		f := newTierFixture()
		f.historical.check = func(_ context.Context, _ string, _ float64, _ int) (bool, float64, error) {
			return true, 10, nil
		}
		f.amounts.amounts = func(_ context.Context) (int64, int64, error) {
			return 75, 300, nil
		}

		res, err := f.build().Resolve(context.Background(), ident, claim.SourceWeb)
		require.NoError(t, err)
		assert.Equal(t, int64(300), res.Amount)
	})

	t.Run("mobile claims use the same path", func(t *testing.T) {
		f := newTierFixture()
		checked := false
		f.historical.check = func(_ context.Context, _ string, _ float64, _ int) (bool, float64, error) {
			checked = true
			return false, 0, nil
		}

		_, err := f.build().Resolve(context.Background(), ident, claim.SourceMobile)
		require.NoError(t, err)
		assert.True(t, checked)
	})

	t.Run("historical check failures propagate", func(t *testing.T) {
		f := newTierFixture()
		f.historical.check = func(_ context.Context, _ string, _ float64, _ int) (bool, float64, error) {
			return false, 0, errors.New("archive node down")
		}

		_, err := f.build().Resolve(context.Background(), ident, claim.SourceWeb)
		assert.Error(t, err)
	})
}

func TestResolveCeiling(t *testing.T) {
	t.Run("amounts above the ceiling are clamped, not rejected", func(t *testing.T) {
		f := newTierFixture()
		f.historical.check = func(_ context.Context, _ string, _ float64, _ int) (bool, float64, error) {
			return true, 100, nil
		}
		f.amounts.amounts = func(_ context.Context) (int64, int64, error) {
			return 100, 50_000, nil // misconfigured value tier
		}

		res, err := f.build().Resolve(context.Background(), Identity{FID: -7, Address: "0xdef"}, claim.SourceWeb)
		require.NoError(t, err)
		assert.Equal(t, int64(MaxClaimAmount), res.Amount)
	})
}
