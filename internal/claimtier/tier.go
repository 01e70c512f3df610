// Package claimtier resolves the token amount awarded to a claim. Mini-app
// claims are tiered by wallet holdings and Farcaster reputation with spam
// overrides; web and mobile claims are tiered by a 90-day historical
// balance requirement. A hard ceiling guards against upstream
// miscalculation regardless of path.
package claimtier

import (
	"context"
	"math/big"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/pkg/logger"
)

const (
	// MaxClaimAmount is the hard ceiling in token units. Amounts above it
	// are clamped and logged as security events, never rejected: the amount
	// is computed server-side, so an excess means our own math went wrong.
	MaxClaimAmount = 1000

	// Holdings-based base amounts.
	baseAmountEmpty   = 100
	baseAmountHolder  = 500
	reputationBonus   = 2    // multiplier for high-reputation mini-app users
	spamAmount        = 50   // awarded to spam-labeled accounts
	neynarScoreFloor  = 0.70 // minimum score for the reputation bonus

	// Historical balance requirement for web claims.
	historicalMinUSD = 5.0
	historicalDays   = 90

	// Spam label values as stored: 0 = spam, 2 = not spam.
	spamLabelSpam    = 0
	spamLabelNotSpam = 2
)

// HoldingsReader reads the claimant's airdrop-token balance.
type HoldingsReader interface {
	TokenBalance(ctx context.Context, owner string) (*big.Int, error)
}

// Reputation is the Neynar-derived signal for a Farcaster account.
type Reputation struct {
	Score        float64
	SpamOverride *int // label override delivered with the profile, if any
}

// ReputationReader fetches the reputation signal for a fid.
type ReputationReader interface {
	UserReputation(ctx context.Context, fid int64) (Reputation, error)
}

// SpamLabelReader reads the stored spam_labels table.
type SpamLabelReader interface {
	// SpamLabel returns the stored label value for fid, or nil when the
	// account is unlabeled.
	SpamLabel(ctx context.Context, fid int64) (*int, error)
}

// HistoricalChecker verifies an address continuously held a minimum
// USD-equivalent ETH balance over a trailing window.
type HistoricalChecker interface {
	CheckHistoricalBalance(ctx context.Context, address string, minUSD float64, days int) (meets bool, lowestUSD float64, err error)
}

// TierAmountsReader supplies the stored web tier amounts.
type TierAmountsReader interface {
	// WalletClaimAmounts returns the empty-wallet and has-balance tier
	// amounts for web claims.
	WalletClaimAmounts(ctx context.Context) (emptyAmount, valueAmount int64, err error)
}

// Resolution is the resolved award plus the signals that produced it,
// persisted alongside the claim for audit.
type Resolution struct {
	Amount        int64
	NeynarScore   *float64
	SpamLabel     *bool // true means labeled spam
	HistoricalMet *bool // web/mobile only
}

// Service resolves claim amounts.
type Service interface {
	// Resolve computes the award for the given identity and source.
	Resolve(ctx context.Context, ident Identity, source claim.Source) (Resolution, error)
}

// Identity is the subset of the verified claimant identity tiering needs.
type Identity struct {
	FID     int64
	Address string
}

type service struct {
	holdings   HoldingsReader
	reputation ReputationReader
	spamLabels SpamLabelReader
	historical HistoricalChecker
	amounts    TierAmountsReader
}

var _ Service = (*service)(nil)

// New builds the tiering service from its collaborators.
func New(
	holdings HoldingsReader,
	reputation ReputationReader,
	spamLabels SpamLabelReader,
	historical HistoricalChecker,
	amounts TierAmountsReader,
) *service {
	return &service{
		holdings:   holdings,
		reputation: reputation,
		spamLabels: spamLabels,
		historical: historical,
		amounts:    amounts,
	}
}

// Resolve implements Service.
func (s *service) Resolve(ctx context.Context, ident Identity, source claim.Source) (Resolution, error) {
	var (
		res Resolution
		err error
	)

	switch source {
	case claim.SourceMiniApp:
		res, err = s.resolveMiniApp(ctx, ident)
	default:
		res, err = s.resolveWeb(ctx, ident)
	}
	if err != nil {
		return Resolution{}, err
	}

	if res.Amount > MaxClaimAmount {
		logger.Error(ctx, "computed claim amount exceeds ceiling, clamping",
			"fid", ident.FID,
			"address", ident.Address,
			"computed", res.Amount,
			"ceiling", MaxClaimAmount,
		)
		res.Amount = MaxClaimAmount
	}

	return res, nil
}

// resolveMiniApp tiers by holdings and reputation. A spam override of 2
// forces "not spam"; otherwise the stored spam_labels row decides.
func (s *service) resolveMiniApp(ctx context.Context, ident Identity) (Resolution, error) {
	base, err := s.holdingsBase(ctx, ident.Address)
	if err != nil {
		return Resolution{}, err
	}

	rep, err := s.reputation.UserReputation(ctx, ident.FID)
	if err != nil {
		return Resolution{}, err
	}

	isSpam, err := s.isSpam(ctx, ident.FID, rep.SpamOverride)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		NeynarScore: &rep.Score,
		SpamLabel:   &isSpam,
	}
	switch {
	case isSpam:
		res.Amount = spamAmount
	case rep.Score >= neynarScoreFloor:
		res.Amount = base * reputationBonus
	default:
		res.Amount = base
	}
	return res, nil
}

// resolveWeb computes the holdings-based guess and then lets the
// historical-balance branch decide the final tier. The initial guess is
// unconditionally overwritten for web claims; both computations are kept
// deliberately (the historical check is authoritative for this path).
func (s *service) resolveWeb(ctx context.Context, ident Identity) (Resolution, error) {
	amount, err := s.holdingsBase(ctx, ident.Address)
	if err != nil {
		return Resolution{}, err
	}

	meets, lowest, err := s.historical.CheckHistoricalBalance(ctx, ident.Address, historicalMinUSD, historicalDays)
	if err != nil {
		return Resolution{}, err
	}

	emptyAmount, valueAmount, err := s.amounts.WalletClaimAmounts(ctx)
	if err != nil {
		return Resolution{}, err
	}

	if meets {
		amount = valueAmount
	} else {
		logger.Info(ctx, "historical balance below requirement, demoting tier",
			"address", ident.Address,
			"lowest_usd", lowest,
		)
		amount = emptyAmount
	}

	return Resolution{Amount: amount, HistoricalMet: &meets}, nil
}

// holdingsBase maps token holdings to the base award.
func (s *service) holdingsBase(ctx context.Context, address string) (int64, error) {
	balance, err := s.holdings.TokenBalance(ctx, address)
	if err != nil {
		return 0, err
	}
	if balance.Sign() > 0 {
		return baseAmountHolder, nil
	}
	return baseAmountEmpty, nil
}

// isSpam applies the override-then-table spam decision.
func (s *service) isSpam(ctx context.Context, fid int64, override *int) (bool, error) {
	if override != nil {
		return *override != spamLabelNotSpam, nil
	}

	label, err := s.spamLabels.SpamLabel(ctx, fid)
	if err != nil {
		return false, err
	}
	if label == nil {
		return false, nil
	}
	return *label == spamLabelSpam, nil
}
