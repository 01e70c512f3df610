// Package walletpool manages the hot signing wallets used to submit airdrop
// transactions. Wallets are grouped by purpose (one per claim source) and
// checked out under a distributed lock so two concurrent claims can never
// share a wallet, which would collide on nonces.
package walletpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qrcoast/linkdrop/internal/claim"
	"github.com/qrcoast/linkdrop/internal/claimlock"
)

// ErrPoolExhausted is returned by Acquire when every wallet for the
// requested purpose is currently checked out.
var ErrPoolExhausted = errors.New("no wallet available for purpose")

// walletLockTTL bounds how long a checkout can outlive its holder. It is
// deliberately shorter than the claim lock TTL so a crashed request frees
// its wallet before its claim locks expire.
const walletLockTTL = 120 * time.Second

// Wallet is one signing wallet plus the airdrop contract it is bound to.
type Wallet struct {
	Address         string // signer address, 0x-prefixed
	PrivateKeyHex   string // signer key material, no 0x prefix
	AirdropContract string // contract the wallet is approved against
	LockKey         string // set on pooled checkouts; empty for direct wallets
	lockToken       string
}

// Config describes the static wallet layout: the pooled wallets per
// purpose, and optional direct wallets that bypass checkout entirely.
type Config struct {
	Pooled map[claim.Source][]Wallet
	Direct map[claim.Source]Wallet
}

// Pool supplies wallets for transaction submission.
type Pool interface {
	// DirectWallet returns the statically configured pool-bypassing wallet
	// for the purpose, when one is configured. Direct wallets trade
	// concurrency safety for simplicity on low-volume paths.
	DirectWallet(purpose claim.Source) (Wallet, bool)

	// Acquire checks out an available wallet for the purpose, or returns
	// ErrPoolExhausted when all are busy.
	Acquire(ctx context.Context, purpose claim.Source) (Wallet, error)

	// Release returns a checked-out wallet to the pool. Safe to call with a
	// wallet whose lock already expired.
	Release(ctx context.Context, w Wallet) error
}

type pool struct {
	cfg    Config
	locker claimlock.Locker
}

var _ Pool = (*pool)(nil)

// New builds a Pool from the static wallet configuration and the shared
// lock manager.
func New(cfg Config, locker claimlock.Locker) *pool {
	return &pool{cfg: cfg, locker: locker}
}

// walletLockKey builds the checkout lock key for one pooled wallet.
func walletLockKey(purpose claim.Source, address string) string {
	return fmt.Sprintf("wallet:checkout:%s:%s", purpose, address)
}

// DirectWallet implements Pool.
func (p *pool) DirectWallet(purpose claim.Source) (Wallet, bool) {
	w, ok := p.cfg.Direct[purpose]
	return w, ok
}

// Acquire implements Pool. It walks the purpose's wallet list in order and
// takes the first whose checkout lock is free.
func (p *pool) Acquire(ctx context.Context, purpose claim.Source) (Wallet, error) {
	for _, w := range p.cfg.Pooled[purpose] {
		key := walletLockKey(purpose, w.Address)
		token, ok, err := p.locker.Acquire(ctx, key, walletLockTTL)
		if err != nil {
			return Wallet{}, err
		}
		if !ok {
			continue
		}

		w.LockKey = key
		w.lockToken = token
		return w, nil
	}

	return Wallet{}, ErrPoolExhausted
}

// Release implements Pool. Direct wallets (no lock key) are a no-op; an
// already-expired checkout lock is treated as released.
func (p *pool) Release(ctx context.Context, w Wallet) error {
	if w.LockKey == "" {
		return nil
	}

	err := p.locker.Release(ctx, w.LockKey, w.lockToken)
	if errors.Is(err, claimlock.ErrNotHeld) {
		return nil
	}
	return err
}
