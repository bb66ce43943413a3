package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

// balanceKey addresses one holder's balance of one asset. The funding asset
// is shared by every sovereign and is keyed under sovereign 0; each sovereign
// has its own traded asset.
type balanceKey struct {
	holder    common.Address
	sovereign uint64
	asset     domain.Asset
}

func keyFor(holder common.Address, sovereignID uint64, asset domain.Asset) balanceKey {
	if asset == domain.AssetFunding {
		sovereignID = 0
	}
	return balanceKey{holder: holder, sovereign: sovereignID, asset: asset}
}

// Custody is an in-memory domain.Custody. It tracks external holders only;
// the sovereign's own vault is the service's ledger.
type Custody struct {
	mu       sync.Mutex
	balances map[balanceKey]uint64
	burned   map[balanceKey]uint64
	faucet   bool
}

var _ domain.Custody = (*Custody)(nil)

// NewCustody creates an empty ledger. With faucet set, Receive mints any
// shortfall instead of failing, which suits a dev server with no funding source.
func NewCustody(faucet bool) *Custody {
	return &Custody{
		balances: make(map[balanceKey]uint64),
		burned:   make(map[balanceKey]uint64),
		faucet:   faucet,
	}
}

// Fund credits holder with amount of asset.
func (c *Custody) Fund(holder common.Address, sovereignID uint64, asset domain.Asset, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[keyFor(holder, sovereignID, asset)] += amount
}

// Balance returns holder's balance of asset.
func (c *Custody) Balance(holder common.Address, sovereignID uint64, asset domain.Asset) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[keyFor(holder, sovereignID, asset)]
}

// Burned returns the total amount of asset burned from holder.
func (c *Custody) Burned(holder common.Address, sovereignID uint64, asset domain.Asset) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.burned[keyFor(holder, sovereignID, asset)]
}

func (c *Custody) Receive(_ context.Context, sovereignID uint64, from common.Address, asset domain.Asset, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := keyFor(from, sovereignID, asset)
	if c.balances[k] < amount {
		if !c.faucet {
			return fmt.Errorf("sim: receive %d %s from %s: %w", amount, asset, from.Hex(), domain.ErrInsufficientDeposit)
		}
		c.balances[k] = amount
	}
	c.balances[k] -= amount
	return nil
}

func (c *Custody) Send(_ context.Context, sovereignID uint64, to common.Address, asset domain.Asset, amount uint64) error {
	if to == (common.Address{}) {
		return fmt.Errorf("sim: send to zero address: %w", domain.ErrInvalidAddress)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[keyFor(to, sovereignID, asset)] += amount
	return nil
}

// Burn destroys amount of asset held by holder. The zero address burns from
// the sovereign's vault, which this ledger does not track.
func (c *Custody) Burn(_ context.Context, sovereignID uint64, holder common.Address, asset domain.Asset, amount uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := keyFor(holder, sovereignID, asset)
	if holder != (common.Address{}) {
		if c.balances[k] < amount {
			return fmt.Errorf("sim: burn %d %s from %s: %w", amount, asset, holder.Hex(), domain.ErrInsufficientDeposit)
		}
		c.balances[k] -= amount
	}
	c.burned[k] += amount
	return nil
}
