package postgres

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Addresses are stored as checksummed hex.

func addrOut(a common.Address) string { return a.Hex() }

func addrIn(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("postgres: bad address %q", s)
	}
	return common.HexToAddress(s), nil
}

// Values wider than 64 bits are stored as base-10 text.

func u256Out(v uint256.Int) string { return v.Dec() }

func u256In(s string) (uint256.Int, error) {
	var v uint256.Int
	if err := v.SetFromDecimal(s); err != nil {
		return v, fmt.Errorf("postgres: bad u256 %q: %w", s, err)
	}
	return v, nil
}
