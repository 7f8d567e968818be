package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddress parses a 0x-prefixed (or bare) 40-character hex address.
// Unlike common.HexToAddress it rejects malformed input instead of
// silently truncating it.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}, fmt.Errorf("empty address")
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseAddressList parses every entry of list, failing on the first bad one.
func ParseAddressList(list []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(list))
	for i, s := range list {
		addr, err := ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
