package rewards

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidAddress is a user error: the wallet is not a valid EVM address.
var ErrInvalidAddress = errors.New("invalid address")

// NormalizeAddress returns the EIP-55 checksummed form of addr.
// Mixed-case input must already carry a valid checksum.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	checksummed := common.HexToAddress(addr).Hex()
	body := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	mixed := strings.ToLower(body) != body && strings.ToUpper(body) != body
	if mixed && "0x"+body != checksummed {
		return "", fmt.Errorf("%w: bad checksum %q", ErrInvalidAddress, addr)
	}
	return checksummed, nil
}
