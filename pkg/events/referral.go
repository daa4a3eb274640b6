package events

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

// ReferralDelimiter precedes the 20-byte referrer address appended to deposit calldata.
var ReferralDelimiter = common.FromHex("0xd00dfeeddeadbeef")

// ParseReferralAddress extracts a referrer tagged at the end of data.
// It returns false when no well-formed tag is present or the address is zero.
func ParseReferralAddress(data []byte) (common.Address, bool) {
	tagLen := len(ReferralDelimiter) + common.AddressLength
	if len(data) < tagLen {
		return common.Address{}, false
	}
	tag := data[len(data)-tagLen:]
	if !bytes.Equal(tag[:len(ReferralDelimiter)], ReferralDelimiter) {
		return common.Address{}, false
	}
	addr := common.BytesToAddress(tag[len(ReferralDelimiter):])
	if addr == (common.Address{}) {
		return common.Address{}, false
	}
	return addr, true
}

// ReferralFromDeposit checks the transaction calldata first, then the v2.5 deposit message.
func ReferralFromDeposit(calldata, message []byte) (common.Address, bool) {
	if addr, ok := ParseReferralAddress(calldata); ok {
		return addr, true
	}
	return ParseReferralAddress(message)
}
