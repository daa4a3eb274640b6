package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	depositor = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	token     = common.HexToAddress("0x00000000000000000000000000000000000000f3")
	relayer   = common.HexToAddress("0x00000000000000000000000000000000000000a4")
)

// buildLog packs an event the way a SpokePool would emit it.
func buildLog(t *testing.T, contract abi.ABI, name string, indexed []interface{}, data ...interface{}) types.Log {
	t.Helper()
	ev := contract.Events[name]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)

	topics := []common.Hash{ev.ID}
	for _, v := range indexed {
		ts, err := abi.MakeTopics([]interface{}{v})
		require.NoError(t, err)
		topics = append(topics, ts[0][0])
	}
	return types.Log{Topics: topics, Data: packed, BlockNumber: 120, TxHash: common.HexToHash("0xabc"), Index: 3}
}

func TestDecodeDepositV2AndV25(t *testing.T) {
	d := NewDecoder()

	v2 := buildLog(t, SpokePoolV2, "FundsDeposited",
		[]interface{}{big.NewInt(10), uint32(77), depositor},
		big.NewInt(1_000_000), big.NewInt(1), uint64(250000000000000), uint32(1690000000), token, recipient)
	ev, err := d.Decode(1, v2)
	require.NoError(t, err)
	dep := ev.(*DepositCreated)
	require.Equal(t, "2", dep.Version)
	require.Equal(t, uint32(77), dep.DepositID)
	require.Equal(t, uint64(10), dep.DestinationChainID)
	require.Equal(t, uint64(1), dep.OriginChainID)
	require.Equal(t, "250000000000000", dep.RelayerFeePct.String())
	require.Equal(t, depositor, dep.Depositor)
	require.Nil(t, dep.Message)
	require.Equal(t, uint64(120), dep.BlockNumber)

	v25 := buildLog(t, SpokePoolV25, "FundsDeposited",
		[]interface{}{big.NewInt(42161), uint32(78), depositor},
		big.NewInt(5), big.NewInt(1), int64(-3), uint32(1690000001), token, recipient, []byte{0xca, 0xfe})
	ev, err = d.Decode(1, v25)
	require.NoError(t, err)
	dep = ev.(*DepositCreated)
	require.Equal(t, "2.5", dep.Version)
	require.Equal(t, "-3", dep.RelayerFeePct.String())
	require.Equal(t, []byte{0xca, 0xfe}, dep.Message)
}

func TestDecodeFillShapes(t *testing.T) {
	d := NewDecoder()

	v2 := buildLog(t, SpokePoolV2, "FilledRelay",
		[]interface{}{big.NewInt(1), uint32(9), depositor},
		big.NewInt(100), big.NewInt(60), big.NewInt(60), big.NewInt(10), big.NewInt(10),
		uint64(5), uint64(4), uint64(3), token, relayer, recipient, false)
	ev, err := d.Decode(10, v2)
	require.NoError(t, err)
	fill := ev.(*DepositFilled)
	require.Equal(t, FillShapeApplied, fill.Shape)
	require.Equal(t, "4", fill.AppliedRelayerFeePct.String())
	require.Equal(t, "60", fill.TotalFilledAmount.String())
	require.Equal(t, uint64(1), fill.OriginChainID)

	info := relayExecutionInfo{Recipient: recipient, Message: []byte{}, RelayerFeePct: 7, IsSlowRelay: true, PayoutAdjustmentPct: big.NewInt(0)}
	v25 := buildLog(t, SpokePoolV25, "FilledRelay",
		[]interface{}{big.NewInt(1), uint32(9), depositor},
		big.NewInt(100), big.NewInt(100), big.NewInt(40), big.NewInt(10), big.NewInt(10),
		int64(5), int64(3), token, relayer, recipient, []byte{}, info)
	ev, err = d.Decode(10, v25)
	require.NoError(t, err)
	fill = ev.(*DepositFilled)
	require.Equal(t, FillShapeRelayer, fill.Shape)
	require.Nil(t, fill.AppliedRelayerFeePct)
	require.Equal(t, "7", fill.RelayerFeePct.String())
	require.True(t, fill.IsSlowRelay)
}

func TestDecodeSpeedUpRefundAndClaim(t *testing.T) {
	d := NewDecoder()

	su := buildLog(t, SpokePoolV25, "RequestedSpeedUpDeposit",
		[]interface{}{uint32(5), depositor},
		int64(900), recipient, []byte{0x01}, []byte{0x02})
	ev, err := d.Decode(1, su)
	require.NoError(t, err)
	speedUp := ev.(*SpeedUpRequested)
	require.Equal(t, "900", speedUp.NewRelayerFeePct.String())
	require.NotNil(t, speedUp.UpdatedRecipient)
	require.Equal(t, recipient, *speedUp.UpdatedRecipient)

	refund := buildLog(t, SpokePoolV25, "RefundRequested",
		[]interface{}{relayer, big.NewInt(1), uint32(5)},
		token, big.NewInt(10), big.NewInt(137), int64(2), big.NewInt(999), big.NewInt(0))
	ev, err = d.Decode(137, refund)
	require.NoError(t, err)
	require.Equal(t, uint64(999), ev.(*RefundRequested).FillBlock)

	claim := buildLog(t, MerkleDistributor, "Claimed",
		[]interface{}{relayer, depositor, token},
		big.NewInt(5), big.NewInt(12), big.NewInt(1e18))
	ev, err = d.Decode(1, claim)
	require.NoError(t, err)
	c := ev.(*Claimed)
	require.Equal(t, uint64(5), c.WindowIndex)
	require.Equal(t, depositor, c.Account)
}

func TestDecodeUnknownAndRemoved(t *testing.T) {
	d := NewDecoder()
	_, err := d.Decode(1, types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	require.ErrorIs(t, err, ErrUnknownEvent)
	_, err = d.Decode(1, types.Log{Removed: true})
	require.ErrorIs(t, err, ErrRemovedLog)
}

func TestParseReferralAddress(t *testing.T) {
	referrer := common.HexToAddress("0x9A8f92a830A5cB89a3816e3D267CB7791c16b04D")
	calldata := append([]byte{0x49, 0x32, 0x47, 0x5e, 0x00, 0x01}, ReferralDelimiter...)
	calldata = append(calldata, referrer.Bytes()...)

	got, ok := ParseReferralAddress(calldata)
	require.True(t, ok)
	require.Equal(t, referrer, got)

	_, ok = ParseReferralAddress(calldata[:len(calldata)-1])
	require.False(t, ok)

	got, ok = ReferralFromDeposit([]byte{0x01}, calldata)
	require.True(t, ok)
	require.Equal(t, referrer, got)
}
