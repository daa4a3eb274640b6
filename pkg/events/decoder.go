package events

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrUnknownEvent is returned for logs whose topic0 matches no known event.
	ErrUnknownEvent = errors.New("events: unknown event")
	// ErrRemovedLog is returned for logs dropped by a reorg.
	ErrRemovedLog = errors.New("events: log removed by reorg")
)

type entry struct {
	version string
	event   abi.Event
}

// Decoder turns raw logs into typed events across every supported ABI revision.
// Dispatch is by topic0, so logs from mixed contract versions can be decoded together.
type Decoder struct {
	byTopic map[common.Hash]entry
}

func NewDecoder() *Decoder {
	d := &Decoder{byTopic: map[common.Hash]entry{}}
	d.register("2", SpokePoolV2)
	d.register("2.5", SpokePoolV25)
	d.register("merkle", MerkleDistributor)
	return d
}

func (d *Decoder) register(version string, contract abi.ABI) {
	for _, ev := range contract.Events {
		d.byTopic[ev.ID] = entry{version: version, event: ev}
	}
}

// Topics lists every topic0 the decoder understands.
func (d *Decoder) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.byTopic))
	for t := range d.byTopic {
		out = append(out, t)
	}
	return out
}

// Decode maps a log to DepositCreated, DepositFilled, SpeedUpRequested, RefundRequested or Claimed.
func (d *Decoder) Decode(chainID uint64, log types.Log) (Event, error) {
	if log.Removed {
		return nil, ErrRemovedLog
	}
	if len(log.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	e, ok := d.byTopic[log.Topics[0]]
	if !ok {
		return nil, ErrUnknownEvent
	}

	fields := map[string]interface{}{}
	if len(log.Data) > 0 {
		if err := e.event.Inputs.NonIndexed().UnpackIntoMap(fields, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s v%s: %w", e.event.Name, e.version, err)
		}
	}
	var indexed abi.Arguments
	for _, in := range e.event.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("topics %s v%s: %w", e.event.Name, e.version, err)
	}

	meta := Meta{
		ChainID:     chainID,
		Contract:    log.Address,
		Version:     e.version,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}
	f := &fieldReader{name: e.event.Name, m: fields}
	var ev Event
	switch e.event.Name {
	case "FundsDeposited":
		ev = decodeDeposit(meta, f)
	case "FilledRelay":
		ev = decodeFill(meta, f)
	case "RequestedSpeedUpDeposit":
		ev = decodeSpeedUp(meta, f)
	case "RefundRequested":
		ev = decodeRefund(meta, f)
	case "Claimed":
		ev = decodeClaimed(meta, f)
	default:
		return nil, ErrUnknownEvent
	}
	if f.err != nil {
		return nil, f.err
	}
	return ev, nil
}

func decodeDeposit(meta Meta, f *fieldReader) *DepositCreated {
	ev := &DepositCreated{
		Meta:               meta,
		DepositID:          f.uint32("depositId"),
		OriginChainID:      f.bigUint64("originChainId"),
		DestinationChainID: f.bigUint64("destinationChainId"),
		Amount:             f.big("amount"),
		RelayerFeePct:      f.signed("relayerFeePct"),
		QuoteTimestamp:     f.uint32("quoteTimestamp"),
		OriginToken:        f.address("originToken"),
		Recipient:          f.address("recipient"),
		Depositor:          f.address("depositor"),
	}
	if f.has("message") {
		ev.Message = f.bytes("message")
	}
	return ev
}

type relayExecutionInfo struct {
	Recipient           common.Address `json:"recipient"`
	Message             []byte         `json:"message"`
	RelayerFeePct       int64          `json:"relayerFeePct"`
	IsSlowRelay         bool           `json:"isSlowRelay"`
	PayoutAdjustmentPct *big.Int       `json:"payoutAdjustmentPct"`
}

func decodeFill(meta Meta, f *fieldReader) *DepositFilled {
	ev := &DepositFilled{
		Meta:               meta,
		DepositID:          f.uint32("depositId"),
		OriginChainID:      f.bigUint64("originChainId"),
		DestinationChainID: f.bigUint64("destinationChainId"),
		RepaymentChainID:   f.bigUint64("repaymentChainId"),
		Amount:             f.big("amount"),
		TotalFilledAmount:  f.big("totalFilledAmount"),
		FillAmount:         f.big("fillAmount"),
		RelayerFeePct:      f.signed("relayerFeePct"),
		RealizedLpFeePct:   f.signed("realizedLpFeePct"),
		DestinationToken:   f.address("destinationToken"),
		Relayer:            f.address("relayer"),
		Depositor:          f.address("depositor"),
		Recipient:          f.address("recipient"),
	}
	if f.has("appliedRelayerFeePct") {
		ev.Shape = FillShapeApplied
		ev.AppliedRelayerFeePct = f.signed("appliedRelayerFeePct")
		ev.IsSlowRelay = f.bool("isSlowRelay")
		return ev
	}

	ev.Shape = FillShapeRelayer
	if raw, ok := f.m["updatableRelayData"]; ok {
		info := abi.ConvertType(raw, new(relayExecutionInfo)).(*relayExecutionInfo)
		// the fee actually charged, after any speed-up
		ev.RelayerFeePct = big.NewInt(info.RelayerFeePct)
		ev.IsSlowRelay = info.IsSlowRelay
		ev.Recipient = info.Recipient
	}
	return ev
}

func decodeSpeedUp(meta Meta, f *fieldReader) *SpeedUpRequested {
	ev := &SpeedUpRequested{
		Meta:               meta,
		DepositID:          f.uint32("depositId"),
		Depositor:          f.address("depositor"),
		NewRelayerFeePct:   f.signed("newRelayerFeePct"),
		DepositorSignature: f.bytes("depositorSignature"),
	}
	if f.has("updatedRecipient") {
		addr := f.address("updatedRecipient")
		ev.UpdatedRecipient = &addr
		ev.UpdatedMessage = f.bytes("updatedMessage")
	}
	return ev
}

func decodeRefund(meta Meta, f *fieldReader) *RefundRequested {
	return &RefundRequested{
		Meta:               meta,
		DepositID:          f.uint32("depositId"),
		OriginChainID:      f.bigUint64("originChainId"),
		DestinationChainID: f.bigUint64("destinationChainId"),
		Relayer:            f.address("relayer"),
		RefundToken:        f.address("refundToken"),
		Amount:             f.big("amount"),
		RealizedLpFeePct:   f.signed("realizedLpFeePct"),
		FillBlock:          f.bigUint64("fillBlock"),
	}
}

func decodeClaimed(meta Meta, f *fieldReader) *Claimed {
	return &Claimed{
		Meta:         meta,
		WindowIndex:  f.bigUint64("windowIndex"),
		AccountIndex: f.bigUint64("accountIndex"),
		Account:      f.address("account"),
		Caller:       f.address("caller"),
		RewardToken:  f.address("rewardToken"),
		Amount:       f.big("amount"),
	}
}

// fieldReader pulls typed values out of an unpacked event map, keeping the first error.
type fieldReader struct {
	name string
	m    map[string]interface{}
	err  error
}

func (f *fieldReader) fail(field string, v interface{}) {
	if f.err == nil {
		f.err = fmt.Errorf("%s.%s: unexpected type %T", f.name, field, v)
	}
}

func (f *fieldReader) has(field string) bool {
	_, ok := f.m[field]
	return ok
}

func (f *fieldReader) big(field string) *big.Int {
	v, ok := f.m[field].(*big.Int)
	if !ok {
		f.fail(field, f.m[field])
		return new(big.Int)
	}
	return v
}

func (f *fieldReader) bigUint64(field string) uint64 {
	v := f.big(field)
	if !v.IsUint64() {
		if f.err == nil {
			f.err = fmt.Errorf("%s.%s: %s overflows uint64", f.name, field, v)
		}
		return 0
	}
	return v.Uint64()
}

// signed reads fee percentages, which are uint64 in v2 and int64 in v2.5.
func (f *fieldReader) signed(field string) *big.Int {
	switch v := f.m[field].(type) {
	case int64:
		return big.NewInt(v)
	case uint64:
		return new(big.Int).SetUint64(v)
	case *big.Int:
		return v
	default:
		f.fail(field, v)
		return new(big.Int)
	}
}

func (f *fieldReader) uint32(field string) uint32 {
	v, ok := f.m[field].(uint32)
	if !ok {
		f.fail(field, f.m[field])
	}
	return v
}

func (f *fieldReader) address(field string) common.Address {
	v, ok := f.m[field].(common.Address)
	if !ok {
		f.fail(field, f.m[field])
	}
	return v
}

func (f *fieldReader) bytes(field string) []byte {
	v, ok := f.m[field].([]byte)
	if !ok {
		f.fail(field, f.m[field])
	}
	return v
}

func (f *fieldReader) bool(field string) bool {
	v, ok := f.m[field].(bool)
	if !ok {
		f.fail(field, f.m[field])
	}
	return v
}
