package types

import (
	"fmt"
	"strconv"

	"github.com/spokescan/spokescan/pkg/db/postgres/store"
)

// RangeInput asks a scanner to process [From, To] on one chain. The key is the chain, so at
// most one scan per chain and contract kind is in flight.
type RangeInput struct {
	ChainID uint64 `json:"chainId"`
	From    uint64 `json:"from"`
	To      uint64 `json:"to"`
}

func (r RangeInput) Key() string { return strconv.FormatUint(r.ChainID, 10) }

// ScanResult summarizes one scanned range.
type ScanResult struct {
	Skipped   bool   `json:"skipped"`
	Logs      int    `json:"logs"`
	Deposits  int    `json:"deposits"`
	Created   int    `json:"created"`
	Fills     int    `json:"fills"`
	SpeedUps  int    `json:"speedUps"`
	Refunds   int    `json:"refunds"`
	Claims    int    `json:"claims"`
	Undecoded int    `json:"undecoded"`
	Processed uint64 `json:"processed"`
}

// EventRef locates the log an event message was decoded from.
type EventRef struct {
	ChainID  uint64 `json:"chainId"`
	TxHash   string `json:"txHash"`
	LogIndex uint   `json:"logIndex"`
}

func (e EventRef) Key() string { return fmt.Sprintf("%d-%s-%d", e.ChainID, e.TxHash, e.LogIndex) }

// FillInput carries a fill observed on the destination chain.
type FillInput struct {
	EventRef
	DepositID     int64        `json:"depositId"`
	OriginChainID uint64       `json:"originChainId"`
	Fill          store.FillTx `json:"fill"`
}

func (f FillInput) DepositKey() store.DepositKey {
	return store.DepositKey{DepositID: f.DepositID, SourceChainID: f.OriginChainID}
}

// SpeedUpInput carries a speed-up observed on the origin chain.
type SpeedUpInput struct {
	EventRef
	DepositID int64         `json:"depositId"`
	SpeedUp   store.SpeedUp `json:"speedUp"`
}

func (s SpeedUpInput) DepositKey() store.DepositKey {
	return store.DepositKey{DepositID: s.DepositID, SourceChainID: s.ChainID}
}

type RefundInput struct {
	EventRef
	DepositID     int64               `json:"depositId"`
	OriginChainID uint64              `json:"originChainId"`
	Refund        store.RefundRequest `json:"refund"`
}

func (r RefundInput) DepositKey() store.DepositKey {
	return store.DepositKey{DepositID: r.DepositID, SourceChainID: r.OriginChainID}
}

// DepositInput addresses an enrichment stage at one deposit row by surrogate id. Version is the
// row version the producer wrote or read: a trigger issued after a later write is a new message,
// a redelivered trigger keeps its key.
type DepositInput struct {
	DepositID int64 `json:"depositId"`
	Version   int64 `json:"version"`
}

// DepositRef addresses d as it is now.
func DepositRef(d *store.Deposit) DepositInput {
	return DepositInput{DepositID: d.ID, Version: d.Version}
}

func (d DepositInput) Key() string { return fmt.Sprintf("%d@%d", d.DepositID, d.Version) }
