package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// JSON-RPC error codes returned by providers when a log query is too broad.
const (
	CodeBlockRangeTooLarge        = -32005
	CodeExceededMaximumBlockRange = -32000
	CodeLogResponseSizeExceeded   = -32602
)

// RangeKind tells which provider limit a log query hit.
type RangeKind string

const (
	RangeTooLarge    RangeKind = "range_too_large"
	RangeExceeded    RangeKind = "range_exceeded"
	ResponseTooLarge RangeKind = "response_too_large"
)

// ErrTimeout is returned when a single call exceeds its bounded wait.
var ErrTimeout = errors.New("chain: rpc call timed out")

// RangeError means the requested block range must be narrowed before retrying.
type RangeError struct {
	Kind RangeKind
	From uint64
	To   uint64
	Err  error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("chain: %s for blocks [%d,%d]: %v", e.Kind, e.From, e.To, e.Err)
}

func (e *RangeError) Unwrap() error { return e.Err }

// IsRangeError reports whether err asks for a narrower block range.
func IsRangeError(err error) bool {
	var re *RangeError
	return errors.As(err, &re)
}

// limitHints are message fragments providers use when a log query hits a size limit.
var limitHints = []string{"range", "more than", "limit", "exceed", "too many", "too large", "response size", "log response"}

func mentionsLimit(msg string) bool {
	for _, h := range limitHints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

// classifyLogsError maps provider errors from eth_getLogs onto RangeError.
// Codes -32000 and -32602 are also used for unrelated failures, so the message must agree;
// a coded error whose message does not is logged so new provider wording shows up.
func classifyLogsError(err error, from, to uint64, logger *zap.Logger) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch code := rpcErr.ErrorCode(); code {
		case CodeBlockRangeTooLarge:
			return &RangeError{Kind: RangeTooLarge, From: from, To: to, Err: err}
		case CodeExceededMaximumBlockRange, CodeLogResponseSizeExceeded:
			if mentionsLimit(msg) {
				kind := RangeExceeded
				if code == CodeLogResponseSizeExceeded {
					kind = ResponseTooLarge
				}
				return &RangeError{Kind: kind, From: from, To: to, Err: err}
			}
			logger.Warn("eth_getLogs error code without a range message",
				zap.Int("code", code),
				zap.String("message", err.Error()),
				zap.Uint64("from", from),
				zap.Uint64("to", to))
		}
	}

	// Some providers only return a message.
	switch {
	case strings.Contains(msg, "query returned more than"),
		strings.Contains(msg, "block range is too wide"),
		strings.Contains(msg, "block range too large"):
		return &RangeError{Kind: RangeTooLarge, From: from, To: to, Err: err}
	}
	return err
}
