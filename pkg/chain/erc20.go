package chain

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// TokenMetadata is the ERC20 descriptor stored in the token table.
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

const erc20ABI = `[
{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// Older tokens (MKR, SAI) return bytes32 for name and symbol.
const erc20Bytes32ABI = `[
{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"bytes32"}],"type":"function"},
{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"bytes32"}],"type":"function"}
]`

var (
	erc20        = mustABI(erc20ABI)
	erc20Bytes32 = mustABI(erc20Bytes32ABI)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// TokenMetadata reads name, symbol and decimals of an ERC20 token.
func (r *EthReader) TokenMetadata(ctx context.Context, token common.Address) (TokenMetadata, error) {
	var md TokenMetadata
	err := r.call(ctx, "eth_call", nil, func(ctx context.Context, c *ethclient.Client) error {
		name, err := callText(ctx, c, token, "name")
		if err != nil {
			return err
		}
		symbol, err := callText(ctx, c, token, "symbol")
		if err != nil {
			return err
		}
		out, err := callMethod(ctx, c, erc20, token, "decimals")
		if err != nil {
			return err
		}
		decimals, ok := out[0].(uint8)
		if !ok {
			return fmt.Errorf("token %s: unexpected decimals type %T", token, out[0])
		}
		md = TokenMetadata{Name: name, Symbol: symbol, Decimals: decimals}
		return nil
	})
	return md, err
}

func callText(ctx context.Context, c *ethclient.Client, token common.Address, method string) (string, error) {
	out, err := callMethod(ctx, c, erc20, token, method)
	if err == nil {
		if s, ok := out[0].(string); ok {
			return s, nil
		}
	}
	out, b32Err := callMethod(ctx, c, erc20Bytes32, token, method)
	if b32Err != nil {
		if err != nil {
			return "", err
		}
		return "", b32Err
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return "", fmt.Errorf("token %s: unexpected %s type %T", token, method, out[0])
	}
	return string(bytes.TrimRight(raw[:], "\x00")), nil
}

func callMethod(ctx context.Context, c *ethclient.Client, contract abi.ABI, token common.Address, method string) ([]interface{}, error) {
	data, err := contract.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return contract.Unpack(method, res)
}
