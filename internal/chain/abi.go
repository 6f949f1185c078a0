package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	donateSignature       = "donate(address,string)"
	checkBalanceSignature = "checkBalance()"
	wordSize              = 32
)

// Selector returns the 4-byte function selector for a canonical signature.
func Selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

// EncodeDonate ABI-encodes a donate(address,string) call.
func EncodeDonate(recipient, message string) ([]byte, error) {
	addr, err := decodeAddress(recipient)
	if err != nil {
		return nil, err
	}

	msg := []byte(message)
	out := make([]byte, 0, 4+wordSize*4+padded(len(msg)))
	out = append(out, Selector(donateSignature)...)
	out = append(out, leftPad(addr)...)
	out = append(out, uintWord(2*wordSize)...) // string head offset
	out = append(out, uintWord(uint64(len(msg)))...)
	out = append(out, msg...)
	out = append(out, make([]byte, padded(len(msg))-len(msg))...)
	return out, nil
}

// EncodeCheckBalance ABI-encodes a checkBalance() call.
func EncodeCheckBalance() []byte {
	return Selector(checkBalanceSignature)
}

// DecodeUint256 reads the first return word of an eth_call result.
func DecodeUint256(result string) (*big.Int, error) {
	raw, err := decodeHex(result)
	if err != nil {
		return nil, err
	}
	if len(raw) < wordSize {
		return nil, fmt.Errorf("short uint256 result: %d bytes", len(raw))
	}
	return new(big.Int).SetBytes(raw[:wordSize]), nil
}

// HexBig formats a quantity the way JSON-RPC expects (0x-prefixed, no leading zeros).
func HexBig(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

// HexBytes formats data as 0x-prefixed hex.
func HexBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeAddress(s string) ([]byte, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != 20 {
		return nil, fmt.Errorf("invalid address %q: want 20 bytes, got %d", s, len(raw))
	}
	return raw, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func leftPad(b []byte) []byte {
	out := make([]byte, wordSize)
	copy(out[wordSize-len(b):], b)
	return out
}

func uintWord(v uint64) []byte {
	return leftPad(new(big.Int).SetUint64(v).Bytes())
}

func padded(n int) int {
	if n%wordSize == 0 {
		return n
	}
	return n + wordSize - n%wordSize
}
