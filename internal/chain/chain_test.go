package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

const (
	testContract  = "0x1111111111111111111111111111111111111111"
	testFrom      = "0x2222222222222222222222222222222222222222"
	testRecipient = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func TestSelector(t *testing.T) {
	// Well-known selector for transfer(address,uint256).
	if got := hex.EncodeToString(Selector("transfer(address,uint256)")); got != "a9059cbb" {
		t.Fatalf("unexpected selector %s", got)
	}
}

func TestEncodeDonate(t *testing.T) {
	data, err := EncodeDonate(testRecipient, "nice stream")
	if err != nil {
		t.Fatalf("EncodeDonate: %v", err)
	}
	if len(data) != 4+32*4 {
		t.Fatalf("unexpected length %d", len(data))
	}
	if !strings.HasSuffix(hex.EncodeToString(data[4:36]), strings.TrimPrefix(testRecipient, "0x")) {
		t.Error("recipient word not left padded")
	}
	if new(big.Int).SetBytes(data[36:68]).Int64() != 64 {
		t.Error("string offset should be 64")
	}
	if new(big.Int).SetBytes(data[68:100]).Int64() != int64(len("nice stream")) {
		t.Error("string length mismatch")
	}
	if string(data[100:100+len("nice stream")]) != "nice stream" {
		t.Error("string payload mismatch")
	}
}

func TestEncodeDonateRejectsBadAddress(t *testing.T) {
	if _, err := EncodeDonate("0x1234", "x"); err == nil {
		t.Fatal("expected error for short address")
	}
}

func TestHexBig(t *testing.T) {
	wei, _ := new(big.Int).SetString("100000000000000000", 10)
	if got := HexBig(wei); got != "0x16345785d8a0000" {
		t.Fatalf("unexpected hex %s", got)
	}
	if HexBig(big.NewInt(0)) != "0x0" {
		t.Fatal("zero should encode as 0x0")
	}
}

type rpcStub struct {
	mu      sync.Mutex
	methods []string
	params  [][]json.RawMessage
	reply   func(method string) string
}

func (s *rpcStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.methods = append(s.methods, req.Method)
	s.params = append(s.params, req.Params)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(s.reply(req.Method)))
}

func newTestClient(t *testing.T, stub *rpcStub) *Client {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	c, err := New(Config{RPCURL: srv.URL, ContractAddress: testContract, FromAddress: testFrom}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSendDonation(t *testing.T) {
	stub := &rpcStub{reply: func(string) string {
		return `{"jsonrpc":"2.0","id":1,"result":"0xabc"}`
	}}
	c := newTestClient(t, stub)

	wei, _ := new(big.Int).SetString("100000000000000000", 10)
	hash, err := c.SendDonation(context.Background(), testRecipient, wei, "nice stream")
	if err != nil {
		t.Fatalf("SendDonation: %v", err)
	}
	if hash != "0xabc" {
		t.Fatalf("unexpected hash %s", hash)
	}

	var tx map[string]string
	if err := json.Unmarshal(stub.params[0][0], &tx); err != nil {
		t.Fatalf("decode tx: %v", err)
	}
	if stub.methods[0] != "eth_sendTransaction" {
		t.Errorf("unexpected method %s", stub.methods[0])
	}
	if tx["to"] != testContract || tx["from"] != testFrom {
		t.Errorf("unexpected routing %+v", tx)
	}
	if tx["value"] != "0x16345785d8a0000" {
		t.Errorf("unexpected value %s", tx["value"])
	}
	if !strings.HasPrefix(tx["data"], HexBytes(Selector(donateSignature))) {
		t.Errorf("data does not start with donate selector: %s", tx["data"])
	}
}

func TestSendDonationRejected(t *testing.T) {
	stub := &rpcStub{reply: func(string) string {
		return `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"insufficient funds"}}`
	}}
	c := newTestClient(t, stub)

	_, err := c.SendDonation(context.Background(), testRecipient, big.NewInt(1), "")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32000 {
		t.Fatalf("expected RPCError, got %v", err)
	}
}

func TestReceipt(t *testing.T) {
	var mined atomic.Bool
	stub := &rpcStub{reply: func(string) string {
		if !mined.Load() {
			return `{"jsonrpc":"2.0","id":1,"result":null}`
		}
		return `{"jsonrpc":"2.0","id":1,"result":{"transactionHash":"0xabc","blockNumber":"0x10","status":"0x1"}}`
	}}
	c := newTestClient(t, stub)

	r, err := c.Receipt(context.Background(), "0xabc")
	if err != nil || r != nil {
		t.Fatalf("expected pending nil receipt, got %+v, %v", r, err)
	}

	mined.Store(true)
	r, err = c.Receipt(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if !r.Succeeded || r.BlockNumber != 16 {
		t.Fatalf("unexpected receipt %+v", r)
	}
}

func TestCheckBalance(t *testing.T) {
	stub := &rpcStub{reply: func(string) string {
		return `{"jsonrpc":"2.0","id":1,"result":"0x00000000000000000000000000000000000000000000000006f05b59d3b20000"}`
	}}
	c := newTestClient(t, stub)

	bal, err := c.CheckBalance(context.Background(), testRecipient)
	if err != nil {
		t.Fatalf("CheckBalance: %v", err)
	}
	if bal.String() != "500000000000000000" {
		t.Fatalf("unexpected balance %s", bal)
	}
	if stub.methods[0] != "eth_call" {
		t.Errorf("unexpected method %s", stub.methods[0])
	}
}

func TestNewValidatesAddresses(t *testing.T) {
	if _, err := New(Config{RPCURL: "http://node", ContractAddress: "nope", FromAddress: testFrom}, nil); err == nil {
		t.Fatal("expected error for bad contract address")
	}
}
