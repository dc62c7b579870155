package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/radiant-io/rxindexer/internal/config"
	"github.com/radiant-io/rxindexer/internal/rxerrors"
)

func testConfig(url string) config.Config {
	cfg := config.Default()
	cfg.RPCURL = url
	cfg.RPCUser = "user"
	cfg.RPCPassword = "pass"
	cfg.RPCPoolSize = 2
	cfg.RPCRateLimit = 1000
	cfg.RPCTimeout = 2 * time.Second
	cfg.CircuitFailureThreshold = 2
	cfg.CircuitResetTimeout = 50 * time.Millisecond
	cfg.CircuitHalfOpenTimeout = 10 * time.Millisecond
	return cfg
}

func TestGetTipHeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			t.Fatalf("missing/bad basic auth")
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "getblockcount" {
			t.Fatalf("unexpected method %s", req.Method)
		}
		json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: json.RawMessage("42")})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	height, err := c.GetTipHeight(context.Background())
	if err != nil {
		t.Fatalf("GetTipHeight: %v", err)
	}
	if height != 42 {
		t.Fatalf("height = %d, want 42", height)
	}
}

func TestGetBlockHash_HeightBeyondTip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(rpcResponse{
			ID:    req.ID,
			Error: &rpcError{Code: -8, Message: "Block height out of range"},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.GetBlockHash(context.Background(), 999999)
	if err != rxerrors.ErrHeightBeyondTip {
		t.Fatalf("err = %v, want ErrHeightBeyondTip", err)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(rpcResponse{
			ID:    req.ID,
			Error: &rpcError{Code: -1, Message: "boom"},
		})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	c := New(cfg)

	// -1 is not in the retryable set, so each call fails permanently
	// after a single attempt and increments the breaker's failure count.
	for i := 0; i < cfg.CircuitFailureThreshold; i++ {
		if _, err := c.GetTipHeight(context.Background()); err == nil {
			t.Fatalf("expected error on call %d", i)
		}
	}

	if _, err := c.GetTipHeight(context.Background()); err != rxerrors.ErrNodeUnavailable {
		t.Fatalf("err = %v, want ErrNodeUnavailable once breaker is open", err)
	}

	// The breaker being open must fail fast without hitting the server again.
	callsAfterOpen := calls.Load()
	if _, err := c.GetTipHeight(context.Background()); err != rxerrors.ErrNodeUnavailable {
		t.Fatalf("err = %v, want ErrNodeUnavailable", err)
	}
	if calls.Load() != callsAfterOpen {
		t.Fatalf("breaker open but server was called again")
	}

	// After resetTimeout, a half-open probe should be allowed through.
	time.Sleep(cfg.CircuitResetTimeout * 2)
	if _, err := c.GetTipHeight(context.Background()); err == nil {
		t.Fatalf("expected the probe itself to surface the underlying error")
	}
}

func TestGetBlock_DecodesTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		block := RawBlock{
			Hash:   "deadbeef",
			Height: 5,
			Tx: []RawTx{
				{TxID: "tx1", Vout: []RawVout{{Value: "50.00000000", N: 0}}},
			},
		}
		raw, _ := json.Marshal(block)
		json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: raw})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	block, err := c.GetBlock(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("GetBlock: %v", err)
	}
	if len(block.Tx) != 1 || block.Tx[0].TxID != "tx1" {
		t.Fatalf("unexpected block contents: %+v", block)
	}
}
