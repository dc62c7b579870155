package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestCachedClient_GetBlock_CachesAcrossCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "getblock" {
			t.Fatalf("unexpected method %s", req.Method)
		}
		atomic.AddInt32(&calls, 1)
		block := RawBlock{Hash: "h1", Height: 7}
		encoded, _ := json.Marshal(block)
		json.NewEncoder(w).Encode(rpcResponse{ID: req.ID, Result: encoded})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	cached, err := NewCachedClient(c, filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("NewCachedClient: %v", err)
	}
	defer cached.Close()

	for i := 0; i < 3; i++ {
		block, err := cached.GetBlock(context.Background(), "h1")
		if err != nil {
			t.Fatalf("GetBlock: %v", err)
		}
		if block.Height != 7 {
			t.Fatalf("height = %d", block.Height)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("rpc called %d times, want 1 (cache should absorb repeats)", calls)
	}
}
