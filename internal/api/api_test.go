package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/radiant-io/rxindexer/internal/fixedpoint"
	"github.com/radiant-io/rxindexer/internal/parser"
	"github.com/radiant-io/rxindexer/internal/query"
	"github.com/radiant-io/rxindexer/internal/storage"
	"github.com/radiant-io/rxindexer/internal/sync"
)

type fakeCoordinator struct {
	state sync.State
	err   error
}

func (f fakeCoordinator) State() (sync.State, error) { return f.state, f.err }

func amt(t *testing.T, s string) fixedpoint.Amount {
	t.Helper()
	a, err := fixedpoint.ParseDecimalString(s)
	if err != nil {
		t.Fatalf("ParseDecimalString(%s): %v", s, err)
	}
	return a
}

func newTestServer(t *testing.T, coord Coordinator) (*storage.Store, *Server) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "rxindexer.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := parser.BlockMutation{
		Block: parser.BlockRecord{Hash: "b0", Height: 0},
		Txs: []parser.TxMutation{
			{
				Tx: parser.TxRecord{TxID: "tx0", BlockHash: "b0", BlockHeight: 0},
				Credits: []parser.UTXOCredit{
					{TxID: "tx0", Vout: 0, Address: "addr1", HasAddress: true, Amount: amt(t, "25.00000000"), BlockHeight: 0, BlockHash: "b0"},
				},
			},
		},
	}
	if err := store.CommitBlock(context.Background(), m); err != nil {
		t.Fatalf("CommitBlock: %v", err)
	}

	svc := query.New(store.DB())
	return store, New(svc, coord, store)
}

func TestHandleBalance(t *testing.T) {
	_, srv := newTestServer(t, fakeCoordinator{state: sync.StateIdle})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/address/addr1/balance", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp balanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RXDBalance != "25.00000000" {
		t.Fatalf("rxd_balance = %s", resp.RXDBalance)
	}
}

func TestHandleBalance_StaleWhenCoordinatorErrored(t *testing.T) {
	_, srv := newTestServer(t, fakeCoordinator{state: sync.StateError, err: context.DeadlineExceeded})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/address/addr1/balance", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleTransaction_NotFound(t *testing.T) {
	_, srv := newTestServer(t, fakeCoordinator{state: sync.StateIdle})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/transaction/does-not-exist", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	_, srv := newTestServer(t, fakeCoordinator{state: sync.StateFetching})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IsSyncing || resp.Status != "ok" {
		t.Fatalf("health = %+v", resp)
	}
}

func TestHandleUTXOs(t *testing.T) {
	_, srv := newTestServer(t, fakeCoordinator{state: sync.StateIdle})
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/address/addr1/utxos?unspent_only=true", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp utxosResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.UTXOs) != 1 || resp.UTXOs[0].Amount != "25.00000000" {
		t.Fatalf("utxos = %+v", resp.UTXOs)
	}
}
