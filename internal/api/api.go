// Package api is the HTTP adapter over the Query Service (C8): thin
// handlers that decode path/query parameters, call into internal/query,
// and encode the wire contract from spec.md §6. It holds no business
// logic of its own — mux.HandleFunc("GET /v1/...") dispatch in the same
// style as indexers/utxos/api.go's RegisterRoutes.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/radiant-io/rxindexer/internal/fixedpoint"
	"github.com/radiant-io/rxindexer/internal/query"
	"github.com/radiant-io/rxindexer/internal/sync"
)

// Coordinator is the subset of the Sync Coordinator the health endpoint
// reports on.
type Coordinator interface {
	State() (sync.State, error)
}

// TipReader is the subset of the Storage Engine the health endpoint reads
// the current tip from.
type TipReader interface {
	GetTip(ctx context.Context) (height uint64, hash string, chainwork string, err error)
}

// Server wires the Query Service onto an http.ServeMux.
type Server struct {
	svc   *query.Service
	coord Coordinator
	tip   TipReader
}

// New builds a Server. coord and tip back the /health endpoint.
func New(svc *query.Service, coord Coordinator, tip TipReader) *Server {
	return &Server{svc: svc, coord: coord, tip: tip}
}

// Handler builds a ServeMux with every route registered and wraps it with
// request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return withRequestLog(mux)
}

// RegisterRoutes attaches every route in spec.md §6 to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /address/{address}/balance", s.handleBalance)
	mux.HandleFunc("GET /address/{address}/utxos", s.handleUTXOs)
	mux.HandleFunc("GET /transaction/{txid}", s.handleTransaction)
	mux.HandleFunc("GET /token/{ref}", s.handleToken)
	mux.HandleFunc("GET /holders/count/{asset}", s.handleHolderCount)
	mux.HandleFunc("GET /health", s.handleHealth)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// staleDataUnavailable reports whether the coordinator's error state should
// turn reads into 503s, per spec.md §7's "stale beyond policy" clause: any
// halted commit (integrity violation, deep reorg) means the projection can
// no longer be trusted to be catching up on its own.
func (s *Server) staleDataUnavailable() bool {
	if s.coord == nil {
		return false
	}
	state, _ := s.coord.State()
	return state == sync.StateError
}

type balanceResponse struct {
	Address      string            `json:"address"`
	RXDBalance   string            `json:"rxd_balance"`
	GlyphTokens  map[string]string `json:"glyph_tokens"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if s.staleDataUnavailable() {
		writeError(w, http.StatusServiceUnavailable, "indexer halted: data may be stale")
		return
	}
	address := r.PathValue("address")
	bal, err := s.svc.GetBalance(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tokens := make(map[string]string, len(bal.TokenBalances))
	for ref, amt := range bal.TokenBalances {
		tokens[ref] = amt.String()
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Address:     bal.Address,
		RXDBalance:  bal.RXDBalance.String(),
		GlyphTokens: tokens,
	})
}

type utxoEntryResponse struct {
	TxID        string `json:"txid"`
	Vout        uint32 `json:"vout"`
	Amount      string `json:"amount"`
	TokenRef    string `json:"token_ref,omitempty"`
	Spent       bool   `json:"spent"`
	BlockHeight uint64 `json:"block_height"`
}

type utxosResponse struct {
	Address    string              `json:"address"`
	UTXOs      []utxoEntryResponse `json:"utxos"`
	Pagination pagination          `json:"pagination"`
}

type pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

func (s *Server) handleUTXOs(w http.ResponseWriter, r *http.Request) {
	if s.staleDataUnavailable() {
		writeError(w, http.StatusServiceUnavailable, "indexer halted: data may be stale")
		return
	}
	address := r.PathValue("address")
	q := r.URL.Query()
	unspentOnly := q.Get("unspent_only") == "true"
	page := atoiDefault(q.Get("page"), 1)
	pageSize := atoiDefault(q.Get("page_size"), 100)

	entries, err := s.svc.ListUTXOs(r.Context(), address, unspentOnly, page, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]utxoEntryResponse, 0, len(entries))
	for _, e := range entries {
		ur := utxoEntryResponse{
			TxID:        e.TxID,
			Vout:        e.Vout,
			Amount:      e.Amount.String(),
			Spent:       e.Spent,
			BlockHeight: e.BlockHeight,
		}
		if e.HasTokenRef {
			ur.TokenRef = e.TokenRef
		}
		out = append(out, ur)
	}

	writeJSON(w, http.StatusOK, utxosResponse{
		Address:    address,
		UTXOs:      out,
		Pagination: pagination{Page: page, PageSize: pageSize},
	})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

type txOutputResponse struct {
	Vout     uint32 `json:"vout"`
	Address  string `json:"address,omitempty"`
	Amount   string `json:"amount"`
	TokenRef string `json:"token_ref,omitempty"`
	Spent    bool   `json:"spent"`
}

type txInputResponse struct {
	PrevTxID string `json:"prev_txid"`
	PrevVout uint32 `json:"prev_vout"`
	Address  string `json:"address,omitempty"`
	Amount   string `json:"amount"`
}

type transactionResponse struct {
	TxID        string            `json:"txid"`
	BlockHash   string            `json:"block_hash"`
	BlockHeight uint64            `json:"block_height"`
	Inputs      []txInputResponse `json:"inputs"`
	Outputs     []txOutputResponse `json:"outputs"`
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	if s.staleDataUnavailable() {
		writeError(w, http.StatusServiceUnavailable, "indexer halted: data may be stale")
		return
	}
	txid := r.PathValue("txid")
	tx, err := s.svc.GetTransaction(r.Context(), txid)
	if err != nil {
		if errors.Is(err, query.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := transactionResponse{TxID: tx.TxID, BlockHash: tx.BlockHash, BlockHeight: tx.BlockHeight}
	for _, o := range tx.Outputs {
		resp.Outputs = append(resp.Outputs, txOutputResponse{
			Vout: o.Vout, Address: o.Address, Amount: o.Amount.String(), TokenRef: o.TokenRef, Spent: o.Spent,
		})
	}
	for _, i := range tx.Inputs {
		resp.Inputs = append(resp.Inputs, txInputResponse{
			PrevTxID: i.PrevTxID, PrevVout: i.PrevVout, Address: i.Address, Amount: i.Amount.String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type tokenResponse struct {
	Ref                string          `json:"ref"`
	Type               string          `json:"type"`
	Protocols          []int           `json:"protocols"`
	Metadata           json.RawMessage `json:"metadata"`
	GenesisTxID        string          `json:"genesis_txid"`
	GenesisBlockHeight uint64          `json:"genesis_block_height"`
	CurrentTxID        string          `json:"current_txid"`
	CurrentVout        uint32          `json:"current_vout"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.staleDataUnavailable() {
		writeError(w, http.StatusServiceUnavailable, "indexer halted: data may be stale")
		return
	}
	ref := r.PathValue("ref")
	t, err := s.svc.GetToken(r.Context(), ref)
	if err != nil {
		if errors.Is(err, query.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "token not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Ref: t.Ref, Type: t.Type, Protocols: t.Protocols, Metadata: json.RawMessage(t.MetadataJSON),
		GenesisTxID: t.GenesisTxID, GenesisBlockHeight: t.GenesisBlockHeight,
		CurrentTxID: t.CurrentTxID, CurrentVout: t.CurrentVout,
	})
}

type holderCountResponse struct {
	Asset       string `json:"asset"`
	MinBalance  string `json:"min_balance"`
	HolderCount int    `json:"holder_count"`
}

func (s *Server) handleHolderCount(w http.ResponseWriter, r *http.Request) {
	if s.staleDataUnavailable() {
		writeError(w, http.StatusServiceUnavailable, "indexer halted: data may be stale")
		return
	}
	asset := r.PathValue("asset")
	minStr := r.URL.Query().Get("min_balance")
	if minStr == "" {
		minStr = "0"
	}
	min, err := fixedpoint.ParseDecimalString(minStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid min_balance: "+err.Error())
		return
	}
	count, err := s.svc.CountHolders(r.Context(), asset, min)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, holderCountResponse{Asset: asset, MinBalance: min.String(), HolderCount: count})
}

type healthResponse struct {
	Status    string `json:"status"`
	TipHeight uint64 `json:"tip_height"`
	IsSyncing bool   `json:"is_syncing"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var height uint64
	if s.tip != nil {
		h, _, _, err := s.tip.GetTip(r.Context())
		if err == nil {
			height = h
		}
	}

	status := "ok"
	var lastErrMsg string
	isSyncing := false
	if s.coord != nil {
		state, lastErr := s.coord.State()
		isSyncing = state != sync.StateIdle && state != sync.StateError
		if state == sync.StateError {
			status = "error"
			if lastErr != nil {
				lastErrMsg = lastErr.Error()
			}
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status: status, TipHeight: height, IsSyncing: isSyncing, LastError: lastErrMsg,
	})
}
