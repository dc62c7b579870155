// Package sync is the Sync Coordinator (C5): tip discovery, batch planning,
// parallel fetch+parse with strict commit ordering, and reorg handling, per
// spec.md §4.5. The worker pool is golang.org/x/sync/errgroup, the same
// bounded-concurrency primitive the teacher reaches for in its ingestion
// pipelines; the state machine and [component]-prefixed logging follow the
// teacher's runner package.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/radiant-io/rxindexer/internal/config"
	"github.com/radiant-io/rxindexer/internal/parser"
	"github.com/radiant-io/rxindexer/internal/rpcclient"
	"github.com/radiant-io/rxindexer/internal/rxerrors"

	"golang.org/x/sync/errgroup"
)

// State is the coordinator's current phase.
type State int

const (
	StateIdle State = iota
	StatePlanning
	StateFetching
	StateCommitting
	StateUnwinding
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateFetching:
		return "fetching"
	case StateCommitting:
		return "committing"
	case StateUnwinding:
		return "unwinding"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// NodeClient is the subset of the Node Client (C1) the coordinator needs.
type NodeClient interface {
	GetTipHeight(ctx context.Context) (uint64, error)
	GetBlockHash(ctx context.Context, height uint64) (string, error)
	GetBlock(ctx context.Context, hash string) (*rpcclient.RawBlock, error)
}

// Storage is the subset of the Storage Engine (C6/C7) the coordinator
// drives.
type Storage interface {
	GetTip(ctx context.Context) (height uint64, hash string, chainwork string, err error)
	BlockHashAtHeight(ctx context.Context, height uint64) (hash string, ok bool, err error)
	CommitBlock(ctx context.Context, m parser.BlockMutation) error
	UnwindTo(ctx context.Context, height uint64) error
	RefreshBalanceProjection(ctx context.Context, minInterval time.Duration, forced bool) error
}

// Coordinator drives the fetch/parse/commit/unwind cycle described in
// spec.md §4.5. It holds no process-wide state: the Node Client and Storage
// Engine are passed in explicitly, per spec.md §9's guidance against
// implicit singletons.
type Coordinator struct {
	rpc         NodeClient
	store       Storage
	cfg         config.Config
	addrVersion byte

	mu              sync.Mutex
	state           State
	lastError       error
	sinceCheckpoint uint64
}

// New builds a Coordinator. addrVersion is the base58check version byte
// used when the Block Parser derives addresses.
func New(rpc NodeClient, store Storage, cfg config.Config, addrVersion byte) *Coordinator {
	return &Coordinator{rpc: rpc, store: store, cfg: cfg, addrVersion: addrVersion, state: StateIdle}
}

// State reports the coordinator's current phase and, if State() ==
// StateError, the last error observed.
func (c *Coordinator) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastError
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) setError(err error) {
	c.mu.Lock()
	c.state = StateError
	c.lastError = err
	c.mu.Unlock()
}

// RunOnce performs a single planning/fetching/committing cycle: it fetches
// and commits at most sync_batch_size blocks above the current tip, handling
// any reorg discovered along the way. It returns nil immediately if the
// store is already at the node's reported tip.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	c.setState(StatePlanning)

	tipHeight, err := c.rpc.GetTipHeight(ctx)
	if err != nil {
		c.setError(err)
		return fmt.Errorf("sync: get_tip_height: %w", err)
	}

	storedHeight, storedHash, _, err := c.store.GetTip(ctx)
	if err != nil {
		c.setError(err)
		return fmt.Errorf("sync: get_tip: %w", err)
	}

	nextHeight := storedHeight + 1
	atGenesis := storedHeight == 0 && storedHash == ""
	if atGenesis {
		nextHeight = 0
	}
	if nextHeight > tipHeight {
		c.setState(StateIdle)
		return nil
	}

	batchEnd := nextHeight + uint64(c.cfg.SyncBatchSize) - 1
	if batchEnd > tipHeight {
		batchEnd = tipHeight
	}

	c.setState(StateFetching)
	mutations, err := c.fetchAndParseRange(ctx, nextHeight, batchEnd)
	if err != nil {
		c.setError(err)
		return err
	}

	if !atGenesis && len(mutations) > 0 && mutations[0].Block.PrevHash != storedHash {
		c.setState(StateUnwinding)
		ancestor, err := c.findCommonAncestor(ctx, storedHeight)
		if err != nil {
			c.setError(err)
			return err
		}
		log.Printf("[sync] reorg detected at height %d, common ancestor at %d", storedHeight, ancestor)
		if err := c.store.UnwindTo(ctx, ancestor); err != nil {
			c.setError(err)
			return fmt.Errorf("sync: unwind_to(%d): %w", ancestor, err)
		}
		c.setState(StateFetching)
		mutations, err = c.fetchAndParseRange(ctx, ancestor+1, batchEnd)
		if err != nil {
			c.setError(err)
			return err
		}
	}

	c.setState(StateCommitting)
	for _, m := range mutations {
		if err := c.store.CommitBlock(ctx, m); err != nil {
			c.setError(err)
			return fmt.Errorf("sync: commit_block(%d): %w", m.Block.Height, err)
		}
		c.sinceCheckpoint++
		if c.sinceCheckpoint >= c.cfg.CheckpointInterval {
			c.sinceCheckpoint = 0
			if err := c.store.RefreshBalanceProjection(ctx, c.cfg.RefreshMinInterval, true); err != nil {
				log.Printf("[sync] checkpoint refresh at height %d failed: %v", m.Block.Height, err)
			}
		}
	}

	c.setState(StateIdle)
	return nil
}

// fetchAndParseRange fetches and parses [from, to] with a bounded worker
// pool, order-independent, then reassembles results by height.
func (c *Coordinator) fetchAndParseRange(ctx context.Context, from, to uint64) ([]parser.BlockMutation, error) {
	if to < from {
		return nil, nil
	}
	n := int(to-from) + 1
	results := make([]parser.BlockMutation, n)

	workers := c.cfg.SyncWorkers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < n; i++ {
		height := from + uint64(i)
		idx := i
		g.Go(func() error {
			hash, err := c.rpc.GetBlockHash(gctx, height)
			if err != nil {
				return fmt.Errorf("get_block_hash(%d): %w", height, err)
			}
			block, err := c.rpc.GetBlock(gctx, hash)
			if err != nil {
				return fmt.Errorf("get_block(%s): %w", hash, err)
			}
			mutation, err := parser.ParseBlock(*block, c.addrVersion)
			if err != nil {
				return fmt.Errorf("parse_block(%d): %w", height, err)
			}
			results[idx] = mutation
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// findCommonAncestor walks backward from storedHeight comparing the node's
// canonical hash against what's stored, bounded by reorg_limit. It returns
// the highest height where the hashes still agree.
func (c *Coordinator) findCommonAncestor(ctx context.Context, storedHeight uint64) (uint64, error) {
	limit := c.cfg.ReorgLimit
	for depth := uint64(1); depth <= limit; depth++ {
		if depth > storedHeight {
			return 0, nil
		}
		height := storedHeight - depth
		nodeHash, err := c.rpc.GetBlockHash(ctx, height)
		if err != nil {
			return 0, fmt.Errorf("get_block_hash(%d): %w", height, err)
		}
		storedHash, ok, err := c.store.BlockHashAtHeight(ctx, height)
		if err != nil {
			return 0, err
		}
		if ok && nodeHash == storedHash {
			return height, nil
		}
	}
	return 0, fmt.Errorf("%w: divergence exceeds %d blocks below height %d", rxerrors.ErrDeepReorg, limit, storedHeight)
}

// Run polls forever at poll_interval until ctx is cancelled, invoking
// RunOnce each tick. A RunOnce error transitions to StateError and, after a
// cool-down equal to poll_interval, retries — it does not halt the loop
// except on ErrDeepReorg, which requires operator intervention.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.RunOnce(ctx); err != nil {
			if errors.Is(err, rxerrors.ErrDeepReorg) {
				return err
			}
			log.Printf("[sync] cycle error: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
