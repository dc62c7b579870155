// Command rxindexer is the composition root: it wires the Node Client,
// Block Parser, Storage Engine, Sync Coordinator and Query Service
// together and serves the read API, following the same flag-parsing +
// godotenv + graceful-shutdown shape as the teacher's cmd/server/main.go.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/radiant-io/rxindexer/internal/api"
	"github.com/radiant-io/rxindexer/internal/config"
	"github.com/radiant-io/rxindexer/internal/query"
	"github.com/radiant-io/rxindexer/internal/rpcclient"
	"github.com/radiant-io/rxindexer/internal/storage"
	syncer "github.com/radiant-io/rxindexer/internal/sync"
)

func main() {
	godotenv.Load()

	rpcURL := flag.String("rpc", "", "Radiant node RPC URL (overrides RXI_RPC_URL)")
	apiAddr := flag.String("api", "", "API server address (overrides RXI_API_ADDR)")
	dataPath := flag.String("data", "", "Database path (overrides RXI_DATABASE_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *rpcURL != "" {
		cfg.RPCURL = *rpcURL
	}
	if *apiAddr != "" {
		cfg.APIAddr = *apiAddr
	}
	if *dataPath != "" {
		cfg.DatabasePath = *dataPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[main] shutdown signal received")
		cancel()
	}()

	rpc := rpcclient.New(cfg)

	cachedRPC, err := rpcclient.NewCachedClient(rpc, cfg.CacheDir)
	if err != nil {
		log.Fatalf("rpcclient: open cache %s: %v", cfg.CacheDir, err)
	}
	defer cachedRPC.Close()

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("storage: open %s: %v", cfg.DatabasePath, err)
	}
	defer store.Close()

	// Radiant mainnet P2PKH version byte; distinct testnets would override
	// this via a future RXI_ADDR_VERSION knob.
	const addrVersion = 0x00

	coordinator := syncer.New(cachedRPC, store, cfg, addrVersion)

	svc := query.New(store.DB())
	server := api.New(svc, coordinator, store)
	httpServer := &http.Server{Addr: cfg.APIAddr, Handler: server.Handler()}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Println("[sync] starting...")
		if err := coordinator.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("[sync] halted: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("[http] listening on %s", cfg.APIAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[http] error: %v", err)
		}
	}()

	<-ctx.Done()
	httpServer.Close()
	wg.Wait()
	log.Println("[main] shutdown complete")
}
