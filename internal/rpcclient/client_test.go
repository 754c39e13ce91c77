package rpcclient

import (
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/klingnet-indexer/config"
	"github.com/Klingon-tech/klingnet-indexer/internal/indexer"
	"github.com/Klingon-tech/klingnet-indexer/internal/rpc"
	"github.com/Klingon-tech/klingnet-indexer/internal/source"
	"github.com/Klingon-tech/klingnet-indexer/internal/storage"
	"github.com/Klingon-tech/klingnet-indexer/internal/testblocks"
)

func startServer(t *testing.T) *Client {
	t.Helper()
	cb := testblocks.CoinbaseTx(1000, 1, 0)
	genesisRaw, _ := testblocks.Mine(t, chainhash.Hash{}, testblocks.GenesisTime, []*wire.MsgTx{cb})

	cfg := config.DefaultRegtest()
	ix, err := indexer.New(cfg, storage.NewMemory(), genesisRaw, source.NewFake(),
		indexer.WithClock(func() time.Time { return time.Unix(testblocks.GenesisTime+600, 0) }))
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}

	srv := rpc.New("127.0.0.1:0", ix)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return New("http://" + srv.Addr())
}

func TestClientGetBalanceAndStats(t *testing.T) {
	c := startServer(t)

	bal, err := c.GetBalance(testblocks.Address(t, 1), 0)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.Balance != 1000 {
		t.Fatalf("balance = %d, want 1000", bal.Balance)
	}

	stats, err := c.GetStats()
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if !stats.FullySynced {
		t.Fatal("expected fully synced")
	}
}

func TestClientSurfacesRPCError(t *testing.T) {
	c := startServer(t)

	_, err := c.GetBalance("bogus", 0)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want *RPCError", err)
	}
	if rpcErr.Code != rpc.CodeInvalidParams {
		t.Fatalf("code = %d, want %d", rpcErr.Code, rpc.CodeInvalidParams)
	}
}

func TestClientGetBlockHeaders(t *testing.T) {
	c := startServer(t)

	headers, err := c.GetBlockHeaders(0, 5)
	if err != nil {
		t.Fatalf("get headers: %v", err)
	}
	if len(headers) != 1 {
		t.Fatalf("header count = %d, want 1 (genesis only)", len(headers))
	}
}
