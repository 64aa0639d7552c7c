package blockchain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChainClient_SimulateTransaction_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":{"err":null,"logs":["log1","log2"]}}}`))
	}))
	defer ts.Close()

	rpc := NewRPCClient(ts.URL, ts.URL, "")
	client := NewChainClient(rpc, nil, nil)

	sim, err := client.SimulateTransaction(context.Background(), "dGVzdA==")
	if err != nil {
		t.Fatalf("SimulateTransaction failed: %v", err)
	}
	if sim.Err != "" {
		t.Errorf("sim.Err = %q, want empty", sim.Err)
	}
	if len(sim.Logs) != 2 {
		t.Errorf("len(sim.Logs) = %d, want 2", len(sim.Logs))
	}
}

func TestChainClient_SimulateTransaction_ProgramError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":{"err":{"InstructionError":[0,{"Custom":6001}]},"logs":[]}}}`))
	}))
	defer ts.Close()

	rpc := NewRPCClient(ts.URL, ts.URL, "")
	client := NewChainClient(rpc, nil, nil)

	sim, err := client.SimulateTransaction(context.Background(), "dGVzdA==")
	if err != nil {
		t.Fatalf("SimulateTransaction failed: %v", err)
	}
	if sim.Err == "" {
		t.Error("expected non-empty sim.Err for program error")
	}
}

func TestChainClient_GetTokenBalance_NoAccount(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":[]}}`))
	}))
	defer ts.Close()

	rpc := NewRPCClient(ts.URL, ts.URL, "")
	client := NewChainClient(rpc, nil, nil)

	bal, decimals, err := client.GetTokenBalance(context.Background(), "owner", "mint")
	if err != nil {
		t.Fatalf("GetTokenBalance failed: %v", err)
	}
	if bal != 0 || decimals != 0 {
		t.Errorf("got (%d, %d), want (0, 0) for no account", bal, decimals)
	}
}
