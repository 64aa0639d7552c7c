package blockchain

import (
	"context"
	"fmt"

	"github.com/cstahmer1/spotagent/internal/chain"
)

// ChainClient wires RPCClient/Wallet/BlockhashCache into chain.ChainRPC, the
// narrow surface internal/execution calls. It is the concrete adapter named
// in the aggregator/RPC DOMAIN STACK wiring: teacher code stays the network
// and signing layer, this file is the seam onto the core's interface.
type ChainClient struct {
	rpc        *RPCClient
	wallet     *Wallet
	blockhash  *BlockhashCache
	computeCap uint32
}

// NewChainClient builds a chain.ChainRPC implementation over an already
// constructed RPC client, wallet and blockhash cache.
func NewChainClient(rpc *RPCClient, wallet *Wallet, blockhash *BlockhashCache) *ChainClient {
	return &ChainClient{rpc: rpc, wallet: wallet, blockhash: blockhash, computeCap: 600000}
}

// GetBalance implements chain.ChainRPC.
func (c *ChainClient) GetBalance(ctx context.Context, owner string) (uint64, error) {
	return c.rpc.GetBalance(ctx, owner)
}

// GetTokenBalance implements chain.ChainRPC by resolving the owner's token
// account for mint and reading its amount/decimals.
func (c *ChainClient) GetTokenBalance(ctx context.Context, owner, mint string) (uint64, uint8, error) {
	accounts, err := c.rpc.GetTokenAccountsByOwner(ctx, owner, mint)
	if err != nil {
		return 0, 0, err
	}
	if len(accounts) == 0 {
		return 0, 0, nil
	}
	return accounts[0].Amount, accounts[0].Decimals, nil
}

// SimulateTransaction implements chain.ChainRPC, calling Solana's
// simulateTransaction RPC against an already-signed base64 transaction.
func (c *ChainClient) SimulateTransaction(ctx context.Context, tx string) (*chain.SimResult, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "simulateTransaction",
		Params: []interface{}{
			tx,
			map[string]interface{}{
				"encoding":               "base64",
				"sigVerify":              false,
				"replaceRecentBlockhash": true,
			},
		},
	}

	var result struct {
		Value struct {
			Err  interface{} `json:"err"`
			Logs []string    `json:"logs"`
		} `json:"value"`
	}

	if err := c.rpc.call(ctx, req, &result); err != nil {
		return nil, fmt.Errorf("simulate_transaction: %w", err)
	}

	sim := &chain.SimResult{Logs: result.Value.Logs}
	if result.Value.Err != nil {
		errBytes := fmt.Sprintf("%v", result.Value.Err)
		sim.Err = errBytes
	}
	return sim, nil
}

// SendVersionedTransaction implements chain.ChainRPC: signs the message
// portion of the already-built (unsigned) transaction with the wallet and
// submits it, grounded on TransactionBuilder.SignSerializedTransaction and
// RPCClient.SendTransaction. It checks the blockhash cache is live before
// signing, so a stalled RPC fails fast instead of submitting a transaction
// doomed to expire.
func (c *ChainClient) SendVersionedTransaction(ctx context.Context, tx string) (chain.Sig, error) {
	builder := NewTransactionBuilder(c.wallet, c.blockhash, 0)
	builder.SetComputeUnitLimit(c.computeCap)

	if _, err := builder.GetRecentBlockhash(); err != nil {
		return "", fmt.Errorf("blockhash cache unavailable: %w", err)
	}

	signed, err := builder.SignSerializedTransaction(tx)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransaction(ctx, signed, false)
	if err != nil {
		return "", ParseTxError(err)
	}
	return chain.Sig(sig), nil
}
