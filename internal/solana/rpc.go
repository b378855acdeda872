package solana

import "context"

// RPCClient defines the Solana RPC HTTP calls used by the trade executor.
type RPCClient interface {
	// GetAccountInfo retrieves raw account data. Returns nil if the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetLatestBlockhash retrieves a recent blockhash for transaction building.
	GetLatestBlockhash(ctx context.Context) (string, error)

	// SendTransaction submits a signed, serialized transaction and returns its signature.
	SendTransaction(ctx context.Context, rawTx []byte, opts *SendOpts) (string, error)

	// GetTokenAccountsByOwner lists SPL token accounts of owner holding mint.
	GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]TokenAccount, error)

	// GetBalance returns the lamport balance of an account.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
}

// SendOpts configures sendTransaction.
type SendOpts struct {
	SkipPreflight       bool
	PreflightCommitment string
	MaxRetries          int
}

// TokenAccount is an SPL token account as returned by jsonParsed encoding.
type TokenAccount struct {
	Address  string
	Mint     string
	Owner    string
	Amount   uint64 // raw amount in base units
	Decimals uint8
}
