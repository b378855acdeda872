package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pumpsniper/internal/solana"
)

// ErrNotFound is returned when a requested account is not present.
var ErrNotFound = errors.New("not found")

var _ solana.RPCClient = (*RPCClient)(nil)

// RPCClient implements solana.RPCClient for testing.
type RPCClient struct {
	mu sync.Mutex

	Accounts      map[string]*solana.AccountInfo
	TokenAccounts map[string][]solana.TokenAccount // key: owner|mint
	Balances      map[string]uint64
	Blockhash     string

	// SendErrs are returned by successive SendTransaction calls before
	// falling through to success.
	SendErrs []error
	Sent     [][]byte
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Accounts:      make(map[string]*solana.AccountInfo),
		TokenAccounts: make(map[string][]solana.TokenAccount),
		Balances:      make(map[string]uint64),
		Blockhash:     "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
	}
}

// GetAccountInfo returns the stored account or nil.
func (c *RPCClient) GetAccountInfo(_ context.Context, pubkey string) (*solana.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Accounts[pubkey], nil
}

// GetLatestBlockhash returns the configured blockhash.
func (c *RPCClient) GetLatestBlockhash(_ context.Context) (string, error) {
	return c.Blockhash, nil
}

// SendTransaction records the payload and returns a deterministic signature.
func (c *RPCClient) SendTransaction(_ context.Context, rawTx []byte, _ *solana.SendOpts) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.SendErrs) > 0 {
		err := c.SendErrs[0]
		c.SendErrs = c.SendErrs[1:]
		if err != nil {
			return "", err
		}
	}

	c.Sent = append(c.Sent, rawTx)
	return fmt.Sprintf("sig-%d", len(c.Sent)), nil
}

// GetTokenAccountsByOwner returns stored token accounts for owner and mint.
func (c *RPCClient) GetTokenAccountsByOwner(_ context.Context, owner, mint string) ([]solana.TokenAccount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.TokenAccounts[owner+"|"+mint], nil
}

// GetBalance returns the stored balance or ErrNotFound.
func (c *RPCClient) GetBalance(_ context.Context, pubkey string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal, ok := c.Balances[pubkey]
	if !ok {
		return 0, ErrNotFound
	}
	return bal, nil
}

// AddAccount adds raw account data to the stub store.
func (c *RPCClient) AddAccount(pubkey string, info *solana.AccountInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts[pubkey] = info
}

// AddTokenAccount adds a token account to the stub store.
func (c *RPCClient) AddTokenAccount(acc solana.TokenAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := acc.Owner + "|" + acc.Mint
	c.TokenAccounts[key] = append(c.TokenAccounts[key], acc)
}

// SentCount returns the number of transactions accepted so far.
func (c *RPCClient) SentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Sent)
}
