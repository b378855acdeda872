package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]interface{}{"value": uint64(999)},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)
	ctx := context.Background()

	lamports, err := client.GetBalance(ctx, "testpubkey")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}

	if lamports != 999 {
		t.Errorf("expected 999 lamports, got %d", lamports)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32600,
				"message": "Invalid Request",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	_, err := client.GetLatestBlockhash(ctx)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	rpcErr, ok := err.(*rpcError)
	if !ok {
		t.Fatalf("expected rpcError, got %T", err)
	}
	if !IsRPCError(err) {
		t.Error("IsRPCError should report true")
	}

	if rpcErr.Code != -32600 {
		t.Errorf("expected code -32600, got %d", rpcErr.Code)
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Method != "getAccountInfo" {
			t.Errorf("expected method getAccountInfo, got %s", req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"value": map[string]interface{}{
					"lamports":   uint64(1000000),
					"owner":      "11111111111111111111111111111111",
					"data":       []string{"SGVsbG8gV29ybGQ=", "base64"},
					"executable": false,
					"rentEpoch":  uint64(100),
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	info, err := client.GetAccountInfo(ctx, "testpubkey")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}

	if info == nil {
		t.Fatal("expected account info, got nil")
	}

	if info.Lamports != 1000000 {
		t.Errorf("expected lamports 1000000, got %d", info.Lamports)
	}

	if info.Owner != "11111111111111111111111111111111" {
		t.Errorf("unexpected owner: %s", info.Owner)
	}

	if info.Data != "SGVsbG8gV29ybGQ=" {
		t.Errorf("unexpected data: %s", info.Data)
	}
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"value": nil,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx := context.Background()

	info, err := client.GetAccountInfo(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}

	if info != nil {
		t.Errorf("expected nil for not found, got %+v", info)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.GetLatestBlockhash(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// rpcServer answers every request with result produced by fn.
func rpcServer(t *testing.T, method string, fn func(params []interface{}) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Method != method {
			t.Errorf("expected method %s, got %s", method, req.Method)
		}
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  fn(req.Params),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_GetLatestBlockhash(t *testing.T) {
	server := rpcServer(t, "getLatestBlockhash", func(params []interface{}) interface{} {
		cfg, _ := params[0].(map[string]interface{})
		if cfg["commitment"] != "processed" {
			t.Errorf("expected commitment processed, got %v", cfg["commitment"])
		}
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value": map[string]interface{}{
				"blockhash":            "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
				"lastValidBlockHeight": 3090,
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL, WithCommitment("processed"))
	hash, err := client.GetLatestBlockhash(context.Background())
	if err != nil {
		t.Fatalf("GetLatestBlockhash: %v", err)
	}
	if hash != "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N" {
		t.Errorf("unexpected blockhash %s", hash)
	}
}

func TestHTTPClient_SendTransaction(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	server := rpcServer(t, "sendTransaction", func(params []interface{}) interface{} {
		if len(params) != 2 {
			t.Errorf("expected 2 params, got %d", len(params))
			return nil
		}
		if params[0] != base64.StdEncoding.EncodeToString(raw) {
			t.Errorf("unexpected payload %v", params[0])
		}
		cfg, _ := params[1].(map[string]interface{})
		if cfg["encoding"] != "base64" {
			t.Errorf("expected base64 encoding, got %v", cfg["encoding"])
		}
		if cfg["skipPreflight"] != true {
			t.Errorf("expected skipPreflight true, got %v", cfg["skipPreflight"])
		}
		return "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	sig, err := client.SendTransaction(context.Background(), raw, &SendOpts{SkipPreflight: true})
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if sig == "" {
		t.Error("expected signature")
	}
}

func TestHTTPClient_GetTokenAccountsByOwner(t *testing.T) {
	server := rpcServer(t, "getTokenAccountsByOwner", func(params []interface{}) interface{} {
		filter, _ := params[1].(map[string]interface{})
		if filter["mint"] != "mint1" {
			t.Errorf("expected mint filter mint1, got %v", filter["mint"])
		}
		return map[string]interface{}{
			"value": []interface{}{
				map[string]interface{}{
					"pubkey": "ata1",
					"account": map[string]interface{}{
						"data": map[string]interface{}{
							"parsed": map[string]interface{}{
								"info": map[string]interface{}{
									"mint":  "mint1",
									"owner": "owner1",
									"tokenAmount": map[string]interface{}{
										"amount":   "123456789",
										"decimals": 6,
									},
								},
							},
						},
					},
				},
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	accounts, err := client.GetTokenAccountsByOwner(context.Background(), "owner1", "mint1")
	if err != nil {
		t.Fatalf("GetTokenAccountsByOwner: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	if accounts[0].Address != "ata1" || accounts[0].Amount != 123456789 || accounts[0].Decimals != 6 {
		t.Errorf("unexpected account %+v", accounts[0])
	}
}

func TestHTTPClient_GetBalance(t *testing.T) {
	server := rpcServer(t, "getBalance", func(params []interface{}) interface{} {
		return map[string]interface{}{"value": uint64(2500000000)}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	lamports, err := client.GetBalance(context.Background(), "owner1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if lamports != 2500000000 {
		t.Errorf("expected 2500000000 lamports, got %d", lamports)
	}
}
