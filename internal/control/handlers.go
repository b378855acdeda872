package control

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pumpsniper/internal/accounts"
	"pumpsniper/internal/config"
	"pumpsniper/internal/domain"
	"pumpsniper/internal/orchestrator"
	"pumpsniper/internal/solana"
	"pumpsniper/internal/storage"
)

// StatusResponse is returned by the sniper endpoints.
type StatusResponse struct {
	Status  orchestrator.Status `json:"status"`
	Monitor domain.MonitorState `json:"monitor"`
}

func (s *Server) status() StatusResponse {
	return StatusResponse{Status: s.opts.Sniper.Status(), Monitor: s.opts.Sniper.MonitorState()}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.opts.Sniper.Start(r.Context())
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.log.Error("start sniper", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusOK, s.status())
	}
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	err := s.opts.Sniper.Stop()
	switch {
	case errors.Is(err, orchestrator.ErrNotRunning):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusOK, s.status())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.status())
}

// ConfigView is the JSON form of the editable config sections.
// Durations use Go syntax such as "5s".
type ConfigView struct {
	RPC       RPCView     `json:"rpc"`
	Trade     TradeView   `json:"trade"`
	Monitor   MonitorView `json:"monitor"`
	Contracts []string    `json:"contracts"`
}

type RPCView struct {
	HTTPEndpoint string `json:"http_endpoint"`
	WSEndpoint   string `json:"ws_endpoint"`
	ProgramID    string `json:"program_id"`
	Commitment   string `json:"commitment"`
}

type TradeView struct {
	Mode           string          `json:"mode"`
	AmountPerTrade decimal.Decimal `json:"amount_per_trade"`
	SellDelay      string          `json:"sell_delay"`
	SellPercentage decimal.Decimal `json:"sell_percentage"`
	SlippageBps    int             `json:"slippage_bps"`
	PriorityFee    decimal.Decimal `json:"priority_fee"`
}

type MonitorView struct {
	ReconnectDelay string `json:"reconnect_delay"`
	MaxRetries     int    `json:"max_retries"`
}

func viewOf(cfg *config.Config) ConfigView {
	contracts := cfg.Contracts
	if contracts == nil {
		contracts = []string{}
	}
	return ConfigView{
		RPC: RPCView{
			HTTPEndpoint: cfg.RPC.HTTPEndpoint,
			WSEndpoint:   cfg.RPC.WSEndpoint,
			ProgramID:    cfg.RPC.ProgramID,
			Commitment:   cfg.RPC.Commitment,
		},
		Trade: TradeView{
			Mode:           cfg.Trade.Mode,
			AmountPerTrade: cfg.Trade.AmountPerTrade,
			SellDelay:      cfg.Trade.SellDelay.String(),
			SellPercentage: cfg.Trade.SellPercentage,
			SlippageBps:    cfg.Trade.SlippageBps,
			PriorityFee:    cfg.Trade.PriorityFee,
		},
		Monitor: MonitorView{
			ReconnectDelay: cfg.Monitor.ReconnectDelay.String(),
			MaxRetries:     cfg.Monitor.MaxRetries,
		},
		Contracts: contracts,
	}
}

// applyTo copies the view onto cfg. Validation is left to the store.
func (v ConfigView) applyTo(cfg *config.Config) error {
	sellDelay, err := time.ParseDuration(v.Trade.SellDelay)
	if err != nil {
		return fmt.Errorf("%w: trade.sell_delay: %v", config.ErrInvalidConfig, err)
	}
	reconnect, err := time.ParseDuration(v.Monitor.ReconnectDelay)
	if err != nil {
		return fmt.Errorf("%w: monitor.reconnect_delay: %v", config.ErrInvalidConfig, err)
	}

	cfg.RPC = config.RPC{
		HTTPEndpoint: v.RPC.HTTPEndpoint,
		WSEndpoint:   v.RPC.WSEndpoint,
		ProgramID:    v.RPC.ProgramID,
		Commitment:   v.RPC.Commitment,
	}
	cfg.Trade = config.Trade{
		Mode:           v.Trade.Mode,
		AmountPerTrade: v.Trade.AmountPerTrade,
		SellDelay:      sellDelay,
		SellPercentage: v.Trade.SellPercentage,
		SlippageBps:    v.Trade.SlippageBps,
		PriorityFee:    v.Trade.PriorityFee,
	}
	cfg.Monitor.ReconnectDelay = reconnect
	cfg.Monitor.MaxRetries = v.Monitor.MaxRetries
	cfg.Contracts = v.Contracts
	return nil
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	cfg, err := s.opts.Config.Load()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, viewOf(cfg))
}

// errRPCReadOnly rejects edits to settings bound when the process started.
var errRPCReadOnly = errors.New("rpc settings are fixed at startup; edit the config file and restart")

// handlePutConfig merges the body over the current config, so omitted
// fields keep their values.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var decodeErr error
	cfg, err := s.opts.Config.Update(func(cfg *config.Config) error {
		view := viewOf(cfg)
		current := view.RPC
		if err := decodeBody(w, r, &view); err != nil {
			decodeErr = err
			return err
		}
		if view.RPC != current {
			return errRPCReadOnly
		}
		return view.applyTo(cfg)
	})
	switch {
	case decodeErr != nil:
		respondError(w, http.StatusBadRequest, "invalid body: "+decodeErr.Error())
	case errors.Is(err, errRPCReadOnly):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, config.ErrInvalidConfig):
		respondError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		s.log.Info("config updated")
		respondJSON(w, http.StatusOK, viewOf(cfg))
	}
}

// ContractsResponse lists the allow-list and where it lives.
type ContractsResponse struct {
	Contracts []string `json:"contracts"`
	Source    string   `json:"source"` // file | redis
}

type contractsRequest struct {
	Contracts []string `json:"contracts"`
}

type contractRequest struct {
	Address string `json:"address"`
}

func (s *Server) contracts(r *http.Request) (ContractsResponse, error) {
	if s.opts.AllowList != nil {
		members, err := s.opts.AllowList.Members(r.Context())
		if err != nil {
			return ContractsResponse{}, err
		}
		if members == nil {
			members = []string{}
		}
		return ContractsResponse{Contracts: members, Source: "redis"}, nil
	}
	cfg, err := s.opts.Config.Load()
	if err != nil {
		return ContractsResponse{}, err
	}
	return ContractsResponse{Contracts: viewOf(cfg).Contracts, Source: "file"}, nil
}

func (s *Server) respondContracts(w http.ResponseWriter, r *http.Request, status int) {
	resp, err := s.contracts(r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, status, resp)
}

func (s *Server) handleGetContracts(w http.ResponseWriter, r *http.Request) {
	s.respondContracts(w, r, http.StatusOK)
}

func validateMints(mints []string) error {
	for _, m := range mints {
		if _, err := solana.DecodeAddress(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handlePutContracts(w http.ResponseWriter, r *http.Request) {
	var req contractsRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := validateMints(req.Contracts); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var err error
	if s.opts.AllowList != nil {
		err = s.opts.AllowList.Replace(r.Context(), req.Contracts)
	} else {
		_, err = s.opts.Config.Update(func(cfg *config.Config) error {
			cfg.Contracts = req.Contracts
			return nil
		})
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("allow-list replaced", zap.Int("contracts", len(req.Contracts)))
	s.respondContracts(w, r, http.StatusOK)
}

func (s *Server) handleAddContract(w http.ResponseWriter, r *http.Request) {
	var req contractRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := validateMints([]string{req.Address}); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var err error
	if s.opts.AllowList != nil {
		err = s.opts.AllowList.Add(r.Context(), req.Address)
	} else {
		_, err = s.opts.Config.Update(func(cfg *config.Config) error {
			for _, c := range cfg.Contracts {
				if c == req.Address {
					return nil
				}
			}
			cfg.Contracts = append(cfg.Contracts, req.Address)
			return nil
		})
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondContracts(w, r, http.StatusOK)
}

func (s *Server) handleRemoveContract(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	var err error
	if s.opts.AllowList != nil {
		err = s.opts.AllowList.Remove(r.Context(), address)
	} else {
		_, err = s.opts.Config.Update(func(cfg *config.Config) error {
			kept := cfg.Contracts[:0]
			for _, c := range cfg.Contracts {
				if c != address {
					kept = append(kept, c)
				}
			}
			cfg.Contracts = kept
			return nil
		})
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondContracts(w, r, http.StatusOK)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.OutcomeFilter{
		Mint:   q.Get("mint"),
		Wallet: q.Get("wallet"),
		Side:   domain.Side(q.Get("side")),
	}
	if filter.Side != "" && !filter.Side.IsValid() {
		respondError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	outcomes, err := s.opts.Outcomes.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if outcomes == nil {
		outcomes = []*domain.TradeOutcome{}
	}
	respondJSON(w, http.StatusOK, outcomes)
}

// WalletResponse describes one wallet. Balance is empty when the lookup failed.
type WalletResponse struct {
	PublicKey    string           `json:"public_key"`
	AddedAt      int64            `json:"added_at"`
	BalanceSOL   *decimal.Decimal `json:"balance_sol,omitempty"`
	BalanceError string           `json:"balance_error,omitempty"`
}

type addWalletRequest struct {
	PrivateKey string `json:"private_key"` // empty generates a new wallet
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	if s.opts.Wallets == nil {
		respondError(w, http.StatusNotImplemented, "no wallet store configured")
		return
	}
	infos, err := s.opts.Wallets.Wallets(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]WalletResponse, len(infos))
	for i, info := range infos {
		out[i] = WalletResponse{PublicKey: info.PublicKey, AddedAt: info.AddedAt}
		if s.opts.Balances == nil {
			continue
		}
		lamports, err := s.opts.Balances.GetBalance(r.Context(), info.PublicKey)
		if err != nil {
			out[i].BalanceError = err.Error()
			continue
		}
		bal := decimal.New(int64(lamports), -9)
		out[i].BalanceSOL = &bal
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddWallet(w http.ResponseWriter, r *http.Request) {
	if s.opts.Wallets == nil {
		respondError(w, http.StatusNotImplemented, "no wallet store configured")
		return
	}
	var req addWalletRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
	}

	var (
		pub string
		err error
	)
	if req.PrivateKey == "" {
		pub, err = s.opts.Wallets.Generate(r.Context())
	} else {
		pub, err = s.opts.Wallets.Add(r.Context(), req.PrivateKey)
	}
	switch {
	case errors.Is(err, accounts.ErrInvalidKey):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, accounts.ErrExists):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusCreated, WalletResponse{PublicKey: pub})
	}
}

func (s *Server) handleRemoveWallet(w http.ResponseWriter, r *http.Request) {
	if s.opts.Wallets == nil {
		respondError(w, http.StatusNotImplemented, "no wallet store configured")
		return
	}
	err := s.opts.Wallets.Remove(r.Context(), mux.Vars(r)["pubkey"])
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
