// Package rpc implements the vault's JSON-RPC 2.0 API server.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-vault/config"
	klog "github.com/Klingon-tech/klingnet-vault/internal/log"
	"github.com/Klingon-tech/klingnet-vault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// DevBackend is the simulated chain behind the dev_* methods.
type DevBackend interface {
	Mint(token, account common.Address, amount *uint256.Int) error
	Accrue(rewardToken common.Address, amount *uint256.Int) error
}

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr        string
	vault       *vault.Engine
	nonces      *Nonces
	dev         DevBackend // nil = dev methods disabled
	mux         *http.ServeMux
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
}

// New creates a new RPC server serving engine. Signed-call nonces are
// tracked in nonces.
func New(addr string, engine *vault.Engine, nonces *Nonces, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:   addr,
		vault:  engine,
		nonces: nonces,
		mux:    http.NewServeMux(),
		logger: klog.RPC,
	}

	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
	}

	s.mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	return s
}

// parseAllowedIPs converts IP/CIDR strings to IPNet entries. Plain IPs
// become single-host networks. Invalid entries are skipped.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// SetDevBackend enables the dev_* methods against d.
func (s *Server) SetDevBackend(d DevBackend) {
	s.dev = d
}

// SetMetrics serves g on GET /metrics. Call before Start.
func (s *Server) SetMetrics(g prometheus.Gatherer) {
	h := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	s.mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !s.checkIP(w, r) {
			return
		}
		h.ServeHTTP(w, r)
	})
}

// Start begins listening for RPC requests.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Bool("dev", s.dev != nil).Msg("RPC server listening")
	return nil
}

// Addr returns the listener address (useful when started on port 0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the RPC server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if !s.checkIP(w, r) {
		return
	}

	s.setCORSHeaders(w, r)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	result, rpcErr := s.dispatch(r.Context(), &req)
	if rpcErr != nil {
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

func (s *Server) dispatch(ctx context.Context, req *Request) (interface{}, *Error) {
	switch req.Method {
	case "vault_getInfo":
		return s.handleGetInfo(req)
	case "vault_balanceOf":
		return s.handleBalanceOf(req)
	case "vault_totalSupply":
		return s.handleTotalSupply(req)
	case "vault_isWhitelisted":
		return s.handleIsWhitelisted(req)
	case "vault_listWhitelist":
		return s.handleListWhitelist(req)
	case "vault_pendingRewards":
		return s.handlePendingRewards(ctx, req)
	case "vault_getEvents":
		return s.handleGetEvents(req)
	case "vault_getStateRoot":
		return s.handleGetStateRoot(req)
	case "vault_getNonce":
		return s.handleGetNonce(req)
	case "vault_deposit":
		return s.handleDeposit(ctx, req)
	case "vault_depositLp":
		return s.handleDepositLp(ctx, req)
	case "vault_depositSingle":
		return s.handleDepositSingle(ctx, req)
	case "vault_depositETH":
		return s.handleDepositETH(ctx, req)
	case "vault_withdraw":
		return s.handleWithdraw(ctx, req)
	case "vault_withdrawLp":
		return s.handleWithdrawLp(ctx, req)
	case "vault_withdrawSingle":
		return s.handleWithdrawSingle(ctx, req)
	case "vault_addWhitelist":
		return s.handleAddWhitelist(ctx, req)
	case "vault_removeWhitelist":
		return s.handleRemoveWhitelist(ctx, req)
	case "vault_harvest":
		return s.handleHarvest(ctx, req)
	case "dev_mint":
		return s.handleDevMint(req)
	case "dev_accrueRewards":
		return s.handleDevAccrueRewards(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// checkIP rejects the request with 403 when the remote address is not in
// the allow-list.
func (s *Server) checkIP(w http.ResponseWriter, r *http.Request) bool {
	if len(s.allowedNets) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil || !s.isIPAllowed(ip) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			allowed = true
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}

	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
