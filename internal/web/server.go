/*

HTTP surface for the vault: the deposit/withdraw request queue, the operation
lifecycle, valuation triggers, price pushes, and the admin controls.

Privileged endpoints identify the caller by the X-Vault-Credential header,
which carries the credential UUID issued out of band. Authorization itself
always happens inside the vault; the server only parses and forwards.

*/

package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/halcyonlabs/cvm/internal/adaptor"
	"github.com/halcyonlabs/cvm/internal/logger"
	"github.com/halcyonlabs/cvm/internal/pricing"
	"github.com/halcyonlabs/cvm/internal/state"
	"github.com/halcyonlabs/cvm/internal/types"
	"github.com/halcyonlabs/cvm/internal/vault"
	"github.com/halcyonlabs/cvm/internal/verrors"
)

var webLogger = logger.GetForComponent("web_server")

// credentialHeader carries the caller's credential UUID.
const credentialHeader = "X-Vault-Credential"

// WebServer handles HTTP requests against the vault
type WebServer struct {
	router  *mux.Router
	port    string
	vault   *vault.Vault
	prices  *pricing.Cache
	markets adaptor.MarketSource

	// Open operations keyed by operation ID. The record and bundle returned
	// by StartOperation are held server-side until the lifecycle closes.
	opsMu sync.Mutex
	ops   map[uuid.UUID]*openOperation
}

type openOperation struct {
	record *vault.OperationRecord
	bundle *vault.BorrowedBundle
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, v *vault.Vault, prices *pricing.Cache, markets adaptor.MarketSource) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:  mux.NewRouter(),
		port:    port,
		vault:   v,
		prices:  prices,
		markets: markets,
		ops:     make(map[uuid.UUID]*openOperation),
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health and metrics (direct routes)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/snapshots", ws.handleGetSnapshots).Methods("GET")
	api.HandleFunc("/risk-parameters", ws.handleGetRiskParameters).Methods("GET")
	api.HandleFunc("/journal", ws.handleGetJournal).Methods("GET")

	// Share ledger
	api.HandleFunc("/deposits", ws.handleRequestDeposit).Methods("POST")
	api.HandleFunc("/deposits/{id}", ws.handleCancelDeposit).Methods("DELETE")
	api.HandleFunc("/deposits/{id}/execute", ws.handleExecuteDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", ws.handleRequestWithdraw).Methods("POST")
	api.HandleFunc("/withdrawals/{id}", ws.handleCancelWithdraw).Methods("DELETE")
	api.HandleFunc("/withdrawals/{id}/execute", ws.handleExecuteWithdraw).Methods("POST")

	// Valuation and prices
	api.HandleFunc("/assets/{type}/value", ws.handleGetAssetValue).Methods("GET")
	api.HandleFunc("/assets/{type}/value", ws.handleUpdateAssetValue).Methods("POST")
	api.HandleFunc("/prices/{asset}", ws.handlePushPrice).Methods("PUT")

	// Operation lifecycle
	api.HandleFunc("/operations", ws.handleStartOperation).Methods("POST")
	api.HandleFunc("/operations/{id}/end", ws.handleEndOperation).Methods("POST")
	api.HandleFunc("/operations/{id}/finish", ws.handleFinishOperation).Methods("POST")
	api.HandleFunc("/operations/force-close", ws.handleForceCloseOperation).Methods("POST")

	// Admin controls
	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/enabled", ws.handleSetEnabled).Methods("PUT")
	admin.HandleFunc("/loss-tolerance", ws.handleSetLossTolerance).Methods("PUT")
	admin.HandleFunc("/epoch/reset", ws.handleResetEpoch).Methods("POST")
	admin.HandleFunc("/fees/collect", ws.handleCollectFees).Methods("POST")
	admin.HandleFunc("/credentials/{id}/freeze", ws.handleFreezeCredential).Methods("POST")
	admin.HandleFunc("/credentials/{id}/unfreeze", ws.handleUnfreezeCredential).Methods("POST")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if state.DB == nil || state.DB.Ping() != nil {
		dbHealthy = false
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "cvm-custodial-vault-manager",
			"version": "1.0.0",
		},
		"vault_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"status":           string(ws.vault.Status()),
			"total_shares":     ws.vault.TotalShares().String(),
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetVaultSummary returns a point-in-time vault snapshot
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	epochNumber, err := state.GetCurrentEpochNumber()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to read epoch counter")
		epochNumber = 0
	}
	ws.writeJSONResponse(w, http.StatusOK, ws.vault.Snapshot(epochNumber, time.Now()))
}

// handleGetSnapshots returns paginated persisted snapshots
func (ws *WebServer) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	snapshots, err := state.GetRecentSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshots")
		return
	}

	response := map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetRiskParameters returns the active persisted risk parameters
func (ws *WebServer) handleGetRiskParameters(w http.ResponseWriter, r *http.Request) {
	params, err := state.LoadActiveRiskParameters("default_cvm_risk")
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get risk parameters")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve risk parameters")
		return
	}

	response := map[string]interface{}{
		"parameters": params,
		"timestamp":  time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetJournal returns recent operation journal entries
func (ws *WebServer) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 500 {
			limit = parsedLimit
		}
	}

	events, err := state.ListOperationEvents(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to list journal events")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve journal")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

// --- Share ledger handlers ---

type depositRequestBody struct {
	Amount              string `json:"amount"`
	ExpectedSharesFloor string `json:"expected_shares_floor"`
	Recipient           string `json:"recipient"`
}

func (ws *WebServer) handleRequestDeposit(w http.ResponseWriter, r *http.Request) {
	var body depositRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	amount, ok := parseInt(body.Amount)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid amount")
		return
	}
	floor, ok := parseInt(body.ExpectedSharesFloor)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid expected_shares_floor")
		return
	}

	req, err := ws.vault.RequestDeposit(amount, floor, body.Recipient, time.Now())
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusCreated, req)
}

type withdrawRequestBody struct {
	Shares              string `json:"shares"`
	ExpectedAmountFloor string `json:"expected_amount_floor"`
	Recipient           string `json:"recipient"`
}

func (ws *WebServer) handleRequestWithdraw(w http.ResponseWriter, r *http.Request) {
	var body withdrawRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	shares, ok := parseInt(body.Shares)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid shares")
		return
	}
	floor, ok := parseInt(body.ExpectedAmountFloor)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid expected_amount_floor")
		return
	}

	req, err := ws.vault.RequestWithdraw(shares, floor, body.Recipient, time.Now())
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusCreated, req)
}

func (ws *WebServer) handleCancelDeposit(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathRequestID(w, r)
	if !ok {
		return
	}
	if err := ws.vault.CancelDeposit(requestID, time.Now()); err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"cancelled": requestID})
}

func (ws *WebServer) handleCancelWithdraw(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathRequestID(w, r)
	if !ok {
		return
	}
	if err := ws.vault.CancelWithdraw(requestID, time.Now()); err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"cancelled": requestID})
}

type executeBody struct {
	Ceiling string `json:"ceiling,omitempty"`
}

func (ws *WebServer) handleExecuteDeposit(w http.ResponseWriter, r *http.Request) {
	operator, ok := ws.credential(w, r)
	if !ok {
		return
	}
	requestID, ok := pathRequestID(w, r)
	if !ok {
		return
	}
	ceiling, ok := parseOptionalInt(w, r)
	if !ok {
		return
	}

	minted, err := ws.vault.ExecuteDeposit(operator, requestID, ceiling, time.Now())
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"request_id": requestID, "minted_shares": minted.String()})
}

func (ws *WebServer) handleExecuteWithdraw(w http.ResponseWriter, r *http.Request) {
	operator, ok := ws.credential(w, r)
	if !ok {
		return
	}
	requestID, ok := pathRequestID(w, r)
	if !ok {
		return
	}
	ceiling, ok := parseOptionalInt(w, r)
	if !ok {
		return
	}

	paid, err := ws.vault.ExecuteWithdraw(operator, requestID, ceiling, time.Now())
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"request_id": requestID, "net_amount": paid.String()})
}

// --- Valuation and price handlers ---

func (ws *WebServer) handleGetAssetValue(w http.ResponseWriter, r *http.Request) {
	asset := types.AssetTypeID(mux.Vars(r)["type"])
	value, updatedAt, err := ws.vault.AssetValue(asset)
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"asset":      asset,
		"usd_value":  value.String(),
		"updated_at": updatedAt,
	})
}

func (ws *WebServer) handleUpdateAssetValue(w http.ResponseWriter, r *http.Request) {
	asset := types.AssetTypeID(mux.Vars(r)["type"])

	var market types.MarketState
	if asset != types.PrincipalAssetType {
		m, err := ws.markets.MarketFor(asset)
		if err != nil {
			ws.writeVaultError(w, err)
			return
		}
		market = m
	}

	if err := ws.vault.UpdatePositionValue(asset, market, time.Now()); err != nil {
		ws.writeVaultError(w, err)
		return
	}

	value, updatedAt, err := ws.vault.AssetValue(asset)
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"asset":      asset,
		"usd_value":  value.String(),
		"updated_at": updatedAt,
	})
}

type pricePushBody struct {
	Value    string `json:"value"`
	Decimals int    `json:"decimals"`
}

func (ws *WebServer) handlePushPrice(w http.ResponseWriter, r *http.Request) {
	asset := types.AssetTypeID(mux.Vars(r)["asset"])

	var body pricePushBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	value, ok := parseInt(body.Value)
	if !ok {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid price value")
		return
	}

	if err := ws.prices.Update(asset, value, body.Decimals, time.Now()); err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"asset": asset, "value": value.String()})
}

// --- Operation lifecycle handlers ---

type startOperationBody struct {
	Borrow          []string `json:"borrow"`
	PrincipalAmount string   `json:"principal_amount"`
}

func (ws *WebServer) handleStartOperation(w http.ResponseWriter, r *http.Request) {
	operator, ok := ws.credential(w, r)
	if !ok {
		return
	}

	var body startOperationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	principal := sdkmath.ZeroInt()
	if body.PrincipalAmount != "" {
		p, ok := parseInt(body.PrincipalAmount)
		if !ok {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid principal_amount")
			return
		}
		principal = p
	}
	borrow := make([]types.AssetTypeID, 0, len(body.Borrow))
	for _, a := range body.Borrow {
		borrow = append(borrow, types.AssetTypeID(a))
	}

	record, bundle, err := ws.vault.StartOperation(operator, borrow, principal, time.Now())
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.opsMu.Lock()
	ws.ops[record.ID] = &openOperation{record: record, bundle: bundle}
	ws.opsMu.Unlock()

	ws.writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"operation_id":        record.ID.String(),
		"borrowed":            record.Borrowed,
		"principal":           bundle.Principal.String(),
		"total_usd_before":    record.TotalUSDBefore.String(),
		"total_shares_before": record.TotalSharesBefore.String(),
	})
}

type endOperationBody struct {
	ReturnedPrincipal string `json:"returned_principal,omitempty"`
}

func (ws *WebServer) handleEndOperation(w http.ResponseWriter, r *http.Request) {
	operator, ok := ws.credential(w, r)
	if !ok {
		return
	}
	op, ok := ws.openOperationByID(w, r)
	if !ok {
		return
	}

	var body endOperationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.ReturnedPrincipal != "" {
		p, ok := parseInt(body.ReturnedPrincipal)
		if !ok {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid returned_principal")
			return
		}
		op.bundle.Principal = p
	}

	if err := ws.vault.EndOperation(operator, op.bundle, op.record, time.Now()); err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"operation_id": op.record.ID.String(), "phase": "value_update"})
}

func (ws *WebServer) handleFinishOperation(w http.ResponseWriter, r *http.Request) {
	operator, ok := ws.credential(w, r)
	if !ok {
		return
	}
	op, ok := ws.openOperationByID(w, r)
	if !ok {
		return
	}

	if err := ws.vault.FinishOperationValueCheck(operator, op.record, time.Now()); err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.opsMu.Lock()
	delete(ws.ops, op.record.ID)
	ws.opsMu.Unlock()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"operation_id": op.record.ID.String(), "phase": "closed"})
}

type forceCloseBody struct {
	Reason string `json:"reason"`
}

func (ws *WebServer) handleForceCloseOperation(w http.ResponseWriter, r *http.Request) {
	admin, ok := ws.credential(w, r)
	if !ok {
		return
	}

	var body forceCloseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := ws.vault.ForceCloseOperation(admin, body.Reason); err != nil {
		ws.writeVaultError(w, err)
		return
	}
	// Any server-held bookkeeping for the forced operation is now dead.
	ws.opsMu.Lock()
	ws.ops = make(map[uuid.UUID]*openOperation)
	ws.opsMu.Unlock()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"phase": "force_closed"})
}

// --- Admin handlers ---

type setEnabledBody struct {
	Enabled bool `json:"enabled"`
}

func (ws *WebServer) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	admin, ok := ws.credential(w, r)
	if !ok {
		return
	}
	var body setEnabledBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := ws.vault.SetEnabled(admin, body.Enabled); err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"enabled": body.Enabled})
}

type lossToleranceBody struct {
	Bps uint32 `json:"bps"`
}

func (ws *WebServer) handleSetLossTolerance(w http.ResponseWriter, r *http.Request) {
	admin, ok := ws.credential(w, r)
	if !ok {
		return
	}
	var body lossToleranceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := ws.vault.SetLossTolerance(admin, body.Bps); err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"loss_tolerance_bps": body.Bps})
}

func (ws *WebServer) handleResetEpoch(w http.ResponseWriter, r *http.Request) {
	admin, ok := ws.credential(w, r)
	if !ok {
		return
	}
	if err := ws.vault.ResetEpoch(admin, time.Now()); err != nil {
		ws.writeVaultError(w, err)
		return
	}
	newEpoch, err := state.IncrementEpochNumber()
	if err != nil {
		webLogger.Error().Err(err).Msg("Epoch reset succeeded but counter increment failed")
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"epoch_number": newEpoch})
}

func (ws *WebServer) handleCollectFees(w http.ResponseWriter, r *http.Request) {
	admin, ok := ws.credential(w, r)
	if !ok {
		return
	}
	collected, err := ws.vault.CollectFees(admin)
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"collected": collected.String()})
}

func (ws *WebServer) handleFreezeCredential(w http.ResponseWriter, r *http.Request) {
	ws.handleFreezeToggle(w, r, true)
}

func (ws *WebServer) handleUnfreezeCredential(w http.ResponseWriter, r *http.Request) {
	ws.handleFreezeToggle(w, r, false)
}

func (ws *WebServer) handleFreezeToggle(w http.ResponseWriter, r *http.Request, freeze bool) {
	admin, ok := ws.credential(w, r)
	if !ok {
		return
	}
	target, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid credential ID")
		return
	}

	gate := ws.vault.Gate()
	if freeze {
		err = gate.Freeze(admin, target)
	} else {
		err = gate.Unfreeze(admin, target)
	}
	if err != nil {
		ws.writeVaultError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"credential": target.String(), "frozen": freeze})
}

// --- Helpers ---

// credential parses the caller's credential UUID from the request header.
func (ws *WebServer) credential(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(credentialHeader)
	if raw == "" {
		ws.writeErrorResponse(w, http.StatusUnauthorized, "Missing "+credentialHeader+" header")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusUnauthorized, "Malformed credential")
		return uuid.Nil, false
	}
	return id, true
}

func (ws *WebServer) openOperationByID(w http.ResponseWriter, r *http.Request) (*openOperation, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid operation ID")
		return nil, false
	}
	ws.opsMu.Lock()
	op, ok := ws.ops[id]
	ws.opsMu.Unlock()
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "Unknown operation")
		return nil, false
	}
	return op, true
}

func pathRequestID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		writeBadRequest(w, "Invalid request ID")
		return 0, false
	}
	return id, true
}

func parseInt(s string) (sdkmath.Int, bool) {
	return sdkmath.NewIntFromString(s)
}

// parseOptionalInt reads an optional ceiling from the request body; an empty
// body or empty ceiling yields the nil Int, which disables the bound.
func parseOptionalInt(w http.ResponseWriter, r *http.Request) (sdkmath.Int, bool) {
	var body executeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
		writeBadRequest(w, "Invalid request body")
		return sdkmath.Int{}, false
	}
	if body.Ceiling == "" {
		return sdkmath.Int{}, true
	}
	ceiling, ok := parseInt(body.Ceiling)
	if !ok {
		writeBadRequest(w, "Invalid ceiling")
		return sdkmath.Int{}, false
	}
	return ceiling, true
}

func writeBadRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{"error": true, "message": message, "timestamp": time.Now().UTC()})
}

// writeVaultError maps the registered error taxonomy to HTTP status codes.
func (ws *WebServer) writeVaultError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, verrors.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, verrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, verrors.ErrInvalidRequest),
		errors.Is(err, verrors.ErrTruncation),
		errors.Is(err, verrors.ErrOverflow),
		errors.Is(err, verrors.ErrInvalidMarketPrice):
		status = http.StatusBadRequest
	case errors.Is(err, verrors.ErrInvalidState),
		errors.Is(err, verrors.ErrStalePrice),
		errors.Is(err, verrors.ErrStaleValuation),
		errors.Is(err, verrors.ErrValueNotUpdated):
		status = http.StatusConflict
	case errors.Is(err, verrors.ErrSlippageExceeded),
		errors.Is(err, verrors.ErrLossLimitExceeded):
		status = http.StatusUnprocessableEntity
	}
	ws.writeErrorResponse(w, status, err.Error())
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+credentialHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
