package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/TrustLayer-Labs/credentials-api/metrics"
	"github.com/TrustLayer-Labs/credentials-api/models"
	"github.com/TrustLayer-Labs/credentials-api/services"
	"github.com/TrustLayer-Labs/credentials-api/util"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// UpstreamReporter returns the latest reachability probe, or nil before the
// first one completes.
type UpstreamReporter interface {
	Snapshot() *models.UpstreamStatus
}

type RouterConfig struct {
	AllowedOrigins []string
	// JWTSecret enables bearer authentication on the Aleo admin routes.
	JWTSecret string
	Upstreams UpstreamReporter
	// Static serves the panel bundle for every path no API route claims.
	Static http.Handler
}

type issuerOp func(ctx context.Context, issuerAddress string) (*services.IssuerResult, error)

type apiRouter struct {
	svc       *services.Service
	upstreams UpstreamReporter
	logger    *zap.Logger
}

func (ar *apiRouter) Health(w http.ResponseWriter, r *http.Request) error {
	resp := healthResponse{
		Status:     "ok",
		Program:    ar.svc.Program(),
		EthEnabled: ar.svc.EthEnabled(),
	}
	if ar.upstreams != nil {
		resp.Upstreams = ar.upstreams.Snapshot()
	}
	return writeJSONResponse(w, http.StatusOK, resp)
}

func (ar *apiRouter) BlockHeight(w http.ResponseWriter, r *http.Request) error {
	height, err := ar.svc.BlockHeight(r.Context())
	if err != nil {
		return writeJSONError(w, err)
	}
	return writeJSONResponse(w, http.StatusOK, blockHeightResponse{BlockHeight: height})
}

func (ar *apiRouter) Issuer(w http.ResponseWriter, r *http.Request) error {
	flag, err := ar.svc.IssuerApproved(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		return writeJSONError(w, err)
	}
	return writeJSONResponse(w, http.StatusOK, issuerResponse{
		Address:    flag.Key,
		IsApproved: flag.Value,
		Degraded:   flag.Degraded,
	})
}

func (ar *apiRouter) Issued(w http.ResponseWriter, r *http.Request) error {
	flag, err := ar.svc.WasIssued(r.Context(), mux.Vars(r)["commitment"])
	if err != nil {
		return writeJSONError(w, err)
	}
	return writeJSONResponse(w, http.StatusOK, issuedResponse{
		Commitment: flag.Key,
		WasIssued:  flag.Value,
		Degraded:   flag.Degraded,
	})
}

func (ar *apiRouter) Revoked(w http.ResponseWriter, r *http.Request) error {
	flag, err := ar.svc.IsRevoked(r.Context(), mux.Vars(r)["commitment"])
	if err != nil {
		return writeJSONError(w, err)
	}
	return writeJSONResponse(w, http.StatusOK, revokedResponse{
		Commitment: flag.Key,
		IsRevoked:  flag.Value,
		Degraded:   flag.Degraded,
	})
}

func (ar *apiRouter) Verify(w http.ResponseWriter, r *http.Request) error {
	status, err := ar.svc.CheckCredential(r.Context(), mux.Vars(r)["commitment"])
	if err != nil {
		return writeJSONError(w, err)
	}
	if status.Degraded {
		requestLogger(r, ar.logger).Warn("Credential check degraded", zap.String("commitment", status.Commitment))
	}
	return writeJSONResponse(w, http.StatusOK, verifyResponse{
		Commitment: status.Commitment,
		WasIssued:  status.WasIssued,
		IsRevoked:  status.IsRevoked,
		IsValid:    status.IsValid,
		Degraded:   status.Degraded,
	})
}

func (ar *apiRouter) Transaction(w http.ResponseWriter, r *http.Request) error {
	summary, err := ar.svc.GetTransaction(r.Context(), mux.Vars(r)["txId"])
	if err != nil {
		return writeJSONError(w, err)
	}
	return writeJSONResponse(w, http.StatusOK, transactionResponse{
		TxID:       summary.TxID,
		Tier:       summary.Tier,
		Commitment: summary.Commitment,
		Raw:        summary.Raw,
	})
}

func (ar *apiRouter) VerifyProof(w http.ResponseWriter, r *http.Request) error {
	var req VerifyProofRequest
	if err := readJSONRequest(w, r, &req); err != nil {
		return writeJSONError(w, err)
	}

	v, err := ar.svc.VerifyProof(r.Context(), req.TxID)
	if err != nil {
		return writeJSONError(w, err)
	}

	requestLogger(r, ar.logger).Info("Verified tier proof",
		zap.String("txId", v.TxID),
		zap.String("tier", v.Tier.Name()),
		zap.Bool("valid", v.Status.IsValid))

	return writeJSONResponse(w, http.StatusOK, verifyProofResponse{
		TxID:         v.TxID,
		Tier:         v.Tier,
		TierName:     v.Tier.Name(),
		Commitment:   v.Commitment,
		CurrentBlock: v.CurrentBlock,
		WasIssued:    v.Status.WasIssued,
		IsRevoked:    v.Status.IsRevoked,
		IsValid:      v.Status.IsValid,
		Degraded:     v.Status.Degraded,
		Message:      v.Message(),
	})
}

func (ar *apiRouter) HookInfo(w http.ResponseWriter, r *http.Request) error {
	status, err := ar.svc.HookInfo(r.Context())
	if err != nil {
		return writeJSONError(w, err)
	}
	return writeJSONResponse(w, http.StatusOK, hookInfoResponse{
		HookAddress:       status.Info.HookAddress.Hex(),
		Admin:             status.Info.Admin.Hex(),
		Relayer:           status.Info.Relayer.Hex(),
		RelayerConfigured: status.RelayerConfigured.Hex(),
	})
}

func (ar *apiRouter) Trader(w http.ResponseWriter, r *http.Request) error {
	status, err := ar.svc.TraderInfo(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		return writeJSONError(w, err)
	}
	info := status.Info
	return writeJSONResponse(w, http.StatusOK, traderResponse{
		Address:      status.Address.Hex(),
		Tier:         info.Tier,
		TierName:     info.Tier.RegistrationName(),
		RegisteredAt: info.RegisteredAt,
		Expiry:       info.Expiry,
		Commitment:   info.Commitment.Hex(),
		IsRegistered: info.IsRegistered(),
		IsActive:     status.IsActive,
		FeeBps:       status.FeeBps,
	})
}

func (ar *apiRouter) Tier(w http.ResponseWriter, r *http.Request) error {
	status, err := ar.svc.TierConfig(r.Context(), mux.Vars(r)["tier"])
	if err != nil {
		return writeJSONError(w, err)
	}
	cfg := status.Config
	resp := tierConfigResponse{
		Tier:                  status.Tier,
		FeeBps:                cfg.FeeBps,
		FeePercent:            cfg.FeePercent(),
		MaxTradeSize:          "0",
		MaxTradeSizeFormatted: util.FormatEther(cfg.MaxTradeSize),
		Enabled:               cfg.Enabled,
	}
	if cfg.MaxTradeSize != nil {
		resp.MaxTradeSize = cfg.MaxTradeSize.String()
	}
	return writeJSONResponse(w, http.StatusOK, resp)
}

func (ar *apiRouter) CanSwap(w http.ResponseWriter, r *http.Request) error {
	vars := mux.Vars(r)
	check, err := ar.svc.CanSwap(r.Context(), vars["address"], vars["amount"])
	if err != nil {
		return writeJSONError(w, err)
	}
	return writeJSONResponse(w, http.StatusOK, canSwapResponse{
		Address:   check.Address.Hex(),
		Amount:    check.Amount,
		AmountWei: check.AmountWei.String(),
		CanSwap:   check.CanSwap,
		Reason:    check.Reason,
	})
}

func (ar *apiRouter) RegisterTrader(w http.ResponseWriter, r *http.Request) error {
	var req RegisterTraderRequest
	if err := readJSONRequest(w, r, &req); err != nil {
		return writeJSONError(w, err)
	}

	var expiryBlocks uint64
	if req.ExpiryBlocks != "" {
		n, err := strconv.ParseUint(string(req.ExpiryBlocks), 10, 64)
		if err != nil {
			msg := "expiryBlocks must be a positive integer"
			return writeJSONError(w, &decodingError{status: http.StatusBadRequest, msg: msg})
		}
		expiryBlocks = n
	}

	logger := requestLogger(r, ar.logger)
	logger.Info("Got trader registration request",
		zap.String("aleoTxId", req.AleoTxID),
		zap.String("ethAddress", req.EthAddress),
		zap.Uint64("expiryBlocks", expiryBlocks))

	reg, err := ar.svc.RegisterTrader(r.Context(), services.RegisterTraderParams{
		AleoTxID:     req.AleoTxID,
		EthAddress:   req.EthAddress,
		ExpiryBlocks: expiryBlocks,
	})
	if err != nil {
		logger.Warn("Trader registration failed", zap.Error(err))
		return writeJSONError(w, err)
	}

	return writeJSONResponse(w, http.StatusOK, registerTraderResponse{
		Success:     true,
		Message:     reg.Message(),
		AleoTxID:    reg.AleoTxID,
		EthTxHash:   reg.EthTxHash.Hex(),
		Trader:      reg.Trader.Hex(),
		Tier:        reg.Tier,
		TierName:    reg.Tier.Name(),
		Commitment:  reg.Commitment.Hex(),
		Expiry:      reg.Expiry,
		BlockNumber: reg.BlockNumber,
	})
}

func (ar *apiRouter) RevokeTrader(w http.ResponseWriter, r *http.Request) error {
	var req RevokeTraderRequest
	if err := readJSONRequest(w, r, &req); err != nil {
		return writeJSONError(w, err)
	}

	rev, err := ar.svc.RevokeTrader(r.Context(), services.RevokeTraderParams{
		EthAddress:     req.EthAddress,
		AleoCommitment: req.AleoCommitment,
	})
	if err != nil {
		return writeJSONError(w, err)
	}

	return writeJSONResponse(w, http.StatusOK, revokeTraderResponse{
		Success:     true,
		Message:     "Trader revoked successfully",
		EthTxHash:   rev.EthTxHash.Hex(),
		Trader:      rev.Trader.Hex(),
		BlockNumber: rev.BlockNumber,
	})
}

func (ar *apiRouter) IssueCredential(w http.ResponseWriter, r *http.Request) error {
	var req IssueCredentialRequest
	if err := readJSONRequest(w, r, &req); err != nil {
		return writeJSONError(w, err)
	}

	score, err := req.Score.int64Ptr("score")
	if err != nil {
		return writeJSONError(w, err)
	}
	expiry, err := req.Expiry.int64Ptr("expiry")
	if err != nil {
		return writeJSONError(w, err)
	}

	res, err := ar.svc.IssueCredential(r.Context(), services.IssueCredentialParams{
		Recipient: req.Recipient,
		Score:     score,
		Expiry:    expiry,
		Nonce:     string(req.Nonce),
	})
	if err != nil {
		return writeJSONError(w, err)
	}

	requestLogger(r, ar.logger).Info("Issued credential",
		zap.String("recipient", res.Recipient),
		zap.String("txId", res.TxID))

	return writeJSONResponse(w, http.StatusOK, issueCredentialResponse{
		Success:   true,
		Message:   res.Message(),
		TxID:      nullable(res.TxID),
		Recipient: res.Recipient,
		Score:     res.Score,
		Expiry:    res.Expiry,
		Nonce:     res.Nonce,
		Tier:      res.Tier,
		TierName:  res.Tier.Name(),
	})
}

func (ar *apiRouter) AddIssuer(w http.ResponseWriter, r *http.Request) error {
	return ar.changeIssuer(w, r, ar.svc.AddIssuer)
}

func (ar *apiRouter) RemoveIssuer(w http.ResponseWriter, r *http.Request) error {
	return ar.changeIssuer(w, r, ar.svc.RemoveIssuer)
}

func (ar *apiRouter) changeIssuer(w http.ResponseWriter, r *http.Request, op issuerOp) error {
	var req IssuerRequest
	if err := readJSONRequest(w, r, &req); err != nil {
		return writeJSONError(w, err)
	}
	res, err := op(r.Context(), req.IssuerAddress)
	if err != nil {
		return writeJSONError(w, err)
	}
	return writeJSONResponse(w, http.StatusOK, issuerChangeResponse{
		Success:       true,
		Message:       res.Message,
		TxID:          nullable(res.TxID),
		IssuerAddress: res.IssuerAddress,
	})
}

func (ar *apiRouter) RevokeCredential(w http.ResponseWriter, r *http.Request) error {
	var req RevokeCredentialRequest
	if err := readJSONRequest(w, r, &req); err != nil {
		return writeJSONError(w, err)
	}
	res, err := ar.svc.RevokeCredential(r.Context(), req.Commitment)
	if err != nil {
		return writeJSONError(w, err)
	}
	return writeJSONResponse(w, http.StatusOK, revokeCredentialResponse{
		Success:    true,
		Message:    "Credential revoked on Aleo",
		TxID:       nullable(res.TxID),
		Commitment: res.Commitment,
	})
}

func (ar *apiRouter) ProveTier(w http.ResponseWriter, r *http.Request) error {
	var req ProveTierRequest
	if err := readJSONRequest(w, r, &req); err != nil {
		return writeJSONError(w, err)
	}
	res, err := ar.svc.ProveTier(r.Context(), req.Record)
	if err != nil {
		return writeJSONError(w, err)
	}
	return writeJSONResponse(w, http.StatusOK, proveTierResponse{
		Success:     true,
		Message:     "ZK tier proof generated and broadcast!",
		TxID:        nullable(res.TxID),
		BlockHeight: res.BlockHeight,
	})
}

func (ar *apiRouter) DecryptRecord(w http.ResponseWriter, r *http.Request) error {
	var req DecryptRecordRequest
	if err := readJSONRequest(w, r, &req); err != nil {
		return writeJSONError(w, err)
	}
	plaintext, err := ar.svc.DecryptRecord(r.Context(), req.Ciphertext, req.ViewKey)
	if err != nil {
		return writeJSONError(w, err)
	}
	return writeJSONResponse(w, http.StatusOK, decryptRecordResponse{Success: true, Plaintext: plaintext})
}

func (ar *apiRouter) FetchCredential(w http.ResponseWriter, r *http.Request) error {
	var req FetchCredentialRequest
	if err := readJSONRequest(w, r, &req); err != nil {
		return writeJSONError(w, err)
	}
	res, err := ar.svc.FetchCredential(r.Context(), req.TxID, req.ViewKey)
	if err != nil {
		return writeJSONError(w, err)
	}

	records := make([]credentialRecordResponse, 0, len(res.Records))
	for _, rec := range res.Records {
		records = append(records, credentialRecordResponse{
			Plaintext:    rec.Plaintext,
			Ciphertext:   rec.Ciphertext,
			TransitionID: rec.TransitionID,
			Function:     rec.Function,
		})
	}
	return writeJSONResponse(w, http.StatusOK, fetchCredentialResponse{
		Success: true,
		Records: records,
		TxID:    res.TxID,
	})
}

func (ar *apiRouter) Credentials(w http.ResponseWriter, r *http.Request) error {
	list, err := ar.svc.ListCredentials(r.Context())
	if err != nil {
		return writeJSONError(w, err)
	}
	resp := credentialsResponse{
		Message:     list.Message,
		Hint:        list.Hint,
		Credentials: list.Credentials,
	}
	if resp.Credentials == nil {
		resp.Credentials = []models.JournalEvent{}
	}
	if list.Enabled {
		resp.Total = &list.Total
	}
	return writeJSONResponse(w, http.StatusOK, resp)
}

// Wrapper to log unhandled errors.
// Note that this wrapper is only for last resort errors. For example, caused by
// error handling functions not being able to write a response to the client.
func (ar *apiRouter) wrapHandler(h func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			requestLogger(r, ar.logger).Error("Error handling request", zap.Error(err))
		}
	}
}

func NewAPIRouter(svc *services.Service, config RouterConfig, logger *zap.Logger) *mux.Router {
	// Create router.
	ah := &apiRouter{
		svc,
		config.Upstreams,
		logger,
	}
	r := mux.NewRouter()
	r.Use(requestID(logger))

	getMethods := []string{http.MethodGet, http.MethodOptions}
	postMethods := []string{http.MethodPost, http.MethodOptions}

	r.HandleFunc("/health", ah.wrapHandler(ah.Health)).Methods(getMethods...)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	sr := r.PathPrefix("/api").Subrouter()

	// Register handlers.
	sr.HandleFunc("/block-height", ah.wrapHandler(ah.BlockHeight)).Methods(getMethods...)
	sr.HandleFunc("/issuer/{address}", ah.wrapHandler(ah.Issuer)).Methods(getMethods...)
	sr.HandleFunc("/issued/{commitment}", ah.wrapHandler(ah.Issued)).Methods(getMethods...)
	sr.HandleFunc("/revoked/{commitment}", ah.wrapHandler(ah.Revoked)).Methods(getMethods...)
	sr.HandleFunc("/verify/{commitment}", ah.wrapHandler(ah.Verify)).Methods(getMethods...)
	sr.HandleFunc("/transaction/{txId}", ah.wrapHandler(ah.Transaction)).Methods(getMethods...)
	sr.HandleFunc("/verify-proof", ah.wrapHandler(ah.VerifyProof)).Methods(postMethods...)

	sr.HandleFunc("/eth/hook-info", ah.wrapHandler(ah.HookInfo)).Methods(getMethods...)
	sr.HandleFunc("/eth/trader/{address}", ah.wrapHandler(ah.Trader)).Methods(getMethods...)
	sr.HandleFunc("/eth/tier/{tier}", ah.wrapHandler(ah.Tier)).Methods(getMethods...)
	sr.HandleFunc("/eth/can-swap/{address}/{amount}", ah.wrapHandler(ah.CanSwap)).Methods(getMethods...)
	sr.HandleFunc("/eth/register-trader", ah.wrapHandler(ah.RegisterTrader)).Methods(postMethods...)
	sr.HandleFunc("/eth/revoke-trader", ah.wrapHandler(ah.RevokeTrader)).Methods(postMethods...)

	// Must be registered before the admin subrouter, which claims the prefix.
	sr.HandleFunc("/aleo/credentials", ah.wrapHandler(ah.Credentials)).Methods(getMethods...)

	admin := sr.PathPrefix("/aleo").Subrouter()
	if config.JWTSecret != "" {
		admin.Use(adminAuth([]byte(config.JWTSecret), logger))
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set, Aleo admin routes are unauthenticated")
	}
	admin.HandleFunc("/issue-credential", ah.wrapHandler(ah.IssueCredential)).Methods(postMethods...)
	admin.HandleFunc("/add-issuer", ah.wrapHandler(ah.AddIssuer)).Methods(postMethods...)
	admin.HandleFunc("/remove-issuer", ah.wrapHandler(ah.RemoveIssuer)).Methods(postMethods...)
	admin.HandleFunc("/revoke-credential", ah.wrapHandler(ah.RevokeCredential)).Methods(postMethods...)
	admin.HandleFunc("/prove-tier", ah.wrapHandler(ah.ProveTier)).Methods(postMethods...)
	admin.HandleFunc("/decrypt-record", ah.wrapHandler(ah.DecryptRecord)).Methods(postMethods...)
	admin.HandleFunc("/fetch-credential", ah.wrapHandler(ah.FetchCredential)).Methods(postMethods...)

	// CORS support.
	ch := cors.New(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders:   []string{"Content-Type", requestIDHeader},
		AllowCredentials: false,
		Debug:            logger.Level() == zap.DebugLevel,
	})
	sr.Use(ch.Handler)

	if config.Static != nil {
		r.PathPrefix("/").Handler(config.Static)
	}

	return r
}

