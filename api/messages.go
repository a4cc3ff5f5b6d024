package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"mime"
	"net/http"
	"strconv"

	"github.com/TrustLayer-Labs/credentials-api/models"
	"github.com/TrustLayer-Labs/credentials-api/services"
)

// Limit request bodies to 64 KB. Decrypted records are the largest payloads.
const maxRequestSize = 64 * 1024

type errorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

type decodingError struct {
	status int
	msg    string
}

func (br *decodingError) Error() string {
	return br.msg
}

// flexString accepts a JSON string or a bare number. The panels send numeric
// fields either way.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// int64Ptr returns nil for an empty value.
func (f flexString) int64Ptr(field string) (*int64, error) {
	if f == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(string(f), 10, 64)
	if err != nil {
		return nil, &decodingError{status: http.StatusBadRequest, msg: field + " must be an integer"}
	}
	return &n, nil
}

// nullable renders an empty string as JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type healthResponse struct {
	Status     string                 `json:"status"`
	Program    string                 `json:"program"`
	EthEnabled bool                   `json:"ethEnabled"`
	Upstreams  *models.UpstreamStatus `json:"upstreams,omitempty"`
}

type blockHeightResponse struct {
	BlockHeight uint32 `json:"blockHeight"`
}

type issuerResponse struct {
	Address    string `json:"address"`
	IsApproved bool   `json:"isApproved"`
	Degraded   bool   `json:"degraded,omitempty"`
}

type issuedResponse struct {
	Commitment string `json:"commitment"`
	WasIssued  bool   `json:"wasIssued"`
	Degraded   bool   `json:"degraded,omitempty"`
}

type revokedResponse struct {
	Commitment string `json:"commitment"`
	IsRevoked  bool   `json:"isRevoked"`
	Degraded   bool   `json:"degraded,omitempty"`
}

type verifyResponse struct {
	Commitment string `json:"commitment"`
	WasIssued  bool   `json:"wasIssued"`
	IsRevoked  bool   `json:"isRevoked"`
	IsValid    bool   `json:"isValid"`
	Degraded   bool   `json:"degraded,omitempty"`
}

type transactionResponse struct {
	TxID       string          `json:"txId"`
	Tier       *models.Tier    `json:"tier"`
	Commitment *string         `json:"commitment"`
	Raw        json.RawMessage `json:"raw"`
}

type VerifyProofRequest struct {
	TxID string `json:"txId"`
}

type verifyProofResponse struct {
	TxID         string      `json:"txId"`
	Tier         models.Tier `json:"tier"`
	TierName     string      `json:"tierName"`
	Commitment   string      `json:"commitment"`
	CurrentBlock *uint32     `json:"currentBlock"`
	WasIssued    bool        `json:"wasIssued"`
	IsRevoked    bool        `json:"isRevoked"`
	IsValid      bool        `json:"isValid"`
	Degraded     bool        `json:"degraded,omitempty"`
	Message      string      `json:"message"`
}

type hookInfoResponse struct {
	HookAddress       string `json:"hookAddress"`
	Admin             string `json:"admin"`
	Relayer           string `json:"relayer"`
	RelayerConfigured string `json:"relayerConfigured"`
}

type traderResponse struct {
	Address      string      `json:"address"`
	Tier         models.Tier `json:"tier"`
	TierName     string      `json:"tierName"`
	RegisteredAt *big.Int    `json:"registeredAt"`
	Expiry       *big.Int    `json:"expiry"`
	Commitment   string      `json:"commitment"`
	IsRegistered bool        `json:"isRegistered"`
	IsActive     *bool       `json:"isActive,omitempty"`
	FeeBps       *uint32     `json:"feeBps,omitempty"`
}

type tierConfigResponse struct {
	Tier                  models.Tier `json:"tier"`
	FeeBps                uint32      `json:"feeBps"`
	FeePercent            float64     `json:"feePercent"`
	MaxTradeSize          string      `json:"maxTradeSize"`
	MaxTradeSizeFormatted string      `json:"maxTradeSizeFormatted"`
	Enabled               bool        `json:"enabled"`
}

type canSwapResponse struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	AmountWei string `json:"amountWei"`
	CanSwap   bool   `json:"canSwap"`
	Reason    string `json:"reason"`
}

type RegisterTraderRequest struct {
	AleoTxID     string     `json:"aleoTxId"`
	EthAddress   string     `json:"ethAddress"`
	ExpiryBlocks flexString `json:"expiryBlocks"`
}

type registerTraderResponse struct {
	Success     bool        `json:"success"`
	Message     string      `json:"message"`
	AleoTxID    string      `json:"aleoTxId"`
	EthTxHash   string      `json:"ethTxHash"`
	Trader      string      `json:"trader"`
	Tier        models.Tier `json:"tier"`
	TierName    string      `json:"tierName"`
	Commitment  string      `json:"commitment"`
	Expiry      uint64      `json:"expiry"`
	BlockNumber uint64      `json:"blockNumber"`
}

type RevokeTraderRequest struct {
	EthAddress     string `json:"ethAddress"`
	AleoCommitment string `json:"aleoCommitment"`
}

type revokeTraderResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	EthTxHash   string `json:"ethTxHash"`
	Trader      string `json:"trader"`
	BlockNumber uint64 `json:"blockNumber"`
}

type IssueCredentialRequest struct {
	Recipient string     `json:"recipient"`
	Score     flexString `json:"score"`
	Expiry    flexString `json:"expiry"`
	Nonce     flexString `json:"nonce"`
}

type issueCredentialResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	TxID      *string     `json:"txId"`
	Recipient string      `json:"recipient"`
	Score     uint16      `json:"score"`
	Expiry    uint32      `json:"expiry"`
	Nonce     string      `json:"nonce"`
	Tier      models.Tier `json:"tier"`
	TierName  string      `json:"tierName"`
}

type IssuerRequest struct {
	IssuerAddress string `json:"issuerAddress"`
}

type issuerChangeResponse struct {
	Success       bool    `json:"success"`
	Message       string  `json:"message"`
	TxID          *string `json:"txId"`
	IssuerAddress string  `json:"issuerAddress"`
}

type RevokeCredentialRequest struct {
	Commitment string `json:"commitment"`
}

type revokeCredentialResponse struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	TxID       *string `json:"txId"`
	Commitment string  `json:"commitment"`
}

type ProveTierRequest struct {
	Record string `json:"record"`
}

type proveTierResponse struct {
	Success     bool    `json:"success"`
	Message     string  `json:"message"`
	TxID        *string `json:"txId"`
	BlockHeight uint32  `json:"blockHeight"`
}

type DecryptRecordRequest struct {
	Ciphertext string `json:"ciphertext"`
	ViewKey    string `json:"viewKey"`
}

type decryptRecordResponse struct {
	Success   bool   `json:"success"`
	Plaintext string `json:"plaintext"`
}

type FetchCredentialRequest struct {
	TxID    string `json:"txId"`
	ViewKey string `json:"viewKey"`
}

type credentialRecordResponse struct {
	Plaintext    string `json:"plaintext"`
	Ciphertext   string `json:"ciphertext"`
	TransitionID string `json:"transitionId"`
	Function     string `json:"function"`
}

type fetchCredentialResponse struct {
	Success bool                       `json:"success"`
	Records []credentialRecordResponse `json:"records"`
	TxID    string                     `json:"txId"`
}

type credentialsResponse struct {
	Message     string                `json:"message"`
	Hint        string                `json:"hint,omitempty"`
	Credentials []models.JournalEvent `json:"credentials"`
	Total       *int64                `json:"total,omitempty"`
}

func readJSONRequest(w http.ResponseWriter, r *http.Request, req interface{}) error {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		const msg = "Content-Type is not application/json"
		return &decodingError{status: http.StatusUnsupportedMediaType, msg: msg}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestSize)

	// Unknown fields are tolerated; the panels send extra context.
	dec := json.NewDecoder(r.Body)
	err = dec.Decode(req)
	if err != nil || dec.Decode(&struct{}{}) != io.EOF {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &decodingError{status: http.StatusRequestEntityTooLarge, msg: "request body too large"}
		}
		const msg = "invalid or multiple JSON objects in request body"
		return &decodingError{status: http.StatusBadRequest, msg: msg}
	}

	return nil
}

func writeJSONResponse(w http.ResponseWriter, code int, data interface{}) error {
	resp, merr := json.Marshal(data)
	if merr != nil {
		return merr
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, e := w.Write(resp)
	return e
}

func writeJSONError(w http.ResponseWriter, err error) error {
	resp := errorResponse{Error: err.Error()}
	var hinted interface{ Hint() string }
	if errors.As(err, &hinted) {
		resp.Hint = hinted.Hint()
	}

	var de *decodingError
	switch {
	case errors.As(err, &de):
		return writeJSONResponse(w, de.status, resp)
	case errors.Is(err, &services.ValidationError{}):
		return writeJSONResponse(w, http.StatusBadRequest, resp)
	case errors.Is(err, &services.NotFoundError{}):
		return writeJSONResponse(w, http.StatusNotFound, resp)
	case errors.Is(err, &services.UnavailableError{}):
		return writeJSONResponse(w, http.StatusServiceUnavailable, resp)
	case errors.Is(err, &services.UpstreamError{}):
		return writeJSONResponse(w, http.StatusBadGateway, resp)
	case errors.Is(err, &services.ExecutionError{}):
		return writeJSONResponse(w, http.StatusInternalServerError, resp)
	case errors.Is(err, errUnauthorized):
		return writeJSONResponse(w, http.StatusUnauthorized, resp)
	default:
		return writeJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}
