package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TrustLayer-Labs/credentials-api/external"
	"github.com/TrustLayer-Labs/credentials-api/models"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	issueHint      = "Make sure snarkos is installed and ALEO_PRIVATE_KEY belongs to an approved issuer."
	addIssuerHint  = "Only the admin address can add issuers."
	proveTierHint  = "Make sure the credential record is valid and not already spent. The ALEO_PRIVATE_KEY must own this record."
	viewKeyHint    = "Make sure ALEO_VIEW_KEY matches the credential owner."
	enumerateHint  = "Track commitments in a database when issuing via /api/aleo/issue-credential."
	enumerateMsg   = "Aleo mappings do not support enumeration. Use /api/verify/:commitment to check individual credentials."
	noSigningKey   = "Aleo private key not configured. Set ALEO_PRIVATE_KEY"
	noViewKey      = "No view key available. Set ALEO_VIEW_KEY or provide viewKey in request."
	recordKeyword  = "score"
	credentialList = 100
)

type IssueCredentialParams struct {
	Recipient string `validate:"required"`
	Score     *int64 `validate:"required,min=0,max=1000"`
	Expiry    *int64 `validate:"required,min=1,max=4294967295"`
	Nonce     string `validate:"required"`
}

type IssueResult struct {
	TxID      string
	Recipient string
	Score     uint16
	Expiry    uint32
	Nonce     string
	Tier      models.Tier
}

func (r *IssueResult) Message() string {
	return fmt.Sprintf("Credential issued: %s (score: %d)", r.Tier.Name(), r.Score)
}

type IssuerResult struct {
	TxID          string
	IssuerAddress string
	Message       string
}

type RevokeCredentialResult struct {
	TxID       string
	Commitment string
}

type ProveTierResult struct {
	TxID        string
	BlockHeight uint32
}

type CredentialRecord struct {
	Plaintext    string
	Ciphertext   string
	TransitionID string
	Function     string
}

type FetchCredentialResult struct {
	TxID    string
	Records []CredentialRecord
}

// CredentialList is either the journal's issuance entries or, with the journal
// disabled, an explanation of why credentials cannot be listed.
type CredentialList struct {
	Enabled     bool
	Credentials []models.JournalEvent
	Total       int64
	Message     string
	Hint        string
}

func (s *Service) requireSigner() error {
	if s.prover == nil || !s.canSign {
		return unavailableError(noSigningKey)
	}
	return nil
}

func (s *Service) resolveViewKey(viewKey string) (string, error) {
	if vk := strings.TrimSpace(viewKey); vk != "" {
		return vk, nil
	}
	if s.viewKey == "" || s.prover == nil {
		return "", unavailableError(noViewKey)
	}
	return s.viewKey, nil
}

func (s *Service) proverError(op string, err error, hint string) error {
	s.m.Counter("prover_failed").Inc()
	if errors.Is(err, external.ErrProverTimeout) {
		s.m.Counter("prover_timeout").Inc()
	}
	return executionError(fmt.Sprintf("Failed to %s: %s", op, err.Error()), hint)
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:12]
}

func issueValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				return validationError("Missing required fields: recipient, score, expiry, nonce")
			}
		}
		switch verrs[0].Field() {
		case "Score":
			return validationError("Score must be between 0 and 1000")
		case "Expiry":
			return validationError("Expiry must be a valid u32 (1 to 4294967295). Use a realistic Aleo block height like 500000.")
		}
	}
	return validationError(err.Error())
}

// IssueCredential executes `issue` for recipient with the given score.
func (s *Service) IssueCredential(ctx context.Context, p IssueCredentialParams) (*IssueResult, error) {
	p.Recipient = strings.TrimSpace(p.Recipient)
	p.Nonce = strings.TrimSpace(p.Nonce)
	if err := s.validate.Struct(p); err != nil {
		return nil, issueValidationError(err)
	}
	if err := s.requireSigner(); err != nil {
		return nil, err
	}
	nonce, err := models.Field(p.Nonce)
	if err != nil {
		return nil, validationError("nonce must be a field element")
	}

	score := uint16(*p.Score)
	expiry := uint32(*p.Expiry)
	tier := models.TierFromScore(int(score))

	s.logger.Info("Issuing credential",
		zap.String("recipient", p.Recipient),
		zap.Uint16("score", score),
		zap.Uint32("expiry", expiry))

	res, err := s.prover.Issue(ctx, p.Recipient, score, expiry, nonce)
	if err != nil {
		return nil, s.proverError("issue credential", err, issueHint)
	}

	s.m.Counter("issue_credential").Inc()
	s.record(models.CredentialIssued, p.Recipient, res.TxID,
		fmt.Sprintf("score=%d tier=%d expiry=%d nonce=%s", score, tier, expiry, nonce))
	return &IssueResult{
		TxID:      res.TxID,
		Recipient: p.Recipient,
		Score:     score,
		Expiry:    expiry,
		Nonce:     nonce,
		Tier:      tier,
	}, nil
}

func (s *Service) AddIssuer(ctx context.Context, issuerAddress string) (*IssuerResult, error) {
	issuerAddress = strings.TrimSpace(issuerAddress)
	if issuerAddress == "" {
		return nil, validationError("issuerAddress is required")
	}
	if err := s.requireSigner(); err != nil {
		return nil, err
	}
	res, err := s.prover.AddIssuer(ctx, issuerAddress)
	if err != nil {
		return nil, s.proverError("add issuer", err, addIssuerHint)
	}
	s.m.Counter("add_issuer").Inc()
	s.record(models.IssuerAdded, issuerAddress, res.TxID, "")
	return &IssuerResult{
		TxID:          res.TxID,
		IssuerAddress: issuerAddress,
		Message:       fmt.Sprintf("Issuer %s... approved", shortAddress(issuerAddress)),
	}, nil
}

func (s *Service) RemoveIssuer(ctx context.Context, issuerAddress string) (*IssuerResult, error) {
	issuerAddress = strings.TrimSpace(issuerAddress)
	if issuerAddress == "" {
		return nil, validationError("issuerAddress is required")
	}
	if err := s.requireSigner(); err != nil {
		return nil, err
	}
	res, err := s.prover.RemoveIssuer(ctx, issuerAddress)
	if err != nil {
		return nil, s.proverError("remove issuer", err, "")
	}
	s.m.Counter("remove_issuer").Inc()
	s.record(models.IssuerRemoved, issuerAddress, res.TxID, "")
	return &IssuerResult{
		TxID:          res.TxID,
		IssuerAddress: issuerAddress,
		Message:       fmt.Sprintf("Issuer %s... removed", shortAddress(issuerAddress)),
	}, nil
}

func (s *Service) RevokeCredential(ctx context.Context, commitment string) (*RevokeCredentialResult, error) {
	commitment = strings.TrimSpace(commitment)
	if commitment == "" {
		return nil, validationError("commitment is required")
	}
	if err := s.requireSigner(); err != nil {
		return nil, err
	}
	res, err := s.prover.Revoke(ctx, commitment)
	if err != nil {
		return nil, s.proverError("revoke credential", err, "")
	}
	s.m.Counter("revoke_credential").Inc()
	s.record(models.CredentialRevoked, commitment, res.TxID, "")
	return &RevokeCredentialResult{TxID: res.TxID, Commitment: commitment}, nil
}

// ProveTier executes prove_tier over a decrypted credential record at the
// current block height.
func (s *Service) ProveTier(ctx context.Context, record string) (*ProveTierResult, error) {
	record = strings.TrimSpace(record)
	if record == "" {
		return nil, validationError("record (credential plaintext) is required")
	}
	if err := s.requireSigner(); err != nil {
		return nil, err
	}

	height, err := s.aleo.BlockHeight(ctx)
	if err != nil {
		s.logger.Warn("Failed to get block height for prove_tier", zap.Error(err))
		return nil, upstreamError("Failed to get block height")
	}

	res, err := s.prover.ProveTier(ctx, record, height)
	if err != nil {
		return nil, s.proverError("execute prove_tier", err, proveTierHint)
	}
	s.m.Counter("prove_tier").Inc()
	s.record(models.TierProved, models.U32(height), res.TxID, "")
	return &ProveTierResult{TxID: res.TxID, BlockHeight: height}, nil
}

func (s *Service) DecryptRecord(ctx context.Context, ciphertext, viewKey string) (string, error) {
	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return "", validationError("ciphertext is required")
	}
	vk, err := s.resolveViewKey(viewKey)
	if err != nil {
		return "", err
	}
	res, err := s.prover.Decrypt(ctx, ciphertext, vk)
	if err != nil {
		return "", s.proverError("decrypt", err, "")
	}
	s.m.Counter("decrypt_record").Inc()
	return res.Stdout, nil
}

// FetchCredential decrypts the record outputs of txID and keeps those that
// look like credentials.
func (s *Service) FetchCredential(ctx context.Context, txID, viewKey string) (*FetchCredentialResult, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, validationError("txId is required")
	}
	vk, err := s.resolveViewKey(viewKey)
	if err != nil {
		return nil, err
	}

	tx, _, err := s.fetchTransaction(ctx, txID, "Transaction not found")
	if err != nil {
		return nil, err
	}

	records := make([]CredentialRecord, 0)
	for _, out := range models.RecordOutputs(tx, s.program) {
		res, err := s.prover.Decrypt(ctx, out.Ciphertext, vk)
		if err != nil {
			// Not ours, or the view key does not match.
			s.logger.Debug("Could not decrypt output",
				zap.String("transitionId", out.TransitionID),
				zap.Error(err))
			continue
		}
		if res.Stdout == "" || !strings.Contains(res.Stdout, recordKeyword) {
			continue
		}
		records = append(records, CredentialRecord{
			Plaintext:    res.Stdout,
			Ciphertext:   out.Ciphertext,
			TransitionID: out.TransitionID,
			Function:     out.Function,
		})
	}

	if len(records) == 0 {
		return nil, notFoundError("No Credential records found in this transaction (or view key cannot decrypt them).", viewKeyHint)
	}
	s.m.Counter("fetch_credential").Inc()
	return &FetchCredentialResult{TxID: txID, Records: records}, nil
}

// ListCredentials returns credentials this service issued. Mappings cannot be
// enumerated, so without the journal there is nothing to list.
func (s *Service) ListCredentials(ctx context.Context) (*CredentialList, error) {
	if !s.JournalEnabled() {
		return &CredentialList{Message: enumerateMsg, Hint: enumerateHint}, nil
	}
	events, total, err := s.ListJournal(ctx, models.CredentialIssued, credentialList)
	if err != nil {
		s.logger.Error("Failed to read journal", zap.Error(err))
		return nil, err
	}
	return &CredentialList{
		Enabled:     true,
		Credentials: events,
		Total:       total,
		Message:     "Credentials issued by this service, newest first.",
	}, nil
}
