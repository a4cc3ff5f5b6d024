package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/TrustLayer-Labs/credentials-api/external"
	"github.com/TrustLayer-Labs/credentials-api/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CredentialStatus is the combined issued/revoked answer for a commitment.
// Degraded is set when a lookup failed; IsValid is then always false.
type CredentialStatus struct {
	Commitment string
	WasIssued  bool
	IsRevoked  bool
	IsValid    bool
	Degraded   bool
}

// FlagStatus is the answer for a single mapping lookup. A failed lookup reads
// as false with Degraded set.
type FlagStatus struct {
	Key      string
	Value    bool
	Degraded bool
}

type TransactionSummary struct {
	TxID       string
	Tier       *models.Tier
	Commitment *string
	Raw        json.RawMessage
}

type ProofVerification struct {
	TxID         string
	Tier         models.Tier
	Commitment   string
	CurrentBlock *uint32
	Status       CredentialStatus
}

func (p *ProofVerification) Message() string {
	if p.Status.IsValid {
		return "Valid " + p.Tier.Name() + " credential"
	}
	if p.Status.Degraded {
		return "Credential status unavailable (ledger lookup failed)"
	}
	return "Invalid credential (not issued or revoked)"
}

// CheckCredential looks up both mappings for commitment concurrently. The
// credential is valid only when it was issued and has not been revoked. Any
// lookup failure makes the answer invalid.
func (s *Service) CheckCredential(ctx context.Context, commitment string) (*CredentialStatus, error) {
	commitment = strings.TrimSpace(commitment)
	if commitment == "" {
		return nil, validationError("commitment is required")
	}

	var issued, revoked models.MappingValue
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		issued, err = s.aleo.QueryMapping(gctx, models.MappingIssued, commitment)
		return err
	})
	g.Go(func() error {
		var err error
		revoked, err = s.aleo.QueryMapping(gctx, models.MappingRevoked, commitment)
		return err
	})

	status := &CredentialStatus{Commitment: commitment}
	if err := g.Wait(); err != nil {
		s.logger.Warn("Credential lookup failed, reporting invalid",
			zap.String("commitment", commitment),
			zap.Error(err))
		s.m.Counter("credential_lookup_failed").Inc()
		status.Degraded = true
	}

	status.WasIssued = issued.IsTrue()
	status.IsRevoked = revoked.IsTrue()
	status.IsValid = !status.Degraded && status.WasIssued && !status.IsRevoked
	s.m.Counter("credential_checked").Inc()
	return status, nil
}

func (s *Service) mappingFlag(ctx context.Context, mapping, key string) (*FlagStatus, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, validationError("key is required")
	}
	v, err := s.aleo.QueryMapping(ctx, mapping, key)
	if err != nil {
		s.logger.Warn("Mapping lookup failed",
			zap.String("mapping", mapping),
			zap.String("key", key),
			zap.Error(err))
		s.m.Counter("mapping_lookup_failed").Inc()
		return &FlagStatus{Key: key, Degraded: true}, nil
	}
	return &FlagStatus{Key: key, Value: v.IsTrue()}, nil
}

// IssuerApproved reports whether address is in the approved issuer set.
func (s *Service) IssuerApproved(ctx context.Context, address string) (*FlagStatus, error) {
	return s.mappingFlag(ctx, models.MappingApprovedIssuers, address)
}

func (s *Service) WasIssued(ctx context.Context, commitment string) (*FlagStatus, error) {
	return s.mappingFlag(ctx, models.MappingIssued, commitment)
}

func (s *Service) IsRevoked(ctx context.Context, commitment string) (*FlagStatus, error) {
	return s.mappingFlag(ctx, models.MappingRevoked, commitment)
}

func (s *Service) BlockHeight(ctx context.Context) (uint32, error) {
	h, err := s.aleo.BlockHeight(ctx)
	if err != nil {
		s.logger.Warn("Failed to get block height", zap.Error(err))
		return 0, executionError("Failed to get block height", "")
	}
	return h, nil
}

// fetchTransaction maps explorer failures onto service errors.
func (s *Service) fetchTransaction(ctx context.Context, txID, notFoundMsg string) (*models.Transaction, json.RawMessage, error) {
	tx, raw, err := s.aleo.Transaction(ctx, txID)
	if errors.Is(err, external.ErrNotFound) {
		s.m.Counter("transaction_not_found").Inc()
		return nil, nil, notFoundError(notFoundMsg, "")
	}
	if err != nil {
		s.logger.Warn("Failed to fetch transaction", zap.String("txId", txID), zap.Error(err))
		return nil, nil, upstreamError("Failed to fetch transaction from Aleo")
	}
	return tx, raw, nil
}

func (s *Service) extractProof(tx *models.Transaction) models.ProofFields {
	pf := models.ExtractProof(tx, s.program, models.ProveTierFunction)
	if pf.Matches > 1 {
		s.logger.Warn("Transaction has several prove_tier transitions, using the first values found",
			zap.String("txId", tx.ID),
			zap.Int("matches", pf.Matches))
	}
	return pf
}

// GetTransaction returns the explorer document for txID together with the
// tier and commitment of its proof transition, when present.
func (s *Service) GetTransaction(ctx context.Context, txID string) (*TransactionSummary, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, validationError("txId is required")
	}
	tx, raw, err := s.fetchTransaction(ctx, txID, "Transaction not found")
	if err != nil {
		return nil, err
	}
	pf := s.extractProof(tx)
	return &TransactionSummary{
		TxID:       txID,
		Tier:       pf.Tier,
		Commitment: pf.Commitment,
		Raw:        raw,
	}, nil
}

// VerifyProof checks that txID carries a tier proof whose commitment is still
// valid on the ledger.
func (s *Service) VerifyProof(ctx context.Context, txID string) (*ProofVerification, error) {
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return nil, validationError("txId is required")
	}
	tx, _, err := s.fetchTransaction(ctx, txID, "Transaction not found")
	if err != nil {
		return nil, err
	}

	pf := s.extractProof(tx)
	if pf.Tier == nil || pf.Commitment == nil {
		s.m.Counter("verify_proof_unparsable").Inc()
		return nil, validationError("Could not extract tier or commitment from transaction")
	}

	status, err := s.CheckCredential(ctx, *pf.Commitment)
	if err != nil {
		return nil, err
	}

	s.m.Counter("verify_proof").Inc()
	return &ProofVerification{
		TxID:         txID,
		Tier:         *pf.Tier,
		Commitment:   *pf.Commitment,
		CurrentBlock: pf.BlockHeight,
		Status:       *status,
	}, nil
}
