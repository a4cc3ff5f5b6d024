package services

import (
	"context"
	"errors"
	"testing"

	"github.com/TrustLayer-Labs/credentials-api/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCredential(t *testing.T) {
	tests := []struct {
		name      string
		issued    models.MappingValue
		revoked   models.MappingValue
		failOn    string
		wantValid bool
		degraded  bool
	}{
		{"issued and not revoked", models.MappingTrue, models.MappingFalse, "", true, false},
		{"issued with revoked absent", models.MappingTrue, models.MappingAbsent, "", true, false},
		{"issued and revoked", models.MappingTrue, models.MappingTrue, "", false, false},
		{"never issued", models.MappingAbsent, models.MappingAbsent, "", false, false},
		{"issued false", models.MappingFalse, models.MappingFalse, "", false, false},
		{"issued lookup fails", models.MappingTrue, models.MappingFalse, models.MappingIssued, false, true},
		{"revoked lookup fails", models.MappingTrue, models.MappingFalse, models.MappingRevoked, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestService(t)
			env.chain.set(models.MappingIssued, "987field", tt.issued)
			env.chain.set(models.MappingRevoked, "987field", tt.revoked)
			if tt.failOn != "" {
				env.chain.fail(tt.failOn, "987field")
			}

			status, err := env.svc.CheckCredential(context.Background(), "987field")
			require.NoError(t, err)
			assert.Equal(t, "987field", status.Commitment)
			assert.Equal(t, tt.wantValid, status.IsValid)
			assert.Equal(t, tt.degraded, status.Degraded)
		})
	}
}

func TestCheckCredentialIsIdempotent(t *testing.T) {
	env := setupTestService(t)
	env.chain.set(models.MappingIssued, "1field", models.MappingTrue)

	first, err := env.svc.CheckCredential(context.Background(), "1field")
	require.NoError(t, err)
	second, err := env.svc.CheckCredential(context.Background(), "1field")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 4, env.chain.lookups)
}

func TestCheckCredentialRequiresCommitment(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.CheckCredential(context.Background(), "  ")
	assert.ErrorIs(t, err, &ValidationError{})
}

func TestMappingFlags(t *testing.T) {
	env := setupTestService(t)
	env.chain.set(models.MappingApprovedIssuers, "aleo1issuer", models.MappingTrue)
	env.chain.fail(models.MappingRevoked, "2field")

	flag, err := env.svc.IssuerApproved(context.Background(), "aleo1issuer")
	require.NoError(t, err)
	assert.True(t, flag.Value)
	assert.False(t, flag.Degraded)

	flag, err = env.svc.WasIssued(context.Background(), "2field")
	require.NoError(t, err)
	assert.False(t, flag.Value)

	flag, err = env.svc.IsRevoked(context.Background(), "2field")
	require.NoError(t, err)
	assert.False(t, flag.Value)
	assert.True(t, flag.Degraded)
}

func TestBlockHeight(t *testing.T) {
	env := setupTestService(t)
	env.chain.height = 4242

	h, err := env.svc.BlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(4242), h)

	env.chain.heightErr = errUpstream
	_, err = env.svc.BlockHeight(context.Background())
	assert.ErrorIs(t, err, &ExecutionError{})
}

func TestGetTransaction(t *testing.T) {
	env := setupTestService(t)
	env.chain.txs["at1proof"] = proofTx("at1proof", "2u8", "987field")
	env.chain.txs["at1other"] = &models.Transaction{ID: "at1other", Type: "execute"}

	summary, err := env.svc.GetTransaction(context.Background(), "at1proof")
	require.NoError(t, err)
	require.NotNil(t, summary.Tier)
	require.NotNil(t, summary.Commitment)
	assert.Equal(t, models.TierPro, *summary.Tier)
	assert.Equal(t, "987field", *summary.Commitment)
	assert.Contains(t, string(summary.Raw), "au1at1proof")

	summary, err = env.svc.GetTransaction(context.Background(), "at1other")
	require.NoError(t, err)
	assert.Nil(t, summary.Tier)
	assert.Nil(t, summary.Commitment)

	_, err = env.svc.GetTransaction(context.Background(), "at1missing")
	assert.ErrorIs(t, err, &NotFoundError{})

	env.chain.txErr = errors.New("explorer returned 500")
	_, err = env.svc.GetTransaction(context.Background(), "at1proof")
	assert.ErrorIs(t, err, &UpstreamError{})
}

func TestVerifyProof(t *testing.T) {
	env := setupTestService(t)
	env.chain.txs["at1proof"] = proofTx("at1proof", "2u8", "987field")
	env.chain.set(models.MappingIssued, "987field", models.MappingTrue)
	env.chain.set(models.MappingRevoked, "987field", models.MappingFalse)

	v, err := env.svc.VerifyProof(context.Background(), "at1proof")
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, v.Tier)
	assert.Equal(t, "Tier B (Pro)", v.Tier.Name())
	assert.Equal(t, "987field", v.Commitment)
	require.NotNil(t, v.CurrentBlock)
	assert.Equal(t, uint32(500000), *v.CurrentBlock)
	assert.True(t, v.Status.WasIssued)
	assert.False(t, v.Status.IsRevoked)
	assert.True(t, v.Status.IsValid)
	assert.Equal(t, "Valid Tier B (Pro) credential", v.Message())
}

func TestVerifyProofRevoked(t *testing.T) {
	env := setupTestService(t)
	env.chain.txs["at1proof"] = proofTx("at1proof", "3u8", "55field")
	env.chain.set(models.MappingIssued, "55field", models.MappingTrue)
	env.chain.set(models.MappingRevoked, "55field", models.MappingTrue)

	v, err := env.svc.VerifyProof(context.Background(), "at1proof")
	require.NoError(t, err)
	assert.False(t, v.Status.IsValid)
	assert.Equal(t, "Invalid credential (not issued or revoked)", v.Message())
}

func TestVerifyProofErrors(t *testing.T) {
	env := setupTestService(t)
	env.chain.txs["at1bad"] = &models.Transaction{ID: "at1bad", Execution: &models.Execution{
		Transitions: []models.Transition{{Program: "credits.aleo", Function: "transfer_public"}},
	}}

	_, err := env.svc.VerifyProof(context.Background(), "")
	assert.ErrorIs(t, err, &ValidationError{})
	assert.EqualError(t, err, "txId is required")

	_, err = env.svc.VerifyProof(context.Background(), "at1missing")
	assert.ErrorIs(t, err, &NotFoundError{})
	assert.EqualError(t, err, "Transaction not found")

	_, err = env.svc.VerifyProof(context.Background(), "at1bad")
	assert.ErrorIs(t, err, &ValidationError{})
	assert.EqualError(t, err, "Could not extract tier or commitment from transaction")
}
