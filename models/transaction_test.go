package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProgram = "trustlayer_credentials_amm_v2.aleo"

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
		typ   LiteralType
		value string
	}{
		{"u8", "2u8", true, LiteralU8, "2"},
		{"u8 max", "255u8", true, LiteralU8, "255"},
		{"u8 overflow", "256u8", false, "", ""},
		{"u16", "850u16", true, LiteralU16, "850"},
		{"u32", "4294967295u32", true, LiteralU32, "4294967295"},
		{"u32 overflow", "4294967296u32", false, "", ""},
		{"field", "1234field", true, LiteralField, "1234"},
		{"large field", "8444461749428370424248824938781546531375899335154063827935233455917409239040field", true, LiteralField, "8444461749428370424248824938781546531375899335154063827935233455917409239040"},
		{"no suffix", "1234", false, "", ""},
		{"embedded", "x2u8", false, "", ""},
		{"signed", "-2u8", false, "", ""},
		{"unknown suffix", "2i8", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, ok := ParseLiteral(tt.input)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.typ, l.Type)
			assert.Equal(t, tt.value, l.Value.String())
		})
	}
}

func TestFindFieldLiteral(t *testing.T) {
	l, ok := FindFieldLiteral(`{ program_id: trustlayer_credentials_amm_v2.aleo, function_name: prove_tier, arguments: [ 1234field, 2u8 ] }`)
	require.True(t, ok)
	assert.Equal(t, "1234field", l.String())

	_, ok = FindFieldLiteral("no commitment here 12u8")
	assert.False(t, ok)
}

func TestFieldArgument(t *testing.T) {
	f, err := Field("42")
	require.NoError(t, err)
	assert.Equal(t, "42field", f)

	f, err = Field("42field")
	require.NoError(t, err)
	assert.Equal(t, "42field", f)

	_, err = Field("42u8")
	assert.Error(t, err)

	_, err = Field("nonce")
	assert.Error(t, err)

	assert.Equal(t, "750u16", U16(750))
	assert.Equal(t, "500000u32", U32(500000))
}

func proveTierTx(program string, tier, future string) *Transaction {
	return &Transaction{
		ID: "at1example",
		Execution: &Execution{Transitions: []Transition{{
			ID:       "au1transition",
			Program:  program,
			Function: ProveTierFunction,
			Inputs: []Argument{
				{Type: "private", Value: "ciphertext1qyq"},
				{Type: VisibilityPublic, Value: "123456u32"},
			},
			Outputs: []Argument{
				{Type: VisibilityPublic, Value: tier},
				{Type: VisibilityFuture, Value: future},
			},
		}}},
	}
}

func TestExtractProof(t *testing.T) {
	tx := proveTierTx(testProgram, "2u8", "{ program_id: x.aleo, arguments: [ 1234field ] }")

	pf := ExtractProof(tx, testProgram, ProveTierFunction)
	require.NotNil(t, pf.Tier)
	require.NotNil(t, pf.Commitment)
	require.NotNil(t, pf.BlockHeight)
	assert.Equal(t, TierPro, *pf.Tier)
	assert.Equal(t, "1234field", *pf.Commitment)
	assert.Equal(t, uint32(123456), *pf.BlockHeight)
	assert.Equal(t, 1, pf.Matches)
}

func TestExtractProofIgnoresOtherPrograms(t *testing.T) {
	tx := proveTierTx("someone_else.aleo", "3u8", "1field")

	pf := ExtractProof(tx, testProgram, ProveTierFunction)
	assert.Nil(t, pf.Tier)
	assert.Nil(t, pf.Commitment)
	assert.Equal(t, 0, pf.Matches)

	assert.Equal(t, ProofFields{}, ExtractProof(&Transaction{}, testProgram, ProveTierFunction))
	assert.Equal(t, ProofFields{}, ExtractProof(nil, testProgram, ProveTierFunction))
}

func TestExtractProofFirstMatchWins(t *testing.T) {
	tx := proveTierTx(testProgram, "1u8", "11field")
	second := proveTierTx(testProgram, "3u8", "33field").Execution.Transitions[0]
	tx.Execution.Transitions = append(tx.Execution.Transitions, second)

	pf := ExtractProof(tx, testProgram, ProveTierFunction)
	assert.Equal(t, TierBasic, *pf.Tier)
	assert.Equal(t, "11field", *pf.Commitment)
	assert.Equal(t, 2, pf.Matches)
}

func TestExtractProofMissingFields(t *testing.T) {
	tx := proveTierTx(testProgram, "2u16", "no field here")

	pf := ExtractProof(tx, testProgram, ProveTierFunction)
	assert.Nil(t, pf.Tier)
	assert.Nil(t, pf.Commitment)
	assert.Equal(t, 1, pf.Matches)
}

func TestTransactionDocumentDecoding(t *testing.T) {
	doc := `{
		"type": "execute",
		"id": "at1xyz",
		"execution": {
			"transitions": [{
				"id": "au1abc",
				"program": "trustlayer_credentials_amm_v2.aleo",
				"function": "issue",
				"inputs": [],
				"outputs": [
					{"type": "record", "id": "1field", "checksum": "2field", "value": "record1qyqsq"},
					{"type": "future", "id": "3field", "value": "{ arguments: [ 987field ] }"}
				]
			}],
			"proof": "proof1qqq",
			"global_state_root": "sr1"
		}
	}`

	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(doc), &tx))

	records := RecordOutputs(&tx, testProgram)
	require.Len(t, records, 1)
	assert.Equal(t, RecordOutput{Ciphertext: "record1qyqsq", TransitionID: "au1abc", Function: "issue"}, records[0])

	assert.Empty(t, RecordOutputs(&tx, "other.aleo"))
}

func TestCommitmentDigits(t *testing.T) {
	v, ok := CommitmentDigits("987field")
	require.True(t, ok)
	assert.Equal(t, "987", v.String())

	_, ok = CommitmentDigits("987u8")
	assert.False(t, ok)
	_, ok = CommitmentDigits("987")
	assert.False(t, ok)
}
