package util

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWallet(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))
	for _, input := range []string{hexKey, "0x" + hexKey, " 0x" + hexKey + "\n"} {
		loaded, err := LoadWallet(input)
		require.NoError(t, err)
		assert.Equal(t, address, *loaded.Address)
	}

	_, err = LoadWallet("not-a-key")
	assert.Error(t, err)
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0xEA28d002042fd9898D0Db016be9758eeAFE35C1E")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xea28d002042fd9898d0db016be9758eeafe35c1e"), addr)

	for _, bad := range []string{"", "0x1234", "aleo1qqqq", "0xZZ28d002042fd9898D0Db016be9758eeAFE35C1E"} {
		_, err := ParseAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestCommitmentToBytes32(t *testing.T) {
	h, err := CommitmentToBytes32(big.NewInt(987))
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000000000000000000000000003db", h.Hex())

	tooWide := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = CommitmentToBytes32(tooWide)
	assert.ErrorIs(t, err, ErrCommitmentTooWide)

	_, err = CommitmentToBytes32(big.NewInt(-1))
	assert.Error(t, err)
}

func TestParseEther(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"whole", "1", "1000000000000000000", false},
		{"fraction", "1.5", "1500000000000000000", false},
		{"smallest unit", "0.000000000000000001", "1", false},
		{"too precise", "0.0000000000000000001", "", true},
		{"negative", "-1", "", true},
		{"garbage", "ten", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wei, err := ParseEther(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, wei.String())
		})
	}
}

func TestFormatEther(t *testing.T) {
	oneEther, _ := new(big.Int).SetString("1000000000000000000", 10)
	assert.Equal(t, "1.0", FormatEther(oneEther))
	assert.Equal(t, "0.5", FormatEther(big.NewInt(500000000000000000)))
	assert.Equal(t, "0.0", FormatEther(big.NewInt(0)))
	assert.Equal(t, "0.0", FormatEther(nil))
}
