package aave

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aave-rate-digest/internal/address"
)

func TestDefaultRegistry(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	assert.Equal(t, []string{"base", "ethereum"}, reg.Networks())

	tokens, err := reg.Tokens("base")
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH", "USDC", "cbBTC", "DAI"}, tokens)

	profile, err := reg.Profile("ethereum")
	require.NoError(t, err)
	assert.Equal(t, int64(1), profile.ChainID)
	assert.Equal(t, "Ethereum", profile.DisplayName)
	assert.Equal(t, "https://app.aave.com/?marketName=proto_mainnet_v3", profile.MarketsURL)

	pool, ok := profile.Contract(RolePool)
	require.True(t, ok)
	assert.Equal(t, "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2", pool)

	usdt, ok := profile.Token("USDT")
	require.True(t, ok)
	assert.Equal(t, int32(6), usdt.Decimals)
	assert.Equal(t, "0xdAC17F958D2ee523a2206206994597C13D831ec7", usdt.Address.Hex())
}

func TestRegistryUnknownNetwork(t *testing.T) {
	reg, err := DefaultRegistry()
	require.NoError(t, err)

	_, err = reg.Tokens("polygon")
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "polygon")
}

func TestParseRegistryRejectsBadAddress(t *testing.T) {
	_, err := ParseRegistry([]byte(`
networks:
  - name: base
    chain_id: 8453
    contracts:
      pool: "0x1234"
`))
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	var verr *address.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "base.pool", verr.Field)
}

func TestParseRegistryValidation(t *testing.T) {
	cases := map[string]string{
		"empty":         `networks: []`,
		"unknown name":  "networks:\n  - name: solana\n    chain_id: 1\n",
		"no chain id":   "networks:\n  - name: base\n",
		"unknown role":  "networks:\n  - name: base\n    chain_id: 8453\n    contracts:\n      vault: \"0x4200000000000000000000000000000000000006\"\n",
		"unknown token": "networks:\n  - name: base\n    chain_id: 8453\n    tokens:\n      - symbol: PEPE\n        address: \"0x4200000000000000000000000000000000000006\"\n",
		"dup token":     "networks:\n  - name: base\n    chain_id: 8453\n    tokens:\n      - symbol: ETH\n        address: \"0x4200000000000000000000000000000000000006\"\n      - symbol: ETH\n        address: \"0x4200000000000000000000000000000000000006\"\n",
		"dup network":   "networks:\n  - name: base\n    chain_id: 8453\n  - name: base\n    chain_id: 8453\n",
		"bad yaml":      "networks: [",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(doc))
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestParseRegistryNormalizesAndDefaults(t *testing.T) {
	reg, err := ParseRegistry([]byte(`
networks:
  - name: Base
    chain_id: 8453
    contracts:
      pool: "0xa238dd80c259a72e81d7e4664a9801593f98d1c5"
    tokens:
      - symbol: ETH
        address: "0x4200000000000000000000000000000000000006"
`))
	require.NoError(t, err)

	profile, err := reg.Profile("base")
	require.NoError(t, err)
	pool, _ := profile.Contract(RolePool)
	assert.Equal(t, "0xA238Dd80C259a72e81d7e4664a9801593F98d1c5", pool)
	assert.Equal(t, "Base", profile.DisplayName)
	assert.Equal(t, "v3", profile.Version)

	eth, ok := profile.Token("ETH")
	require.True(t, ok)
	assert.Equal(t, int32(18), eth.Decimals)

	override := profile.WithRPCURL("http://localhost:8545")
	assert.Equal(t, "http://localhost:8545", override.RPCURL)
	assert.Empty(t, profile.RPCURL, "original profile untouched")
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	require.NoError(t, os.WriteFile(path, embeddedNetworks, 0o600))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "ethereum"}, reg.Networks())

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))

	reg, err = LoadRegistry("")
	require.NoError(t, err)
	assert.Len(t, reg.Networks(), 2)
}

func TestIsKnownToken(t *testing.T) {
	assert.True(t, IsKnownToken("cbBTC"))
	assert.False(t, IsKnownToken("CBBTC"))
	assert.False(t, IsKnownToken(""))
}
