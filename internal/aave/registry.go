package aave

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"aave-rate-digest/internal/address"
	"aave-rate-digest/internal/fixedpoint"
)

//go:embed networks.yaml
var embeddedNetworks []byte

// ContractRole names a protocol contract within a deployment.
type ContractRole string

const (
	RolePool             ContractRole = "pool"
	RolePoolDataProvider ContractRole = "pool_data_provider"
	RolePriceOracle      ContractRole = "price_oracle"
	RoleACLManager       ContractRole = "acl_manager"
)

var knownRoles = []ContractRole{RolePool, RolePoolDataProvider, RolePriceOracle, RoleACLManager}

// KnownTokens lists every symbol the digest understands, whether or not a network lists it.
var KnownTokens = []string{"ETH", "WETH", "USDC", "USDT", "DAI", "WBTC", "cbBTC", "LINK", "UNI", "AAVE"}

// KnownNetworks lists the network identifiers accepted in a registry file.
var KnownNetworks = []string{"base", "ethereum", "polygon", "arbitrum", "optimism", "avalanche"}

// IsKnownToken reports whether symbol is one of KnownTokens. Matching is exact.
func IsKnownToken(symbol string) bool {
	return slices.Contains(KnownTokens, symbol)
}

// Token is one reserve asset listed for a network.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// NetworkProfile is an immutable description of one Aave deployment.
type NetworkProfile struct {
	Name        string
	DisplayName string
	Version     string
	RPCURL      string
	ChainID     int64
	MarketsURL  string

	contracts map[ContractRole]string
	tokens    []Token
}

// Contract returns the checksummed address registered for role.
func (p *NetworkProfile) Contract(role ContractRole) (string, bool) {
	addr, ok := p.contracts[role]
	return addr, ok
}

// Token resolves a symbol to its listing.
func (p *NetworkProfile) Token(symbol string) (Token, bool) {
	for _, t := range p.tokens {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return Token{}, false
}

// Tokens returns the listed tokens in registry order.
func (p *NetworkProfile) Tokens() []Token {
	return slices.Clone(p.tokens)
}

// Symbols returns the listed token symbols in registry order.
func (p *NetworkProfile) Symbols() []string {
	out := make([]string, len(p.tokens))
	for i, t := range p.tokens {
		out[i] = t.Symbol
	}
	return out
}

// WithRPCURL returns a copy of the profile pointing at a different endpoint.
func (p *NetworkProfile) WithRPCURL(url string) *NetworkProfile {
	if url == "" {
		return p
	}
	clone := *p
	clone.RPCURL = url
	return &clone
}

// Registry holds every configured network profile.
type Registry struct {
	order    []string
	profiles map[string]*NetworkProfile
}

type registryFile struct {
	Networks []networkEntry `yaml:"networks"`
}

type networkEntry struct {
	Name        string            `yaml:"name"`
	DisplayName string            `yaml:"display_name"`
	Version     string            `yaml:"version"`
	RPCURL      string            `yaml:"rpc_url"`
	ChainID     int64             `yaml:"chain_id"`
	MarketsURL  string            `yaml:"markets_url"`
	Contracts   map[string]string `yaml:"contracts"`
	Tokens      []tokenEntry      `yaml:"tokens"`
}

type tokenEntry struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals *int32 `yaml:"decimals"`
}

// DefaultRegistry parses the built-in network table.
func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(embeddedNetworks)
}

// LoadRegistry reads a registry file, falling back to the built-in table when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Msg: "read registry file " + path, Err: err}
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates a YAML registry. Every address is checksummed; any
// malformed entry fails the whole load.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &ConfigurationError{Msg: "decode registry", Err: err}
	}
	if len(file.Networks) == 0 {
		return nil, &ConfigurationError{Msg: "registry lists no networks"}
	}

	reg := &Registry{profiles: make(map[string]*NetworkProfile, len(file.Networks))}
	for _, entry := range file.Networks {
		profile, err := buildProfile(entry)
		if err != nil {
			return nil, err
		}
		if _, dup := reg.profiles[profile.Name]; dup {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("network %s listed twice", profile.Name)}
		}
		reg.profiles[profile.Name] = profile
		reg.order = append(reg.order, profile.Name)
	}
	return reg, nil
}

func buildProfile(entry networkEntry) (*NetworkProfile, error) {
	name := strings.ToLower(strings.TrimSpace(entry.Name))
	if !slices.Contains(KnownNetworks, name) {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("unsupported network %q", entry.Name)}
	}
	if entry.ChainID <= 0 {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("network %s: chain_id must be positive", name)}
	}

	profile := &NetworkProfile{
		Name:        name,
		DisplayName: entry.DisplayName,
		Version:     entry.Version,
		RPCURL:      entry.RPCURL,
		ChainID:     entry.ChainID,
		MarketsURL:  entry.MarketsURL,
		contracts:   make(map[ContractRole]string, len(entry.Contracts)),
	}
	if profile.DisplayName == "" {
		profile.DisplayName = strings.ToUpper(name[:1]) + name[1:]
	}
	if profile.Version == "" {
		profile.Version = "v3"
	}

	for role, raw := range entry.Contracts {
		r := ContractRole(role)
		if !slices.Contains(knownRoles, r) {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("network %s: unknown contract role %q", name, role)}
		}
		addr, err := address.Normalize(raw, name+"."+role)
		if err != nil {
			return nil, &ConfigurationError{Msg: "invalid contract address", Err: err}
		}
		profile.contracts[r] = addr
	}

	seen := make(map[string]struct{}, len(entry.Tokens))
	for _, tok := range entry.Tokens {
		if !IsKnownToken(tok.Symbol) {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("network %s: unsupported token %q", name, tok.Symbol)}
		}
		if _, dup := seen[tok.Symbol]; dup {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("network %s: token %s listed twice", name, tok.Symbol)}
		}
		seen[tok.Symbol] = struct{}{}

		addr, err := address.Normalize(tok.Address, name+"."+tok.Symbol)
		if err != nil {
			return nil, &ConfigurationError{Msg: "invalid token address", Err: err}
		}
		decimals := fixedpoint.DefaultDecimals
		if tok.Decimals != nil {
			decimals = *tok.Decimals
		}
		profile.tokens = append(profile.tokens, Token{Symbol: tok.Symbol, Address: common.HexToAddress(addr), Decimals: decimals})
	}

	return profile, nil
}

// Networks lists network identifiers in registry order.
func (r *Registry) Networks() []string {
	return slices.Clone(r.order)
}

// Profile resolves a network identifier.
func (r *Registry) Profile(network string) (*NetworkProfile, error) {
	profile, ok := r.profiles[strings.ToLower(strings.TrimSpace(network))]
	if !ok {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("unsupported network %q (available: %s)", network, strings.Join(r.order, ", "))}
	}
	return profile, nil
}

// Tokens lists the token symbols supported on network.
func (r *Registry) Tokens(network string) ([]string, error) {
	profile, err := r.Profile(network)
	if err != nil {
		return nil, err
	}
	return profile.Symbols(), nil
}
