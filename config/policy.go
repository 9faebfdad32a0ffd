package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/x402-foundation/x402-summarizer"
	"github.com/x402-foundation/x402-summarizer/mechanisms/evm"
	"github.com/x402-foundation/x402-summarizer/mechanisms/svm"
)

//go:embed policy.schema.json
var policySchema []byte

// DefaultAsset is used when a policy names no asset
const DefaultAsset = "USDC"

// ErrInvalidPolicies is returned when a policy list does not match the schema
var ErrInvalidPolicies = errors.New("invalid policies")

// PolicyConfig is one priced resource as written in configuration.
// Price is in whole asset units ("0.01"); Amount is in minor units and wins
// when both are set.
type PolicyConfig struct {
	Resource    string `mapstructure:"resource"`
	Network     string `mapstructure:"network"`
	Recipient   string `mapstructure:"recipient"`
	Price       string `mapstructure:"price"`
	Amount      string `mapstructure:"amount"`
	Asset       string `mapstructure:"asset"`
	Decimals    *int   `mapstructure:"decimals"`
	Description string `mapstructure:"description"`
}

// PricePolicy converts and validates the policy
func (p PolicyConfig) PricePolicy() (x402.PricePolicy, error) {
	if strings.TrimSpace(p.Recipient) == "" {
		return x402.PricePolicy{}, fmt.Errorf("resource %q: recipient is required (set SERVER_ADDRESS or policies[].recipient)", p.Resource)
	}
	asset := strings.TrimSpace(p.Asset)
	if asset == "" {
		asset = DefaultAsset
	}
	network := x402.Network(strings.TrimSpace(p.Network))
	decimals := p.resolveDecimals(network, asset)

	var amount *big.Int
	if a := strings.TrimSpace(p.Amount); a != "" {
		v, ok := new(big.Int).SetString(a, 10)
		if !ok {
			return x402.PricePolicy{}, fmt.Errorf("resource %q: invalid amount %q", p.Resource, p.Amount)
		}
		amount = v
	} else {
		v, err := x402.ParseAmount(p.Price, decimals)
		if err != nil {
			return x402.PricePolicy{}, fmt.Errorf("resource %q: %w", p.Resource, err)
		}
		amount = v
	}

	policy := x402.PricePolicy{
		ResourceID:  strings.TrimSpace(p.Resource),
		Network:     network.Normalize(),
		Recipient:   strings.TrimSpace(p.Recipient),
		Amount:      amount,
		Asset:       asset,
		Decimals:    decimals,
		Description: p.Description,
	}
	if err := x402.ValidatePolicy(policy); err != nil {
		return x402.PricePolicy{}, err
	}
	return policy, nil
}

func (p PolicyConfig) resolveDecimals(network x402.Network, asset string) int {
	if p.Decimals != nil {
		return *p.Decimals
	}
	if d, ok := evm.LookupAsset(network, asset); ok {
		return d
	}
	if d, ok := svm.LookupAsset(network, asset); ok {
		return d
	}
	return evm.DefaultDecimals
}

// ValidatePolicies checks a decoded policy list against the embedded schema
func ValidatePolicies(raw interface{}) error {
	doc, err := json.Marshal(jsonCompatible(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicies, err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(policySchema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicies, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidPolicies, strings.Join(msgs, "; "))
}

// LoadPolicies reads and validates the policies of a config file
func LoadPolicies(path string) ([]x402.PricePolicy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	raw := v.Get("policies")
	if raw == nil {
		return nil, fmt.Errorf("%w: %s has no policies", ErrInvalidPolicies, path)
	}
	if err := ValidatePolicies(raw); err != nil {
		return nil, err
	}

	var doc struct {
		Policies []PolicyConfig `mapstructure:"policies"`
	}
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("unmarshal policies: %w", err)
	}
	cfg := Config{Policies: doc.Policies}
	return cfg.PricePolicies()
}

// jsonCompatible converts map[interface{}]interface{} values produced by
// some YAML decoders into string-keyed maps.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = jsonCompatible(val)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = jsonCompatible(val)
		}
		return s
	default:
		return v
	}
}
