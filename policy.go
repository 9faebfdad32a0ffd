package x402

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// PolicySet is the immutable set of prices a gateway enforces.
// Build it once at startup; after that it is safe for concurrent readers.
type PolicySet struct {
	policies map[string]PricePolicy
	logger   *slog.Logger
}

// NewPolicySet validates and registers the given policies. A later policy for
// an already registered resource replaces the earlier one and is logged.
func NewPolicySet(logger *slog.Logger, policies ...PricePolicy) (*PolicySet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PolicySet{
		policies: make(map[string]PricePolicy, len(policies)),
		logger:   logger,
	}
	for _, p := range policies {
		if err := s.register(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PolicySet) register(p PricePolicy) error {
	if err := ValidatePolicy(p); err != nil {
		return err
	}
	p = p.Clone()
	p.ResourceID = strings.TrimSpace(p.ResourceID)
	p.Network = p.Network.Normalize()

	if prev, exists := s.policies[p.ResourceID]; exists {
		s.logger.Warn("duplicate price policy, last registered wins",
			"resource", p.ResourceID,
			"previous_network", prev.Network,
			"previous_amount", prev.Amount.String(),
			"network", p.Network,
			"amount", p.Amount.String(),
		)
	}
	s.policies[p.ResourceID] = p
	return nil
}

// Resolve returns the policy for a resource, or a resource_not_found error.
func (s *PolicySet) Resolve(resourceID string) (PricePolicy, error) {
	p, ok := s.policies[resourceID]
	if !ok {
		return PricePolicy{}, NewPaymentError(ErrCodeResourceNotFound,
			fmt.Sprintf("no price policy for resource %q", resourceID),
			map[string]interface{}{"resourceId": resourceID})
	}
	return p.Clone(), nil
}

// Policies returns every policy ordered by resource ID
func (s *PolicySet) Policies() []PricePolicy {
	out := make([]PricePolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}

// Len returns the number of registered resources
func (s *PolicySet) Len() int {
	return len(s.policies)
}

// ValidatePolicy performs basic validation on a price policy
func ValidatePolicy(p PricePolicy) error {
	if strings.TrimSpace(p.ResourceID) == "" {
		return NewPaymentError(ErrCodeInvalidPolicy, "policy resource is required", nil)
	}
	details := map[string]interface{}{"resourceId": p.ResourceID}
	if strings.TrimSpace(string(p.Network)) == "" {
		return NewPaymentError(ErrCodeInvalidPolicy, "policy network is required", details)
	}
	if strings.TrimSpace(p.Recipient) == "" {
		return NewPaymentError(ErrCodeInvalidPolicy, "policy recipient is required", details)
	}
	if strings.TrimSpace(p.Asset) == "" {
		return NewPaymentError(ErrCodeInvalidPolicy, "policy asset is required", details)
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return NewPaymentError(ErrCodeInvalidPolicy, "policy amount must be positive", details)
	}
	if p.Decimals < 0 {
		return NewPaymentError(ErrCodeInvalidPolicy, "policy decimals must not be negative", details)
	}
	return nil
}
