package procurement

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/shared"
)

// ApprovalTier assigns an approver role to an amount band. A nil MaxAmount
// leaves the band open ended.
type ApprovalTier struct {
	Level        int              `json:"level"`
	MinAmount    decimal.Decimal  `json:"min_amount"`
	MaxAmount    *decimal.Decimal `json:"max_amount,omitempty"`
	ApproverRole string           `json:"approver_role"`
}

// Contains reports whether amount falls inside the tier.
func (t ApprovalTier) Contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.MinAmount) {
		return false
	}
	return t.MaxAmount == nil || amount.LessThanOrEqual(*t.MaxAmount)
}

// ErrInvalidTiers indicates a tier table that does not cover every amount exactly once.
var ErrInvalidTiers = shared.NewError(shared.ErrValidation, "procurement: invalid approval tiers")

// TierPolicy resolves the approval tier of an amount.
type TierPolicy struct {
	tiers []ApprovalTier
}

// NewTierPolicy validates tiers: ascending, non overlapping, starting at zero,
// without gaps wider than one minor unit and open ended at the top.
func NewTierPolicy(tiers []ApprovalTier) (*TierPolicy, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: at least one tier required", ErrInvalidTiers)
	}
	out := make([]ApprovalTier, len(tiers))
	copy(out, tiers)
	if !out[0].MinAmount.IsZero() {
		return nil, fmt.Errorf("%w: first tier must start at 0", ErrInvalidTiers)
	}
	one := decimal.NewFromInt(1)
	for i, tier := range out {
		if strings.TrimSpace(tier.ApproverRole) == "" {
			return nil, fmt.Errorf("%w: tier %d has no approver role", ErrInvalidTiers, i+1)
		}
		if tier.Level == 0 {
			out[i].Level = i + 1
		} else if tier.Level != i+1 {
			return nil, fmt.Errorf("%w: tier %d has level %d", ErrInvalidTiers, i+1, tier.Level)
		}
		if tier.MaxAmount != nil && tier.MaxAmount.LessThan(tier.MinAmount) {
			return nil, fmt.Errorf("%w: tier %d max below min", ErrInvalidTiers, i+1)
		}
		if i == len(out)-1 {
			if tier.MaxAmount != nil {
				return nil, fmt.Errorf("%w: last tier must be open ended", ErrInvalidTiers)
			}
			break
		}
		if tier.MaxAmount == nil {
			return nil, fmt.Errorf("%w: only the last tier may be open ended", ErrInvalidTiers)
		}
		next := out[i+1].MinAmount
		if !next.GreaterThan(*tier.MaxAmount) {
			return nil, fmt.Errorf("%w: tier %d overlaps tier %d", ErrInvalidTiers, i+2, i+1)
		}
		if next.Sub(*tier.MaxAmount).GreaterThan(one) {
			return nil, fmt.Errorf("%w: gap between tier %d and %d", ErrInvalidTiers, i+1, i+2)
		}
	}
	return &TierPolicy{tiers: out}, nil
}

// Tiers returns a copy of the configured tiers.
func (p *TierPolicy) Tiers() []ApprovalTier {
	out := make([]ApprovalTier, len(p.tiers))
	copy(out, p.tiers)
	return out
}

// TierFor returns the tier approving amount. Amounts that fall between the
// max of one tier and the min of the next go to the higher tier.
func (p *TierPolicy) TierFor(amount decimal.Decimal) ApprovalTier {
	for _, tier := range p.tiers {
		if tier.MaxAmount == nil || amount.LessThanOrEqual(*tier.MaxAmount) {
			return tier
		}
	}
	return p.tiers[len(p.tiers)-1]
}

// DefaultTiers is the approval table used when none is configured.
func DefaultTiers() []ApprovalTier {
	bound := func(v int64) *decimal.Decimal {
		d := decimal.NewFromInt(v)
		return &d
	}
	return []ApprovalTier{
		{Level: 1, MinAmount: decimal.Zero, MaxAmount: bound(5000), ApproverRole: "Supervisor"},
		{Level: 2, MinAmount: decimal.NewFromInt(5001), MaxAmount: bound(15000), ApproverRole: "Unit Manager"},
		{Level: 3, MinAmount: decimal.NewFromInt(15001), MaxAmount: bound(50000), ApproverRole: "Department Head"},
		{Level: 4, MinAmount: decimal.NewFromInt(50001), ApproverRole: "Director"},
	}
}

// ParseTiers reads "0-5000:Supervisor,5001-15000:Unit Manager,50001-:Director".
// An empty string yields DefaultTiers.
func ParseTiers(raw string) ([]ApprovalTier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultTiers(), nil
	}
	var tiers []ApprovalTier
	for i, part := range strings.Split(raw, ",") {
		band, role, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q missing role", ErrInvalidTiers, part)
		}
		lo, hi, ok := strings.Cut(band, "-")
		if !ok {
			return nil, fmt.Errorf("%w: %q missing range", ErrInvalidTiers, part)
		}
		minAmount, err := decimal.NewFromString(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTiers, part, err)
		}
		tier := ApprovalTier{Level: i + 1, MinAmount: minAmount, ApproverRole: strings.TrimSpace(role)}
		if hi = strings.TrimSpace(hi); hi != "" {
			maxAmount, err := decimal.NewFromString(hi)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTiers, part, err)
			}
			tier.MaxAmount = &maxAmount
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

// FormatTiers renders tiers in the ParseTiers notation.
func FormatTiers(tiers []ApprovalTier) string {
	parts := make([]string, 0, len(tiers))
	for _, t := range tiers {
		hi := ""
		if t.MaxAmount != nil {
			hi = t.MaxAmount.String()
		}
		parts = append(parts, t.MinAmount.String()+"-"+hi+":"+t.ApproverRole)
	}
	return strings.Join(parts, ",")
}
