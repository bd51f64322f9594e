package billing

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TierSpec binds a tier to its external price identifier and limit bundle.
type TierSpec struct {
	PriceID string      `yaml:"price_id"`
	Limits  LimitBundle `yaml:"limits"`
}

// Catalog is the static tier configuration: tier → price ID + limits.
// It is loaded once at process start, never mutated afterwards, and safe for
// unsynchronized concurrent reads. Inject it into components instead of
// reading it as ambient global state.
type Catalog struct {
	tiers   map[Tier]TierSpec
	byPrice map[string]Tier
}

// NewCatalog builds a catalog from explicit tier specs. Every known tier must
// be present with a non-empty price ID and a non-empty limit bundle.
func NewCatalog(tiers map[Tier]TierSpec) (*Catalog, error) {
	byPrice := make(map[string]Tier, len(tiers))
	for _, tier := range tierOrder {
		spec, ok := tiers[tier]
		if !ok {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("tier %q is missing", tier))
		}
		if spec.PriceID == "" {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("tier %q has no price ID", tier))
		}
		if len(spec.Limits) == 0 {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("tier %q has no limits", tier))
		}
		if prev, dup := byPrice[spec.PriceID]; dup {
			return nil, errors.Join(ErrInvalidCatalog,
				fmt.Errorf("price ID %q mapped to both %q and %q", spec.PriceID, prev, tier))
		}
		byPrice[spec.PriceID] = tier
	}

	// Deep-copy so later mutation of the caller's maps cannot leak in.
	copied := make(map[Tier]TierSpec, len(tiers))
	for tier, spec := range tiers {
		copied[tier] = TierSpec{PriceID: spec.PriceID, Limits: maps.Clone(spec.Limits)}
	}

	return &Catalog{tiers: copied, byPrice: byPrice}, nil
}

// LoadCatalog reads a YAML tier catalog:
//
//	tiers:
//	  basic:
//	    price_id: price_basic_monthly
//	    limits:
//	      projects: 3
//	      team_members: 1
//	  pro:
//	    ...
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var doc struct {
		Tiers map[Tier]TierSpec `yaml:"tiers"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	return NewCatalog(doc.Tiers)
}

// LoadCatalogFile loads a YAML tier catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// PriceID returns the external price identifier for a tier.
func (c *Catalog) PriceID(tier Tier) (string, error) {
	spec, ok := c.tiers[tier]
	if !ok {
		return "", ErrUnknownPlan
	}
	return spec.PriceID, nil
}

// HasTier reports whether the tier exists in the catalog.
func (c *Catalog) HasTier(tier Tier) bool {
	_, ok := c.tiers[tier]
	return ok
}

// Limits projects a tier onto its limit bundle. Pure lookup, no I/O. The
// returned bundle is a copy; callers may not mutate catalog state through it.
// Unknown tiers project to the lowest tier's bundle so the result is total.
func (c *Catalog) Limits(tier Tier) LimitBundle {
	spec, ok := c.tiers[tier]
	if !ok {
		spec = c.tiers[LowestTier()]
	}
	return maps.Clone(spec.Limits)
}

// DeriveTier maps an external price identifier to a tier. Exact catalog match
// wins; otherwise tier names are matched as substrings in ascending tier
// order, so an ambiguous identifier resolves to the lowest matching tier.
// Unrecognized identifiers fall back to the lowest tier: an unknown price must
// never silently grant elevated entitlements. The second return value is false
// when the fallback was taken, so callers can warn.
func (c *Catalog) DeriveTier(priceID string) (Tier, bool) {
	if tier, ok := c.byPrice[priceID]; ok {
		return tier, true
	}
	lowered := strings.ToLower(priceID)
	for _, tier := range tierOrder {
		if strings.Contains(lowered, string(tier)) {
			return tier, true
		}
	}
	return LowestTier(), false
}

// LowestTier returns the tier with the fewest entitlements.
func LowestTier() Tier {
	return tierOrder[0]
}

// Tiers returns all catalog tiers in ascending entitlement order.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, 0, len(tierOrder))
	for _, tier := range tierOrder {
		if _, ok := c.tiers[tier]; ok {
			out = append(out, tier)
		}
	}
	return out
}
