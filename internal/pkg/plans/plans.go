package plans

import "strings"

type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
)

// Storage entitlements per plan tier.
const (
	FreeStorageBytes     = int64(2) << 30   // 2 GiB
	StandardStorageBytes = int64(100) << 30 // 100 GiB
	ProStorageBytes      = int64(1) << 40   // 1 TiB
)

// priceRefs maps known provider price ids to internal tiers. The price ids
// are environment-independent aliases kept in sync with the provider
// dashboard (see migrations/ for the seeded mapping table).
var priceRefs = map[string]Tier{
	"price_standard_month": TierStandard,
	"price_standard_year":  TierStandard,
	"price_pro_month":      TierPro,
	"price_pro_year":       TierPro,
}

// Parse maps a plan string to a tier, reporting whether it named a known
// tier at all. Use Normalize when a free-tier fallback is wanted.
func Parse(plan string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(TierFree):
		return TierFree, true
	case string(TierStandard):
		return TierStandard, true
	case string(TierPro):
		return TierPro, true
	default:
		return TierFree, false
	}
}

// Normalize maps arbitrary plan strings to a known tier, defaulting to free.
func Normalize(plan string) Tier {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(TierStandard):
		return TierStandard
	case string(TierPro):
		return TierPro
	default:
		return TierFree
	}
}

// Rank orders tiers so the best entitlement wins during reconciliation.
func Rank(tier Tier) int {
	switch Normalize(string(tier)) {
	case TierPro:
		return 2
	case TierStandard:
		return 1
	default:
		return 0
	}
}

// StorageLimit returns the storage entitlement for a tier.
func StorageLimit(tier Tier) int64 {
	switch Normalize(string(tier)) {
	case TierPro:
		return ProStorageBytes
	case TierStandard:
		return StandardStorageBytes
	default:
		return FreeStorageBytes
	}
}

// TierForPrice resolves a provider price reference to an internal tier.
// Unknown price refs report ok=false so callers can keep the current tier.
func TierForPrice(priceID string) (Tier, bool) {
	tier, ok := priceRefs[strings.TrimSpace(priceID)]
	if !ok {
		return TierFree, false
	}
	return tier, true
}
