package plans

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want Tier
	}{
		{in: "free", want: TierFree},
		{in: "standard", want: TierStandard},
		{in: "pro", want: TierPro},
		{in: "PRO", want: TierPro},
		{in: "invalid", want: TierFree},
		{in: "", want: TierFree},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Fatalf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRank(t *testing.T) {
	if Rank(TierFree) >= Rank(TierStandard) {
		t.Fatalf("expected standard to outrank free")
	}
	if Rank(TierStandard) >= Rank(TierPro) {
		t.Fatalf("expected pro to outrank standard")
	}
}

func TestStorageLimit(t *testing.T) {
	if StorageLimit(TierFree) != FreeStorageBytes {
		t.Fatalf("unexpected free storage limit")
	}
	if StorageLimit(TierStandard) != StandardStorageBytes {
		t.Fatalf("unexpected standard storage limit")
	}
	if StorageLimit(TierPro) != ProStorageBytes {
		t.Fatalf("unexpected pro storage limit")
	}
	if StorageLimit(Tier("bogus")) != FreeStorageBytes {
		t.Fatalf("unknown tier should fall back to free limit")
	}
}

func TestTierForPrice(t *testing.T) {
	if tier, ok := TierForPrice("price_pro_month"); !ok || tier != TierPro {
		t.Fatalf("TierForPrice(price_pro_month) = %q, %v", tier, ok)
	}
	if _, ok := TierForPrice("price_does_not_exist"); ok {
		t.Fatalf("expected unknown price ref to report ok=false")
	}
}
