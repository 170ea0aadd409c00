package costs

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"server/internal/domain"
)

// ErrPricingNotConfigured indicates no pricing entry exists for the
// provider/kind/quality combination. Callers treat it as advisory: the cost
// step is skipped, never the completion.
var ErrPricingNotConfigured = errors.New("pricing not configured")

// assumedVideoBitrate is used to infer duration from payload size when the
// provider does not report one. Placeholder estimate, not billing-grade.
const assumedVideoBitrateBitsPerSecond = 5_000_000

// Pricing holds the static rates for one (provider, kind, quality) entry.
// All rates are configuration; nothing here is computed dynamically.
type Pricing struct {
	Base                decimal.Decimal
	PerSecond           decimal.Decimal
	PerThousandTokens   decimal.Decimal
	ProcessingPerSecond decimal.Decimal
	StoragePerMB        decimal.Decimal
}

type pricingKey struct {
	Provider  domain.Provider
	AssetKind domain.AssetKind
	Quality   string
}

// PricingTable maps (provider, assetKind, quality) to static rates.
type PricingTable map[pricingKey]Pricing

// Set registers a pricing entry.
func (t PricingTable) Set(provider domain.Provider, kind domain.AssetKind, quality string, p Pricing) {
	t[pricingKey{Provider: provider, AssetKind: kind, Quality: quality}] = p
}

// Usage captures the measurable inputs to a cost computation.
type Usage struct {
	DurationSeconds   float64
	Tokens            int
	ProcessingSeconds float64
	SizeBytes         int64
}

// Compute looks up the pricing entry and produces an itemized breakdown:
// base + duration rate + token rate + processing surcharge + storage
// surcharge.
func (t PricingTable) Compute(provider domain.Provider, kind domain.AssetKind, quality string, usage Usage) (*domain.CostBreakdown, error) {
	if quality == "" {
		quality = "standard"
	}
	pricing, ok := t[pricingKey{Provider: provider, AssetKind: kind, Quality: quality}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrPricingNotConfigured, provider, kind, quality)
	}

	duration := usage.DurationSeconds
	estimated := false
	if duration == 0 && kind == domain.AssetKindVideo && usage.SizeBytes > 0 {
		duration = float64(usage.SizeBytes*8) / assumedVideoBitrateBitsPerSecond
		estimated = true
	}

	base := pricing.Base
	if duration > 0 {
		base = base.Add(pricing.PerSecond.Mul(decimal.NewFromFloat(duration)))
	}
	if usage.Tokens > 0 {
		base = base.Add(pricing.PerThousandTokens.Mul(decimal.NewFromInt(int64(usage.Tokens))).Div(decimal.NewFromInt(1000)))
	}

	processing := decimal.Zero
	if usage.ProcessingSeconds > 0 {
		processing = pricing.ProcessingPerSecond.Mul(decimal.NewFromFloat(usage.ProcessingSeconds))
	}

	storageCost := decimal.Zero
	if usage.SizeBytes > 0 {
		mb := decimal.NewFromInt(usage.SizeBytes).Div(decimal.NewFromInt(1024 * 1024))
		storageCost = pricing.StoragePerMB.Mul(mb)
	}

	return &domain.CostBreakdown{
		Base:              base,
		Processing:        processing,
		Storage:           storageCost,
		Total:             base.Add(processing).Add(storageCost),
		ProcessingSeconds: usage.ProcessingSeconds,
		DurationSeconds:   duration,
		Tokens:            usage.Tokens,
		EstimatedDuration: estimated,
	}, nil
}

// DefaultPricingTable returns the built-in rates for the supported providers.
func DefaultPricingTable() PricingTable {
	t := PricingTable{}
	t.Set(domain.ProviderSyncTextImage, domain.AssetKindImage, "standard", Pricing{
		Base:                decimal.RequireFromString("0.02"),
		PerThousandTokens:   decimal.RequireFromString("0.01"),
		ProcessingPerSecond: decimal.RequireFromString("0.001"),
		StoragePerMB:        decimal.RequireFromString("0.0002"),
	})
	t.Set(domain.ProviderSyncTextImage, domain.AssetKindText, "standard", Pricing{
		Base:              decimal.RequireFromString("0.005"),
		PerThousandTokens: decimal.RequireFromString("0.01"),
	})
	t.Set(domain.ProviderPollImage, domain.AssetKindImage, "standard", Pricing{
		Base:                decimal.RequireFromString("0.04"),
		ProcessingPerSecond: decimal.RequireFromString("0.002"),
		StoragePerMB:        decimal.RequireFromString("0.0002"),
	})
	t.Set(domain.ProviderPollImage, domain.AssetKindImage, "hd", Pricing{
		Base:                decimal.RequireFromString("0.08"),
		ProcessingPerSecond: decimal.RequireFromString("0.002"),
		StoragePerMB:        decimal.RequireFromString("0.0002"),
	})
	t.Set(domain.ProviderWebhookVideo, domain.AssetKindVideo, "standard", Pricing{
		Base:                decimal.RequireFromString("0.10"),
		PerSecond:           decimal.RequireFromString("0.05"),
		ProcessingPerSecond: decimal.RequireFromString("0.002"),
		StoragePerMB:        decimal.RequireFromString("0.0005"),
	})
	t.Set(domain.ProviderWebhookVideo, domain.AssetKindVideo, "hd", Pricing{
		Base:                decimal.RequireFromString("0.20"),
		PerSecond:           decimal.RequireFromString("0.10"),
		ProcessingPerSecond: decimal.RequireFromString("0.002"),
		StoragePerMB:        decimal.RequireFromString("0.0005"),
	})
	return t
}
