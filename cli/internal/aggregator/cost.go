package aggregator

import (
	"github.com/zhaobenny/lectic-usage/internal/logger"
	"github.com/zhaobenny/lectic-usage/internal/model"
	"github.com/zhaobenny/lectic-usage/internal/pricing"
)

// Costs maps display bucket -> model -> cost split.
type Costs map[string]map[string]model.Cost

// Price converts the summed tokens of every bucket into costs. Each model is
// resolved once; a model without a price contributes exactly zero and is
// reported once as a warning.
func Price(r *Result, table *pricing.Table) Costs {
	resolved := make(map[string]*model.ModelPricing)

	lookup := func(name string) *model.ModelPricing {
		if p, ok := resolved[name]; ok {
			return p
		}
		m, ok := table.Resolve(name)
		if !ok {
			logger.Warn("no price found for model, counting its cost as zero", "model", name)
			resolved[name] = nil
			return nil
		}
		logger.Debug("resolved model price", "model", name, "price_id", m.ID, "tier", m.Tier.String())
		p := m.Pricing
		resolved[name] = &p
		return &p
	}

	costs := make(Costs, len(r.Buckets))
	for key, models := range r.Buckets {
		row := make(map[string]model.Cost, len(models))
		for name, tok := range models {
			var c model.Cost
			if p := lookup(name); p != nil {
				c = pricing.CalculateCost(tok, *p)
			}
			row[name] = c
		}
		costs[key] = row
	}
	return costs
}
