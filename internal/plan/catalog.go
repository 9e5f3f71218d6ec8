package plan

import (
	"fmt"
	"sort"
)

// Plan describes a priced premium subscription tier. Amounts are stored in
// minor currency units (paise for INR).
type Plan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// Catalog is a fixed mapping from plan identifier to plan. It is assembled at
// startup and never mutated; price changes ship as a new deployment.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog validates the provided plans and builds a catalog.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	byID := make(map[string]Plan, len(plans))
	for _, p := range plans {
		if p.ID == "" {
			return nil, fmt.Errorf("plan with empty id")
		}
		if p.Amount <= 0 {
			return nil, fmt.Errorf("plan %s: amount must be positive, got %d", p.ID, p.Amount)
		}
		if p.Currency == "" {
			return nil, fmt.Errorf("plan %s: currency is required", p.ID)
		}
		if _, exists := byID[p.ID]; exists {
			return nil, fmt.Errorf("duplicate plan id %s", p.ID)
		}
		byID[p.ID] = p
	}
	return &Catalog{plans: byID}, nil
}

// Default returns the catalog of premium tiers shipped with the service.
func Default() *Catalog {
	c, err := NewCatalog(
		Plan{
			ID:          "basic",
			Name:        "Basic Premium",
			Description: "Unlock premium wallpapers",
			Amount:      29900,
			Currency:    "INR",
		},
		Plan{
			ID:          "pro",
			Name:        "Pro Premium",
			Description: "Unlock all premium features",
			Amount:      59900,
			Currency:    "INR",
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Plans lists every plan in the catalog, cheapest first.
func (c *Catalog) Plans() []Plan {
	if c == nil {
		return nil
	}
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount < out[j].Amount
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Resolve looks up a plan by identifier.
func (c *Catalog) Resolve(planID string) (Plan, bool) {
	if c == nil {
		return Plan{}, false
	}
	p, ok := c.plans[planID]
	return p, ok
}
