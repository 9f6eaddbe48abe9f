package core

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Shelf is one shelf row from the analysis payload with per-brand
// drink counts.
type Shelf struct {
	Number int            `json:"shelf_number"`
	Drinks map[string]int `json:"drinks"`
	Total  int            `json:"total"`
}

type ProductBreakdown struct {
	Shelves []Shelf `json:"shelves"`
	Total   int     `json:"total"`
}

// Brands returns the union of brand names across all shelves, sorted,
// so the review table has stable columns.
func (b *ProductBreakdown) Brands() []string {
	seen := map[string]bool{}
	for _, shelf := range b.Shelves {
		for brand := range shelf.Drinks {
			seen[brand] = true
		}
	}
	brands := make([]string, 0, len(seen))
	for brand := range seen {
		brands = append(brands, brand)
	}
	sort.Strings(brands)
	return brands
}

// ParseProductCount decodes the semi-structured product_count payload
// written by the analysis pipeline.
func ParseProductCount(raw string) (*ProductBreakdown, error) {
	var breakdown ProductBreakdown
	if err := json.Unmarshal([]byte(raw), &breakdown); err != nil {
		return nil, fmt.Errorf("invalid product count payload: %w", err)
	}
	if breakdown.Shelves == nil {
		return nil, fmt.Errorf("product count payload has no shelves field")
	}
	for i := range breakdown.Shelves {
		total := 0
		for _, count := range breakdown.Shelves[i].Drinks {
			total += count
		}
		breakdown.Shelves[i].Total = total
		breakdown.Total += total
	}
	return &breakdown, nil
}
