// Package detect implements the detection pack catalog and Sigma-style
// rule evaluator.
package detect

import "github.com/bobmcallan/logsentry/internal/models"

// Catalog is the static, process-lifetime set of shipped detection packs.
type Catalog struct {
	packs []models.DetectionPack
}

// NewCatalog builds a Catalog over the built-in packs.
func NewCatalog() *Catalog {
	return &Catalog{packs: builtinPacks}
}

// ListPacks returns every shipped pack, in catalog order.
func (c *Catalog) ListPacks() []models.DetectionPack {
	out := make([]models.DetectionPack, len(c.packs))
	copy(out, c.packs)
	return out
}

// GetPackByID returns the pack with the given id, or nil if unknown.
func (c *Catalog) GetPackByID(id string) *models.DetectionPack {
	for i := range c.packs {
		if c.packs[i].ID == id {
			return &c.packs[i]
		}
	}
	return nil
}
