package types

import "strconv"

// Product is a sellable catalog entry.
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CategoryID string `json:"category_id"`
	Price      int64  `json:"price"`
	Active     bool   `json:"active"`
}

// ElementID implements cache.Element.
func (p Product) ElementID() string { return p.ID }

// Attr implements cache.Element.
func (p Product) Attr(name string) (string, bool) {
	switch name {
	case "category_id":
		return p.CategoryID, true
	case "active":
		return strconv.FormatBool(p.Active), true
	}
	return "", false
}
