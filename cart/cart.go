// Package cart is the authoritative in-memory representation of the shopping
// cart. It enforces the single-merchant invariant, quantity arithmetic,
// variant identity composition, and customization validation against
// category cardinality rules.
//
// A Cart is not safe for concurrent use; the session layer serializes access
// per conversation.
package cart

import (
	"fmt"
	"strconv"

	"github.com/convocart/convocart/catalog"
	"github.com/convocart/convocart/core"
)

// VariantSeparator joins a parent item id and a variant id into a composite
// line id. The separator prevents collisions between e.g. parent 1 + variant
// 23 and parent 12 + variant 3.
const VariantSeparator = "::"

// Selection is one chosen customization option on a line.
type Selection struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Price    string `json:"price"`
}

// ParentRef points a variant line back at its parent catalog item.
type ParentRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Line is one purchasable unit in the cart.
type Line struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Price        string      `json:"price"` // unit price, quantity-independent
	Quantity     int         `json:"quantity"`
	MerchantName string      `json:"merchant_name"`
	ImageURL     string      `json:"image_url,omitempty"`
	Selections   []Selection `json:"selections,omitempty"`
	Parent       *ParentRef  `json:"parent,omitempty"`
}

// Cart holds the current lines. All lines belong to the same merchant; a
// quantity never reaches zero without the line being removed.
type Cart struct {
	Lines        []Line `json:"lines"`
	MerchantName string `json:"merchant_name"`
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{}
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Merchant returns the owning merchant's name, empty for an empty cart.
func (c *Cart) Merchant() string {
	return c.MerchantName
}

func (c *Cart) guardMerchant(merchantName string) error {
	if !c.IsEmpty() && c.MerchantName != merchantName {
		return fmt.Errorf("adding %q to a %q cart: %w", merchantName, c.MerchantName, core.ErrMerchantMismatch)
	}
	return nil
}

func (c *Cart) findLine(id string) int {
	for i := range c.Lines {
		if c.Lines[i].ID == id {
			return i
		}
	}
	return -1
}

// AddItem adds a bare catalog item. If the same id is already present the
// quantity is incremented. The caller must have resolved a merchant conflict
// (cleared the cart with user confirmation) before calling; the engine
// rejects cross-merchant adds rather than silently merging.
func (c *Cart) AddItem(item catalog.Item, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}
	if err := c.guardMerchant(item.MerchantName); err != nil {
		return err
	}

	id := strconv.FormatInt(item.ID, 10)
	if i := c.findLine(id); i >= 0 {
		c.Lines[i].Quantity += quantity
		return nil
	}

	c.Lines = append(c.Lines, Line{
		ID:           id,
		Name:         item.Name,
		Price:        item.Price,
		Quantity:     quantity,
		MerchantName: item.MerchantName,
		ImageURL:     item.ImageURL,
	})
	c.MerchantName = item.MerchantName
	return nil
}

// AddVariant adds a variant of a parent item under a composite id, with a
// display name combining parent and variant titles and a back-reference to
// the parent.
func (c *Cart) AddVariant(parent catalog.Item, variant catalog.Variant, quantity int) error {
	if quantity <= 0 {
		quantity = 1
	}
	if err := c.guardMerchant(parent.MerchantName); err != nil {
		return err
	}

	id := VariantID(parent.ID, variant.ID)
	if i := c.findLine(id); i >= 0 {
		c.Lines[i].Quantity += quantity
		return nil
	}

	c.Lines = append(c.Lines, Line{
		ID:           id,
		Name:         parent.Name + " - " + variant.Title,
		Price:        variant.Price,
		Quantity:     quantity,
		MerchantName: parent.MerchantName,
		ImageURL:     parent.ImageURL,
		Parent:       &ParentRef{ID: parent.ID, Name: parent.Name},
	})
	c.MerchantName = parent.MerchantName
	return nil
}

// VariantID composes the line id for a variant of a parent item.
func VariantID(parentID, variantID int64) string {
	return strconv.FormatInt(parentID, 10) + VariantSeparator + strconv.FormatInt(variantID, 10)
}

// RemoveItem deletes the line entirely regardless of quantity.
func (c *Cart) RemoveItem(id string) error {
	i := c.findLine(id)
	if i < 0 {
		return fmt.Errorf("remove %q: %w", id, core.ErrLineNotFound)
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	if len(c.Lines) == 0 {
		c.MerchantName = ""
	}
	return nil
}

// UpdateQuantity applies a delta to a line's quantity. A result of zero or
// less removes the line.
func (c *Cart) UpdateQuantity(id string, delta int) error {
	i := c.findLine(id)
	if i < 0 {
		return fmt.Errorf("update %q: %w", id, core.ErrLineNotFound)
	}
	newQty := c.Lines[i].Quantity + delta
	if newQty <= 0 {
		return c.RemoveItem(id)
	}
	c.Lines[i].Quantity = newQty
	return nil
}

// ApplyCustomization validates the selections against the item's category
// rules and, on success, inserts a new line (edit=false) or replaces the
// existing line with the same id (edit=true), recomputing the unit price as
// base price plus the sum of selected option prices.
func (c *Cart) ApplyCustomization(item catalog.Item, selections []Selection, quantity int, edit bool) error {
	if quantity <= 0 {
		quantity = 1
	}
	if err := c.guardMerchant(item.MerchantName); err != nil {
		return err
	}
	if err := ValidateSelections(item.Customizations, selections); err != nil {
		return err
	}

	unit, err := customizedUnitPrice(item.Price, selections)
	if err != nil {
		return err
	}

	line := Line{
		ID:           strconv.FormatInt(item.ID, 10),
		Name:         item.Name,
		Price:        FormatMinor(unit),
		Quantity:     quantity,
		MerchantName: item.MerchantName,
		ImageURL:     item.ImageURL,
		Selections:   selections,
	}

	if i := c.findLine(line.ID); i >= 0 {
		if !edit {
			// Same item customized again: replace wholesale, matching the
			// edit path, so the cart never holds two lines for one id.
			edit = true
		}
		c.Lines[i] = line
		c.MerchantName = item.MerchantName
		return nil
	}
	if edit {
		return fmt.Errorf("edit customization %q: %w", line.ID, core.ErrLineNotFound)
	}

	c.Lines = append(c.Lines, line)
	c.MerchantName = item.MerchantName
	return nil
}

// ValidateSelections checks every category's selection count against its
// [minimum, maximum] bounds. The returned error names the offending
// category.
func ValidateSelections(categories []catalog.CustomizationCategory, selections []Selection) error {
	counts := make(map[string]int)
	for _, s := range selections {
		counts[s.Category]++
	}
	for _, cat := range categories {
		n := counts[cat.Name]
		if cat.Minimum > 0 && n < cat.Minimum {
			return fmt.Errorf("category %q requires at least %d selection(s), got %d: %w",
				cat.Name, cat.Minimum, n, core.ErrSelectionBelowMinimum)
		}
		if cat.Maximum > 0 && n > cat.Maximum {
			return fmt.Errorf("category %q allows at most %d selection(s), got %d: %w",
				cat.Name, cat.Maximum, n, core.ErrSelectionAboveMaximum)
		}
	}
	return nil
}

func customizedUnitPrice(base string, selections []Selection) (int64, error) {
	unit, err := ParseMinor(base)
	if err != nil {
		return 0, err
	}
	for _, s := range selections {
		p, err := ParseMinor(s.Price)
		if err != nil {
			return 0, err
		}
		unit += p
	}
	return unit, nil
}

// Clear removes every line.
func (c *Cart) Clear() {
	c.Lines = nil
	c.MerchantName = ""
}

// TotalMinor returns the cart total in minor currency units.
func (c *Cart) TotalMinor() int64 {
	var total int64
	for _, l := range c.Lines {
		unit, err := ParseMinor(l.Price)
		if err != nil {
			continue
		}
		total += unit * int64(l.Quantity)
	}
	return total
}

// Total returns the cart total formatted to two decimal places.
func (c *Cart) Total() string {
	return FormatMinor(c.TotalMinor())
}

// ItemCount returns the summed quantity across lines.
func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}
