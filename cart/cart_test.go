package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convocart/convocart/catalog"
	"github.com/convocart/convocart/core"
)

func pizzaItem() catalog.Item {
	return catalog.Item{
		ID:           1,
		MerchantID:   7,
		MerchantName: "Napoli",
		Name:         "Margherita",
		Price:        "10.00",
	}
}

func TestAddItem_IncrementsExisting(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(pizzaItem(), 1))
	require.NoError(t, c.AddItem(pizzaItem(), 2))

	require.Len(t, c.Lines, 1)
	assert.Equal(t, 3, c.Lines[0].Quantity)
	assert.Equal(t, "Napoli", c.Merchant())
}

// Scenario: adding an item from merchant B to a merchant-A cart without
// clearing first leaves the cart unchanged.
func TestAddItem_MerchantMismatchRejected(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(pizzaItem(), 1))

	other := catalog.Item{ID: 9, MerchantName: "Sushiya", Name: "Nigiri", Price: "25.00"}
	err := c.AddItem(other, 1)
	assert.ErrorIs(t, err, core.ErrMerchantMismatch)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "Margherita", c.Lines[0].Name)

	c.Clear()
	require.NoError(t, c.AddItem(other, 1))
	assert.Equal(t, "Sushiya", c.Merchant())
}

// Scenario: qty 2 at 10.00, minus one leaves total 10.00, minus one more
// empties the cart.
func TestUpdateQuantity_DecrementToZeroRemoves(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(pizzaItem(), 2))
	assert.Equal(t, "20.00", c.Total())

	require.NoError(t, c.UpdateQuantity("1", -1))
	assert.Equal(t, 1, c.Lines[0].Quantity)
	assert.Equal(t, "10.00", c.Total())

	require.NoError(t, c.UpdateQuantity("1", -1))
	assert.True(t, c.IsEmpty())
	assert.Empty(t, c.Merchant())
}

func TestUpdateQuantity_NeverLeavesZeroQuantityLine(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(pizzaItem(), 1))
	require.NoError(t, c.UpdateQuantity("1", -5))

	for _, l := range c.Lines {
		assert.Positive(t, l.Quantity)
	}
	assert.True(t, c.IsEmpty())
}

func TestRemoveItem_IgnoresQuantity(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(pizzaItem(), 5))
	require.NoError(t, c.RemoveItem("1"))
	assert.True(t, c.IsEmpty())

	err := c.RemoveItem("1")
	assert.ErrorIs(t, err, core.ErrLineNotFound)
}

func TestAddVariant_CompositeIDAndParentRef(t *testing.T) {
	c := New()
	parent := pizzaItem()
	variant := catalog.Variant{ID: 23, Title: "Large", Price: "14.00"}

	require.NoError(t, c.AddVariant(parent, variant, 1))
	require.Len(t, c.Lines, 1)

	line := c.Lines[0]
	assert.Equal(t, "1::23", line.ID)
	assert.Equal(t, "Margherita - Large", line.Name)
	assert.Equal(t, "14.00", line.Price)
	require.NotNil(t, line.Parent)
	assert.Equal(t, int64(1), line.Parent.ID)
}

// The separator keeps parent 1 + variant 23 distinct from parent 12 +
// variant 3.
func TestVariantID_NoCollisions(t *testing.T) {
	assert.NotEqual(t, VariantID(1, 23), VariantID(12, 3))
}

func TestAddVariant_SameVariantIncrements(t *testing.T) {
	c := New()
	parent := pizzaItem()
	variant := catalog.Variant{ID: 23, Title: "Large", Price: "14.00"}

	require.NoError(t, c.AddVariant(parent, variant, 1))
	require.NoError(t, c.AddVariant(parent, variant, 1))
	require.Len(t, c.Lines, 1)
	assert.Equal(t, 2, c.Lines[0].Quantity)
}

func customizableItem() catalog.Item {
	return catalog.Item{
		ID:           5,
		MerchantName: "Napoli",
		Name:         "Build Your Own",
		Price:        "8.00",
		Customizations: []catalog.CustomizationCategory{
			{
				Name: "Size", Minimum: 1, Maximum: 1,
				Options: []catalog.CustomizationOption{
					{ID: 1, Name: "Small", Price: "0.00"},
					{ID: 2, Name: "Large", Price: "2.00"},
				},
			},
			{
				Name: "Toppings", Minimum: 0, Maximum: 2,
				Options: []catalog.CustomizationOption{
					{ID: 3, Name: "Olives", Price: "1.00"},
					{ID: 4, Name: "Mushrooms", Price: "1.50"},
					{ID: 5, Name: "Pepperoni", Price: "2.00"},
				},
			},
		},
	}
}

// Scenario: empty selection rejected for a min=1 category; selecting Large
// yields unit price base+2.
func TestApplyCustomization_Scenarios(t *testing.T) {
	c := New()
	item := customizableItem()

	err := c.ApplyCustomization(item, nil, 1, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSelectionBelowMinimum)
	assert.Contains(t, err.Error(), "Size")
	assert.True(t, c.IsEmpty(), "rejected customization must not create a line")

	err = c.ApplyCustomization(item, []Selection{
		{Category: "Size", Name: "Large", Price: "2.00"},
	}, 1, false)
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "10.00", c.Lines[0].Price)
}

func TestApplyCustomization_MaximumEnforcedOnOptionalCategory(t *testing.T) {
	c := New()
	item := customizableItem()

	err := c.ApplyCustomization(item, []Selection{
		{Category: "Size", Name: "Small", Price: "0.00"},
		{Category: "Toppings", Name: "Olives", Price: "1.00"},
		{Category: "Toppings", Name: "Mushrooms", Price: "1.50"},
		{Category: "Toppings", Name: "Pepperoni", Price: "2.00"},
	}, 1, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSelectionAboveMaximum)
	assert.Contains(t, err.Error(), "Toppings")
}

func TestApplyCustomization_EditReplacesLine(t *testing.T) {
	c := New()
	item := customizableItem()

	require.NoError(t, c.ApplyCustomization(item, []Selection{
		{Category: "Size", Name: "Small", Price: "0.00"},
	}, 1, false))
	require.NoError(t, c.ApplyCustomization(item, []Selection{
		{Category: "Size", Name: "Large", Price: "2.00"},
		{Category: "Toppings", Name: "Olives", Price: "1.00"},
	}, 2, true))

	require.Len(t, c.Lines, 1)
	line := c.Lines[0]
	assert.Equal(t, "11.00", line.Price)
	assert.Equal(t, 2, line.Quantity)
	assert.Len(t, line.Selections, 2)
}

func TestApplyCustomization_EditMissingLine(t *testing.T) {
	c := New()
	err := c.ApplyCustomization(customizableItem(), []Selection{
		{Category: "Size", Name: "Small", Price: "0.00"},
	}, 1, true)
	assert.ErrorIs(t, err, core.ErrLineNotFound)
}

// Total is the sum of unit price times quantity, stable under reordering.
func TestTotal_StableUnderReordering(t *testing.T) {
	a := catalog.Item{ID: 1, MerchantName: "M", Name: "A", Price: "3.25"}
	b := catalog.Item{ID: 2, MerchantName: "M", Name: "B", Price: "7.10"}

	c1 := New()
	require.NoError(t, c1.AddItem(a, 2))
	require.NoError(t, c1.AddItem(b, 1))

	c2 := New()
	require.NoError(t, c2.AddItem(b, 1))
	require.NoError(t, c2.AddItem(a, 2))

	assert.Equal(t, "13.60", c1.Total())
	assert.Equal(t, c1.Total(), c2.Total())
}

func TestParseMinor(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"10.00", 1000},
		{"0.50", 50},
		{"7", 700},
		{"3.5", 350},
		{"", 0},
		{"12.345", 1234},
	}
	for _, tt := range tests {
		got, err := ParseMinor(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseMinor("abc")
	assert.Error(t, err)
}

func TestItemCount(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(pizzaItem(), 2))
	require.NoError(t, c.AddVariant(pizzaItem(), catalog.Variant{ID: 3, Title: "L", Price: "12.00"}, 1))
	assert.Equal(t, 3, c.ItemCount())
}
