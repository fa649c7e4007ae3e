package catalog

import "github.com/convocart/convocart/core"

// Merchant is a seller whose catalog can be browsed. Cart and checkout are
// always scoped to exactly one merchant.
type Merchant struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Summary        string            `json:"summary"`
	Coordinates    *core.Coordinates `json:"coordinates,omitempty"`
	PaymentAccount string            `json:"payment_account"` // processor sub-account
	DepositAddress string            `json:"deposit_address"` // stablecoin deposit wallet
}

// Variant is a purchasable variation of an item (e.g. a size).
type Variant struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Price string `json:"price"` // decimal-as-string, e.g. "12.50"
}

// CustomizationOption is one selectable option inside a category.
type CustomizationOption struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Price string `json:"price"`
}

// CustomizationCategory is a named, cardinality-constrained option group.
// A configured line is valid only when every category's selection count lies
// within [Minimum, Maximum].
type CustomizationCategory struct {
	Name    string                `json:"name"`
	Minimum int                   `json:"minimum"`
	Maximum int                   `json:"maximum"`
	Options []CustomizationOption `json:"options"`
}

// Item is one catalog entry. Variants and customizations are mutually
// exclusive per item; catalog data configures an item as one or the other.
type Item struct {
	ID             int64                   `json:"id"`
	MerchantID     int64                   `json:"merchant_id"`
	MerchantName   string                  `json:"merchant_name"`
	Name           string                  `json:"name"`
	Description    string                  `json:"description"`
	Price          string                  `json:"price"`
	ImageURL       string                  `json:"image_url"`
	Available      bool                    `json:"available"`
	NutritionScore float64                 `json:"nutrition_score"`
	Variants       []Variant               `json:"variants,omitempty"`
	Customizations []CustomizationCategory `json:"customizations,omitempty"`
}

// PromptItem is the projection handed to recommendation and classification
// prompts. Internal-only fields (images, availability, nutrition, raw ids)
// are dropped so they do not inflate prompt context.
type PromptItem struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

// Recommendation is the recommender's answer: up to two ranked merchant ids.
type Recommendation struct {
	MerchantIDs []int64 `json:"merchant_ids"`
}
