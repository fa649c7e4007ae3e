package httpapi

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/convocart/convocart/cart"
	"github.com/convocart/convocart/checkout"
	"github.com/convocart/convocart/core"
)

// registerValidations adds the custom rules the request DTOs use.
func registerValidations() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("addresstype", func(fl validator.FieldLevel) bool {
		switch core.AddressType(fl.Field().String()) {
		case core.AddressHome, core.AddressOffice, core.AddressHotel, core.AddressOther:
			return true
		}
		return false
	})
}

// createSessionRequest identifies an existing shopper or signs one up.
type createSessionRequest struct {
	UserID string `json:"user_id" binding:"required_without=Handle"`
	Handle string `json:"handle" binding:"required_without=UserID,max=120"`
	Via    string `json:"via" binding:"omitempty,oneof=email phone wallet"`
}

type reverseGeocodeRequest struct {
	Lat float64 `form:"lat" binding:"min=-90,max=90"`
	Lng float64 `form:"lng" binding:"min=-180,max=180"`
}

type turnRequest struct {
	Text        string `json:"text" binding:"required_without=ImageBase64,max=2000"`
	Via         string `json:"via" binding:"omitempty,oneof=typed voice"`
	ImageBase64 string `json:"image_base64" binding:"omitempty,base64"`
	ImageMIME   string `json:"image_mime" binding:"required_with=ImageBase64"`
}

type addItemRequest struct {
	MerchantID int64 `json:"merchant_id" binding:"required"`
	ItemID     int64 `json:"item_id" binding:"required"`
	VariantID  int64 `json:"variant_id"`
	Quantity   int   `json:"quantity" binding:"omitempty,min=1"`
	// ClearFirst resolves a merchant conflict the UI has already confirmed.
	ClearFirst bool `json:"clear_first"`
}

type updateQuantityRequest struct {
	LineID string `json:"line_id" binding:"required"`
	Delta  int    `json:"delta" binding:"required"`
}

type customizeRequest struct {
	MerchantID int64            `json:"merchant_id" binding:"required"`
	ItemID     int64            `json:"item_id" binding:"required"`
	Selections []cart.Selection `json:"selections" binding:"dive"`
	Quantity   int              `json:"quantity" binding:"omitempty,min=1"`
	Edit       bool             `json:"edit"`
}

type detailsRequest struct {
	Name    string `json:"name" binding:"required,max=120"`
	Address string `json:"address" binding:"required,max=500"`
	Phone   string `json:"phone" binding:"required,max=32"`
}

type methodRequest struct {
	Method string `json:"method" binding:"required,oneof=card crypto cash"`
}

type payRequest struct {
	CardToken string         `json:"card_token"`
	Wallet    *walletRequest `json:"wallet"`
}

type walletRequest struct {
	Connected       bool   `json:"connected"`
	ChainID         int64  `json:"chain_id"`
	TransactionHash string `json:"transaction_hash"`
}

func (w *walletRequest) toWallet() *checkout.Wallet {
	if w == nil {
		return nil
	}
	return &checkout.Wallet{
		Connected:       w.Connected,
		ChainID:         w.ChainID,
		TransactionHash: w.TransactionHash,
	}
}

type addressRequest struct {
	Name  string           `json:"name" binding:"required,max=120"`
	Line  string           `json:"address" binding:"required,max=500"`
	Phone string           `json:"phone" binding:"required,max=32"`
	Type  string           `json:"type" binding:"required,addresstype"`
	Coord *coordinatesBody `json:"coordinates"`
}

type coordinatesBody struct {
	Lat float64 `json:"lat" binding:"min=-90,max=90"`
	Lng float64 `json:"lng" binding:"min=-180,max=180"`
}

type addressListRequest struct {
	Addresses []addressRequest `json:"addresses" binding:"required,min=1,dive"`
}

func (r addressListRequest) toAddresses() []core.Address {
	out := make([]core.Address, 0, len(r.Addresses))
	for _, a := range r.Addresses {
		addr := core.Address{
			Name:  a.Name,
			Line:  a.Line,
			Phone: a.Phone,
			Type:  core.AddressType(a.Type),
		}
		if a.Coord != nil {
			addr.Coordinates = &core.Coordinates{Lat: a.Coord.Lat, Lng: a.Coord.Lng}
		}
		out = append(out, addr)
	}
	return out
}
