package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/convocart/convocart/catalog"
	"github.com/convocart/convocart/checkout"
	"github.com/convocart/convocart/convo"
	"github.com/convocart/convocart/core"
	"github.com/convocart/convocart/session"
)

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var user *core.UserRecord
	var err error
	if req.UserID != "" {
		user, err = s.users.GetUser(c.Request.Context(), req.UserID)
	} else {
		via := req.Via
		if via == "" {
			via = "email"
		}
		user, err = s.users.SignUp(c.Request.Context(), req.Handle, via)
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	conv, err := s.sessions.Create(c.Request.Context(), user)
	if err != nil {
		s.writeError(c, err)
		return
	}

	s.logger.Info("Session created", map[string]interface{}{
		"operation":  "session_create",
		"session_id": conv.ID,
		"user_id":    user.ID,
	})
	c.JSON(http.StatusCreated, gin.H{"session_id": conv.ID, "user": user})
}

func (s *Server) handleTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, ok := s.conversation(c)
	if !ok {
		return
	}

	in := convo.TurnInput{Text: req.Text, Via: convo.ViaTyped}
	if req.Via == "voice" {
		in.Via = convo.ViaVoice
	}
	if req.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			badRequest(c, err)
			return
		}
		in.ImageData = data
		in.ImageMIME = req.ImageMIME
		in.Via = convo.ViaImage
	}

	messages, err := s.orchestrator.HandleTurn(c.Request.Context(), conv, in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.save(c, conv)
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) getCart(c *gin.Context) {
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cart":       conv.Cart,
		"total":      conv.Cart.Total(),
		"item_count": conv.Cart.ItemCount(),
	})
}

func (s *Server) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, ok := s.conversation(c)
	if !ok {
		return
	}

	item, err := s.resolver.ItemByID(c.Request.Context(), req.MerchantID, req.ItemID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if req.ClearFirst {
		conv.ClearCart()
	}

	if req.VariantID != 0 {
		variant, found := findVariant(item.Variants, req.VariantID)
		if !found {
			s.writeError(c, core.ErrItemNotFound)
			return
		}
		err = conv.Cart.AddVariant(*item, variant, quantity)
	} else {
		err = conv.Cart.AddItem(*item, quantity)
	}
	if errors.Is(err, core.ErrMerchantMismatch) {
		// The UI resends with clear_first=true once the shopper confirms.
		c.JSON(http.StatusConflict, gin.H{
			"error":                 err.Error(),
			"requires_confirmation": true,
			"current_merchant":      conv.Cart.Merchant(),
		})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}

	conv.SetActiveMerchant(item.MerchantID, item.MerchantName)
	s.save(c, conv)
	c.JSON(http.StatusOK, gin.H{"cart": conv.Cart, "total": conv.Cart.Total()})
}

func (s *Server) customize(c *gin.Context) {
	var req customizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, ok := s.conversation(c)
	if !ok {
		return
	}

	item, err := s.resolver.ItemByID(c.Request.Context(), req.MerchantID, req.ItemID)
	if err != nil {
		s.writeError(c, err)
		return
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if err := conv.Cart.ApplyCustomization(*item, req.Selections, quantity, req.Edit); err != nil {
		s.writeError(c, err)
		return
	}

	conv.SetActiveMerchant(item.MerchantID, item.MerchantName)
	s.save(c, conv)
	c.JSON(http.StatusOK, gin.H{"cart": conv.Cart, "total": conv.Cart.Total()})
}

func (s *Server) updateQuantity(c *gin.Context) {
	var req updateQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, ok := s.conversation(c)
	if !ok {
		return
	}

	if err := conv.Cart.UpdateQuantity(req.LineID, req.Delta); err != nil {
		s.writeError(c, err)
		return
	}
	if conv.Cart.IsEmpty() {
		conv.Checkout.Abandon()
	} else if conv.Checkout.Active() {
		conv.Checkout.RotateKey()
	}
	s.save(c, conv)
	c.JSON(http.StatusOK, gin.H{"cart": conv.Cart, "total": conv.Cart.Total()})
}

func (s *Server) removeLine(c *gin.Context) {
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	if err := conv.Cart.RemoveItem(c.Param("lineID")); err != nil {
		s.writeError(c, err)
		return
	}
	if conv.Cart.IsEmpty() {
		conv.Checkout.Abandon()
	} else if conv.Checkout.Active() {
		conv.Checkout.RotateKey()
	}
	s.save(c, conv)
	c.JSON(http.StatusOK, gin.H{"cart": conv.Cart, "total": conv.Cart.Total()})
}

func (s *Server) clearCart(c *gin.Context) {
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	conv.ClearCart()
	s.save(c, conv)
	c.JSON(http.StatusOK, gin.H{"cart": conv.Cart})
}

func (s *Server) beginCheckout(c *gin.Context) {
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	msg := s.orchestrator.BeginCheckout(conv)
	s.save(c, conv)
	c.JSON(http.StatusOK, gin.H{"message": msg, "checkout": conv.Checkout})
}

func (s *Server) setDetails(c *gin.Context) {
	var req detailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, ok := s.conversation(c)
	if !ok {
		return
	}

	details := checkout.OrderDetails{Name: req.Name, Address: req.Address, Phone: req.Phone}
	if err := conv.Checkout.SetDetails(details); err != nil {
		s.writeError(c, err)
		return
	}
	if err := conv.Checkout.AdvanceToPayment(); err != nil {
		s.writeError(c, err)
		return
	}
	s.save(c, conv)
	c.JSON(http.StatusOK, gin.H{"checkout": conv.Checkout})
}

func (s *Server) selectMethod(c *gin.Context) {
	var req methodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, ok := s.conversation(c)
	if !ok {
		return
	}

	if err := conv.Checkout.SelectMethod(checkout.Method(req.Method)); err != nil {
		s.writeError(c, err)
		return
	}
	s.save(c, conv)
	c.JSON(http.StatusOK, gin.H{"checkout": conv.Checkout})
}

func (s *Server) pay(c *gin.Context) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	if conv.ActiveMerchantID == 0 {
		badRequest(c, core.ErrCheckoutNotActive)
		return
	}

	merchants, err := s.resolver.MerchantsByIDs(c.Request.Context(), []int64{conv.ActiveMerchantID})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if len(merchants) == 0 {
		s.writeError(c, core.ErrMerchantNotFound)
		return
	}
	// The active merchant must be the one the cart was built against. A
	// mismatch means the session drifted; paying the wrong merchant is worse
	// than failing the request.
	if merchants[0].Name != conv.Cart.Merchant() {
		s.writeError(c, core.ErrMerchantMismatch)
		return
	}

	inst := checkout.Instrument{CardToken: req.CardToken, Wallet: req.Wallet.toWallet()}
	conf, err := s.processor.Pay(c.Request.Context(), conv.Checkout, conv.Cart, &merchants[0], inst)
	if err != nil {
		s.save(c, conv)
		s.writeError(c, err)
		return
	}

	msg := s.orchestrator.RecordConfirmation(conv, conf)
	s.save(c, conv)

	// Pull the new order into the projection so the history panel sees it
	// without waiting for the next broker push.
	go func() {
		refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.Refresh(refreshCtx, conv.UserID); err != nil {
			s.logger.Warn("Order refresh after payment failed", map[string]interface{}{
				"operation": "order_refresh",
				"user_id":   conv.UserID,
				"error":     err.Error(),
			})
		}
	}()

	c.JSON(http.StatusOK, gin.H{"confirmation": conf, "message": msg})
}

func (s *Server) abandonCheckout(c *gin.Context) {
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	conv.Checkout.Abandon()
	s.save(c, conv)
	c.JSON(http.StatusOK, gin.H{"checkout": conv.Checkout})
}

func (s *Server) listOrders(c *gin.Context) {
	conv, ok := s.conversation(c)
	if !ok {
		return
	}
	if err := s.store.Refresh(c.Request.Context(), conv.UserID); err != nil {
		s.logger.Warn("Order refresh failed, serving cached projection", map[string]interface{}{
			"operation": "order_refresh",
			"user_id":   conv.UserID,
			"error":     err.Error(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"orders": s.store.Snapshot(conv.UserID)})
}

// streamOrders pushes live status updates over SSE. The client reconnects
// and re-reads the snapshot on drop; only deltas flow here.
func (s *Server) streamOrders(c *gin.Context) {
	conv, ok := s.conversation(c)
	if !ok {
		return
	}

	updates, cancel := s.store.Subscribe(conv.UserID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case order, open := <-updates:
			if !open {
				return false
			}
			c.SSEvent("order", order)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// reverseGeocode names a map-picked location for the address form.
func (s *Server) reverseGeocode(c *gin.Context) {
	if s.geocoder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "geocoding is not configured"})
		return
	}
	var req reverseGeocodeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}
	address, err := s.geocoder.ReverseGeocode(c.Request.Context(), core.Coordinates{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": address})
}

func (s *Server) updateAddresses(c *gin.Context) {
	var req addressListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conv, ok := s.conversation(c)
	if !ok {
		return
	}

	addresses := req.toAddresses()
	if s.geocoder != nil {
		for i := range addresses {
			if addresses[i].Coordinates != nil {
				continue
			}
			coords, err := s.geocoder.Geocode(c.Request.Context(), addresses[i].Line)
			if err != nil {
				s.logger.Warn("Geocoding failed, saving address without coordinates", map[string]interface{}{
					"operation": "geocode",
					"error":     err.Error(),
				})
				continue
			}
			addresses[i].Coordinates = coords
		}
	}

	if err := session.UpdateAddresses(c.Request.Context(), conv, s.users, addresses); err != nil {
		s.writeError(c, err)
		return
	}
	s.save(c, conv)
	c.JSON(http.StatusOK, gin.H{"addresses": conv.User.Addresses})
}

func findVariant(variants []catalog.Variant, id int64) (catalog.Variant, bool) {
	for _, v := range variants {
		if v.ID == id {
			return v, true
		}
	}
	return catalog.Variant{}, false
}
