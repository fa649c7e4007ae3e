package core

// Coordinates is a geographic point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// AddressType tags a saved address.
type AddressType string

const (
	AddressHome   AddressType = "home"
	AddressOffice AddressType = "office"
	AddressHotel  AddressType = "hotel"
	AddressOther  AddressType = "other"
)

// Address is a user-entered delivery location. The engine holds a full
// replica of the user's list; mutations go through the remote aggregator and
// roll back locally on failure.
type Address struct {
	Name        string       `json:"name"`
	Line        string       `json:"address"`
	Phone       string       `json:"phone"`
	Type        AddressType  `json:"type"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// UserRecord is the authenticated shopper as known by the aggregator.
type UserRecord struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Via       string    `json:"via"` // signup channel: "email", "phone", "wallet"
	Addresses []Address `json:"addresses"`
}
