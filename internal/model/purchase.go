package model

import "time"

// PaymentMethod enumerates how a purchase was (or will be) paid.
type PaymentMethod string

const (
    PaymentCard     PaymentMethod = "card"
    PaymentInStore  PaymentMethod = "in-store"
    PaymentPayLater PaymentMethod = "pay-later"
)

// Valid reports whether m is one of the known payment methods.
func (m PaymentMethod) Valid() bool {
    switch m {
    case PaymentCard, PaymentInStore, PaymentPayLater:
        return true
    }
    return false
}

// PurchaseStatus is the lifecycle state of an attraction purchase.
type PurchaseStatus string

const (
    StatusPending   PurchaseStatus = "pending"
    StatusCompleted PurchaseStatus = "completed"
    StatusCancelled PurchaseStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s PurchaseStatus) Valid() bool {
    switch s {
    case StatusPending, StatusCompleted, StatusCancelled:
        return true
    }
    return false
}

// Purchase is a snapshot of one attraction purchase as returned by the
// purchase API.  The API owns the authoritative copy; everything held in
// the dashboard cache is a copy of it.
//
// Fields:
//  ID           : purchase identifier (unique within the cache).
//  AttractionID : attraction that was bought.
//  CustomerID   : registered customer, nil for walk-in guests.
//  LocationID   : venue location the attraction belongs to.
//  Guest*       : contact details captured at checkout.
//  Quantity     : number of tickets.
//  TotalAmount  : total charged, in the API's currency units.
//  PaymentMethod: card | in-store | pay-later.
//  Status       : pending | completed | cancelled.
//  PurchaseDate : business date of the purchase (YYYY-MM-DD).
//  Notes        : free text entered by staff.
//  Attraction   : denormalized attraction summary for display.
//  Customer     : denormalized customer summary for display.
type Purchase struct {
    ID            uint64             `json:"id"`
    AttractionID  uint64             `json:"attraction_id"`
    CustomerID    *uint64            `json:"customer_id,omitempty"`
    LocationID    *uint64            `json:"location_id,omitempty"`
    GuestName     string             `json:"guest_name,omitempty"`
    GuestEmail    string             `json:"guest_email,omitempty"`
    GuestPhone    string             `json:"guest_phone,omitempty"`
    Quantity      int                `json:"quantity"`
    TotalAmount   float64            `json:"total_amount"`
    PaymentMethod PaymentMethod      `json:"payment_method"`
    Status        PurchaseStatus     `json:"status"`
    PurchaseDate  string             `json:"purchase_date,omitempty"`
    Notes         string             `json:"notes,omitempty"`
    CreatedAt     time.Time          `json:"created_at"`
    UpdatedAt     time.Time          `json:"updated_at"`
    Attraction    *AttractionSummary `json:"attraction,omitempty"`
    Customer      *CustomerSummary   `json:"customer,omitempty"`
}

// AttractionSummary is the slice of an attraction shown next to a purchase.
type AttractionSummary struct {
    ID          uint64  `json:"id"`
    Name        string  `json:"name"`
    Price       float64 `json:"price,omitempty"`
    PricingType string  `json:"pricing_type,omitempty"`
    LocationID  *uint64 `json:"location_id,omitempty"`
}

// CustomerSummary is the slice of a customer shown next to a purchase.
type CustomerSummary struct {
    ID        uint64 `json:"id"`
    FirstName string `json:"first_name"`
    LastName  string `json:"last_name"`
    Email     string `json:"email"`
    Phone     string `json:"phone,omitempty"`
}

// Clone returns a deep copy so cached snapshots never share pointers with
// callers.
func (p Purchase) Clone() Purchase {
    out := p
    if p.CustomerID != nil {
        v := *p.CustomerID
        out.CustomerID = &v
    }
    if p.LocationID != nil {
        v := *p.LocationID
        out.LocationID = &v
    }
    if p.Attraction != nil {
        a := *p.Attraction
        if a.LocationID != nil {
            v := *a.LocationID
            a.LocationID = &v
        }
        out.Attraction = &a
    }
    if p.Customer != nil {
        c := *p.Customer
        out.Customer = &c
    }
    return out
}

// EffectiveLocationID returns the purchase location, falling back to the
// attraction's location when the purchase row does not carry one.
func (p Purchase) EffectiveLocationID() (uint64, bool) {
    if p.LocationID != nil {
        return *p.LocationID, true
    }
    if p.Attraction != nil && p.Attraction.LocationID != nil {
        return *p.Attraction.LocationID, true
    }
    return 0, false
}
