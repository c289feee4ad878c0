package models

import "time"

// Event types
const (
	EventTypeOrderFulfilled = "ORDER_FULFILLED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderFulfilledEvent published when a sale settles
type OrderFulfilledEvent struct {
	BaseEvent
	SaleID            string        `json:"sale_id"`
	Offerer           string        `json:"offerer"`
	Buyer             string        `json:"buyer"`
	Currency          string        `json:"currency"`
	Price             string        `json:"price"`
	SellerAmount      string        `json:"seller_amount"`
	CreatorAmount     string        `json:"creator_amount"`
	MarketplaceAmount string        `json:"marketplace_amount"`
	Items             []OfferedItem `json:"items"`
}

// OrderCancelledEvent published when a sale is cancelled before fulfillment
type OrderCancelledEvent struct {
	BaseEvent
	SaleID      string `json:"sale_id"`
	Offerer     string `json:"offerer"`
	CancelledBy string `json:"cancelled_by"`
}

// OfferedItem represents item data in events
type OfferedItem struct {
	Kind       string `json:"item_type"`
	Token      string `json:"token"`
	Identifier string `json:"identifier"`
	Amount     string `json:"amount"`
}
