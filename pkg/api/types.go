package api

import (
	"github.com/uhyunpark/marketstake/pkg/app/core/ledger"
	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/app/core/orderbook"
)

// ==============================
// REST Response Types
// ==============================

// MarketInfo represents a market's current terms
type MarketInfo struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Variant   string `json:"variant"`
	Price     string `json:"price"`
	MinStake  string `json:"minStake"`
	StakeRate string `json:"stakeRate"`
	Tolerance string `json:"tolerance"`
	Active    bool   `json:"active"`
}

// BalanceInfo holds one ledger's buckets for an account
type BalanceInfo struct {
	Pending string `json:"pending"`
	Locked  string `json:"locked"`
	Gains   string `json:"gains"`
}

// AccountInfo represents an account on both ledgers. With a shared ledger
// both fields describe the same balance.
type AccountInfo struct {
	Address  string      `json:"address"`
	Client   BalanceInfo `json:"client"`
	Provider BalanceInfo `json:"provider"`
	Shared   bool        `json:"shared"`
}

// OrderInfo represents an order. Per-role arrays are indexed [client, provider].
type OrderInfo struct {
	ID            string    `json:"id"`
	MarketID      string    `json:"marketId"`
	Client        string    `json:"client"`
	Provider      string    `json:"provider"`
	Price         string    `json:"price"`
	Quantity      string    `json:"quantity"`
	Stake         string    `json:"stake"`
	Fee           string    `json:"fee"`
	Active        bool      `json:"active"`
	Confirmed     [2]bool   `json:"confirmed"`
	Readings      [2]string `json:"readings"`
	Given         [2]bool   `json:"given"`
	BilateralSeek [2]bool   `json:"bilateralSeek"`
}

// IDResponse is returned by operations that create an entity
type IDResponse struct {
	ID string `json:"id"`
}

// AmountResponse is returned by withdrawals
type AmountResponse struct {
	Amount string `json:"amount"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// Request Types
// ==============================

type AddMarketRequest struct {
	Price     string `json:"price"`
	MinStake  string `json:"minStake"`
	StakeRate string `json:"stakeRate"`
	Tolerance string `json:"tolerance"`
}

// ValueRequest carries a new market parameter value
type ValueRequest struct {
	Value string `json:"value"`
}

type AmountRequest struct {
	Amount string `json:"amount"`
}

type OrderRequest struct {
	MarketID string `json:"marketId"`
	Quantity string `json:"quantity"`
}

type ReadingRequest struct {
	Reading string `json:"reading"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["events", "market:0x...", "order:0x..."]
}

func marketInfo(m market.Market) MarketInfo {
	return MarketInfo{
		ID:        m.ID.Hex(),
		Provider:  m.Provider.Hex(),
		Variant:   m.Variant.String(),
		Price:     m.Price.Dec(),
		MinStake:  m.MinStake.Dec(),
		StakeRate: m.StakeRate.Dec(),
		Tolerance: m.Tolerance.Dec(),
		Active:    m.Active,
	}
}

func balanceInfo(b ledger.Balance) BalanceInfo {
	return BalanceInfo{Pending: b.Pending.Dec(), Locked: b.Locked.Dec(), Gains: b.Gains.Dec()}
}

func orderInfo(o orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:            o.ID.Hex(),
		MarketID:      o.MarketID.Hex(),
		Client:        o.Client.Hex(),
		Provider:      o.Provider.Hex(),
		Price:         o.Price.Dec(),
		Quantity:      o.Quantity.Dec(),
		Stake:         o.Stake.Dec(),
		Fee:           o.Fee.Dec(),
		Active:        o.Active,
		Confirmed:     o.Confirmed,
		Readings:      [2]string{o.Readings[0].Dec(), o.Readings[1].Dec()},
		Given:         o.Given,
		BilateralSeek: o.BilateralSeek,
	}
}
