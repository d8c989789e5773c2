package stake

import (
	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core"
)

type EventType string

const (
	MarketCreated          EventType = "MarketCreated"
	MarketShutdown         EventType = "MarketShutdown"
	MarketPriceChanged     EventType = "MarketPriceChanged"
	MarketMinStakeChanged  EventType = "MarketMinStakeChanged"
	MarketStakeRateChanged EventType = "MarketStakeRateChanged"
	MarketToleranceChanged EventType = "MarketToleranceChanged"

	OrderCreated            EventType = "OrderCreated"
	OrderConfirmed          EventType = "OrderConfirmed"
	OrderActivated          EventType = "OrderActivated"
	OrderReadingRecorded    EventType = "OrderReadingRecorded"
	OrderFilled             EventType = "OrderFilled"
	OrderCancelled          EventType = "OrderCancelled"
	OrderBilateralSought    EventType = "OrderBilateralSought"
	OrderBilateralCancelled EventType = "OrderBilateralCancelled"

	ClientDeposited   EventType = "ClientDeposited"
	ProviderDeposited EventType = "ProviderDeposited"
	ClientWithdrawn   EventType = "ClientWithdrawn"
	ProviderWithdrawn EventType = "ProviderWithdrawn"
)

// Event is emitted for every successful operation. Amounts are decimal
// strings; fields that do not apply to a type are left empty.
type Event struct {
	Seq      uint64        `json:"seq"`
	Time     int64         `json:"time"` // unix millis at commit
	Type     EventType     `json:"type"`
	MarketID *core.ID      `json:"marketId,omitempty"`
	OrderID  *core.ID      `json:"orderId,omitempty"`
	Account  core.Identity `json:"account"` // the caller
	Role     string        `json:"role,omitempty"`
	Payer    string        `json:"payer,omitempty"` // role that paid the cancel fee
	Amount   string        `json:"amount,omitempty"`
	Value    string        `json:"value,omitempty"` // new parameter value, or order quantity
	Reading  string        `json:"reading,omitempty"`
	Stake    string        `json:"stake,omitempty"`
	Fee      string        `json:"fee,omitempty"`
}

// Channels returns the websocket channels the event is published on
func (e Event) Channels() []string {
	ch := []string{"events"}
	if e.MarketID != nil {
		ch = append(ch, "market:"+e.MarketID.Hex())
	}
	if e.OrderID != nil {
		ch = append(ch, "order:"+e.OrderID.Hex())
	}
	return ch
}

func idRef(id core.ID) *core.ID { return &id }

func dec(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

// emit buffers an event until the operation commits. Caller holds a.mu.
func (a *App) emit(e Event) {
	a.buffered = append(a.buffered, e)
}

// publish numbers the buffered events, appends them to the bounded history
// and hands them to the hook. Caller holds a.mu.
func (a *App) publish() {
	now := a.clock.Now().UnixMilli()
	for _, e := range a.buffered {
		a.eventSeq++
		e.Seq = a.eventSeq
		e.Time = now
		a.history = append(a.history, e)
		eventsTotal.WithLabelValues(string(e.Type)).Inc()
		if a.onEvent != nil {
			a.onEvent(e)
		}
	}
	if over := len(a.history) - a.historySize; over > 0 {
		a.history = append(a.history[:0:0], a.history[over:]...)
	}
	a.buffered = a.buffered[:0]
}

// Events returns retained events with Seq > since, oldest first
func (a *App) Events(since uint64) []Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Event, 0)
	for _, e := range a.history {
		if e.Seq > since {
			out = append(out, e)
		}
	}
	return out
}
