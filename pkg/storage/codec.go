package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core/ledger"
	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/app/core/orderbook"
)

// Records are JSON with amounts as decimal strings.

type balanceRecord struct {
	Ledger  string `json:"ledger"`
	Account string `json:"account"`
	Pending string `json:"pending"`
	Locked  string `json:"locked"`
	Gains   string `json:"gains"`
}

type marketRecord struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Price     string `json:"price"`
	MinStake  string `json:"minStake"`
	StakeRate string `json:"stakeRate"`
	Tolerance string `json:"tolerance"`
	Variant   string `json:"variant"`
	Active    bool   `json:"active"`
}

type orderRecord struct {
	ID            string    `json:"id"`
	MarketID      string    `json:"marketId"`
	Client        string    `json:"client"`
	Provider      string    `json:"provider"`
	Price         string    `json:"price"`
	Stake         string    `json:"stake"`
	Fee           string    `json:"fee"`
	Quantity      string    `json:"quantity"`
	Active        bool      `json:"active"`
	Confirmed     [2]bool   `json:"confirmed"`
	Readings      [2]string `json:"readings"`
	Given         [2]bool   `json:"given"`
	BilateralSeek [2]bool   `json:"bilateralSeek"`
}

func encodeBalance(name string, e ledger.Entry) ([]byte, error) {
	return json.Marshal(balanceRecord{
		Ledger:  name,
		Account: e.Account.Hex(),
		Pending: e.Balance.Pending.Dec(),
		Locked:  e.Balance.Locked.Dec(),
		Gains:   e.Balance.Gains.Dec(),
	})
}

func decodeBalance(b []byte) (string, ledger.Entry, error) {
	var r balanceRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return "", ledger.Entry{}, fmt.Errorf("unmarshal balance: %w", err)
	}
	e := ledger.Entry{Account: common.HexToAddress(r.Account), Exists: true}
	if err := parseAmounts(
		amount{r.Pending, &e.Balance.Pending},
		amount{r.Locked, &e.Balance.Locked},
		amount{r.Gains, &e.Balance.Gains},
	); err != nil {
		return "", ledger.Entry{}, fmt.Errorf("balance %s/%s: %w", r.Ledger, r.Account, err)
	}
	return r.Ledger, e, nil
}

func encodeMarket(m *market.Market) ([]byte, error) {
	return json.Marshal(marketRecord{
		ID:        m.ID.Hex(),
		Provider:  m.Provider.Hex(),
		Price:     m.Price.Dec(),
		MinStake:  m.MinStake.Dec(),
		StakeRate: m.StakeRate.Dec(),
		Tolerance: m.Tolerance.Dec(),
		Variant:   m.Variant.String(),
		Active:    m.Active,
	})
}

func decodeMarket(b []byte) (market.Market, error) {
	var r marketRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return market.Market{}, fmt.Errorf("unmarshal market: %w", err)
	}
	v, err := market.ParseVariant(r.Variant)
	if err != nil {
		return market.Market{}, err
	}
	m := market.Market{
		ID:       common.HexToHash(r.ID),
		Provider: common.HexToAddress(r.Provider),
		Variant:  v,
		Active:   r.Active,
	}
	if err := parseAmounts(
		amount{r.Price, &m.Price},
		amount{r.MinStake, &m.MinStake},
		amount{r.StakeRate, &m.StakeRate},
		amount{r.Tolerance, &m.Tolerance},
	); err != nil {
		return market.Market{}, fmt.Errorf("market %s: %w", r.ID, err)
	}
	return m, nil
}

func encodeOrder(o *orderbook.Order) ([]byte, error) {
	return json.Marshal(orderRecord{
		ID:            o.ID.Hex(),
		MarketID:      o.MarketID.Hex(),
		Client:        o.Client.Hex(),
		Provider:      o.Provider.Hex(),
		Price:         o.Price.Dec(),
		Stake:         o.Stake.Dec(),
		Fee:           o.Fee.Dec(),
		Quantity:      o.Quantity.Dec(),
		Active:        o.Active,
		Confirmed:     o.Confirmed,
		Readings:      [2]string{o.Readings[0].Dec(), o.Readings[1].Dec()},
		Given:         o.Given,
		BilateralSeek: o.BilateralSeek,
	})
}

func decodeOrder(b []byte) (orderbook.Order, error) {
	var r orderRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return orderbook.Order{}, fmt.Errorf("unmarshal order: %w", err)
	}
	o := orderbook.Order{
		ID:            common.HexToHash(r.ID),
		MarketID:      common.HexToHash(r.MarketID),
		Client:        common.HexToAddress(r.Client),
		Provider:      common.HexToAddress(r.Provider),
		Active:        r.Active,
		Confirmed:     r.Confirmed,
		Given:         r.Given,
		BilateralSeek: r.BilateralSeek,
	}
	if err := parseAmounts(
		amount{r.Price, &o.Price},
		amount{r.Stake, &o.Stake},
		amount{r.Fee, &o.Fee},
		amount{r.Quantity, &o.Quantity},
		amount{r.Readings[0], &o.Readings[0]},
		amount{r.Readings[1], &o.Readings[1]},
	); err != nil {
		return orderbook.Order{}, fmt.Errorf("order %s: %w", r.ID, err)
	}
	return o, nil
}

type amount struct {
	text string
	dst  *uint256.Int
}

func parseAmounts(amounts ...amount) error {
	for _, a := range amounts {
		if err := a.dst.SetFromDecimal(a.text); err != nil {
			return fmt.Errorf("amount %q: %w", a.text, err)
		}
	}
	return nil
}

func encodeSeq(seq uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], seq)
	return k[:]
}

func decodeSeq(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("sequence value has %d bytes, want 8", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
