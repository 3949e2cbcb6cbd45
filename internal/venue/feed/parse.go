package feed

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"mm-hedge-bot/internal/venue"
)

// bookPayload tolerates venues that quote prices as strings and venues that
// quote them as numbers.
type bookPayload struct {
	Symbol string          `json:"symbol"`
	Bid    json.RawMessage `json:"bid"`
	BidQty json.RawMessage `json:"bid_qty"`
	Ask    json.RawMessage `json:"ask"`
	AskQty json.RawMessage `json:"ask_qty"`
	TimeMS int64           `json:"ts"`
}

type wsEnvelope struct {
	Channel string       `json:"channel"`
	Data    *bookPayload `json:"data"`
}

func parseBookTicker(data []byte) (venue.BookSnapshot, bool, error) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return venue.BookSnapshot{}, false, err
	}
	if env.Channel != "bookTicker" || env.Data == nil {
		return venue.BookSnapshot{}, false, nil
	}
	snap, err := env.Data.snapshot()
	if err != nil {
		return venue.BookSnapshot{}, false, err
	}
	return snap, true, nil
}

func (p *bookPayload) snapshot() (venue.BookSnapshot, error) {
	if p.Symbol == "" {
		return venue.BookSnapshot{}, errors.New("book payload missing symbol")
	}
	bid, err := floatField(p.Bid, "bid")
	if err != nil {
		return venue.BookSnapshot{}, err
	}
	ask, err := floatField(p.Ask, "ask")
	if err != nil {
		return venue.BookSnapshot{}, err
	}
	bidQty, err := floatField(p.BidQty, "bid_qty")
	if err != nil {
		return venue.BookSnapshot{}, err
	}
	askQty, err := floatField(p.AskQty, "ask_qty")
	if err != nil {
		return venue.BookSnapshot{}, err
	}
	ts := time.Now().UTC()
	if p.TimeMS > 0 {
		ts = time.UnixMilli(p.TimeMS).UTC()
	}
	return venue.BookSnapshot{
		Symbol:   p.Symbol,
		BidPrice: bid,
		BidQty:   bidQty,
		AskPrice: ask,
		AskQty:   askQty,
		Time:     ts,
	}, nil
}

func floatField(raw json.RawMessage, name string) (float64, error) {
	if len(raw) == 0 {
		return 0, errors.New("book payload missing " + name)
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, errors.New("book payload has malformed " + name)
	}
	num, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, errors.New("book payload has malformed " + name)
	}
	return num, nil
}
