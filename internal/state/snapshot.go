package state

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const positionSnapshotKey = "position:last_snapshot"

// PositionSnapshot is the last known two-legged position, written once per
// cycle and reloaded at startup for operator visibility.
type PositionSnapshot struct {
	Symbol      string    `msgpack:"symbol"`
	MakerQty    float64   `msgpack:"maker_qty"`
	HedgeQty    float64   `msgpack:"hedge_qty"`
	NetDelta    float64   `msgpack:"net_delta"`
	TradesToday int       `msgpack:"trades_today"`
	UpdatedAt   time.Time `msgpack:"updated_at"`
}

func SavePositionSnapshot(ctx context.Context, store Store, snap PositionSnapshot) error {
	if store == nil {
		return nil
	}
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return err
	}
	return store.Set(ctx, positionSnapshotKey, base64.StdEncoding.EncodeToString(payload))
}

func LoadPositionSnapshot(ctx context.Context, store Store) (PositionSnapshot, bool, error) {
	if store == nil {
		return PositionSnapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, positionSnapshotKey)
	if err != nil || !ok {
		return PositionSnapshot{}, false, err
	}
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return PositionSnapshot{}, false, err
	}
	var snap PositionSnapshot
	if err := msgpack.Unmarshal(payload, &snap); err != nil {
		return PositionSnapshot{}, false, err
	}
	return snap, true, nil
}

func tradesKey(day time.Time) string {
	return fmt.Sprintf("runtime:trades:%s", day.UTC().Format("2006-01-02"))
}

// SaveTradeCount persists the day's trade counter so the daily cap survives
// restarts. Counters are keyed per UTC date and stale keys are left to expire
// naturally.
func SaveTradeCount(ctx context.Context, store Store, day time.Time, count int) error {
	if store == nil {
		return nil
	}
	return store.Set(ctx, tradesKey(day), strconv.Itoa(count))
}

func LoadTradeCount(ctx context.Context, store Store, day time.Time) (int, error) {
	if store == nil {
		return 0, nil
	}
	raw, ok, err := store.Get(ctx, tradesKey(day))
	if err != nil || !ok {
		return 0, err
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt trade counter %q: %w", raw, err)
	}
	return count, nil
}
