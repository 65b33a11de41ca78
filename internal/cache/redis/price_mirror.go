package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polypaper/internal/domain"
)

// PriceMirror implements domain.PriceMirror with one hash per instrument at
// "price:{id}" holding bid, bid_size, ask, ask_size and ts (Unix nanos).
// Absent sides are stored as empty strings.
type PriceMirror struct {
	c   *Client
	ttl time.Duration
}

// NewPriceMirror creates a mirror. Entries expire after ttl when ttl > 0 so
// instruments of closed windows do not accumulate.
func NewPriceMirror(c *Client, ttl time.Duration) *PriceMirror {
	return &PriceMirror{c: c, ttl: ttl}
}

func (m *PriceMirror) key(id string) string { return m.c.Key("price:", id) }

// SetBestPrice writes bp.
func (m *PriceMirror) SetBestPrice(ctx context.Context, bp domain.BestPrice) error {
	key := m.key(bp.InstrumentID)
	pipe := m.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodeBestPrice(bp))
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set best price %s: %w", bp.InstrumentID, err)
	}
	return nil
}

// GetBestPrice reads the mirrored entry, or domain.ErrNotFound.
func (m *PriceMirror) GetBestPrice(ctx context.Context, id string) (domain.BestPrice, error) {
	vals, err := m.c.rdb.HGetAll(ctx, m.key(id)).Result()
	if err != nil {
		return domain.BestPrice{}, fmt.Errorf("redis: get best price %s: %w", id, err)
	}
	if len(vals) == 0 {
		return domain.BestPrice{}, fmt.Errorf("redis: best price %s: %w", id, domain.ErrNotFound)
	}
	bp, err := decodeBestPrice(id, vals)
	if err != nil {
		return domain.BestPrice{}, fmt.Errorf("redis: decode best price %s: %w", id, err)
	}
	return bp, nil
}

// GetBestPrices reads several instruments in one pipeline. Missing or
// undecodable entries are omitted.
func (m *PriceMirror) GetBestPrices(ctx context.Context, ids []string) (map[string]domain.BestPrice, error) {
	out := make(map[string]domain.BestPrice, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	pipe := m.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, m.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get best prices: %w", err)
	}
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		if bp, err := decodeBestPrice(id, vals); err == nil {
			out[id] = bp
		}
	}
	return out, nil
}

func encodeBestPrice(bp domain.BestPrice) map[string]any {
	fields := map[string]any{
		"bid": "", "bid_size": "", "ask": "", "ask_size": "",
		"ts": strconv.FormatInt(bp.ObservedAt.UnixNano(), 10),
	}
	if bp.Bid != nil {
		fields["bid"] = formatFloat(bp.Bid.Price)
		fields["bid_size"] = formatFloat(bp.Bid.Size)
	}
	if bp.Ask != nil {
		fields["ask"] = formatFloat(bp.Ask.Price)
		fields["ask_size"] = formatFloat(bp.Ask.Size)
	}
	return fields
}

func decodeBestPrice(id string, vals map[string]string) (domain.BestPrice, error) {
	bp := domain.BestPrice{TopOfBook: domain.TopOfBook{InstrumentID: id}}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return bp, fmt.Errorf("ts: %w", err)
	}
	bp.ObservedAt = time.Unix(0, ts).UTC()
	if bp.Bid, err = decodeLevel(vals["bid"], vals["bid_size"]); err != nil {
		return bp, fmt.Errorf("bid: %w", err)
	}
	if bp.Ask, err = decodeLevel(vals["ask"], vals["ask_size"]); err != nil {
		return bp, fmt.Errorf("ask: %w", err)
	}
	return bp, nil
}

func decodeLevel(price, size string) (*domain.PriceLevel, error) {
	if price == "" {
		return nil, nil
	}
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return nil, err
	}
	lvl := &domain.PriceLevel{Price: p}
	if size != "" {
		if lvl.Size, err = strconv.ParseFloat(size, 64); err != nil {
			return nil, err
		}
	}
	return lvl, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var _ domain.PriceMirror = (*PriceMirror)(nil)
