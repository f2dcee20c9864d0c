package orders

import (
	"context"
	"fmt"
	"sort"
)

// Line is a quantity of one product to reserve or release.
type Line struct {
	ProductID string
	Qty       int
}

// Reserve locks every product (ascending id, so overlapping reservations
// cannot deadlock), checks that each line fits the stock it read under lock,
// then decrements. Any shortfall leaves stock untouched; the caller's tx
// rolls back. Locked products are returned keyed by id so callers price from
// the same read.
func Reserve(ctx context.Context, tx StockTx, lines []Line) (map[string]*Product, error) {
	want := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.Qty <= 0 {
			return nil, fmt.Errorf("%w: invalid qty %d for product %s", ErrInvalidState, l.Qty, l.ProductID)
		}
		want[l.ProductID] += l.Qty
	}
	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	locked := make(map[string]*Product, len(ids))
	for _, id := range ids {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock product %s: %w", id, err)
		}
		locked[id] = p
	}

	for _, id := range ids {
		if p := locked[id]; p.Stock < want[id] {
			return nil, &InsufficientStockError{Shortfall: StockShortfall{
				ProductID: id, Required: want[id], Available: p.Stock,
			}}
		}
	}

	for _, id := range ids {
		if err := tx.AdjustStock(ctx, id, -want[id]); err != nil {
			return nil, fmt.Errorf("decrement stock %s: %w", id, err)
		}
		locked[id].Stock -= want[id]
	}
	return locked, nil
}

// Release puts qty back on a product. Safe to call unconditionally: callers
// only reach it after the status guard proved the order never shipped stock.
func Release(ctx context.Context, tx StockTx, productID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	if err := tx.AdjustStock(ctx, productID, qty); err != nil {
		return fmt.Errorf("release stock %s: %w", productID, err)
	}
	return nil
}

// releaseItems restores every item of an order, in the same lock order Reserve uses.
func releaseItems(ctx context.Context, tx StockTx, items []OrderItem) error {
	sorted := make([]OrderItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })
	for _, it := range sorted {
		if err := Release(ctx, tx, it.ProductID, it.Qty); err != nil {
			return err
		}
	}
	return nil
}
