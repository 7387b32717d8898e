package book

import (
	"github.com/google/btree"
)

// level is one price level on a side of a token's book.
type level struct {
	price float64
	size  float64
}

// depth maintains sorted bid and ask levels for one outcome token.
// Bids sort descending and asks ascending, so Min() is the best level
// on either side.
type depth struct {
	bids *btree.BTreeG[level]
	asks *btree.BTreeG[level]
}

func newDepth() *depth {
	return &depth{
		bids: btree.NewG(8, func(a, b level) bool { return a.price > b.price }),
		asks: btree.NewG(8, func(a, b level) bool { return a.price < b.price }),
	}
}

// replace swaps in a full snapshot. Levels with zero size are skipped.
func (d *depth) replace(bids, asks []level) {
	d.bids.Clear(false)
	d.asks.Clear(false)
	for _, lvl := range bids {
		if lvl.size > 0 {
			d.bids.ReplaceOrInsert(lvl)
		}
	}
	for _, lvl := range asks {
		if lvl.size > 0 {
			d.asks.ReplaceOrInsert(lvl)
		}
	}
}

// set writes an absolute size at a price level; zero size removes it.
// side is the exchange's BUY or SELL.
func (d *depth) set(side string, price, size float64) {
	tree := d.bids
	if side == "SELL" || side == "sell" {
		tree = d.asks
	}
	if size <= 0 {
		tree.Delete(level{price: price})
		return
	}
	tree.ReplaceOrInsert(level{price: price, size: size})
}

// best returns the top of each side; ok is false when either is empty.
func (d *depth) best() (bid, ask float64, ok bool) {
	b, okB := d.bids.Min()
	a, okA := d.asks.Min()
	if !okB || !okA {
		return 0, 0, false
	}
	return b.price, a.price, true
}

// mid returns the midpoint of the best bid and ask.
func (d *depth) mid() (float64, bool) {
	bid, ask, ok := d.best()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}
