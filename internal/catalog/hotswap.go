package catalog

import (
	"context"
	"sync"
)

// HotSwap holds the current catalog snapshot and lets a refresh replace it
// while readers keep using whichever snapshot they already hold.
type HotSwap struct {
	mu      sync.RWMutex
	current *Catalog
}

func NewHotSwap(initial *Catalog) *HotSwap {
	if initial == nil {
		initial = Empty()
	}
	return &HotSwap{current: initial}
}

// Swap atomically replaces the current snapshot.
func (h *HotSwap) Swap(next *Catalog) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = next
}

// Current returns the snapshot in effect.
func (h *HotSwap) Current() *Catalog {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Refresh reloads the catalog and swaps it in. A half that failed to load
// keeps its previous contents, so a refresh during an outage does not empty
// a catalog that was loaded earlier. The returned snapshot carries the
// warnings of this load.
func (h *HotSwap) Refresh(ctx context.Context, c *Client, src Sources) *Catalog {
	next := c.Load(ctx, src)
	prev := h.Current()

	merged := &Catalog{
		Models:     next.Models,
		RasterKeys: next.RasterKeys,
		RasterURLs: next.RasterURLs,
		Warnings:   next.Warnings,
	}
	if next.Degraded() {
		if len(merged.Models) == 0 {
			merged.Models = prev.Models
		}
		if len(merged.RasterKeys) == 0 {
			merged.RasterKeys, merged.RasterURLs = prev.RasterKeys, prev.RasterURLs
		}
	}
	h.Swap(merged)
	return merged
}
