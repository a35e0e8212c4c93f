package domain

import "sort"

// FEFOLess orders batches near-expiry first, then by expiry (nulls last),
// then by receipt time.
func FEFOLess(a, b StockBatch) bool {
	if a.IsNearExpiry != b.IsNearExpiry {
		return a.IsNearExpiry
	}
	switch {
	case a.ExpiresAt == nil && b.ExpiresAt != nil:
		return false
	case a.ExpiresAt != nil && b.ExpiresAt == nil:
		return true
	case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
		return a.ExpiresAt.Before(*b.ExpiresAt)
	}
	return a.ReceivedAt.Before(b.ReceivedAt)
}

func SortFEFO(batches []StockBatch) {
	sort.SliceStable(batches, func(i, j int) bool { return FEFOLess(batches[i], batches[j]) })
}
