package reststorage

import "sort"

// SortResources orders resources lexicographically by name, in place.
func SortResources(items []Resource) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ResourceName() < items[j].ResourceName()
	})
}

// Window sorts items and applies the listing window [offset, offset+count).
// A count of -1 means all items. When the window starts or ends at or beyond
// the end of the listing, or selects everything from the start, the full set
// is returned unwindowed. It returns the selected items together with the
// offset and count actually applied (0 and -1 for the full set).
func Window(items []Resource, offset, count int) ([]Resource, int, int) {
	SortResources(items)

	size := len(items)
	if offset < 0 {
		offset = 0
	}
	n := count
	if n < 0 {
		n = size
	}

	if offset >= size || offset+n >= size || (offset == 0 && count < 0) {
		return items, 0, -1
	}
	return items[offset : offset+n], offset, n
}
