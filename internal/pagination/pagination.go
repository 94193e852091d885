package pagination

import (
	"net/url"
)

// WindowSize is the number of page links rendered by the paginator.
const WindowSize = 5

const windowRadius = WindowSize / 2

// PageRange returns the page numbers to render around current. The window is anchored at
// the end when it would overshoot last.
func PageRange(current, last int) []int {
	if last <= WindowSize {
		return sequence(1, last)
	}
	if current <= windowRadius+1 {
		return sequence(1, WindowSize)
	}
	end := current + windowRadius
	if end > last {
		end = last
	}
	start := current - windowRadius
	if end == last {
		start = last - WindowSize + 1
	}
	return sequence(start, end)
}

// PageCount returns the number of pages needed for total items. An empty list still has one page.
func PageCount(total int64, pageSize int) int {
	if pageSize <= 0 {
		pageSize = 1
	}
	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	if pages == 0 {
		pages = 1
	}
	return pages
}

// Offset is the index of the first item on page.
func Offset(page, pageSize int) int {
	if page < 1 || pageSize < 1 {
		return 0
	}
	return (page - 1) * pageSize
}

// Bounds returns the half-open slice bounds of page within total items.
func Bounds(page, pageSize, total int) (int, int) {
	start := Offset(page, pageSize)
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

// QueryString rebuilds request parameters without the excluded keys, e.g. to append a page
// number to paginator links. It returns "" when nothing remains.
func QueryString(values url.Values, excluded ...string) string {
	kept := url.Values{}
	for key, entries := range values {
		if contains(excluded, key) {
			continue
		}
		for _, entry := range entries {
			kept.Add(key, entry)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return "?" + kept.Encode()
}

func sequence(start, end int) []int {
	if end < start {
		return []int{}
	}
	pages := make([]int, 0, end-start+1)
	for page := start; page <= end; page++ {
		pages = append(pages, page)
	}
	return pages
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
