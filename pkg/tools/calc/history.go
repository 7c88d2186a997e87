package calc

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultHistorySize is how many calculations History keeps.
const DefaultHistorySize = 100

// Entry is one performed calculation.
type Entry struct {
	Operation string `json:"operation"`
	Result    string `json:"result"`
}

// History is a bounded, concurrency-safe log of calculations shared by all
// sessions of the process.
type History struct {
	mu      sync.Mutex
	entries []Entry
	size    int
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

func (h *History) Add(operation, result string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Entry{Operation: operation, Result: result})
	if over := len(h.entries) - h.size; over > 0 {
		h.entries = append([]Entry(nil), h.entries[over:]...)
	}
}

// Recent returns up to limit of the latest entries, oldest first.
func (h *History) Recent(limit int) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	start := 0
	if limit > 0 && limit < len(h.entries) {
		start = len(h.entries) - limit
	}
	return append([]Entry(nil), h.entries[start:]...)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear empties the log and returns how many entries were removed.
func (h *History) Clear() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.entries)
	h.entries = nil
	return n
}

// Render formats the latest entries for display.
func (h *History) Render(limit int) string {
	recent := h.Recent(limit)
	if len(recent) == 0 {
		return "No calculation history available."
	}
	var sb strings.Builder
	sb.WriteString("Calculation History:\n\n")
	for i, e := range recent {
		fmt.Fprintf(&sb, "%d. %s = %s\n", i+1, e.Operation, e.Result)
	}
	return sb.String()
}
