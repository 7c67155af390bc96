package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const DefaultHistoryCapacity = 20

type HistoryEntry struct {
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// History is a fixed capacity ring buffer of normalized messages. When full,
// Push overwrites the oldest entry.
type History struct {
	buf  []HistoryEntry
	head int
	size int
}

func NewHistory(capacity int) History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return History{buf: make([]HistoryEntry, capacity)}
}

func (h *History) Cap() int {
	return len(h.buf)
}

func (h *History) Len() int {
	return h.size
}

func (h *History) Push(entry HistoryEntry) {
	if len(h.buf) == 0 {
		*h = NewHistory(DefaultHistoryCapacity)
	}
	if h.size < len(h.buf) {
		h.buf[(h.head+h.size)%len(h.buf)] = entry
		h.size++
		return
	}
	h.buf[h.head] = entry
	h.head = (h.head + 1) % len(h.buf)
}

// Entries returns a copy of the buffer, oldest first.
func (h *History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, 0, h.size)
	for i := 0; i < h.size; i++ {
		out = append(out, h.buf[(h.head+i)%len(h.buf)])
	}
	return out
}

func (h *History) Last() (HistoryEntry, bool) {
	if h.size == 0 {
		return HistoryEntry{}, false
	}
	return h.buf[(h.head+h.size-1)%len(h.buf)], true
}

func (h *History) Reset() {
	capacity := len(h.buf)
	*h = NewHistory(capacity)
}

// SetCapacity resizes the buffer, keeping the newest entries that fit.
func (h *History) SetCapacity(capacity int) {
	if capacity <= 0 || capacity == len(h.buf) {
		return
	}
	entries := h.Entries()
	if len(entries) > capacity {
		entries = entries[len(entries)-capacity:]
	}
	*h = NewHistory(capacity)
	for _, e := range entries {
		h.Push(e)
	}
}

func (h History) Clone() History {
	c := History{
		buf:  make([]HistoryEntry, len(h.buf)),
		head: h.head,
		size: h.size,
	}
	copy(c.buf, h.buf)
	return c
}

func (h History) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Entries())
}

func (h *History) UnmarshalJSON(data []byte) error {
	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	capacity := DefaultHistoryCapacity
	if len(entries) > capacity {
		capacity = len(entries)
	}
	*h = NewHistory(capacity)
	for _, e := range entries {
		h.Push(e)
	}
	return nil
}

func (h History) Value() (driver.Value, error) {
	data, err := h.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (h *History) Scan(v any) error {
	switch data := v.(type) {
	case nil:
		*h = NewHistory(DefaultHistoryCapacity)
		return nil
	case string:
		return h.UnmarshalJSON([]byte(data))
	case []byte:
		return h.UnmarshalJSON(data)
	default:
		return fmt.Errorf("cannot scan type %T into History", v)
	}
}
