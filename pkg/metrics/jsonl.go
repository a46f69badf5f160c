package metrics

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// eventsSchema is bumped whenever the record layout changes.
const eventsSchema = 1

// JSONLObserver appends one eventRecord per line to w. Write errors are
// counted and otherwise ignored so a full disk never stalls a turn.
type JSONLObserver struct {
	mu     sync.Mutex
	enc    *json.Encoder
	failed int
}

type eventRecord struct {
	Schema int               `json:"schema"`
	Name   string            `json:"name"`
	At     time.Time         `json:"at"`
	Value  float64           `json:"value,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLObserver{enc: enc}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	rec := eventRecord{
		Schema: eventsSchema,
		Name:   ev.Name,
		At:     at.UTC(),
		Value:  ev.Value,
		Tags:   ev.Tags,
		Fields: ev.Fields,
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enc.Encode(rec); err != nil {
		o.failed++
	}
}

// Failed reports how many records could not be written.
func (o *JSONLObserver) Failed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failed
}
