package live

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Wire event names
const (
	EventUpserted     = "entity-upserted"
	EventRemoved      = "entity-removed"
	EventStatusUpdate = "status-update"
)

// legacy event names used by the original socket server
var eventAliases = map[string]string{
	"package_update": EventUpserted,
	"package_delete": EventRemoved,
}

var (
	ErrUnknownEvent = errors.New("unknown live event")
	ErrMissingID    = errors.New("live event without id")
)

// Keyed is a record with an identity
type Keyed interface {
	Key() string
}

// Kind tags a live event
type Kind int

const (
	KindUpserted Kind = iota
	KindRemoved
	KindConnected
	KindDegraded
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindUpserted:
		return "upserted"
	case KindRemoved:
		return "removed"
	case KindConnected:
		return "connected"
	case KindDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Event is one item of the live stream. Which fields are set depends on Kind:
// Upserted carries Record and Raw, Removed carries ID, Connected carries
// Attempt and Degraded carries Attempts.
type Event[T any] struct {
	Kind   Kind
	Record T
	// Raw is the record payload as received, for partial overlays
	Raw      json.RawMessage
	ID       string
	Attempt  int
	Attempts int
	At       time.Time
}

// Frame is the wire envelope of the live channel
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeFrame marshals payload into a frame named event
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return sonic.Marshal(Frame{Event: event, Data: data})
}

// Decode parses one frame into an Upserted or Removed event
func Decode[T Keyed](raw []byte) (Event[T], error) {
	var ev Event[T]

	var frame Frame
	if err := sonic.Unmarshal(raw, &frame); err != nil {
		return ev, fmt.Errorf("decode frame: %w", err)
	}

	name := strings.TrimSpace(frame.Event)
	if alias, ok := eventAliases[name]; ok {
		name = alias
	}
	data := bytes.TrimSpace(frame.Data)

	switch name {
	case EventUpserted:
		if len(data) == 0 || data[0] != '{' {
			return ev, fmt.Errorf("decode %s: payload is not an object", name)
		}
		var record T
		if err := sonic.Unmarshal(data, &record); err != nil {
			return ev, fmt.Errorf("decode %s: %w", name, err)
		}
		if strings.TrimSpace(record.Key()) == "" {
			return ev, ErrMissingID
		}
		ev.Kind = KindUpserted
		ev.Record = record
		ev.Raw = append(json.RawMessage(nil), data...)
		ev.ID = record.Key()

	case EventRemoved:
		id, err := removedID(data)
		if err != nil {
			return ev, fmt.Errorf("decode %s: %w", name, err)
		}
		ev.Kind = KindRemoved
		ev.ID = id

	default:
		return ev, fmt.Errorf("%w %q", ErrUnknownEvent, frame.Event)
	}

	ev.At = time.Now()
	return ev, nil
}

// removedID accepts {"id": "..."} or a bare string
func removedID(data []byte) (string, error) {
	var id string
	switch {
	case len(data) == 0:
		return "", ErrMissingID
	case data[0] == '"':
		if err := sonic.Unmarshal(data, &id); err != nil {
			return "", err
		}
	case data[0] == '{':
		var body struct {
			ID string `json:"id"`
		}
		if err := sonic.Unmarshal(data, &body); err != nil {
			return "", err
		}
		id = body.ID
	default:
		return "", fmt.Errorf("unexpected payload %s", data)
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissingID
	}
	return id, nil
}

// dropReason labels a decode failure for metrics
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrMissingID):
		return "missing_id"
	default:
		return "malformed"
	}
}
