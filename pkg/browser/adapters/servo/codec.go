package servo

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/odvcencio/lantern/pkg/browser"
)

const maxMessageSize = 16 << 20

type messageType string

const (
	messageRequest  messageType = "request"
	messageResponse messageType = "response"
	messageEvent    messageType = "event"
)

// Operations understood by browserd.
const (
	opInitialize  = "initialize"
	opCreateView  = "create_view"
	opNavigate    = "navigate"
	opStop        = "stop"
	opReload      = "reload"
	opResize      = "resize"
	opDestroyView = "destroy_view"
	opShutdown    = "shutdown"
)

// envelope is one framed browserd message. Requests carry an op, responses
// echo the request id, events carry an engine Event.
type envelope struct {
	Type        messageType
	ID          string
	Op          string
	View        browser.ViewID
	Generation  browser.Generation
	Location    string
	BypassCache bool
	Viewport    browser.Viewport
	UserAgent   string
	Error       string
	Event       browser.Event
}

func (e envelope) toStruct() (*structpb.Struct, error) {
	fields := map[string]any{
		"type": string(e.Type),
	}
	switch e.Type {
	case messageRequest:
		fields["id"] = e.ID
		fields["op"] = e.Op
		if e.View != "" {
			fields["view"] = string(e.View)
		}
		if e.Generation != 0 {
			fields["generation"] = float64(e.Generation)
		}
		if e.Location != "" {
			fields["location"] = e.Location
		}
		if e.BypassCache {
			fields["bypass_cache"] = true
		}
		if e.Viewport.Width != 0 || e.Viewport.Height != 0 {
			fields["viewport"] = map[string]any{
				"width":  float64(e.Viewport.Width),
				"height": float64(e.Viewport.Height),
				"scale":  e.Viewport.DeviceScaleFactor,
			}
		}
		if e.UserAgent != "" {
			fields["user_agent"] = e.UserAgent
		}
	case messageResponse:
		fields["id"] = e.ID
		if e.Error != "" {
			fields["error"] = e.Error
		}
	case messageEvent:
		ev := e.Event
		fields["kind"] = ev.Kind.String()
		fields["view"] = string(ev.View)
		fields["generation"] = float64(ev.Generation)
		if ev.Location != "" {
			fields["location"] = ev.Location
		}
		if ev.Kind == browser.EventProgressUpdated {
			fields["progress"] = ev.Progress
		}
		if ev.Title != "" {
			fields["title"] = ev.Title
		}
		if ev.Message != "" {
			fields["message"] = ev.Message
		}
		if !ev.Timestamp.IsZero() {
			fields["timestamp"] = ev.Timestamp.UTC().Format(time.RFC3339Nano)
		}
	default:
		return nil, fmt.Errorf("unknown message type %q", e.Type)
	}
	return structpb.NewStruct(fields)
}

func envelopeFromStruct(s *structpb.Struct) (envelope, error) {
	f := s.GetFields()
	str := func(key string) string { return f[key].GetStringValue() }
	num := func(key string) float64 { return f[key].GetNumberValue() }

	e := envelope{Type: messageType(str("type"))}
	switch e.Type {
	case messageRequest:
		e.ID = str("id")
		e.Op = str("op")
		e.View = browser.ViewID(str("view"))
		e.Generation = browser.Generation(num("generation"))
		e.Location = str("location")
		e.BypassCache = f["bypass_cache"].GetBoolValue()
		e.UserAgent = str("user_agent")
		if vp := f["viewport"].GetStructValue(); vp != nil {
			vf := vp.GetFields()
			e.Viewport = browser.Viewport{
				Width:             int(vf["width"].GetNumberValue()),
				Height:            int(vf["height"].GetNumberValue()),
				DeviceScaleFactor: vf["scale"].GetNumberValue(),
			}
		}
	case messageResponse:
		e.ID = str("id")
		e.Error = str("error")
	case messageEvent:
		kind, ok := browser.ParseEventKind(str("kind"))
		if !ok {
			return envelope{}, fmt.Errorf("unknown event kind %q", str("kind"))
		}
		e.Event = browser.Event{
			Kind:       kind,
			View:       browser.ViewID(str("view")),
			Generation: browser.Generation(num("generation")),
			Location:   str("location"),
			Progress:   num("progress"),
			Title:      str("title"),
			Message:    str("message"),
		}
		if ts := str("timestamp"); ts != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
				e.Event.Timestamp = parsed
			}
		}
	default:
		return envelope{}, fmt.Errorf("unknown message type %q", e.Type)
	}
	return e, nil
}

func writeEnvelope(w io.Writer, env envelope) error {
	s, err := env.toStruct()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large")
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err = w.Write(buf)
	return err
}

func readEnvelope(r io.Reader) (envelope, error) {
	data, err := readFrame(r)
	if err != nil {
		return envelope{}, err
	}
	return decodeEnvelope(data)
}

// readFrame reads one length-prefixed message body. An error here leaves
// the stream unusable.
func readFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length == 0 {
		return nil, fmt.Errorf("empty message")
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes", length)
	}
	data := make([]byte, int(length))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// decodeEnvelope decodes a complete frame body. A failure only affects
// this message; the stream stays aligned on the next frame.
func decodeEnvelope(data []byte) (envelope, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return envelopeFromStruct(s)
}
