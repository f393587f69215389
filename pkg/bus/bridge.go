package bus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/odvcencio/lantern/pkg/logging"
	"github.com/odvcencio/lantern/pkg/telemetry"
)

// Bridge republishes telemetry hub events on the bus. View events go to
// <prefix>.view.<id>.<event type>; session events go to <prefix>.<event type>.
type Bridge struct {
	bus    MessageBus
	prefix string
	log    *logging.Logger
}

// NewBridge creates a bridge publishing under prefix.
func NewBridge(b MessageBus, prefix string, log *logging.Logger) *Bridge {
	if prefix = strings.Trim(strings.TrimSpace(prefix), "."); prefix == "" {
		prefix = DefaultConfig().SubjectPrefix
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Bridge{bus: b, prefix: prefix, log: log.WithComponent("bus-bridge")}
}

// Subject returns the subject ev is published on.
func (br *Bridge) Subject(ev telemetry.Event) string {
	if ev.ViewID == "" {
		return br.prefix + "." + string(ev.Type)
	}
	return br.prefix + ".view." + subjectToken(ev.ViewID) + "." + string(ev.Type)
}

// Run forwards hub events until ctx is done or the hub closes.
func (br *Bridge) Run(ctx context.Context, hub *telemetry.Hub) error {
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := br.Forward(ctx, ev); err != nil {
				br.log.Error("bus publish failed", "event", string(ev.Type), "error", err)
			}
		}
	}
}

// Forward publishes a single event.
func (br *Bridge) Forward(ctx context.Context, ev telemetry.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return br.bus.Publish(ctx, br.Subject(ev), data)
}

// subjectToken keeps an id inside a single subject token.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
