package storage

import (
	"context"
	"time"

	"github.com/odvcencio/lantern/pkg/logging"
	"github.com/odvcencio/lantern/pkg/telemetry"
)

// Recorder turns navigation.loaded telemetry into visit history.
type Recorder struct {
	writer *BatchWriter
	log    *logging.Logger
}

// NewRecorder creates a recorder that batches visits into s.
func NewRecorder(s *Store, log *logging.Logger) *Recorder {
	if log == nil {
		log = logging.Discard()
	}
	return &Recorder{
		writer: s.NewBatchWriter(32, 250*time.Millisecond),
		log:    log.WithComponent("history-recorder"),
	}
}

// Run consumes hub events until ctx is done or the hub closes, then flushes.
func (r *Recorder) Run(ctx context.Context, hub *telemetry.Hub) error {
	events, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	defer r.close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Handle(ev)
		}
	}
}

// Handle records ev when it is a completed navigation.
func (r *Recorder) Handle(ev telemetry.Event) {
	if ev.Type != telemetry.EventNavigationLoaded {
		return
	}
	location, _ := ev.Data["location"].(string)
	if location == "" {
		return
	}
	title, _ := ev.Data["title"].(string)
	visit := &Visit{ViewID: ev.ViewID, URL: location, Title: title, VisitedAt: ev.Timestamp}
	if err := r.writer.Add(visit); err != nil {
		r.log.Error("record visit failed", "url", location, "error", err)
	}
}

// Flush writes buffered visits.
func (r *Recorder) Flush() error {
	return r.writer.Flush()
}

func (r *Recorder) close() {
	if err := r.writer.Close(); err != nil {
		r.log.Error("flush visits failed", "error", err)
	}
}
