package notif

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"pollcast/internal/router"
)

// Sink receives every dispatch. Delivery is best-effort: a sink error is
// logged and never reaches the caller that triggered the dispatch.
type Sink interface {
	Name() string
	Deliver(d router.Dispatch) error
}

// RoomDeliverer is the push side of the session registry.
type RoomDeliverer interface {
	Deliver(room, event string, payload interface{}) int
}

// Dispatcher fans dispatches out to its subscribed sinks, synchronously and
// in call order.
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  map[string]Sink
	logger *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sinks:  make(map[string]Sink),
		logger: logger.With("component", "dispatcher"),
	}
}

func (d *Dispatcher) Subscribe(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[sink.Name()] = sink
	d.logger.Info("sink subscribed", "sink", sink.Name())
}

func (d *Dispatcher) Unsubscribe(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sinks, sink.Name())
	d.logger.Info("sink unsubscribed", "sink", sink.Name())
}

func (d *Dispatcher) Dispatch(dispatches ...router.Dispatch) {
	sinks := d.snapshot()
	for _, dispatch := range dispatches {
		for _, sink := range sinks {
			if err := sink.Deliver(dispatch); err != nil {
				d.logger.Warn("sink delivery failed",
					"sink", sink.Name(), "room", dispatch.Room, "event", dispatch.Event, "error", err)
			}
		}
	}
}

// snapshot returns sinks ordered by name so fan-out order is stable.
func (d *Dispatcher) snapshot() []Sink {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sinks := make([]Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		sinks = append(sinks, s)
	}
	sort.Slice(sinks, func(i, j int) bool { return sinks[i].Name() < sinks[j].Name() })
	return sinks
}

// RealtimeSink pushes dispatches to live connections.
type RealtimeSink struct {
	rooms  RoomDeliverer
	logger *slog.Logger
}

func NewRealtimeSink(rooms RoomDeliverer, logger *slog.Logger) *RealtimeSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &RealtimeSink{rooms: rooms, logger: logger}
}

func (s *RealtimeSink) Name() string {
	return "realtime"
}

func (s *RealtimeSink) Deliver(d router.Dispatch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()

	if n := s.rooms.Deliver(d.Room, d.Event, d.Payload); n == 0 {
		// nobody connected; the stored record is the fallback
		s.logger.Debug("delivery noop", "room", d.Room, "event", d.Event)
	}
	return nil
}

// LogSink records every dispatch at debug level.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) Deliver(d router.Dispatch) error {
	s.logger.Debug("dispatch", "room", d.Room, "event", d.Event)
	return nil
}
