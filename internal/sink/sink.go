// Package sink mirrors dispatched tracking requests to secondary outputs.
package sink

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/gomatomo/internal/metrics"
	"github.com/shortontech/gomatomo/internal/params"
	"github.com/shortontech/gomatomo/internal/transport"
)

// Record is one mirrored tracking request.
type Record struct {
	ID     uuid.UUID     `json:"id"`
	Time   time.Time     `json:"ts"`
	Action string        `json:"action"`
	SiteID string        `json:"site_id,omitempty"`
	Params params.Params `json:"params"`
}

// NewRecord wraps p in a Record with a fresh id.
func NewRecord(p params.Params, now time.Time) Record {
	return Record{
		ID:     uuid.New(),
		Time:   now.UTC(),
		Action: params.Action(p),
		SiteID: p.String(params.SiteID),
		Params: p,
	}
}

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(r Record) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}

// Tee is a Transport that forwards to a primary Transport and mirrors every
// successfully delivered request to its sinks. Sink failures are logged and
// counted; they never fail the tracking call.
type Tee struct {
	primary transport.Transport
	sinks   []Sink
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTee wraps primary. m may be nil.
func NewTee(primary transport.Transport, sinks []Sink, m *metrics.Metrics) *Tee {
	return &Tee{primary: primary, sinks: sinks, metrics: m, now: time.Now}
}

func (t *Tee) Send(ctx context.Context, p params.Params) (*transport.Response, error) {
	resp, err := t.primary.Send(ctx, p)
	if err != nil {
		return resp, err
	}
	t.mirror(p)
	return resp, nil
}

func (t *Tee) SendBulk(ctx context.Context, batch []params.Params, authToken string) (*transport.Response, error) {
	resp, err := t.primary.SendBulk(ctx, batch, authToken)
	if err != nil {
		return resp, err
	}
	for _, p := range batch {
		t.mirror(p)
	}
	return resp, nil
}

func (t *Tee) mirror(p params.Params) {
	if len(t.sinks) == 0 {
		return
	}
	rec := NewRecord(p, t.now())
	for _, s := range t.sinks {
		if err := s.Enqueue(rec); err != nil {
			log.Printf("sink: %s enqueue failed: %v", s.Name(), err)
			t.metrics.IncrementSinkErrors(s.Name(), "enqueue")
			continue
		}
		t.metrics.IncrementSinkRecords(s.Name())
	}
}

// StartAll starts every sink and returns the ones that started. A sink
// that fails to start is logged and left out.
func StartAll(ctx context.Context, sinks []Sink) []Sink {
	started := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if err := s.Start(ctx); err != nil {
			log.Printf("WARNING: %s sink disabled: %v", s.Name(), err)
			continue
		}
		log.Printf("sink: %s started", s.Name())
		started = append(started, s)
	}
	return started
}

// CloseAll closes every sink, logging failures.
func CloseAll(sinks []Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Printf("sink: %s close failed: %v", s.Name(), err)
		}
	}
}
