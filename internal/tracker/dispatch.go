package tracker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/gomatomo/internal/clienthints"
	"github.com/shortontech/gomatomo/internal/cookie"
	"github.com/shortontech/gomatomo/internal/metrics"
	"github.com/shortontech/gomatomo/internal/params"
	"github.com/shortontech/gomatomo/internal/transport"
)

// ErrNoTransport is returned when a request must be sent but the session
// has no transport.
var ErrNoTransport = errors.New("tracker: no transport configured")

// Result is the outcome of a track call.
type Result struct {
	// Params is the final, stamped parameter set.
	Params params.Params
	// Tracker continues the lineage. It equals the receiver except after an
	// ecommerce order or cart update, where the cart is emptied.
	Tracker *Tracker
	// Queued is true when the request went to the bulk queue.
	Queued bool
	// Response is the collector's answer, nil when queued.
	Response *transport.Response
}

// dispatch stamps and sends t's parameters. from is the tracker the track
// call was made on and becomes the continuation.
func (t *Tracker) dispatch(ctx context.Context, from *Tracker, force bool) (Result, error) {
	s := t.sess
	now := s.now()

	r, err := s.random()
	if err != nil {
		return Result{}, err
	}
	kv := map[string]any{
		params.Random:     r,
		params.TimeHour:   now.Hour(),
		params.TimeMinute: now.Minute(),
		params.TimeSecond: now.Second(),
		params.Timestamp:  now.Unix(),
	}
	if s.hints != nil {
		kv[params.UserAgentData] = s.hints.Encode()
	}
	if s.cookies != nil && !t.params.Has(params.VisitorID) {
		kv[params.VisitorID] = s.visitor(t.params)
	}
	p := t.params.WithAll(kv)
	res := Result{Params: p, Tracker: from}

	if s.bulk && !force {
		s.queue = append(s.queue, p)
		s.metrics.AddBulkQueueDepth(1)
		res.Queued = true
		return res, nil
	}

	t.emitCookies(p, now)

	if s.transport == nil {
		return res, ErrNoTransport
	}
	start := time.Now()
	resp, err := s.transport.Send(ctx, p)
	s.metrics.ObserveDispatchDuration(metrics.ModeSingle, time.Since(start))
	if err != nil {
		s.metrics.IncrementTransportErrors(metrics.ModeSingle)
		log.Printf("tracker: %s request for site %d failed: %v", params.Action(p), s.siteID, err)
		return res, fmt.Errorf("tracking request failed: %w", err)
	}
	s.metrics.IncrementTrackingRequests(metrics.ModeSingle, 1)
	res.Response = resp
	return res, nil
}

// DoBulkTrack sends every queued request in one bulk request and empties
// the queue. An empty queue is a no-op and returns (nil, nil).
func (t *Tracker) DoBulkTrack(ctx context.Context, authToken string) (*transport.Response, error) {
	s := t.sess
	if len(s.queue) == 0 {
		return nil, nil
	}
	batch := s.queue
	s.queue = nil
	s.metrics.AddBulkQueueDepth(-len(batch))

	last := batch[len(batch)-1]
	t.emitCookies(last, s.now())

	if s.transport == nil {
		return nil, ErrNoTransport
	}
	start := time.Now()
	resp, err := s.transport.SendBulk(ctx, batch, authToken)
	s.metrics.ObserveDispatchDuration(metrics.ModeBulk, time.Since(start))
	if err != nil {
		s.metrics.IncrementTransportErrors(metrics.ModeBulk)
		log.Printf("tracker: bulk request of %d for site %d failed: %v", len(batch), s.siteID, err)
		return nil, fmt.Errorf("bulk tracking request failed: %w", err)
	}
	s.metrics.IncrementTrackingRequests(metrics.ModeBulk, len(batch))
	return resp, nil
}

// DiscardBulk drops every queued request without sending it and returns
// how many were dropped.
func (t *Tracker) DiscardBulk() int {
	s := t.sess
	n := len(s.queue)
	if n == 0 {
		return 0
	}
	s.queue = nil
	s.metrics.AddBulkQueueDepth(-n)
	return n
}

// emitCookies writes the first-party cookies for p when cookies are enabled.
func (t *Tracker) emitCookies(p params.Params, now time.Time) {
	s := t.sess
	if s.cookies == nil {
		return
	}

	e := cookie.Emission{
		SiteID:          s.siteID,
		Config:          *s.cookies,
		Host:            s.host,
		Now:             now,
		VisitorID:       s.visitor(p),
		OrderPlaced:     p.Has(params.EcommerceOrderID),
		CustomVariables: t.cvars,
	}
	if in, ok := cookie.LoadVisitor(s.lookup, s.siteID, *s.cookies, s.host); ok {
		e.Incoming = &in
		if p.Has(params.VisitorID) {
			e.Incoming.VisitorID = p.String(params.VisitorID)
		}
	}
	if p.Has(params.AttributionCampaignName) || p.Has(params.AttributionURL) {
		e.Attribution = []any{
			p.String(params.AttributionCampaignName),
			p.String(params.AttributionCampaignKeyword),
			attributionTimestamp(p),
			p.String(params.AttributionURL),
		}
	}
	cookie.Emit(s.jar, e)
}

func attributionTimestamp(p params.Params) any {
	v, ok := p.Get(params.AttributionTimestamp)
	if !ok {
		return 0
	}
	return v
}

// visitor returns the visitor id for the session: the one set on p, the
// one from the incoming id cookie, or a freshly generated one, in that
// order. A generated id is kept for the rest of the session.
func (s *session) visitor(p params.Params) string {
	if id := p.String(params.VisitorID); id != "" {
		return id
	}
	if s.visitorID != "" {
		return s.visitorID
	}
	if s.cookies != nil {
		if in, ok := cookie.LoadVisitor(s.lookup, s.siteID, *s.cookies, s.host); ok {
			s.visitorID = in.VisitorID
			return s.visitorID
		}
	}
	s.visitorID = newVisitorID()
	return s.visitorID
}

func newVisitorID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:cookie.VisitorIDLength]
}

// random returns the anti-cache value sent as rand.
func (s *session) random() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(s.entropy, b[:]); err != nil {
		return 0, fmt.Errorf("failed to generate random value: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]) >> 1, nil
}

func hintsEmpty(h clienthints.ClientHints) bool {
	return h.Model == "" && h.Platform == "" && h.PlatformVersion == "" &&
		len(h.FullVersionList) == 0 && h.UAFullVersion == ""
}
