package tracker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/shortontech/gomatomo/internal/params"
)

// Float returns a pointer to v, for optional numeric arguments.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional numeric arguments.
func Int(v int) *int { return &v }

// Bool returns a pointer to v, for optional flags.
func Bool(v bool) *bool { return &v }

// SendPing keeps the visit alive. Pings always go out immediately, even in
// bulk mode.
func (t *Tracker) SendPing(ctx context.Context) (Result, error) {
	return t.with(params.Ping, 1).dispatch(ctx, t, true)
}

// QueuePing is SendPing without the bulk bypass: in bulk mode the ping is
// queued with the other requests.
func (t *Tracker) QueuePing(ctx context.Context) (Result, error) {
	return t.with(params.Ping, 1).dispatch(ctx, t, false)
}

// TrackAction records an outlink or a download. kind is ActionLink or
// ActionDownload.
func (t *Tracker) TrackAction(ctx context.Context, url, kind string) (Result, error) {
	if kind != ActionDownload && kind != ActionLink {
		return Result{}, params.Invalid("action type", "download or link", kind)
	}
	if err := params.Required("Action URL", url); err != nil {
		return Result{}, err
	}
	return t.with(kind, url).dispatch(ctx, t, false)
}

// TrackContentImpression records that a content block was shown. An empty
// target is not sent.
func (t *Tracker) TrackContentImpression(ctx context.Context, name, piece, target string) (Result, error) {
	if err := params.Required("Content name", name); err != nil {
		return Result{}, err
	}
	if err := params.Required("Content", piece); err != nil {
		return Result{}, err
	}
	kv := map[string]any{
		params.ContentName:  name,
		params.ContentPiece: piece,
	}
	if target != "" {
		kv[params.ContentTarget] = target
	}
	return t.withAll(kv).dispatch(ctx, t, false)
}

// TrackContentInteraction records an interaction with a content block.
func (t *Tracker) TrackContentInteraction(ctx context.Context, interaction, name, piece, target string) (Result, error) {
	if err := params.Required("Content interaction", interaction); err != nil {
		return Result{}, err
	}
	if err := params.Required("Content name", name); err != nil {
		return Result{}, err
	}
	if err := params.Required("Content", piece); err != nil {
		return Result{}, err
	}
	kv := map[string]any{
		params.ContentInteraction: interaction,
		params.ContentName:        name,
		params.ContentPiece:       piece,
	}
	if target != "" {
		kv[params.ContentTarget] = target
	}
	return t.withAll(kv).dispatch(ctx, t, false)
}

// Crash describes an application crash. Only Message is required; zero
// values are not sent.
type Crash struct {
	Message  string
	Type     string
	Category string
	Stack    string
	Location string
	Line     int
	Column   int
}

// TrackCrash records a crash.
func (t *Tracker) TrackCrash(ctx context.Context, c Crash) (Result, error) {
	if err := params.Required("Crash message", c.Message); err != nil {
		return Result{}, err
	}
	kv := map[string]any{
		params.Crash:        1,
		params.CrashMessage: c.Message,
	}
	for key, v := range map[string]string{
		params.CrashType:     c.Type,
		params.CrashCategory: c.Category,
		params.CrashStack:    c.Stack,
		params.CrashLocation: c.Location,
	} {
		if v != "" {
			kv[key] = v
		}
	}
	if c.Line > 0 {
		kv[params.CrashLine] = c.Line
	}
	if c.Column > 0 {
		kv[params.CrashColumn] = c.Column
	}
	return t.withAll(kv).dispatch(ctx, t, false)
}

// TrackError records err as a crash. The crash type is the dynamic type of
// err and the location is the caller of TrackError.
func (t *Tracker) TrackError(ctx context.Context, err error, category string) (Result, error) {
	if err == nil {
		return Result{}, params.Invalid("error", "non-nil", nil)
	}
	c := Crash{
		Message:  err.Error(),
		Type:     fmt.Sprintf("%T", err),
		Category: category,
		Stack:    string(debug.Stack()),
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		c.Location = file
		c.Line = line
	}
	return t.TrackCrash(ctx, c)
}

// TrackEcommerceCartUpdate records the current cart. Pending items are
// attached and the continuation Tracker in the Result has an empty cart.
func (t *Tracker) TrackEcommerceCartUpdate(ctx context.Context, total float64) (Result, error) {
	n, err := t.withItems()
	if err != nil {
		return Result{}, err
	}
	n = n.withAll(map[string]any{
		params.GoalID:  0,
		params.Revenue: total,
	})
	return n.dispatchCart(ctx, t)
}

// Order is a completed ecommerce order. Zero optional amounts are not sent.
type Order struct {
	ID       string
	Total    float64
	SubTotal float64
	Tax      float64
	Shipping float64
	Discount float64
}

// TrackEcommerceOrder records an order. Pending items are attached and the
// continuation Tracker in the Result has an empty cart.
func (t *Tracker) TrackEcommerceOrder(ctx context.Context, o Order) (Result, error) {
	if err := params.Required("Order id", o.ID); err != nil {
		return Result{}, err
	}
	n, err := t.withItems()
	if err != nil {
		return Result{}, err
	}
	kv := map[string]any{
		params.GoalID:           0,
		params.EcommerceOrderID: o.ID,
		params.Revenue:          o.Total,
	}
	for key, v := range map[string]float64{
		params.EcommerceSubTotal: o.SubTotal,
		params.EcommerceTax:      o.Tax,
		params.EcommerceShipping: o.Shipping,
		params.EcommerceDiscount: o.Discount,
	} {
		if v != 0 {
			kv[key] = v
		}
	}
	return n.withAll(kv).dispatchCart(ctx, t)
}

// Event is a custom event. Name and Value are optional.
type Event struct {
	Category string
	Action   string
	Name     string
	Value    *float64
}

// TrackEvent records a custom event.
func (t *Tracker) TrackEvent(ctx context.Context, e Event) (Result, error) {
	if err := params.Required("Event category", e.Category); err != nil {
		return Result{}, err
	}
	if err := params.Required("Event action", e.Action); err != nil {
		return Result{}, err
	}
	kv := map[string]any{
		params.EventCategory: e.Category,
		params.EventAction:   e.Action,
	}
	if e.Name != "" {
		kv[params.EventName] = e.Name
	}
	if e.Value != nil {
		kv[params.EventValue] = *e.Value
	}
	return t.withAll(kv).dispatch(ctx, t, false)
}

// TrackGoal records a conversion of goalID with optional revenue.
func (t *Tracker) TrackGoal(ctx context.Context, goalID int, revenue *float64) (Result, error) {
	if goalID < 1 {
		return Result{}, params.Invalid(params.GoalID, "a positive goal id", goalID)
	}
	n := t.with(params.GoalID, goalID)
	if revenue != nil {
		n = n.with(params.Revenue, *revenue)
	}
	return n.dispatch(ctx, t, false)
}

// Media describes a media analytics update. ID, URL and Type are required;
// Width and Height are only sent when both are set.
type Media struct {
	ID              string
	URL             string
	Type            string
	Title           string
	Player          string
	TimePlayed      *int
	Length          *int
	Position        *int
	TimeToPlay      *int
	Width           int
	Height          int
	Fullscreen      *bool
	PositionsPlayed []int
}

// TrackMedia records a media analytics update.
func (t *Tracker) TrackMedia(ctx context.Context, m Media) (Result, error) {
	if m.Type != MediaAudio && m.Type != MediaVideo {
		return Result{}, params.Invalid(params.MediaType, "audio or video", m.Type)
	}
	if err := params.Required("Media id", m.ID); err != nil {
		return Result{}, err
	}
	if err := params.Required("Media URL", m.URL); err != nil {
		return Result{}, err
	}

	kv := map[string]any{
		params.MediaID:   m.ID,
		params.MediaURL:  m.URL,
		params.MediaType: m.Type,
	}
	if m.Title != "" {
		kv[params.MediaTitle] = m.Title
	}
	if m.Player != "" {
		kv[params.MediaPlayer] = m.Player
	}
	for key, v := range map[string]*int{
		params.MediaTimePlayed: m.TimePlayed,
		params.MediaLength:     m.Length,
		params.MediaPosition:   m.Position,
		params.MediaTimeToPlay: m.TimeToPlay,
	} {
		if v != nil {
			kv[key] = *v
		}
	}
	if m.Width > 0 && m.Height > 0 {
		kv[params.MediaWidth] = m.Width
		kv[params.MediaHeight] = m.Height
	}
	if m.Fullscreen != nil {
		kv[params.MediaFullscreen] = *m.Fullscreen
	}
	if m.PositionsPlayed != nil {
		pos := make([]string, len(m.PositionsPlayed))
		for i, p := range m.PositionsPlayed {
			pos[i] = strconv.Itoa(p)
		}
		kv[params.MediaPositionsPlayed] = strings.Join(pos, ",")
	}
	return t.withAll(kv).dispatch(ctx, t, false)
}

// TrackPageView records a page view titled title. Each call gets a fresh
// six character page view id.
func (t *Tracker) TrackPageView(ctx context.Context, title string) (Result, error) {
	id, err := t.pageViewID()
	if err != nil {
		return Result{}, err
	}
	return t.withAll(map[string]any{
		params.ActionName: title,
		params.PageViewID: id,
	}).dispatch(ctx, t, false)
}

// TrackSiteSearch records an internal search. A negative result count is
// stored as its absolute value.
func (t *Tracker) TrackSiteSearch(ctx context.Context, keyword, category string, resultCount *int) (Result, error) {
	if err := params.Required("Search keyword", keyword); err != nil {
		return Result{}, err
	}
	kv := map[string]any{params.SearchKeyword: keyword}
	if category != "" {
		kv[params.SearchCategory] = category
	}
	if resultCount != nil {
		n := *resultCount
		if n < 0 {
			n = -n
		}
		kv[params.SearchCount] = n
	}
	return t.withAll(kv).dispatch(ctx, t, false)
}

func (t *Tracker) pageViewID() (string, error) {
	b := make([]byte, 3)
	if _, err := io.ReadFull(t.sess.entropy, b); err != nil {
		return "", fmt.Errorf("failed to generate page view id: %w", err)
	}
	return hex.EncodeToString(b)[:6], nil
}

// withItems attaches the pending cart as ec_items when it is not empty.
func (t *Tracker) withItems() (*Tracker, error) {
	if len(t.items) == 0 {
		return t, nil
	}
	b, err := json.Marshal(t.items)
	if err != nil {
		return nil, params.BadKind(params.EcommerceItems, "JSON encodable items", t.items)
	}
	return t.with(params.EcommerceItems, string(b)), nil
}

// dispatchCart dispatches t and returns base with an empty cart as the
// continuation.
func (t *Tracker) dispatchCart(ctx context.Context, base *Tracker) (Result, error) {
	res, err := t.dispatch(ctx, base, false)
	next := *base
	next.items = nil
	res.Tracker = &next
	return res, err
}
