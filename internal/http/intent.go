package httpx

import (
	"context"

	"github.com/shortontech/gomatomo/internal/params"
	"github.com/shortontech/gomatomo/internal/tracker"
)

// Intent is one tracking request posted to /collect by a browser or
// backend. Type selects the track call; the remaining fields feed it.
type Intent struct {
	Type string `json:"type"`

	URL        string         `json:"url,omitempty"`
	Referrer   string         `json:"referrer,omitempty"`
	Title      string         `json:"title,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	VisitorID  string         `json:"visitor_id,omitempty"`
	Width      int            `json:"width,omitempty"`
	Height     int            `json:"height,omitempty"`
	NewVisit   bool           `json:"new_visit,omitempty"`
	Dimensions map[int]string `json:"dimensions,omitempty"`

	// event, crash and search
	Category string   `json:"category,omitempty"`
	Action   string   `json:"action,omitempty"`
	Name     string   `json:"name,omitempty"`
	Value    *float64 `json:"value,omitempty"`

	GoalID  int      `json:"goal_id,omitempty"`
	Revenue *float64 `json:"revenue,omitempty"`

	Keyword string `json:"keyword,omitempty"`
	Results *int   `json:"results,omitempty"`

	// link and download target
	Link string `json:"link,omitempty"`

	ContentName   string `json:"content_name,omitempty"`
	ContentPiece  string `json:"content_piece,omitempty"`
	ContentTarget string `json:"content_target,omitempty"`
	Interaction   string `json:"interaction,omitempty"`

	Message   string `json:"message,omitempty"`
	CrashType string `json:"crash_type,omitempty"`
	Stack     string `json:"stack,omitempty"`
	Location  string `json:"location,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`

	Items    []Item  `json:"items,omitempty"`
	OrderID  string  `json:"order_id,omitempty"`
	Total    float64 `json:"total,omitempty"`
	SubTotal float64 `json:"sub_total,omitempty"`
	Tax      float64 `json:"tax,omitempty"`
	Shipping float64 `json:"shipping,omitempty"`
	Discount float64 `json:"discount,omitempty"`
}

// Item is a cart or order line.
type Item struct {
	SKU        string   `json:"sku"`
	Name       string   `json:"name,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Price      float64  `json:"price,omitempty"`
	Quantity   int      `json:"quantity,omitempty"`
}

// Intent types accepted by /collect.
const (
	IntentPageView           = "pageview"
	IntentEvent              = "event"
	IntentGoal               = "goal"
	IntentSearch             = "search"
	IntentLink               = "link"
	IntentDownload           = "download"
	IntentContentImpression  = "content_impression"
	IntentContentInteraction = "content_interaction"
	IntentCrash              = "crash"
	IntentPing               = "ping"
	IntentCart               = "cart"
	IntentOrder              = "order"
)

// Apply decorates base with the intent's common fields and performs its
// track call.
func (in Intent) Apply(ctx context.Context, base *tracker.Tracker) (tracker.Result, error) {
	t, err := in.decorate(base)
	if err != nil {
		return tracker.Result{}, err
	}

	switch in.Type {
	case IntentPageView:
		return t.TrackPageView(ctx, in.Title)
	case IntentEvent:
		return t.TrackEvent(ctx, tracker.Event{
			Category: in.Category,
			Action:   in.Action,
			Name:     in.Name,
			Value:    in.Value,
		})
	case IntentGoal:
		return t.TrackGoal(ctx, in.GoalID, in.Revenue)
	case IntentSearch:
		return t.TrackSiteSearch(ctx, in.Keyword, in.Category, in.Results)
	case IntentLink:
		return t.TrackAction(ctx, in.Link, tracker.ActionLink)
	case IntentDownload:
		return t.TrackAction(ctx, in.Link, tracker.ActionDownload)
	case IntentContentImpression:
		return t.TrackContentImpression(ctx, in.ContentName, in.ContentPiece, in.ContentTarget)
	case IntentContentInteraction:
		return t.TrackContentInteraction(ctx, in.Interaction, in.ContentName, in.ContentPiece, in.ContentTarget)
	case IntentCrash:
		return t.TrackCrash(ctx, tracker.Crash{
			Message:  in.Message,
			Type:     in.CrashType,
			Category: in.Category,
			Stack:    in.Stack,
			Location: in.Location,
			Line:     in.Line,
			Column:   in.Column,
		})
	case IntentPing:
		return t.QueuePing(ctx)
	case IntentCart:
		return t.TrackEcommerceCartUpdate(ctx, in.Total)
	case IntentOrder:
		return t.TrackEcommerceOrder(ctx, tracker.Order{
			ID:       in.OrderID,
			Total:    in.Total,
			SubTotal: in.SubTotal,
			Tax:      in.Tax,
			Shipping: in.Shipping,
			Discount: in.Discount,
		})
	default:
		return tracker.Result{}, params.Invalid("type", "a known intent type", in.Type)
	}
}

func (in Intent) decorate(t *tracker.Tracker) (*tracker.Tracker, error) {
	var err error
	if in.URL != "" {
		t = t.WithURL(in.URL)
	}
	if in.Referrer != "" {
		t = t.WithReferrer(in.Referrer)
	}
	if in.UserID != "" {
		t = t.WithUserID(in.UserID)
	}
	if in.VisitorID != "" {
		if t, err = t.WithVisitorID(in.VisitorID); err != nil {
			return nil, err
		}
	}
	if in.Width > 0 && in.Height > 0 {
		t = t.WithResolution(in.Width, in.Height)
	}
	if in.NewVisit {
		t = t.WithNewVisit()
	}
	for id, v := range in.Dimensions {
		if t, err = t.WithCustomDimension(id, v); err != nil {
			return nil, err
		}
	}
	for _, it := range in.Items {
		if t, err = t.AddEcommerceItem(tracker.EcommerceItem{
			SKU:        it.SKU,
			Name:       it.Name,
			Categories: it.Categories,
			Price:      it.Price,
			Quantity:   it.Quantity,
		}); err != nil {
			return nil, err
		}
	}
	return t, nil
}
