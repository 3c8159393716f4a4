package params

// Action names the kind of tracking request a parameter set represents.
// Used to label mirrored records and metrics.
func Action(p Params) string {
	switch {
	case p.Has(Ping):
		return "ping"
	case p.Has(Crash):
		return "crash"
	case p.Has(MediaID):
		return "media"
	case p.Has(EcommerceOrderID):
		return "ecommerce_order"
	case p.String(GoalID) == "0" && p.Has(Revenue):
		return "ecommerce_cart"
	case p.Has(GoalID):
		return "goal"
	case p.Has(EventCategory):
		return "event"
	case p.Has(ContentInteraction):
		return "content_interaction"
	case p.Has(ContentName):
		return "content_impression"
	case p.Has(SearchKeyword):
		return "search"
	case p.Has(ActionDownload):
		return "download"
	case p.Has(ActionLink):
		return "link"
	case p.Has(PageViewID):
		return "pageview"
	}
	return "request"
}
