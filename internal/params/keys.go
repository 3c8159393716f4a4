package params

import "strconv"

// Matomo Tracking HTTP API parameter codes.
// https://developer.matomo.org/api-reference/tracking-api
const (
	SiteID     = "idsite"
	Record     = "rec"
	APIVersion = "apiv"
	AuthToken  = "token_auth"
	Random     = "rand"
	SendImage  = "send_image"
	Ping       = "ping"
	NewVisit   = "new_visit"

	URL         = "url"
	URLReferrer = "urlref"
	ActionName  = "action_name"
	PageViewID  = "pv_id"
	Charset     = "cs"
	Datetime    = "cdt"
	TimeHour    = "h"
	TimeMinute  = "m"
	TimeSecond  = "s"
	Timestamp   = "_idts"

	VisitorID     = "_id"
	UserID        = "uid"
	IP            = "cip"
	UserAgent     = "ua"
	UserAgentData = "uadata"
	Language      = "lang"
	Resolution    = "res"
	Cookies       = "cookie"

	VisitCustomVariables = "_cvar"

	AttributionCampaignName    = "_rcn"
	AttributionCampaignKeyword = "_rck"
	AttributionTimestamp       = "_refts"
	AttributionURL             = "_ref"

	LocationCountry   = "country"
	LocationRegion    = "region"
	LocationCity      = "city"
	LocationLatitude  = "lat"
	LocationLongitude = "long"

	PluginFlash        = "fla"
	PluginJava         = "java"
	PluginPDF          = "pdf"
	PluginQuickTime    = "qt"
	PluginRealPlayer   = "realp"
	PluginSilverlight  = "ag"
	PluginWindowsMedia = "wma"

	PerformanceNetwork       = "pf_net"
	PerformanceServer        = "pf_srv"
	PerformanceTransfer      = "pf_tfr"
	PerformanceDOMProcessing = "pf_dm1"
	PerformanceDOMCompletion = "pf_dm2"
	PerformanceOnLoad        = "pf_onl"

	ActionDownload = "download"
	ActionLink     = "link"

	EventCategory = "e_c"
	EventAction   = "e_a"
	EventName     = "e_n"
	EventValue    = "e_v"

	ContentName        = "c_n"
	ContentPiece       = "c_p"
	ContentTarget      = "c_t"
	ContentInteraction = "c_i"

	SearchKeyword  = "search"
	SearchCategory = "search_cat"
	SearchCount    = "search_count"

	GoalID  = "idgoal"
	Revenue = "revenue"

	EcommerceOrderID  = "ec_id"
	EcommerceSubTotal = "ec_st"
	EcommerceTax      = "ec_tx"
	EcommerceShipping = "ec_sh"
	EcommerceDiscount = "ec_dt"
	EcommerceItems    = "ec_items"
	EcommerceSKU      = "_pks"
	EcommerceName     = "_pkn"
	EcommerceCategory = "_pkc"
	EcommercePrice    = "_pkp"

	Crash         = "ca"
	CrashMessage  = "cra"
	CrashType     = "cra_tp"
	CrashCategory = "cra_ct"
	CrashStack    = "cra_st"
	CrashLocation = "cra_ru"
	CrashLine     = "cra_rl"
	CrashColumn   = "cra_rc"

	MediaID              = "ma_id"
	MediaURL             = "ma_re"
	MediaType            = "ma_mt"
	MediaTitle           = "ma_ti"
	MediaPlayer          = "ma_pn"
	MediaTimePlayed      = "ma_st"
	MediaLength          = "ma_le"
	MediaPosition        = "ma_ps"
	MediaTimeToPlay      = "ma_ttp"
	MediaWidth           = "ma_w"
	MediaHeight          = "ma_h"
	MediaFullscreen      = "ma_fs"
	MediaPositionsPlayed = "ma_se"

	// CustomDimensionPrefix is suffixed with the dimension id, e.g. dimension7.
	CustomDimensionPrefix = "dimension"
)

// order is the canonical emission order of known keys. Encoding walks this
// table so the builder and the transport can never disagree on a key.
var order = []string{
	SiteID, Record, APIVersion, AuthToken,
	URL, URLReferrer, ActionName, PageViewID, Charset, Datetime,
	ActionDownload, ActionLink,
	EventCategory, EventAction, EventName, EventValue,
	ContentName, ContentPiece, ContentTarget, ContentInteraction,
	SearchKeyword, SearchCategory, SearchCount,
	GoalID, Revenue,
	EcommerceOrderID, EcommerceSubTotal, EcommerceTax, EcommerceShipping, EcommerceDiscount, EcommerceItems,
	EcommerceSKU, EcommerceName, EcommerceCategory, EcommercePrice,
	Crash, CrashMessage, CrashType, CrashCategory, CrashStack, CrashLocation, CrashLine, CrashColumn,
	MediaID, MediaURL, MediaType, MediaTitle, MediaPlayer, MediaTimePlayed, MediaLength, MediaPosition,
	MediaTimeToPlay, MediaWidth, MediaHeight, MediaFullscreen, MediaPositionsPlayed,
	VisitorID, UserID, IP, UserAgent, UserAgentData, Language, Resolution, Cookies, VisitCustomVariables,
	AttributionCampaignName, AttributionCampaignKeyword, AttributionTimestamp, AttributionURL,
	LocationCountry, LocationRegion, LocationCity, LocationLatitude, LocationLongitude,
	PluginFlash, PluginJava, PluginPDF, PluginQuickTime, PluginRealPlayer, PluginSilverlight, PluginWindowsMedia,
	PerformanceNetwork, PerformanceServer, PerformanceTransfer,
	PerformanceDOMProcessing, PerformanceDOMCompletion, PerformanceOnLoad,
	NewVisit, Ping, SendImage,
	TimeHour, TimeMinute, TimeSecond, Timestamp, Random,
}

var rank = func() map[string]int {
	m := make(map[string]int, len(order))
	for i, k := range order {
		m[k] = i
	}
	return m
}()

// keyRank orders unknown keys after all known ones.
func keyRank(key string) int {
	if r, ok := rank[key]; ok {
		return r
	}
	return len(order)
}

// Dimension returns the wire key of custom dimension id.
func Dimension(id int) string {
	return CustomDimensionPrefix + strconv.Itoa(id)
}
