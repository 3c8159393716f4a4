package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shortontech/gomatomo/internal/reporting"
	"github.com/shortontech/gomatomo/pkg/config"
)

var (
	reportMethod  string
	reportPeriod  string
	reportDate    string
	reportFormat  string
	reportSegment string
	reportLimit   int
	reportParams  []string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Query the Matomo Reporting API",
	Example: `  gomatomo report --method VisitsSummary.get --period day --date yesterday
  gomatomo report --method Actions.getPageUrls --date last7 --param flat=1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		q, err := buildReportQuery(cfg)
		if err != nil {
			return err
		}
		body, err := q.Fetch(cmd.Context())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(body)
		return err
	},
}

func init() {
	f := reportCmd.Flags()
	f.StringVar(&reportMethod, "method", "", "API method, e.g. VisitsSummary.get")
	f.StringVar(&reportPeriod, "period", "day", "day, week, month, year or range")
	f.StringVar(&reportDate, "date", reporting.DateToday, "date, today, yesterday, lastN or previousN")
	f.StringVar(&reportFormat, "format", "json", "response format")
	f.StringVar(&reportSegment, "segment", "", "segment definition")
	f.IntVar(&reportLimit, "limit", 0, "filter_limit, 0 for the API default")
	f.StringSliceVar(&reportParams, "param", nil, "extra parameter as name=value, repeatable")
	_ = reportCmd.MarkFlagRequired("method")
}

func buildReportQuery(cfg config.Config) (*reporting.Query, error) {
	if cfg.Matomo.URL == "" {
		return nil, fmt.Errorf("MATOMO_URL is required for reports")
	}
	q := reporting.New(cfg.Matomo.ReportingEndpoint(), cfg.Matomo.AuthToken, cfg.Matomo.SiteID, nil).
		WithMethod(reportMethod).
		WithDate(reportDate, "")

	q, err := q.WithPeriod(reportPeriod)
	if err != nil {
		return nil, err
	}
	if q, err = q.WithFormat(reportFormat); err != nil {
		return nil, err
	}
	if reportSegment != "" {
		q = q.WithSegment(reportSegment)
	}
	if reportLimit != 0 {
		q = q.WithFilterLimit(reportLimit)
	}

	extra := make(map[string]any, len(reportParams))
	for _, kv := range reportParams {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q: want name=value", kv)
		}
		extra[name] = value
	}
	return q.WithParameters(extra)
}
