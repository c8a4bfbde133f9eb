// Command alert-report renders an HTML bar chart of incident alerts by day
// and severity, for quick review of alert volume without the dashboard.
//
// Usage:
//
//	alert-report -db sentinel_data.db -days 14 -output alerts.html
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/safetrail-data/sentinel.report/internal/eventstore"
	"github.com/safetrail-data/sentinel.report/internal/severity"
)

var severityOrder = []string{
	string(severity.Critical),
	string(severity.High),
	string(severity.Medium),
	string(severity.Low),
}

func main() {
	var (
		dbPath = flag.String("db", "sentinel_data.db", "event store path")
		days   = flag.Int("days", 14, "how many days of alerts to include")
		output = flag.String("output", "alerts.html", "output HTML path")
	)
	flag.Parse()

	if err := run(*dbPath, *days, *output); err != nil {
		log.Printf("report failed: %v", err)
		os.Exit(1)
	}
}

func run(dbPath string, days int, output string) error {
	db, err := eventstore.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer db.Close()

	summaries, err := db.AlertCountsByDay(context.Background(), days)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		return fmt.Errorf("no alerts in the last %d days", days)
	}

	// Pivot to day x severity.
	daySet := make(map[string]struct{})
	counts := make(map[string]map[string]int)
	for _, s := range summaries {
		daySet[s.Day] = struct{}{}
		if counts[s.Severity] == nil {
			counts[s.Severity] = make(map[string]int)
		}
		counts[s.Severity][s.Day] = s.Count
	}
	dayAxis := make([]string, 0, len(daySet))
	for d := range daySet {
		dayAxis = append(dayAxis, d)
	}
	sort.Strings(dayAxis)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Incident alerts, last %d days", days)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(dayAxis)

	for _, sev := range severityOrder {
		perDay, ok := counts[sev]
		if !ok {
			continue
		}
		data := make([]opts.BarData, len(dayAxis))
		for i, d := range dayAxis {
			data[i] = opts.BarData{Value: perDay[d]}
		}
		bar.AddSeries(sev, data)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := bar.Render(f); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	log.Printf("report written to %s", output)
	return nil
}
