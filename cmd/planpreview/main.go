// planpreview fetches tomorrow's prices and solar forecast and prints the
// charging plan the controller would follow, without touching the hub or
// the database.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/gridpilot/gridpilot/pkg/config"
	"github.com/gridpilot/gridpilot/pkg/engine"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/planner"
	"github.com/gridpilot/gridpilot/pkg/prices"
	"github.com/gridpilot/gridpilot/pkg/solar"
)

func main() {
	cfg := config.Configured()
	priceProvider := prices.Configured()
	solarProvider := solar.Configured()

	date := lflag.String("date", "", "Date to plan for (YYYY-MM-DD, default tomorrow)")
	initialSOC := lflag.String("initial-soc", "", "Starting SOC percent (default the configured target)")

	lflag.Configure()

	ctx := context.Background()

	day := time.Now().AddDate(0, 0, 1)
	if *date != "" {
		var err error
		day, err = time.Parse("2006-01-02", *date)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid date", "error", err)
			os.Exit(1)
		}
	}

	soc := cfg.Thresholds.TargetSOC
	if *initialSOC != "" {
		if _, err := fmt.Sscanf(*initialSOC, "%f", &soc); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid initial-soc", "error", err)
			os.Exit(1)
		}
	}

	priceDay, err := priceProvider.GetDay(ctx, day)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch prices", "error", err)
		os.Exit(1)
	}
	solarDay, err := solarProvider.GetDay(ctx, day)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch solar forecast", "error", err)
		os.Exit(1)
	}

	plan := planner.New(engine.NewWithHeuristics(cfg.Heuristics)).GeneratePlan(ctx, planner.Request{
		Date:       day,
		Prices:     priceDay,
		Solar:      solarDay,
		Thresholds: cfg.Thresholds,
		Battery:    cfg.Battery,
		InitialSOC: soc,
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Plan for %s (starting SOC %.0f%%)\n\n", plan.Date, soc)
	fmt.Fprintln(w, "HOUR\tPRICE\tSOLAR\tACTION\tSOC\tREASON")
	for _, h := range plan.Hours {
		fmt.Fprintf(w, "%02d:00\t%.3f\t%.0fW\t%s\t%.0f%%\t%s\n",
			h.Hour, h.Price, h.SolarWatts, h.Action, h.ExpectedSOC, h.Reason)
	}
	fmt.Fprintf(w, "\nGrid charge hours:\t%d\n", plan.GridChargeHours)
	fmt.Fprintf(w, "Grid charge cost:\t%.2f EUR\n", plan.GridChargeCost)
	fmt.Fprintf(w, "Solar charge:\t%.0f Wh\n", plan.SolarChargeWh)
	fmt.Fprintf(w, "Grid export:\t%.0f Wh\n", plan.GridExportWh)
	fmt.Fprintf(w, "Estimated savings:\t%.2f EUR\n", plan.Savings)
	if err := w.Flush(); err != nil {
		os.Exit(1)
	}
}
