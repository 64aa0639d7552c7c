// Command ticklog tails the tick_telemetry table and colorizes each row by
// deadline outcome, grounded on the teacher's tools/benchmark CLI shape
// (a few flags, single-purpose, stdlib+one color library).
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/cstahmer1/spotagent/internal/storage"
)

func main() {
	dbPath := flag.String("db", "./data/bot.db", "path to the sqlite database")
	interval := flag.Duration("interval", 2*time.Second, "poll interval")
	follow := flag.Bool("follow", true, "keep polling for new rows")
	limit := flag.Int("limit", 20, "rows to show per poll")
	flag.Parse()

	db, err := storage.NewDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ticklog: open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer db.Close()

	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	fail := color.New(color.FgRed, color.Bold)

	var lastSeen time.Time
	for {
		rows, err := db.RecentTickTelemetry(*limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ticklog: query failed: %v\n", err)
		} else {
			printNew(rows, &lastSeen, ok, warn, fail)
		}

		if !*follow {
			return
		}
		time.Sleep(*interval)
	}
}

// printNew prints rows newer than lastSeen, oldest-first, and advances
// lastSeen past the newest row printed.
func printNew(rows []storage.TickTelemetry, lastSeen *time.Time, ok, warn, fail *color.Color) {
	var fresh []storage.TickTelemetry
	for _, r := range rows {
		if r.TickStartedAt.After(*lastSeen) {
			fresh = append(fresh, r)
		}
	}
	for i := len(fresh) - 1; i >= 0; i-- {
		r := fresh[i]
		line := fmt.Sprintf("%s  %5dms  positions=%-3d candidates=%-3d",
			r.TickStartedAt.Format("15:04:05.000"), r.DurationMs, r.PositionsCount, r.CandidatesCount)
		if r.Action != "" {
			line += "  action=" + r.Action
		}

		switch {
		case r.DeadlineExceeded:
			fail.Println(line + "  DEADLINE EXCEEDED")
		case r.DurationMs > 1000:
			warn.Println(line)
		default:
			ok.Println(line)
		}

		if r.TickStartedAt.After(*lastSeen) {
			*lastSeen = r.TickStartedAt
		}
	}
}
