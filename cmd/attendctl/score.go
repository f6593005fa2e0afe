package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"faceattend/internal/attendance"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Show the points an arrival would earn",
	Example: `  attendctl score --at 08:15 --liveness
  attendctl score --at 09:05`,
	Args: cobra.NoArgs,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().String("at", "", "arrival time of day, HH:MM or HH:MM:SS")
	scoreCmd.Flags().Bool("liveness", false, "arrival passed the blink check")
	_ = scoreCmd.MarkFlagRequired("at")
}

func runScore(cmd *cobra.Command, _ []string) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	at, err := parseClock(mustGetString(cmd, "at"), time.Now().In(loc))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d\n", attendance.Points(at, mustGetBool(cmd, "liveness")))
	return nil
}

// parseClock places a time of day on day's calendar date in day's location.
func parseClock(s string, day time.Time) (time.Time, error) {
	var clock time.Time
	var err error
	for _, layout := range []string{"15:04:05", "15:04"} {
		if clock, err = time.Parse(layout, s); err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q, want HH:MM", s)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), 0, day.Location()), nil
}
