package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/hydropi/hydropi/controller/modules/cycle"
	"github.com/hydropi/hydropi/controller/modules/history"
	"github.com/hydropi/hydropi/controller/storage"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		n      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the most recent decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.New(a.cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := cycle.Setup(store); err != nil {
				return err
			}
			recs, err := history.New(store).Recent(n)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No decisions recorded yet.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tOUTCOME\tLIGHT\tAIR\tHUMIDIFIER\tPH\tHEALTH\tINTERVENTION")
			for i := len(recs) - 1; i >= 0; i-- {
				r := recs[i]
				health := "-"
				if r.HealthScore != nil {
					health = fmt.Sprintf("%d/10", *r.HealthScore)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(r.Time), r.Outcome, r.Command.Light, r.Command.AirPump,
					r.Command.Humidifier, r.Command.PHAdjustment, health, r.Intervention.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&n, "number", "n", 10, "number of records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}
