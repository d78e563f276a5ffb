package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hydropi/hydropi/controller"
	"github.com/hydropi/hydropi/controller/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single decision cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := daemon.New(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := d.Close(); cerr != nil {
					a.log.Warn("Shutdown incomplete", zap.Error(cerr))
				}
			}()
			rec, err := d.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			printRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full decision record as JSON")
	return cmd
}

func printRecord(w io.Writer, rec controller.DecisionRecord) {
	c := rec.Command
	fmt.Fprintf(w, "Cycle %s (%s)\n", rec.ID, rec.Outcome)
	fmt.Fprintf(w, "  light=%s air_pump=%s humidifier=%s ph=%s", c.Light, c.AirPump, c.Humidifier, c.PHAdjustment)
	if _, pulse, ok := c.Dose(); ok {
		fmt.Fprintf(w, " (%s)", pulse)
	}
	fmt.Fprintln(w)
	if rec.HealthScore != nil {
		fmt.Fprintf(w, "  plant health %d/10\n", *rec.HealthScore)
	}
	if rec.Reasoning.Overall != "" {
		fmt.Fprintf(w, "  %s\n", rec.Reasoning.Overall)
	}
	for _, cl := range rec.Clamps {
		fmt.Fprintf(w, "  override %s: %s -> %s (%s)\n", cl.Device, cl.From, cl.To, cl.Cause)
	}
	if rec.Intervention.Needed {
		fmt.Fprintf(w, "  HUMAN INTERVENTION NEEDED: %s\n", rec.Intervention.Message)
	}
}
