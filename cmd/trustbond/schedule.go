package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/eigerco/trustbond/internal/emissions"
	"github.com/eigerco/trustbond/internal/epochtime"
)

func scheduleCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "schedule",
		Short: "Print the emissions schedule for a range of epochs",
		RunE:  printSchedule,
	}
	addScheduleFlags(c.Flags())
	return c
}

func addScheduleFlags(flags *pflag.FlagSet) {
	flags.Uint64("from", 0, "first epoch")
	flags.Uint64("to", 104, "last epoch, inclusive")
	flags.Uint64("every", 1, "print every n-th epoch")
}

func printSchedule(c *cobra.Command, _ []string) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	params, err := cfg.EmissionsParams()
	if err != nil {
		return err
	}
	schedule, err := emissions.NewSchedule(params)
	if err != nil {
		return err
	}
	clock, err := epochtime.NewClock(params.StartTimestamp, params.EpochLength, nil)
	if err != nil {
		return err
	}

	flags := c.Flags()
	from, _ := flags.GetUint64("from")
	to, _ := flags.GetUint64("to")
	every, _ := flags.GetUint64("every")
	if to < from {
		return fmt.Errorf("--to %d is before --from %d", to, from)
	}
	if every == 0 {
		every = 1
	}

	w := tabwriter.NewWriter(c.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "EPOCH\tSTART\tCLIFFS\tEMISSIONS\t")
	for e := from; e <= to; e += every {
		ep := epochtime.Epoch(e)
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t\n",
			e,
			epochtime.Time(clock.EpochStart(ep)).Format("2006-01-02"),
			schedule.CliffsAt(ep),
			schedule.EmissionsAt(ep).Dec(),
		)
	}
	total, err := schedule.EmissionsBetween(epochtime.Epoch(from), epochtime.Epoch(to))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\t\tTOTAL\t%s\t\n", total.Dec())
	return w.Flush()
}
