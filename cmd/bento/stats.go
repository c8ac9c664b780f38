package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/bento-run/bento/libbento"
)

// statsSampleWindow is the fixed interval between the two usage_usec reads
// used to compute CPU% (§4.7).
const statsSampleWindow = 200 * time.Millisecond

var statsCommand = cli.Command{
	Name:  "stats",
	Usage: "show resource usage for every container with an active cgroup",
	Action: func(ctx *cli.Context) error {
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		rows, errs := libbento.Stats(store, statsSampleWindow)
		for _, e := range errs {
			logrus.WithError(e).Warn("skipping a corrupt state record")
		}

		fmt.Println("CONTAINER RESOURCE USAGE")
		w := tabwriter.NewWriter(os.Stdout, 12, 1, 3, ' ', 0)
		fmt.Fprint(w, "CONTAINER\tMEMORY\tPEAK\tPIDS\tCPU%\n")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				row.ID, formatUint(row.MemoryCurrent), formatUint(row.MemoryPeak),
				formatUint(row.PidsCurrent), formatPercent(row.CPUPercent))
		}
		return w.Flush()
	},
}

func formatUint(v *uint64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}

func formatPercent(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.1f", *v)
}
