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

var listCommand = cli.Command{
	Name:  "list",
	Usage: "list known containers",
	Action: func(ctx *cli.Context) error {
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		states, errs := libbento.List(store)
		for _, e := range errs {
			logrus.WithError(e).Warn("skipping a corrupt state record")
		}

		w := tabwriter.NewWriter(os.Stdout, 12, 1, 3, ' ', 0)
		fmt.Fprint(w, "CONTAINER\tPID\tSTATUS\tBUNDLE\tCREATED\n")
		for _, st := range states {
			pid := "-"
			if st.HasPid() {
				pid = fmt.Sprintf("%d", st.Pid)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				st.ID, pid, st.Status, st.BundlePath, st.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}
