package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/bento-run/bento/libbento"
)

var stateCommand = cli.Command{
	Name:      "state",
	Usage:     "output the state of a container",
	ArgsUsage: `<container-id>`,
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("state: exactly one container id is required")
		}
		id := ctx.Args().First()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		st, err := libbento.Inspect(store, id)
		if err != nil {
			return err
		}

		fmt.Printf("Container ID: %s\n", st.ID)
		fmt.Printf("Status: %s\n", st.Status)
		fmt.Printf("Bundle: %s\n", st.BundlePath)
		if st.HasPid() {
			fmt.Printf("Pid: %d\n", st.Pid)
		}
		if st.CgroupPath != "" {
			fmt.Printf("Cgroup: %s\n", st.CgroupPath)
		}
		return nil
	},
}
