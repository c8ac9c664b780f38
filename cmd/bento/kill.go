package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/bento-run/bento/libbento"
)

var killCommand = cli.Command{
	Name:      "kill",
	Usage:     "send SIGKILL to a container's process and reap it",
	ArgsUsage: `<container-id>`,
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("kill: exactly one container id is required")
		}
		id := ctx.Args().First()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		_, err = libbento.Kill(store, id)
		return err
	},
}
