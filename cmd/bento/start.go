package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/bento-run/bento/libbento"
)

// startCommand implements the create/start split from §4.5 and §9: bento
// already exec'd the user's process during create, so start only verifies
// it is still alive (or reports the clean-exit case) and reconciles state.
var startCommand = cli.Command{
	Name:  "start",
	Usage: "verify the container's process is running (or note its clean exit)",
	ArgsUsage: `<container-id>`,
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("start: exactly one container id is required")
		}
		id := ctx.Args().First()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		_, err = libbento.Start(store, id)
		return err
	},
}
