package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/bento-run/bento/libbento"
)

// deleteCommand implements the kill-then-delete policy chosen in §9's
// Open Question: a still-running container is killed rather than
// rejected, and the command succeeds even when the record was already
// gone (any orphaned cgroup/workspace under the expected paths is still
// cleaned up).
var deleteCommand = cli.Command{
	Name:      "delete",
	Usage:     "delete a container's state, cgroup, and workspace",
	ArgsUsage: `<container-id>`,
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("delete: exactly one container id is required")
		}
		id := ctx.Args().First()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		return libbento.Delete(store, id)
	},
}
