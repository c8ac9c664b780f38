package main

import (
	"github.com/urfave/cli"

	"github.com/bento-run/bento/libbento"
)

// openStore resolves the state directory (global --state-dir override or
// the default $XDG_STATE_HOME/bento) and opens it.
func openStore(ctx *cli.Context) (*libbento.Store, error) {
	dir := ctx.GlobalString("state-dir")
	if dir == "" {
		var err error
		dir, err = libbento.DefaultStateDir()
		if err != nil {
			return nil, err
		}
	}
	return libbento.OpenStore(dir)
}
