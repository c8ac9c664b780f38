package main

import (
	"fmt"

	"github.com/urfave/cli"

	"github.com/bento-run/bento/libbento"
)

var createCommand = cli.Command{
	Name:  "create",
	Usage: "create a container from a bundle, executing its process",
	ArgsUsage: `<container-id>

Where "<container-id>" is your name for the instance of the container that
you are creating. The id must be unique across live state entries.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "bundle, b",
			Usage: "path to the bundle directory (config.json + rootfs/)",
		},
		cli.StringFlag{
			Name:  "memory-limit",
			Usage: "memory.max, e.g. 256M or max",
		},
		cli.StringFlag{
			Name:  "memory-high",
			Usage: "memory.high, e.g. 200M",
		},
		cli.StringFlag{
			Name:  "memory-swap-limit",
			Usage: "memory.swap.max, e.g. 300M",
		},
		cli.StringFlag{
			Name:  "cpu-limit",
			Usage: `cpu.max as "<quota-us> <period-us>", e.g. "75000 100000"`,
		},
		cli.IntFlag{
			Name:  "cpu-weight",
			Usage: "cpu.weight, 1-10000",
		},
		cli.StringFlag{
			Name:  "pids-limit",
			Usage: "pids.max, an integer or max",
		},
		cli.BoolFlag{
			Name:  "no-cgroups",
			Usage: "skip cgroup creation and limit application entirely",
		},
		cli.StringFlag{
			Name:  "population-method",
			Value: "copy",
			Usage: "rootfs population policy: copy, manual, or bind",
		},
	},
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return fmt.Errorf("create: exactly one container id is required")
		}
		id := ctx.Args().First()
		bundle := ctx.String("bundle")
		if bundle == "" {
			return fmt.Errorf("create: --bundle is required")
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}

		opts := libbento.CreateOptions{
			BundlePath:       bundle,
			MemoryLimit:      ctx.String("memory-limit"),
			MemoryHigh:       ctx.String("memory-high"),
			MemorySwapLimit:  ctx.String("memory-swap-limit"),
			CPULimit:         ctx.String("cpu-limit"),
			CPUWeight:        ctx.Int("cpu-weight"),
			PidsLimit:        ctx.String("pids-limit"),
			NoCgroups:        ctx.Bool("no-cgroups"),
			PopulationMethod: libbento.PopulationMethod(ctx.String("population-method")),
		}

		_, err = libbento.Create(store, id, opts)
		return err
	},
}
