package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/bento-run/bento/libbento"
)

const usage = `bento

bento is a rootless, daemonless container runtime. It creates, starts,
inspects, constrains, and deletes containers entirely in userspace under an
unprivileged user, using Linux user namespaces, mount namespaces, and a
delegated cgroup v2 subtree.

Each command is a single short-lived invocation; there is no supervisor
process and no long-running state beyond the on-disk records under
$XDG_STATE_HOME/bento.`

func main() {
	// A fork re-exec's the bento binary itself as "__bento_init__" with a
	// path to its child config (process_linux.go's startChild); this must
	// be checked before cli.App parses anything, since the child is not a
	// normal CLI invocation.
	if len(os.Args) > 1 && os.Args[1] == "__bento_init__" {
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "__bento_init__: missing config path")
			os.Exit(1)
		}
		if err := libbento.RunInit(os.Args[2]); err != nil {
			fmt.Fprintln(os.Stderr, "init:", err)
			os.Exit(1)
		}
		// RunInit only returns on error; unix.Exec replaces the image on
		// success and this line is unreachable.
		os.Exit(1)
	}

	app := cli.NewApp()
	app.Name = "bento"
	app.Usage = usage
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug-level logging",
		},
		cli.StringFlag{
			Name:  "state-dir",
			Usage: "override the state directory (default: $XDG_STATE_HOME/bento)",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		logrus.SetOutput(os.Stderr)
		if ctx.GlobalBool("debug") {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.WarnLevel)
		}
		return nil
	}
	app.Commands = []cli.Command{
		createCommand,
		startCommand,
		stateCommand,
		listCommand,
		statsCommand,
		killCommand,
		deleteCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, diagnose(err))
		os.Exit(1)
	}
}

// diagnose renders the single human-readable diagnostic line required by
// §7: "process exits with non-zero; a single human-readable diagnostic
// line is written to stderr identifying the phase and cause."
func diagnose(err error) string {
	var typed *libbento.Error
	if errors.As(err, &typed) {
		return fmt.Sprintf("bento: %s", typed.Error())
	}
	return fmt.Sprintf("bento: %v", err)
}
