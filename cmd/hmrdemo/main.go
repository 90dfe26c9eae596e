// Command hmrdemo drives six end-to-end hot-reload scenarios against an
// in-memory hostloader and the controller package, printing each update's
// result with report.Print — a demo/test harness, not a general-purpose
// bundler CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

// cliOut is the writer every scenario's report.Print call uses. A package
// var rather than a threaded parameter since every scenario is a leaf
// Action with no other shared state worth a struct for.
var cliOut io.Writer = os.Stdout

func main() {
	cmd := &cli.Command{
		Name:  "hmrdemo",
		Usage: "run a hot-module-replacement scenario end to end",
		Commands: []*cli.Command{
			scenarioCommand("simple", "S1: accepted update re-runs the importer", runSimple),
			scenarioCommand("unaccepted", "S2: unaccepted update stops at the importer", runUnaccepted),
			scenarioCommand("accepted", "S3: precise per-dependency accept skips the importer's body", runAccepted),
			scenarioCommand("linkerror", "S4: a link error recovers once the import shape is fixed", runLinkError),
			scenarioCommand("infiniteexport", "S5: export * from self fails dispatch", runInfiniteExport),
			scenarioCommand("declined", "S6: decline only blocks an update that reaches the declining module itself", runDeclined),
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func scenarioCommand(name, usage string, run func(ctx context.Context) error) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Action: func(ctx context.Context, _ *cli.Command) error {
			fmt.Fprintf(cliOut, "=== %s ===\n", name)
			return run(ctx)
		},
	}
}
