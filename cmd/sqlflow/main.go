// Command sqlflow runs, plans, resumes, and inspects .sf pipeline scripts
// against an embedded or networked SQL engine.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// Context is the global state shared by every subcommand.
type Context struct {
	Config  string
	Verbose bool
	Quiet   bool
}

// CLI is the root command set parsed by kong.
var CLI struct {
	Config  string `help:"Configuration file path" default:"sqlflow.yaml"`
	Verbose bool   `help:"Enable verbose output" short:"v"`
	Quiet   bool   `help:"Suppress non-essential output" short:"q"`

	Run            RunCmd            `cmd:"" help:"Run a pipeline script"`
	Plan           PlanCmd           `cmd:"" help:"Build and print a pipeline's execution plan"`
	Resume         ResumeCmd         `cmd:"" help:"Resume a previously started run"`
	ResetWatermark ResetWatermarkCmd `cmd:"reset-watermark" help:"Clear a table's persisted incremental-load watermark"`
	ListRuns       ListRunsCmd       `cmd:"list-runs" help:"List past and in-progress runs"`
	Introspect     IntrospectCmd     `cmd:"" help:"Generate SOURCE/LOAD stubs from a live database's schema"`
	Explain        ExplainCmd        `cmd:"" help:"Render a pipeline's plan as a Markdown summary"`
}

func main() {
	ctx := kong.Parse(&CLI)

	appCtx := &Context{
		Config:  CLI.Config,
		Verbose: CLI.Verbose,
		Quiet:   CLI.Quiet,
	}

	err := ctx.Run(appCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
