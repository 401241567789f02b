package main

import (
	"context"
	"fmt"
	"os"

	tblsconfig "github.com/k1LoW/tbls/config"

	"sqlflow"
	"sqlflow/introspect"
)

// IntrospectCmd points at a live database and emits SOURCE/LOAD directive
// stubs for every table it finds, for a human to copy into a real script.
// It never runs as part of `sqlflow run`.
type IntrospectCmd struct {
	DSN            string   `help:"Database connection string (defaults to the configured state backend's database)"`
	SourceName     string   `help:"Name to give the generated SOURCE directive" default:"db"`
	ConnectorType  string   `help:"Connector type to reference in the generated SOURCE directive" default:"csv"`
	Include        []string `help:"Table name patterns to include (repeatable, supports trailing *)"`
	Exclude        []string `help:"Table name patterns to exclude (repeatable, supports trailing *)"`
	IncludeViews   bool     `help:"Passed to the importer; stubs still cover base tables only"`
	IncludeIndexes bool     `help:"Passed to the importer; no index metadata is emitted"`
	Output         string   `help:"Write stubs to this file instead of stdout" short:"o"`
}

func (cmd *IntrospectCmd) Run(ctx *Context) error {
	cfg, err := sqlflow.LoadConfig(ctx.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dsn := cmd.DSN
	if dsn == "" {
		dsn = cfg.StateBackend.Connection
	}

	if dsn == "" {
		return ErrNoIntrospectDSN
	}

	eng, err := openEngine(cfg.Dialect, dsn)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer eng.Close()

	importerCfg := introspect.Config{
		SourceName:     cmd.SourceName,
		ConnectorType:  cmd.ConnectorType,
		Include:        cmd.Include,
		Exclude:        cmd.Exclude,
		IncludeViews:   cmd.IncludeViews,
		IncludeIndexes: cmd.IncludeIndexes,
		TblsConfig:     &tblsconfig.Config{DSN: tblsconfig.DSN{URL: dsn}},
	}

	importer := introspect.NewImporter(eng, importerCfg)

	stubs, err := importer.GenerateStubs(context.Background())
	if err != nil {
		return fmt.Errorf("failed to introspect database: %w", err)
	}

	if cmd.Output == "" {
		fmt.Print(stubs)
		return nil
	}

	if err := os.WriteFile(cmd.Output, []byte(stubs), 0o644); err != nil {
		return fmt.Errorf("failed to write %q: %w", cmd.Output, err)
	}

	return nil
}
