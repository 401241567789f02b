// Package parser builds a Pipeline AST from tokenized .sf script text:
// variable substitution, JSON parameter parsing, and conditional-block
// nesting. It deliberately keeps the step shapes as a tagged variant
// (interface + type switch) rather than a class hierarchy, per the core
// design notes this implementation follows.
package parser

import "sqlflow/tokenizer"

// Step is the tagged-variant interface every pipeline directive implements.
// Concrete variants are *SourceDefStep, *LoadStep, *SQLBlockStep,
// *ExportStep, *SetStep, *IncludeStep, *ConditionalBlock.
type Step interface {
	stepLine() int
}

// LoadMode is the write semantics for a LoadStep or SQLBlockStep.
type LoadMode string

const (
	ModeReplace     LoadMode = "REPLACE"
	ModeAppend      LoadMode = "APPEND"
	ModeUpsert      LoadMode = "UPSERT"
	ModeIncremental LoadMode = "INCREMENTAL"
)

// SourceDefStep declares a named data source.
type SourceDefStep struct {
	Name              string
	ConnectorType     string
	Params            map[string]any
	IncrementalCursor string // optional; empty if unused
	LineNumber        int
}

func (s *SourceDefStep) stepLine() int { return s.LineNumber }

// LoadStep materializes a source into a table.
type LoadStep struct {
	TargetTable string
	SourceName  string
	Mode        LoadMode // REPLACE (default), APPEND, UPSERT
	UpsertKeys  []string // set only when Mode == ModeUpsert
	LineNumber  int
}

func (s *LoadStep) stepLine() int { return s.LineNumber }

// SQLBlockStep is a CREATE TABLE AS directive.
type SQLBlockStep struct {
	TableName        string
	SQLText          string
	Mode             LoadMode // zero value means REPLACE
	TimeColumn       string   // set only when Mode == ModeIncremental
	UpsertKeys       []string // set only when Mode == ModeUpsert
	LookbackDuration string   // optional, only meaningful with ModeIncremental
	LineNumber       int
}

func (s *SQLBlockStep) stepLine() int { return s.LineNumber }

// ExportStep writes a query or table to an external destination.
type ExportStep struct {
	Query          string // inline SELECT or bare table reference
	DestinationURI string
	Format         string
	Options        map[string]any
	LineNumber     int
}

func (s *ExportStep) stepLine() int { return s.LineNumber }

// SetStep assigns a pipeline variable.
type SetStep struct {
	Name       string
	Value      string
	LineNumber int
}

func (s *SetStep) stepLine() int { return s.LineNumber }

// IncludeStep inlines another .sf file's statements at parse time.
type IncludeStep struct {
	Path       string
	LineNumber int
}

func (s *IncludeStep) stepLine() int { return s.LineNumber }

// ConditionalBranch is one IF/ELSE IF/ELSE arm.
type ConditionalBranch struct {
	Condition *Condition // nil for a trailing unconditional ELSE
	Body      []Step
}

// ConditionalBlock is an IF ... THEN ... [ELSE IF ...] [ELSE ...] END IF.
type ConditionalBlock struct {
	Branches   []ConditionalBranch
	LineNumber int
}

func (s *ConditionalBlock) stepLine() int { return s.LineNumber }

// Pipeline is the ordered result of parsing (and include-expanding) a .sf
// script.
type Pipeline struct {
	SourceFile  string
	Steps       []Step
	Variables   map[string]string
	Diagnostics []error
}

// Token is re-exported for callers that want to inspect raw lexing without
// importing the tokenizer package directly.
type Token = tokenizer.Token
