// Package planner turns a parsed parser.Pipeline into a serialized
// execution plan: a dependency graph, resolved via table-producer mapping,
// validated acyclic with Kahn's algorithm, and emitted in topological order.
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"sqlflow/parser"
)

// StepType classifies an ExecutionStep the way the plan JSON format names it.
type StepType string

const (
	StepSource    StepType = "source"
	StepLoad      StepType = "load"
	StepTransform StepType = "transform"
	StepExport    StepType = "export"
)

// ExecutionStep is one node of the serialized execution plan.
type ExecutionStep struct {
	ID               string         `json:"id"`
	Type             StepType       `json:"type"`
	Query            any            `json:"query"`
	DependsOn        []string       `json:"depends_on"`
	Mode             string         `json:"mode,omitempty"`
	TimeColumn       string         `json:"time_column,omitempty"`
	UpsertKeys       []string       `json:"upsert_keys,omitempty"`
	Lookback         string         `json:"lookback,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	sourceOrderIndex int
}

// Plan is the ordered, serializable result of planning a Pipeline.
type Plan struct {
	Steps []*ExecutionStep
}

// Build resolves dependencies, evaluates conditionals against vars, detects
// cycles, and emits a topologically sorted Plan.
func Build(pipeline *parser.Pipeline, vars map[string]string) (*Plan, []error, error) {
	resolved, warnings, err := resolveConditionals(pipeline.Steps, vars)
	if err != nil {
		return nil, warnings, err
	}

	if err := checkDuplicateProducers(resolved); err != nil {
		return nil, warnings, err
	}

	steps, refWarnings, err := buildSteps(resolved)
	warnings = append(warnings, refWarnings...)

	if err != nil {
		return nil, warnings, err
	}

	ordered, err := topoSort(steps)
	if err != nil {
		return nil, warnings, err
	}

	return &Plan{Steps: ordered}, warnings, nil
}

// resolveConditionals evaluates every ConditionalBlock against vars and
// returns the flattened step list with only taken branches included. Tables
// produced in an untaken branch do not participate in later validation
// (spec §4.2/§9: cross-branch visibility is not supported; sibling
// references are a warning, not an error).
func resolveConditionals(steps []parser.Step, vars map[string]string) ([]parser.Step, []error, error) {
	var out []parser.Step

	var warnings []error

	for _, step := range steps {
		block, ok := step.(*parser.ConditionalBlock)
		if !ok {
			out = append(out, step)
			continue
		}

		taken, err := resolveBranch(block, vars)
		if err != nil {
			return nil, warnings, err
		}

		if taken == nil {
			continue
		}

		nested, nestedWarnings, err := resolveConditionals(taken.Body, vars)
		warnings = append(warnings, nestedWarnings...)

		if err != nil {
			return nil, warnings, err
		}

		out = append(out, nested...)
	}

	return out, warnings, nil
}

func resolveBranch(block *parser.ConditionalBlock, vars map[string]string) (*parser.ConditionalBranch, error) {
	for i := range block.Branches {
		branch := block.Branches[i]

		if branch.Condition == nil {
			// Trailing ELSE, unconditionally taken if reached.
			return &branch, nil
		}

		ok, err := branch.Condition.Evaluate(vars)
		if err != nil {
			return nil, &PlanningError{Message: fmt.Sprintf("evaluating condition: %v", err)}
		}

		if ok {
			return &branch, nil
		}
	}

	return nil, nil
}

// checkDuplicateProducers rejects two steps in the flattened (post-
// conditional-resolution) scope that target the same table. Sibling
// conditional branches producing the same table never collide here because
// resolveConditionals already dropped untaken branches before this runs.
func checkDuplicateProducers(steps []parser.Step) error {
	seen := map[string]bool{}

	for _, step := range steps {
		var table string

		switch s := step.(type) {
		case *parser.LoadStep:
			table = s.TargetTable
		case *parser.SQLBlockStep:
			table = s.TableName
		default:
			continue
		}

		if seen[table] {
			return &PlanningError{Message: fmt.Sprintf("duplicate producer for table %q", table)}
		}

		seen[table] = true
	}

	return nil
}

var (
	fromPattern       = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_][A-Za-z0-9_.]*)(\s*,\s*([A-Za-z_][A-Za-z0-9_.]*))*`)
	joinPattern       = regexp.MustCompile(`(?i)\bJOIN\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	pythonFuncPattern = regexp.MustCompile(`(?i)\bPYTHON_FUNC\s*\(\s*"[^"]*"\s*,\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\)`)
	identListSplit    = regexp.MustCompile(`\s*,\s*`)
	fromPrefix        = regexp.MustCompile(`(?i)^FROM\s+`)
)

// ExtractTableReferences finds table references in a SQL fragment: FROM
// lists (comma-separated), JOIN targets, and the PYTHON_FUNC("mod.fn",
// table) UDF table-call pattern (per spec.md Open Question 2, only
// detection is required — the reference extractor never executes the UDF).
func ExtractTableReferences(sql string) []string {
	seen := map[string]bool{}

	var refs []string

	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}

		seen[name] = true
		refs = append(refs, name)
	}

	for _, m := range fromPattern.FindAllStringSubmatch(sql, -1) {
		full := m[0]
		full = fromPrefix.ReplaceAllString(full, "")

		for _, id := range identListSplit.Split(full, -1) {
			add(id)
		}
	}

	for _, m := range joinPattern.FindAllStringSubmatch(sql, -1) {
		add(m[1])
	}

	for _, m := range pythonFuncPattern.FindAllStringSubmatch(sql, -1) {
		add(m[1])
	}

	return refs
}

// buildSteps constructs one ExecutionStep per pipeline step (in source
// order) in two passes: the first assigns every step's stable id and
// records each producer's table -> id mapping; the second wires dependsOn
// edges against that complete mapping, since a producer may appear later in
// source order than its consumer. ReferenceWarning is collected for table
// references with no producer in scope.
func buildSteps(steps []parser.Step) ([]*ExecutionStep, []error, error) {
	result := make([]*ExecutionStep, 0, len(steps))
	tableToID := map[string]string{}
	sourceNameToID := map[string]string{}
	idCounts := map[string]int{}

	for i, step := range steps {
		var es *ExecutionStep

		switch s := step.(type) {
		case *parser.SourceDefStep:
			es = &ExecutionStep{
				Type:     StepSource,
				Query:    s.Params,
				Metadata: map[string]any{"connector_type": s.ConnectorType, "name": s.Name},
			}
			es.ID = assignID("source", s.Name, idCounts)
			sourceNameToID[s.Name] = es.ID

		case *parser.LoadStep:
			es = &ExecutionStep{
				Type:       StepLoad,
				Query:      s.SourceName,
				Mode:       string(s.Mode),
				UpsertKeys: s.UpsertKeys,
				Metadata:   map[string]any{"table_name": s.TargetTable, "source_name": s.SourceName},
			}
			es.ID = assignID("load", s.TargetTable, idCounts)
			tableToID[s.TargetTable] = es.ID

		case *parser.SQLBlockStep:
			es = &ExecutionStep{
				Type:       StepTransform,
				Query:      s.SQLText,
				Mode:       string(s.Mode),
				TimeColumn: s.TimeColumn,
				UpsertKeys: s.UpsertKeys,
				Lookback:   s.LookbackDuration,
				Metadata:   map[string]any{"table_name": s.TableName},
			}
			es.ID = assignID("transform", s.TableName, idCounts)
			tableToID[s.TableName] = es.ID

		case *parser.ExportStep:
			es = &ExecutionStep{
				Type:     StepExport,
				Query:    s.Query,
				Metadata: map[string]any{"destination": s.DestinationURI, "format": s.Format, "options": s.Options},
			}
			es.ID = assignID("export", exportName(s), idCounts)

		case *parser.SetStep:
			// SET carries no runtime step; it is resolved entirely at parse time.
			continue

		default:
			return nil, nil, &PlanningError{Message: fmt.Sprintf("unsupported step type %T", step)}
		}

		es.sourceOrderIndex = i
		result = append(result, es)
	}

	var warnings []error

	idx := 0

	for _, step := range steps {
		switch s := step.(type) {
		case *parser.LoadStep:
			es := result[idx]
			if id, ok := sourceNameToID[s.SourceName]; ok {
				es.DependsOn = append(es.DependsOn, id)
			} else {
				warnings = append(warnings, &ReferenceWarning{Table: s.SourceName})
			}

			idx++

		case *parser.SQLBlockStep:
			es := result[idx]
			deps, refWarnings := resolveReferences(tableToID, s.SQLText)
			es.DependsOn = deps
			warnings = append(warnings, refWarnings...)
			idx++

		case *parser.ExportStep:
			es := result[idx]

			var (
				deps        []string
				refWarnings []error
			)

			if isBareIdentifier(s.Query) {
				if id, ok := tableToID[s.Query]; ok {
					deps = append(deps, id)
				} else {
					refWarnings = append(refWarnings, &ReferenceWarning{Table: s.Query})
				}
			} else {
				deps, refWarnings = resolveReferences(tableToID, s.Query)
			}

			es.DependsOn = deps
			warnings = append(warnings, refWarnings...)
			idx++

		case *parser.SetStep:
			continue

		default:
			idx++
		}
	}

	return result, warnings, nil
}

var bareIdentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// isBareIdentifier reports whether an ExportStep's Query is a plain table
// reference ("EXPORT u TO ...") rather than an inline SELECT.
func isBareIdentifier(s string) bool {
	return bareIdentPattern.MatchString(strings.TrimSpace(s))
}

func exportName(s *parser.ExportStep) string {
	if s.DestinationURI != "" {
		return sanitizeID(s.DestinationURI)
	}

	return sanitizeID(s.Query)
}

func sanitizeID(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}

	return sb.String()
}

func assignID(prefix, name string, counts map[string]int) string {
	base := fmt.Sprintf("%s_%s", prefix, sanitizeID(name))

	counts[base]++
	if counts[base] == 1 {
		return base
	}

	hash := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", base, counts[base])))

	return base + "_" + hex.EncodeToString(hash[:])[:8]
}

// resolveReferences maps a SQL fragment's extracted table references to
// producer step ids, returning a ReferenceWarning for each table with no
// known producer (spec: non-fatal, may be external).
func resolveReferences(tableToID map[string]string, sql string) ([]string, []error) {
	var (
		deps     []string
		warnings []error
	)

	for _, table := range ExtractTableReferences(sql) {
		if id, ok := tableToID[table]; ok {
			deps = append(deps, id)
			continue
		}

		warnings = append(warnings, &ReferenceWarning{Table: table})
	}

	return deps, warnings
}

func topoSort(steps []*ExecutionStep) ([]*ExecutionStep, error) {
	byID := make(map[string]*ExecutionStep, len(steps))
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))

	for _, s := range steps {
		byID[s.ID] = s
		inDegree[s.ID] = 0
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				continue // dependency on an unproduced (external) table, not a plan node
			}

			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string

	for _, s := range steps {
		if inDegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	sort.SliceStable(queue, func(i, j int) bool {
		return byID[queue[i]].sourceOrderIndex < byID[queue[j]].sourceOrderIndex
	})

	var ordered []*ExecutionStep

	for len(queue) > 0 {
		sort.SliceStable(queue, func(i, j int) bool {
			return byID[queue[i]].sourceOrderIndex < byID[queue[j]].sourceOrderIndex
		})

		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byID[id])

		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(ordered) != len(steps) {
		cyclePath := findCycle(steps)
		return nil, &PlanningError{Message: "dependency cycle detected", Cycle: cyclePath}
	}

	return ordered, nil
}

// findCycle reconstructs one offending cycle path for the error message by
// walking dependsOn edges from any node left with unsatisfied dependencies.
func findCycle(steps []*ExecutionStep) []string {
	byID := make(map[string]*ExecutionStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	visited := map[string]int{} // 0 unvisited, 1 in-stack, 2 done

	var path []string

	var visit func(id string) []string

	visit = func(id string) []string {
		if visited[id] == 1 {
			// Found the repeated node; trim path to the cycle.
			for i, p := range path {
				if p == id {
					return append(append([]string{}, path[i:]...), id)
				}
			}

			return []string{id, id}
		}

		if visited[id] == 2 {
			return nil
		}

		visited[id] = 1
		path = append(path, id)

		step, ok := byID[id]
		if ok {
			for _, dep := range step.DependsOn {
				if _, ok := byID[dep]; !ok {
					continue
				}

				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		visited[id] = 2

		return nil
	}

	for _, s := range steps {
		if cycle := visit(s.ID); cycle != nil {
			return cycle
		}
	}

	return []string{"<unknown>"}
}
