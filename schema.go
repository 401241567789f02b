package sqlflow

import "strings"

// ColumnInfo is a unified column definition returned by engine schema
// introspection and consumed by schema evolution (transform package) and
// the introspect CLI subcommand.
type ColumnInfo struct {
	Name         string
	DataType     string
	Nullable     bool
	DefaultValue string
	Comment      string
	IsPrimaryKey bool
	MaxLength    *int
	Precision    *int
	Scale        *int
}

// TableInfo is a unified table definition.
type TableInfo struct {
	Name        string
	Schema      string
	Columns     map[string]*ColumnInfo
	Constraints []ConstraintInfo
	Indexes     []IndexInfo
	Comment     string
}

// DatabaseSchema is a unified database schema definition.
type DatabaseSchema struct {
	Name         string
	Tables       []*TableInfo
	Views        []*ViewInfo
	DatabaseInfo DatabaseInfo
}

type ConstraintInfo struct {
	Name              string
	Type              string // PRIMARY_KEY, FOREIGN_KEY, UNIQUE, CHECK
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
	Definition        string
}

type IndexInfo struct {
	Name     string
	Columns  []string
	IsUnique bool
	Type     string
}

type ViewInfo struct {
	Name       string
	Schema     string
	Definition string
	Comment    string
}

type DatabaseInfo struct {
	Type    string
	Version string
	Name    string
	Charset string
}

// ColumnDiffKind classifies one column of a schema evolution comparison.
type ColumnDiffKind int

const (
	// ColumnUnchanged means the target already has a compatible column.
	ColumnUnchanged ColumnDiffKind = iota
	// ColumnAdditive means the source has a new column target should gain, nullable.
	ColumnAdditive
	// ColumnWidened means the source's numeric type is wider; target widens too.
	ColumnWidened
	// ColumnIncompatible means source and target disagree in a way that cannot be
	// applied without risking data loss; the existing target type is kept.
	ColumnIncompatible
)

// ColumnDiff describes what §4.4 Schema Evolution should do for one column
// when materializing source into target.
type ColumnDiff struct {
	Name string
	Kind ColumnDiffKind
	From *ColumnInfo // nil if column is new
	To   *ColumnInfo // nil if column does not yet exist in target
}

// widenableNumeric orders numeric type names from narrowest to widest so
// DiffColumns can tell a widening from a narrowing.
var widenableNumeric = map[string]int{
	"smallint": 1,
	"int":      2,
	"integer":  2,
	"bigint":   3,
	"real":     4,
	"float":    4,
	"double":   5,
	"numeric":  6,
	"decimal":  6,
}

// DiffColumns compares a source table's columns against an existing target
// table and classifies each source column per §4.4's additive-change rule:
// new columns become nullable additions, numeric widening is accepted,
// narrowing/incompatible changes are reported but the existing target type
// is preserved (no silent data loss). Columns present only in target are not
// part of the result — removed columns remain in target, unpopulated.
func DiffColumns(source, target *TableInfo) []ColumnDiff {
	diffs := make([]ColumnDiff, 0, len(source.Columns))

	for name, srcCol := range source.Columns {
		key := strings.ToLower(name)

		tgtCol, exists := target.Columns[key]
		if !exists {
			// Case-insensitive lookup fallback since map keys may preserve case.
			tgtCol = findColumnCI(target, name)
		}

		if tgtCol == nil {
			diffs = append(diffs, ColumnDiff{Name: name, Kind: ColumnAdditive, From: srcCol})
			continue
		}

		kind := classifyTypeChange(srcCol.DataType, tgtCol.DataType)
		diffs = append(diffs, ColumnDiff{Name: name, Kind: kind, From: srcCol, To: tgtCol})
	}

	return diffs
}

func findColumnCI(t *TableInfo, name string) *ColumnInfo {
	lower := strings.ToLower(name)
	for colName, col := range t.Columns {
		if strings.ToLower(colName) == lower {
			return col
		}
	}

	return nil
}

func classifyTypeChange(sourceType, targetType string) ColumnDiffKind {
	src := strings.ToLower(strings.TrimSpace(sourceType))
	tgt := strings.ToLower(strings.TrimSpace(targetType))

	if src == tgt {
		return ColumnUnchanged
	}

	srcRank, srcIsNumeric := widenableNumeric[src]
	tgtRank, tgtIsNumeric := widenableNumeric[tgt]

	if srcIsNumeric && tgtIsNumeric {
		if srcRank > tgtRank {
			return ColumnWidened
		}

		if srcRank == tgtRank {
			return ColumnUnchanged
		}

		return ColumnIncompatible
	}

	return ColumnIncompatible
}
