package sqlflow

// Dialect identifies the SQL dialect spoken by an engine adapter.
// This type is shared across all packages.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Feature represents a dialect-specific SQL capability the transform engine
// consults when choosing how to render a mode's generated SQL.
type Feature int

const (
	// FeatureCreateOrReplaceTable means "CREATE OR REPLACE TABLE ... AS ..." is supported directly.
	FeatureCreateOrReplaceTable Feature = iota + 1
	// FeatureMerge means a single-statement MERGE INTO is available for UPSERT.
	FeatureMerge
	// FeatureOnConflict means INSERT ... ON CONFLICT (...) DO UPDATE is available for UPSERT.
	FeatureOnConflict
	// FeatureReturningClause means RETURNING is supported after DML.
	FeatureReturningClause
)
