package sqlflow

// Capabilities defines which SQL features are supported by each dialect.
// The transform engine consults this instead of branching on dialect
// strings everywhere generated SQL is assembled.
var Capabilities = map[Dialect]map[Feature]bool{
	DialectSQLite: {
		FeatureCreateOrReplaceTable: false,
		FeatureMerge:                false,
		FeatureOnConflict:           true,
		FeatureReturningClause:      true,
	},
	DialectPostgres: {
		FeatureCreateOrReplaceTable: false,
		FeatureMerge:                true,
		FeatureOnConflict:           true,
		FeatureReturningClause:      true,
	},
	DialectMySQL: {
		FeatureCreateOrReplaceTable: false,
		FeatureMerge:                false,
		FeatureOnConflict:           false,
		FeatureReturningClause:      false,
	},
}

// Supports reports whether dialect d advertises feature f. An unknown
// dialect supports nothing, so callers always get the conservative path.
func Supports(d Dialect, f Feature) bool {
	return Capabilities[d][f]
}
