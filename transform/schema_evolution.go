package transform

import (
	"context"
	"fmt"

	"sqlflow"
	"sqlflow/engine"
)

// evolveSchema applies §4.4's additive-change rule to target before an
// APPEND or UPSERT writes into it: new source columns are added nullable,
// numeric widening is applied with ALTER COLUMN/MODIFY, and incompatible
// changes are reported as warnings without touching target's existing
// column type.
func evolveSchema(ctx context.Context, eng engine.Engine, source, target string) ([]error, error) {
	sourceInfo, err := eng.GetSchema(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("transform: schema evolution: reading %q: %w", source, err)
	}

	targetInfo, err := eng.GetSchema(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("transform: schema evolution: reading %q: %w", target, err)
	}

	var warnings []error

	for _, diff := range sqlflow.DiffColumns(sourceInfo, targetInfo) {
		switch diff.Kind {
		case sqlflow.ColumnAdditive:
			if err := engine.ValidateIdentifier(diff.Name); err != nil {
				return warnings, err
			}

			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", target, diff.Name, diff.From.DataType)

			if _, err := eng.Execute(ctx, stmt, nil); err != nil {
				return warnings, fmt.Errorf("transform: schema evolution: adding column %q to %q: %w", diff.Name, target, err)
			}

		case sqlflow.ColumnWidened:
			if err := engine.ValidateIdentifier(diff.Name); err != nil {
				return warnings, err
			}

			stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s", target, diff.Name, diff.From.DataType)

			if _, err := eng.Execute(ctx, stmt, nil); err != nil {
				// Not every dialect accepts this exact ALTER COLUMN form; widening
				// is a best-effort convenience, so report and move on rather than
				// failing the whole load for a non-essential type promotion.
				warnings = append(warnings, fmt.Errorf("transform: schema evolution: widening %q on %q: %w", diff.Name, target, err))
			}

		case sqlflow.ColumnIncompatible:
			warnings = append(warnings, &SchemaError{
				Table:   target,
				Message: fmt.Sprintf("column %q: source type %q incompatible with target type %q, keeping existing type", diff.Name, diff.From.DataType, diff.To.DataType),
			})

		case sqlflow.ColumnUnchanged:
			// nothing to do
		}
	}

	return warnings, nil
}
