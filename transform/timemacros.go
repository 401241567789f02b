package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"sqlflow"
)

var macroPattern = regexp.MustCompile(`@(start_date|end_date|start_dt|end_dt)\b`)

// substituteTimeMacros replaces @start_date/@end_date/@start_dt/@end_dt
// occurrences in query with a dialect-appropriate placeholder and returns
// the accompanying bind values, per §4.4: substitution uses engine
// parameter binding, never textual replacement of the formatted value.
func substituteTimeMacros(query string, dialect sqlflow.Dialect, start, end time.Time) (string, []any) {
	var params []any

	n := 0

	rewritten := macroPattern.ReplaceAllStringFunc(query, func(match string) string {
		n++

		switch strings.TrimPrefix(match, "@") {
		case "start_date":
			params = append(params, start.Format("2006-01-02"))
		case "end_date":
			params = append(params, end.Format("2006-01-02"))
		case "start_dt":
			params = append(params, start.Format(time.RFC3339))
		case "end_dt":
			params = append(params, end.Format(time.RFC3339))
		}

		return placeholder(dialect, n)
	})

	return rewritten, params
}

func placeholder(dialect sqlflow.Dialect, n int) string {
	if dialect == sqlflow.DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}

	return "?"
}

// dayPattern matches a bare day count with the "d" shorthand or the spec's
// own "<n> day"/"<n> days" spelling (LOOKBACK '1 day').
var dayPattern = regexp.MustCompile(`^(\d+)\s*d(?:ays?)?$`)

// parseLookback extends time.ParseDuration with day units, since LOOKBACK
// durations in .sf scripts are commonly expressed in days ("2d", "1 day",
// "90 days") and time.ParseDuration has no day unit.
func parseLookback(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if m := dayPattern.FindStringSubmatch(s); m != nil {
		days, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("transform: invalid lookback %q: %w", s, err)
		}

		return time.Duration(days) * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}

// beginningOfTime is the implementation-defined "no watermark yet" minimum
// per §4.4 step 1.
var beginningOfTime = time.Unix(0, 0).UTC()
