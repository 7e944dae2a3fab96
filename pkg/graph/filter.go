package graph

import (
	"strings"
	"time"
)

// Clause is one (field, operator, value) triple of an OData filter
// expression. A clause with empty Op and Value is emitted verbatim, which
// supports function-call style predicates such as
// startswith(userPrincipalName, 'svc-').
type Clause struct {
	Field string
	Op    string
	Value string
}

func (c Clause) render() string {
	if c.Op == "" && c.Value == "" {
		return c.Field
	}
	return c.Field + " " + c.Op + " " + c.Value
}

// BuildFilter joins clauses into a single OData $filter expression using
// joinOp ("and" or "or"). An empty clause list yields an empty expression.
func BuildFilter(clauses []Clause, joinOp string) string {
	if len(clauses) == 0 {
		return ""
	}

	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		parts = append(parts, c.render())
	}

	return strings.Join(parts, " "+joinOp+" ")
}

// Graph timestamps carry 7 decimal digits of sub-second precision; Go's
// time.Time carries 9. Bounds are truncated to whole seconds and padded to
// the API's full precision so the query window covers entire 0.1µs ticks.
const (
	lowerBoundSuffix = ".0000000Z"
	upperBoundSuffix = ".9999999Z"

	boundLayout = "2006-01-02T15:04:05"
)

// LowerBound formats ts as the inclusive start of a createdDateTime window.
// Any sub-second component of ts is discarded.
func LowerBound(ts time.Time) string {
	return ts.UTC().Truncate(time.Second).Format(boundLayout) + lowerBoundSuffix
}

// UpperBound formats ts as the inclusive end of a createdDateTime window.
// Any sub-second component of ts is discarded.
func UpperBound(ts time.Time) string {
	return ts.UTC().Truncate(time.Second).Format(boundLayout) + upperBoundSuffix
}

// timeWindowClauses appends createdDateTime bounds for whichever of start
// and end are set.
func timeWindowClauses(clauses []Clause, start, end *time.Time) []Clause {
	if start != nil {
		clauses = append(clauses, Clause{Field: "createdDateTime", Op: "ge", Value: LowerBound(*start)})
	}
	if end != nil {
		clauses = append(clauses, Clause{Field: "createdDateTime", Op: "le", Value: UpperBound(*end)})
	}
	return clauses
}
