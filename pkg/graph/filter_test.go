package graph

import (
	"strings"
	"testing"
	"time"
)

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name    string
		clauses []Clause
		joinOp  string
		want    string
	}{
		{
			name:    "empty",
			clauses: nil,
			joinOp:  "and",
			want:    "",
		},
		{
			name: "single clause",
			clauses: []Clause{
				{Field: "userPrincipalName", Op: "eq", Value: "'badc0ffe42@cafe.com'"},
			},
			joinOp: "and",
			want:   "userPrincipalName eq 'badc0ffe42@cafe.com'",
		},
		{
			name: "joined with and",
			clauses: []Clause{
				{Field: "userPrincipalName", Op: "eq", Value: "'badc0ffe42@cafe.com'"},
				{Field: "createdDateTime", Op: "ge", Value: "2019-07-26T02:02:02.0000000Z"},
				{Field: "createdDateTime", Op: "le", Value: "2019-07-26T04:04:04.9999999Z"},
			},
			joinOp: "and",
			want: "userPrincipalName eq 'badc0ffe42@cafe.com' and " +
				"createdDateTime ge 2019-07-26T02:02:02.0000000Z and " +
				"createdDateTime le 2019-07-26T04:04:04.9999999Z",
		},
		{
			name: "joined with or",
			clauses: []Clause{
				{Field: "status", Op: "eq", Value: "'failure'"},
				{Field: "status", Op: "eq", Value: "'interrupted'"},
			},
			joinOp: "or",
			want:   "status eq 'failure' or status eq 'interrupted'",
		},
		{
			name: "bare function expression",
			clauses: []Clause{
				{Field: "startswith(userPrincipalName, 'svc-')"},
				{Field: "createdDateTime", Op: "le", Value: "2019-07-26T04:04:04.9999999Z"},
			},
			joinOp: "and",
			want:   "startswith(userPrincipalName, 'svc-') and createdDateTime le 2019-07-26T04:04:04.9999999Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildFilter(tt.clauses, tt.joinOp)
			if got != tt.want {
				t.Errorf("BuildFilter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBoundFormatting(t *testing.T) {
	base := time.Date(2019, 8, 24, 21, 10, 30, 0, time.UTC)

	// Any sub-second component must be discarded before suffixing.
	for _, nanos := range []int{0, 1, 999, 123456789, 999999999} {
		ts := base.Add(time.Duration(nanos))

		lower := LowerBound(ts)
		if lower != "2019-08-24T21:10:30.0000000Z" {
			t.Errorf("LowerBound(%d ns) = %q", nanos, lower)
		}

		upper := UpperBound(ts)
		if upper != "2019-08-24T21:10:30.9999999Z" {
			t.Errorf("UpperBound(%d ns) = %q", nanos, upper)
		}
	}
}

func TestBoundFormatting_Suffixes(t *testing.T) {
	ts := time.Now()

	if !strings.HasSuffix(LowerBound(ts), ".0000000Z") {
		t.Errorf("LowerBound must end in .0000000Z, got %q", LowerBound(ts))
	}
	if !strings.HasSuffix(UpperBound(ts), ".9999999Z") {
		t.Errorf("UpperBound must end in .9999999Z, got %q", UpperBound(ts))
	}
}

func TestTimeWindowClauses(t *testing.T) {
	start := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	end := time.Date(2021, 3, 4, 5, 6, 37, 0, time.UTC)

	tests := []struct {
		name  string
		start *time.Time
		end   *time.Time
		want  int
	}{
		{name: "both bounds", start: &start, end: &end, want: 2},
		{name: "open start", start: nil, end: &end, want: 1},
		{name: "open end", start: &start, end: nil, want: 1},
		{name: "fully open", start: nil, end: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clauses := timeWindowClauses(nil, tt.start, tt.end)
			if len(clauses) != tt.want {
				t.Fatalf("got %d clauses, want %d", len(clauses), tt.want)
			}
			for _, c := range clauses {
				if c.Field != "createdDateTime" {
					t.Errorf("clause field = %q, want createdDateTime", c.Field)
				}
			}
		})
	}
}
