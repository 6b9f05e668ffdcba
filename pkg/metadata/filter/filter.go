// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package filter implements the boolean filter-expression language used to
// select versions by uid, volume, snapshot, status, date, and label value.
// Expressions are parsed into a typed AST and compiled to a parameterized
// SQL WHERE clause — never evaluated against a row in Go and never built by
// string concatenation of user input, so the result is immune to injection
// regardless of what a caller's filter string contains.
//
// Grammar (recursive descent, lowest to highest precedence):
//
//	expr       := orExpr
//	orExpr     := andExpr ( "or" andExpr )*
//	andExpr    := notExpr ( "and" notExpr )*
//	notExpr    := "not" notExpr | comparison | "(" expr ")"
//	comparison := field ( "==" | "!=" | "<" | "<=" | ">" | ">=" ) literal
//	field      := "uid" | "volume" | "snapshot" | "status" | "date"
//	            | "labels" "[" string "]"
//	literal    := string | integer | relative-time
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Expr is a parsed, compilable filter expression. The zero value of no
// implementation is valid; construct one via Parse.
type Expr interface {
	compile(b *sqlBuilder) error
}

// sqlBuilder accumulates a WHERE clause fragment and its bind arguments
// while Expr.compile walks the AST.
type sqlBuilder struct {
	sb   strings.Builder
	args []interface{}
}

func (b *sqlBuilder) write(s string) { b.sb.WriteString(s) }

func (b *sqlBuilder) bind(v interface{}) {
	b.args = append(b.args, v)
	b.sb.WriteString("?")
}

// Compile renders expr as a "?"-parameterized SQL predicate (rebind before
// use against a dollar-style dialect) and its positional arguments, in the
// order the placeholders appear.
func Compile(expr Expr) (string, []interface{}, error) {
	if expr == nil {
		return "1=1", nil, nil
	}
	b := &sqlBuilder{}
	if err := expr.compile(b); err != nil {
		return "", nil, err
	}
	return b.sb.String(), b.args, nil
}

type logicalExpr struct {
	op          string // "AND" / "OR"
	left, right Expr
}

func (e *logicalExpr) compile(b *sqlBuilder) error {
	b.write("(")
	if err := e.left.compile(b); err != nil {
		return err
	}
	b.write(" " + e.op + " ")
	if err := e.right.compile(b); err != nil {
		return err
	}
	b.write(")")
	return nil
}

type notExpr struct {
	inner Expr
}

func (e *notExpr) compile(b *sqlBuilder) error {
	b.write("NOT (")
	if err := e.inner.compile(b); err != nil {
		return err
	}
	b.write(")")
	return nil
}

var comparisonColumns = map[string]string{
	"uid":      "versions.uid",
	"volume":   "versions.volume",
	"snapshot": "versions.snapshot",
	"status":   "versions.status",
	"date":     "versions.created_at",
}

type comparisonExpr struct {
	field     string // column field name, or "" when labelName is set
	labelName string
	op        string
	value     interface{}
}

func (e *comparisonExpr) compile(b *sqlBuilder) error {
	sqlOp, ok := sqlOperators[e.op]
	if !ok {
		return fmt.Errorf("filter: unsupported operator %q", e.op)
	}
	if e.labelName != "" {
		b.write("EXISTS (SELECT 1 FROM labels WHERE labels.version_id = versions.id AND labels.name = ")
		b.bind(e.labelName)
		b.write(" AND labels.value " + sqlOp + " ")
		b.bind(fmt.Sprintf("%v", e.value))
		b.write(")")
		return nil
	}
	col, ok := comparisonColumns[e.field]
	if !ok {
		return fmt.Errorf("filter: unknown field %q", e.field)
	}
	b.write(col + " " + sqlOp + " ")
	b.bind(e.value)
	return nil
}

var sqlOperators = map[string]string{
	"==": "=",
	"!=": "!=",
	"<":  "<",
	"<=": "<=",
	">":  ">",
	">=": ">=",
}

// relativeTimeUnits maps the suffix letters a date literal's relative form
// ("-7d", "-3h") accepts to a time.Duration multiplier.
var relativeTimeUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// relativePhraseUnits maps the unit words of an "N <unit> ago" phrase to
// strictly linear durations (month = 30 days, year = 365 days), the same
// convention the retention bucketing uses.
var relativePhraseUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// parseDateLiteral parses an absolute RFC3339 timestamp, a "-<N><unit>"
// shorthand, or a relative phrase like "1 month ago".
func parseDateLiteral(s string, now time.Time) (time.Time, error) {
	if strings.HasPrefix(s, "-") && len(s) >= 3 {
		unit, ok := relativeTimeUnits[s[len(s)-1]]
		if ok {
			n, err := strconv.Atoi(s[1 : len(s)-1])
			if err == nil {
				return now.Add(-time.Duration(n) * unit), nil
			}
		}
	}
	if fields := strings.Fields(s); len(fields) == 3 && fields[2] == "ago" {
		n, err := strconv.Atoi(fields[0])
		unit, ok := relativePhraseUnits[strings.TrimSuffix(strings.ToLower(fields[1]), "s")]
		if err == nil && ok && n >= 0 {
			return now.Add(-time.Duration(n) * unit), nil
		}
		return time.Time{}, fmt.Errorf("filter: invalid relative date literal %q", s)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("filter: invalid date literal %q: %w", s, err)
	}
	return t, nil
}
