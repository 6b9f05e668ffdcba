// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package retention implements the generational retention policy: a
// rule set like "latest3,days7,weeks4,months6" partitions a volume's
// versions into time buckets and keeps only the oldest version of each
// occupied bucket, dismissing the rest. The bucketing follows the
// timegaps/timefilter approach of strictly linear time units.
package retention

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// category is a retention bucket, ordered from finest to coarsest grain.
// "latest" is handled separately: it is a head-of-list count, not a
// time-delta bucket.
type category string

const (
	categoryLatest category = "latest"
	categoryHours  category = "hours"
	categoryDays   category = "days"
	categoryWeeks  category = "weeks"
	categoryMonths category = "months"
	categoryYears  category = "years"
)

// orderedCategories is the fixed evaluation order: the first category a
// version's age satisfies wins, regardless of the order rules were given in
// the policy string.
var orderedCategories = []category{categoryHours, categoryDays, categoryWeeks, categoryMonths, categoryYears}

var ruleToken = regexp.MustCompile(`^([a-z]+)([0-9]+)$`)

// Policy is a parsed retention rule set, mapping each configured category to
// its count.
type Policy struct {
	counts map[category]int
	order  []category // categories present, in orderedCategories order (latest excluded)
}

// ParsePolicy parses a comma-separated rule spec such as
// "latest3,hours24,days7,weeks4,months6,years2". Each category may appear at
// most once, with a positive integer count.
func ParsePolicy(spec string) (Policy, error) {
	tokens := splitNonEmpty(spec, ',')
	if len(tokens) == 0 {
		return Policy{}, fmt.Errorf("retention: empty retention policy")
	}

	counts := make(map[category]int)
	for _, token := range tokens {
		m := ruleToken.FindStringSubmatch(token)
		if m == nil {
			return Policy{}, fmt.Errorf("retention: invalid retention policy element %q", token)
		}
		cat := category(m[1])
		if !validCategory(cat) {
			return Policy{}, fmt.Errorf("retention: time category %q in retention policy is invalid", cat)
		}
		if _, dup := counts[cat]; dup {
			return Policy{}, fmt.Errorf("retention: time category %q listed more than once in retention policy", cat)
		}
		var n int
		if _, err := fmt.Sscanf(m[2], "%d", &n); err != nil {
			return Policy{}, fmt.Errorf("retention: invalid count in %q: %w", token, err)
		}
		if n <= 0 {
			return Policy{}, fmt.Errorf("retention: count of time category %q must be a positive integer", cat)
		}
		counts[cat] = n
	}

	p := Policy{counts: counts}
	for _, cat := range orderedCategories {
		if _, ok := counts[cat]; ok {
			p.order = append(p.order, cat)
		}
	}
	return p, nil
}

func validCategory(c category) bool {
	switch c {
	case categoryLatest, categoryHours, categoryDays, categoryWeeks, categoryMonths, categoryYears:
		return true
	default:
		return false
	}
}

func splitNonEmpty(s string, sep byte) []string {
	var tokens []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			tokens = append(tokens, s[start:i])
			start = i + 1
		}
	}
	tokens = append(tokens, s[start:])
	for _, t := range tokens {
		if t == "" {
			return append(tokens[:0:0], "")
		}
	}
	return tokens
}

// Dated is the minimal shape Filter needs from a candidate version: its
// stable identity and creation timestamp. Callers adapt metadata.Version to
// this interface (or pass it directly if it satisfies it).
type Dated interface {
	RetentionKey() string
	RetentionTime() time.Time
}

// timedelta reproduces _Timedelta: how many whole hours/days/weeks/months/
// years earlier t is than referenceTime, each computed independently by
// integer division (not a summed calendar difference) with time units
// treated as strictly linear (month = 30 days, year = 365 days).
type timedelta struct {
	hours, days, weeks, months, years int64
}

func newTimedelta(t, referenceTime time.Time) (timedelta, error) {
	tt := t.Unix()
	rt := referenceTime.Unix()
	if rt-tt < 0 {
		return timedelta{}, fmt.Errorf("retention: %v isn't earlier than the reference time %v", t, referenceTime)
	}
	return timedelta{
		hours:  rt/3600 - tt/3600,
		days:   rt/86400 - tt/86400,
		weeks:  rt/604800 - tt/604800,
		months: rt/2592000 - tt/2592000,
		years:  rt/31536000 - tt/31536000,
	}, nil
}

func (td timedelta) get(c category) int64 {
	switch c {
	case categoryHours:
		return td.hours
	case categoryDays:
		return td.days
	case categoryWeeks:
		return td.weeks
	case categoryMonths:
		return td.months
	case categoryYears:
		return td.years
	default:
		return -1
	}
}

// Filter returns the subset of versions that the policy dismisses (i.e.
// that are safe to remove), evaluated against referenceTime. versions is
// not modified. The surviving set is versions minus the returned slice.
func Filter[V Dated](policy Policy, versions []V, referenceTime time.Time) []V {
	sorted := append([]V(nil), versions...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RetentionTime().After(sorted[j].RetentionTime())
	})

	if n, ok := policy.counts[categoryLatest]; ok {
		if n >= len(sorted) {
			sorted = nil
		} else {
			sorted = sorted[n:]
		}
	}

	byBucket := make(map[category]map[int64][]V)
	for _, cat := range policy.order {
		byBucket[cat] = make(map[int64][]V)
	}

	var dismissed []V
	for _, v := range sorted {
		td, err := newTimedelta(v.RetentionTime(), referenceTime)
		if err != nil {
			// Err on the safe side: a version whose timestamp can't be
			// related to the reference time is never dismissed.
			continue
		}

		matched := false
		for _, cat := range policy.order {
			count := td.get(cat)
			if count <= int64(policy.counts[cat]) {
				byBucket[cat][count] = append(byBucket[cat][count], v)
				matched = true
				break
			}
		}
		if !matched {
			dismissed = append(dismissed, v)
		}
	}

	for _, cat := range policy.order {
		for _, bucket := range byBucket[cat] {
			// Keep the oldest (last, since sorted is youngest-first) of
			// each occupied bucket, dismiss the rest.
			if len(bucket) > 1 {
				dismissed = append(dismissed, bucket[:len(bucket)-1]...)
			}
		}
	}

	return dismissed
}
