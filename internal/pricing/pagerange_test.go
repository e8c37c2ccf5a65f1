package pricing

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		maxPage int
		want    []int
	}{
		{name: "single pages and range", expr: "1-3,5", maxPage: 5, want: []int{1, 2, 3, 5}},
		{name: "whitespace around tokens", expr: " 2 , 4 - 5 ", maxPage: 5, want: []int{2, 4, 5}},
		{name: "duplicates collapse", expr: "1,1,1-2,2", maxPage: 3, want: []int{1, 2}},
		{name: "degenerate range", expr: "3-3", maxPage: 3, want: []int{3}},
		{name: "upper bound inclusive", expr: "10", maxPage: 10, want: []int{10}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			set, err := Resolve(tc.expr, tc.maxPage)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tc.expr, err)
			}
			if set.Unrestricted() {
				t.Fatalf("expected explicit set for %q", tc.expr)
			}
			if got := set.Pages(); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Resolve(%q) = %v, want %v", tc.expr, got, tc.want)
			}
			for _, p := range set.Pages() {
				if p < 1 || p > tc.maxPage {
					t.Fatalf("page %d outside [1,%d]", p, tc.maxPage)
				}
			}
		})
	}
}

func TestResolveEmptyIsUnrestricted(t *testing.T) {
	for _, expr := range []string{"", "   ", "\t"} {
		set, err := Resolve(expr, 5)
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", expr, err)
		}
		if !set.Unrestricted() {
			t.Fatalf("expected %q to resolve to the unrestricted set", expr)
		}
		if set.Len() != 0 {
			t.Fatalf("unrestricted set should not list pages, got %v", set.Pages())
		}
	}

	explicit := NewPageSet()
	if explicit.Unrestricted() {
		t.Fatalf("an explicit empty set must differ from the unrestricted set")
	}
}

func TestResolveRejectsInvalidExpressions(t *testing.T) {
	tests := []struct {
		expr    string
		maxPage int
	}{
		{expr: "2-1", maxPage: 5},
		{expr: "6", maxPage: 5},
		{expr: "0", maxPage: 5},
		{expr: "a", maxPage: 5},
		{expr: "1,,2", maxPage: 5},
		{expr: "1-", maxPage: 5},
		{expr: "-2", maxPage: 5},
		{expr: "1-2-3", maxPage: 5},
		{expr: "3-7", maxPage: 5},
		{expr: "1.5", maxPage: 5},
		{expr: "1", maxPage: 0},
		{expr: "99999999999999999999", maxPage: 5},
	}

	for _, tc := range tests {
		_, err := Resolve(tc.expr, tc.maxPage)
		if err == nil {
			t.Fatalf("Resolve(%q, %d) expected error", tc.expr, tc.maxPage)
		}
		if !errors.Is(err, ErrInvalidPageRange) {
			t.Fatalf("Resolve(%q) error %v should match ErrInvalidPageRange", tc.expr, err)
		}
		var rangeErr *RangeError
		if !errors.As(err, &rangeErr) {
			t.Fatalf("expected *RangeError, got %T", err)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	first, err := Resolve("5,1-2,4", 6)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	second, err := Resolve("5,1-2,4", 6)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !reflect.DeepEqual(first.Pages(), second.Pages()) {
		t.Fatalf("repeated resolution differs: %v vs %v", first.Pages(), second.Pages())
	}
	if first.String() != "1-2,4-5" {
		t.Fatalf("unexpected canonical form %q", first.String())
	}
}

func TestCheckOverlap(t *testing.T) {
	shared, ok := CheckOverlap(NewPageSet(1, 2, 3), NewPageSet(3, 4))
	if !ok {
		t.Fatalf("expected overlap")
	}
	if got := shared.Pages(); !reflect.DeepEqual(got, []int{3}) {
		t.Fatalf("overlap = %v, want [3]", got)
	}

	if _, ok := CheckOverlap(NewPageSet(1, 2), NewPageSet(3, 4)); ok {
		t.Fatalf("expected no overlap")
	}

	if _, ok := CheckOverlap(PageSet{}, NewPageSet(1)); ok {
		t.Fatalf("unrestricted sets carry no claim and never overlap")
	}
}

func TestResolveWideRangesStayCompact(t *testing.T) {
	const maxPage = 2_000_000_000
	bw, err := Resolve("1-1500000000", maxPage)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	color, err := Resolve("1000000000-2000000000,7", maxPage)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if bw.Len() != 1_500_000_000 {
		t.Fatalf("unexpected length %d", bw.Len())
	}
	if !bw.Contains(1_499_999_999) || bw.Contains(1_500_000_001) {
		t.Fatalf("membership wrong for %s", bw)
	}
	if got := bw.Union(color).String(); got != "1-2000000000" {
		t.Fatalf("unexpected union %q", got)
	}
	shared, ok := CheckOverlap(bw, color)
	if !ok || shared.String() != "7,1000000000-1500000000" {
		t.Fatalf("unexpected overlap %q ok=%v", shared.String(), ok)
	}
}

func TestPageSetMergesAdjacentSpans(t *testing.T) {
	set, err := Resolve("4-6,1-3,9,8", 10)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if set.String() != "1-6,8-9" || set.Len() != 8 {
		t.Fatalf("unexpected set %q len=%d", set.String(), set.Len())
	}
}
