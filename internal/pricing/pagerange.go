package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidPageRange is matched by every page range resolution failure.
var ErrInvalidPageRange = errors.New("page range: invalid expression")

// RangeError describes why a page range expression was rejected.
type RangeError struct {
	Expression string
	Token      string
	Reason     string
}

func (e *RangeError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("page range %q: %s", e.Expression, e.Reason)
	}
	return fmt.Sprintf("page range %q: token %q %s", e.Expression, e.Token, e.Reason)
}

func (e *RangeError) Unwrap() error {
	return ErrInvalidPageRange
}

// PageSet is a set of 1-based page numbers held as sorted, disjoint, non-adjacent spans. The
// zero value is the unrestricted set, meaning no custom selection was given.
type PageSet struct {
	spans    []pageSpan
	explicit bool
}

type pageSpan struct {
	first, last int
}

// NewPageSet builds an explicit set from page numbers.
func NewPageSet(pages ...int) PageSet {
	spans := make([]pageSpan, 0, len(pages))
	for _, p := range pages {
		spans = append(spans, pageSpan{first: p, last: p})
	}
	return PageSet{spans: mergeSpans(spans), explicit: true}
}

// mergeSpans sorts spans in place and coalesces overlapping or touching ones.
func mergeSpans(spans []pageSpan) []pageSpan {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].first < spans[j].first })
	merged := spans[:1]
	for _, span := range spans[1:] {
		tail := &merged[len(merged)-1]
		if span.first <= tail.last+1 {
			if span.last > tail.last {
				tail.last = span.last
			}
			continue
		}
		merged = append(merged, span)
	}
	return merged
}

// Unrestricted reports whether the set carries no explicit selection.
func (s PageSet) Unrestricted() bool {
	return !s.explicit
}

// Len returns the number of explicit pages. Unrestricted sets report zero.
func (s PageSet) Len() int {
	n := 0
	for _, span := range s.spans {
		n += span.last - span.first + 1
	}
	return n
}

// Contains reports whether page is explicitly selected.
func (s PageSet) Contains(page int) bool {
	i := sort.Search(len(s.spans), func(i int) bool { return s.spans[i].last >= page })
	return i < len(s.spans) && s.spans[i].first <= page
}

// Pages returns the explicit pages in ascending order.
func (s PageSet) Pages() []int {
	out := make([]int, 0, s.Len())
	for _, span := range s.spans {
		for p := span.first; p <= span.last; p++ {
			out = append(out, p)
		}
	}
	return out
}

// Union merges two sets. An unrestricted operand is ignored.
func (s PageSet) Union(other PageSet) PageSet {
	if s.Unrestricted() && other.Unrestricted() {
		return PageSet{}
	}
	spans := make([]pageSpan, 0, len(s.spans)+len(other.spans))
	spans = append(spans, s.spans...)
	spans = append(spans, other.spans...)
	return PageSet{spans: mergeSpans(spans), explicit: true}
}

// String renders the set in compressed form, for example "1-3,5".
func (s PageSet) String() string {
	parts := make([]string, 0, len(s.spans))
	for _, span := range s.spans {
		if span.first == span.last {
			parts = append(parts, strconv.Itoa(span.first))
		} else {
			parts = append(parts, strconv.Itoa(span.first)+"-"+strconv.Itoa(span.last))
		}
	}
	return strings.Join(parts, ",")
}

// Resolve parses a comma separated list of page numbers and inclusive ranges into a page set.
// An empty expression yields the unrestricted set rather than an empty one.
func Resolve(expression string, maxPage int) (PageSet, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return PageSet{}, nil
	}
	if maxPage < 1 {
		return PageSet{}, &RangeError{Expression: expression, Reason: "document has no countable pages"}
	}

	var spans []pageSpan
	for _, raw := range strings.Split(trimmed, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			return PageSet{}, &RangeError{Expression: expression, Reason: "contains an empty entry"}
		}
		start, end, err := parseToken(token)
		if err != nil {
			return PageSet{}, &RangeError{Expression: expression, Token: token, Reason: err.Error()}
		}
		if start > end {
			return PageSet{}, &RangeError{Expression: expression, Token: token, Reason: "starts after it ends"}
		}
		if start < 1 || end > maxPage {
			return PageSet{}, &RangeError{
				Expression: expression,
				Token:      token,
				Reason:     fmt.Sprintf("is outside pages 1-%d", maxPage),
			}
		}
		spans = append(spans, pageSpan{first: start, last: end})
	}
	return PageSet{spans: mergeSpans(spans), explicit: true}, nil
}

func parseToken(token string) (int, int, error) {
	if strings.HasPrefix(token, "-") {
		return 0, 0, errors.New("is not a page number")
	}
	left, right, isRange := strings.Cut(token, "-")
	start, err := parsePage(left)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return start, start, nil
	}
	end, err := parsePage(right)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parsePage(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("is missing a page number")
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, errors.New("is not a page number")
		}
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New("is too large")
	}
	return n, nil
}

// CheckOverlap returns the pages claimed by both sets. The boolean is false when nothing overlaps.
func CheckOverlap(a, b PageSet) (PageSet, bool) {
	if a.Unrestricted() || b.Unrestricted() {
		return PageSet{}, false
	}
	var shared []pageSpan
	for i, j := 0, 0; i < len(a.spans) && j < len(b.spans); {
		first := max(a.spans[i].first, b.spans[j].first)
		last := min(a.spans[i].last, b.spans[j].last)
		if first <= last {
			shared = append(shared, pageSpan{first: first, last: last})
		}
		if a.spans[i].last < b.spans[j].last {
			i++
		} else {
			j++
		}
	}
	if len(shared) == 0 {
		return PageSet{}, false
	}
	return PageSet{spans: shared, explicit: true}, true
}
