package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultPageSize is the number of items shown per choice page.
const DefaultPageSize = 5

// ManualLabel is the caption of the manual-entry escape.
const ManualLabel = "✍️ Ввести вручную"

// Item is one selectable entry of a page. Index points into the full list.
type Item struct {
	Index int
	Label string
	Token string
}

// Page is one rendered window over a reference list.
type Page struct {
	Prefix  string
	Items   []Item
	Page    int // zero-based, normalized
	Pages   int
	HasPrev bool
	HasNext bool
}

// Paginate returns page p of values. Out-of-range pages are clamped into
// [0, pages). An empty list yields one empty page.
func Paginate(values []string, prefix string, p, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	pages := (len(values) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if p < 0 {
		p = 0
	}
	if p >= pages {
		p = pages - 1
	}
	start := p * size
	end := min(start+size, len(values))

	pg := Page{
		Prefix:  prefix,
		Page:    p,
		Pages:   pages,
		HasPrev: p > 0,
		HasNext: end < len(values),
	}
	for i := start; i < end; i++ {
		pg.Items = append(pg.Items, Item{Index: i, Label: values[i], Token: IndexToken(prefix, i)})
	}
	return pg
}

// Choices renders the page as button rows: one item per row, then the
// navigation row, then the manual-entry escape which is always present.
func (p Page) Choices() [][]Choice {
	rows := make([][]Choice, 0, len(p.Items)+2)
	for _, it := range p.Items {
		rows = append(rows, []Choice{{Label: it.Label, Token: it.Token}})
	}
	var nav []Choice
	if p.HasPrev {
		nav = append(nav, Choice{Label: "◀️", Token: PageToken(p.Prefix, p.Page-1)})
	}
	if p.HasPrev || p.HasNext {
		nav = append(nav, Choice{Label: fmt.Sprintf("%d/%d", p.Page+1, p.Pages), Token: NoopToken})
	}
	if p.HasNext {
		nav = append(nav, Choice{Label: "▶️", Token: PageToken(p.Prefix, p.Page+1)})
	}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, []Choice{{Label: ManualLabel, Token: ManualToken(p.Prefix)}})
	return rows
}

// NoopToken marks buttons that carry no action (page counters).
const NoopToken = "noop"

// IndexToken selects item i of the list behind prefix.
func IndexToken(prefix string, i int) string { return prefix + ":idx:" + strconv.Itoa(i) }

// PageToken shows page p of the list behind prefix.
func PageToken(prefix string, p int) string { return prefix + ":page:" + strconv.Itoa(p) }

// ManualToken switches to manual entry.
func ManualToken(prefix string) string { return prefix + ":manual" }

// PagerAction is what a pager token asks for.
type PagerAction int

const (
	PagerNone PagerAction = iota
	PagerPick
	PagerPage
	PagerManual
)

// ParsePagerToken decodes a token produced for prefix. A malformed number
// yields n = -1 with the action still reported so the caller can answer with
// a selection error.
func ParsePagerToken(prefix, token string) (PagerAction, int) {
	rest, ok := strings.CutPrefix(token, prefix+":")
	if !ok {
		return PagerNone, 0
	}
	if rest == "manual" {
		return PagerManual, 0
	}
	kind, num, ok := strings.Cut(rest, ":")
	if !ok {
		return PagerNone, 0
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		n = -1
	}
	switch kind {
	case "idx":
		return PagerPick, n
	case "page":
		if n < 0 {
			n = 0
		}
		return PagerPage, n
	}
	return PagerNone, 0
}
