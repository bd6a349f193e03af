package query

import (
	"strings"

	"github.com/roach88/stockroom/internal/inventory"
)

// ColumnAll searches every field of a record.
const ColumnAll = "all"

// Ranges bounds width and length. Nil bounds are open; set bounds are
// inclusive.
type Ranges struct {
	WidthMin  *float64 `json:"widthMin,omitempty" yaml:"widthMin,omitempty"`
	WidthMax  *float64 `json:"widthMax,omitempty" yaml:"widthMax,omitempty"`
	LengthMin *float64 `json:"lengthMin,omitempty" yaml:"lengthMin,omitempty"`
	LengthMax *float64 `json:"lengthMax,omitempty" yaml:"lengthMax,omitempty"`
}

func (r Ranges) match(it *inventory.Item) bool {
	if r.WidthMin != nil && it.Width < *r.WidthMin {
		return false
	}
	if r.WidthMax != nil && it.Width > *r.WidthMax {
		return false
	}
	if r.LengthMin != nil && it.Length < *r.LengthMin {
		return false
	}
	if r.LengthMax != nil && it.Length > *r.LengthMax {
		return false
	}
	return true
}

// FilterSpec selects records.
type FilterSpec struct {
	// Search holds one or more ';'-separated terms; every term must match.
	Search string `json:"search,omitempty" yaml:"search,omitempty"`
	// Column restricts the search to one field; "" or "all" searches all.
	Column string `json:"column,omitempty" yaml:"column,omitempty"`
	// ShowOddLots orders the result by ascending weight, overriding SortSpec.
	ShowOddLots bool   `json:"showOddLots,omitempty" yaml:"showOddLots,omitempty"`
	Ranges      Ranges `json:"ranges,omitempty" yaml:"ranges,omitempty"`
}

// searchTerms splits and folds the search text. An empty result means no
// search constraint.
func searchTerms(f *inventory.Folder, search string) []string {
	var terms []string
	for _, part := range strings.Split(f.Fold(search), ";") {
		if part = strings.TrimSpace(part); part != "" {
			terms = append(terms, part)
		}
	}
	return terms
}

// matcher applies one FilterSpec. It owns a Folder and is used only on
// the engine goroutine.
type matcher struct {
	spec   FilterSpec
	terms  []string
	folder *inventory.Folder
	fields []string
}

func newMatcher(folder *inventory.Folder, spec FilterSpec) *matcher {
	m := &matcher{spec: spec, folder: folder, terms: searchTerms(folder, spec.Search)}
	if spec.Column == "" || spec.Column == ColumnAll {
		m.fields = make([]string, len(inventory.Fields))
		for i, f := range inventory.Fields {
			m.fields[i] = f.Name
		}
	} else {
		m.fields = []string{spec.Column}
	}
	return m
}

func (m *matcher) match(it *inventory.Item) bool {
	if !m.spec.Ranges.match(it) {
		return false
	}
	if len(m.terms) == 0 {
		return true
	}
	values := make([]string, len(m.fields))
	for i, name := range m.fields {
		values[i] = m.folder.Fold(it.Text(name))
	}
	for _, term := range m.terms {
		found := false
		for _, v := range values {
			if strings.Contains(v, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
