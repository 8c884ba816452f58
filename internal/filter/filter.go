// Package filter enumerates the search filter values offered by the page and
// applies combinations of them.
package filter

import (
	"context"
	"fmt"
	"strings"

	"sjsage522/gridharvester/internal/surface"
	apperrors "sjsage522/gridharvester/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

// Value is one selectable option of a filter control.
type Value struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Dimension is one filter control. A dimension with Fixed set is not
// enumerated; Fixed is selected on every combination instead.
type Dimension struct {
	Name    string
	Control string // CSS selector of the <select>
	Fixed   string
}

// Choice is the value picked for one dimension.
type Choice struct {
	Dimension Dimension
	Value     Value
}

// Combination is one entry of the cross product, in dimension order.
type Combination []Choice

// Label returns a human readable name such as "Alabama" or "Alabama / Deaf".
func (c Combination) Label() string {
	parts := make([]string, 0, len(c))
	for _, ch := range c {
		parts = append(parts, ch.Value.Label)
	}
	return strings.Join(parts, " / ")
}

// Key returns a stable identifier such as "state=AL,certification=NIC".
func (c Combination) Key() string {
	parts := make([]string, 0, len(c))
	for _, ch := range c {
		parts = append(parts, ch.Dimension.Name+"="+ch.Value.Value)
	}
	return strings.Join(parts, ",")
}

// Values returns the selected value per dimension name.
func (c Combination) Values() map[string]string {
	m := make(map[string]string, len(c))
	for _, ch := range c {
		m[ch.Dimension.Name] = ch.Value.Value
	}
	return m
}

// ParseOptions returns the options of the first <select> in html, in document
// order, skipping placeholders whose value is empty.
func ParseOptions(html string) ([]Value, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, apperrors.NewParsing("options", "failed to parse filter control", err)
	}

	values := make([]Value, 0)
	doc.Find("select").First().Find("option").Each(func(_ int, s *goquery.Selection) {
		v, ok := s.Attr("value")
		if !ok {
			v = s.Text()
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return
		}
		values = append(values, Value{
			Label: strings.Join(strings.Fields(s.Text()), " "),
			Value: v,
		})
	})
	return values, nil
}

// CrossProduct combines the value sets of dims. The first dimension varies
// slowest. A dimension with no values yields no combinations.
func CrossProduct(dims []Dimension, values [][]Value) []Combination {
	if len(dims) == 0 {
		return nil
	}
	combos := []Combination{{}}
	for i, dim := range dims {
		next := make([]Combination, 0, len(combos)*len(values[i]))
		for _, prefix := range combos {
			for _, v := range values[i] {
				combo := make(Combination, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				next = append(next, append(combo, Choice{Dimension: dim, Value: v}))
			}
		}
		combos = next
	}
	return combos
}

// Iterator enumerates and applies filter combinations on a surface.
type Iterator struct {
	surface surface.Surface
	dims    []Dimension
}

// NewIterator creates an Iterator over dims. Dimensions with Fixed set are
// applied on every combination but never enumerated.
func NewIterator(s surface.Surface, dims []Dimension) *Iterator {
	return &Iterator{surface: s, dims: dims}
}

// Enumerate reads each enumerated dimension's control once and returns every
// combination of their values. The control of a fixed dimension must exist
// and offer the fixed value.
func (it *Iterator) Enumerate(ctx context.Context) ([]Combination, error) {
	var dims []Dimension
	var values [][]Value
	for _, dim := range it.dims {
		vals, err := it.options(ctx, dim.Control)
		if err != nil {
			return nil, err
		}
		if dim.Fixed != "" {
			if !offers(vals, dim.Fixed) {
				return nil, apperrors.NewConfiguration(
					fmt.Sprintf("filter %s does not offer fixed value %q", dim.Name, dim.Fixed), nil)
			}
			continue
		}
		dims = append(dims, dim)
		values = append(values, vals)
	}
	if len(dims) == 0 {
		return nil, apperrors.NewFilterEnumerationEmpty("no enumerated filter dimension")
	}
	return CrossProduct(dims, values), nil
}

// options reads the values offered by the control matched by selector.
func (it *Iterator) options(ctx context.Context, selector string) ([]Value, error) {
	el, err := surface.First(ctx, it.surface, selector)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, apperrors.NewFilterEnumerationEmpty(selector)
	}
	html, err := el.HTML(ctx)
	if err != nil {
		return nil, err
	}
	vals, err := ParseOptions(html)
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, apperrors.NewFilterEnumerationEmpty(selector)
	}
	return vals, nil
}

func offers(vals []Value, value string) bool {
	for _, v := range vals {
		if v.Value == value {
			return true
		}
	}
	return false
}

// Apply selects every fixed value and then every choice of combo.
func (it *Iterator) Apply(ctx context.Context, combo Combination) error {
	for _, dim := range it.dims {
		if dim.Fixed == "" {
			continue
		}
		if err := it.surface.Select(ctx, dim.Control, dim.Fixed); err != nil {
			return err
		}
	}
	for _, ch := range combo {
		if err := it.surface.Select(ctx, ch.Dimension.Control, ch.Value.Value); err != nil {
			return err
		}
	}
	return nil
}
