package filter

import (
	"context"
	"testing"

	"sjsage522/gridharvester/internal/surface/surfacetest"
	apperrors "sjsage522/gridharvester/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	state     = Dimension{Name: "state", Control: "#" + surfacetest.FilterID}
	freelance = Dimension{Name: "freelance", Control: "#" + surfacetest.FixedID, Fixed: "1"}
)

func TestParseOptions(t *testing.T) {
	html := `<select name="s">
		<option value="">-- Select a State --</option>
		<option value="AL">Alabama</option>
		<option value="  ">blank</option>
		<option value="AK"> Alaska </option>
	</select>`

	values, err := ParseOptions(html)
	require.NoError(t, err)
	assert.Equal(t, []Value{{Label: "Alabama", Value: "AL"}, {Label: "Alaska", Value: "AK"}}, values)
}

func TestCrossProduct(t *testing.T) {
	cert := Dimension{Name: "cert", Control: "#cert"}
	combos := CrossProduct(
		[]Dimension{state, cert},
		[][]Value{
			{{Label: "Alabama", Value: "AL"}, {Label: "Alaska", Value: "AK"}},
			{{Label: "NIC", Value: "1"}, {Label: "CDI", Value: "2"}, {Label: "SC:L", Value: "3"}},
		},
	)

	require.Len(t, combos, 6)
	keys := make([]string, 0, len(combos))
	for _, c := range combos {
		keys = append(keys, c.Key())
	}
	assert.Equal(t, []string{
		"state=AL,cert=1", "state=AL,cert=2", "state=AL,cert=3",
		"state=AK,cert=1", "state=AK,cert=2", "state=AK,cert=3",
	}, keys)
	assert.Equal(t, "Alaska / SC:L", combos[5].Label())
	assert.Equal(t, map[string]string{"state": "AK", "cert": "3"}, combos[5].Values())
}

func TestCrossProductEmptyDimension(t *testing.T) {
	combos := CrossProduct([]Dimension{state}, [][]Value{{}})
	assert.Empty(t, combos)
}

func TestEnumerate(t *testing.T) {
	doc := surfacetest.New([]surfacetest.Option{
		{Label: "Alabama", Value: "AL"},
		{Label: "Alaska", Value: "AK"},
		{Label: "Arizona", Value: "AZ"},
	}, nil)

	it := NewIterator(doc, []Dimension{state, freelance})
	combos, err := it.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, combos, 3)

	assert.Equal(t, "Alabama", combos[0].Label())
	assert.Equal(t, "state=AL", combos[0].Key())
	assert.Equal(t, "state=AZ", combos[2].Key())
}

func TestEnumerateEmptyControl(t *testing.T) {
	doc := surfacetest.New(nil, nil)

	_, err := NewIterator(doc, []Dimension{state}).Enumerate(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeFilterEnumeration))
	assert.True(t, apperrors.IsFatal(err))
}

func TestEnumerateMissingControl(t *testing.T) {
	doc := surfacetest.New([]surfacetest.Option{{Label: "Alabama", Value: "AL"}}, nil)

	_, err := NewIterator(doc, []Dimension{{Name: "x", Control: "#missing"}}).Enumerate(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeFilterEnumeration))
}

func TestEnumerateMissingFixedControl(t *testing.T) {
	doc := surfacetest.New([]surfacetest.Option{{Label: "Alabama", Value: "AL"}}, nil)
	missing := Dimension{Name: "freelance", Control: "#missing", Fixed: "1"}

	_, err := NewIterator(doc, []Dimension{state, missing}).Enumerate(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeFilterEnumeration))
	assert.True(t, apperrors.IsFatal(err))
	assert.Empty(t, doc.Clicks())
}

func TestEnumerateFixedValueNotOffered(t *testing.T) {
	doc := surfacetest.New([]surfacetest.Option{{Label: "Alabama", Value: "AL"}}, nil)
	unknown := Dimension{Name: "freelance", Control: "#" + surfacetest.FixedID, Fixed: "7"}

	_, err := NewIterator(doc, []Dimension{state, unknown}).Enumerate(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrorTypeConfiguration))
	assert.True(t, apperrors.IsFatal(err))
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	doc := surfacetest.New([]surfacetest.Option{{Label: "Alabama", Value: "AL"}}, nil)
	it := NewIterator(doc, []Dimension{state, freelance})

	combos, err := it.Enumerate(ctx)
	require.NoError(t, err)
	require.NoError(t, it.Apply(ctx, combos[0]))

	html, err := doc.Content(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `<option value="AL" selected="selected">`)
	assert.Contains(t, html, `<option value="1" selected="selected">`)

	bad := Combination{{Dimension: state, Value: Value{Label: "Nowhere", Value: "XX"}}}
	assert.Error(t, it.Apply(ctx, bad))
}
