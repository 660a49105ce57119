package table

import (
	"errors"
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func happiness() *Table {
	return MustNew(
		Col("Country", "Switzerland", "Iceland", "Denmark", "Togo"),
		Col("Region", "Western Europe", "Western Europe", "Western Europe", "Sub-Saharan Africa"),
		Col("Happiness Score", 7.587, 7.561, 7.527, nil),
		Col("Year", 2015, 2015, 2015, 2015),
	)
}

func TestNewRejectsUnequalColumns(t *testing.T) {
	t.Parallel()

	_, err := New(Col("a", 1, 2), Col("b", 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestKindInference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		vals []any
		want Kind
	}{
		{name: "ints", vals: []any{1, int64(2), nil}, want: Int},
		{name: "int_float_widens", vals: []any{1, 2.5}, want: Float},
		{name: "text", vals: []any{"a", nil}, want: Text},
		{name: "bool", vals: []any{true, false}, want: Bool},
		{name: "mixed", vals: []any{"a", 1}, want: Any},
		{name: "all_null", vals: []any{nil, nil}, want: Any},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := NewColumn("x", tc.vals)
			assert.Equal(t, tc.want, c.Kind())
		})
	}

	c := Col("x", 1, 2.5)
	assert.Equal(t, float64(1), c.Value(0), "ints are widened in a float column")
}

func TestColumnLookupErrors(t *testing.T) {
	t.Parallel()

	tb := happiness()
	_, err := tb.Column("Score")
	assert.True(t, errors.Is(err, ErrUnknownColumn))

	dup := MustNew(Col("Year", 2015), Col("Year", 2016))
	_, err = dup.Column("Year")
	assert.True(t, errors.Is(err, ErrAmbiguousKey))

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "Year", te.Label)
}

func TestSelectDropAssignDoNotMutateInput(t *testing.T) {
	t.Parallel()

	tb := happiness()
	sel, err := tb.Select("Year", "Country")
	require.NoError(t, err)
	assert.Equal(t, []string{"Year", "Country"}, sel.Labels())

	dropped, err := tb.Drop("Region")
	require.NoError(t, err)
	assert.Equal(t, []string{"Country", "Happiness Score", "Year"}, dropped.Labels())

	_, err = tb.Drop("Nope")
	assert.True(t, errors.Is(err, ErrUnknownColumn))

	withYear, err := tb.Assign("Year", 2016)
	require.NoError(t, err)
	y, _ := withYear.Column("Year")
	assert.Equal(t, int64(2016), y.Value(3))

	orig, _ := tb.Column("Year")
	assert.Equal(t, int64(2015), orig.Value(3))
	assert.Equal(t, 4, tb.NumColumns())
}

func TestSetIndexResetIndexRoundTrip(t *testing.T) {
	t.Parallel()

	tb := happiness()
	idx, err := tb.SetIndex("Country")
	require.NoError(t, err)
	assert.Equal(t, []string{"Country"}, idx.IndexNames())
	assert.False(t, idx.Has("Country"))
	assert.Equal(t, []any{"Iceland"}, idx.RowLabel(1))

	back := idx.ResetIndex()
	assert.Equal(t, tb.Labels()[0], back.Labels()[0])
	assert.True(t, back.IsPositional())
}

func TestFilterKeepsPositionalLabels(t *testing.T) {
	t.Parallel()

	tb := happiness()
	m, err := Mask(tb.ColumnAt(0), Ne, "Iceland")
	require.NoError(t, err)
	out, err := tb.Filter(m)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())
	assert.Equal(t, []any{int64(2)}, out.RowLabel(1))
}

func TestSortNullsLast(t *testing.T) {
	t.Parallel()

	tb := happiness()
	out, err := tb.Sort(SortKey{Label: "Happiness Score"})
	require.NoError(t, err)
	c, _ := out.Column("Country")
	assert.Equal(t, []any{"Denmark", "Iceland", "Switzerland", "Togo"}, c.Values())

	out, err = tb.Sort(SortKey{Label: "Happiness Score", Descending: true})
	require.NoError(t, err)
	c, _ = out.Column("Country")
	assert.Equal(t, []any{"Switzerland", "Iceland", "Denmark", "Togo"}, c.Values())
}

func TestArithPropagatesNull(t *testing.T) {
	t.Parallel()

	a := Col("a", 1, 2, nil)
	b := Col("b", 10, nil, 30)
	sum, err := Arith("s", a, OpAdd, b)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(11), nil, nil}, sum.Values())
	assert.Equal(t, Int, sum.Kind())

	div, err := Arith("d", a, OpDiv, b)
	require.NoError(t, err)
	assert.Equal(t, Float, div.Kind())
	assert.InDelta(t, 0.1, div.Value(0), 1e-12)

	_, err = Arith("x", Col("t", "a"), OpMul, Col("n", 1))
	assert.True(t, errors.Is(err, ErrTypeMismatch))
}

func TestDivideByZero(t *testing.T) {
	t.Parallel()

	q, err := Arith("q", Col("a", 3, -2, 0, 0.5), OpDiv, Col("b", 0, 0, 0, 0.0))
	require.NoError(t, err)
	assert.True(t, math.IsInf(q.Value(0).(float64), 1))
	assert.True(t, math.IsInf(q.Value(1).(float64), -1))
	assert.Nil(t, q.Value(2))
	assert.True(t, math.IsInf(q.Value(3).(float64), 1))
}

func TestMaskOrderingNeedsComparableKinds(t *testing.T) {
	t.Parallel()

	_, err := Mask(Col("Country", "Denmark", "Togo"), Gt, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTypeMismatch))
	assert.Contains(t, err.Error(), "Country")

	m, err := Mask(Col("Country", "Denmark", "Togo"), Gt, "Iceland")
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, m)

	m, err = Mask(Col("Score", 7, 3.5, nil), Ge, 4)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, m)

	m, err = Mask(Col("Country", "Denmark", nil), Ne, 5)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, m)

	_, err = Mask(Col("Score", 1), CmpOp("~"), 1)
	assert.Error(t, err)
}

func TestRowSumAndRound(t *testing.T) {
	t.Parallel()

	s, err := RowSum("total", Col("a", 0.5, nil), Col("b", 1.25, nil))
	require.NoError(t, err)
	assert.Equal(t, []any{1.75, 0.0}, s.Values())

	r, err := Round(Col("x", 1.2345, nil), 2)
	require.NoError(t, err)
	assert.Equal(t, []any{1.23, nil}, r.Values())
}

func TestMasks(t *testing.T) {
	t.Parallel()

	c := Col("Region", "Western Europe", nil, "Eastern Asia")
	m, err := MatchMask(c, regexp.MustCompile("Europe"), false)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, m)

	assert.Equal(t, []bool{false, true, false}, NullMask(c))
	assert.Equal(t, []bool{false, false, true}, InMask(c, "Eastern Asia"))
	assert.Equal(t, []bool{true, true, false}, Or(m, NullMask(c)))
}

func TestKeyCanonicalization(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Key(int64(1)), Key(1.0))
	assert.NotEqual(t, Key("1"), Key(int64(1)))
	assert.NotEqual(t, Key(nil), Key(""))
	assert.NotEqual(t, Key("a", "bc"), Key("ab", "c"))
}

func TestStringRendersNullAsNaN(t *testing.T) {
	t.Parallel()

	out := happiness().Head(4).String()
	assert.True(t, strings.Contains(out, "NaN"))
	assert.True(t, strings.HasPrefix(out, "Country"))
}
