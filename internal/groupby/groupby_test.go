package groupby

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eda/internal/table"
)

func regions() *table.Table {
	return table.MustNew(
		table.Col("Country", "Switzerland", "Australia", "Iceland", "New Zealand", "Togo", "Chad"),
		table.Col("Region",
			"Western Europe", "Australia and New Zealand", "Western Europe",
			"Australia and New Zealand", "Sub-Saharan Africa", nil),
		table.Col("Happiness Score", 7.5, 7.2, 7.0, nil, 2.8, 3.0),
	)
}

func TestGroupsFirstSeenOrder(t *testing.T) {
	t.Parallel()

	g, err := By(regions(), "Region")
	require.NoError(t, err)
	require.Equal(t, 4, g.Len())

	var keys []any
	for _, gr := range g.Groups() {
		keys = append(keys, gr.Key[0])
	}
	assert.Equal(t, []any{"Western Europe", "Australia and New Zealand", "Sub-Saharan Africa", nil}, keys)

	sorted := g.Sorted().Groups()
	assert.Equal(t, "Australia and New Zealand", sorted[0].Key[0])
	assert.Nil(t, sorted[3].Key[0], "null key sorts last")
}

func TestGetGroup(t *testing.T) {
	t.Parallel()

	g, err := By(regions(), "Region")
	require.NoError(t, err)

	we, err := g.Get("Western Europe")
	require.NoError(t, err)
	c, _ := we.Column("Country")
	assert.Equal(t, []any{"Switzerland", "Iceland"}, c.Values())

	_, err = g.Get("North America")
	assert.True(t, errors.Is(err, table.ErrKeyNotFound))

	_, err = By(regions(), "Continent")
	assert.True(t, errors.Is(err, table.ErrUnknownColumn))
}

// TestSizeSumsToRowCount checks that every row lands in exactly one group.
func TestSizeSumsToRowCount(t *testing.T) {
	t.Parallel()

	tb := regions()
	g, err := By(tb, "Region")
	require.NoError(t, err)

	out, err := Aggregate(g, []string{"Happiness Score"}, Size, Count)
	require.NoError(t, err)

	sizes, err := out.Column("Happiness Score_size")
	require.NoError(t, err)
	counts, err := out.Column("Happiness Score_count")
	require.NoError(t, err)

	var total int64
	for i := 0; i < out.Len(); i++ {
		s := sizes.Value(i).(int64)
		c := counts.Value(i).(int64)
		total += s
		assert.LessOrEqual(t, c, s)
	}
	assert.Equal(t, int64(tb.Len()), total)

	// Australia and New Zealand has one null score.
	assert.Equal(t, int64(2), sizes.Value(1))
	assert.Equal(t, int64(1), counts.Value(1))
}

func TestAggregateBuiltins(t *testing.T) {
	t.Parallel()

	g, err := By(regions(), "Region")
	require.NoError(t, err)

	out, err := Aggregate(g, []string{"Happiness Score"}, Mean)
	require.NoError(t, err)
	assert.Equal(t, []string{"Happiness Score"}, out.Labels())
	assert.Equal(t, []string{"Region"}, out.IndexNames())

	mean, _ := out.Column("Happiness Score")
	assert.InDelta(t, 7.25, mean.Value(0), 1e-9)
	assert.InDelta(t, 7.2, mean.Value(1), 1e-9)

	out, err = Aggregate(g, []string{"Happiness Score"}, Min, Max, Sum)
	require.NoError(t, err)
	assert.Equal(t, []string{"Happiness Score_min", "Happiness Score_max", "Happiness Score_sum"}, out.Labels())

	_, err = Aggregate(g, []string{"Country"}, Mean)
	assert.True(t, errors.Is(err, table.ErrTypeMismatch))
}

func TestAggregateCustomFunc(t *testing.T) {
	t.Parallel()

	g, err := By(regions(), "Region")
	require.NoError(t, err)

	out, err := Aggregate(g, []string{"Happiness Score"}, MaxMinusMean)
	require.NoError(t, err)
	dif, _ := out.Column("Happiness Score")
	assert.InDelta(t, 0.25, dif.Value(0), 1e-9)

	calls := 0
	spy := Custom("spy", func(vals []any) (any, error) {
		calls++
		return int64(len(vals)), nil
	})
	_, err = Aggregate(g, []string{"Happiness Score"}, spy)
	require.NoError(t, err)
	assert.Equal(t, g.Len(), calls)

	f, err := Lookup("MAX_MINUS_MEAN")
	require.NoError(t, err)
	assert.Equal(t, "max_minus_mean", f.Name)
	_, err = Lookup("mode")
	assert.Error(t, err)
}

func TestAggregateByMultipleKeys(t *testing.T) {
	t.Parallel()

	tb := table.MustNew(
		table.Col("Region", "A", "A", "B", "A"),
		table.Col("Year", 2015, 2016, 2015, 2015),
		table.Col("Score", 1.0, 2.0, 3.0, 5.0),
	)
	g, err := By(tb, "Region", "Year")
	require.NoError(t, err)
	out, err := Aggregate(g, nil, Sum)
	require.NoError(t, err)

	assert.Equal(t, []string{"Region", "Year"}, out.IndexNames())
	assert.Equal(t, []any{"A", int64(2015)}, out.RowLabel(0))
	s, _ := out.Column("Score")
	assert.Equal(t, []any{6.0, 2.0, 3.0}, s.Values())
}

func TestValueCounts(t *testing.T) {
	t.Parallel()

	c := table.Col("Region", "WE", "ANZ", "WE", nil, "SSA", "WE")
	out, err := ValueCounts(c, CountOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"WE"}, out.RowLabel(0))
	n, _ := out.Column("count")
	assert.Equal(t, []any{int64(3), int64(1), int64(1)}, n.Values())

	out, err = ValueCounts(c, CountOptions{Normalize: true, KeepNA: true})
	require.NoError(t, err)
	p, _ := out.Column("proportion")
	assert.InDelta(t, 0.5, p.Value(0), 1e-9)
	assert.Equal(t, 4, out.Len())
}
