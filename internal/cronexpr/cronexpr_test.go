package cronexpr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestParse_FieldCount(t *testing.T) {
	_, err := Parse("0 0 12 * * ?")
	assert.NoError(t, err)

	_, err = Parse("0 0 12 * * ? 2026")
	assert.NoError(t, err)

	_, err = Parse("0 12 * * ?")
	assert.Error(t, err)

	_, err = Parse("0 0 12 * * ? 2026 extra")
	assert.Error(t, err)
}

func TestParse_DomAndDowBothSpecified(t *testing.T) {
	_, err := Parse("0 0 12 15 * MON")
	assert.Error(t, err)
}

func TestParse_InvalidValues(t *testing.T) {
	for _, expr := range []string{
		"60 * * * * ?",
		"* 60 * * * ?",
		"* * 24 * * ?",
		"* * * 32 * ?",
		"* * * * 13 ?",
		"* * * ? * 8",
		"* * * ? * MON#6",
		"* * * 5-2 * ?",
		"* * * */0 * ?",
	} {
		_, err := Parse(expr)
		assert.Error(t, err, expr)
	}
}

func TestNext_EveryFiveSeconds(t *testing.T) {
	e := MustParse("*/5 * * * * ?")
	from := time.Date(2026, 3, 10, 9, 0, 1, 0, time.UTC)

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 0, 5, 0, time.UTC), next)
}

func TestNext_IsStrictlyAfter(t *testing.T) {
	e := MustParse("0 * * * * ?")
	from := time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC)

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 10, 9, 6, 0, 0, time.UTC), next)
}

func TestNext_DailyAtNoon(t *testing.T) {
	e := MustParse("0 0 12 * * ?")
	from := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), next)
}

func TestNext_NameAliases(t *testing.T) {
	// Second Friday of June.
	e := MustParse("0 30 8 ? JUN FRI#2")
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 6, 12, 8, 30, 0, 0, time.UTC), next)
	assert.Equal(t, time.Friday, next.Weekday())
}

func TestNext_LastDayOfMonth(t *testing.T) {
	e := MustParse("0 0 0 L * ?")
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), next)

	// Leap year.
	next, ok = e.Next(time.Date(2028, 2, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC), next)
}

func TestNext_LastDayOffset(t *testing.T) {
	e := MustParse("0 0 0 L-3 * ?")
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC), next)
}

func TestNext_NearestWeekday(t *testing.T) {
	// 15W in August 2026: the 15th is a Saturday, nearest weekday is Friday
	// the 14th.
	e := MustParse("0 0 9 15W * ?")
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 8, 14, 9, 0, 0, 0, time.UTC), next)
}

func TestNext_NearestWeekdayDoesNotCrossMonth(t *testing.T) {
	// 1W in March 2026: the 1st is a Sunday; the nearest weekday within the
	// month is Monday the 2nd.
	e := MustParse("0 0 9 1W * ?")
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestNext_LastFridayOfMonth(t *testing.T) {
	e := MustParse("0 0 17 ? * 6L")
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 5, 29, 17, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Friday, next.Weekday())
}

func TestNext_BareLInDayOfWeekMeansSaturday(t *testing.T) {
	e := MustParse("0 0 12 ? * L")
	from := time.Date(2026, 4, 3, 0, 0, 0, 0, time.UTC) // Friday

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 4, 4, 12, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Saturday, next.Weekday())

	next, ok = e.Next(next)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 4, 11, 12, 0, 0, 0, time.UTC), next)
}

func TestNext_YearField(t *testing.T) {
	e := MustParse("0 0 0 1 1 ? 2030")
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), next)

	// Exhausted once the year is behind us.
	_, ok = e.Next(next)
	assert.False(t, ok)
}

func TestNext_Timezone(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	e, err := ParseInLocation("0 0 3 * * ?", ny)
	require.NoError(t, err)

	from := time.Date(2026, 1, 2, 7, 0, 0, 0, time.UTC) // 02:00 in New York
	next, ok := e.Next(from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC), next.UTC())
}

func TestNext_DSTSpringForward(t *testing.T) {
	// 2:30 AM does not exist on 2026-03-08 in New York; the schedule must
	// move on rather than loop.
	ny := mustLoc(t, "America/New_York")
	e, err := ParseInLocation("0 30 2 * * ?", ny)
	require.NoError(t, err)

	from := time.Date(2026, 3, 8, 0, 0, 0, 0, ny)
	next, ok := e.Next(from)
	require.True(t, ok)
	assert.True(t, next.After(from))
}

func TestIsSatisfiedBy(t *testing.T) {
	e := MustParse("0 15 10 ? * MON-FRI")

	assert.True(t, e.IsSatisfiedBy(time.Date(2026, 3, 9, 10, 15, 0, 0, time.UTC)))   // Monday
	assert.False(t, e.IsSatisfiedBy(time.Date(2026, 3, 8, 10, 15, 0, 0, time.UTC)))  // Sunday
	assert.False(t, e.IsSatisfiedBy(time.Date(2026, 3, 9, 10, 16, 0, 0, time.UTC)))
}

func TestNext_ListsAndRanges(t *testing.T) {
	e := MustParse("0 0 8,12,16-18 * * ?")
	from := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

	var got []int
	cursor := from
	for i := 0; i < 4; i++ {
		next, ok := e.Next(cursor)
		require.True(t, ok)
		got = append(got, next.Hour())
		cursor = next
	}
	assert.Equal(t, []int{16, 17, 18, 8}, got)
}
