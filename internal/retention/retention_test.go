package retention

import (
	"errors"
	"math/rand"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idRange(hi, lo int) []string {
	var ids []string
	for i := hi; i >= lo; i-- {
		ids = append(ids, strconv.Itoa(i))
	}
	return ids
}

func TestPartition_105Versions_Retain100(t *testing.T) {
	split, err := Partition(idRange(105, 1), 100)
	require.NoError(t, err)

	assert.Equal(t, idRange(105, 6), split.Retain)
	assert.Equal(t, []string{"5", "4", "3", "2", "1"}, split.Delete)
}

func TestPartition_NumericNotLexical(t *testing.T) {
	ids := []string{"9", "10", "100", "2", "11"}
	split, err := Partition(ids, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"100", "11"}, split.Retain)
	assert.Equal(t, []string{"10", "9", "2"}, split.Delete)
}

func TestPartition_WiderThanInt64(t *testing.T) {
	huge := "123456789012345678901234567890"
	bigger := "923456789012345678901234567890"
	split, err := Partition([]string{huge, "7", bigger}, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{bigger}, split.Retain)
	assert.Equal(t, []string{huge, "7"}, split.Delete)
}

func TestPartition_LeadingZerosKeepSpelling(t *testing.T) {
	split, err := Partition([]string{"007", "10", "8"}, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"10"}, split.Retain)
	assert.Equal(t, []string{"8", "007"}, split.Delete)
}

func TestPartition_NonPositiveRetainDeletesAll(t *testing.T) {
	for _, n := range []int{0, -1, -100} {
		split, err := Partition([]string{"1", "3", "2"}, n)
		require.NoError(t, err)
		assert.Empty(t, split.Retain, "retain=%d", n)
		assert.Equal(t, []string{"3", "2", "1"}, split.Delete, "retain=%d", n)
	}
}

func TestPartition_RetainAtLeastTotal(t *testing.T) {
	split, err := Partition([]string{"1", "2"}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, split.Retain)
	assert.Empty(t, split.Delete)
}

func TestPartition_Empty(t *testing.T) {
	split, err := Partition(nil, 10)
	require.NoError(t, err)
	assert.Empty(t, split.Retain)
	assert.Empty(t, split.Delete)
}

func TestPartition_InvalidID(t *testing.T) {
	for _, bad := range []string{"", "-1", "1.5", "v3", " 4"} {
		_, err := Partition([]string{"1", bad}, 1)
		if !errors.Is(err, ErrInvalidVersionID) {
			t.Errorf("Partition(%q) error = %v, want ErrInvalidVersionID", bad, err)
		}
	}
}

func TestPartition_DoesNotModifyInput(t *testing.T) {
	ids := []string{"1", "3", "2"}
	_, err := Partition(ids, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "2"}, ids)
}

// For random inputs with 0 < N < |V|: the split covers V exactly once,
// has N retained ids, and every retained id is above every deleted id.
func TestPartition_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		total := 2 + rng.Intn(400)
		seen := make(map[int]bool, total)
		ids := make([]string, 0, total)
		for len(ids) < total {
			v := 1 + rng.Intn(100000)
			if seen[v] {
				continue
			}
			seen[v] = true
			ids = append(ids, strconv.Itoa(v))
		}
		n := 1 + rng.Intn(total-1)

		split, err := Partition(ids, n)
		require.NoError(t, err)

		require.Len(t, split.Retain, n)
		require.Equal(t, total, len(split.Retain)+len(split.Delete))

		union := append(slices.Clone(split.Retain), split.Delete...)
		slices.Sort(union)
		want := slices.Clone(ids)
		slices.Sort(want)
		require.Equal(t, want, union)

		minRetain, _ := strconv.Atoi(split.Retain[len(split.Retain)-1])
		maxDelete, _ := strconv.Atoi(split.Delete[0])
		require.Greater(t, minRetain, maxDelete)
	}
}

func TestNeedsCleanup(t *testing.T) {
	assert.False(t, NeedsCleanup(40, 100))
	assert.False(t, NeedsCleanup(100, 100))
	assert.True(t, NeedsCleanup(101, 100))
	assert.True(t, NeedsCleanup(1, 0))
}

func TestCompareDigits(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"10", "9", 1},
		{"9", "10", -1},
		{"0010", "10", 0},
		{"0", "000", 0},
		{"99999999999999999999", "100000000000000000000", -1},
	}
	for _, tc := range tests {
		a, err := parseVersionID(tc.a)
		require.NoError(t, err)
		b, err := parseVersionID(tc.b)
		require.NoError(t, err)
		assert.Equal(t, tc.want, compareDigits(a.digits, b.digits), "compare(%q, %q)", tc.a, tc.b)
	}

	_, err := parseVersionID("x")
	assert.ErrorIs(t, err, ErrInvalidVersionID)
	_, err = parseVersionID("")
	assert.ErrorIs(t, err, ErrInvalidVersionID)
}
