package steps

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_RenumbersSurvivors(t *testing.T) {
	cands, err := DecodeCandidates([]byte(`[
		{"step_number": 1, "title": "Open panel"},
		{"step_number": 1, "title": "Close panel"},
		{"title": ""},
		{"step_number": 5, "title": "Torque bolts"}
	]`))
	require.NoError(t, err)

	got := Normalize(cands)
	require.Len(t, got, 3)
	assert.Equal(t, Draft{Number: 1, Title: "Open panel"}, got[0])
	assert.Equal(t, Draft{Number: 2, Title: "Close panel"}, got[1])
	assert.Equal(t, Draft{Number: 3, Title: "Torque bolts"}, got[2])
}

func TestDecodeCandidates_Shapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		n    int
	}{
		{"wrapped", `{"steps":[{"step_number":"1.A","title":"a","description":"d"}]}`, 1},
		{"bare", `[{"title":"a"},{"title":"b"}]`, 2},
		{"wrapped empty", `{"other":true}`, 0},
		{"garbage elements", `[1, "x", {"title": 7}]`, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cands, err := DecodeCandidates([]byte(tt.raw))
			require.NoError(t, err)
			assert.Len(t, cands, tt.n)
		})
	}

	_, err := DecodeCandidates([]byte(`"just text"`))
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestNormalize_Fields(t *testing.T) {
	desc := "use 25 Nm"
	long := strings.Repeat("é", MaxTitleLen+20)
	cands := []Candidate{
		{Title: &long, Description: &desc},
		{Description: &desc},
	}
	got := Normalize(cands)
	require.Len(t, got, 1)
	assert.Equal(t, MaxTitleLen, len([]rune(got[0].Title)))
	assert.Same(t, &desc, got[0].Description)
}

func TestNormalize_EmptyIsNotAnError(t *testing.T) {
	blank := "   "
	got := Normalize([]Candidate{{Title: &blank}, {}})
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.NotNil(t, Normalize(nil))
}

func TestCurrent(t *testing.T) {
	list := []Step{
		{Number: 1, IsCompleted: true},
		{Number: 2},
		{Number: 3},
	}
	cur := Current(list)
	require.NotNil(t, cur)
	assert.Equal(t, 2, cur.Number)

	list[1].IsCompleted = true
	list[2].IsCompleted = true
	assert.Nil(t, Current(list))
}
