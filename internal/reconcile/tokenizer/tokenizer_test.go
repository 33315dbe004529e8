package tokenizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coach_reconcile/internal/common"
)

func TestTokenizeCanonicalFilename(t *testing.T) {
	res, err := Tokenize("Coaching_GamePlan_B_Jenny_Ananyaa_Wk1_2024-09-06_M_xyz", "")
	require.NoError(t, err)
	require.True(t, res.Canonical)

	fields := res.Fields()
	assert.Len(t, fields, 5)
	assert.Equal(t, map[string]string{
		FieldSource:  "B",
		FieldCoach:   "Jenny",
		FieldStudent: "Ananyaa",
		FieldWeek:    "1",
		FieldDate:    "2024-09-06",
	}, fields)

	assert.Equal(t, []string{"coaching", "gameplan"}, res.CategoryHints())
	assert.True(t, res.HasHint("gameplan"))
	assert.Equal(t, "1", res.Week())
	assert.Equal(t, "2024-09-06", res.Date())

	names := res.NameTokens()
	require.Len(t, names, 3)
	assert.Equal(t, TypeSource, names[0].Type)
	assert.Equal(t, "Jenny", names[1].Value)
	assert.Equal(t, "Ananyaa", names[2].Value)

	last := res.Tokens[len(res.Tokens)-1]
	assert.Equal(t, TypeUnrecognized, last.Type)
	assert.Equal(t, "xyz", last.Raw)
}

func TestTokenizeCanonicalVariants(t *testing.T) {
	cases := []struct {
		filename string
		week     string
		date     string
	}{
		{"Coaching_A_Marcus_Ethan_Week03_2024-10-01.mp4", "3", "2024-10-01"},
		{"Coaching_C_Priya_Sofia_wk12_20241105_Zoom", "12", "2024-11-05"},
		{"168_Hour_Scheduling_B_Jenny_Liam_W2_2024/09/20", "2", "2024-09-20"},
	}
	for _, tc := range cases {
		t.Run(tc.filename, func(t *testing.T) {
			res, err := Tokenize(tc.filename, "")
			require.NoError(t, err)
			require.True(t, res.Canonical)
			f := res.Fields()
			assert.Len(t, f, 5)
			assert.Equal(t, tc.week, f[FieldWeek])
			assert.Equal(t, tc.date, f[FieldDate])
		})
	}
}

func TestTokenizeTitleFallback(t *testing.T) {
	res, err := Tokenize("", "Jenny & Ananyaa - Week 1")
	require.NoError(t, err)
	assert.False(t, res.Canonical)

	names := res.NameTokens()
	require.Len(t, names, 2)
	assert.Equal(t, "Jenny", names[0].Value)
	assert.Equal(t, "Ananyaa", names[1].Value)
	assert.Equal(t, OriginTitle, names[0].Origin)
	assert.Equal(t, "1", res.Week())
	assert.Empty(t, res.Date())
}

func TestTokenizeTitleSourceLetter(t *testing.T) {
	res, err := Tokenize("", "B & Jenny - Game Plan")
	require.NoError(t, err)

	names := res.NameTokens()
	require.Len(t, names, 2)
	assert.Equal(t, TypeSource, names[0].Type)
	assert.Equal(t, "B", names[0].Value)
	assert.Equal(t, TypeName, names[1].Type)
	assert.True(t, res.HasHint("gameplan"))
}

func TestTokenizeTitleDescriptionSegment(t *testing.T) {
	res, err := Tokenize("", "Marcus & Ethan - Game Plan Week 2 - notes")
	require.NoError(t, err)

	assert.Equal(t, "2", res.Week())
	assert.NotEmpty(t, res.CategoryHints())

	var unrecognized []string
	for _, tok := range res.Tokens {
		if tok.Type == TypeUnrecognized {
			unrecognized = append(unrecognized, tok.Raw)
		}
	}
	assert.Equal(t, []string{"notes"}, unrecognized)
}

func TestTokenizeNonCanonicalFilename(t *testing.T) {
	res, err := Tokenize("Jenny_Ananyaa_Wk2_2024-10-01", "")
	require.NoError(t, err)
	assert.False(t, res.Canonical)
	assert.Empty(t, res.Fields())

	names := res.NameTokens()
	require.Len(t, names, 2)
	assert.Equal(t, "Jenny", names[0].Value)
	assert.Equal(t, "2", res.Week())
	assert.Equal(t, "2024-10-01", res.Date())
}

func TestTokenizePrefersFilenameValues(t *testing.T) {
	res, err := Tokenize("Coaching_A_Marcus_Ethan_Wk4_2024-10-01", "Marcus & Ethan - Week 5")
	require.NoError(t, err)
	assert.Equal(t, "4", res.Week())

	for _, tok := range res.NameTokens() {
		assert.Equal(t, OriginFilename, tok.Origin)
	}
}

func TestTokenizeEmpty(t *testing.T) {
	_, err := Tokenize("  ", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrParse))
}

func TestTokenizeIsPure(t *testing.T) {
	a, err := Tokenize("Coaching_B_Jenny_Ananyaa_Wk1_2024-09-06", "Jenny & Ananyaa")
	require.NoError(t, err)
	b, err := Tokenize("Coaching_B_Jenny_Ananyaa_Wk1_2024-09-06", "Jenny & Ananyaa")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
