package roster

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coach_reconcile/internal/common"
)

const sampleYAML = `
leadCoach: jenny
coaches: [Jenny, Marcus]
students: [Ananyaa, Ethan]
dataSources: [A, B, C]
aliases:
  Jen: Jenny
categories:
  - category: game-plan
    positive:
      - pattern: 'kickoff'
        weight: 70
`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "Jenny", r.LeadCoach)
	assert.True(t, r.IsCoach("marcus"))
	assert.True(t, r.IsCoach("Jen"))
	assert.True(t, r.IsStudent("ETHAN"))
	assert.False(t, r.IsStudent("Jenny"))
	assert.True(t, r.IsLeadCoach("jen"))
	assert.Equal(t, "Jenny", r.Canonical(" jen "))
	assert.Equal(t, "Zed", r.Canonical("Zed"))

	src, ok := r.SourceMarker("b")
	assert.True(t, ok)
	assert.Equal(t, "B", src)
	assert.False(t, r.IsSource("Jenny"))

	require.Len(t, r.Categories, 1)
	assert.Equal(t, 70.0, r.Categories[0].Positive[0].Weight)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing sources":     "coaches: [Jenny]\nstudents: [Ethan]\n",
		"source equals coach": "coaches: [A]\nstudents: [Ethan]\ndataSources: [A]\n",
		"unknown lead coach":  "leadCoach: Bob\ncoaches: [Jenny]\ndataSources: [A]\n",
		"rule without name":   "dataSources: [A]\ncategories:\n  - baseWeight: 5\n",
		"broken yaml":         "coaches: [Jenny\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrInvalidConfig))
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, r.Coaches, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
