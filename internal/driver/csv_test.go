package driver

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUniverseCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.csv")
	content := "date,A,B\n2024-01-01,100,50\n2024-01-02,101,\n2024-01-03,102,51\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	u, err := LoadUniverseCSV(path)
	require.NoError(t, err)

	require.Len(t, u.Dates(), 3)
	a, ok := u.Price("A", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, 101.0, a)

	b, ok := u.Price("B", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.True(t, math.IsNaN(b))
}
