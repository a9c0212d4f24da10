package core

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLogWritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.csv")

	log, err := OpenSessionLog(path)
	require.NoError(t, err)

	require.NoError(t, log.LogFrame(0.25, DacStatus{State: DacStatePlaying, Fullness: 1200, PointsPlayed: 4800}))
	require.NoError(t, log.LogFrame(0.5, DacStatus{State: DacStateIdle, Fullness: 0, PointsPlayed: 9600}))
	require.NoError(t, log.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"timestamp", "position", "dac_state", "dac_fullness", "points_played"}, rows[0])
	assert.Equal(t, "0.2500", rows[1][1])
	assert.Equal(t, "playing", rows[1][2])
	assert.Equal(t, "1200", rows[1][3])
	assert.Equal(t, "4800", rows[1][4])

	assert.Equal(t, "0.5000", rows[2][1])
	assert.Equal(t, "idle", rows[2][2])
}
