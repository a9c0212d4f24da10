package core

/*------------------------------------------------------------------
 *
 * Purpose:	Optional per-session CSV statistics log: one row per
 *		decoded frame, for offline inspection of a playback run.
 *
 * Description:	Grounded on tq.go/xmit.go's strftime.Format(pattern,
 *		time.Now()) one-liner for timestamping; this just adds a
 *		CSV writer around it.
 *
 *------------------------------------------------------------------*/

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/lestrrat-go/strftime"
)

const sessionLogTimeFormat = "%Y-%m-%d %H:%M:%S"

// SessionLog appends one CSV row per call to LogFrame, for later
// inspection of a playback run (timestamp, frame position, DAC state,
// DAC fullness, points played).
type SessionLog struct {
	file   *os.File
	writer *csv.Writer
}

// OpenSessionLog creates (or truncates) path and writes a CSV header.
func OpenSessionLog(path string) (*SessionLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("core: creating session log %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "position", "dac_state", "dac_fullness", "points_played"}); err != nil {
		f.Close()
		return nil, fmt.Errorf("core: writing session log header: %w", err)
	}
	w.Flush()

	return &SessionLog{file: f, writer: w}, nil
}

// LogFrame appends one row describing the current playback/DAC state.
func (s *SessionLog) LogFrame(position float32, status DacStatus) error {
	ts, err := strftime.Format(sessionLogTimeFormat, time.Now())
	if err != nil {
		ts = time.Now().UTC().String()
	}

	row := []string{
		ts,
		fmt.Sprintf("%.4f", position),
		status.State.String(),
		fmt.Sprintf("%d", status.Fullness),
		fmt.Sprintf("%d", status.PointsPlayed),
	}

	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("core: writing session log row: %w", err)
	}
	s.writer.Flush()
	return s.writer.Error()
}

// Close flushes and closes the underlying file.
func (s *SessionLog) Close() error {
	s.writer.Flush()
	return s.file.Close()
}
