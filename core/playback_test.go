package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type spySink struct {
	mu     sync.Mutex
	writes [][]byte
}

func (s *spySink) Write(pcm []byte) error {
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.mu.Lock()
	s.writes = append(s.writes, cp)
	s.mu.Unlock()
	return nil
}

func (s *spySink) Close() error { return nil }

func (s *spySink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

type dispCall struct {
	position float32
	frame    DisplayFrame
	isSeek   bool
}

func waitForDisp(t *testing.T, ch <-chan dispCall, timeout time.Duration) dispCall {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(timeout):
		t.Fatal("timed out waiting for display callback")
		return dispCall{}
	}
}

// TestEngineSeekWhilePaused is spec §8 scenario 6: seeking while paused
// reports the seek position once, advances the decode cursor, and
// drives neither the audio sink nor the DAC callback.
func TestEngineSeekWhilePaused(t *testing.T) {
	path := buildWavFile(t, 8, 16, 48000, 10)
	wav, err := OpenWavReader(path)
	require.NoError(t, err)
	defer wav.Close()

	sink := &spySink{}
	dacCalls := 0
	var dacMu sync.Mutex
	disp := make(chan dispCall, 10)

	engine := NewEngine(wav, sink,
		func(position float32, frame DisplayFrame, isSeek bool) {
			disp <- dispCall{position: position, frame: frame, isSeek: isSeek}
		},
		func(block *PointBlock) bool {
			dacMu.Lock()
			dacCalls++
			dacMu.Unlock()
			return true
		},
	)

	go engine.Run()
	defer engine.Shutdown()

	engine.Seek(0.5)

	c := waitForDisp(t, disp, 2*time.Second)
	assert.True(t, c.isSeek)
	assert.InDelta(t, 0.5, c.position, 0.0001)

	assert.Equal(t, 0, sink.writeCount())
	dacMu.Lock()
	assert.Equal(t, 0, dacCalls)
	dacMu.Unlock()

	select {
	case extra := <-disp:
		t.Fatalf("unexpected extra display callback: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestEnginePlaybackDrivesAudioAndDac exercises the ordinary playing
// path: every decoded frame is written to the audio sink and forwarded
// to the DAC callback, and reaching end of file stops driving playback
// while leaving the worker alive.
func TestEnginePlaybackDrivesAudioAndDac(t *testing.T) {
	path := buildWavFile(t, 8, 16, 48000, 10)
	wav, err := OpenWavReader(path)
	require.NoError(t, err)
	defer wav.Close()

	sink := &spySink{}
	var dacMu sync.Mutex
	var dacBlocks []*PointBlock
	disp := make(chan dispCall, 10)

	engine := NewEngine(wav, sink,
		func(position float32, frame DisplayFrame, isSeek bool) {
			disp <- dispCall{position: position, frame: frame, isSeek: isSeek}
		},
		func(block *PointBlock) bool {
			dacMu.Lock()
			dacBlocks = append(dacBlocks, block)
			dacMu.Unlock()
			return true
		},
	)

	go engine.Run()
	defer engine.Shutdown()

	engine.RequestPlayback(true)

	c := waitForDisp(t, disp, 2*time.Second)
	assert.False(t, c.isSeek)

	select {
	case <-engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for end of file")
	}

	require.Equal(t, 1, sink.writeCount())
	assert.Len(t, sink.writes[0], 10*StereoChannels*2)

	dacMu.Lock()
	require.Len(t, dacBlocks, 1)
	assert.Equal(t, 10, dacBlocks[0].Len())
	dacMu.Unlock()

	assert.False(t, engine.IsPlaybackRequested())
}
