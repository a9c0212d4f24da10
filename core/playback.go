package core

/*------------------------------------------------------------------
 *
 * Purpose:	Demultiplex an 8-channel WAV into laser point blocks and
 *		stereo audio, honoring play/pause/seek requests from an
 *		external UI (spec §4.5).
 *
 * Description:	One dedicated worker goroutine, paced by the blocking
 *		audio write -- the same mutex+condvar shape as
 *		Connection's sender/reader pair, applied to a single
 *		thread instead of two, in the teacher's tq.go idiom.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"math"
	"sync"
)

// DisplayCallback is invoked once per decoded frame with the current
// playback position (0..1), a copy of the frame, and whether this
// frame was produced by a seek.
type DisplayCallback func(position float32, frame DisplayFrame, isSeek bool)

// DacCallback forwards a decoded point block toward the protocol
// layer (typically Supervisor.AddFrame). It reports whether the
// block was accepted.
type DacCallback func(block *PointBlock) bool

// Engine is the playback worker for one opened WAV file.
type Engine struct {
	wav    *WavReader
	sink   AudioSink
	onDisp DisplayCallback
	onDac  DacCallback

	mu              sync.Mutex
	cond            *sync.Cond
	playRequest     bool
	seekRequest     *float32
	shutdownRequest bool

	positionSamples int64
	done            chan struct{}
	eofOnce         sync.Once
	eofCh           chan struct{}
}

// NewEngine constructs a playback engine over an already-opened WAV
// file. onDisp and onDac may be nil (display-only or DAC-only runs).
func NewEngine(wav *WavReader, sink AudioSink, onDisp DisplayCallback, onDac DacCallback) *Engine {
	e := &Engine{
		wav:    wav,
		sink:   sink,
		onDisp: onDisp,
		onDac:  onDac,
		done:   make(chan struct{}),
		eofCh:  make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// RequestPlayback toggles play/pause.
func (e *Engine) RequestPlayback(play bool) {
	e.mu.Lock()
	e.playRequest = play
	e.cond.Broadcast()
	e.mu.Unlock()
}

// IsPlaybackRequested reports the current play/pause request. It
// takes e.mu, so it waits only for the short critical sections that
// RequestPlayback, Seek, Shutdown and the decode loop hold on it; the
// decode loop never holds the lock across I/O.
func (e *Engine) IsPlaybackRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playRequest
}

// Seek requests a reposition to position (0..1) on the next
// iteration.
func (e *Engine) Seek(position float32) {
	if position < 0 {
		position = 0
	}
	if position > 1 {
		position = 1
	}

	e.mu.Lock()
	e.seekRequest = &position
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Done returns a channel that closes once the stream has been read to
// completion at least once. The worker thread remains alive after
// that point, waiting for a seek or a fresh play request.
func (e *Engine) Done() <-chan struct{} { return e.eofCh }

// Shutdown stops the worker thread and blocks until it has exited.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.shutdownRequest = true
	e.cond.Broadcast()
	e.mu.Unlock()

	<-e.done
}

// Run is the decode loop (spec §4.5). It blocks until Shutdown is
// called and should be started in its own goroutine.
func (e *Engine) Run() error {
	defer close(e.done)

	sampleBytes := e.wav.SampleBytes()
	bitsPerSample := e.wav.BitsPerSample()
	frameSize := e.wav.FrameBytes()
	lengthFrames := e.wav.LengthFrames()
	rate := e.wav.SampleRate()

	frames := make([][WavChannels]int32, FrameSamples)

	for {
		e.mu.Lock()
		for !e.playRequest && !e.shutdownRequest && e.seekRequest == nil {
			e.cond.Wait()
		}
		if e.shutdownRequest {
			e.mu.Unlock()
			return nil
		}

		var latchedSeek *float32
		if e.seekRequest != nil {
			latchedSeek = e.seekRequest
			e.seekRequest = nil
		}
		playing := e.playRequest
		e.mu.Unlock()

		isSeek := latchedSeek != nil
		if isSeek {
			positionSamples := int64(math.Round(float64(*latchedSeek) * float64(lengthFrames)))
			if err := e.wav.Seek(positionSamples); err != nil {
				return fmt.Errorf("core: seek: %w", err)
			}
			e.positionSamples = positionSamples
		}

		n, err := e.wav.Read(frames)
		if err != nil {
			return fmt.Errorf("core: reading WAV data: %w", err)
		}
		if n == 0 && !isSeek {
			// End of file with nothing left to do; stop driving
			// playback but keep the worker alive for seek/shutdown.
			e.mu.Lock()
			e.playRequest = false
			e.mu.Unlock()
			e.eofOnce.Do(func() { close(e.eofCh) })
			continue
		}

		block := NewPointBlock(n, rate)
		var display DisplayFrame
		pcm := make([]byte, n*StereoChannels*sampleBytes)

		for i := 0; i < n; i++ {
			ch0 := narrowLaserSample(frames[i][0], bitsPerSample)
			ch1 := narrowLaserSample(frames[i][1], bitsPerSample)
			ch2 := narrowLaserSample(frames[i][2], bitsPerSample)
			ch3 := narrowLaserSample(frames[i][3], bitsPerSample)
			ch4 := narrowLaserSample(frames[i][4], bitsPerSample)

			x := -ch0
			y := -ch1
			r := -ch2 * 2
			g := -ch3 * 2
			b := -ch4 * 2

			block.SetPoint(i, x, y, r, g, b)

			display[i] = DisplayPoint{
				X: x,
				Y: y,
				Color: DisplayColor{
					R: clampByte(r),
					G: clampByte(g),
					B: clampByte(b),
				},
			}

			encodeAudioSample(pcm, i*2*sampleBytes, frames[i][WavAudioChannel], sampleBytes)
			encodeAudioSample(pcm, i*2*sampleBytes+sampleBytes, frames[i][WavAudioChannel+1], sampleBytes)
		}

		var position float32
		if isSeek {
			position = *latchedSeek
		} else if lengthFrames > 0 {
			position = float32(e.positionSamples) / float32(lengthFrames)
		}

		if e.onDisp != nil {
			e.onDisp(position, display, isSeek)
		}

		if playing {
			if e.sink != nil {
				if err := e.sink.Write(pcm); err != nil {
					return fmt.Errorf("core: audio sink: %w", err)
				}
			}
			if e.onDac != nil {
				e.onDac(block)
			}
		}

		e.positionSamples += int64(n)

		_ = frameSize // unused: WavReader.Read already splits samples per channel
	}
}

// narrowLaserSample maps a widened sample (spec §4.5 step 5) down to
// its 16-bit laser value: 24-bit files contribute only their top two
// bytes, 16-bit files are used as-is.
func narrowLaserSample(v int32, bitsPerSample uint16) int32 {
	if bitsPerSample == 24 {
		return v >> 8
	}
	return v
}

// encodeAudioSample writes v (already widened to int32 by WavReader)
// back out at its original bit depth, little-endian, at pcm[off:].
func encodeAudioSample(pcm []byte, off int, v int32, sampleBytes int) {
	switch sampleBytes {
	case 2:
		u := uint16(int16(v))
		pcm[off] = byte(u)
		pcm[off+1] = byte(u >> 8)
	case 3:
		u := uint32(v) & 0xFFFFFF
		pcm[off] = byte(u)
		pcm[off+1] = byte(u >> 8)
		pcm[off+2] = byte(u >> 16)
	}
}
