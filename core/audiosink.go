package core

/*------------------------------------------------------------------
 *
 * Purpose:	Blocking stereo PCM output, the sink end of the playback
 *		pipeline's audio channel (spec §4.5, §6).
 *
 * Description:	gordonklaus/portaudio is declared in the teacher's
 *		go.mod but unused by its own source; this is where this
 *		rewrite puts it to work, as the one real-hardware output
 *		the playback engine writes to. The wire format passed in is
 *		raw interleaved PCM at the WAV's own sample size (spec §6
 *		"two-channel PCM ... signed, little-endian") -- PortAudio
 *		itself wants float32, so the conversion happens at the sink,
 *		not in the playback engine.
 *
 *------------------------------------------------------------------*/

import (
	"encoding/binary"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// AudioSink accepts one block of interleaved stereo PCM (signed,
// little-endian, at the source bit depth) and blocks until it has
// been consumed by the output device. This is the pacing clock for
// play mode (spec §4.5).
type AudioSink interface {
	Write(pcm []byte) error
	Close() error
}

// PortAudioSink is an AudioSink backed by the local default output
// device via PortAudio.
type PortAudioSink struct {
	stream        *portaudio.Stream
	bitsPerSample uint16
	floatBuf      []float32
}

// NewPortAudioSink opens the default output device for stereo
// playback at sampleRate. Callers must call portaudio.Initialize once
// at process start (see cmd/etherdream-play) before using this.
func NewPortAudioSink(sampleRate float64, framesPerBuffer int, bitsPerSample uint16) (*PortAudioSink, error) {
	s := &PortAudioSink{
		bitsPerSample: bitsPerSample,
		floatBuf:      make([]float32, framesPerBuffer*StereoChannels),
	}

	stream, err := portaudio.OpenDefaultStream(0, StereoChannels, sampleRate, framesPerBuffer, &s.floatBuf)
	if err != nil {
		return nil, fmt.Errorf("core: opening audio output stream: %w", err)
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("core: starting audio output stream: %w", err)
	}

	return s, nil
}

// Write blocks until pcm (interleaved L/R, source bit depth) has been
// converted and written to the device. A short final block (the tail
// of the file, fewer than framesPerBuffer frames) is zero-padded with
// silence; PortAudio's fixed-size buffer has no notion of a partial
// write.
func (s *PortAudioSink) Write(pcm []byte) error {
	bytesPerSample := int(s.bitsPerSample) / 8
	frameCount := len(pcm) / (bytesPerSample * StereoChannels)
	capacity := len(s.floatBuf) / StereoChannels
	if frameCount > capacity {
		return fmt.Errorf("core: audio sink expected at most %d frames, got %d", capacity, frameCount)
	}

	samples := frameCount * StereoChannels
	for i := 0; i < samples; i++ {
		off := i * bytesPerSample
		s.floatBuf[i] = pcmSampleToFloat32(pcm[off:off+bytesPerSample], bytesPerSample)
	}
	for i := samples; i < len(s.floatBuf); i++ {
		s.floatBuf[i] = 0
	}

	return s.stream.Write()
}

func pcmSampleToFloat32(b []byte, bytesPerSample int) float32 {
	switch bytesPerSample {
	case 2:
		v := int16(binary.LittleEndian.Uint16(b))
		return float32(v) / 32768.0
	case 3:
		u := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
		if u&0x800000 != 0 {
			u |= 0xFF000000
		}
		return float32(int32(u)) / 8388608.0
	default:
		return 0
	}
}

// Close stops and releases the output stream.
func (s *PortAudioSink) Close() error {
	if err := s.stream.Stop(); err != nil {
		s.stream.Close()
		return fmt.Errorf("core: stopping audio output stream: %w", err)
	}
	return s.stream.Close()
}

// NullAudioSink discards everything written to it. Used when no audio
// output is wanted (e.g. laser-only playback) or in tests.
type NullAudioSink struct{}

func (NullAudioSink) Write(pcm []byte) error { return nil }
func (NullAudioSink) Close() error           { return nil }
