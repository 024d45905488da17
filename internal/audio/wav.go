// Package audio provides WAV parsing, silence generation, and PCM
// concatenation for assembling block artifacts into one final artifact.
//
// Only uncompressed PCM WAV is handled: concatenation is raw sample-data
// arithmetic, so identical inputs always produce byte-identical output.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// WAV container constants.
const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtChunkMinSize = 16
	pcmFormatCode   = 1
	bitsPerByte     = 8

	millisecondsPerSecond = 1000
)

// Chunk identifiers.
const (
	riffID = "RIFF"
	waveID = "WAVE"
	fmtID  = "fmt "
	dataID = "data"
)

// Static errors.
var (
	ErrNotWAV           = errors.New("data is not a RIFF/WAVE container")
	ErrNotPCM           = errors.New("only uncompressed PCM audio is supported")
	ErrMissingChunk     = errors.New("required WAV chunk is missing")
	ErrFormatMismatch   = errors.New("audio format differs from preceding blocks")
	ErrTruncated        = errors.New("WAV data is truncated")
	ErrNoAudioAppended  = errors.New("no audio has been appended")
	ErrNegativeDuration = errors.New("silence duration must be non-negative")
)

// Format describes the sample format of a PCM audio stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerFrame returns the size of one frame (one sample per channel).
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitsPerSample / bitsPerByte
}

// Duration returns the play time of a PCM payload of the given size.
func (f Format) Duration(pcmBytes int) time.Duration {
	frames := pcmBytes / f.BytesPerFrame()

	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Decode parses a PCM WAV container and returns its format and sample data.
func Decode(data []byte) (Format, []byte, error) {
	if len(data) < riffHeaderSize ||
		string(data[0:4]) != riffID || string(data[8:12]) != waveID {
		return Format{}, nil, ErrNotWAV
	}

	var (
		format   Format
		pcm      []byte
		haveFmt  bool
		haveData bool
	)

	offset := riffHeaderSize
	for offset+chunkHeaderSize <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderSize

		if body+chunkSize > len(data) {
			return Format{}, nil, fmt.Errorf("%w: chunk '%s' exceeds container", ErrTruncated, chunkID)
		}

		switch chunkID {
		case fmtID:
			parsed, err := parseFmtChunk(data[body : body+chunkSize])
			if err != nil {
				return Format{}, nil, err
			}

			format = parsed
			haveFmt = true
		case dataID:
			pcm = data[body : body+chunkSize]
			haveData = true
		}

		// Chunks are word-aligned; a trailing pad byte is not counted in the size.
		offset = body + chunkSize + chunkSize%2
	}

	if !haveFmt {
		return Format{}, nil, fmt.Errorf("%w: '%s'", ErrMissingChunk, fmtID)
	}

	if !haveData {
		return Format{}, nil, fmt.Errorf("%w: '%s'", ErrMissingChunk, dataID)
	}

	return format, pcm, nil
}

func parseFmtChunk(chunk []byte) (Format, error) {
	if len(chunk) < fmtChunkMinSize {
		return Format{}, fmt.Errorf("%w: fmt chunk too short", ErrTruncated)
	}

	formatCode := int(binary.LittleEndian.Uint16(chunk[0:2]))
	if formatCode != pcmFormatCode {
		return Format{}, fmt.Errorf("%w: format code %d", ErrNotPCM, formatCode)
	}

	return Format{
		Channels:      int(binary.LittleEndian.Uint16(chunk[2:4])),
		SampleRate:    int(binary.LittleEndian.Uint32(chunk[4:8])),
		BitsPerSample: int(binary.LittleEndian.Uint16(chunk[14:16])),
	}, nil
}

// Encode wraps PCM sample data in a canonical 44-byte WAV header.
func Encode(format Format, pcm []byte) []byte {
	const headerSize = 44

	out := make([]byte, headerSize+len(pcm))

	copy(out[0:4], riffID)
	binary.LittleEndian.PutUint32(out[4:8], uint32(headerSize-chunkHeaderSize+len(pcm)))
	copy(out[8:12], waveID)

	copy(out[12:16], fmtID)
	binary.LittleEndian.PutUint32(out[16:20], fmtChunkMinSize)
	binary.LittleEndian.PutUint16(out[20:22], pcmFormatCode)
	binary.LittleEndian.PutUint16(out[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(format.SampleRate))

	byteRate := format.SampleRate * format.BytesPerFrame()
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(format.BytesPerFrame()))
	binary.LittleEndian.PutUint16(out[34:36], uint16(format.BitsPerSample))

	copy(out[36:40], dataID)
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)

	return out
}

// Silence returns zero-valued PCM sample data of the given duration.
func Silence(format Format, milliseconds int) ([]byte, error) {
	if milliseconds < 0 {
		return nil, ErrNegativeDuration
	}

	frames := format.SampleRate * milliseconds / millisecondsPerSecond

	return make([]byte, frames*format.BytesPerFrame()), nil
}

// Concatenator assembles WAV segments and silence gaps into one artifact.
// The format is fixed by the first appended segment; subsequent segments
// must match it exactly.
type Concatenator struct {
	format    Format
	pcm       []byte
	hasFormat bool
}

// NewConcatenator creates an empty concatenator.
func NewConcatenator() *Concatenator {
	return &Concatenator{}
}

// AppendWAV decodes a WAV segment and appends its sample data.
func (c *Concatenator) AppendWAV(data []byte) error {
	format, pcm, err := Decode(data)
	if err != nil {
		return fmt.Errorf("failed to decode segment: %w", err)
	}

	if !c.hasFormat {
		c.format = format
		c.hasFormat = true
	} else if format != c.format {
		return fmt.Errorf("%w: got %+v, want %+v", ErrFormatMismatch, format, c.format)
	}

	c.pcm = append(c.pcm, pcm...)

	return nil
}

// AppendSilence appends a silence gap of the given duration. Calling it
// before any audio has been appended is an error: a gap can only follow a
// block, never precede the first one.
func (c *Concatenator) AppendSilence(milliseconds int) error {
	if !c.hasFormat {
		return ErrNoAudioAppended
	}

	silence, err := Silence(c.format, milliseconds)
	if err != nil {
		return err
	}

	c.pcm = append(c.pcm, silence...)

	return nil
}

// Bytes exports the assembled audio as one WAV artifact.
func (c *Concatenator) Bytes() ([]byte, error) {
	if !c.hasFormat {
		return nil, ErrNoAudioAppended
	}

	return Encode(c.format, c.pcm), nil
}

// Duration returns the total play time of the assembled audio.
func (c *Concatenator) Duration() time.Duration {
	if !c.hasFormat {
		return 0
	}

	return c.format.Duration(len(c.pcm))
}
