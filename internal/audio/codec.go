// Package audio implements the media-stream frame codec: base64-framed
// 8 kHz G.711 mu-law payloads on the wire, raw byte chunks in memory.
package audio

import (
	"encoding/base64"
	"fmt"
)

// SilenceByte is the mu-law encoding of silence, used when padding outbound
// audio to a frame boundary.
const SilenceByte = 0xFF

// SampleRate is the narrowband telephony sample rate in Hz.
const SampleRate = 8000

// FrameBytes is one 20 ms playback frame (one byte per sample at 8 kHz).
const FrameBytes = SampleRate / 50

// Decode converts an inbound frame payload into a raw mu-law chunk.
// A malformed frame yields an error; callers drop the frame and continue.
func Decode(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("empty media payload")
	}
	chunk, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return chunk, nil
}

// Encode converts a raw mu-law chunk into an outbound frame payload.
func Encode(chunk []byte) string {
	return base64.StdEncoding.EncodeToString(chunk)
}

// PadFrame extends a chunk to the next frame boundary with silence so
// playback never stutters on a partial frame. Empty and aligned chunks
// pass through untouched.
func PadFrame(chunk []byte) []byte {
	rem := len(chunk) % FrameBytes
	if len(chunk) == 0 || rem == 0 {
		return chunk
	}
	padded := make([]byte, len(chunk)+FrameBytes-rem)
	copy(padded, chunk)
	for i := len(chunk); i < len(padded); i++ {
		padded[i] = SilenceByte
	}
	return padded
}
