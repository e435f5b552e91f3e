// Package wav encodes sample sequences as canonical 16-bit PCM RIFF/WAVE
// containers.
//
// The container is a fixed 44-byte header followed by interleaved
// little-endian int16 samples:
//
//	offset  size  field
//	──────────────────────────────────────────
//	0       4     "RIFF"
//	4       4     36 + dataBytes
//	8       4     "WAVE"
//	12      4     "fmt "
//	16      4     16 (PCM sub-chunk size)
//	20      2     1 (PCM format tag)
//	22      2     channels
//	24      4     sample rate
//	28      4     sample rate × channels × 2
//	32      2     channels × 2
//	34      2     16 (bits per sample)
//	36      4     "data"
//	40      4     dataBytes = frames × channels × 2
//
// Samples are clamped to [-1, 1] and scaled by 32767, so full scale maps to
// ±32767 and never to -32768. Scaling rounds to nearest by default;
// QuantizeTruncate drops the fraction instead.
//
// Encoding is deterministic: the same sequence always yields the same bytes.
package wav
