// Package decode turns encoded audio files into pcm sequences.
//
// Supported containers are sniffed from their leading bytes:
//
//	RIFF....WAVE   WAV, 8/16/24/32-bit integer PCM   go-audio/wav
//	FORM....AIFF   AIFF, 8/16/24/32-bit integer PCM  go-audio/aiff
//	OggS           Ogg Vorbis                        jfreymuth/oggvorbis
//	ID3 or 0xFFEx  MPEG-1/2 Layer III                hajimehoshi/go-mp3
//
// Decoded sequences keep the file's channel layout, interleaved.
package decode
