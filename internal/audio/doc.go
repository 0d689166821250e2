// Package audio handles the rolling frame buffer and audio format conversion.
// It implements a fixed-capacity ring of timestamped PCM frames with
// tolerance-window extraction by capture time range, and encoding of the
// extracted samples to WAV format for transcription.
package audio
