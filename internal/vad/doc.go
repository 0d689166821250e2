// Package vad defines the voice activity detection engine contract, a
// reference energy-based engine, and the speech boundary tracker that turns
// the engine's noisy start/end event stream into clean utterance time ranges.
package vad
