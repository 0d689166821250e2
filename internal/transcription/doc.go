// Package transcription provides the HTTP client for submitting utterance
// audio to a speech-to-text backend, with bounded concurrency, retries with
// exponential backoff, and request statistics.
package transcription
