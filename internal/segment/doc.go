// Package segment provides utterance segment lifecycle management: cutting
// audio for a finalized speech range out of the frame buffer, tracking each
// segment through pending/processing/completed/failed, and feeding the FIFO
// transcription queue.
package segment
