// Package notify fans out pipeline events to observers: throttled confidence
// updates, speech activity transitions, and segment lifecycle changes.
// Subscribers that cannot keep up drop events rather than stalling the
// audio path.
package notify
