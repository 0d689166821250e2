// Package server implements the UDP server for receiving microphone audio
// packets and the HTTP API. Packets are routed to per-stream workers so frame
// order holds, and the HTTP side exposes monitoring endpoints plus a
// WebSocket event feed for observers.
package server
