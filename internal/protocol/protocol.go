// Package protocol implements the binary wire format for microphone audio
// packets delivered over UDP
package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Protocol constants
const (
	// Packet types
	PacketTypeHello = 0x01
	PacketTypeAudio = 0x02

	// Packet structure sizes
	HeaderSize             = 8  // 1 + 2 + 4 + 1 bytes
	HelloPayloadSize       = 44 // 32 + 4 + 4 + 4 bytes
	AudioPayloadHeaderSize = 12 // capture timestamp (8) + sequence (4)

	// Field sizes in the hello payload
	SourceSize = 32
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Flags:1]
type Header struct {
	PacketType uint8  // 0x01=Hello, 0x02=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Unique stream identifier
	Flags      uint8  // Reserved, currently always 0
}

// HelloPayload represents the 44-byte stream announcement payload
// Layout: [Source:32][SampleRate:4][FrameSize:4][Epoch:4]
type HelloPayload struct {
	Source     [SourceSize]byte // Null-terminated device name (32 bytes)
	SampleRate uint32           // Samples per second
	FrameSize  uint32           // Samples per audio packet
	Epoch      uint32           // Unix timestamp of capture start
}

// AudioPayload represents the audio packet payload
// Layout: [CaptureMicros:8][Sequence:4][PCM:N]
type AudioPayload struct {
	CaptureMicros uint64 // Capture time of the first sample, microseconds since epoch
	Sequence      uint32 // Packet sequence number
	PCM           []byte // 16-bit little-endian PCM samples (variable length)
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header *Header
	Hello  *HelloPayload // Only set for hello packets
	Audio  *AudioPayload // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Flags:      data[7],
	}

	return header, nil
}

// ParseHelloPayload parses the 44-byte hello packet payload
func ParseHelloPayload(data []byte) (*HelloPayload, error) {
	if len(data) < HelloPayloadSize {
		return nil, fmt.Errorf("hello payload too short: expected %d bytes, got %d",
			HelloPayloadSize, len(data))
	}

	payload := &HelloPayload{}
	copy(payload.Source[:], data[0:SourceSize])
	payload.SampleRate = binary.BigEndian.Uint32(data[SourceSize : SourceSize+4])
	payload.FrameSize = binary.BigEndian.Uint32(data[SourceSize+4 : SourceSize+8])
	payload.Epoch = binary.BigEndian.Uint32(data[SourceSize+8 : SourceSize+12])

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		CaptureMicros: binary.BigEndian.Uint64(data[0:8]),
		Sequence:      binary.BigEndian.Uint32(data[8:12]),
	}

	if len(data) > AudioPayloadHeaderSize {
		payload.PCM = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.PCM, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeHello:
		payload, err := ParseHelloPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hello payload: %w", err)
		}
		packet.Hello = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	expectedPayloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeHello:
		if expectedPayloadSize != HelloPayloadSize {
			return fmt.Errorf("hello packet payload size mismatch: expected %d, got %d",
				HelloPayloadSize, expectedPayloadSize)
		}
	case PacketTypeAudio:
		if expectedPayloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, expectedPayloadSize)
		}
		// PCM samples are 16-bit, so the data portion is always even
		if (expectedPayloadSize-AudioPayloadHeaderSize)%2 != 0 {
			return fmt.Errorf("audio packet PCM size must be even, got %d",
				expectedPayloadSize-AudioPayloadHeaderSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeHello || ptype == PacketTypeAudio
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetSource extracts the source device name as a string
func (h *HelloPayload) GetSource() string {
	return ExtractString(h.Source[:])
}

// Timestamp converts the capture time to a time.Time
func (a *AudioPayload) Timestamp() time.Time {
	return time.UnixMicro(int64(a.CaptureMicros))
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeHello:
		packetType = "Hello"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d}",
		packetType, h.PacketLen, h.StreamID)
}

// String returns a human-readable representation of the hello payload
func (h *HelloPayload) String() string {
	return fmt.Sprintf("HelloPayload{Source:%q, SampleRate:%d, FrameSize:%d, Epoch:%d}",
		h.GetSource(), h.SampleRate, h.FrameSize, h.Epoch)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, CaptureMicros:%d, PCMLen:%d}",
		a.Sequence, a.CaptureMicros, len(a.PCM))
}
