package auth

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Gateway request opcodes. Responses echo the request opcode with the
// high bit set.
const (
	OpRegister byte = 0x01
	OpLogin    byte = 0x02
	OpValidate byte = 0x03

	responseFlag byte = 0x80
)

// Frames are [length uint16 LE][opcode byte][JSON body]. The length
// counts the opcode plus the body.
const (
	frameHeaderSize = 2
	maxFrameSize    = 4096
)

var (
	// ErrFrameTooLarge is returned when a frame exceeds maxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrEmptyFrame is returned when a frame carries no opcode.
	ErrEmptyFrame = errors.New("empty frame")
)

// RegisterRequest is the body of an OpRegister frame.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Confirm  string `json:"confirm"`
}

// LoginRequest is the body of an OpLogin frame. Identifier is a username
// or, when it contains "@", an email address. The source address for
// rate limiting is taken from the connection, never from the body.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// ValidateRequest is the body of an OpValidate frame.
type ValidateRequest struct {
	Token string `json:"token"`
}

// writeFrame marshals payload and writes one frame. scratch is reused
// when large enough.
func writeFrame(w io.Writer, scratch []byte, opcode byte, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding frame body: %w", err)
	}
	size := 1 + len(body)
	if size > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	need := frameHeaderSize + size
	if cap(scratch) < need {
		scratch = make([]byte, need)
	}
	frame := scratch[:need]
	binary.LittleEndian.PutUint16(frame[0:2], uint16(size))
	frame[2] = opcode
	copy(frame[3:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// readFrame reads one frame into scratch and returns the opcode and body.
// The body aliases scratch and is only valid until the next read. Header
// read errors are returned unwrapped so callers can match io.EOF and
// timeouts.
func readFrame(r io.Reader, scratch []byte) (byte, []byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	size := int(binary.LittleEndian.Uint16(hdr[:]))
	if size == 0 {
		return 0, nil, ErrEmptyFrame
	}
	if size > maxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	if cap(scratch) < size {
		scratch = make([]byte, size)
	}
	frame := scratch[:size]
	if _, err := io.ReadFull(r, frame); err != nil {
		return 0, nil, fmt.Errorf("reading frame body: %w", err)
	}
	return frame[0], frame[1:], nil
}
