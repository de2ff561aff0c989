package proto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Frame types
const (
	FrameTypeRegister = 1
	FrameTypePaired   = 2
	FrameTypeData     = 3
	FrameTypeError    = 4
)

// MaxFrameSize bounds a single encoded frame.
const MaxFrameSize = 1024 * 1024

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// Error codes sent by the rendezvous server.
const (
	CodeNameTaken  = "NAME_TAKEN"
	CodeBadRequest = "BAD_REQUEST"
)

// RegisterFrame is the first frame on a rendezvous stream. An empty Target
// means advertise Name and wait; otherwise connect to Target.
type RegisterFrame struct {
	Name   string `json:"name"`
	Target string `json:"target,omitempty"`
}

// PairedFrame tells both ends that the streams are now spliced.
type PairedFrame struct {
	Peer string `json:"peer"`
}

// DataFrame carries one sealed payload between bridges.
type DataFrame struct {
	Payload []byte `json:"payload"`
}

// ErrorFrame
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorFrame) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Frame is the top-level wire message
type Frame struct {
	Type     int            `json:"t"`
	Register *RegisterFrame `json:"r,omitempty"`
	Paired   *PairedFrame   `json:"p,omitempty"`
	Data     *DataFrame     `json:"d,omitempty"`
	Error    *ErrorFrame    `json:"e,omitempty"`
}

// Encode writes a length-prefixed JSON frame to w
func (f *Frame) Encode(w io.Writer) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	// 4-byte big-endian length prefix, written together with the body so a
	// frame never straddles two writes.
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err = w.Write(buf)
	return err
}

// Decode reads a length-prefixed JSON frame from r
func (f *Frame) Decode(r io.Reader) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return ErrFrameTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	*f = Frame{}
	return json.Unmarshal(data, f)
}
