package link

import (
	"bufio"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TashTalk byte framing: each LLAP frame crosses the serial link
// preceded by a one-byte length prefix. A frame longer than one prefix byte
// can express is carried by repeating the 0xFF escape — every 0xFF prefix
// byte adds 255 to the length and the first non-0xFF byte finishes it, so
// a 594-byte frame goes out as 0xFF 0xFF 0x54.
const tashTalkLenEscape = 0xFF

// EncodeTashTalkFrame prepends frame's length prefix.
func EncodeTashTalkFrame(frame []byte) []byte {
	n := len(frame)
	out := make([]byte, 0, n+n/255+1)
	for n >= tashTalkLenEscape {
		out = append(out, tashTalkLenEscape)
		n -= tashTalkLenEscape
	}
	out = append(out, byte(n))
	return append(out, frame...)
}

// TashTalkFramer reads length-prefixed frames off a serial byte stream.
type TashTalkFramer struct {
	r *bufio.Reader
}

// NewTashTalkFramer wraps r.
func NewTashTalkFramer(r io.Reader) *TashTalkFramer {
	return &TashTalkFramer{r: bufio.NewReader(r)}
}

// ReadFrame blocks until one whole frame has arrived. A zero-length frame
// is legal on the wire (the modem uses it as a keepalive) and is returned
// as an empty, non-nil slice.
func (t *TashTalkFramer) ReadFrame() ([]byte, error) {
	n := 0
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return nil, err
		}
		n += int(b)
		if b != tashTalkLenEscape {
			break
		}
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(t.r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// TashTalk carries LLAP frames over a serial line to an external packet
// modem. The serial port itself is opened by whoever constructs the driver;
// the driver owns framing only. On the wire each frame is the length prefix
// followed by [dst node][src node][LLAP type][payload...], the same LLAP
// layout LToUDP uses minus the UDP sender tag (the serial line is
// point-to-point, so there are no self-broadcasts to filter).
type TashTalk struct {
	rw     io.ReadWriteCloser
	frames chan Frame
	log    *logrus.Entry

	mu    sync.Mutex
	local byte
}

// NewTashTalk wraps an open serial line.
func NewTashTalk(rw io.ReadWriteCloser, log *logrus.Entry) *TashTalk {
	t := &TashTalk{rw: rw, frames: make(chan Frame), log: log}
	go t.readLoop()
	return t
}

// Frames implements Driver.
func (t *TashTalk) Frames() <-chan Frame { return t.frames }

// Broadcast implements Driver.
func (t *TashTalk) Broadcast() Addr { return LocalTalkBroadcast }

// MaxPayload implements Driver.
func (t *TashTalk) MaxPayload() int { return MaxFramePayload }

// Bind implements Driver.
func (t *TashTalk) Bind(a Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.local = a.Node()
}

// Transmit implements Driver.
func (t *TashTalk) Transmit(k Kind, payload []byte, dst Addr) error {
	t.mu.Lock()
	src := t.local
	t.mu.Unlock()

	var llapType byte
	switch k {
	case KindDDPShort:
		llapType = llapTypeDDPShort
	case KindDDPLong:
		llapType = llapTypeDDPLong
	case KindEnq:
		llapType = llapTypeEnq
	case KindAck:
		llapType = llapTypeAck
	default:
		return errors.Wrapf(ErrTransmitFailed, "tashtalk: frame kind %d not carried on LocalTalk", k)
	}

	frame := make([]byte, 0, 3+len(payload))
	frame = append(frame, dst.Node(), src, llapType)
	frame = append(frame, payload...)
	if _, err := t.rw.Write(EncodeTashTalkFrame(frame)); err != nil {
		return errors.Wrap(ErrTransmitFailed, err.Error())
	}
	return nil
}

// Close implements Driver.
func (t *TashTalk) Close() error {
	return t.rw.Close()
}

func (t *TashTalk) readLoop() {
	defer close(t.frames)
	framer := NewTashTalkFramer(t.rw)
	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			return
		}
		if len(frame) < 3 {
			continue
		}
		var k Kind
		switch frame[2] {
		case llapTypeDDPShort:
			k = KindDDPShort
		case llapTypeDDPLong:
			k = KindDDPLong
		case llapTypeEnq:
			k = KindEnq
		case llapTypeAck:
			k = KindAck
		default:
			continue
		}
		payload := make([]byte, len(frame)-3)
		copy(payload, frame[3:])
		t.frames <- Frame{Kind: k, Payload: payload, Src: NodeAddr(frame[1]), Dst: NodeAddr(frame[0])}
	}
}
