package link

import (
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// LToUDP wire constants: LLAP frames broadcast over UDP port 1954
// to the 239.192.76.84 multicast group, each payload tagged with the
// sender's LLAP node number so receivers can drop their own broadcasts.
const (
	LToUDPPort = 1954
)

// LToUDPGroup is the LToUDP multicast group address.
var LToUDPGroup = net.IPv4(239, 192, 76, 84)

// LToUDP carries LLAP frames over UDP multicast. Every UDP payload is
// [1 byte sender node][dst node][src node][LLAP type][payload...].
type LToUDP struct {
	conn   *net.UDPConn
	group  *net.UDPAddr
	frames chan Frame
	log    *logrus.Entry

	mu    sync.Mutex
	local byte
	bound map[byte]bool // every node number ever bound, for self-filtering
}

// DialLToUDP opens the shared LToUDP socket and joins the multicast group.
// SO_REUSEPORT lets several LToUDP ports (or several routers on one host)
// share UDP port 1954.
func DialLToUDP(log *logrus.Entry) (*LToUDP, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "ltoudp: socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "ltoudp: SO_REUSEADDR")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "ltoudp: SO_REUSEPORT")
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: LToUDPPort}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "ltoudp: bind")
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], LToUDPGroup.To4())
	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "ltoudp: IP_ADD_MEMBERSHIP")
	}
	f := os.NewFile(uintptr(fd), "ltoudp")
	pc, err := net.FilePacketConn(f)
	f.Close()
	if err != nil {
		return nil, errors.Wrap(err, "ltoudp: FilePacketConn")
	}

	l := &LToUDP{
		conn:   pc.(*net.UDPConn),
		group:  &net.UDPAddr{IP: LToUDPGroup, Port: LToUDPPort},
		frames: make(chan Frame),
		log:    log,
		bound:  map[byte]bool{},
	}
	go l.readLoop()
	return l, nil
}

// Frames implements Driver.
func (l *LToUDP) Frames() <-chan Frame { return l.frames }

// Broadcast implements Driver.
func (l *LToUDP) Broadcast() Addr { return LocalTalkBroadcast }

// MaxPayload implements Driver.
func (l *LToUDP) MaxPayload() int { return MaxFramePayload }

// Bind implements Driver: node a becomes the frame source address for
// transmits, and joins the self-filter set permanently. Received packets
// whose leading source-node byte names any node ever bound here are our
// own broadcasts and are dropped.
func (l *LToUDP) Bind(a Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.local = a.Node()
	l.bound[a.Node()] = true
}

// Transmit implements Driver.
func (l *LToUDP) Transmit(k Kind, payload []byte, dst Addr) error {
	l.mu.Lock()
	src := l.local
	l.mu.Unlock()

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
		return errors.Wrapf(ErrTransmitFailed, "ltoudp: frame kind %d not carried on LocalTalk", k)
	}

	buf := make([]byte, 0, 4+len(payload))
	buf = append(buf, src, dst.Node(), src, llapType)
	buf = append(buf, payload...)
	if _, err := l.conn.WriteToUDP(buf, l.group); err != nil {
		return errors.Wrap(ErrTransmitFailed, err.Error())
	}
	return nil
}

// Close implements Driver. The read loop's channel closes once the socket
// read fails.
func (l *LToUDP) Close() error {
	return l.conn.Close()
}

func (l *LToUDP) readLoop() {
	defer close(l.frames)
	buf := make([]byte, 1024)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		f, ok := l.parse(buf[:n])
		if !ok {
			continue
		}
		l.frames <- f
	}
}

// parse splits one UDP payload into a Frame, dropping self-originated
// packets and anything too short to carry an LLAP header.
func (l *LToUDP) parse(pkt []byte) (Frame, bool) {
	f, tag, ok := parseLToUDPPayload(pkt)
	if !ok {
		return Frame{}, false
	}
	l.mu.Lock()
	self := l.bound[tag]
	l.mu.Unlock()
	if self {
		return Frame{}, false
	}
	return f, true
}

// parseLToUDPPayload decodes the LToUDP wire layout [sender tag][dst][src]
// [LLAP type][payload], returning the frame and the sender tag the caller
// checks against its own bound nodes. Split out from the driver so the wire
// format is testable without a socket.
func parseLToUDPPayload(pkt []byte) (Frame, byte, bool) {
	if len(pkt) < 4 {
		return Frame{}, 0, false
	}
	tag := pkt[0]
	dst := pkt[1]
	src := pkt[2]
	var k Kind
	switch pkt[3] {
	case llapTypeDDPShort:
		k = KindDDPShort
	case llapTypeDDPLong:
		k = KindDDPLong
	case llapTypeEnq:
		k = KindEnq
	case llapTypeAck:
		k = KindAck
	default:
		return Frame{}, 0, false
	}
	payload := make([]byte, len(pkt)-4)
	copy(payload, pkt[4:])
	return Frame{Kind: k, Payload: payload, Src: NodeAddr(src), Dst: NodeAddr(dst)}, tag, true
}

// buildLToUDPPayload is the transmit-side counterpart of
// parseLToUDPPayload, exposed for tests.
func buildLToUDPPayload(k Kind, src, dst byte, payload []byte) []byte {
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
	}
	buf := make([]byte, 0, 4+len(payload))
	buf = append(buf, src, dst, src, llapType)
	return append(buf, payload...)
}
