package port

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lampmerchant/tashrouter/config"
	"github.com/lampmerchant/tashrouter/ddp"
	"github.com/lampmerchant/tashrouter/link"
	"github.com/lampmerchant/tashrouter/netrange"
	"github.com/lampmerchant/tashrouter/rtmp"
)

// fakeDriver is an in-memory link.Driver: injected frames flow to the
// port, transmitted frames are recorded.
type fakeDriver struct {
	frames chan link.Frame

	closeMu sync.Mutex
	closed  bool

	mu   sync.Mutex
	sent []sentFrame
}

type sentFrame struct {
	kind    link.Kind
	payload []byte
	dst     link.Addr
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{frames: make(chan link.Frame, 16)}
}

func (d *fakeDriver) Frames() <-chan link.Frame { return d.frames }
func (d *fakeDriver) Broadcast() link.Addr      { return link.LocalTalkBroadcast }
func (d *fakeDriver) MaxPayload() int           { return link.MaxFramePayload }
func (d *fakeDriver) Bind(a link.Addr)          {}

func (d *fakeDriver) Transmit(k link.Kind, payload []byte, dst link.Addr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, sentFrame{kind: k, payload: append([]byte(nil), payload...), dst: dst})
	return nil
}

func (d *fakeDriver) Close() error {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.frames)
	}
	return nil
}

func (d *fakeDriver) inject(f link.Frame) {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return
	}
	d.frames <- f
}

func (d *fakeDriver) sentMatching(pred func(sentFrame) bool) []sentFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []sentFrame
	for _, s := range d.sent {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AARPProbeInterval = time.Millisecond
	cfg.AARPProbeCount = 2
	cfg.AARPRetryLimit = 20
	cfg.PortStartupTimeout = 200 * time.Millisecond
	cfg.StopTimeout = 500 * time.Millisecond
	return cfg
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestSeededPortComesOnline(t *testing.T) {
	drv := newFakeDriver()
	p := New(Settings{
		Name:      "lan0",
		Driver:    drv,
		SeedRange: netrange.Single(3),
	}, testConfig(), testLog())

	online := make(chan struct{})
	p.OnOnline = func(*Port) { close(online) }
	p.Start()
	defer p.Stop()

	select {
	case <-online:
	case <-time.After(2 * time.Second):
		t.Fatal("port never came online")
	}
	assert.Equal(t, Online, p.State())
	assert.Equal(t, netrange.Single(3), p.NetworkRange())

	addr := p.LocalAddress()
	assert.EqualValues(t, 3, addr.Network)
	assert.True(t, addr.Node.UserRange(), "node %d not in user range", addr.Node)
}

func TestNodeCollisionPicksAnotherCandidate(t *testing.T) {
	drv := newFakeDriver()
	cfg := testConfig()
	cfg.AARPProbeInterval = 20 * time.Millisecond
	p := New(Settings{
		Name:      "lan0",
		Driver:    drv,
		SeedRange: netrange.Single(3),
	}, cfg, testLog())

	online := make(chan struct{})
	p.OnOnline = func(*Port) { close(online) }

	// Answer the first probed candidate's enquiries with Acks, forcing the
	// port onto a different node number.
	var mu sync.Mutex
	var claimed byte
	go func() {
		for {
			select {
			case <-online:
				return
			case <-time.After(time.Millisecond):
			}
			enqs := drv.sentMatching(func(s sentFrame) bool { return s.kind == link.KindEnq })
			if len(enqs) == 0 {
				continue
			}
			mu.Lock()
			if claimed == 0 {
				claimed = enqs[0].dst.Node()
			}
			c := claimed
			mu.Unlock()
			drv.inject(link.Frame{Kind: link.KindAck, Src: link.NodeAddr(200), Dst: link.NodeAddr(c)})
		}
	}()

	p.Start()

	select {
	case <-online:
	case <-time.After(5 * time.Second):
		t.Fatal("port never came online")
	}

	mu.Lock()
	c := claimed
	mu.Unlock()
	require.NotZero(t, c)
	assert.NotEqual(t, c, byte(p.LocalAddress().Node), "port adopted a node another station claimed")
	p.Stop()
}

func TestNonSeededPortLearnsNetworkFromRTMP(t *testing.T) {
	drv := newFakeDriver()
	p := New(Settings{Name: "lan0", Driver: drv}, testConfig(), testLog())

	online := make(chan struct{})
	p.OnOnline = func(*Port) { close(online) }
	p.Start()
	defer p.Stop()

	// The port should announce itself with a GetNetInfo broadcast first.
	require.Eventually(t, func() bool {
		return len(drv.sentMatching(func(s sentFrame) bool { return s.kind == link.KindDDPLong })) > 0
	}, time.Second, time.Millisecond)

	// A neighboring router's RTMP data packet reveals network 5.
	adv := &ddp.Datagram{
		Long: true,
		Src:  ddp.Address{Network: 5, Node: 40, Socket: ddp.SocketRTMP},
		Dst:  ddp.Address{Network: 0, Node: ddp.Broadcast, Socket: ddp.SocketRTMP},
		Type: ddp.TypeRTMPData,
		Data: rtmp.EncodeData(5, 40, []rtmp.Tuple{{Range: netrange.Single(5), Distance: 0}}),
	}
	drv.inject(link.Frame{
		Kind:    link.KindDDPLong,
		Payload: adv.EncodeLong(false),
		Src:     link.NodeAddr(40),
		Dst:     link.NodeAddr(255),
	})

	select {
	case <-online:
	case <-time.After(2 * time.Second):
		t.Fatal("port never came online")
	}
	assert.Equal(t, netrange.Single(5), p.NetworkRange())
}

func TestNonSeededPortTimesOut(t *testing.T) {
	drv := newFakeDriver()
	cfg := testConfig()
	cfg.PortStartupTimeout = 50 * time.Millisecond
	p := New(Settings{Name: "lan0", Driver: drv}, cfg, testLog())

	fatal := make(chan error, 1)
	p.OnFatal = func(_ *Port, err error) { fatal <- err }
	p.Start()

	select {
	case err := <-fatal:
		assert.True(t, errors.Is(err, ErrPortStartupTimeout), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error")
	}
	assert.Equal(t, Stopped, p.State())
}

func TestOnlinePortAnswersEnqForItsNode(t *testing.T) {
	drv := newFakeDriver()
	p := New(Settings{Name: "lan0", Driver: drv, SeedRange: netrange.Single(3)}, testConfig(), testLog())

	online := make(chan struct{})
	p.OnOnline = func(*Port) { close(online) }
	p.Start()
	defer p.Stop()
	<-online

	node := byte(p.LocalAddress().Node)
	drv.inject(link.Frame{Kind: link.KindEnq, Src: link.NodeAddr(77), Dst: link.NodeAddr(node)})

	require.Eventually(t, func() bool {
		acks := drv.sentMatching(func(s sentFrame) bool {
			return s.kind == link.KindAck && s.dst.Node() == 77
		})
		return len(acks) == 1
	}, time.Second, time.Millisecond)
}

func TestInboundDatagramReachesCallback(t *testing.T) {
	drv := newFakeDriver()
	p := New(Settings{Name: "lan0", Driver: drv, SeedRange: netrange.Single(3)}, testConfig(), testLog())

	online := make(chan struct{})
	p.OnOnline = func(*Port) { close(online) }
	got := make(chan *ddp.Datagram, 1)
	p.OnInbound = func(_ *Port, dg *ddp.Datagram) { got <- dg }
	p.Start()
	defer p.Stop()
	<-online

	dg := &ddp.Datagram{
		Long: true,
		Src:  ddp.Address{Network: 3, Node: 9, Socket: 4},
		Dst:  ddp.Address{Network: 3, Node: p.LocalAddress().Node, Socket: 4},
		Type: ddp.TypeEcho,
		Data: []byte{1, 0xAB},
	}
	drv.inject(link.Frame{Kind: link.KindDDPLong, Payload: dg.EncodeLong(false), Src: link.NodeAddr(9), Dst: link.NodeAddr(byte(p.LocalAddress().Node))})

	select {
	case in := <-got:
		assert.Equal(t, dg.Src, in.Src)
		assert.Equal(t, dg.Dst, in.Dst)
	case <-time.After(time.Second):
		t.Fatal("datagram never delivered")
	}
}

func TestShortFormFilledFromLinkContext(t *testing.T) {
	drv := newFakeDriver()
	p := New(Settings{Name: "lan0", Driver: drv, SeedRange: netrange.Single(3)}, testConfig(), testLog())

	online := make(chan struct{})
	p.OnOnline = func(*Port) { close(online) }
	got := make(chan *ddp.Datagram, 1)
	p.OnInbound = func(_ *Port, dg *ddp.Datagram) { got <- dg }
	p.Start()
	defer p.Stop()
	<-online

	short := &ddp.Datagram{
		Dst:  ddp.Address{Socket: 4},
		Src:  ddp.Address{Socket: 4},
		Type: ddp.TypeEcho,
		Data: []byte{1},
	}
	node := byte(p.LocalAddress().Node)
	drv.inject(link.Frame{Kind: link.KindDDPShort, Payload: short.EncodeShort(false), Src: link.NodeAddr(21), Dst: link.NodeAddr(node)})

	select {
	case in := <-got:
		assert.EqualValues(t, 3, in.Src.Network)
		assert.EqualValues(t, 21, in.Src.Node)
		assert.EqualValues(t, 3, in.Dst.Network)
		assert.EqualValues(t, node, in.Dst.Node)
	case <-time.After(time.Second):
		t.Fatal("datagram never delivered")
	}
}

func TestMalformedDatagramCounted(t *testing.T) {
	drv := newFakeDriver()
	p := New(Settings{Name: "lan0", Driver: drv, SeedRange: netrange.Single(3)}, testConfig(), testLog())

	online := make(chan struct{})
	p.OnOnline = func(*Port) { close(online) }
	p.Start()
	defer p.Stop()
	<-online

	drv.inject(link.Frame{Kind: link.KindDDPLong, Payload: []byte{0x00, 0x01}, Src: link.NodeAddr(9), Dst: link.NodeAddr(1)})

	require.Eventually(t, func() bool {
		return p.Malformed.Value() == 1
	}, time.Second, time.Millisecond)
}
