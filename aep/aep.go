// Package aep implements the AppleTalk Echo Protocol: DDP type
// 4 on socket 4, request in, reply out with the payload echoed back.
package aep

import "github.com/lampmerchant/tashrouter/ddp"

// Echo function codes, carried in the first payload byte.
const (
	FuncRequest = 1
	FuncReply   = 2
)

// Reply builds the Echo Reply for an Echo Request: source and destination
// swapped, function byte flipped to reply, remainder of the payload copied
// verbatim. ok is false when dg is not an Echo Request.
func Reply(dg *ddp.Datagram) (*ddp.Datagram, bool) {
	if dg.Type != ddp.TypeEcho || len(dg.Data) < 1 || dg.Data[0] != FuncRequest {
		return nil, false
	}
	data := make([]byte, len(dg.Data))
	copy(data, dg.Data)
	data[0] = FuncReply
	return &ddp.Datagram{
		Long: true,
		Src:  dg.Dst,
		Dst:  dg.Src,
		Type: ddp.TypeEcho,
		Data: data,
	}, true
}
