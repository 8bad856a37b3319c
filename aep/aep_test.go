package aep

import (
	"testing"

	"github.com/lampmerchant/tashrouter/ddp"
)

func TestReplySwapsAddressesAndEchoesPayload(t *testing.T) {
	req := &ddp.Datagram{
		Long: true,
		Src:  ddp.Address{Network: 1, Node: 5, Socket: 4},
		Dst:  ddp.Address{Network: 2, Node: 7, Socket: 4},
		Type: ddp.TypeEcho,
		Data: []byte{FuncRequest, 0xAB, 0xCD},
	}
	reply, ok := Reply(req)
	if !ok {
		t.Fatal("expected a reply")
	}
	if reply.Src != req.Dst || reply.Dst != req.Src {
		t.Fatalf("addresses not swapped: %+v", reply)
	}
	if reply.Data[0] != FuncReply {
		t.Fatalf("function byte = %d, want %d", reply.Data[0], FuncReply)
	}
	if string(reply.Data[1:]) != string(req.Data[1:]) {
		t.Fatalf("payload not echoed: %v", reply.Data)
	}
}

func TestReplyLeavesRequestUntouched(t *testing.T) {
	req := &ddp.Datagram{Type: ddp.TypeEcho, Data: []byte{FuncRequest, 1, 2}}
	Reply(req)
	if req.Data[0] != FuncRequest {
		t.Fatal("request payload mutated")
	}
}

func TestReplyIgnoresNonRequests(t *testing.T) {
	for _, dg := range []*ddp.Datagram{
		{Type: ddp.TypeEcho, Data: []byte{FuncReply, 1}},
		{Type: ddp.TypeEcho, Data: nil},
		{Type: ddp.TypeNBP, Data: []byte{FuncRequest}},
	} {
		if _, ok := Reply(dg); ok {
			t.Fatalf("unexpected reply for %+v", dg)
		}
	}
}
