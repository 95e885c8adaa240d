package cmif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/protocol/hipc"
	"github.com/danmuck/nxipc/internal/testutil/testlog"
)

func newRegion() *kernel.Region {
	return kernel.NewRegion(kernel.DefaultRegionSize)
}

func TestMakeRequestWritesMagicAndCommand(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	req, err := MakeRequest(region, RequestFormat{RequestID: 7, DataSize: 8})
	if err != nil {
		t.Fatalf("make request: %v", err)
	}
	binary.LittleEndian.PutUint64(req.Data(), 0x1122334455667788)

	msg, err := hipc.Parse(region)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if CommandType(msg.Header.Type) != CommandRequest {
		t.Fatalf("expected request type, got %d", msg.Header.Type)
	}
	// padding 16 + header 16 + data 8 = 40 bytes = 10 words
	if msg.Header.NumDataWords != 10 {
		t.Fatalf("expected 10 data words, got %d", msg.Header.NumDataWords)
	}
	raw := region.Bytes()[msg.RawOffset():]
	if string(raw[0:4]) != "SFCI" {
		t.Fatalf("expected SFCI magic, got %q", raw[0:4])
	}
	hdr := DecodeInHeader(raw)
	if hdr.CommandID != 7 || hdr.Version != 0 {
		t.Fatalf("unexpected header %+v", hdr)
	}
	if binary.LittleEndian.Uint64(raw[HeaderSize:]) != 0x1122334455667788 {
		t.Fatalf("payload not at header end")
	}
}

func TestContextSelectsRequestWithContext(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	if _, err := MakeRequest(region, RequestFormat{RequestID: 1, Context: 9}); err != nil {
		t.Fatalf("make request: %v", err)
	}
	msg, _ := hipc.Parse(region)
	if CommandType(msg.Header.Type) != CommandRequestWithContext {
		t.Fatalf("expected request with context, got %d", msg.Header.Type)
	}
	hdr := DecodeInHeader(region.Bytes()[msg.RawOffset():])
	if hdr.Version != 1 || hdr.Token != 9 {
		t.Fatalf("unexpected header %+v", hdr)
	}
}

func TestDomainRequestCarriesObjectID(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	req, err := MakeRequest(region, RequestFormat{ObjectID: 2, RequestID: 5, DataSize: 4, NumObjects: 1, Context: 3})
	if err != nil {
		t.Fatalf("make request: %v", err)
	}
	binary.LittleEndian.PutUint32(req.Data(), 0xAABBCCDD)
	if err := req.AddObject(9); err != nil {
		t.Fatalf("add object: %v", err)
	}
	if err := req.AddObject(10); !errors.Is(err, ErrFormatExceeded) {
		t.Fatalf("expected ErrFormatExceeded, got %v", err)
	}

	sreq, err := ParseRequest(region, true)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if sreq.Domain == nil || sreq.Domain.ObjectID != 2 || sreq.Domain.Type != DomainSendMessage {
		t.Fatalf("unexpected domain header %+v", sreq.Domain)
	}
	if sreq.Domain.DataSize != HeaderSize+4 || sreq.Domain.Token != 3 {
		t.Fatalf("unexpected domain size/token %+v", sreq.Domain)
	}
	if sreq.Header.Token != 0 || sreq.Header.CommandID != 5 {
		t.Fatalf("unexpected in header %+v", sreq.Header)
	}
	if binary.LittleEndian.Uint32(sreq.Payload.Bytes()) != 0xAABBCCDD {
		t.Fatalf("unexpected payload % x", sreq.Payload.Bytes())
	}
	if len(sreq.InObjects) != 1 || sreq.InObjects[0] != 9 {
		t.Fatalf("unexpected objects %v", sreq.InObjects)
	}
}

func TestDomainRequestRejectsOversizedHeaderFields(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	if _, err := MakeRequest(region, RequestFormat{ObjectID: 2, RequestID: 1, NumObjects: 0x100}); !errors.Is(err, ErrFormatExceeded) {
		t.Fatalf("expected ErrFormatExceeded for 256 objects, got %v", err)
	}
	if _, err := MakeRequest(region, RequestFormat{ObjectID: 2, RequestID: 1, DataSize: 0x10000}); !errors.Is(err, ErrFormatExceeded) {
		t.Fatalf("expected ErrFormatExceeded for oversized payload, got %v", err)
	}
	if _, err := MakeRequest(region, RequestFormat{ObjectID: 2, RequestID: 1, NumObjects: 1, DataSize: 8}); err != nil {
		t.Fatalf("expected small domain request to compose, got %v", err)
	}
}

func TestBufferRoundTripThroughSyntheticResponse(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	backing := bytes.Repeat([]byte{0xEE}, 48)
	outs := [][]byte{backing[8:16], backing[24:27], make([]byte, 16)}
	req, err := MakeRequest(region, RequestFormat{RequestID: 3, NumOutBuffers: 2, NumOutFixedPointers: 1, NumInBuffers: 1})
	if err != nil {
		t.Fatalf("make request: %v", err)
	}
	if err := req.AddInBuffer([]byte("in"), hipc.ModeNormal); err != nil {
		t.Fatalf("add in: %v", err)
	}
	if err := req.AddOutBuffer(outs[0], hipc.ModeNormal); err != nil {
		t.Fatalf("add out: %v", err)
	}
	if err := req.AddOutBuffer(outs[1], hipc.ModeNonSecure); err != nil {
		t.Fatalf("add out: %v", err)
	}
	if err := req.AddOutFixedPointer(outs[2]); err != nil {
		t.Fatalf("add pointer: %v", err)
	}

	// Server side: resolve every output descriptor and plant bytes.
	sreq, err := ParseRequest(region, false)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	in, err := region.Resolve(sreq.Message.SendBuffers[0].Address, sreq.Message.SendBuffers[0].Size)
	if err != nil || string(in) != "in" {
		t.Fatalf("resolve in buffer: %q %v", in, err)
	}
	var planted [][]byte
	for i, d := range sreq.Message.RecvBuffers {
		dst, err := region.Resolve(d.Address, d.Size)
		if err != nil {
			t.Fatalf("resolve out %d: %v", i, err)
		}
		for j := range dst {
			dst[j] = byte(0x10*(i+1) + j)
		}
		planted = append(planted, append([]byte(nil), dst...))
	}
	c := sreq.Message.RecvList[0]
	dst, err := region.Resolve(c.Address, uint64(c.Size))
	if err != nil {
		t.Fatalf("resolve pointer: %v", err)
	}
	copy(dst, bytes.Repeat([]byte{0x5A}, len(dst)))
	if _, err := MakeResponse(region, ResponseFormat{}); err != nil {
		t.Fatalf("make response: %v", err)
	}

	resp, err := ParseResponse(region, false, 0)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Data.Len() != 0 {
		t.Fatalf("expected empty data, got %d", resp.Data.Len())
	}
	if !bytes.Equal(outs[0], planted[0]) || !bytes.Equal(outs[1], planted[1]) {
		t.Fatalf("output buffers differ: %x %x", outs[0], outs[1])
	}
	if !bytes.Equal(outs[2], bytes.Repeat([]byte{0x5A}, 16)) {
		t.Fatalf("pointer buffer differs: %x", outs[2])
	}
	for _, span := range [][]byte{backing[0:8], backing[16:24], backing[27:]} {
		for _, b := range span {
			if b != 0xEE {
				t.Fatalf("bytes outside declared buffers corrupted: % x", backing)
			}
		}
	}
}

func TestParseResponseRejectsBadMagicBeforeResult(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	region.Begin()
	if _, err := MakeResponse(region, ResponseFormat{DataSize: 4, Result: 0x1234}); err != nil {
		t.Fatalf("make response: %v", err)
	}
	msg, _ := hipc.Parse(region)
	copy(region.Bytes()[msg.RawOffset():], "XXXX")

	_, err := ParseResponse(region, false, 4)
	if !errors.Is(err, protocol.ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
	var svc *protocol.ServiceError
	if errors.As(err, &svc) {
		t.Fatalf("result code must not be read on bad magic")
	}
}

func TestParseResponseSurfacesServiceError(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	region.Begin()
	if _, err := MakeResponse(region, ResponseFormat{Result: 0x2A0F}); err != nil {
		t.Fatalf("make response: %v", err)
	}
	_, err := ParseResponse(region, false, 0)
	var svc *protocol.ServiceError
	if !errors.As(err, &svc) || svc.Code != 0x2A0F {
		t.Fatalf("expected service error 0x2a0f, got %v", err)
	}
	if protocol.Classify(err) != protocol.ClassService {
		t.Fatalf("expected service class, got %s", protocol.Classify(err))
	}
}

func TestGetPerformanceModeStyleReply(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	if _, err := MakeRequest(region, RequestFormat{RequestID: 1}); err != nil {
		t.Fatalf("make request: %v", err)
	}
	sreq, err := ParseRequest(region, false)
	if err != nil {
		t.Fatalf("parse request: %v", err)
	}
	if sreq.Header.CommandID != 1 {
		t.Fatalf("expected command 1, got %d", sreq.Header.CommandID)
	}
	w, err := MakeResponse(region, ResponseFormat{DataSize: 4})
	if err != nil {
		t.Fatalf("make response: %v", err)
	}
	copy(w.Data(), []byte{0, 0, 0, 0})

	resp, err := ParseResponse(region, false, 4)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if got := int32(binary.LittleEndian.Uint32(resp.Data.Bytes())); got != 0 {
		t.Fatalf("expected mode 0, got %d", got)
	}
}

func TestDomainResponsesDoNotBleed(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	payloads := map[uint32][]byte{1: {1, 1, 1, 1, 1, 1, 1, 1}, 2: {2, 2, 2, 2}}
	for _, id := range []uint32{1, 2} {
		if _, err := MakeRequest(region, RequestFormat{ObjectID: id, RequestID: 0, DataSize: 0}); err != nil {
			t.Fatalf("make request: %v", err)
		}
		sreq, err := ParseRequest(region, true)
		if err != nil {
			t.Fatalf("parse request: %v", err)
		}
		if sreq.Domain.ObjectID != id {
			t.Fatalf("expected object %d, got %d", id, sreq.Domain.ObjectID)
		}
		want := payloads[id]
		w, err := MakeResponse(region, ResponseFormat{IsDomain: true, DataSize: len(want), NumObjects: 1})
		if err != nil {
			t.Fatalf("make response: %v", err)
		}
		copy(w.Data(), want)
		w.SetObject(0, id+10)

		resp, err := ParseResponse(region, true, len(want))
		if err != nil {
			t.Fatalf("parse response: %v", err)
		}
		if !bytes.Equal(resp.Data.Bytes(), want) {
			t.Fatalf("object %d expected % x, got % x", id, want, resp.Data.Bytes())
		}
		if len(resp.Objects) != 1 || resp.Objects[0] != id+10 {
			t.Fatalf("unexpected out objects %v", resp.Objects)
		}
	}
}

func TestAutoSelectBuffers(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	small := []byte("fits")
	large := make([]byte, 0x200)
	req, err := MakeRequest(region, RequestFormat{RequestID: 2, ServerPointerSize: 0x100, NumInAutoBuffers: 2})
	if err != nil {
		t.Fatalf("make request: %v", err)
	}
	if err := req.AddInAutoBuffer(small, hipc.ModeNormal); err != nil {
		t.Fatalf("add small: %v", err)
	}
	if err := req.AddInAutoBuffer(large, hipc.ModeNormal); err != nil {
		t.Fatalf("add large: %v", err)
	}
	msg, err := hipc.Parse(region)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.SendStatics[0].Size != len(small) || msg.SendBuffers[0].Size != 0 {
		t.Fatalf("expected small buffer through pointer, got %+v %+v", msg.SendStatics[0], msg.SendBuffers[0])
	}
	if msg.SendStatics[1].Size != 0 || msg.SendBuffers[1].Size != uint64(len(large)) {
		t.Fatalf("expected large buffer through map alias, got %+v %+v", msg.SendStatics[1], msg.SendBuffers[1])
	}
	if msg.SendStatics[0].Index != 0 || msg.SendStatics[1].Index != 1 {
		t.Fatalf("expected incrementing pointer indices")
	}
}

func TestOutPointerSizeTable(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	out := make([]byte, 0x30)
	req, err := MakeRequest(region, RequestFormat{RequestID: 2, DataSize: 3, NumOutPointers: 1})
	if err != nil {
		t.Fatalf("make request: %v", err)
	}
	if err := req.AddOutPointer(out); err != nil {
		t.Fatalf("add out pointer: %v", err)
	}
	msg, _ := hipc.Parse(region)
	// padding 16 + header 16 + data 3 rounds to 36; the table follows.
	off := msg.DataOffset() + 36
	if got := binary.LittleEndian.Uint16(region.Bytes()[off:]); got != 0x30 {
		t.Fatalf("expected size table entry 0x30, got %#x", got)
	}
	if msg.Header.RecvStaticMode.Count() != 1 {
		t.Fatalf("expected one receive list entry")
	}
}

func TestControlAndCloseRequests(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	payload, err := MakeControlRequest(region, ControlCloneObjectEx, 4)
	if err != nil {
		t.Fatalf("make control: %v", err)
	}
	binary.LittleEndian.PutUint32(payload, 0)
	sreq, err := ParseRequest(region, true)
	if err != nil {
		t.Fatalf("parse control: %v", err)
	}
	if !sreq.Type.IsControl() || sreq.Domain != nil || sreq.Header.CommandID != ControlCloneObjectEx {
		t.Fatalf("unexpected control request %+v", sreq)
	}

	if err := MakeCloseRequest(region, 0); err != nil {
		t.Fatalf("make close: %v", err)
	}
	sreq, err = ParseRequest(region, false)
	if err != nil || !sreq.IsClose() || sreq.Type != CommandClose {
		t.Fatalf("expected session close, got %+v %v", sreq, err)
	}

	if err := MakeCloseRequest(region, 4); err != nil {
		t.Fatalf("make domain close: %v", err)
	}
	sreq, err = ParseRequest(region, true)
	if err != nil || !sreq.IsClose() || sreq.Domain.ObjectID != 4 {
		t.Fatalf("expected domain close of 4, got %+v %v", sreq, err)
	}
}

func TestResponseViewGoesStaleOnNextRequest(t *testing.T) {
	testlog.Start(t)
	region := newRegion()
	region.Begin()
	if _, err := MakeResponse(region, ResponseFormat{DataSize: 4}); err != nil {
		t.Fatalf("make response: %v", err)
	}
	resp, err := ParseResponse(region, false, 4)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if _, err := MakeRequest(region, RequestFormat{RequestID: 1}); err != nil {
		t.Fatalf("make request: %v", err)
	}
	if resp.Data.Valid() {
		t.Fatalf("expected stale response view")
	}
}

func FuzzParseResponse(f *testing.F) {
	region := newRegion()
	region.Begin()
	w, _ := MakeResponse(region, ResponseFormat{IsDomain: true, DataSize: 8, NumObjects: 1})
	w.SetObject(0, 1)
	f.Add(append([]byte(nil), region.Bytes()...), true, 8)
	f.Add(make([]byte, 16), false, 0)
	f.Fuzz(func(t *testing.T, data []byte, isDomain bool, size int) {
		if size < 0 || size > 0x200 {
			return
		}
		r := kernel.NewRegion(len(data) + 8)
		r.Begin()
		copy(r.Bytes(), data)
		resp, err := ParseResponse(r, isDomain, size)
		if err != nil {
			if protocol.Classify(err) == protocol.ClassOther {
				t.Fatalf("unclassified error %v", err)
			}
			return
		}
		if resp.Data.Len() != size {
			t.Fatalf("expected %d data bytes, got %d", size, resp.Data.Len())
		}
	})
}
