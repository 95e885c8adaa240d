package hipc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/nxipc/internal/kernel"
	"github.com/danmuck/nxipc/internal/protocol"
	"github.com/danmuck/nxipc/internal/testutil/testlog"
)

func TestHeaderRoundTrip(t *testing.T) {
	testlog.Start(t)
	h := Header{
		Type:             0x1234,
		NumSendStatics:   1,
		NumSendBuffers:   2,
		NumRecvBuffers:   3,
		NumExchBuffers:   15,
		NumDataWords:     0x3FF,
		RecvStaticMode:   RecvStaticExplicit(4),
		RecvListOffset:   0x7FF,
		HasSpecialHeader: true,
	}
	var b [HeaderSize]byte
	h.Encode(b[:])
	if got := DecodeHeader(b[:]); got != h {
		t.Fatalf("expected %+v, got %+v", h, got)
	}
	// word0 low half is the message type, bit 31 of word1 the special flag.
	if b[0] != 0x34 || b[1] != 0x12 || b[7]&0x80 == 0 {
		t.Fatalf("unexpected wire bytes % x", b)
	}
}

func TestSpecialHeaderRoundTrip(t *testing.T) {
	testlog.Start(t)
	s := SpecialHeader{SendPID: true, NumCopyHandles: 3, NumMoveHandles: 15}
	var b [SpecialHeaderSize]byte
	s.Encode(b[:])
	if got := DecodeSpecialHeader(b[:]); got != s {
		t.Fatalf("expected %+v, got %+v", s, got)
	}
}

func TestDescriptorRoundTrips(t *testing.T) {
	testlog.Start(t)
	st := StaticDescriptor{Index: 0x2A, Address: 0x3_A123_4567_89, Size: 0xBEEF}
	var sb [StaticDescriptorSize]byte
	st.Encode(sb[:])
	if got := DecodeStaticDescriptor(sb[:]); got != st {
		t.Fatalf("static: expected %+v, got %+v", st, got)
	}

	bd := BufferDescriptor{Address: 0x3FF_FFFF_1234_5678 & (1<<58 - 1), Size: 0xF_0000_0010, Mode: ModeNonDevice}
	var bb [BufferDescriptorSize]byte
	bd.Encode(bb[:])
	if got := DecodeBufferDescriptor(bb[:]); got != bd {
		t.Fatalf("buffer: expected %+v, got %+v", bd, got)
	}

	re := RecvListEntry{Address: 0xABCD_1234_5678, Size: 0x100}
	var rb [RecvListEntrySize]byte
	re.Encode(rb[:])
	if got := DecodeRecvListEntry(rb[:]); got != re {
		t.Fatalf("recv list: expected %+v, got %+v", re, got)
	}
}

func TestRecvStaticModeCounts(t *testing.T) {
	testlog.Start(t)
	if RecvStaticNone.Count() != 0 || RecvStaticMode(1).Count() != 0 {
		t.Fatalf("expected modes 0 and 1 to carry no entries")
	}
	if RecvStaticAuto.Count() != 1 {
		t.Fatalf("expected auto mode to carry one entry")
	}
	if got := RecvStaticExplicit(3); got != 5 || got.Count() != 3 {
		t.Fatalf("expected explicit(3) to encode 5, got %d", got)
	}
}

func TestRawSectionAlignment(t *testing.T) {
	testlog.Start(t)
	metas := []Metadata{
		{Type: 4},
		{Type: 4, NumCopyHandles: 1},
		{Type: 4, SendPID: true, NumCopyHandles: 1, NumMoveHandles: 1},
		{Type: 4, NumSendStatics: 1, NumRecvBuffers: 1},
	}
	for _, base := range metas {
		for _, size := range []int{0, 1, 4, 7, 16, 17, 100} {
			region := kernel.NewRegion(0)
			region.Begin()
			m := base
			m.NumDataWords = DataWordsFor(size)
			req, err := Compose(region, m)
			if err != nil {
				t.Fatalf("compose size=%d: %v", size, err)
			}
			if req.RawOffset()%16 != 0 {
				t.Fatalf("expected aligned raw offset, got %d", req.RawOffset())
			}
			raw, err := req.Raw(size)
			if err != nil {
				t.Fatalf("raw size=%d: %v", size, err)
			}
			want := make([]byte, size)
			for i := range want {
				want[i] = byte(i*7 + 1)
			}
			copy(raw, want)

			msg, err := Parse(region)
			if err != nil {
				t.Fatalf("parse size=%d: %v", size, err)
			}
			if msg.RawOffset() != req.RawOffset() {
				t.Fatalf("expected parse offset %d, got %d", req.RawOffset(), msg.RawOffset())
			}
			got, err := msg.Raw(size)
			if err != nil {
				t.Fatalf("parse raw size=%d: %v", size, err)
			}
			if !bytes.Equal(got.Bytes(), want) {
				t.Fatalf("size=%d expected % x, got % x", size, want, got.Bytes())
			}
		}
	}
}

func TestComposeParseSectionOrder(t *testing.T) {
	testlog.Start(t)
	region := kernel.NewRegion(0)
	region.Begin()
	req, err := Compose(region, Metadata{
		Type:           6,
		NumSendStatics: 1,
		NumSendBuffers: 1,
		NumRecvBuffers: 1,
		NumExchBuffers: 1,
		NumDataWords:   8,
		RecvStatic:     RecvStaticExplicit(2),
		SendPID:        true,
		NumCopyHandles: 2,
		NumMoveHandles: 1,
	})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	req.SetPID(0x77)
	req.SetCopyHandle(0, 0x10)
	req.SetCopyHandle(1, 0x11)
	req.SetMoveHandle(0, 0x20)
	req.SetSendStatic(0, StaticDescriptor{Index: 1, Address: 0x30_0000_0000, Size: 8})
	req.SetSendBuffer(0, BufferDescriptor{Address: 0x30_0000_1000, Size: 16, Mode: ModeNonSecure})
	req.SetRecvBuffer(0, BufferDescriptor{Address: 0x30_0000_2000, Size: 32})
	req.SetExchBuffer(0, BufferDescriptor{Address: 0x30_0000_3000, Size: 64})
	req.SetRecvListEntry(0, RecvListEntry{Address: 0x30_0000_4000, Size: 0x40})
	req.SetRecvListEntry(1, RecvListEntry{Address: 0x30_0000_5000, Size: 0x80})

	// header 8, special 4, pid 8, 3 handles, X 8, A/B/W 36
	if req.DataOffset() != 8+4+8+12+8+36 {
		t.Fatalf("unexpected data offset %d", req.DataOffset())
	}

	msg, err := Parse(region)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.PID != 0x77 {
		t.Fatalf("expected pid 0x77, got %#x", msg.PID)
	}
	if len(msg.CopyHandles) != 2 || msg.CopyHandles[1] != 0x11 || msg.MoveHandles[0] != 0x20 {
		t.Fatalf("unexpected handles copy=%v move=%v", msg.CopyHandles, msg.MoveHandles)
	}
	if msg.SendStatics[0].Index != 1 || msg.SendBuffers[0].Mode != ModeNonSecure {
		t.Fatalf("unexpected descriptors %+v %+v", msg.SendStatics, msg.SendBuffers)
	}
	if msg.RecvBuffers[0].Size != 32 || msg.ExchBuffers[0].Size != 64 {
		t.Fatalf("unexpected buffers %+v %+v", msg.RecvBuffers, msg.ExchBuffers)
	}
	if len(msg.RecvList) != 2 || msg.RecvList[1].Size != 0x80 {
		t.Fatalf("unexpected recv list %+v", msg.RecvList)
	}
}

func TestParseWithoutSpecialHeaderReportsNoPID(t *testing.T) {
	testlog.Start(t)
	region := kernel.NewRegion(0)
	region.Begin()
	if _, err := Compose(region, Metadata{NumDataWords: 4}); err != nil {
		t.Fatalf("compose: %v", err)
	}
	msg, err := Parse(region)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.PID != NoPID || len(msg.CopyHandles) != 0 {
		t.Fatalf("expected no pid and no handles, got pid=%#x handles=%v", msg.PID, msg.CopyHandles)
	}
}

func TestComposeRejectsOversizedLayouts(t *testing.T) {
	testlog.Start(t)
	region := kernel.NewRegion(0)
	region.Begin()
	if _, err := Compose(region, Metadata{NumDataWords: 0x100}); !errors.Is(err, protocol.ErrRegionTooSmall) {
		t.Fatalf("expected ErrRegionTooSmall, got %v", err)
	}
	if _, err := Compose(region, Metadata{NumCopyHandles: 16}); !errors.Is(err, protocol.ErrTooManyDescriptors) {
		t.Fatalf("expected ErrTooManyDescriptors, got %v", err)
	}
	if _, err := Compose(region, Metadata{NumDataWords: 1024}); !errors.Is(err, protocol.ErrParse) {
		t.Fatalf("expected parse class, got %v", err)
	}
}

func TestParseRejectsTruncatedRegions(t *testing.T) {
	testlog.Start(t)
	small := kernel.NewRegion(4)
	small.Begin()
	if _, err := Parse(small); !errors.Is(err, protocol.ErrRegionTooSmall) {
		t.Fatalf("expected ErrRegionTooSmall, got %v", err)
	}

	region := kernel.NewRegion(32)
	region.Begin()
	Header{NumDataWords: 20}.Encode(region.Bytes())
	if _, err := Parse(region); !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}

	region.Begin()
	Header{HasSpecialHeader: true}.Encode(region.Bytes())
	SpecialHeader{NumMoveHandles: 15}.Encode(region.Bytes()[HeaderSize:])
	if _, err := Parse(region); !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated for handles, got %v", err)
	}
}

func TestZeroLengthBufferKeepsSlot(t *testing.T) {
	testlog.Start(t)
	region := kernel.NewRegion(0)
	region.Begin()
	req, err := Compose(region, Metadata{NumSendBuffers: 2, NumDataWords: 4})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	req.SetSendBuffer(0, BufferDescriptor{})
	req.SetSendBuffer(1, BufferDescriptor{Address: 0x30_0000_0000, Size: 4})
	msg, err := Parse(region)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(msg.SendBuffers) != 2 || msg.SendBuffers[0].Size != 0 || msg.SendBuffers[1].Size != 4 {
		t.Fatalf("unexpected send buffers %+v", msg.SendBuffers)
	}
}

func FuzzParse(f *testing.F) {
	seed := kernel.NewRegion(0)
	seed.Begin()
	req, _ := Compose(seed, Metadata{Type: 4, NumCopyHandles: 1, NumSendStatics: 1, NumDataWords: 8, RecvStatic: RecvStaticAuto})
	req.SetCopyHandle(0, 1)
	f.Add(append([]byte(nil), seed.Bytes()...))
	f.Add([]byte{0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF})
	f.Fuzz(func(t *testing.T, data []byte) {
		region := kernel.NewRegion(len(data) + 1)
		region.Begin()
		copy(region.Bytes(), data)
		msg, err := Parse(region)
		if err != nil {
			if !errors.Is(err, protocol.ErrParse) {
				t.Fatalf("expected parse-class error, got %v", err)
			}
			return
		}
		if msg.DataOffset()+msg.Data.Len() > region.Len() {
			t.Fatalf("data view escapes region")
		}
	})
}
