package blackboard

import "testing"

func TestReadWriteBitsLittleEndian(t *testing.T) {
	b := New(4)
	b.WriteBits(Little, 0, 2, 0xBEEF)
	if got := b.ReadBits(Little, 0, 2); got != 0xBEEF {
		t.Fatalf("got %x want %x", got, 0xBEEF)
	}
	if b.Bytes()[0] != 0xEF || b.Bytes()[1] != 0xBE {
		t.Fatalf("unexpected byte order: %v", b.Bytes()[:2])
	}
}

func TestReadWriteBitsBigEndian(t *testing.T) {
	b := New(4)
	b.WriteBits(Big, 0, 2, 0xBEEF)
	if b.Bytes()[0] != 0xBE || b.Bytes()[1] != 0xEF {
		t.Fatalf("unexpected byte order: %v", b.Bytes()[:2])
	}
	if got := b.ReadBits(Big, 0, 2); got != 0xBEEF {
		t.Fatalf("got %x want %x", got, 0xBEEF)
	}
}

// TestBitFieldMerge pins the byte layout of a 16-bit block, A{pos=1,size=2},
// B{pos=3,size=3,max=6}. Writing A=2 while B=5 yields 0x2C little-endian
// first byte.
func TestBitFieldMerge(t *testing.T) {
	b := New(2)
	b.WriteBitField(Little, 0, 2, 3, 3, 5) // B = 5
	b.WriteBitField(Little, 0, 2, 1, 2, 2) // A = 2, must preserve B
	word := b.ReadBits(Little, 0, 2)
	if word != 0x2C {
		t.Fatalf("got %#x want %#x", word, 0x2C)
	}
	if got := b.ReadBitField(Little, 0, 2, 3, 3); got != 5 {
		t.Fatalf("B field corrupted: got %d want 5", got)
	}
	if got := b.ReadBitField(Little, 0, 2, 1, 2); got != 2 {
		t.Fatalf("A field wrong: got %d want 2", got)
	}
}

func TestDiffCoalesces(t *testing.T) {
	a := New(8)
	b := a.Clone()
	b.Bytes()[2] = 1
	b.Bytes()[3] = 1
	b.Bytes()[6] = 1
	regions := Diff(a, b)
	if len(regions) != 2 {
		t.Fatalf("expected 2 coalesced regions, got %d: %+v", len(regions), regions)
	}
	if regions[0] != (Region{Offset: 2, Size: 2}) {
		t.Fatalf("unexpected region 0: %+v", regions[0])
	}
	if regions[1] != (Region{Offset: 6, Size: 1}) {
		t.Fatalf("unexpected region 1: %+v", regions[1])
	}
}

func TestCloneIndependence(t *testing.T) {
	a := New(4)
	b := a.Clone()
	b.WriteBits(Little, 0, 1, 0xFF)
	if a.ReadBits(Little, 0, 1) != 0 {
		t.Fatalf("clone mutation leaked into original")
	}
}
