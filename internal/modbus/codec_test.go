package modbus

import "testing"

func TestReorderInt32AllEndiannesses(t *testing.T) {
	raw := []byte{0x11, 0x22, 0x33, 0x44}
	cases := []struct {
		endian Endianness
		want   int64
	}{
		{EndianABCD, 0x11223344},
		{EndianCDAB, 0x33441122},
		{EndianBADC, 0x22114433},
		{EndianDCBA, 0x44332211},
	}
	for _, c := range cases {
		v, err := DecodeValue(Point{DataType: TypeInt32, Endianness: c.endian}, raw)
		if err != nil {
			t.Fatalf("%s: decode: %v", c.endian, err)
		}
		if v.(int64) != c.want {
			t.Fatalf("%s: got %#x, want %#x", c.endian, v, c.want)
		}
	}
}

func TestDecodeValueUint16(t *testing.T) {
	v, err := DecodeValue(Point{DataType: TypeUint16}, []byte{0x12, 0x34})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.(uint64) != 0x1234 {
		t.Fatalf("got %v, want 0x1234", v)
	}
}

func TestDecodeValueBoolBitIndex(t *testing.T) {
	v, err := DecodeValue(Point{DataType: TypeBool, BitIndex: 3}, []byte{0x00, 0b00001000})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.(bool) != true {
		t.Fatalf("expected bit 3 set")
	}
	v, err = DecodeValue(Point{DataType: TypeBool, BitIndex: 2}, []byte{0x00, 0b00001000})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.(bool) != false {
		t.Fatalf("expected bit 2 clear")
	}
}

func TestDecodeValueFloat32Endianness(t *testing.T) {
	// 1.0f = 0x3F800000, ABCD byte order: 3F 80 00 00
	abcd := []byte{0x3F, 0x80, 0x00, 0x00}
	v, err := DecodeValue(Point{DataType: TypeFloat32, Endianness: EndianABCD}, abcd)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.(float64) != 1.0 {
		t.Fatalf("got %v, want 1.0", v)
	}

	// CDAB swaps register (word) order: 00 00 3F 80
	cdab := []byte{0x00, 0x00, 0x3F, 0x80}
	v, err = DecodeValue(Point{DataType: TypeFloat32, Endianness: EndianCDAB}, cdab)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.(float64) != 1.0 {
		t.Fatalf("got %v, want 1.0 (CDAB)", v)
	}

	// DCBA is full byte reversal: 00 00 80 3F
	dcba := []byte{0x00, 0x00, 0x80, 0x3F}
	v, err = DecodeValue(Point{DataType: TypeFloat32, Endianness: EndianDCBA}, dcba)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.(float64) != 1.0 {
		t.Fatalf("got %v, want 1.0 (DCBA)", v)
	}
}

func TestDecodeValueInt32BADC(t *testing.T) {
	// true big-endian value 0x00000001 with register-pair byte swap (BADC)
	// encodes each 2-byte word's bytes swapped: 00 00 01 00
	badc := []byte{0x00, 0x00, 0x01, 0x00}
	v, err := DecodeValue(Point{DataType: TypeInt32, Endianness: EndianBADC}, badc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.(int64) != 1 {
		t.Fatalf("got %v, want 1", v)
	}
}

func TestDecodeStringSubtypes(t *testing.T) {
	raw := []byte{'A', 'B', 'C', 'D'}
	if got := decodeString(raw, StringH); got != "ABCD" {
		t.Fatalf("H: got %q", got)
	}
	if got := decodeString(raw, StringL); got != "BADC" {
		t.Fatalf("L: got %q", got)
	}
}

func TestEncodeDecodeValueRoundTripUint32(t *testing.T) {
	p := Point{DataType: TypeUint32, Endianness: EndianABCD}
	encoded, err := EncodeValue(p, uint64(0xDEADBEEF))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeValue(p, encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.(uint64) != 0xDEADBEEF {
		t.Fatalf("got %#x, want 0xDEADBEEF", decoded)
	}
}
