// Package modbus is the Modbus driver core (C8): the point model, tag
// sort, TCP/RTU codecs, per-slave connection handling, retry, and degrade
// logic spec §4.8 names.
package modbus

// Area is a Modbus register area.
type Area string

const (
	AreaCoil            Area = "coil"
	AreaDiscreteInput   Area = "discrete_input"
	AreaHoldingRegister Area = "holding_register"
	AreaInputRegister   Area = "input_register"
)

// Endianness controls how a multi-register value's bytes are reassembled.
type Endianness string

const (
	EndianABCD Endianness = "ABCD"
	EndianBADC Endianness = "BADC"
	EndianDCBA Endianness = "DCBA"
	EndianCDAB Endianness = "CDAB"
)

// DataType is the decoded shape of a point's value.
type DataType string

const (
	TypeBool    DataType = "bool"
	TypeInt16   DataType = "int16"
	TypeUint16  DataType = "uint16"
	TypeInt32   DataType = "int32"
	TypeUint32  DataType = "uint32"
	TypeFloat32 DataType = "float32"
	TypeFloat64 DataType = "float64"
	TypeString  DataType = "string"
)

// StringSubtype distinguishes the four string decode variants spec §4.8
// names: high-byte-first, low-byte-first, register-pair swapped (CDAB-like)
// and fully byte-reversed (EDCBA-like).
type StringSubtype string

const (
	StringH StringSubtype = "H"
	StringL StringSubtype = "L"
	StringD StringSubtype = "D"
	StringE StringSubtype = "E"
)

// Point is one polled/written Modbus address (spec §3).
type Point struct {
	SlaveID       int
	Area          Area
	StartAddress  int
	RegisterCount int
	DataType      DataType
	Endianness    Endianness
	BitIndex      int // for bool points extracted from a holding/input register
	StringSub     StringSubtype
	Option        string
	Name          string
}

// registerSpan returns how many Modbus registers (2-byte words) the point's
// decoded value spans, used by tag sort to cap command byte size.
func (p Point) registerSpan() int {
	if p.RegisterCount > 0 {
		return p.RegisterCount
	}
	switch p.DataType {
	case TypeInt32, TypeUint32, TypeFloat32:
		return 2
	case TypeFloat64:
		return 4
	default:
		return 1
	}
}
