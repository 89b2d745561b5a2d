package modbus

import (
	"encoding/binary"
	"fmt"
)

// Function codes used by the read/write paths this driver core covers.
const (
	FuncReadHoldingRegisters byte = 0x03
	FuncReadInputRegisters   byte = 0x04
	FuncWriteSingleRegister  byte = 0x06
	FuncWriteMultiRegisters  byte = 0x10
)

// maxTCPFrameLen bounds the TCP "Length" header field; a frame claiming
// more is a decode failure (spec §8: "oversized TCP Len -> DECODE_FAILURE").
const maxTCPFrameLen = 253

// EncodeTCPRequest wraps a PDU (unit id + function + payload) in the
// 7-byte MBAP header: [TxId(2)|0x0000|Len(2)|UnitId|FC|payload].
func EncodeTCPRequest(txID uint16, unitID, funcCode byte, payload []byte) []byte {
	pdu := append([]byte{unitID, funcCode}, payload...)
	frame := make([]byte, 6, 6+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], txID)
	binary.BigEndian.PutUint16(frame[2:4], 0x0000)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(pdu)))
	return append(frame, pdu...)
}

// DecodeTCPResponse validates and strips a TCP frame's MBAP header,
// returning the transaction id and the PDU (unit id, function code,
// payload).
func DecodeTCPResponse(frame []byte) (txID uint16, unitID, funcCode byte, payload []byte, err error) {
	if len(frame) < 8 {
		return 0, 0, 0, nil, fmt.Errorf("modbus: short TCP frame (%d bytes)", len(frame))
	}
	txID = binary.BigEndian.Uint16(frame[0:2])
	protoID := binary.BigEndian.Uint16(frame[2:4])
	length := binary.BigEndian.Uint16(frame[4:6])
	if protoID != 0 {
		return 0, 0, 0, nil, fmt.Errorf("modbus: unexpected protocol id %d", protoID)
	}
	if length > maxTCPFrameLen || int(length) != len(frame)-6 {
		return 0, 0, 0, nil, fmt.Errorf("modbus: frame length %d does not match header", length)
	}
	unitID = frame[6]
	funcCode = frame[7]
	payload = frame[8:]
	return txID, unitID, funcCode, payload, nil
}

// EncodeRTURequest wraps a PDU in an RTU frame: [UnitId|FC|payload|CRC16LE].
func EncodeRTURequest(unitID, funcCode byte, payload []byte) []byte {
	frame := append([]byte{unitID, funcCode}, payload...)
	return appendCRC(frame)
}

// DecodeRTUResponse validates an RTU frame's CRC and strips it, returning
// the unit id, function code, and payload.
func DecodeRTUResponse(frame []byte) (unitID, funcCode byte, payload []byte, err error) {
	if len(frame) < 4 {
		return 0, 0, nil, fmt.Errorf("modbus: short RTU frame (%d bytes)", len(frame))
	}
	if !verifyCRC(frame) {
		return 0, 0, nil, fmt.Errorf("modbus: CRC mismatch")
	}
	return frame[0], frame[1], frame[2 : len(frame)-2], nil
}

// IsExceptionResponse reports whether funcCode carries the Modbus
// exception bit (0x80) set.
func IsExceptionResponse(funcCode byte) bool {
	return funcCode&0x80 != 0
}
