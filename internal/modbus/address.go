package modbus

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nodelink/gateway/internal/core"
	"github.com/nodelink/gateway/internal/gatewayerr"
)

// ParsePoint turns a tag's opaque address/decode strings (spec §4.8:
// "address string parses to (slave_id, area, start_address,
// register_count, option)") into a Point. Address is
// "<slave_id>:<area>:<start_address>[:<register_count>]"; decode is
// "<data_type>[:<endianness>][:bit=<n>][:str=<H|L|D|E>]".
func ParsePoint(name, address, dataType, decode string) (Point, error) {
	addrParts := strings.Split(address, ":")
	if len(addrParts) < 3 {
		return Point{}, gatewayerr.New(gatewayerr.CodeParamIsWrong, "malformed tag address").With("address", address)
	}
	slaveID, err := strconv.Atoi(addrParts[0])
	if err != nil {
		return Point{}, gatewayerr.Wrap(gatewayerr.CodeParamIsWrong, "slave id must be numeric", err)
	}
	area, err := parseArea(addrParts[1])
	if err != nil {
		return Point{}, err
	}
	start, err := strconv.Atoi(addrParts[2])
	if err != nil {
		return Point{}, gatewayerr.Wrap(gatewayerr.CodeParamIsWrong, "start address must be numeric", err)
	}
	registerCount := 0
	if len(addrParts) >= 4 {
		registerCount, err = strconv.Atoi(addrParts[3])
		if err != nil {
			return Point{}, gatewayerr.Wrap(gatewayerr.CodeParamIsWrong, "register count must be numeric", err)
		}
	}

	p := Point{
		SlaveID:       slaveID,
		Area:          area,
		StartAddress:  start,
		RegisterCount: registerCount,
		Endianness:    EndianABCD,
		Name:          name,
	}

	decodeParts := strings.Split(decode, ":")
	dt, err := parseDataType(dataType, decodeParts[0])
	if err != nil {
		return Point{}, err
	}
	p.DataType = dt

	for _, opt := range decodeParts[1:] {
		switch {
		case opt == "ABCD" || opt == "BADC" || opt == "DCBA" || opt == "CDAB":
			p.Endianness = Endianness(opt)
		case strings.HasPrefix(opt, "bit="):
			n, err := strconv.Atoi(strings.TrimPrefix(opt, "bit="))
			if err != nil {
				return Point{}, gatewayerr.Wrap(gatewayerr.CodeParamIsWrong, "bit index must be numeric", err)
			}
			p.BitIndex = n
		case strings.HasPrefix(opt, "str="):
			p.StringSub = StringSubtype(strings.TrimPrefix(opt, "str="))
		}
	}

	return p, nil
}

func parseArea(s string) (Area, error) {
	switch strings.ToLower(s) {
	case "coil":
		return AreaCoil, nil
	case "discrete_input", "discrete":
		return AreaDiscreteInput, nil
	case "input_register", "input":
		return AreaInputRegister, nil
	case "holding_register", "holding":
		return AreaHoldingRegister, nil
	default:
		return "", gatewayerr.New(gatewayerr.CodeParamIsWrong, fmt.Sprintf("unknown modbus area %q", s))
	}
}

func parseDataType(declared, override string) (DataType, error) {
	s := declared
	if override != "" {
		s = override
	}
	switch strings.ToLower(s) {
	case "bool":
		return TypeBool, nil
	case "int16":
		return TypeInt16, nil
	case "uint16":
		return TypeUint16, nil
	case "int32":
		return TypeInt32, nil
	case "uint32":
		return TypeUint32, nil
	case "float32", "float":
		return TypeFloat32, nil
	case "float64", "double":
		return TypeFloat64, nil
	case "string":
		return TypeString, nil
	default:
		return "", gatewayerr.New(gatewayerr.CodeParamIsWrong, fmt.Sprintf("unknown modbus data type %q", s))
	}
}

// PointsForGroup parses every tag in g into a Point, skipping (and
// reporting via errs) tags whose address fails to parse rather than
// aborting the whole group.
func PointsForGroup(g core.Group) (points []Point, errs map[string]error) {
	errs = make(map[string]error)
	for _, tag := range g.Tags {
		p, err := ParsePoint(tag.Name, tag.Address, tag.DataType, tag.Decode)
		if err != nil {
			errs[tag.Name] = err
			continue
		}
		points = append(points, p)
	}
	return points, errs
}
