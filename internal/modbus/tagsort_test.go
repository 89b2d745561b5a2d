package modbus

import "testing"

func TestSortTagsPacksContiguousPoints(t *testing.T) {
	points := []Point{
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 0, DataType: TypeUint16, Name: "a"},
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 1, DataType: TypeUint16, Name: "b"},
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 2, DataType: TypeFloat32, Name: "c"},
	}
	cmds := SortTags(points, maxRegistersPerCommand)
	if len(cmds) != 1 {
		t.Fatalf("expected 1 packed command, got %d", len(cmds))
	}
	if cmds[0].StartAddress != 0 || cmds[0].Count != 4 {
		t.Fatalf("unexpected command span: start=%d count=%d", cmds[0].StartAddress, cmds[0].Count)
	}
	if len(cmds[0].Points) != 3 {
		t.Fatalf("expected 3 points in command, got %d", len(cmds[0].Points))
	}
}

func TestSortTagsSplitsDifferentSlavesAndAreas(t *testing.T) {
	points := []Point{
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 0, DataType: TypeUint16},
		{SlaveID: 2, Area: AreaHoldingRegister, StartAddress: 0, DataType: TypeUint16},
		{SlaveID: 1, Area: AreaInputRegister, StartAddress: 0, DataType: TypeUint16},
	}
	cmds := SortTags(points, maxRegistersPerCommand)
	if len(cmds) != 3 {
		t.Fatalf("expected 3 separate commands, got %d", len(cmds))
	}
}

func TestSortTagsCapsAtMaxRegisters(t *testing.T) {
	var points []Point
	for i := 0; i < 130; i++ {
		points = append(points, Point{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: i, DataType: TypeUint16})
	}
	cmds := SortTags(points, maxRegistersPerCommand)
	if len(cmds) != 2 {
		t.Fatalf("expected the 130-register run to split into 2 commands, got %d", len(cmds))
	}
	if cmds[0].Count > maxRegistersPerCommand {
		t.Fatalf("first command exceeds cap: %d", cmds[0].Count)
	}
}

func TestSortTagsOversizedPointGetsOwnCommand(t *testing.T) {
	points := []Point{
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 0, DataType: TypeString, RegisterCount: 200},
	}
	cmds := SortTags(points, maxRegistersPerCommand)
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	if cmds[0].Count != maxRegistersPerCommand {
		t.Fatalf("expected count capped at %d, got %d", maxRegistersPerCommand, cmds[0].Count)
	}
}

// Tags at 0,1,2,5,6,1000 under a 120-register cap must sort to exactly two
// commands: (start=0,n=7) absorbing the 3-register gap before 5, and
// (start=1000,n=1) far out of reach of the first.
func TestSortTagsAbsorbsGapsUnderCap(t *testing.T) {
	points := []Point{
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 0, DataType: TypeUint16, Name: "a"},
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 1, DataType: TypeUint16, Name: "b"},
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 2, DataType: TypeUint16, Name: "c"},
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 5, DataType: TypeUint16, Name: "d"},
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 6, DataType: TypeUint16, Name: "e"},
		{SlaveID: 1, Area: AreaHoldingRegister, StartAddress: 1000, DataType: TypeUint16, Name: "f"},
	}
	cmds := SortTags(points, maxRegistersPerCommand)
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %d: %+v", len(cmds), cmds)
	}
	if cmds[0].StartAddress != 0 || cmds[0].Count != 7 {
		t.Fatalf("expected first command (start=0,count=7), got start=%d count=%d", cmds[0].StartAddress, cmds[0].Count)
	}
	if len(cmds[0].Points) != 5 {
		t.Fatalf("expected first command to hold all 5 gapped points, got %d", len(cmds[0].Points))
	}
	if cmds[1].StartAddress != 1000 || cmds[1].Count != 1 {
		t.Fatalf("expected second command (start=1000,count=1), got start=%d count=%d", cmds[1].StartAddress, cmds[1].Count)
	}
}
