package core

import "testing"

func TestNodeRegistryAddFindDel(t *testing.T) {
	r := NewNodeRegistry()
	if err := r.Add("plc-1", "modbus-tcp"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	n, ok := r.Find("plc-1")
	if !ok || n.State != StateInit || n.Link != LinkDisconnected {
		t.Fatalf("unexpected node after Add: %+v ok=%v", n, ok)
	}
	if err := r.Del("plc-1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok := r.Find("plc-1"); ok {
		t.Fatal("expected node to be gone after Del")
	}
}

func TestNodeRegistryRejectsDuplicateName(t *testing.T) {
	r := NewNodeRegistry()
	if err := r.Add("plc-1", "modbus-tcp"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add("plc-1", "modbus-tcp"); err == nil {
		t.Fatal("expected duplicate node name to be rejected")
	}
}

func TestNodeRegistryStaticNodeCannotBeDeleted(t *testing.T) {
	r := NewNodeRegistry()
	if err := r.AddStatic("monitor", "system-monitor"); err != nil {
		t.Fatalf("AddStatic: %v", err)
	}
	if err := r.Del("monitor"); err == nil {
		t.Fatal("expected static node deletion to be rejected")
	}
}

func TestNodeRegistryUpdateNameRenamesNode(t *testing.T) {
	r := NewNodeRegistry()
	_ = r.Add("old-name", "modbus-tcp")
	if err := r.UpdateName("old-name", "new-name"); err != nil {
		t.Fatalf("UpdateName: %v", err)
	}
	if _, ok := r.Find("old-name"); ok {
		t.Fatal("expected old name to be gone")
	}
	if _, ok := r.Find("new-name"); !ok {
		t.Fatal("expected new name to resolve")
	}
}

func TestNodeIsAddressedMatchesStateInvariant(t *testing.T) {
	n := Node{State: StateInit}
	if n.IsAddressed() {
		t.Fatal("an init-state node with no address should not be addressed")
	}
	n = Node{State: StateReady, RuntimeAddress: "plc-1"}
	if !n.IsAddressed() {
		t.Fatal("a ready-state node with an address should be addressed")
	}
	n = Node{State: StateReady, RuntimeAddress: ""}
	if n.IsAddressed() {
		t.Fatal("a ready-state node with no address should not report addressed")
	}
}

func TestNodeRegistrySetStateClearsAddressOnInit(t *testing.T) {
	r := NewNodeRegistry()
	_ = r.Add("plc-1", "modbus-tcp")
	_ = r.UpdateAddress("plc-1", "plc-1")
	_ = r.SetState("plc-1", StateReady)

	n, _ := r.Find("plc-1")
	if n.RuntimeAddress != "plc-1" {
		t.Fatalf("expected address preserved while ready, got %q", n.RuntimeAddress)
	}

	_ = r.SetState("plc-1", StateInit)
	n, _ = r.Find("plc-1")
	if n.RuntimeAddress != "" {
		t.Fatalf("expected address cleared on transition back to init, got %q", n.RuntimeAddress)
	}
}

func TestNodeRegistryNamesSorted(t *testing.T) {
	r := NewNodeRegistry()
	_ = r.Add("zeta", "modbus-tcp")
	_ = r.Add("alpha", "modbus-tcp")
	names := r.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}
