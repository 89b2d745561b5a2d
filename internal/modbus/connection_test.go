package modbus

import "testing"

func TestConnectionFailsOverAfterThresholdFailures(t *testing.T) {
	c := NewConnection(Endpoint{Address: "primary", Port: 502}, 0).
		WithBackup(Endpoint{Address: "backup", Port: 502})

	if c.ActiveEndpoint().Address != "primary" {
		t.Fatalf("expected primary to be active initially")
	}
	c.recordFailure()
	c.recordFailure()
	if c.ActiveEndpoint().Address != "primary" {
		t.Fatalf("expected primary still active before threshold")
	}
	c.recordFailure()
	if c.ActiveEndpoint().Address != "backup" {
		t.Fatalf("expected failover to backup after 3 consecutive failures")
	}
}

func TestConnectionNoFailoverWithoutBackup(t *testing.T) {
	c := NewConnection(Endpoint{Address: "primary", Port: 502}, 0)
	for i := 0; i < 10; i++ {
		c.recordFailure()
	}
	if c.ActiveEndpoint().Address != "primary" {
		t.Fatalf("expected primary to remain active with no backup configured")
	}
}
