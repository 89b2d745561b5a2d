package core

import (
	"context"
	"testing"
	"time"
)

func TestBusSendRecvRoundTrip(t *testing.T) {
	b := NewBus(4, time.Second)
	b.Register("a")
	b.Register("b")

	env := Envelope{Type: MsgTransData, Sender: "a", Receiver: "b", Body: "payload"}
	if err := b.SendTo(context.Background(), env); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, sender, err := b.RecvFrom(ctx, "b")
	if err != nil {
		t.Fatalf("RecvFrom: %v", err)
	}
	if sender != "a" || got.Body.(string) != "payload" {
		t.Fatalf("unexpected envelope: %+v sender=%s", got, sender)
	}
}

func TestBusSendToUnregisteredReceiverFails(t *testing.T) {
	b := NewBus(4, time.Second)
	err := b.SendTo(context.Background(), Envelope{Receiver: "ghost"})
	if err == nil {
		t.Fatal("expected error sending to an unregistered address")
	}
}

func TestBusSendTimesOutWhenInboxFull(t *testing.T) {
	b := NewBus(1, 10*time.Millisecond)
	b.Register("full")

	if err := b.SendTo(context.Background(), Envelope{Receiver: "full"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := b.SendTo(context.Background(), Envelope{Receiver: "full"}); err == nil {
		t.Fatal("expected second send to a full inbox to time out")
	}
}

func TestBusRecvFromUnregisteredAddressFails(t *testing.T) {
	b := NewBus(1, time.Second)
	_, _, err := b.RecvFrom(context.Background(), "nobody")
	if err == nil {
		t.Fatal("expected error receiving on an unregistered address")
	}
}

func TestBusRecvFromRespectsContextCancellation(t *testing.T) {
	b := NewBus(1, time.Second)
	b.Register("idle")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := b.RecvFrom(ctx, "idle")
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestBusUnregisterDropsReceiver(t *testing.T) {
	b := NewBus(1, 10*time.Millisecond)
	b.Register("gone")
	b.Unregister("gone")

	if err := b.SendTo(context.Background(), Envelope{Receiver: "gone"}); err == nil {
		t.Fatal("expected send to an unregistered address to fail")
	}
}
