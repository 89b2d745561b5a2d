package main

import (
	"testing"

	"github.com/nodelink/gateway/internal/core"
)

func TestGroupNameFromEnvelopeAddGroup(t *testing.T) {
	type groupBody struct {
		Driver string
		Group  core.Group
	}
	env := core.Envelope{Body: groupBody{Driver: "plc-1", Group: core.Group{Name: "g1"}}}
	if name := groupNameFromEnvelope(env); name != "g1" {
		t.Fatalf("expected g1, got %q", name)
	}
}

func TestGroupNameFromEnvelopeDelGroup(t *testing.T) {
	type delGroupBody struct{ Driver, Group string }
	env := core.Envelope{Body: delGroupBody{Driver: "plc-1", Group: "g2"}}
	if name := groupNameFromEnvelope(env); name != "g2" {
		t.Fatalf("expected g2, got %q", name)
	}
}

func TestGroupNameFromEnvelopeUnknownBody(t *testing.T) {
	env := core.Envelope{Body: "unexpected"}
	if name := groupNameFromEnvelope(env); name != "" {
		t.Fatalf("expected empty name for an unrecognized body, got %q", name)
	}
}
