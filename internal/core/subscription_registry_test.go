package core

import (
	"testing"

	"github.com/nodelink/gateway/internal/gatewayerr"
)

func TestSubscriptionRegistrySubIdempotent(t *testing.T) {
	r := NewSubscriptionRegistry()
	s := Subscription{Driver: "plc-1", Group: "g1", App: "ekuiper", Params: "p"}
	if err := r.Sub(s); err != nil {
		t.Fatalf("first Sub: %v", err)
	}
	if err := r.Sub(s); err != nil {
		t.Fatalf("re-subscribing with identical params should be a no-op, got: %v", err)
	}
}

func TestSubscriptionRegistrySubRejectsParamConflict(t *testing.T) {
	r := NewSubscriptionRegistry()
	_ = r.Sub(Subscription{Driver: "plc-1", Group: "g1", App: "ekuiper", Params: "p1"})
	err := r.Sub(Subscription{Driver: "plc-1", Group: "g1", App: "ekuiper", Params: "p2"})
	if err == nil {
		t.Fatal("expected conflicting re-subscription to be rejected")
	}
}

func TestSubscriptionRegistryUnsubSucceedsAfterSub(t *testing.T) {
	r := NewSubscriptionRegistry()
	_ = r.Sub(Subscription{Driver: "plc-1", Group: "g1", App: "ekuiper"})
	if err := r.Unsub("plc-1", "g1", "ekuiper"); err != nil {
		t.Fatalf("unsub after sub: %v", err)
	}
	if _, ok := r.Find("plc-1", "g1", "ekuiper"); ok {
		t.Fatal("expected no subscription to exist")
	}
}

func TestSubscriptionRegistryUnsubFailsWithoutPriorSub(t *testing.T) {
	r := NewSubscriptionRegistry()
	err := r.Unsub("plc-1", "g1", "ekuiper")
	if err == nil {
		t.Fatal("expected GROUP_NOT_SUBSCRIBE unsubscribing from nothing")
	}
	if gatewayerr.CodeOf(err) != gatewayerr.CodeGroupNotSubscribe {
		t.Fatalf("expected CodeGroupNotSubscribe, got %v", gatewayerr.CodeOf(err))
	}
}

func TestSubscriptionRegistryFindByDriverGroup(t *testing.T) {
	r := NewSubscriptionRegistry()
	_ = r.Sub(Subscription{Driver: "plc-1", Group: "g1", App: "app-a"})
	_ = r.Sub(Subscription{Driver: "plc-1", Group: "g1", App: "app-b"})
	_ = r.Sub(Subscription{Driver: "plc-1", Group: "g2", App: "app-a"})

	subs := r.FindByDriverGroup("plc-1", "g1")
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscribers for (plc-1,g1), got %d", len(subs))
	}
}

func TestSubscriptionRegistryRenameDriverCascades(t *testing.T) {
	r := NewSubscriptionRegistry()
	_ = r.Sub(Subscription{Driver: "old-plc", Group: "g1", App: "app-a"})
	r.RenameDriver("old-plc", "new-plc")

	if _, ok := r.Find("old-plc", "g1", "app-a"); ok {
		t.Fatal("expected old driver key to be gone after rename")
	}
	sub, ok := r.Find("new-plc", "g1", "app-a")
	if !ok || sub.Driver != "new-plc" {
		t.Fatalf("expected subscription under new driver name, got %+v ok=%v", sub, ok)
	}
}

func TestSubscriptionRegistryRemoveDriverCascade(t *testing.T) {
	r := NewSubscriptionRegistry()
	_ = r.Sub(Subscription{Driver: "plc-1", Group: "g1", App: "app-a"})
	_ = r.Sub(Subscription{Driver: "plc-2", Group: "g1", App: "app-a"})
	r.RemoveDriver("plc-1")

	if len(r.FindByDriver("plc-1")) != 0 {
		t.Fatal("expected all plc-1 subscriptions removed")
	}
	if len(r.FindByDriver("plc-2")) != 1 {
		t.Fatal("expected plc-2 subscriptions untouched")
	}
}

func TestSubscriptionRegistryUnsubAllForApp(t *testing.T) {
	r := NewSubscriptionRegistry()
	_ = r.Sub(Subscription{Driver: "plc-1", Group: "g1", App: "app-a"})
	_ = r.Sub(Subscription{Driver: "plc-1", Group: "g2", App: "app-a"})
	_ = r.Sub(Subscription{Driver: "plc-1", Group: "g1", App: "app-b"})

	r.UnsubAll("app-a")
	if len(r.FindByDriverGroup("plc-1", "g1")) != 1 {
		t.Fatal("expected only app-b's subscription to remain on g1")
	}
}
