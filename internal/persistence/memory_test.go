package persistence

import (
	"context"
	"testing"

	"github.com/nodelink/gateway/internal/core"
)

func TestMemoryStoreNodeRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.PutNode(ctx, core.Node{Name: "plc-1", PluginModule: "modbus-tcp"}); err != nil {
		t.Fatalf("PutNode: %v", err)
	}
	nodes, err := s.ListNodes(ctx)
	if err != nil || len(nodes) != 1 || nodes[0].Name != "plc-1" {
		t.Fatalf("unexpected nodes after PutNode: %+v err=%v", nodes, err)
	}

	if err := s.DeleteNode(ctx, "plc-1"); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	nodes, _ = s.ListNodes(ctx)
	if len(nodes) != 0 {
		t.Fatalf("expected no nodes after delete, got %+v", nodes)
	}
}

func TestMemoryStoreSettingRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.PutSetting(ctx, "plc-1", "tcp_host", "10.0.0.5"); err != nil {
		t.Fatalf("PutSetting: %v", err)
	}
	v, ok, err := s.GetSetting(ctx, "plc-1", "tcp_host")
	if err != nil || !ok || v != "10.0.0.5" {
		t.Fatalf("unexpected GetSetting: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := s.DeleteSetting(ctx, "plc-1", "tcp_host"); err != nil {
		t.Fatalf("DeleteSetting: %v", err)
	}
	if _, ok, _ := s.GetSetting(ctx, "plc-1", "tcp_host"); ok {
		t.Fatal("expected setting to be gone after delete")
	}
}

func TestMemoryStoreTagLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.PutGroup(ctx, "plc-1", core.Group{Name: "g1"}); err != nil {
		t.Fatalf("PutGroup: %v", err)
	}
	if err := s.PutTag(ctx, "plc-1", "g1", core.Tag{Name: "t1", Address: "1:3:0"}); err != nil {
		t.Fatalf("PutTag: %v", err)
	}
	tags, err := s.ListTags(ctx, "plc-1", "g1")
	if err != nil || len(tags) != 1 || tags[0].Name != "t1" {
		t.Fatalf("unexpected tags: %+v err=%v", tags, err)
	}

	// PutTag with the same name updates in place rather than duplicating.
	if err := s.PutTag(ctx, "plc-1", "g1", core.Tag{Name: "t1", Address: "1:3:1"}); err != nil {
		t.Fatalf("PutTag update: %v", err)
	}
	tags, _ = s.ListTags(ctx, "plc-1", "g1")
	if len(tags) != 1 || tags[0].Address != "1:3:1" {
		t.Fatalf("expected in-place tag update, got %+v", tags)
	}

	if err := s.DeleteTag(ctx, "plc-1", "g1", "t1"); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	tags, _ = s.ListTags(ctx, "plc-1", "g1")
	if len(tags) != 0 {
		t.Fatalf("expected no tags after delete, got %+v", tags)
	}
}

func TestMemoryStorePutTagRequiresExistingGroup(t *testing.T) {
	s := NewMemoryStore()
	err := s.PutTag(context.Background(), "plc-1", "missing-group", core.Tag{Name: "t1"})
	if err == nil {
		t.Fatal("expected PutTag against a nonexistent group to fail")
	}
}

func TestMemoryStoreDeleteNodeCascadesGroupsAndSettings(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.PutNode(ctx, core.Node{Name: "plc-1"})
	_ = s.PutGroup(ctx, "plc-1", core.Group{Name: "g1"})
	_ = s.PutSetting(ctx, "plc-1", "tcp_host", "10.0.0.5")

	if err := s.DeleteNode(ctx, "plc-1"); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if groups, _ := s.ListGroups(ctx, "plc-1"); len(groups) != 0 {
		t.Fatalf("expected groups cleared after DeleteNode, got %+v", groups)
	}
	if _, ok, _ := s.GetSetting(ctx, "plc-1", "tcp_host"); ok {
		t.Fatal("expected settings cleared after DeleteNode")
	}
}

func TestMemoryStorePutTagsBatchAppliesAllAndPreservesOthers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.PutGroup(ctx, "plc-1", core.Group{Name: "g1"})

	err := s.PutTagsBatch(ctx, "plc-1", "g1", []core.Tag{
		{Name: "t1", Address: "1:3:0"},
		{Name: "t2", Address: "1:3:1"},
	})
	if err != nil {
		t.Fatalf("PutTagsBatch: %v", err)
	}
	tags, _ := s.ListTags(ctx, "plc-1", "g1")
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags after batch put, got %+v", tags)
	}

	if err := s.DeleteTag(ctx, "plc-1", "g1", "t1"); err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	tags, _ = s.ListTags(ctx, "plc-1", "g1")
	if len(tags) != 1 || tags[0].Name != "t2" {
		t.Fatalf("expected only t2 to remain, got %+v", tags)
	}
}

func TestMemoryStorePutPluginListReplacesRatherThanAppends(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.PutPluginList(ctx, []PluginRecord{{Descriptor: core.PluginDescriptor{ModuleName: "a"}}})
	_ = s.PutPluginList(ctx, []PluginRecord{{Descriptor: core.PluginDescriptor{ModuleName: "b"}}})

	plugins, err := s.ListPlugins(ctx)
	if err != nil {
		t.Fatalf("ListPlugins: %v", err)
	}
	if len(plugins) != 1 || plugins[0].Descriptor.ModuleName != "b" {
		t.Fatalf("expected second PutPluginList to replace the list, got %+v", plugins)
	}
}

func TestMemoryStoreUserRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.PutUser(ctx, User{Name: "admin", PasswordHash: "hash", Role: "admin"}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	u, ok, err := s.GetUser(ctx, "admin")
	if err != nil || !ok || u.Role != "admin" {
		t.Fatalf("unexpected GetUser: %+v ok=%v err=%v", u, ok, err)
	}

	if err := s.DeleteUser(ctx, "admin"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, ok, _ := s.GetUser(ctx, "admin"); ok {
		t.Fatal("expected user to be gone after delete")
	}
}

func TestMemoryStoreSubscriptionRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	sub := core.Subscription{Driver: "plc-1", Group: "g1", App: "ekuiper", Params: "p"}

	if err := s.PutSubscription(ctx, sub); err != nil {
		t.Fatalf("PutSubscription: %v", err)
	}
	subs, err := s.ListSubscriptions(ctx)
	if err != nil || len(subs) != 1 {
		t.Fatalf("unexpected subscriptions: %+v err=%v", subs, err)
	}

	if err := s.DeleteSubscription(ctx, "plc-1", "g1", "ekuiper"); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	subs, _ = s.ListSubscriptions(ctx)
	if len(subs) != 0 {
		t.Fatalf("expected no subscriptions after delete, got %+v", subs)
	}
}
