package manager

import (
	"context"
	"fmt"

	"github.com/nodelink/gateway/internal/core"
	"github.com/nodelink/gateway/internal/gatewayerr"
	"github.com/nodelink/gateway/internal/persistence"
)

// dispatch routes one envelope by type. It is the single switch spec §4.5
// describes as the manager's message-type dispatch table.
func (m *Manager) dispatch(ctx context.Context, env core.Envelope, sender string) {
	switch env.Type {
	case core.MsgAddPlugin:
		m.handleAddPlugin(ctx, env, sender)
	case core.MsgDelPlugin:
		m.handleDelPlugin(ctx, env, sender)
	case core.MsgUpdatePlugin:
		m.handleUpdatePlugin(ctx, env, sender)
	case core.MsgGetPlugin:
		m.handleGetPlugin(ctx, env, sender)
	case core.MsgCheckSchema:
		m.handleCheckSchema(ctx, env, sender)

	case core.MsgAddNode:
		m.handleAddNode(ctx, env, sender)
	case core.MsgUpdateNode:
		m.handleUpdateNode(ctx, env, sender)
	case core.MsgDelNode:
		m.handleDelNode(ctx, env, sender)
	case core.MsgGetNode:
		m.handleGetNode(ctx, env, sender)
	case core.MsgNodeRename:
		m.handleNodeRename(ctx, env, sender)
	case core.MsgNodeInit:
		m.handleNodeInitRequest(ctx, env, sender)
	case core.MsgNodeUninit:
		m.handleNodeUninitRequest(ctx, env, sender)

	case core.MsgAddGroup:
		m.handleAddGroup(ctx, env, sender)
	case core.MsgDelGroup:
		m.handleDelGroup(ctx, env, sender)
	case core.MsgUpdateGroup:
		m.handleUpdateGroup(ctx, env, sender)
	case core.MsgAddTag, core.MsgAddGTag:
		m.handleAddTag(ctx, env, sender)
	case core.MsgUpdateTag:
		m.handleUpdateTag(ctx, env, sender)
	case core.MsgDelTag:
		m.handleDelTag(ctx, env, sender)

	case core.MsgSubscribeGroup:
		m.handleSubscribe(ctx, env, sender)
	case core.MsgUpdateSubscribeGroup:
		m.handleUpdateSubscribe(ctx, env, sender)
	case core.MsgUnsubscribeGroup:
		m.handleUnsubscribe(ctx, env, sender)
	case core.MsgGetSubscribeGroup:
		m.handleGetSubscribe(ctx, env, sender)

	case core.MsgTransData:
		m.handleTransData(ctx, env, sender)
	case core.MsgWriteTag, core.MsgWriteTags:
		m.handleWriteForward(ctx, env, sender)
	case core.MsgReadGroup, core.MsgWriteGTags, core.MsgTestReadTag, core.MsgScanTags:
		m.handleIOForward(ctx, env, sender)
	case core.MsgRespError, core.MsgRespWriteTags, core.MsgRespReadGroup, core.MsgRespTestReadTag, core.MsgRespScanTags:
		m.handleNodeResponse(ctx, env, sender)

	default:
		m.log.WithField("type", env.Type).Warn("manager: unhandled message type")
	}
}

// --- plugin admin ---

func (m *Manager) handleAddPlugin(ctx context.Context, env core.Envelope, sender string) {
	desc, ok := env.Body.(core.PluginDescriptor)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected PluginDescriptor"))
		return
	}
	if err := m.plugins.Add(desc); err != nil {
		m.replyError(ctx, env, sender, err)
		return
	}
	if m.store != nil && desc.Kind == core.KindCustom {
		_ = m.store.PutPluginList(ctx, []persistence.PluginRecord{{Descriptor: desc}})
	}
	m.replyOK(ctx, env, sender, core.MsgRespError, gatewayerr.CodeSuccess)
}

func (m *Manager) handleDelPlugin(ctx context.Context, env core.Envelope, sender string) {
	name, _ := env.Body.(string)
	if err := m.plugins.Del(name); err != nil {
		m.replyError(ctx, env, sender, err)
		return
	}
	m.replyOK(ctx, env, sender, core.MsgRespError, gatewayerr.CodeSuccess)
}

func (m *Manager) handleUpdatePlugin(ctx context.Context, env core.Envelope, sender string) {
	type updatePluginBody struct {
		ModuleName  string
		Description string
		Display     bool
	}
	b, ok := env.Body.(updatePluginBody)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected update-plugin body"))
		return
	}
	if err := m.plugins.Update(b.ModuleName, b.Description, b.Display); err != nil {
		m.replyError(ctx, env, sender, err)
		return
	}
	m.replyOK(ctx, env, sender, core.MsgRespError, gatewayerr.CodeSuccess)
}

func (m *Manager) handleGetPlugin(ctx context.Context, env core.Envelope, sender string) {
	name, _ := env.Body.(string)
	if name == "" {
		m.replyOK(ctx, env, sender, core.MsgRespGetPlugin, m.plugins.ListAll())
		return
	}
	desc, ok := m.plugins.Find(name)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.NotFound(gatewayerr.CodeLibraryNotFound, "plugin", name))
		return
	}
	m.replyOK(ctx, env, sender, core.MsgRespGetPlugin, desc)
}

func (m *Manager) handleCheckSchema(ctx context.Context, env core.Envelope, sender string) {
	t, _ := env.Body.(core.PluginType)
	m.replyOK(ctx, env, sender, core.MsgRespCheckSchema, m.plugins.ListByType(t))
}

// --- node admin ---

type addNodeBody struct {
	Name         string
	PluginModule string
}

func (m *Manager) handleAddNode(ctx context.Context, env core.Envelope, sender string) {
	b, ok := env.Body.(addNodeBody)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected add-node body"))
		return
	}
	desc, ok := m.plugins.Find(b.PluginModule)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.NotFound(gatewayerr.CodeLibraryNotFound, "plugin", b.PluginModule))
		return
	}
	if desc.Single {
		if single, instance := m.plugins.IsSingle(b.PluginModule); single && instance != "" {
			m.replyError(ctx, env, sender, gatewayerr.New(gatewayerr.CodePluginTypeNotSupport, "plugin allows only one instance").With("module", b.PluginModule))
			return
		}
	}

	var err error
	if desc.Single {
		err = m.nodes.AddSingle(b.Name, b.PluginModule)
		if err == nil {
			m.plugins.ClaimSingle(b.PluginModule, b.Name)
		}
	} else {
		err = m.nodes.Add(b.Name, b.PluginModule)
	}
	if err != nil {
		m.replyError(ctx, env, sender, err)
		return
	}

	if m.store != nil {
		n, _ := m.nodes.Find(b.Name)
		_ = m.store.PutNode(ctx, n)
	}
	m.replyOK(ctx, env, sender, core.MsgRespError, gatewayerr.CodeSuccess)
}

func (m *Manager) handleUpdateNode(ctx context.Context, env core.Envelope, sender string) {
	name, _ := env.Body.(string)
	if _, ok := m.nodes.Find(name); !ok {
		m.replyError(ctx, env, sender, gatewayerr.NotFound(gatewayerr.CodeNodeNotExist, "node", name))
		return
	}
	if m.store != nil {
		n, _ := m.nodes.Find(name)
		_ = m.store.UpdateNode(ctx, n)
	}
	m.replyOK(ctx, env, sender, core.MsgRespError, gatewayerr.CodeSuccess)
}

func (m *Manager) handleDelNode(ctx context.Context, env core.Envelope, sender string) {
	name, _ := env.Body.(string)
	node, ok := m.nodes.Find(name)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.NotFound(gatewayerr.CodeNodeNotExist, "node", name))
		return
	}

	_ = m.uninitNode(ctx, name)
	if err := m.nodes.Del(name); err != nil {
		m.replyError(ctx, env, sender, err)
		return
	}

	// Cascade: drop subscriptions the deleted node held as driver or app,
	// and notify every app still subscribed to it as a driver (spec §8).
	for _, sub := range m.subs.FindByDriver(name) {
		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		_ = m.bus.SendTo(sendCtx, core.Envelope{
			Type: core.MsgNodeDeleted, Sender: core.ManagerAddress, Receiver: sub.AppAddress, Body: name,
		})
		cancel()
	}
	m.subs.RemoveDriver(name)
	m.subs.UnsubAll(name)

	if node.Single {
		m.plugins.ReleaseSingle(name)
	}
	m.health.Delete(name)
	if m.store != nil {
		_ = m.store.DeleteNode(ctx, name)
	}
	m.replyOK(ctx, env, sender, core.MsgRespError, gatewayerr.CodeSuccess)
}

func (m *Manager) handleGetNode(ctx context.Context, env core.Envelope, sender string) {
	name, _ := env.Body.(string)
	if name == "" {
		m.replyOK(ctx, env, sender, core.MsgRespGetNode, m.nodes.List())
		return
	}
	n, ok := m.nodes.Find(name)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.NotFound(gatewayerr.CodeNodeNotExist, "node", name))
		return
	}
	m.replyOK(ctx, env, sender, core.MsgRespGetNode, n)
}

func (m *Manager) handleNodeRename(ctx context.Context, env core.Envelope, sender string) {
	type renameBody struct{ Old, New string }
	b, ok := env.Body.(renameBody)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected rename body"))
		return
	}
	if err := m.nodes.UpdateName(b.Old, b.New); err != nil {
		m.replyError(ctx, env, sender, err)
		return
	}
	m.subs.RenameDriver(b.Old, b.New)
	m.subs.RenameApp(b.Old, b.New)
	m.replyOK(ctx, env, sender, core.MsgRespNodeRename, gatewayerr.CodeSuccess)
}

func (m *Manager) handleNodeInitRequest(ctx context.Context, env core.Envelope, sender string) {
	name, _ := env.Body.(string)
	if err := m.initNode(ctx, name); err != nil {
		m.replyError(ctx, env, sender, err)
		return
	}
	m.replyOK(ctx, env, sender, core.MsgRespError, gatewayerr.CodeSuccess)
}

func (m *Manager) handleNodeUninitRequest(ctx context.Context, env core.Envelope, sender string) {
	name, _ := env.Body.(string)
	if err := m.uninitNode(ctx, name); err != nil {
		m.replyError(ctx, env, sender, err)
		return
	}
	m.replyOK(ctx, env, sender, core.MsgRespNodeUninit, gatewayerr.CodeSuccess)
}

// --- group/tag admin ---

type groupBody struct {
	Driver string
	Group  core.Group
}

func (m *Manager) handleAddGroup(ctx context.Context, env core.Envelope, sender string) {
	b, ok := env.Body.(groupBody)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected group body"))
		return
	}
	if m.store != nil {
		if err := m.store.PutGroup(ctx, b.Driver, b.Group); err != nil {
			m.replyError(ctx, env, sender, gatewayerr.Wrap(gatewayerr.CodeInternal, "persist group", err))
			return
		}
	}
	m.forwardToDriver(ctx, env, sender, b.Driver, false)
}

func (m *Manager) handleUpdateGroup(ctx context.Context, env core.Envelope, sender string) {
	b, ok := env.Body.(groupBody)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected group body"))
		return
	}
	if m.store != nil {
		if err := m.store.UpdateGroup(ctx, b.Driver, b.Group); err != nil {
			m.replyError(ctx, env, sender, gatewayerr.Wrap(gatewayerr.CodeInternal, "persist group", err))
			return
		}
	}
	m.forwardToDriver(ctx, env, sender, b.Driver, false)
}

func (m *Manager) handleDelGroup(ctx context.Context, env core.Envelope, sender string) {
	type delGroupBody struct{ Driver, Group string }
	b, ok := env.Body.(delGroupBody)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected del-group body"))
		return
	}
	if m.store != nil {
		_ = m.store.DeleteGroup(ctx, b.Driver, b.Group)
	}
	for _, sub := range m.subs.FindByDriverGroup(b.Driver, b.Group) {
		_ = m.subs.Unsub(sub.Driver, sub.Group, sub.App)
		if m.store != nil {
			_ = m.store.DeleteSubscription(ctx, sub.Driver, sub.Group, sub.App)
		}
	}
	m.forwardToDriver(ctx, env, sender, b.Driver, false)
}

func (m *Manager) handleAddTag(ctx context.Context, env core.Envelope, sender string) {
	type tagBody struct {
		Driver, Group string
		Tag           core.Tag
	}
	b, ok := env.Body.(tagBody)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected tag body"))
		return
	}
	if m.store != nil {
		if err := m.store.PutTag(ctx, b.Driver, b.Group, b.Tag); err != nil {
			m.replyError(ctx, env, sender, gatewayerr.Wrap(gatewayerr.CodeInternal, "persist tag", err))
			return
		}
	}
	m.forwardToDriver(ctx, env, sender, b.Driver, false)
}

func (m *Manager) handleUpdateTag(ctx context.Context, env core.Envelope, sender string) {
	m.handleAddTag(ctx, env, sender)
}

func (m *Manager) handleDelTag(ctx context.Context, env core.Envelope, sender string) {
	type delTagBody struct{ Driver, Group, Tag string }
	b, ok := env.Body.(delTagBody)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected del-tag body"))
		return
	}
	if m.store != nil {
		_ = m.store.DeleteTag(ctx, b.Driver, b.Group, b.Tag)
	}
	m.forwardToDriver(ctx, env, sender, b.Driver, false)
}

// pendingForward remembers who a driver-bound forward came from, so the
// driver's eventual RESP_* reply (addressed back to the manager, since the
// driver never learns the app's address) can be re-addressed to them.
type pendingForward struct {
	sender  string
	origCtx string
}

// forwardToDriver relays an envelope to the driver node's runtime address.
// When awaitReply is false (every group/tag admin mutation), the manager
// acks success immediately since the driver applies those synchronously
// and never replies itself. When awaitReply is true (I/O forwards: spec
// §4.5's six READ_GROUP/WRITE_TAG(S)/WRITE_GTAGS/TEST_READ_TAG/SCAN_TAGS
// types), the manager instead registers a pendingForward keyed by a fresh
// correlation handle and waits for the driver's terminal RESP_* envelope,
// relayed on by handleNodeResponse. The handle carries env.Ctx as a suffix
// (spec §4.8) so the driver can still recover the caller's original trace
// handle for its own spans, even though it must echo the handle verbatim
// in its reply for the correlation lookup to succeed.
func (m *Manager) forwardToDriver(ctx context.Context, env core.Envelope, sender, driver string, awaitReply bool) {
	node, ok := m.nodes.Find(driver)
	if !ok || node.RuntimeAddress == "" {
		m.replyError(ctx, env, sender, gatewayerr.NotFound(gatewayerr.CodeNodeNotExist, "node", driver))
		return
	}

	var key string
	if awaitReply {
		m.pendingSeq++
		key = fmt.Sprintf("fwd-%d|%s", m.pendingSeq, env.Ctx)
		m.pending[key] = pendingForward{sender: sender, origCtx: env.Ctx}
		env.Ctx = key
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()
	env.Sender = core.ManagerAddress
	env.Receiver = node.RuntimeAddress
	if err := m.bus.SendTo(sendCtx, env); err != nil {
		if awaitReply {
			delete(m.pending, key)
		}
		m.replyError(ctx, env, sender, err)
		return
	}
	if !awaitReply {
		m.replyOK(ctx, env, sender, core.MsgRespError, gatewayerr.CodeSuccess)
	}
}

// --- subscriptions ---

func (m *Manager) handleSubscribe(ctx context.Context, env core.Envelope, sender string) {
	sub, ok := env.Body.(core.Subscription)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected subscription"))
		return
	}
	if !m.groupExists(ctx, sub.Driver, sub.Group) {
		m.replyError(ctx, env, sender, gatewayerr.NotFound(gatewayerr.CodeGroupNotExist, "group", sub.Group).With("driver", sub.Driver))
		return
	}
	sub.App = sender
	sub.AppAddress = sender
	if err := m.subs.Sub(sub); err != nil {
		m.replyError(ctx, env, sender, err)
		return
	}
	if m.store != nil {
		_ = m.store.PutSubscription(ctx, sub)
	}
	m.forwardSubscriptionCopy(ctx, env, sub)
	m.replyOK(ctx, env, sender, core.MsgRespError, gatewayerr.CodeSuccess)
}

// groupExists reports whether driver owns a group named group, consulting
// the persistence store (spec §4.5: "manager resolves the driver, checks
// the group exists" before recording a subscription). A manager running
// without a store has no group catalogue to check against.
func (m *Manager) groupExists(ctx context.Context, driver, group string) bool {
	if m.store == nil {
		return true
	}
	groups, err := m.store.ListGroups(ctx, driver)
	if err != nil {
		return false
	}
	for _, g := range groups {
		if g.Name == group {
			return true
		}
	}
	return false
}

// forwardSubscriptionCopy relays env to the driver's runtime address and
// back to the subscribing app, so both sides can update local state and
// open data channels (spec §4.5).
func (m *Manager) forwardSubscriptionCopy(ctx context.Context, env core.Envelope, sub core.Subscription) {
	if node, ok := m.nodes.Find(sub.Driver); ok && node.RuntimeAddress != "" {
		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		cp := env
		cp.Sender = core.ManagerAddress
		cp.Receiver = node.RuntimeAddress
		_ = m.bus.SendTo(sendCtx, cp)
		cancel()
	}
	if sub.AppAddress != "" {
		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		cp := env
		cp.Sender = core.ManagerAddress
		cp.Receiver = sub.AppAddress
		_ = m.bus.SendTo(sendCtx, cp)
		cancel()
	}
}

func (m *Manager) handleUpdateSubscribe(ctx context.Context, env core.Envelope, sender string) {
	type updateSubBody struct{ Driver, Group, Params string }
	b, ok := env.Body.(updateSubBody)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected update-subscribe body"))
		return
	}
	if err := m.subs.UpdateParams(b.Driver, b.Group, sender, b.Params); err != nil {
		m.replyError(ctx, env, sender, err)
		return
	}
	if sub, ok := m.subs.Find(b.Driver, b.Group, sender); ok && m.store != nil {
		_ = m.store.UpdateSubscription(ctx, sub)
	}
	m.replyOK(ctx, env, sender, core.MsgRespError, gatewayerr.CodeSuccess)
}

func (m *Manager) handleUnsubscribe(ctx context.Context, env core.Envelope, sender string) {
	type unsubBody struct{ Driver, Group string }
	b, ok := env.Body.(unsubBody)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected unsubscribe body"))
		return
	}
	if err := m.subs.Unsub(b.Driver, b.Group, sender); err != nil {
		m.replyError(ctx, env, sender, err)
		return
	}
	if m.store != nil {
		_ = m.store.DeleteSubscription(ctx, b.Driver, b.Group, sender)
	}
	m.forwardSubscriptionCopy(ctx, env, core.Subscription{Driver: b.Driver, Group: b.Group, App: sender, AppAddress: sender})
	m.replyOK(ctx, env, sender, core.MsgRespError, gatewayerr.CodeSuccess)
}

func (m *Manager) handleGetSubscribe(ctx context.Context, env core.Envelope, sender string) {
	driver, _ := env.Body.(string)
	if driver == "" {
		m.replyOK(ctx, env, sender, core.MsgRespGetSubscribeGroup, m.subs.List())
		return
	}
	m.replyOK(ctx, env, sender, core.MsgRespGetSubscribeGroup, m.subs.FindByDriver(driver))
}

// --- data plane ---

// handleTransData fans a driver's decoded group-read result out to every
// app currently subscribed to (driver, group) — the only place the manager
// multiplies one inbound envelope into several outbound sends.
func (m *Manager) handleTransData(ctx context.Context, env core.Envelope, sender string) {
	td, ok := env.Body.(core.TransData)
	if !ok {
		return
	}
	for _, sub := range m.subs.FindByDriverGroup(td.DriverNode, td.Group) {
		sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
		_ = m.bus.SendTo(sendCtx, core.Envelope{
			Type: core.MsgTransData, Sender: sender, Receiver: sub.AppAddress, Ctx: env.Ctx, TraceType: env.TraceType, Body: td,
		})
		cancel()
	}
}

// handleWriteForward relays a WRITE_TAG/WRITE_TAGS request from an app,
// addressed to the manager and carrying the target driver in its
// core.TransData body, on to the driver's runtime address. The driver's
// eventual write result is relayed back by handleNodeResponse.
func (m *Manager) handleWriteForward(ctx context.Context, env core.Envelope, sender string) {
	td, ok := env.Body.(core.TransData)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected TransData body"))
		return
	}
	m.forwardToDriver(ctx, env, sender, td.DriverNode, true)
}

// handleIOForward relays the remaining I/O message types (spec §4.5:
// READ_GROUP, WRITE_GTAGS, TEST_READ_TAG, SCAN_TAGS) to their target
// driver the same way handleWriteForward does.
func (m *Manager) handleIOForward(ctx context.Context, env core.Envelope, sender string) {
	td, ok := env.Body.(core.TransData)
	if !ok {
		m.replyError(ctx, env, sender, gatewayerr.Validation(gatewayerr.CodeBodyIsWrong, "expected TransData body"))
		return
	}
	m.forwardToDriver(ctx, env, sender, td.DriverNode, true)
}

// handleNodeResponse relays a node's terminal RESP_* envelope back to the
// app/admin client whose earlier forwardToDriver call registered env.Ctx
// as a pendingForward. If nothing is pending under that handle (a stray or
// duplicate reply), it is dropped rather than bounced back to the manager
// itself, since the driver always addresses these replies to "manager".
func (m *Manager) handleNodeResponse(ctx context.Context, env core.Envelope, sender string) {
	pf, ok := m.pending[env.Ctx]
	if !ok {
		m.log.WithField("ctx", env.Ctx).Warn("manager: no pending forward for node response")
		return
	}
	delete(m.pending, env.Ctx)

	sendCtx, cancel := context.WithTimeout(ctx, m.cfg.SendTimeout)
	defer cancel()
	env.Sender = sender
	env.Receiver = pf.sender
	env.Ctx = pf.origCtx
	_ = m.bus.SendTo(sendCtx, env)
}
