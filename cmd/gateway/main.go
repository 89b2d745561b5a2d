// Command gateway runs the industrial IoT gateway node runtime: the
// manager loop plus its Modbus driver and eKuiper app node factories.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/nodelink/gateway/internal/core"
	"github.com/nodelink/gateway/internal/ekuiper"
	"github.com/nodelink/gateway/internal/gatewayconfig"
	"github.com/nodelink/gateway/internal/gatewayerr"
	"github.com/nodelink/gateway/internal/gatewaylog"
	"github.com/nodelink/gateway/internal/gatewaymetrics"
	"github.com/nodelink/gateway/internal/manager"
	"github.com/nodelink/gateway/internal/modbus"
	"github.com/nodelink/gateway/internal/noderuntime"
	"github.com/nodelink/gateway/internal/persistence"
	"github.com/nodelink/gateway/internal/persistence/migrations"
	"github.com/nodelink/gateway/internal/scheduler"
	"github.com/nodelink/gateway/internal/tracing"
)

const (
	pluginModbusTCP = "modbus-tcp"
	pluginEKuiper   = "ekuiper"
)

func main() {
	configFile := pflag.String("config", "", "path to gateway.yaml (overrides CONFIG_FILE)")
	ephemeral := pflag.Bool("ephemeral", false, "use an in-memory store instead of Postgres")
	pflag.Parse()

	if *configFile != "" {
		_ = os.Setenv("CONFIG_FILE", *configFile)
	}

	cfg, err := gatewayconfig.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := gatewaylog.New(gatewaylog.Config(cfg.Logging)).WithField("component", "gateway")

	store, closeStore, err := buildStore(*ephemeral, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize persistence")
	}
	defer closeStore()

	side := tracing.NewSidecar(cfg.Tracing.Enabled, cfg.Tracing.ServiceName)

	bus := core.NewBus(cfg.Bus.QueueDepth, time.Duration(cfg.Bus.SendTimeout)*time.Millisecond)
	m := manager.New(bus, manager.Config{SendTimeout: time.Duration(cfg.Bus.SendTimeout) * time.Millisecond},
		manager.WithLogger(log),
		manager.WithStore(store),
	)

	m.RegisterFactory(pluginModbusTCP, modbusFactory(store, bus, side, cfg.Tracing.SamplingRate, log))
	m.RegisterFactory(pluginEKuiper, ekuiperFactory(cfg.Server.EKuiperListen, bus, side, log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serveDiagnostics(cfg.Server.DiagListen, log)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("shutdown signal received")
		cancel()
	}()

	log.WithField("addr", cfg.Server.DiagListen).Info("gateway starting")
	if err := m.Run(ctx); err != nil {
		log.WithError(err).Fatal("manager loop exited with error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("error tearing down nodes")
	}
	log.Info("gateway stopped")
}

func buildStore(ephemeral bool, cfg *gatewayconfig.Config, log *logrus.Entry) (persistence.Store, func(), error) {
	if ephemeral || cfg.Persistence.DSN == "" {
		log.Info("using in-memory persistence store")
		return persistence.NewMemoryStore(), func() {}, nil
	}

	db, err := persistence.Open(context.Background(), cfg.Persistence.DSN,
		cfg.Persistence.MaxOpenConns, cfg.Persistence.MaxIdleConns,
		time.Duration(cfg.Persistence.ConnMaxLifeSecs)*time.Second)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Persistence.MigrateOnStart {
		if err := migrations.Apply(context.Background(), db); err != nil {
			return nil, nil, err
		}
	}

	store := persistence.NewPostgresStore(db)
	return store, func() { _ = db.Close() }, nil
}

func serveDiagnostics(addr string, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", gatewaymetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	log.WithField("addr", addr).Info("diagnostics listener starting")
	if err := http.ListenAndServe(addr, gatewaymetrics.InstrumentHandler(mux)); err != nil {
		log.WithError(err).Warn("diagnostics listener stopped")
	}
}

// modbusFactory builds the NodeFactory for modbus-tcp driver nodes: it
// dials the slave's connection, launches the driver scheduler for every
// persisted group, and runs the node's command/control loop.
func modbusFactory(store persistence.Store, bus *core.Bus, side *tracing.Sidecar, sampleRate float64, log *logrus.Entry) manager.NodeFactory {
	return func(ctx context.Context, node core.Node, desc core.PluginDescriptor) error {
		host, _, _ := store.GetSetting(ctx, node.Name, "tcp_host")
		if host == "" {
			host = "127.0.0.1"
		}
		port := 502
		if portStr, ok, _ := store.GetSetting(ctx, node.Name, "tcp_port"); ok && portStr != "" {
			if p, err := strconv.Atoi(portStr); err == nil {
				port = p
			}
		}

		conn := modbus.NewConnection(modbus.Endpoint{Address: host, Port: port}, 5*time.Second)
		if backupHost, ok, _ := store.GetSetting(ctx, node.Name, "tcp_backup_host"); ok && backupHost != "" {
			backupPort := port
			if bp, ok, _ := store.GetSetting(ctx, node.Name, "tcp_backup_port"); ok && bp != "" {
				if p, err := strconv.Atoi(bp); err == nil {
					backupPort = p
				}
			}
			conn.WithBackup(modbus.Endpoint{Address: backupHost, Port: backupPort})
		}

		exec := modbus.NewExecutor(conn, modbus.RetryPolicy{MaxRetries: 3, IntervalMs: 200}, modbus.NewDegradeTracker(5, 30*time.Second), 3*time.Second, side)

		groupSource := func(name string) (core.Group, bool) {
			groups, err := store.ListGroups(ctx, node.Name)
			if err != nil {
				return core.Group{}, false
			}
			for _, g := range groups {
				if g.Name != name {
					continue
				}
				if tags, err := store.ListTags(ctx, node.Name, name); err == nil {
					g.Tags = tags
				}
				return g, true
			}
			return core.Group{}, false
		}

		sched := scheduler.New(node.Name, bus, exec, groupSource, 240, side, sampleRate, log.WithField("driver", node.Name))

		groups, err := store.ListGroups(ctx, node.Name)
		if err != nil {
			return err
		}
		for _, g := range groups {
			if tags, err := store.ListTags(ctx, node.Name, g.Name); err == nil {
				g.Tags = tags
			}
			sched.StartGroup(ctx, g)
		}

		loop := noderuntime.New(bus, node.Name, log, noderuntime.Handler{
			HandleEnvelope: func(ctx context.Context, env core.Envelope, sender string) error {
				switch env.Type {
				case core.MsgAddGroup, core.MsgUpdateGroup:
					if g, ok := groupSource(groupNameFromEnvelope(env)); ok {
						sched.StartGroup(ctx, g)
					}
				case core.MsgDelGroup:
					sched.StopGroup(groupNameFromEnvelope(env))
				case core.MsgWriteTag, core.MsgWriteTags:
					td, ok := env.Body.(core.TransData)
					if !ok {
						return nil
					}
					traceHandle := env.Ctx
					if _, rest, found := strings.Cut(env.Ctx, "|"); found {
						traceHandle = rest
					}
					err := applyWrites(ctx, exec, groupSource, td, traceHandle, log)
					replyCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
					_ = bus.SendTo(replyCtx, core.Envelope{
						Type:     core.MsgRespError,
						Sender:   node.Name,
						Receiver: core.ManagerAddress,
						Ctx:      env.Ctx,
						Body:     gatewayerr.CodeOf(err),
					})
					cancel()
				}
				return nil
			},
		}, 0)

		go func() {
			_ = loop.Run(ctx)
			sched.StopAll()
			_ = conn.Close()
		}()
		return nil
	}
}

// applyWrites resolves each written sample's tag to its Point and issues
// the write over the driver's connection, tracing it under traceHandle when
// set (spec §4.8). It returns the first error encountered — an unknown
// group or tag, or a write failure — so the caller can reply RESP_ERROR
// with that code; a nil return means every sample wrote successfully
// (spec §7 scenario 2: "replies RESP_ERROR{error:SUCCESS}").
func applyWrites(ctx context.Context, exec *modbus.Executor, groupSource scheduler.GroupSource, td core.TransData, traceHandle string, log *logrus.Entry) error {
	group, ok := groupSource(td.Group)
	if !ok {
		log.WithField("group", td.Group).Warn("write to unknown group")
		return gatewayerr.NotFound(gatewayerr.CodeGroupNotExist, "group", td.Group)
	}
	points, _ := modbus.PointsForGroup(group)
	byName := make(map[string]modbus.Point, len(points))
	for _, p := range points {
		byName[p.Name] = p
	}

	var firstErr error
	for _, s := range td.Samples {
		p, ok := byName[s.Name]
		if !ok {
			log.WithField("tag", s.Name).Warn("write to unknown tag")
			if firstErr == nil {
				firstErr = gatewayerr.Validation(gatewayerr.CodeParamIsWrong, "unknown tag "+s.Name)
			}
			continue
		}
		if err := exec.WriteTag(ctx, p, s.Value.Scalar, traceHandle); err != nil {
			log.WithError(err).WithField("tag", s.Name).Warn("write failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// groupNameFromEnvelope extracts the group name from an ADD_GROUP/
// UPDATE_GROUP/DEL_GROUP envelope forwarded unchanged by the manager's
// dispatch.forwardToDriver. The manager wraps these in unexported body
// types local to its own package, which a type assertion here cannot name,
// so the body is inspected by reflection: a struct with an exported Group
// field of type core.Group (ADD_GROUP/UPDATE_GROUP) or string (DEL_GROUP).
// Any other body yields "".
func groupNameFromEnvelope(env core.Envelope) string {
	v := reflect.ValueOf(env.Body)
	if v.Kind() != reflect.Struct {
		return ""
	}
	f := v.FieldByName("Group")
	if !f.IsValid() || !f.CanInterface() {
		return ""
	}
	switch g := f.Interface().(type) {
	case core.Group:
		return g.Name
	case string:
		return g
	}
	return ""
}

// ekuiperFactory builds the NodeFactory for ekuiper app nodes: it opens a
// listener on listenAddr and serves the pair-socket protocol.
func ekuiperFactory(listenAddr string, bus *core.Bus, side *tracing.Sidecar, log *logrus.Entry) manager.NodeFactory {
	return func(ctx context.Context, node core.Node, desc core.PluginDescriptor) error {
		lis, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return err
		}

		app := ekuiper.New(node.Name, bus, side, log.WithField("app", node.Name))

		loop := noderuntime.New(bus, node.Name, log, noderuntime.Handler{
			HandleEnvelope: func(ctx context.Context, env core.Envelope, sender string) error {
				if env.Type != core.MsgTransData {
					return nil
				}
				td, ok := env.Body.(core.TransData)
				if !ok {
					return nil
				}
				app.HandleTransData(ctx, td, env.Ctx)
				return nil
			},
		}, 0)

		go func() {
			_ = app.Serve(ctx, lis)
		}()
		go func() {
			_ = loop.Run(ctx)
			_ = lis.Close()
		}()
		return nil
	}
}
