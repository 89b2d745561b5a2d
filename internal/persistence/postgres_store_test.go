package persistence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/nodelink/gateway/internal/core"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return NewPostgresStore(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestPostgresStorePutNodeUpserts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(".*INSERT INTO nodes.*").WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.PutNode(context.Background(), core.Node{Name: "plc-1", PluginModule: "modbus-tcp"})
	if err != nil {
		t.Fatalf("PutNode: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStoreListNodesScansRows(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"name", "plugin_module", "state", "link", "static", "single"}).
		AddRow("plc-1", "modbus-tcp", "ready", "connected", false, false)
	mock.ExpectQuery(".*SELECT.*FROM nodes.*").WillReturnRows(rows)

	nodes, err := s.ListNodes(context.Background())
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "plc-1" || nodes[0].State != core.StateReady {
		t.Fatalf("unexpected nodes: %+v", nodes)
	}
}

func TestPostgresStoreGetSettingNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(".*SELECT value FROM node_settings.*").
		WithArgs("plc-1", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, ok, err := s.GetSetting(context.Background(), "plc-1", "missing")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing setting")
	}
}

func TestPostgresStoreDeleteSubscription(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(".*DELETE FROM subscriptions.*").
		WithArgs("plc-1", "g1", "ekuiper").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.DeleteSubscription(context.Background(), "plc-1", "g1", "ekuiper"); err != nil {
		t.Fatalf("DeleteSubscription: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStorePutGroupAlsoWritesTags(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(".*INSERT INTO groups.*").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(".*INSERT INTO tags.*").WillReturnResult(sqlmock.NewResult(0, 1))

	g := core.Group{Name: "g1", IntervalMs: 1000, Tags: []core.Tag{{Name: "t1", Address: "1:3:0"}}}
	if err := s.PutGroup(context.Background(), "plc-1", g); err != nil {
		t.Fatalf("PutGroup: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
