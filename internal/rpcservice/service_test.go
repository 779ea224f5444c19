package rpcservice

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/mattkeenan/kvservice/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := store.New()
	if err := s.Start(filepath.Join(t.TempDir(), "dump")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return NewService(s, nil)
}

func TestPutThenGetHit(t *testing.T) {
	svc := newTestService(t)

	put := svc.Handle(Request{Op: opPut, Key: 1, Value: "a", RequestID: "r1"})
	if put.Code != 200 {
		t.Fatalf("Put: expected code 200, got %+v", put)
	}

	get := svc.Handle(Request{Op: opGet, Key: 1, RequestID: "r2"})
	if get.Code != 200 || get.Value != "a" || get.RequestID != "r2" {
		t.Fatalf("Get: expected (200, a, r2), got %+v", get)
	}
}

func TestGetMissOnEmptyStore(t *testing.T) {
	svc := newTestService(t)

	resp := svc.Handle(Request{Op: opGet, Key: 42, RequestID: "r1"})
	if resp.Code != 404 || resp.Value != "" {
		t.Fatalf("expected (404, \"\"), got %+v", resp)
	}
	if resp.RequestID != "r1" {
		t.Errorf("expected request_id to be echoed, got %q", resp.RequestID)
	}
}

func TestUpdateOverwritesValueAndCodeIs200(t *testing.T) {
	svc := newTestService(t)

	svc.Handle(Request{Op: opPut, Key: 1, Value: "a"})
	svc.Handle(Request{Op: opPut, Key: 1, Value: "b"})

	resp := svc.Handle(Request{Op: opGet, Key: 1})
	if resp.Code != 200 || resp.Value != "b" {
		t.Fatalf("expected (200, b), got %+v", resp)
	}
}

func TestRemoveThenGetMiss(t *testing.T) {
	svc := newTestService(t)

	svc.Handle(Request{Op: opPut, Key: 5, Value: "x"})
	remove := svc.Handle(Request{Op: opRemove, Key: 5})
	if remove.Code != 200 {
		t.Fatalf("expected remove code 200, got %+v", remove)
	}

	get := svc.Handle(Request{Op: opGet, Key: 5})
	if get.Code != 404 {
		t.Fatalf("expected get code 404 after remove, got %+v", get)
	}

	second := svc.Handle(Request{Op: opRemove, Key: 5})
	if second.Code != 404 {
		t.Fatalf("expected second remove code 404, got %+v", second)
	}
}

func TestUnknownOp(t *testing.T) {
	svc := newTestService(t)
	resp := svc.Handle(Request{Op: "bogus", RequestID: "r1"})
	if resp.Code != 400 || resp.RequestID != "r1" {
		t.Fatalf("expected (400, r1), got %+v", resp)
	}
}

// TestServerEndToEnd drives the service through its actual TCP transport,
// matching the spec's Put/Get-hit end-to-end scenario over the wire.
func TestServerEndToEnd(t *testing.T) {
	svc := newTestService(t)
	server := NewServer(svc, nil)

	if err := server.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := server.Addr().String()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve() }()
	defer func() {
		server.Close()
		if err := <-errCh; err != nil {
			t.Errorf("Serve: %v", err)
		}
	}()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	if err := enc.Encode(Request{Op: opPut, Key: 1, Value: "a", RequestID: "e2e-1"}); err != nil {
		t.Fatalf("encode put: %v", err)
	}
	var putResp Response
	if err := dec.Decode(&putResp); err != nil {
		t.Fatalf("decode put response: %v", err)
	}
	if putResp.Code != 200 {
		t.Fatalf("expected put code 200, got %+v", putResp)
	}

	if err := enc.Encode(Request{Op: opGet, Key: 1, RequestID: "e2e-2"}); err != nil {
		t.Fatalf("encode get: %v", err)
	}
	var getResp Response
	if err := dec.Decode(&getResp); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if getResp.Code != 200 || getResp.Value != "a" || getResp.RequestID != "e2e-2" {
		t.Fatalf("expected (200, a, e2e-2), got %+v", getResp)
	}
}
