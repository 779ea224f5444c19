// Package rpcservice implements the service contract described in the
// specification's external-interfaces section: three operations
// (Get, Put, Remove) over (key, value, request_id), transport-agnostic at
// the Service level. See server.go for the concrete transport this
// repository ships to make the service runnable.
package rpcservice

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mattkeenan/kvservice/internal/store"
)

// Request is the wire shape of a single RPC: Op selects which of the
// three operations to perform.
type Request struct {
	Op        string `json:"op"`
	Key       int32  `json:"key"`
	Value     string `json:"value,omitempty"`
	RequestID string `json:"request_id"`
}

// Response is the wire shape of every RPC's reply. RequestID always
// echoes the request's verbatim.
type Response struct {
	Code      int    `json:"code"`
	Messages  string `json:"messages"`
	Value     string `json:"value,omitempty"`
	RequestID string `json:"request_id"`
}

const (
	opGet    = "get"
	opPut    = "put"
	opRemove = "remove"
)

// Service binds the abstract three-operation contract to a Store.
type Service struct {
	store  *store.Store
	logger log.Logger
}

// NewService constructs a Service over store, logging with logger.
func NewService(s *store.Store, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{store: s, logger: logger}
}

// Handle dispatches req to the matching operation and runs it to
// completion: Get runs on the calling goroutine; Put and Remove return
// only after the single writer has applied the mutation.
func (svc *Service) Handle(req Request) Response {
	switch req.Op {
	case opGet:
		return svc.get(req)
	case opPut:
		return svc.put(req)
	case opRemove:
		return svc.remove(req)
	default:
		return Response{Code: 400, Messages: "unknown operation", RequestID: req.RequestID}
	}
}

func (svc *Service) get(req Request) Response {
	value, found := svc.store.Get(req.Key)
	if !found {
		return Response{Code: 404, Messages: "not found", RequestID: req.RequestID}
	}
	return Response{Code: 200, Messages: "success", Value: value, RequestID: req.RequestID}
}

func (svc *Service) put(req Request) Response {
	if err := svc.store.Put(req.Key, req.Value); err != nil {
		level.Warn(svc.logger).Log("msg", "put failed", "request_id", req.RequestID, "err", err)
		return Response{Code: 404, Messages: "put failed", RequestID: req.RequestID}
	}
	return Response{Code: 200, Messages: "success", RequestID: req.RequestID}
}

func (svc *Service) remove(req Request) Response {
	found, err := svc.store.Remove(req.Key)
	if err != nil {
		level.Warn(svc.logger).Log("msg", "remove failed", "request_id", req.RequestID, "err", err)
		return Response{Code: 404, Messages: "remove failed", RequestID: req.RequestID}
	}
	if !found {
		return Response{Code: 404, Messages: "not found", RequestID: req.RequestID}
	}
	return Response{Code: 200, Messages: "success", RequestID: req.RequestID}
}
