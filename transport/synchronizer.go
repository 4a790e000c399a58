// Package transport implements the peer-to-peer wire protocol anti-entropy
// runs over: a fire-and-forget checksum broadcast (send) and a pull of a
// single service's authoritative instance snapshot (get), per spec.md §6's
// Synchronizer contract. Grounded on the teacher's SSE-based replication
// server (registry/replication/server.go) but simplified to the spec's
// plain request/response shape rather than a persistent event stream, since
// anti-entropy here is pull-based rather than push-based.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/distroreg/registry/catalog"
	"github.com/distroreg/registry/membership"
	"github.com/distroreg/registry/pkg/logging"
	"github.com/distroreg/registry/registry"
)

const (
	module      = "TRANSPORT"
	sendTimeout = 7 * time.Second
	getTimeout  = 7 * time.Second

	checksumPath = "/v1/antientropy/checksums"
	servicePath  = "/v1/antientropy/service"
)

// ChecksumMessage is the wire shape for a Reporter broadcast: the reporting
// namespace plus a map of serviceName to its freshly recalculated checksum.
type ChecksumMessage struct {
	NamespaceID string            `json:"namespaceId"`
	Checksums   map[string]string `json:"checksums"`
}

// ServiceSnapshot is the wire shape Synchronizer.Get returns: enough of a
// service's instance list for the pull worker to reconcile healthy flags.
type ServiceSnapshot struct {
	Name        string   `json:"dom"`
	IPs         []string `json:"ips"` // "ip:port_healthy", e.g. "10.0.0.1:8080_true"
	Checksum    string    `json:"checksum"`
	LastRefTime int64     `json:"lastRefTime"`
}

// Synchronizer is the peer-transport contract AntiEntropy depends on,
// mirroring spec.md §6 verbatim.
type Synchronizer interface {
	// Send fire-and-forgets a checksum broadcast to peerAddr.
	Send(ctx context.Context, peerAddr string, msg ChecksumMessage) error
	// Get pulls fullServiceName's authoritative snapshot from peerAddr.
	Get(ctx context.Context, peerAddr, namespaceID, fullServiceName string) (ServiceSnapshot, error)
}

// HTTPSynchronizer implements Synchronizer over plain HTTP, the way the
// teacher's replication client speaks to registry/replication/server.go's
// mux-routed endpoints, minus the SSE long-lived connection (anti-entropy
// here is request/response, not a subscription stream).
type HTTPSynchronizer struct {
	client *http.Client
	self   membership.MemberID
	logger interface {
		Warnf(format string, args ...interface{})
	}
}

// NewHTTPSynchronizer creates a Synchronizer that identifies itself as self
// on every outbound request (mirroring the teacher's Member-ID header).
func NewHTTPSynchronizer(self membership.MemberID) *HTTPSynchronizer {
	return &HTTPSynchronizer{
		client: &http.Client{Timeout: sendTimeout},
		self:   self,
		logger: logging.GetLogger(module),
	}
}

// Send posts msg to peerAddr's checksum-broadcast endpoint.
func (h *HTTPSynchronizer) Send(ctx context.Context, peerAddr string, msg ChecksumMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+peerAddr+checksumPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Member-ID", string(h.self))

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return catalog.NewError(catalog.TransientPeerFailure, "checksum broadcast rejected", resp.Status)
	}
	return nil
}

// Get pulls fullServiceName's snapshot from peerAddr.
func (h *HTTPSynchronizer) Get(ctx context.Context, peerAddr, namespaceID, fullServiceName string) (ServiceSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, getTimeout)
	defer cancel()

	url := "http://" + peerAddr + servicePath + "?ns=" + namespaceID + "&name=" + fullServiceName
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ServiceSnapshot{}, err
	}
	req.Header.Set("Member-ID", string(h.self))

	resp, err := h.client.Do(req)
	if err != nil {
		return ServiceSnapshot{}, catalog.NewError(catalog.TransientPeerFailure, "service snapshot pull failed", err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ServiceSnapshot{}, catalog.NewError(catalog.TransientPeerFailure, "service snapshot pull rejected", resp.Status)
	}

	var snap ServiceSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return ServiceSnapshot{}, catalog.NewError(catalog.TransientPeerFailure, "malformed service snapshot", err.Error())
	}
	return snap, nil
}

// Handler serves the two endpoints HTTPSynchronizer calls: an incoming
// checksum broadcast is handed to onChecksums for the receive-path logic in
// the antientropy package; a snapshot GET is built directly from the
// Registry's in-memory state.
type Handler struct {
	reg         *registry.Registry
	onChecksums func(peerAddr string, msg ChecksumMessage)
}

// NewHandler creates a Handler backed by reg; onChecksums is invoked for
// every incoming broadcast (the antientropy package wires in its receive
// path here).
func NewHandler(reg *registry.Registry, onChecksums func(peerAddr string, msg ChecksumMessage)) *Handler {
	return &Handler{reg: reg, onChecksums: onChecksums}
}

// Register installs the Synchronizer endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc(checksumPath, h.serveChecksums)
	mux.HandleFunc(servicePath, h.serveService)
}

func (h *Handler) serveChecksums(w http.ResponseWriter, req *http.Request) {
	var msg ChecksumMessage
	if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
		http.Error(w, "malformed checksum message", http.StatusBadRequest)
		return
	}
	h.onChecksums(req.RemoteAddr, msg)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) serveService(w http.ResponseWriter, req *http.Request) {
	ns := req.URL.Query().Get("ns")
	name := req.URL.Query().Get("name")

	svc, ok := h.reg.GetService(ns, name)
	if !ok {
		http.Error(w, "service not found", http.StatusNotFound)
		return
	}

	ips := make([]string, 0)
	for _, inst := range svc.AllIPs() {
		ips = append(ips, inst.IPAddr()+"_"+strconv.FormatBool(inst.Healthy))
	}

	snap := ServiceSnapshot{
		Name:        svc.Name,
		IPs:         ips,
		Checksum:    svc.Checksum(),
		LastRefTime: svc.LastModifiedMillis(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}
