package consistency

import (
	"context"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/distroreg/registry/pkg/errwrap"
	"github.com/distroreg/registry/pkg/health"
	"github.com/distroreg/registry/pkg/logging"
)

const module = "CONSISTENCY"

// ephemeralLeaseTTLSeconds is the etcd lease TTL attached to ephemeral
// instance-list keys, matching catalog.DefaultIPDeleteTimeout: a crashed
// owner's writes expire on their own even if no peer's heartbeat-timeout
// sweep ever reaps them.
const ephemeralLeaseTTLSeconds = 30

// EtcdConsistency implements Consistency on top of etcd client v3: Put
// issues a client.Put, Get a client.Get, Remove a client.Delete, and
// Listen/Unlisten drive a single client.Watch per key, dispatched to the
// registered Listener set, mirroring the Put/Watch idiom used for
// registration elsewhere in this module but generalized from a fixed prefix
// to the arbitrary key namespace KeyBuilder produces.
type EtcdConsistency struct {
	client *clientv3.Client
	logger interface {
		Warnf(format string, args ...interface{})
	}

	mu        sync.Mutex
	listeners map[string][]Listener
	cancels   map[string]context.CancelFunc
}

// NewEtcdConsistency creates a Consistency backed by the given etcd endpoints.
func NewEtcdConsistency(endpoints []string) (*EtcdConsistency, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errwrap.Wrap(err, "failed to connect to etcd")
	}
	return &EtcdConsistency{
		client:    c,
		logger:    logging.GetLogger(module),
		listeners: make(map[string][]Listener),
		cancels:   make(map[string]context.CancelFunc),
	}, nil
}

// Put writes value under key. Ephemeral instance-list keys additionally
// attach a lease so a crashed owner's writes expire even if no peer reaps
// them, mirroring the Grant+Put-with-WithLease+KeepAlive idiom used for
// membership registration in membership.EtcdBackend.WriteMember.
func (e *EtcdConsistency) Put(key string, value []byte) error {
	ctx := context.Background()

	if (KeyBuilder{}).MatchEphemeralInstanceListKey(key) {
		return e.putWithLease(ctx, key, value)
	}

	if _, err := e.client.Put(ctx, key, string(value)); err != nil {
		return errwrap.Wrapf(err, "failed to put key %s", key)
	}
	return nil
}

func (e *EtcdConsistency) putWithLease(ctx context.Context, key string, value []byte) error {
	lease, err := e.client.Grant(ctx, ephemeralLeaseTTLSeconds)
	if err != nil {
		return errwrap.Wrapf(err, "failed to grant lease for key %s", key)
	}

	if _, err := e.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return errwrap.Wrapf(err, "failed to put key %s", key)
	}

	ch, err := e.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return errwrap.Wrapf(err, "failed to start lease keepalive for key %s", key)
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Get reads the current value for key.
func (e *EtcdConsistency) Get(key string) (Datum, bool, error) {
	resp, err := e.client.Get(context.Background(), key)
	if err != nil {
		return Datum{}, false, errwrap.Wrapf(err, "failed to get key %s", key)
	}
	if len(resp.Kvs) == 0 {
		return Datum{}, false, nil
	}
	return Datum{Key: key, Value: resp.Kvs[0].Value}, true, nil
}

// Remove deletes key.
func (e *EtcdConsistency) Remove(key string) error {
	_, err := e.client.Delete(context.Background(), key)
	if err != nil {
		return errwrap.Wrapf(err, "failed to remove key %s", key)
	}
	return nil
}

// Listen starts (on first call for key) a watch on key and registers l
// against it. Subsequent Listen calls for the same key reuse the watch.
func (e *EtcdConsistency) Listen(key string, l Listener) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners[key] = append(e.listeners[key], l)
	if _, watching := e.cancels[key]; watching {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancels[key] = cancel
	// WithPrefix so that a caller listening on a key family's common prefix
	// (e.g. the service-meta prefix) observes every key in that family, not
	// just literal matches; Listener.Interests still filters per event.
	watchChan := e.client.Watch(ctx, key, clientv3.WithPrefix())

	go e.dispatch(key, watchChan)
	return nil
}

// Unlisten removes l from key's listener set; when it empties, the
// underlying watch is cancelled.
func (e *EtcdConsistency) Unlisten(key string, l Listener) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls := e.listeners[key]
	for i, existing := range ls {
		if existing == l {
			ls = append(ls[:i], ls[i+1:]...)
			break
		}
	}
	e.listeners[key] = ls

	if len(ls) == 0 {
		if cancel, ok := e.cancels[key]; ok {
			cancel()
			delete(e.cancels, key)
		}
		delete(e.listeners, key)
	}
	return nil
}

// Status implements health.Checker by round-tripping a Get against the etcd
// cluster with a short deadline, per spec.md's requirement that etcd-backed
// adapters report their own liveness.
func (e *EtcdConsistency) Status() health.Status {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := e.client.Get(ctx, "health-check"); err != nil {
		return health.StatusUnhealthy("etcd consistency store unreachable", err)
	}
	return health.Healthy
}

func (e *EtcdConsistency) dispatch(key string, watchChan clientv3.WatchChan) {
	for resp := range watchChan {
		if err := resp.Err(); err != nil {
			e.logger.Warnf("watch on %s failed: %v", key, err)
			return
		}
		for _, ev := range resp.Events {
			actualKey := string(ev.Kv.Key)

			e.mu.Lock()
			listeners := append([]Listener(nil), e.listeners[key]...)
			e.mu.Unlock()

			switch ev.Type {
			case clientv3.EventTypePut:
				for _, l := range listeners {
					if l.Interests(actualKey) {
						l.OnChange(actualKey, ev.Kv.Value)
					}
				}
			case clientv3.EventTypeDelete:
				for _, l := range listeners {
					if l.Interests(actualKey) {
						l.OnDelete(actualKey)
					}
				}
			}
		}
	}
}
