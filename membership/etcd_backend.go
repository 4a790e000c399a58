package membership

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/distroreg/registry/catalog"
	"github.com/distroreg/registry/pkg/errwrap"
	"github.com/distroreg/registry/pkg/health"
)

const etcdMemberPrefix = "/registry/members/"

// EtcdBackend persists cluster membership in etcd, using a TTL lease so that a
// crashed member's entry expires instead of lingering forever. Grounded on
// the etcd client v3 idiom used for service registration: Grant a lease,
// Put with WithLease, KeepAlive to renew, Watch with WithPrefix to observe
// joins and leaves, Get/Delete with WithPrefix for snapshots and removal.
type EtcdBackend struct {
	client *clientv3.Client
	ttl    int64 // seconds

	leaseID clientv3.LeaseID
}

// NewEtcdBackend creates a backend connected to the given etcd endpoints.
func NewEtcdBackend(endpoints []string, ttlSeconds int64) (*EtcdBackend, error) {
	if ttlSeconds <= 0 {
		ttlSeconds = 15
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errwrap.Wrap(err, "failed to connect to etcd")
	}
	return &EtcdBackend{client: c, ttl: ttlSeconds}, nil
}

func memberKey(id MemberID) string {
	return etcdMemberPrefix + string(id)
}

// WriteMember grants a new lease for m on every call and puts it under its key.
// The lease is kept alive in the background for as long as the process runs;
// a crash stops the KeepAlive goroutine and the entry expires after ttl.
func (b *EtcdBackend) WriteMember(m Member) error {
	ctx := context.Background()
	m.Timestamp = time.Now()

	lease, err := b.client.Grant(ctx, b.ttl)
	if err != nil {
		return errwrap.Wrap(err, "failed to grant membership lease")
	}
	b.leaseID = lease.ID

	val, err := json.Marshal(m)
	if err != nil {
		return errwrap.Wrap(err, "failed to marshal member")
	}

	if _, err := b.client.Put(ctx, memberKey(m.ID()), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return errwrap.Wrap(err, "failed to put member")
	}

	ch, err := b.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return errwrap.Wrap(err, "failed to start lease keepalive")
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// ReadMember fetches a single member by id.
func (b *EtcdBackend) ReadMember(id MemberID) (Member, error) {
	resp, err := b.client.Get(context.Background(), memberKey(id))
	if err != nil {
		return Member{}, errwrap.Wrap(err, "failed to read member")
	}
	if len(resp.Kvs) == 0 {
		return Member{}, catalog.NewError(catalog.NotFound, "member not found", string(id))
	}
	var m Member
	if err := json.Unmarshal(resp.Kvs[0].Value, &m); err != nil {
		return Member{}, errwrap.Wrap(err, "failed to decode member")
	}
	return m, nil
}

// ReadMembers returns every currently registered member.
func (b *EtcdBackend) ReadMembers() (map[MemberID]Member, error) {
	resp, err := b.client.Get(context.Background(), etcdMemberPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errwrap.Wrap(err, "failed to read members")
	}

	out := make(map[MemberID]Member, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var m Member
		if err := json.Unmarshal(kv.Value, &m); err != nil {
			continue
		}
		out[m.ID()] = m
	}
	return out, nil
}

// RemoveMember deletes id's key outright, for a graceful Leave (the lease
// would otherwise expire this on its own after ttl).
func (b *EtcdBackend) RemoveMember(id MemberID) error {
	_, err := b.client.Delete(context.Background(), memberKey(id))
	if err != nil {
		return errwrap.Wrap(err, "failed to remove member")
	}
	return nil
}

// Status implements health.Checker by round-tripping a Get against the
// member-prefix key with a short deadline.
func (b *EtcdBackend) Status() health.Status {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := b.client.Get(ctx, etcdMemberPrefix, clientv3.WithPrefix()); err != nil {
		return health.StatusUnhealthy("etcd membership backend unreachable", err)
	}
	return health.Healthy
}

// Watch streams join/leave events for the member prefix until ctx is done.
// Every PUT event, including a member's periodic re-write of its own key, is
// surfaced as a join; a DELETE event (explicit removal or lease expiry) as a
// leave.
func (b *EtcdBackend) Watch(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, 16)
	watchChan := b.client.Watch(ctx, etcdMemberPrefix, clientv3.WithPrefix())

	go func() {
		defer close(out)
		for resp := range watchChan {
			for _, ev := range resp.Events {
				id := MemberID(strings.TrimPrefix(string(ev.Kv.Key), etcdMemberPrefix))
				switch ev.Type {
				case clientv3.EventTypePut:
					var m Member
					if err := json.Unmarshal(ev.Kv.Value, &m); err != nil {
						continue
					}
					out <- Event{Type: EventJoin, Member: m}
				case clientv3.EventTypeDelete:
					out <- Event{Type: EventLeave, Member: Member{MemberID: id}}
				}
			}
		}
	}()

	return out, nil
}
