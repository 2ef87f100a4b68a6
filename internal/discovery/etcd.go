// Package discovery finds seed addresses for joining the mesh through an
// etcd registry. Each node registers its own listen address under a lease and
// reads (or watches) the addresses of everyone else. Discovery is wiring-time
// only; once connected, membership is tracked by the presence layer itself.
package discovery

import (
	"context"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	keyPrefix   = "/hyper-presense/peers/"
	dialTimeout = 5 * time.Second
)

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// RegisterNode publishes id→addr under a lease of ttl seconds and keeps the
// lease alive in the background. The returned cancel stops the keepalive.
func RegisterNode(ctx context.Context, cli *clientv3.Client, id, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, err
	}
	if _, err := cli.Put(ctx, keyPrefix+id, addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, err
	}
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, err
	}
	go func() {
		for range ch {
		}
	}()
	return lease.ID, cancel, nil
}

// ListPeers returns the currently registered id→addr pairs.
func ListPeers(ctx context.Context, cli *clientv3.Client) (map[string]string, error) {
	resp, err := cli.Get(ctx, keyPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), keyPrefix)
		out[id] = string(kv.Value)
	}
	return out, nil
}

// WatchPeers invokes fn with the full registered set after every change.
func WatchPeers(ctx context.Context, cli *clientv3.Client, fn func(peers map[string]string)) {
	go func() {
		wch := cli.Watch(ctx, keyPrefix, clientv3.WithPrefix())
		for range wch {
			peers, err := ListPeers(ctx, cli)
			if err != nil {
				continue
			}
			fn(peers)
		}
	}()
}
