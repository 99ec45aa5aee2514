// Package discovery registers a running node in etcd so operators and
// sibling services can find it. Registration is metadata only; nodes
// never coordinate data through it.
package discovery

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const dialTimeout = 5 * time.Second

// NewClient connects to an etcd cluster.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
}

// RegisterNode publishes addr under /userkv/nodes/<id> on a lease of
// ttl seconds and keeps the lease alive for the life of ctx. The entry
// disappears ttl seconds after the process dies.
func RegisterNode(ctx context.Context, cli *clientv3.Client, log *zap.Logger, id, addr string, ttl int64) (clientv3.LeaseID, error) {
	if log == nil {
		log = zap.NewNop()
	}

	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, fmt.Errorf("discovery: grant lease: %w", err)
	}

	key := fmt.Sprintf("/userkv/nodes/%s", id)
	if _, err := cli.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, fmt.Errorf("discovery: put %s: %w", key, err)
	}

	ch, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return 0, fmt.Errorf("discovery: keepalive: %w", err)
	}
	go func() {
		for range ch {
			// Drain keepalive acks until the channel closes.
		}
		log.Warn("lease keepalive ended", zap.String("node", id))
	}()

	log.Info("node registered",
		zap.String("node", id),
		zap.String("addr", addr),
		zap.Int64("ttl", ttl),
	)
	return lease.ID, nil
}

// Nodes lists the currently registered nodes as id -> addr.
func Nodes(ctx context.Context, cli *clientv3.Client) (map[string]string, error) {
	resp, err := cli.Get(ctx, "/userkv/nodes/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("discovery: list nodes: %w", err)
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := string(kv.Key[len("/userkv/nodes/"):])
		out[id] = string(kv.Value)
	}
	return out, nil
}
