package transport

import (
	"context"
	"errors"
	"sync"

	"mini-storm/internal/common"
)

var errNotRegistered = errors.New("no worker listening")

// LocalNetwork conecta workers del mismo proceso sin serializar.
type LocalNetwork struct {
	mu    sync.RWMutex
	peers map[string]Inbound
}

func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{peers: make(map[string]Inbound)}
}

func (n *LocalNetwork) Register(addr string, in Inbound) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[addr] = in
}

// Unregister simula la caída de un worker: los envíos posteriores fallan.
func (n *LocalNetwork) Unregister(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, addr)
}

func (n *LocalNetwork) lookup(addr string) (Inbound, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	in, ok := n.peers[addr]
	if !ok {
		return nil, unreachable(addr, errNotRegistered)
	}
	return in, nil
}

func (n *LocalNetwork) Deliver(ctx context.Context, addr string, d common.Delivery) error {
	in, err := n.lookup(addr)
	if err != nil {
		return err
	}
	return in.Deliver(ctx, d)
}

func (n *LocalNetwork) Ack(ctx context.Context, addr string, m common.AckMessage) error {
	in, err := n.lookup(addr)
	if err != nil {
		return err
	}
	return in.Ack(ctx, m)
}

func (n *LocalNetwork) Close() error { return nil }
