// Package client implements the PCP client engine: a single-threaded
// cooperative event loop that owns one UDP socket to
// the PCP server, drives every managed mapping through create/renew/
// cleanup via the lifecycle state machine (internal/pcp/lifecycle), and
// exposes a command channel to the rest of the system.
package client

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/pcpforward/controller/internal/pcp/lifecycle"
	"github.com/pcpforward/controller/internal/pcp/mapping"
	"github.com/pcpforward/controller/internal/pcp/packet"
	"github.com/pcpforward/controller/internal/pcp/primitives"
	"github.com/pcpforward/controller/internal/pcp/wire"
	"github.com/pcpforward/controller/internal/pcpnet"
	"github.com/pcpforward/controller/internal/pcperr"
)

const (
	defaultKeepaliveInterval  = 30 * time.Second
	defaultCommandBuffer      = 32
	defaultNotificationBuffer = 64
)

// NotifiedMapping is one message on the notification channel: the
// mapping identity reconstructed from the reply, and the decoded reply
// itself.
type NotifiedMapping struct {
	Id       mapping.Id
	Incoming mapping.Incoming
}

// Client is the PCP client engine. Construct with New and drive it with
// Run; send commands with Commands().
type Client struct {
	serverAddr *net.UDPAddr
	transport  pcpnet.Transport

	keepaliveInterval time.Duration
	logger            logr.Logger

	table map[mapping.Id]*lifecycle.State

	commands      chan Command
	notifications chan NotifiedMapping
	queue         *notificationQueue
}

// New builds a Client ready to Run. serverAddr is the PCP server's
// address; transport is the already-bound UDP socket abstraction (see
// internal/pcpnet).
func New(serverAddr *net.UDPAddr, transport pcpnet.Transport, opts ...Option) (*Client, error) {
	c := &Client{
		serverAddr:        serverAddr,
		transport:         transport,
		keepaliveInterval: defaultKeepaliveInterval,
		logger:            logr.Discard(),
		table:             make(map[mapping.Id]*lifecycle.State),
		commands:          make(chan Command, defaultCommandBuffer),
		notifications:     make(chan NotifiedMapping, defaultNotificationBuffer),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.queue = newNotificationQueue()
	return c, nil
}

// Commands returns the channel callers use to drive the engine.
// Producers should use a send timeout since the channel is bounded.
func (c *Client) Commands() chan<- Command {
	return c.commands
}

// Notifications returns the channel C8 reads decoded replies from.
func (c *Client) Notifications() <-chan NotifiedMapping {
	return c.notifications
}

// Run drives the event loop until ctx is canceled, the command channel
// is closed, or the transport reports a fatal error. Exactly one event
// is processed per iteration; no two reconciliation passes overlap.
func (c *Client) Run(ctx context.Context) error {
	recvCh := make(chan receivedDatagram)
	go c.receiveLoop(ctx, recvCh)
	go c.queue.drain(ctx, c.notifications)

	timer := time.NewTimer(c.keepaliveInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-timer.C:
			timer.Reset(c.keepaliveInterval)
			c.reconcileOnce(ctx)

		case r, open := <-recvCh:
			if !open {
				return nil
			}
			if r.err != nil {
				return pcperr.New(pcperr.Transport, "receive", r.err)
			}
			if !r.ok {
				c.logger.Info("dropped inbound datagram with unexpected length")
				continue
			}
			localAddr, ok := netip.AddrFromSlice(r.localAddr)
			if !ok {
				c.logger.Info("dropped inbound datagram with no recoverable destination address")
				continue
			}
			c.applyIncoming(r.buf, localAddr)

		case cmd, open := <-c.commands:
			if !open {
				return nil
			}
			if c.dispatch(cmd) {
				c.reconcileOnce(ctx)
			}
		}
	}
}

// dispatch applies cmd to the mapping table and reports whether the
// table was mutated (and therefore needs reconciliation).
func (c *Client) dispatch(cmd Command) bool {
	switch v := cmd.(type) {
	case UpsertDesired:
		state, exists := c.table[v.Desired.Id]
		if !exists {
			c.table[v.Desired.Id] = lifecycle.New(v.Desired)
			return true
		}
		state.UpdateDesired(v.Desired)
		return true

	case RemoveDesired:
		state, exists := c.table[v.Id]
		if !exists {
			return false
		}
		state.RemoveDesired()
		return true

	case HasState:
		_, exists := c.table[v.Id]
		v.Reply <- exists
		return false

	case GetEffective:
		state, exists := c.table[v.Id]
		if !exists || state.Effective == nil {
			v.Reply <- nil
			return false
		}
		effective := *state.Effective
		v.Reply <- &effective
		return false

	default:
		c.logger.Info("unrecognized command ignored")
		return false
	}
}

// reconcileOnce sends every pending cleanup and renew request across
// the mapping table, in cleanup-then-renew order per K, then evicts
// entries left with no desired value and an empty cleanup queue.
func (c *Client) reconcileOnce(ctx context.Context) {
	type sendItem struct {
		id     mapping.Id
		params mapping.Params
	}

	var sends []sendItem
	var stale []mapping.Id

	for id, state := range c.table {
		renew, cleanupQueue := state.PendingActions()
		for _, entry := range cleanupQueue {
			sends = append(sends, sendItem{id: entry.Id, params: entry.Params})
		}
		if renew != nil {
			sends = append(sends, sendItem{id: renew.Id, params: renew.Params})
		}
		if state.IsGarbage() {
			stale = append(stale, id)
		}
	}

	for _, item := range sends {
		if err := c.sendMapRequest(ctx, item.id, item.params); err != nil {
			c.logger.Error(err, "MAP request send failed, will retry next cycle", "id", item.id)
		}
	}

	for _, id := range stale {
		delete(c.table, id)
	}
}

func (c *Client) sendMapRequest(ctx context.Context, id mapping.Id, params mapping.Params) error {
	var buf packet.Buffer
	encoder, err := packet.NewEncoder(&buf).Request().Map(
		packet.RequestHeader{
			RequestedLifetime: params.Lifetime,
			ClientIP:          id.InternalIP,
		},
		packet.MapRequest{
			Nonce:                      id.Nonce,
			Protocol:                   id.Protocol,
			InternalPort:               id.InternalPort,
			SuggestedExternalPort:      params.ExternalPort,
			SuggestedExternalIPAddress: params.ExternalIP,
		},
	)
	if err != nil {
		return pcperr.New(pcperr.Transport, "encode MAP request", err)
	}

	if params.PreferFailure != nil {
		code := wire.WithOptionalBit(wire.OptionPreferFailure, *params.PreferFailure)
		encoder, err = encoder.AddOption(code, nil)
		if err != nil {
			return pcperr.New(pcperr.Transport, "encode PREFER_FAILURE option", err)
		}
	}

	return c.transport.Send(ctx, encoder.Finish(), c.serverAddr)
}

// applyIncoming decodes a received datagram as a MAP response,
// reconstructs its mapping identity from the protocol, the genuine
// local destination address, the internal port, and the nonce, emits a
// notification, and folds the reply into the matching mapping state if
// one exists.
func (c *Client) applyIncoming(buf *packet.Buffer, localAddr netip.Addr) {
	header, body, ok := packet.NewDecoder(buf).MapResponse()
	if !ok {
		c.logger.Info("dropped non-MAP-response datagram")
		return
	}

	internalIP := primitives.UnifyAddress(localAddr)
	id := mapping.Id{
		Protocol:     body.Protocol,
		InternalIP:   internalIP,
		InternalPort: body.InternalPort,
		Nonce:        body.Nonce,
	}
	incoming := mapping.Incoming{
		Resource:             id.ExposedResource(),
		ResultCode:           header.ResultCode,
		Lifetime:             header.Lifetime,
		EpochTime:            header.EpochTime,
		AssignedExternalPort: body.AssignedExternalPort,
		AssignedExternalIP:   body.AssignedExternalIPAddress,
	}

	c.queue.enqueue(NotifiedMapping{Id: id, Incoming: incoming})

	state, exists := c.table[id]
	if !exists {
		c.logger.Info("notification for unknown mapping", "id", id)
		return
	}
	state.HandleServerNotification(incoming)
}

type receivedDatagram struct {
	buf       *packet.Buffer
	localAddr net.IP
	ok        bool
	err       error
}

func (c *Client) receiveLoop(ctx context.Context, out chan<- receivedDatagram) {
	defer close(out)
	for {
		buf, localAddr, ok, err := c.transport.Receive(ctx)
		select {
		case out <- receivedDatagram{buf: buf, localAddr: localAddr, ok: ok, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// notificationQueue decouples "the engine must never block enqueueing a
// notification" from "notifications must arrive at the status listener
// in receipt order". Enqueue is an O(1) append under a mutex; a single
// dedicated goroutine drains the queue into the bounded notifications
// channel, so ordering is preserved without spawning a goroutine per
// message.
type notificationQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []NotifiedMapping
	closed bool
}

func newNotificationQueue() *notificationQueue {
	q := &notificationQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *notificationQueue) enqueue(n NotifiedMapping) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, n)
	q.cond.Signal()
}

func (q *notificationQueue) drain(ctx context.Context, out chan<- NotifiedMapping) {
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		next := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case out <- next:
		case <-ctx.Done():
			return
		}
	}
}
