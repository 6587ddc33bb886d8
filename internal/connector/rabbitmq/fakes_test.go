package rabbitmq

import (
	"bytes"
	"context"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/cuongceg/brokerbridge/internal/core"
	"github.com/cuongceg/brokerbridge/internal/pipeline"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) count(msg string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), `"message":"`+msg+`"`)
}

func testEnv() (core.Env, *syncBuffer) {
	buf := &syncBuffer{}
	return core.Env{Logger: zerolog.New(buf)}, buf
}

type fakeChannel struct {
	mu sync.Mutex

	deliveries chan amqp.Delivery
	stopOnce   sync.Once
	declareErr error

	qos       int
	declared  []string
	args      amqp.Table
	binds     []string
	autoAck   bool
	consumers []string
	cancelled []string
	deleted   []string
	acks      []uint64
	nacks     []uint64
	closed    bool
	closes    int

	confirms  chan amqp.Confirmation
	returns   chan amqp.Return
	publishes int
	seq       uint64
	failOn    map[int]error
	nackOn    map[int]bool
	returnOn  map[int]bool
	holdOn    map[int]bool // confirm/return delivered with the next publish
	held      []any
	published []amqp.Publishing
	confirmed bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (c *fakeChannel) endDeliveries() { c.stopOnce.Do(func() { close(c.deliveries) }) }

func (c *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qos = prefetchCount
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.declareErr != nil {
		return amqp.Queue{}, c.declareErr
	}
	c.declared = append(c.declared, name)
	c.args = args
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.binds = append(c.binds, exchange+"/"+key+"->"+name)
	return nil
}

func (c *fakeChannel) QueueDelete(name string, _, _, _ bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, name)
	return 0, nil
}

func (c *fakeChannel) Consume(_, consumer string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers = append(c.consumers, consumer)
	c.autoAck = autoAck
	return c.deliveries, nil
}

func (c *fakeChannel) Cancel(consumer string, _ bool) error {
	c.mu.Lock()
	c.cancelled = append(c.cancelled, consumer)
	c.mu.Unlock()
	c.endDeliveries()
	return nil
}

func (c *fakeChannel) Ack(tag uint64, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acks = append(c.acks, tag)
	return nil
}

func (c *fakeChannel) Nack(tag uint64, _, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nacks = append(c.nacks, tag)
	return nil
}

func (c *fakeChannel) Confirm(bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = true
	return nil
}

func (c *fakeChannel) NotifyPublish(ch chan amqp.Confirmation) chan amqp.Confirmation {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirms = ch
	return ch
}

func (c *fakeChannel) NotifyReturn(ch chan amqp.Return) chan amqp.Return {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.returns = ch
	return ch
}

func (c *fakeChannel) GetNextPublishSeqNo() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq + 1
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes++
	if err := c.failOn[c.publishes]; err != nil {
		return err
	}
	c.seq++
	c.published = append(c.published, msg)

	for _, n := range c.held {
		c.notify(n)
	}
	c.held = nil

	var out []any
	if c.returnOn[c.publishes] {
		out = append(out, amqp.Return{MessageId: msg.MessageId, RoutingKey: key, ReplyCode: amqp.NoRoute, ReplyText: "NO_ROUTE"})
	}
	out = append(out, amqp.Confirmation{DeliveryTag: c.seq, Ack: !c.nackOn[c.publishes]})
	if c.holdOn[c.publishes] {
		c.held = append(c.held, out...)
		return nil
	}
	for _, n := range out {
		c.notify(n)
	}
	return nil
}

// notify requires c.mu.
func (c *fakeChannel) notify(n any) {
	switch v := n.(type) {
	case amqp.Return:
		c.returns <- v
	case amqp.Confirmation:
		c.confirms <- v
	}
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.closes++
	c.mu.Unlock()
	c.endDeliveries()
	return nil
}

func (c *fakeChannel) snapshot(fn func(c *fakeChannel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

type fakeConn struct {
	mu     sync.Mutex
	ch     *fakeChannel
	closed bool
	closes int
}

func (c *fakeConn) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	return c.ch, nil
}

func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closes++
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type dialResult struct {
	conn *fakeConn
	err  error
}

// scriptedDialer returns its results in order, then keeps returning the last.
type scriptedDialer struct {
	mu      sync.Mutex
	results []dialResult
	urls    []string
	dials   int
}

func (d *scriptedDialer) dial(url string, _ amqp.Config) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	r := d.results[min(d.dials, len(d.results)-1)]
	d.dials++
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *scriptedDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type recordSink struct {
	mu     sync.Mutex
	events []*pipeline.Event
}

func (s *recordSink) Push(_ context.Context, ev *pipeline.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
