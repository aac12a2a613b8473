package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/sessionsharer/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
)

var _ Opener = (*UDPBus)(nil)

var ErrInvalidGroup = errors.New("bus: invalid multicast group")

// UDPConfig configures a multicast bus.
type UDPConfig struct {
	// Group is the IPv4 multicast group and port, e.g. 239.255.77.77:7447.
	Group string
	// Interface names the NIC to join on. Empty lets the OS choose.
	Interface string
	TTL       int
	// Origin is stamped on every datagram this bus posts.
	Origin string
	Limits frame.Limits
}

func DefaultUDPConfig() UDPConfig {
	return UDPConfig{
		Group:  "239.255.77.77:7447",
		TTL:    1,
		Limits: frame.DefaultLimits(),
	}
}

// UDPBus carries channels over one IPv4 multicast group. Loopback stays
// on so that channels in the same process, or other processes on the same
// host, see each other's posts. A channel's own posts are filtered by
// sender id.
type UDPBus struct {
	cfg   UDPConfig
	group *net.UDPAddr
	ifi   *net.Interface
	conn  net.PacketConn
	pc    *ipv4.PacketConn
	seq   atomic.Uint64

	mu     sync.RWMutex
	subs   map[string]map[uuid.UUID]*udpChannel
	closed bool

	done chan struct{}
}

// ListenUDP joins the configured group and starts the receive loop.
func ListenUDP(ctx context.Context, cfg UDPConfig) (*UDPBus, error) {
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 1
	}
	group, err := net.ResolveUDPAddr("udp4", strings.TrimSpace(cfg.Group))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGroup, err)
	}
	if group.IP == nil || !group.IP.IsMulticast() {
		return nil, fmt.Errorf("%w: %s is not a multicast address", ErrInvalidGroup, cfg.Group)
	}

	var ifi *net.Interface
	if name := strings.TrimSpace(cfg.Interface); name != "" {
		if ifi, err = net.InterfaceByName(name); err != nil {
			return nil, fmt.Errorf("bus: interface %q: %w", name, err)
		}
	}

	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", group.Port))
	if err != nil {
		return nil, fmt.Errorf("bus: listen: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: join %s: %w", group.IP, err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("bus: multicast interface: %w", err)
		}
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: multicast loopback: %w", err)
	}
	if err := pc.SetMulticastTTL(cfg.TTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: multicast ttl: %w", err)
	}

	b := &UDPBus{
		cfg:   cfg,
		group: group,
		ifi:   ifi,
		conn:  conn,
		pc:    pc,
		subs:  make(map[string]map[uuid.UUID]*udpChannel),
		done:  make(chan struct{}),
	}
	go b.readLoop()
	log.Info().
		Str("group", group.String()).
		Str("origin", cfg.Origin).
		Msg("udp bus joined")
	return b, nil
}

func (b *UDPBus) Open(name string, deliver DeliverFunc) (Channel, error) {
	if !validName(name) {
		return nil, ErrInvalidChannel
	}
	if deliver == nil {
		deliver = func(Event) {}
	}
	ch := &udpChannel{bus: b, name: name, id: uuid.New(), deliver: deliver}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	set, ok := b.subs[name]
	if !ok {
		set = make(map[uuid.UUID]*udpChannel)
		b.subs[name] = set
	}
	set[ch.id] = ch
	return ch, nil
}

// Close leaves the group and stops the receive loop. Open channels stop
// receiving and their Post returns ErrClosed.
func (b *UDPBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = make(map[string]map[uuid.UUID]*udpChannel)
	b.mu.Unlock()

	_ = b.pc.LeaveGroup(b.ifi, &net.UDPAddr{IP: b.group.IP})
	err := b.conn.Close()
	<-b.done
	return err
}

func (b *UDPBus) readLoop() {
	defer close(b.done)
	buf := make([]byte, int(frame.FixedHeaderLen)+int(b.cfg.Limits.MaxPayloadBytes))
	for {
		n, from, err := b.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("udp bus read failed")
			continue
		}
		env, err := decodeEnvelope(buf[:n], b.cfg.Limits)
		if err != nil {
			log.Debug().Err(err).Str("from", from.String()).Msg("udp bus dropped datagram")
			continue
		}
		b.dispatch(env)
	}
}

func (b *UDPBus) dispatch(env envelope) {
	b.mu.RLock()
	targets := make([]*udpChannel, 0, len(b.subs[env.Channel]))
	for id, ch := range b.subs[env.Channel] {
		if id != env.Sender {
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		ch.deliver(Event{Origin: env.Origin, Data: env.Data})
	}
}

func (b *UDPBus) post(ch *udpChannel, data []byte) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	datagram, err := encodeEnvelope(envelope{
		Sequence: b.seq.Add(1),
		Channel:  ch.name,
		Origin:   b.cfg.Origin,
		Sender:   ch.id,
		Data:     data,
	}, b.cfg.Limits)
	if err != nil {
		return err
	}
	if _, err := b.conn.WriteTo(datagram, b.group); err != nil {
		return fmt.Errorf("bus: post: %w", err)
	}
	return nil
}

func (b *UDPBus) remove(ch *udpChannel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[ch.name]
	delete(set, ch.id)
	if len(set) == 0 {
		delete(b.subs, ch.name)
	}
}

type udpChannel struct {
	bus     *UDPBus
	name    string
	id      uuid.UUID
	deliver DeliverFunc

	closed atomic.Bool
}

func (c *udpChannel) Post(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.bus.post(c, data)
}

func (c *udpChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.bus.remove(c)
	return nil
}
