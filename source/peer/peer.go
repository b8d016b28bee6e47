package peer

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ravelnet/ravel/pkg/logger"
	"github.com/ravelnet/ravel/source/protocol"
)

// Peer is the top-level aggregate of §3: it owns the UDP socket, the
// set of live Connections keyed by remote address, the single network
// thread's read loop, and the Heartbeat ticker that drives every
// Connection forward. Adapted from the teacher's Server.listen /
// Server.updateLoop split.
type Peer struct {
	ID uuid.UUID

	cfg  protocol.Config
	pool *protocol.MessagePool

	conn    *net.UDPConn
	inbound *InboundQueue
	metrics *Collector

	localUniqueID uint64

	mu          sync.RWMutex
	connections map[string]*protocol.Connection
	running     bool

	stopCh chan struct{}
}

// New creates a Peer bound to no socket yet; call Listen to bind and
// start its network thread.
func New(cfg protocol.Config, localUniqueID uint64) *Peer {
	p := &Peer{
		ID:            uuid.New(),
		cfg:           cfg,
		pool:          protocol.NewMessagePool(cfg.MaximumTransmissionUnit),
		inbound:       newInboundQueue(256),
		connections:   make(map[string]*protocol.Connection),
		localUniqueID: localUniqueID,
		stopCh:        make(chan struct{}),
	}
	p.metrics = newCollector(p)
	return p
}

// Inbound returns the queue application goroutines drain for incoming
// messages and status changes.
func (p *Peer) Inbound() *InboundQueue { return p.inbound }

// Metrics returns the prometheus Collector tracking this peer's live
// connections; register it with a prometheus.Registry to export it.
func (p *Peer) Metrics() *Collector { return p.metrics }

// Listen binds the UDP socket at addr and starts the read loop and
// heartbeat ticker goroutines.
func (p *Peer) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("peer: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("peer: bind %q: %w", addr, err)
	}
	p.conn = conn
	tuneSocketBuffers(conn)

	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	logger.Info("peer %s listening on %s", p.ID, conn.LocalAddr())

	go p.heartbeatLoop()
	go p.timeoutLoop()
	return p.readLoop()
}

// Dial creates and returns a Connection initiating a handshake toward
// remote; the caller still drives Listen (or an existing Peer already
// is listening) to actually exchange packets with it.
func (p *Peer) Dial(remote string) (*protocol.Connection, error) {
	addr, err := net.ResolveUDPAddr("udp", remote)
	if err != nil {
		return nil, fmt.Errorf("peer: resolve %q: %w", remote, err)
	}
	conn := p.getOrCreate(addr)
	conn.Connect(p.localUniqueID)
	return conn, nil
}

func (p *Peer) readLoop() error {
	buf := make([]byte, 65535)
	for {
		p.mu.RLock()
		running := p.running
		p.mu.RUnlock()
		if !running {
			return nil
		}

		n, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			p.mu.RLock()
			stillRunning := p.running
			p.mu.RUnlock()
			if stillRunning {
				logger.Warn("peer: read error: %v", err)
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		conn := p.getOrCreate(addr)
		conn.HandleInboundPacket(data, addr)
	}
}

func (p *Peer) heartbeatLoop() {
	ticker := time.NewTicker(p.cfg.HeartbeatPeriod)
	defer ticker.Stop()
	sender := udpSender{conn: p.conn}
	for {
		select {
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			for _, conn := range p.snapshot() {
				conn.Heartbeat(now, sender)
			}
		}
	}
}

// timeoutLoop periodically prunes connections that have been declared
// Disconnected, mirroring the teacher's sessionCleanupLoop cadence.
func (p *Peer) timeoutLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pruneDead()
		}
	}
}

func (p *Peer) pruneDead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, conn := range p.connections {
		if conn.Status() == protocol.StatusDisconnected {
			delete(p.connections, key)
		}
	}
}

func (p *Peer) getOrCreate(addr *net.UDPAddr) *protocol.Connection {
	key := addr.String()

	p.mu.RLock()
	conn, ok := p.connections[key]
	p.mu.RUnlock()
	if ok {
		return conn
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[key]; ok {
		return conn
	}
	conn = protocol.NewConnection(p.cfg, addr, p.pool, p.inbound)
	p.connections[key] = conn
	return conn
}

func (p *Peer) snapshot() []*protocol.Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*protocol.Connection, 0, len(p.connections))
	for _, c := range p.connections {
		out = append(out, c)
	}
	return out
}

// Connections returns every currently tracked connection.
func (p *Peer) Connections() []*protocol.Connection {
	return p.snapshot()
}

// Shutdown stops the read loop and both background tickers and closes
// the socket.
func (p *Peer) Shutdown() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	if p.conn != nil {
		p.conn.Close()
	}
	logger.Info("peer %s shut down", p.ID)
}

type udpSender struct {
	conn *net.UDPConn
}

func (s udpSender) SendPacket(payload []byte, remote net.Addr) (bool, error) {
	_, err := s.conn.WriteTo(payload, remote)
	if err == nil {
		return false, nil
	}
	if opErr, ok := err.(*net.OpError); ok {
		if opErr.Err != nil && isConnRefused(opErr.Err) {
			return true, nil
		}
	}
	return false, err
}
