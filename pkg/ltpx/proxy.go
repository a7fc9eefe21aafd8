package ltpx

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clusterlockd/ltd/internal/logger"
	"github.com/clusterlockd/ltd/pkg/metrics"
	"github.com/clusterlockd/ltd/pkg/proto"
	"github.com/clusterlockd/ltd/pkg/reactor"
	"github.com/clusterlockd/ltd/pkg/wire"
	"github.com/clusterlockd/ltd/pkg/wireerr"
)

// minBackoff is the "1 s minimum between retry cycles" floor on a
// shard's reconnect backoff.
const minBackoff = time.Second

// cancelKey routes a lock_action_req{Cancel}'s own reply back to its
// issuing client without entering the per-key duplicate-detection the
// Cancel bypasses the duplicate check: it is sent without storing.
type cancelKey struct {
	key   string
	subID uint64
}

// pendingEntry is one sent-but-unreplied (or not-yet-sent) client request,
// tracked per shard so a master reply or a reconnect-replay can find its
// way back to the right local client.
type pendingEntry struct {
	key      []byte
	clientID uint64
	msg      proto.Message
}

// shardState is one shard's runtime bookkeeping: its persistent upstream
// connection, the FIFO of not-yet-sent requests, and the map of
// sent-but-unreplied requests keyed by lock key (the senderlist /
// pending_reqs pair).
type shardState struct {
	shard *Shard

	mu         sync.Mutex
	conn       *reactor.Conn
	loggedIn   bool
	pending    map[string]*pendingEntry
	senderlist []*pendingEntry
	cancels    map[cancelKey]uint64
}

func newShardState(s *Shard) *shardState {
	return &shardState{
		shard:   s,
		pending: make(map[string]*pendingEntry),
		cancels: make(map[cancelKey]uint64),
	}
}

// Proxy is the Lock Table Proxy: it demultiplexes local clients
// across the shard table's upstream masters, preserving at-most-one
// outstanding request per key per master and replaying on reconnect.
type Proxy struct {
	Name           string
	Table          *ShardTable
	ClientRegistry *reactor.Registry
	Metrics        *metrics.Metrics
	Backoff        time.Duration

	masterRegistry *reactor.Registry
	shards         []*shardState
}

// NewProxy returns a Proxy ready to Run. name is the identity LTPX
// presents at login to each upstream master.
func NewProxy(name string, table *ShardTable, clientRegistry *reactor.Registry, m *metrics.Metrics) *Proxy {
	shards := make([]*shardState, table.Len())
	for i, s := range table.All() {
		shards[i] = newShardState(s)
	}
	return &Proxy{
		Name:           name,
		Table:          table,
		ClientRegistry: clientRegistry,
		Metrics:        m,
		Backoff:        minBackoff,
		masterRegistry: reactor.NewRegistry(),
		shards:         shards,
	}
}

// Run dials every shard's upstream master and keeps each connection alive
// (reconnecting forever on loss) until ctx is canceled. It blocks; callers
// run it in its own goroutine.
func (p *Proxy) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range p.shards {
		wg.Add(1)
		go func(s *shardState) {
			defer wg.Done()
			p.runShard(ctx, s)
		}(s)
	}
	wg.Wait()
}

func (p *Proxy) shardLabel(s *shardState) string {
	return fmt.Sprintf("%d", s.shard.Index)
}

func (p *Proxy) runShard(ctx context.Context, s *shardState) {
	backoff := p.Backoff
	if backoff < minBackoff {
		backoff = minBackoff
	}
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := reactor.DialRetry(ctx, p.masterRegistry, s.shard.UpstreamAddr, backoff, p.shardHandler(s))
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conn = conn
		s.loggedIn = false
		s.mu.Unlock()

		conn.Send(&proto.LoginReq{ProtoVersion: proto.ProtoVersion, Name: p.Name, Role: proto.RoleLTPX})

		<-closedSignal(conn)

		s.mu.Lock()
		s.loggedIn = false
		s.conn = nil
		s.mu.Unlock()

		if p.Metrics != nil {
			p.Metrics.ObserveShardRetry(p.shardLabel(s))
		}
		logger.Warn("lost connection to shard master, reconnecting", "shard", s.shard.Index, "addr", s.shard.UpstreamAddr)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func closedSignal(c *reactor.Conn) <-chan struct{} {
	ch := make(chan struct{})
	c.OnClose(func(*reactor.Conn) { close(ch) })
	return ch
}

// shardHandler processes messages arriving from one shard's master:
// the login reply, state/action replies routed back to the originating
// client, and callback fan-out to every matching local client.
func (p *Proxy) shardHandler(s *shardState) reactor.Handler {
	return func(c *reactor.Conn, op proto.Opcode, dec *wire.Decoder) {
		switch op {
		case proto.OpLockLoginRpl:
			p.handleLoginRpl(s, c, dec)
		case proto.OpLockStateRpl:
			p.handleStateRpl(s, dec)
		case proto.OpLockActionRpl:
			p.handleActionRpl(s, dec)
		case proto.OpLockCbState:
			p.handleCbState(dec)
		case proto.OpLockCbDropAll:
			p.handleCbDropAll(dec)
		default:
			logger.Debug("unhandled message from shard master", "shard", s.shard.Index, "opcode", op.String())
		}
	}
}

func (p *Proxy) handleLoginRpl(s *shardState, c *reactor.Conn, dec *wire.Decoder) {
	var rpl proto.LoginRpl
	if err := rpl.Decode(dec); err != nil {
		logger.Debug("malformed login rpl from master", "shard", s.shard.Index, "err", err)
		c.Close()
		return
	}
	if rpl.Err != uint32(wireerr.Ok) {
		logger.Warn("shard master rejected login", "shard", s.shard.Index, "err", rpl.Err)
		c.Close()
		return
	}
	c.MarkLoggedIn()

	s.mu.Lock()
	s.loggedIn = true
	// Every entry still in pending_reqs from before the disconnect
	// is replayed ahead of whatever accumulated on the senderlist
	// while we were down; the replayed entries come from a map and go
	// out in no particular order among themselves.
	replay := make([]*pendingEntry, 0, len(s.pending))
	for k, e := range s.pending {
		replay = append(replay, e)
		delete(s.pending, k)
	}
	s.senderlist = append(replay, s.senderlist...)
	toSend := s.senderlist
	s.senderlist = nil
	s.mu.Unlock()

	for _, e := range toSend {
		p.sendAndTrack(s, e)
	}
	logger.Info("shard master login complete", "shard", s.shard.Index, "replayed", len(replay))
}

func (p *Proxy) handleStateRpl(s *shardState, dec *wire.Decoder) {
	var rpl proto.StateRpl
	if err := rpl.Decode(dec); err != nil {
		logger.Debug("malformed state rpl from master", "shard", s.shard.Index, "err", err)
		return
	}
	s.mu.Lock()
	e, ok := s.pending[string(rpl.Key)]
	if ok {
		delete(s.pending, string(rpl.Key))
	}
	s.mu.Unlock()
	if !ok {
		// No longer matches a pending request, most likely a stale reply
		// surviving a master failover; drop it silently.
		return
	}
	p.forwardToClient(e.clientID, &rpl)
}

func (p *Proxy) handleActionRpl(s *shardState, dec *wire.Decoder) {
	var rpl proto.ActionRpl
	if err := rpl.Decode(dec); err != nil {
		logger.Debug("malformed action rpl from master", "shard", s.shard.Index, "err", err)
		return
	}

	if rpl.Action == proto.ActionCancel {
		s.mu.Lock()
		ck := cancelKey{key: string(rpl.Key), subID: rpl.SubID}
		clientID, ok := s.cancels[ck]
		if ok {
			delete(s.cancels, ck)
		}
		s.mu.Unlock()
		if ok {
			p.forwardToClient(clientID, &rpl)
		}
		return
	}

	s.mu.Lock()
	e, ok := s.pending[string(rpl.Key)]
	if ok {
		delete(s.pending, string(rpl.Key))
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	p.forwardToClient(e.clientID, &rpl)
}

func (p *Proxy) handleCbState(dec *wire.Decoder) {
	var cb proto.CbState
	if err := cb.Decode(dec); err != nil {
		logger.Debug("malformed cb_state from master", "err", err)
		return
	}
	p.ClientRegistry.Each(proto.RoleClient, func(c *reactor.Conn) {
		if c.LockspacePrefix == nil || bytes.HasPrefix(cb.Key, c.LockspacePrefix) {
			c.Send(&cb)
		}
	})
}

func (p *Proxy) handleCbDropAll(dec *wire.Decoder) {
	var cb proto.CbDropAll
	if err := cb.Decode(dec); err != nil {
		return
	}
	p.ClientRegistry.Each(proto.RoleClient, func(c *reactor.Conn) {
		c.Send(&cb)
	})
}

func (p *Proxy) forwardToClient(clientID uint64, m proto.Message) {
	c, ok := p.ClientRegistry.ByID(clientID)
	if !ok {
		return
	}
	c.Send(m)
}

// ClientHandler serves the connections local clients make to LTPX.
func (p *Proxy) ClientHandler() reactor.Handler {
	return func(c *reactor.Conn, op proto.Opcode, dec *wire.Decoder) {
		switch op {
		case proto.OpLockLoginReq:
			p.handleClientLogin(c, dec)
		case proto.OpLockStateReq:
			p.handleClientStateReq(c, dec)
		case proto.OpLockActionReq:
			p.handleClientActionReq(c, dec)
		case proto.OpLockDropExp:
			p.handleClientDropExp(dec)
		case proto.OpSocketClose:
			c.Close()
		default:
			logger.Debug("unhandled opcode from client", "conn", c.ID, "opcode", op.String())
		}
	}
}

func (p *Proxy) handleClientLogin(c *reactor.Conn, dec *wire.Decoder) {
	var req proto.LoginReq
	if err := req.Decode(dec); err != nil {
		logger.Debug("malformed client login", "conn", c.ID, "err", err)
		c.Close()
		return
	}
	if req.ProtoVersion != proto.ProtoVersion {
		c.Send(&proto.LoginRpl{Err: uint32(wireerr.BadWireProto), Role: proto.RoleLTPX})
		c.Close()
		return
	}
	c.Role = proto.RoleClient
	c.LockspacePrefix = req.LockspacePrefix
	p.ClientRegistry.BindName(c, req.Name)
	c.MarkLoggedIn()
	c.Send(&proto.LoginRpl{Err: uint32(wireerr.Ok), Role: proto.RoleLTPX})
}

func (p *Proxy) handleClientStateReq(c *reactor.Conn, dec *wire.Decoder) {
	var req proto.StateReq
	if err := req.Decode(dec); err != nil {
		logger.Debug("malformed state req", "conn", c.ID, "err", err)
		c.Close()
		return
	}
	s := p.shardFor(req.Key)
	e := &pendingEntry{key: req.Key, clientID: c.ID, msg: &req}
	if !p.enqueue(s, e) {
		c.Send(&proto.StateRpl{Key: req.Key, SubID: req.SubID, State: req.State, Flags: req.Flags, Err: uint32(wireerr.AlreadyPend)})
		return
	}
	p.flush(s)
}

func (p *Proxy) handleClientActionReq(c *reactor.Conn, dec *wire.Decoder) {
	var req proto.ActionReq
	if err := req.Decode(dec); err != nil {
		logger.Debug("malformed action req", "conn", c.ID, "err", err)
		c.Close()
		return
	}

	s := p.shardFor(req.Key)

	if req.Action == proto.ActionCancel {
		// Cancel bypasses the duplicate-check and is sent without
		// storing in pending_reqs; only its own reply needs routing.
		s.mu.Lock()
		s.cancels[cancelKey{key: string(req.Key), subID: req.SubID}] = c.ID
		s.mu.Unlock()
		p.sendOrQueueRaw(s, &req)
		return
	}

	e := &pendingEntry{key: req.Key, clientID: c.ID, msg: &req}
	if !p.enqueue(s, e) {
		c.Send(&proto.ActionRpl{Key: req.Key, SubID: req.SubID, Action: req.Action, Flags: req.Flags, Err: uint32(wireerr.AlreadyPend)})
		return
	}
	p.flush(s)
}

func (p *Proxy) handleClientDropExp(dec *wire.Decoder) {
	var req proto.DropExp
	if err := req.Decode(dec); err != nil {
		logger.Debug("malformed drop_exp", "err", err)
		return
	}
	// Keys are opaque to LTPX, so a drop-expired fans out to every
	// shard rather than picking one.
	for _, s := range p.shards {
		p.sendOrQueueRaw(s, &proto.DropExp{Name: req.Name, KeyPrefixMask: req.KeyPrefixMask})
	}
}

func (p *Proxy) shardFor(key []byte) *shardState {
	target := p.Table.ShardFor(key)
	for _, s := range p.shards {
		if s.shard == target {
			return s
		}
	}
	return p.shards[len(p.shards)-1]
}

// enqueue registers e against s's duplicate-detection, returning false
// (without registering) if key is already pending or queued.
func (p *Proxy) enqueue(s *shardState, e *pendingEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := string(e.key)
	if _, ok := s.pending[k]; ok {
		return false
	}
	for _, q := range s.senderlist {
		if string(q.key) == k {
			return false
		}
	}
	s.senderlist = append(s.senderlist, e)
	if p.Metrics != nil {
		p.Metrics.SetShardQueueDepth(p.shardLabel(s), float64(len(s.senderlist)+len(s.pending)))
	}
	return true
}

// flush sends every queued entry immediately if the shard's master
// connection is logged in; otherwise it leaves the senderlist for
// handleLoginRpl to drain once the connection comes up.
func (p *Proxy) flush(s *shardState) {
	s.mu.Lock()
	if !s.loggedIn {
		s.mu.Unlock()
		return
	}
	toSend := s.senderlist
	s.senderlist = nil
	s.mu.Unlock()

	for _, e := range toSend {
		p.sendAndTrack(s, e)
	}
}

// sendAndTrack sends e's message to the shard's master and moves e into
// pending_reqs, keyed by lock key.
func (p *Proxy) sendAndTrack(s *shardState, e *pendingEntry) {
	s.mu.Lock()
	conn := s.conn
	s.pending[string(e.key)] = e
	if p.Metrics != nil {
		p.Metrics.SetShardQueueDepth(p.shardLabel(s), float64(len(s.senderlist)+len(s.pending)))
	}
	s.mu.Unlock()
	if conn != nil {
		conn.Send(e.msg)
	}
}

// sendOrQueueRaw sends m immediately if the shard's connection is logged
// in; otherwise m is discarded and nothing is queued for the next login.
// Used for
// messages LTPX never tracks for reply-routing (Cancel, drop_exp): at-most-once
// delivery isn't required for these, since duplicate application is
// harmless and masters treat a duplicate key as AlreadyPend.
func (p *Proxy) sendOrQueueRaw(s *shardState, m proto.Message) {
	s.mu.Lock()
	conn, loggedIn := s.conn, s.loggedIn
	s.mu.Unlock()
	if loggedIn && conn != nil {
		conn.Send(m)
	}
}
