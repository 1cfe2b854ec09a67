// Package router decides, for a key-insert or key-info request not owned
// by the local worker, where the request forwards to next: the known
// owner from the worker list, or a neighbor when no owner is known yet.
package router

import (
	"log/slog"
	"net"
	"sync"

	"github.com/kiloop/keyindex/internal/errs"
	"github.com/kiloop/keyindex/internal/keyspace"
	"github.com/kiloop/keyindex/internal/keystore"
	"github.com/kiloop/keyindex/internal/wire"
	"github.com/kiloop/keyindex/internal/wireproto"
	"github.com/kiloop/keyindex/internal/workerlist"
)

// DefaultMaxHops is the forwarding ceiling a request may cross before
// being dropped.
const DefaultMaxHops = 4

// Sender is the subset of transport.Server's API the router needs, kept
// as an interface so tests can exercise routing decisions without a real
// socket.
type Sender interface {
	Send(dst *net.UDPAddr, kind wire.Kind, payload string, hasPayload bool) error
}

// Router holds the state needed to route one worker's insert/lookup
// traffic: its own key range, the worker list, and its current left/right
// neighbor ids (kept current by role glue as the master reassigns them).
type Router struct {
	SelfID  uint32
	Store   *keystore.Store
	List    *workerlist.List
	Sender  Sender
	MaxHops uint32
	Logger  *slog.Logger

	mu      sync.RWMutex
	leftID  uint32
	rightID uint32
}

// New constructs a Router with the default hop ceiling.
func New(selfID uint32, store *keystore.Store, list *workerlist.List, sender Sender, logger *slog.Logger) *Router {
	return &Router{
		SelfID:  selfID,
		Store:   store,
		List:    list,
		Sender:  sender,
		MaxHops: DefaultMaxHops,
		Logger:  logger,
	}
}

// SetNeighbors records this worker's current left/right neighbor ids, used
// as the forwarding fallback when no owner is known for a key.
func (r *Router) SetNeighbors(leftID, rightID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leftID, r.rightID = leftID, rightID
}

func (r *Router) neighbors() (left, right uint32) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leftID, r.rightID
}

// Owns reports whether key falls within this worker's current range.
func (r *Router) Owns(key keyspace.CompositeKey) bool {
	return r.Store.Range().Contains(key)
}

// Forward sends req on to its next hop: the by-range owner if known,
// otherwise the left or right neighbor depending on which side of our own
// range.min the key falls on. The hop count is incremented before
// checking the ceiling, matching "drop if hops > HOPS_MAX after
// incrementing".
func (r *Router) Forward(kind wire.Kind, req wireproto.KeyInfoInsert) error {
	maxHops := r.MaxHops
	if maxHops == 0 {
		maxHops = DefaultMaxHops
	}
	req.Hops++
	if req.Hops > maxHops {
		if r.Logger != nil {
			r.Logger.Warn("router: dropping request past hop limit",
				"key_int", req.KeyInfo.KeyInt, "key_str", req.KeyInfo.KeyStr, "hops", req.Hops)
		}
		return errs.Protocol("router: hop limit exceeded", nil)
	}

	key := req.KeyInfo.ToCompositeKey()
	dst, ok := r.destination(key)
	if !ok {
		return errs.Transport("router: no destination address known for key", nil)
	}

	payload := string(req.Encode(nil))
	if err := r.Sender.Send(dst, kind, payload, true); err != nil {
		return errs.Transport("router: forward send failed", err)
	}
	return nil
}

// destination picks where a request for key should go next: the known
// range owner if it isn't us, else the appropriate ring neighbor.
func (r *Router) destination(key keyspace.CompositeKey) (*net.UDPAddr, bool) {
	if owner, ok := r.List.FindWorkerForKey(key); ok && owner.ID != r.SelfID {
		if addr, ok := udpAddr(owner.UDPAddr); ok {
			return addr, true
		}
	}

	leftID, rightID := r.neighbors()
	rng := r.Store.Range()

	var neighborID uint32
	if rng.Valid && key.Less(rng.Min) {
		neighborID = leftID
	} else {
		neighborID = rightID
	}
	if neighborID == 0 {
		return nil, false
	}
	entry, ok := r.List.Get(neighborID)
	if !ok {
		return nil, false
	}
	return udpAddr(entry.UDPAddr)
}

// SendCompletion sends a KEY_INSERT_COMPLETE or KEY_INFO reply straight to
// the original requester's embedded address, bypassing the forwarding
// chain entirely: the requester may receive this from any worker in the
// ring, not only the one it originally contacted.
func (r *Router) SendCompletion(kind wire.Kind, req wireproto.KeyInfoInsert) error {
	addr := workerlist.Address{IP: req.Requester.IP, Port: req.Requester.UDPPort}
	dst, ok := udpAddr(addr)
	if !ok {
		return errs.Transport("router: requester address invalid", nil)
	}
	payload := string(req.Encode(nil))
	if err := r.Sender.Send(dst, kind, payload, true); err != nil {
		return errs.Transport("router: send completion failed", err)
	}
	return nil
}

func udpAddr(a workerlist.Address) (*net.UDPAddr, bool) {
	if !a.Valid() {
		return nil, false
	}
	ip := net.ParseIP(a.IP)
	if ip == nil {
		return nil, false
	}
	return &net.UDPAddr{IP: ip, Port: int(a.Port)}, true
}
