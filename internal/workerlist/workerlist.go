// Package workerlist implements the shared WorkerEntry/WorkerList type
// used by both the master and the workers/clients — one type with
// role-specific operations, replacing the two near-duplicate worker-list
// implementations the source kept for master and worker.
package workerlist

import (
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/kiloop/keyindex/internal/keyspace"
)

// Address is a host:port pair latched once set to a non-zero value.
type Address struct {
	IP   string
	Port uint16
}

func (a Address) valid() bool { return a.IP != "" && a.Port != 0 }

// Valid reports whether the address has been latched to a real value, for
// callers outside this package (e.g. neighbor dial/listen targets).
func (a Address) Valid() bool { return a.valid() }

func (a Address) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(int(a.Port)))
}

// WorkerEntry is the master's and each worker's view of one ring
// participant.
type WorkerEntry struct {
	ID             uint32
	UDPAddr        Address
	TCPAddr        Address
	Range          keyspace.KeyRange
	KeyCount       uint32
	RecentAddCount uint32
	LeftID         uint32
	RightID        uint32
	Active         bool
	LastContact    time.Time
}

func (w *WorkerEntry) rangeEntry() rangeEntry {
	return rangeEntry{rng: w.Range, id: w.ID}
}

type rangeEntry struct {
	rng keyspace.KeyRange
	id  uint32
}

func rangeLess(a, b rangeEntry) bool {
	if a.rng.Less(b.rng) {
		return true
	}
	if b.rng.Less(a.rng) {
		return false
	}
	return a.id < b.id
}

// List is the ordered collection of WorkerEntry indexed by id, by UDP
// address, and by range. A single mutex protects all three indexes.
type List struct {
	mu       sync.RWMutex
	byID     map[uint32]*WorkerEntry
	byUDP    map[string]*WorkerEntry
	byRange  *btree.BTreeG[rangeEntry]
	nextID   uint32
	listRev  uint64 // bumped by AddWorker for each newly registered worker
}

// New creates an empty worker list.
func New() *List {
	return &List{
		byID:    make(map[uint32]*WorkerEntry),
		byUDP:   make(map[string]*WorkerEntry),
		byRange: btree.NewG(32, rangeLess),
	}
}

// AddWorker is a master-only operation: it rejects duplicates by UDP
// address, assigns the next monotonic id, and returns the new entry. The
// very first worker registered is given the all-inclusive range and is
// immediately active.
func (l *List) AddWorker(ip string, udpPort, tcpPort uint16) (*WorkerEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	udpAddr := Address{IP: ip, Port: udpPort}
	if _, dup := l.byUDP[udpAddr.String()]; dup {
		return nil, false
	}

	l.nextID++
	w := &WorkerEntry{
		ID:          l.nextID,
		UDPAddr:     udpAddr,
		TCPAddr:     Address{IP: ip, Port: tcpPort},
		LastContact: time.Now(),
	}
	if len(l.byID) == 0 {
		w.Range = keyspace.AllInclusive()
		w.Active = true
	}
	l.byID[w.ID] = w
	l.byUDP[udpAddr.String()] = w
	if w.Range.Valid {
		l.byRange.ReplaceOrInsert(w.rangeEntry())
	}
	l.listRev++
	return w, true
}

// Get returns the entry for id, if known.
func (l *List) Get(id uint32) (*WorkerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.byID[id]
	return w, ok
}

// All returns a snapshot of every entry, ordered by id.
func (l *List) All() []*WorkerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*WorkerEntry, 0, len(l.byID))
	for _, w := range l.byID {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateEntry updates address latches and range for id. Addresses already
// latched to a non-zero value are left untouched if the new value
// differs (latch semantics); an invalid incoming range does not touch
// the range index. Returns whether the range changed.
func (l *List) UpdateEntry(id uint32, udpAddr, tcpAddr Address, rng keyspace.KeyRange) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.byID[id]
	if !ok {
		return false
	}
	w.LastContact = time.Now()

	if !w.UDPAddr.valid() && udpAddr.valid() {
		w.UDPAddr = udpAddr
		l.byUDP[udpAddr.String()] = w
	}
	if !w.TCPAddr.valid() && tcpAddr.valid() {
		w.TCPAddr = tcpAddr
	}

	if !rng.Valid {
		return false
	}
	if w.Range.Equal(rng) {
		return false
	}
	if w.Range.Valid {
		l.byRange.Delete(w.rangeEntry())
	}
	w.Range = rng
	l.byRange.ReplaceOrInsert(w.rangeEntry())
	return true
}

// SetActive marks a worker active (master operation, once its range is
// valid).
func (l *List) SetActive(id uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.byID[id]; ok {
		w.Active = true
	}
}

// SetLoad updates key-count/recent-add-count load signals for id.
func (l *List) SetLoad(id uint32, keyCount, recentAdds uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.byID[id]; ok {
		w.KeyCount = keyCount
		w.RecentAddCount = recentAdds
	}
}

// SetNeighbors records the left/right neighbor ids for id (master
// assignment).
func (l *List) SetNeighbors(id uint32, leftID, rightID uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.byID[id]; ok {
		w.LeftID = leftID
		w.RightID = rightID
	}
}

// IDs returns every known worker id, ordered.
func (l *List) IDs() []uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]uint32, 0, len(l.byID))
	for id := range l.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Revision returns the registration counter, which AddWorker bumps once
// per newly registered worker. ReceiveIDs and ApplyDetail leave it as is.
func (l *List) Revision() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listRev
}

// ReceiveIDs merges a set of known ids into the list (worker/client
// operation after a MAST_WORKER_LIST pull). Returns ids newly seen, each
// of which needs a do-list item to fetch its details.
func (l *List) ReceiveIDs(ids []uint32) []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var fresh []uint32
	for _, id := range ids {
		if _, ok := l.byID[id]; !ok {
			l.byID[id] = &WorkerEntry{ID: id}
			fresh = append(fresh, id)
		}
	}
	return fresh
}

// ApplyDetail installs worker details fetched via MAST_WORKER_INFO for an
// id already known from ReceiveIDs.
func (l *List) ApplyDetail(id uint32, udpAddr, tcpAddr Address, rng keyspace.KeyRange, leftID, rightID uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.byID[id]
	if !ok {
		w = &WorkerEntry{ID: id}
		l.byID[id] = w
	}
	if w.Range.Valid {
		l.byRange.Delete(w.rangeEntry())
	}
	w.UDPAddr = udpAddr
	w.TCPAddr = tcpAddr
	w.Range = rng
	w.LeftID = leftID
	w.RightID = rightID
	if udpAddr.valid() {
		l.byUDP[udpAddr.String()] = w
	}
	if rng.Valid {
		l.byRange.ReplaceOrInsert(w.rangeEntry())
	}
}

// FindWorkerForKey scans the by-range index for the worker owning key. The
// scan ascends from the smallest range, so its cost is linear in the
// number of ranged workers; that is acceptable since worker counts are
// small.
func (l *List) FindWorkerForKey(key keyspace.CompositeKey) (*WorkerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var found *WorkerEntry
	l.byRange.Ascend(func(re rangeEntry) bool {
		if re.rng.Contains(key) {
			found = l.byID[re.id]
			return false
		}
		return true
	})
	if found == nil {
		return nil, false
	}
	return found, true
}

// RightEdge returns the active worker whose range is unlimited, if one
// exists. More than one is a fatal topology violation the caller must
// detect separately.
func (l *List) RightEdge() (*WorkerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, w := range l.byID {
		if w.Active && w.Range.Valid && w.Range.Unlimited {
			return w, true
		}
	}
	return nil, false
}

// CountUnlimitedActive counts active workers with an unlimited range,
// used to detect the FatalTopology condition (more than one).
func (l *List) CountUnlimitedActive() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, w := range l.byID {
		if w.Active && w.Range.Valid && w.Range.Unlimited {
			n++
		}
	}
	return n
}

// FirstInactive returns the first inactive worker (master's activation
// candidate selection).
func (l *List) FirstInactive() (*WorkerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var best *WorkerEntry
	for _, w := range l.byID {
		if !w.Active && (best == nil || w.ID < best.ID) {
			best = w
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// AverageActiveKeyCount returns the mean key count across active workers.
func (l *List) AverageActiveKeyCount() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var sum, n int
	for _, w := range l.byID {
		if w.Active {
			sum += int(w.KeyCount)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
