// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/featurebasedb/tetra/errors"
	"github.com/featurebasedb/tetra/logger"
	"gonum.org/v1/gonum/spatial/r3"
)

// Default settings of a Space.
const (
	DefaultPartitions    = 1
	DefaultAddressSpace  = 1 << 40
	DefaultMaxParallel   = 4
	DefaultMaxDivergence = 0.03
	DefaultMaxRetries    = 10000
	DefaultHistoryLength = 100

	// maxUnreportedErrors bounds the errors kept for handles nobody has
	// waited on. The oldest is dropped first.
	maxUnreportedErrors = 4096
)

// Space is a live Delaunay tetrahedralization spread over partitions.
// Insertions, moves and removals are queued and applied asynchronously by
// transactions; queries read committed state.
type Space struct {
	logger logger.Logger

	partitions    []*Partition
	policy        Policy
	addressSpace  uint64
	maxParallel   int
	multithreaded bool
	maxDivergence float64
	maxRetries    int
	historyLength int

	initialized int32 // atomic
	pumping     int32 // atomic
	closed      int32 // atomic

	ops     opTracker
	tracker *txnTracker
	stats   spaceStats
}

type spaceOption func(s *Space) error

// OptSpaceLogger sets the logger.
func OptSpaceLogger(l logger.Logger) spaceOption {
	return func(s *Space) error {
		s.logger = l
		return nil
	}
}

// OptSpacePartitions sets the number of partitions.
func OptSpacePartitions(n int) spaceOption {
	return func(s *Space) error {
		if n < 1 {
			return errors.Errorf("need at least one partition, got %d", n)
		}
		s.partitions = make([]*Partition, n)
		return nil
	}
}

// OptSpaceAddressSpace sets how many addresses each partition owns.
func OptSpaceAddressSpace(n uint64) spaceOption {
	return func(s *Space) error {
		if n < 2 {
			return errors.Errorf("address space too small: %d", n)
		}
		s.addressSpace = n
		return nil
	}
}

// OptSpaceMaxParallel bounds the transactions a partition runs at once.
func OptSpaceMaxParallel(n int) spaceOption {
	return func(s *Space) error {
		s.maxParallel = n
		return nil
	}
}

// OptSpaceMultithreaded chooses between worker pools and running every
// operation on the caller's goroutine before it returns.
func OptSpaceMultithreaded(v bool) spaceOption {
	return func(s *Space) error {
		s.multithreaded = v
		return nil
	}
}

// OptSpaceMaxDivergence sets the backlog, as a fraction of a partition's
// points, below which its committed state counts as reliable.
func OptSpaceMaxDivergence(f float64) spaceOption {
	return func(s *Space) error {
		if f < 0 || f > 1 {
			return errors.Errorf("max divergence %v outside [0,1]", f)
		}
		s.maxDivergence = f
		return nil
	}
}

// OptSpacePolicy sets the partition assignment policy.
func OptSpacePolicy(p Policy) spaceOption {
	return func(s *Space) error {
		s.policy = p
		return nil
	}
}

// OptSpaceMaxRetries bounds the attempts of one transaction; 0 is
// unbounded.
func OptSpaceMaxRetries(n int) spaceOption {
	return func(s *Space) error {
		s.maxRetries = n
		return nil
	}
}

// OptSpaceHistory sets how many finished transactions are remembered.
func OptSpaceHistory(n int) spaceOption {
	return func(s *Space) error {
		s.historyLength = n
		return nil
	}
}

// NewSpace returns a running, empty Space.
func NewSpace(opts ...spaceOption) (*Space, error) {
	s := &Space{
		logger:        logger.NopLogger,
		partitions:    make([]*Partition, DefaultPartitions),
		addressSpace:  DefaultAddressSpace,
		maxParallel:   DefaultMaxParallel,
		maxDivergence: DefaultMaxDivergence,
		maxRetries:    DefaultMaxRetries,
		historyLength: DefaultHistoryLength,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, errors.Wrap(err, "applying option")
		}
	}
	n := len(s.partitions)
	if s.policy == nil {
		s.policy = SlabPolicy{Width: 1, N: n}
	}
	for i := range s.partitions {
		min := uint64(i) * s.addressSpace
		s.partitions[i] = newPartition(s, i, min, min+s.addressSpace)
	}
	s.ops.init()
	s.tracker = newTxnTracker(s.historyLength)
	for _, p := range s.partitions {
		p.sched.start()
	}
	s.logger.Debugf("space started with %d partitions, multithreaded=%v", n, s.multithreaded)
	return s, nil
}

// Partitions returns the space's partitions.
func (s *Space) Partitions() []*Partition { return s.partitions }

func (s *Space) partition(h Handle) *Partition { return s.partitions[h.Part] }

// check rejects handles that cannot belong to this space.
func (s *Space) check(h Handle) error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return errors.New(errors.ErrClosed, "space closed")
	}
	if h.IsNone() || h.Part < 0 || h.Part >= len(s.partitions) {
		return errors.Newf(errors.ErrUnknownHandle, "invalid handle %s", h)
	}
	p := s.partitions[h.Part]
	if h.Addr <= p.min || h.Addr >= p.max {
		return errors.Newf(errors.ErrUnknownHandle, "handle %s outside partition %d", h, h.Part)
	}
	return nil
}

// assign returns the partition that should own a point at pos.
func (s *Space) assign(pos r3.Vec) *Partition {
	i := s.policy.Assign(pos)
	if i < 0 || i >= len(s.partitions) {
		i = 0
	}
	return s.partitions[i]
}

// CreateInitialNode inserts the first point directly. It may be called
// once.
func (s *Space) CreateInitialNode(pos r3.Vec, payload interface{}) (Handle, error) {
	if atomic.LoadInt32(&s.closed) != 0 {
		return None, errors.New(errors.ErrClosed, "space closed")
	}
	if !atomic.CompareAndSwapInt32(&s.initialized, 0, 1) {
		return None, errors.New(errors.ErrAlreadyInitialized, "initial node already created")
	}
	p := s.assign(pos)
	h, err := p.uniqueAddress()
	if err != nil {
		return None, err
	}
	p.storeInitialPoint(&Point{Handle: h, Position: pos, Payload: payload, valid: true})
	return h, nil
}

// InsertNear queues the insertion of a point at pos, starting the search
// for its place at near. It returns the new point's handle at once; the
// point is pending until the insertion commits and queries on it block
// until then.
func (s *Space) InsertNear(near Handle, pos r3.Vec, payload interface{}) (Handle, error) {
	if err := s.check(near); err != nil {
		return None, err
	}
	p := s.assign(pos)
	h, err := p.createPendingPoint()
	if err != nil {
		return None, err
	}
	t := newTxn(s, opInsert, h)
	t.near, t.pos, t.payload = near, pos, payload
	return h, s.submit(t, p)
}

// Move queues the displacement of h by delta.
func (s *Space) Move(h Handle, delta r3.Vec) error {
	if err := s.check(h); err != nil {
		return err
	}
	t := newTxn(s, opMove, h)
	t.delta = delta
	return s.submit(t, s.partition(h))
}

// Remove queues the deletion of h.
func (s *Space) Remove(h Handle) error {
	if err := s.check(h); err != nil {
		return err
	}
	return s.submit(newTxn(s, opRemove, h), s.partition(h))
}

// AddListener queues the registration of l on h.
func (s *Space) AddListener(h Handle, l Listener) error {
	if err := s.check(h); err != nil {
		return err
	}
	t := newTxn(s, opListen, h)
	t.listener = l
	return s.submit(t, s.partition(h))
}

func (s *Space) submit(t *Txn, home *Partition) error {
	s.ops.begin(t.target)
	s.tracker.Start(t)
	if err := home.sched.enqueue(t); err != nil {
		s.finish(t, err)
		return err
	}
	return nil
}

// finish retires a transaction that will not run again.
func (s *Space) finish(t *Txn, err error) {
	if err != nil {
		if t.kind == opInsert {
			s.partition(t.target).failPending(t.target, err)
		}
		s.logger.Debugf("txn %d %s %s: %v", t.id, t.kind, t.target, err)
	}
	s.tracker.Finish(t, err)
	s.ops.end(t.target, err)
}

// resolvePending releases everything waiting on a placeholder.
func (s *Space) resolvePending(pp *pendingPoint) {
	close(pp.done)
	for _, w := range pp.waiters {
		if err := w.home.sched.enqueue(w); err != nil {
			s.finish(w, err)
		}
	}
}

func (s *Space) resolveAll(pps []*pendingPoint) {
	for _, pp := range pps {
		s.resolvePending(pp)
	}
}

// pump runs queued transactions on the calling goroutine until every
// queue is empty. Nested calls, as from listeners, return at once and
// leave the work to the outer call.
func (s *Space) pump() {
	for atomic.CompareAndSwapInt32(&s.pumping, 0, 1) {
		for progress := true; progress; {
			progress = false
			for _, p := range s.partitions {
				for p.sched.runOne() {
					progress = true
				}
			}
		}
		atomic.StoreInt32(&s.pumping, 0)
		if !s.queued() {
			return
		}
	}
}

func (s *Space) queued() bool {
	for _, p := range s.partitions {
		if p.sched.queued() > 0 {
			return true
		}
	}
	return false
}

// PointCount returns the number of committed points.
func (s *Space) PointCount() int {
	n := 0
	for _, p := range s.partitions {
		n += p.PointCount()
	}
	return n
}

// TetrahedronCount returns the number of committed tetrahedra, ghosts
// included.
func (s *Space) TetrahedronCount() int {
	n := 0
	for _, p := range s.partitions {
		n += p.TetrahedronCount()
	}
	return n
}

func (s *Space) pointHandles() []Handle {
	var out []Handle
	for _, p := range s.partitions {
		out = append(out, p.pointHandles()...)
	}
	return out
}

func (s *Space) anyTetrahedron() (Handle, bool) {
	ghost := None
	for _, p := range s.partitions {
		if h, ok := p.anyTetrahedron(); ok {
			if !h.IsNone() && !s.isGhost(h) {
				return h, true
			}
			ghost = h
		}
	}
	return ghost, !ghost.IsNone()
}

func (s *Space) isGhost(h Handle) bool {
	tet, err := s.partition(h).snapshotTetrahedron(h)
	return err == nil && tet.IsGhost()
}

// IsReliable reports whether every partition's committed state is within
// the divergence bound of the requested state.
func (s *Space) IsReliable() bool {
	for _, p := range s.partitions {
		if !p.sched.isReliable() {
			return false
		}
	}
	return true
}

// point waits for h to be resolved and its partition to be reliable, then
// returns a snapshot.
func (s *Space) point(ctx context.Context, h Handle) (*Point, error) {
	if err := s.check(h); err != nil {
		return nil, err
	}
	p := s.partition(h)
	if err := p.waitPending(ctx, h); err != nil {
		return nil, err
	}
	if err := p.sched.waitUntilReliable(ctx); err != nil {
		return nil, err
	}
	return p.snapshotPoint(h)
}

// Position returns the committed position of h.
func (s *Space) Position(ctx context.Context, h Handle) (r3.Vec, error) {
	p, err := s.point(ctx, h)
	if err != nil {
		return r3.Vec{}, err
	}
	return p.Position, nil
}

// Volume returns the committed Voronoi volume estimate of h.
func (s *Space) Volume(ctx context.Context, h Handle) (float64, error) {
	p, err := s.point(ctx, h)
	if err != nil {
		return 0, err
	}
	return p.Volume, nil
}

// Payload returns the payload stored with h.
func (s *Space) Payload(ctx context.Context, h Handle) (interface{}, error) {
	p, err := s.point(ctx, h)
	if err != nil {
		return nil, err
	}
	return p.Payload, nil
}

// NeighborHandles returns the points sharing an edge with h, as committed
// now.
func (s *Space) NeighborHandles(ctx context.Context, h Handle) ([]Handle, error) {
	if err := s.check(h); err != nil {
		return nil, err
	}
	if err := s.partition(h).waitPending(ctx, h); err != nil {
		return nil, err
	}
	p, err := s.partition(h).snapshotPoint(h)
	if err != nil {
		return nil, err
	}
	return p.Neighbors(), nil
}

// Neighbors returns the payloads of h's neighbors. Neighbors removed
// since h was read are skipped.
func (s *Space) Neighbors(ctx context.Context, h Handle) ([]interface{}, error) {
	hs, err := s.NeighborHandles(ctx, h)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(hs))
	for _, n := range hs {
		p, err := s.partition(n).snapshotPoint(n)
		if err != nil {
			continue
		}
		out = append(out, p.Payload)
	}
	return out, nil
}

// EdgeInfo is one edge of a point as seen from that point.
type EdgeInfo struct {
	Neighbor Handle
	// CrossSection is the area of the edge's Voronoi facet estimate,
	// summed over the tetrahedra around the edge.
	CrossSection float64
}

// Edges returns h's edges with their cross sections, once h's partition
// is reliable. Edges removed since h was read are skipped.
func (s *Space) Edges(ctx context.Context, h Handle) ([]EdgeInfo, error) {
	p, err := s.point(ctx, h)
	if err != nil {
		return nil, err
	}
	out := make([]EdgeInfo, 0, len(p.Edges))
	for _, l := range p.Edges {
		e, err := s.partition(l.Edge).snapshotEdge(l.Edge)
		if err != nil {
			continue
		}
		out = append(out, EdgeInfo{Neighbor: l.Other, CrossSection: e.CrossSection})
	}
	return out, nil
}

// VerticesContaining returns the vertices of the tetrahedron containing
// pos once every partition is reliable. Outside the hull it returns the
// three vertices of the hull facet facing pos. It fails with
// ErrUnknownHandle while the points span no volume.
func (s *Space) VerticesContaining(ctx context.Context, pos r3.Vec) ([]Handle, error) {
	for _, p := range s.partitions {
		if err := p.sched.waitUntilReliable(ctx); err != nil {
			return nil, err
		}
	}
	rnd := rand.New(rand.NewSource(1))
	var err error
	for try := 0; try < 8; try++ {
		var h Handle
		if h, err = s.locate(ctx, pos, None, rnd); err != nil {
			return nil, err
		}
		var tet *Tetrahedron
		if tet, err = s.partition(h).snapshotTetrahedron(h); err != nil {
			// Deleted after the walk found it.
			continue
		}
		out := make([]Handle, 0, 4)
		for _, n := range tet.Nodes {
			if !n.IsNone() {
				out = append(out, n)
			}
		}
		return out, nil
	}
	return nil, err
}

// Wait blocks until every operation submitted on h so far has finished
// and returns the first error among them not yet reported.
func (s *Space) Wait(ctx context.Context, h Handle) error {
	return s.ops.wait(ctx, h)
}

// WaitIdle blocks until no operation is outstanding.
func (s *Space) WaitIdle(ctx context.Context) error {
	return s.ops.waitAll(ctx)
}

// Stats returns the space's counters.
func (s *Space) Stats() Stats { return s.stats.snapshot() }

// ActiveTxns lists operations submitted and not finished.
func (s *Space) ActiveTxns() []ActiveTxnStatus { return s.tracker.ActiveTxns() }

// PastTxns lists recently finished operations, oldest first.
func (s *Space) PastTxns() []PastTxnStatus { return s.tracker.PastTxns() }

// Close stops all partitions. Queued operations fail with ErrClosed.
func (s *Space) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	for _, p := range s.partitions {
		for _, t := range p.sched.close() {
			s.finish(t, errors.New(errors.ErrClosed, "space closed"))
		}
	}
	s.tracker.Stop()
	return nil
}

// opTracker counts outstanding operations per handle and keeps the first
// error of each until someone waits for it, up to limit errors.
type opTracker struct {
	mu          sync.Mutex
	outstanding map[Handle]int
	total       int
	errs        map[Handle]opError
	seq         uint64
	limit       int
	changed     chan struct{}
}

type opError struct {
	err error
	seq uint64
}

func (o *opTracker) init() {
	o.outstanding = make(map[Handle]int)
	o.errs = make(map[Handle]opError)
	o.limit = maxUnreportedErrors
	o.changed = make(chan struct{})
}

// keep records err for h unless h already has one. Callers hold o.mu.
func (o *opTracker) keep(h Handle, err error) {
	if _, ok := o.errs[h]; ok {
		return
	}
	if len(o.errs) >= o.limit {
		oldest, first := None, true
		var min uint64
		for k, e := range o.errs {
			if first || e.seq < min {
				oldest, min, first = k, e.seq, false
			}
		}
		delete(o.errs, oldest)
	}
	o.seq++
	o.errs[h] = opError{err: err, seq: o.seq}
}

func (o *opTracker) begin(h Handle) {
	o.mu.Lock()
	o.outstanding[h]++
	o.total++
	o.mu.Unlock()
}

func (o *opTracker) end(h Handle, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outstanding[h]--; o.outstanding[h] <= 0 {
		delete(o.outstanding, h)
	}
	o.total--
	if err != nil {
		o.keep(h, err)
	}
	close(o.changed)
	o.changed = make(chan struct{})
}

func (o *opTracker) waitFor(ctx context.Context, done func() bool) error {
	for {
		o.mu.Lock()
		if done() {
			o.mu.Unlock()
			return nil
		}
		ch := o.changed
		o.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *opTracker) wait(ctx context.Context, h Handle) error {
	if err := o.waitFor(ctx, func() bool { return o.outstanding[h] == 0 }); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.errs[h]
	delete(o.errs, h)
	return e.err
}

func (o *opTracker) waitAll(ctx context.Context) error {
	return o.waitFor(ctx, func() bool { return o.total == 0 })
}
