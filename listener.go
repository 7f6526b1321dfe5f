// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package tetra

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Listener observes changes to one point. Before* hooks run after the
// transaction has settled its changes but before it commits; After* hooks
// run once it has committed and released its locks. Hooks run on a
// partition worker and may call back into the Space.
type Listener interface {
	BeforeMove(h Handle, delta r3.Vec)
	AfterMove(h Handle)
	BeforeRemove(h Handle)
	AfterRemove(h Handle)
	// BeforeAdd and AfterAdd fire on the point an insertion was placed
	// near.
	BeforeAdd(h, added Handle)
	AfterAdd(h, added Handle)
}

// NopListener implements Listener with empty hooks. Embed it to
// implement only some of them.
type NopListener struct{}

func (NopListener) BeforeMove(Handle, r3.Vec) {}
func (NopListener) AfterMove(Handle)          {}
func (NopListener) BeforeRemove(Handle)       {}
func (NopListener) AfterRemove(Handle)        {}
func (NopListener) BeforeAdd(Handle, Handle)  {}
func (NopListener) AfterAdd(Handle, Handle)   {}

type eventKind int

const (
	eventMove eventKind = iota
	eventRemove
	eventAdd
)

type event struct {
	kind      eventKind
	point     Handle
	added     Handle
	delta     r3.Vec
	listeners []Listener
}

// announce records an event on p for its listeners.
func (t *Txn) announce(kind eventKind, p *Point, delta r3.Vec) {
	if len(p.Listeners) == 0 {
		return
	}
	t.events = append(t.events, event{kind: kind, point: p.Handle, delta: delta, listeners: p.Listeners})
}

// announceAdd records the insertion of added on the point it was placed
// near. The near point is not locked for this.
func (t *Txn) announceAdd(added Handle) {
	if t.near.IsNone() {
		return
	}
	near, ok := t.points[t.near]
	if !ok {
		var err error
		if near, err = t.space.partition(t.near).snapshotPoint(t.near); err != nil {
			return
		}
	}
	if len(near.Listeners) == 0 {
		return
	}
	t.events = append(t.events, event{kind: eventAdd, point: t.near, added: added, listeners: near.Listeners})
}

// notify runs the recorded hooks. The worker is marked blocked while user
// code runs so the pool can keep the partition busy.
func (t *Txn) notify(before bool) {
	if len(t.events) == 0 {
		return
	}
	t.home.sched.block()
	defer t.home.sched.unblock()
	for _, ev := range t.events {
		for _, l := range ev.listeners {
			switch {
			case ev.kind == eventMove && before:
				l.BeforeMove(ev.point, ev.delta)
			case ev.kind == eventMove:
				l.AfterMove(ev.point)
			case ev.kind == eventRemove && before:
				l.BeforeRemove(ev.point)
			case ev.kind == eventRemove:
				l.AfterRemove(ev.point)
			case before:
				l.BeforeAdd(ev.point, ev.added)
			default:
				l.AfterAdd(ev.point, ev.added)
			}
		}
	}
}

// listen attaches t.listener to the target point.
func (t *Txn) listen() error {
	p, err := t.targetPoint()
	if err != nil {
		return err
	}
	p.Listeners = append(p.Listeners, t.listener)
	return nil
}
