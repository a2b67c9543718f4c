// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fused

import (
	"testing"
	"time"

	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/downstream"
	"github.com/nishisan-dev/streamcore/internal/streammsg"
)

type fakeAddress struct{ delivered []any }

func (a *fakeAddress) Deliver(msg any) { a.delivered = append(a.delivered, msg) }
func (a *fakeAddress) Dead() bool      { return false }

type nopMailbox struct{}

func (nopMailbox) Send(target actorsys.Address, msg any) { target.Deliver(msg) }
func (nopMailbox) DelayedSend(actorsys.Address, time.Duration, any) {}

func TestAssignMovesUnassignedPathIntoOwner(t *testing.T) {
	self := &fakeAddress{}
	m := New(self, nopMailbox{})
	peer := &fakeAddress{}

	_, ok := m.AddPath(1, peer)
	if !ok {
		t.Fatal("expected AddPath to park slot 1 as unassigned")
	}

	ints := downstream.NewBroadcastManager[int](self, nopMailbox{}, nil)
	p, err := Assign[int](m, 1, ints)
	if err != nil || p == nil {
		t.Fatalf("expected Assign to create a concrete path, got %v, %v", p, err)
	}

	if _, found := m.Path(1); !found {
		t.Fatal("expected Path(1) to resolve through the owning manager")
	}
}

func TestFusedFanOutAcrossTwoTypedManagers(t *testing.T) {
	self := &fakeAddress{}
	m := New(self, nopMailbox{})

	ints := downstream.NewBroadcastManager[int](self, nopMailbox{}, nil)
	strs := downstream.NewBroadcastManager[string](self, nopMailbox{}, nil)

	m.AddPath(1, &fakeAddress{})
	m.AddPath(2, &fakeAddress{})
	p1, err1 := Assign[int](m, 1, ints)
	p2, err2 := Assign[string](m, 2, strs)
	if err1 != nil || err2 != nil {
		t.Fatal("expected both assigns to succeed")
	}
	p1.OnAckOpen(streammsg.AckOpen{InitialDemand: 10, DesiredBatchSize: 5})
	p2.OnAckOpen(streammsg.AckOpen{InitialDemand: 10, DesiredBatchSize: 5})

	ints.Push(1, 2, 3)
	strs.Push("a", "b")

	m.EmitBatches()

	if got := m.Buffered(); got != 5 {
		t.Fatalf("expected fused Buffered() to sum both managers' buffered counts, got %d", got)
	}

	slots := m.PathSlots()
	if len(slots) != 2 {
		t.Fatalf("expected 2 path slots across both managers, got %d", len(slots))
	}
}

func TestFusedAbortMarksTerminal(t *testing.T) {
	self := &fakeAddress{}
	m := New(self, nopMailbox{})
	ints := downstream.NewBroadcastManager[int](self, nopMailbox{}, nil)
	m.AddPath(1, &fakeAddress{})
	Assign[int](m, 1, ints)

	if _, err := Assign[int](m, 1, ints); err != ErrUnassigned {
		t.Fatalf("expected ErrUnassigned re-assigning an already-owned slot, got %v", err)
	}

	m.Abort(nil)
	if !m.Terminal() {
		t.Fatal("expected fused manager to be terminal after Abort")
	}
	if len(m.PathSlots()) != 0 {
		t.Fatal("expected Abort to clear every path")
	}
}

func TestRemovePathDropsUnassignedSlot(t *testing.T) {
	self := &fakeAddress{}
	m := New(self, nopMailbox{})
	m.AddPath(1, &fakeAddress{})

	if !m.RemovePath(1, nil, true) {
		t.Fatal("expected RemovePath to drop an unassigned slot")
	}
	if _, ok := m.Path(1); ok {
		t.Fatal("expected slot 1 to be gone")
	}
}

func TestAssignOnNeverAddedSlotReturnsErrUnassigned(t *testing.T) {
	self := &fakeAddress{}
	m := New(self, nopMailbox{})
	ints := downstream.NewBroadcastManager[int](self, nopMailbox{}, nil)

	if _, err := Assign[int](m, 1, ints); err != ErrUnassigned {
		t.Fatalf("expected ErrUnassigned for a slot never passed to AddPath, got %v", err)
	}
}
