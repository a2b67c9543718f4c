// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/downstream"
	"github.com/nishisan-dev/streamcore/internal/slot"
	"github.com/nishisan-dev/streamcore/internal/streammsg"
)

// node embrulha um *Manager como um actorsys.Address, entregando toda
// mensagem direto em Receive na goroutine do chamador — um substituto
// síncrono para o loop de mailbox de um actor real, suficiente para
// exercitar o protocolo.
type node struct {
	mgr  *Manager
	dead bool
}

func (n *node) Deliver(msg any) { n.mgr.Receive(msg) }
func (n *node) Dead() bool      { return n.dead }

// directMailbox entrega sincronamente a qualquer Address que receber, sem
// garantias de fila ou de ordenação de fan-in além da ordem de chamada.
type directMailbox struct{}

func (directMailbox) Send(target actorsys.Address, msg any) { target.Deliver(msg) }
func (directMailbox) DelayedSend(actorsys.Address, time.Duration, any) {}

func newSourceSink(t *testing.T) (src *node, sink *node, srcOut *downstream.BroadcastManager[int]) {
	t.Helper()
	mbox := directMailbox{}
	src = &node{}
	sink = &node{}
	srcOut = downstream.NewBroadcastManager[int](src, mbox, nil)
	src.mgr = New(Config{Self: src, Mailbox: mbox, Out: srcOut, QueueBase: 1})
	sink.mgr = New(Config{Self: sink, Mailbox: mbox, Out: downstream.NewBroadcastManager[int](sink, mbox, nil), QueueBase: 1})
	return src, sink, srcOut
}

func TestHandshakeOpenStreamThenAckOpen(t *testing.T) {
	src, sink, _ := newSourceSink(t)

	s, ok := src.mgr.AddUncheckedOutboundPath(sink, "int", nil)
	if !ok {
		t.Fatal("expected AddUncheckedOutboundPath to succeed")
	}
	// Entregar open_stream_msg sincronamente já rodou handleOpenStream no
	// sink e handleAckOpen de volta no src.
	if len(sink.mgr.InboundSlots()) != 1 {
		t.Fatalf("expected sink to have accepted one inbound path, got %d", len(sink.mgr.InboundSlots()))
	}
	if src.mgr.handshakePending != 0 {
		t.Fatalf("expected handshake to be finalized, pending=%d", src.mgr.handshakePending)
	}
	if _, ok := src.mgr.out.Path(s); !ok {
		t.Fatal("expected the outbound path to still be registered under its original slot")
	}
}

func TestBatchDeliveryReachesSinkDeliverHook(t *testing.T) {
	src, sink, srcOut := newSourceSink(t)

	var received []int
	sink.mgr.onDeliver = func(_ slot.Pair, payload actorsys.Payload) {
		if tp, ok := payload.(actorsys.TypedPayload[int]); ok {
			received = append(received, tp.Elements...)
		}
	}

	if _, ok := src.mgr.AddUncheckedOutboundPath(sink, "int", nil); !ok {
		t.Fatal("handshake failed")
	}

	srcOut.Push(1, 2, 3, 4, 5)
	src.mgr.push()
	// BatchMsg foi enfileirada na disciplina WDRR do sink por Receive; cada
	// rodada retira no máximo um quantum por slot, então drene até esvaziar.
	for _, s := range sink.mgr.InboundSlots() {
		for sink.mgr.inboundQ.Len(s) > 0 {
			sink.mgr.DrainInbound()
		}
	}

	if len(received) != 5 {
		t.Fatalf("expected all 5 elements delivered, got %v", received)
	}
}

func TestForcedCloseOnInboundPathStopsManager(t *testing.T) {
	src, sink, _ := newSourceSink(t)
	if _, ok := src.mgr.AddUncheckedOutboundPath(sink, "int", nil); !ok {
		t.Fatal("handshake failed")
	}

	sinkSlots := sink.mgr.InboundSlots()
	if len(sinkSlots) != 1 {
		t.Fatal("expected one inbound path on sink")
	}
	reason := errors.New("source died")
	path := sink.mgr.inbound[sinkSlots[0]]
	path.OnForcedClose(reason)

	if !sink.mgr.IsShuttingDown() {
		t.Fatal("expected sink manager to be shutting down after forced_close")
	}
	if !errors.Is(sink.mgr.FinalErr(), reason) {
		t.Fatalf("expected FinalErr to report the forced_close reason, got %v", sink.mgr.FinalErr())
	}
	if len(sink.mgr.InboundSlots()) != 0 {
		t.Fatal("expected the inbound path to be removed after abort")
	}
}

func TestForcedDropOnOutboundPathRemovesIt(t *testing.T) {
	src, sink, _ := newSourceSink(t)
	s, ok := src.mgr.AddUncheckedOutboundPath(sink, "int", nil)
	if !ok {
		t.Fatal("handshake failed")
	}

	msg := streammsg.NewForcedDropMsg(slot.Pair{Receiver: s}, sink, errors.New("sink died"))
	src.mgr.handleForcedDrop(msg)

	if _, ok := src.mgr.out.Path(s); ok {
		t.Fatal("expected the outbound path to be removed on forced_drop")
	}
}

func TestOnDoneFiresWhenLastInboundPathCloses(t *testing.T) {
	mbox := directMailbox{}
	src := &node{}
	sink := &node{}
	src.mgr = New(Config{Self: src, Mailbox: mbox, Out: downstream.NewBroadcastManager[int](src, mbox, nil), QueueBase: 1})

	var done bool
	sink.mgr = New(Config{
		Self: sink, Mailbox: mbox, Out: downstream.NewBroadcastManager[int](sink, mbox, nil), QueueBase: 1,
		OnDone: func() { done = true },
	})

	if _, ok := src.mgr.AddUncheckedOutboundPath(sink, "int", nil); !ok {
		t.Fatal("handshake failed")
	}
	if done {
		t.Fatal("did not expect OnDone before the inbound path closes")
	}

	sinkSlots := sink.mgr.InboundSlots()
	path := sink.mgr.inbound[sinkSlots[0]]
	path.OnClose()

	if !done {
		t.Fatal("expected OnDone to fire once the only inbound path closed gracefully")
	}
}

func TestDoneReportsNoPathsLeft(t *testing.T) {
	src, _, _ := newSourceSink(t)
	if !src.mgr.Done() {
		t.Fatal("expected a fresh non-continuous manager with no paths to be done")
	}
}

func TestContinuousManagerIsNeverDone(t *testing.T) {
	mbox := directMailbox{}
	self := &node{}
	self.mgr = New(Config{Self: self, Mailbox: mbox, Out: downstream.NewBroadcastManager[int](self, mbox, nil), Continuous: true})
	if self.mgr.Done() {
		t.Fatal("expected a continuous manager never to report done")
	}
}

func TestStopGracefulMarksOutboundClosingWithoutAbort(t *testing.T) {
	src, sink, _ := newSourceSink(t)
	if _, ok := src.mgr.AddUncheckedOutboundPath(sink, "int", nil); !ok {
		t.Fatal("handshake failed")
	}

	src.mgr.stop(nil)

	if src.mgr.FinalErr() != nil {
		t.Fatal("expected no final error on a graceful stop")
	}
	if !src.mgr.IsShuttingDown() {
		t.Fatal("expected IsShuttingDown to be true after stop")
	}
	if len(src.mgr.inbound) != 0 {
		t.Fatal("graceful stop on the source side has no inbound paths of its own to clear")
	}
}

func TestAbortClearsEveryInboundPath(t *testing.T) {
	src, sink, srcOut := newSourceSink(t)
	if _, ok := src.mgr.AddUncheckedOutboundPath(sink, "int", nil); !ok {
		t.Fatal("handshake failed")
	}
	srcOut.Push(1, 2, 3)
	src.mgr.push()

	reason := errors.New("upstream failure")
	sink.mgr.stop(reason)

	if len(sink.mgr.InboundSlots()) != 0 {
		t.Fatal("expected abort to clear every inbound path")
	}
	if !errors.Is(sink.mgr.FinalErr(), reason) {
		t.Fatalf("expected FinalErr == reason, got %v", sink.mgr.FinalErr())
	}
}
