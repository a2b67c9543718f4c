// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package outbound

import (
	"errors"
	"testing"
	"time"

	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/slot"
	"github.com/nishisan-dev/streamcore/internal/streamerr"
	"github.com/nishisan-dev/streamcore/internal/streammsg"
)

type fakeAddress struct{ delivered []any }

func (a *fakeAddress) Deliver(msg any) { a.delivered = append(a.delivered, msg) }
func (a *fakeAddress) Dead() bool      { return false }

type fakeMailbox struct{ sent []any }

func (m *fakeMailbox) Send(target actorsys.Address, msg any) {
	m.sent = append(m.sent, msg)
	target.Deliver(msg)
}
func (m *fakeMailbox) DelayedSend(actorsys.Address, time.Duration, any) {}

func TestEmitBatchRejectedWhilePending(t *testing.T) {
	mbox := &fakeMailbox{}
	p := New(&fakeAddress{}, mbox, slot.Pair{Sender: 1}, &fakeAddress{})
	_, err := p.EmitBatch(1, nil)
	if !errors.Is(err, streamerr.ErrInvalidStreamState) {
		t.Fatalf("expected invalid_stream_state while pending, got %v", err)
	}
}

func openPath(t *testing.T, initialDemand, batchSize int32) (*Path, *fakeMailbox) {
	t.Helper()
	mbox := &fakeMailbox{}
	p := New(&fakeAddress{}, mbox, slot.Pair{Sender: 1, Receiver: 0}, &fakeAddress{})
	if err := p.OnAckOpen(streammsg.AckOpen{
		RebindFrom:       2,
		InitialDemand:    initialDemand,
		DesiredBatchSize: batchSize,
	}); err != nil {
		t.Fatalf("OnAckOpen failed: %v", err)
	}
	return p, mbox
}

func TestHandshakePromotesPendingToOpen(t *testing.T) {
	p, _ := openPath(t, 10, 3)
	if p.State() != Open {
		t.Fatalf("expected Open after ack_open, got %v", p.State())
	}
	if p.OpenCredit() != 10 {
		t.Fatalf("expected open_credit=10, got %d", p.OpenCredit())
	}
	if p.Slots().Receiver != 2 {
		t.Fatalf("expected receiver slot rebound to 2, got %d", p.Slots().Receiver)
	}
}

func TestEmitBatchAssignsMonotonicIDsAndDebitsCredit(t *testing.T) {
	p, mbox := openPath(t, 10, 3)

	id1, err := p.EmitBatch(3, nil)
	if err != nil || id1 != 1 {
		t.Fatalf("expected id=1, err=nil, got id=%d err=%v", id1, err)
	}
	id2, err := p.EmitBatch(3, nil)
	if err != nil || id2 != 2 {
		t.Fatalf("expected id=2, err=nil, got id=%d err=%v", id2, err)
	}
	if p.OpenCredit() != 4 {
		t.Fatalf("expected open_credit=4 after debiting 6, got %d", p.OpenCredit())
	}
	if len(mbox.sent) != 2 {
		t.Fatalf("expected 2 batch messages sent, got %d", len(mbox.sent))
	}
}

func TestEmitBatchRejectsOverCredit(t *testing.T) {
	p, _ := openPath(t, 2, 3)
	_, err := p.EmitBatch(3, nil)
	if !errors.Is(err, streamerr.ErrInvalidStreamState) {
		t.Fatalf("expected invalid_stream_state over credit, got %v", err)
	}
}

func TestOnAckBatchRestoresCreditAndAdvancesAckID(t *testing.T) {
	p, _ := openPath(t, 10, 3)
	p.EmitBatch(3, nil)
	p.EmitBatch(3, nil)
	if p.Clean() {
		t.Fatal("path must not be clean with unacked batches")
	}

	p.OnAckBatch(streammsg.AckBatch{NewCapacity: 6, DesiredBatchSize: 3, AcknowledgedID: 2})
	if p.OpenCredit() != 10 {
		t.Fatalf("expected open_credit restored to 10, got %d", p.OpenCredit())
	}
	if !p.Clean() {
		t.Fatal("path must be clean after acking every emitted batch")
	}
}

func TestAckBatchIdempotentWithZeroCapacity(t *testing.T) {
	p, _ := openPath(t, 10, 3)
	p.EmitBatch(3, nil)
	p.OnAckBatch(streammsg.AckBatch{NewCapacity: 0, DesiredBatchSize: 3, AcknowledgedID: 1})
	creditAfterFirst := p.OpenCredit()
	ackIDAfterFirst := p.Clean()

	p.OnAckBatch(streammsg.AckBatch{NewCapacity: 0, DesiredBatchSize: 3, AcknowledgedID: 1})
	if p.OpenCredit() != creditAfterFirst || p.Clean() != ackIDAfterFirst {
		t.Fatal("duplicate zero-capacity ack must leave state unchanged")
	}
}

func TestCloseDrainsThenTerminates(t *testing.T) {
	p, mbox := openPath(t, 10, 3)
	p.EmitBatch(3, nil)
	p.RequestClose()
	if p.State() != Closing {
		t.Fatalf("expected Closing with unacked batch outstanding, got %v", p.State())
	}

	p.OnAckBatch(streammsg.AckBatch{NewCapacity: 3, DesiredBatchSize: 3, AcknowledgedID: 1})
	if p.State() != Terminated {
		t.Fatalf("expected Terminated once clean while closing, got %v", p.State())
	}
	found := false
	for _, m := range mbox.sent {
		if _, ok := m.(streammsg.CloseMsg); ok {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a close message to have been emitted")
	}
}

func TestDoubleCloseIsEquivalentToOne(t *testing.T) {
	p, mbox := openPath(t, 10, 3)
	p.RequestClose()
	sentAfterFirst := len(mbox.sent)
	p.RequestClose()
	if len(mbox.sent) != sentAfterFirst {
		t.Fatal("a second close request must not emit another close")
	}
}

func TestForceCloseOverridesGracefulShutdown(t *testing.T) {
	p, mbox := openPath(t, 10, 3)
	p.EmitBatch(3, nil)
	p.RequestClose()
	reason := errors.New("peer died")
	p.ForceClose(reason)
	if p.State() != Terminated {
		t.Fatalf("expected Terminated after force close, got %v", p.State())
	}
	last := mbox.sent[len(mbox.sent)-1]
	fc, ok := last.(streammsg.ForcedCloseMsg)
	if !ok || !errors.Is(fc.Reason, reason) {
		t.Fatalf("expected forced_close with reason, got %+v", last)
	}
}
