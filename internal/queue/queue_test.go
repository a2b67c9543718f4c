// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package queue

import (
	"testing"

	"github.com/nishisan-dev/streamcore/internal/slot"
)

type sizedMsg struct {
	size int32
	tag  string
}

func (m sizedMsg) TaskSize() int32 { return m.size }

func TestFIFOOrderPreservedPerSlot(t *testing.T) {
	d := New(1, nil, nil)
	d.Enqueue(1, sizedMsg{size: 1, tag: "a"})
	d.Enqueue(1, sizedMsg{size: 1, tag: "b"})
	d.Enqueue(1, sizedMsg{size: 1, tag: "c"})

	// Com quantum 1, cada rodada WDRR retira uma mensagem; drena até esvaziar.
	var seen []string
	for d.Len(1) > 0 {
		d.Drain(func(s slot.ID, msg Sized) {
			seen = append(seen, msg.(sizedMsg).tag)
		})
	}
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("expected a,b,c in order, got %v", seen)
	}
}

func TestWeightedBySlotDesiredBatchSize(t *testing.T) {
	desired := map[slot.ID]int32{1: 1, 2: 5}
	d := New(1, nil, func(s slot.ID) int32 { return desired[s] })

	for i := 0; i < 10; i++ {
		d.Enqueue(1, sizedMsg{size: 1})
		d.Enqueue(2, sizedMsg{size: 1})
	}

	count := map[slot.ID]int{}
	d.Drain(func(s slot.ID, msg Sized) { count[s]++ })

	if count[2] <= count[1] {
		t.Fatalf("expected slot 2 (desired_batch_size=5) to drain more than slot 1 in one round, got %v", count)
	}
}

func TestCongestedSlotSkippedWithoutLosingPosition(t *testing.T) {
	congested := map[slot.ID]bool{1: true}
	d := New(1, func(s slot.ID) bool { return congested[s] }, nil)
	d.Enqueue(1, sizedMsg{size: 1})
	d.Enqueue(2, sizedMsg{size: 1})

	var seen []slot.ID
	d.Drain(func(s slot.ID, msg Sized) { seen = append(seen, s) })

	if len(seen) != 1 || seen[0] != 2 {
		t.Fatalf("expected only slot 2 to drain while slot 1 is congested, got %v", seen)
	}
	if d.Len(1) != 1 {
		t.Fatalf("expected slot 1's message to remain queued, got len %d", d.Len(1))
	}

	congested[1] = false
	seen = nil
	d.Drain(func(s slot.ID, msg Sized) { seen = append(seen, s) })
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("expected slot 1 to drain once no longer congested, got %v", seen)
	}
}

func TestRemoveSlotDropsQueueEntirely(t *testing.T) {
	d := New(1, nil, nil)
	d.Enqueue(1, sizedMsg{size: 1})
	d.RemoveSlot(1)
	if d.Len(1) != 0 {
		t.Fatalf("expected removed slot to report zero length, got %d", d.Len(1))
	}
	var seen []slot.ID
	d.Drain(func(s slot.ID, msg Sized) { seen = append(seen, s) })
	if len(seen) != 0 {
		t.Fatalf("expected no messages after removal, got %v", seen)
	}
}
