// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package slot

import "testing"

func TestInvalidSlot(t *testing.T) {
	if Invalid.Valid() {
		t.Fatal("zero slot must be invalid")
	}
	if ID(7).Valid() != true {
		t.Fatal("nonzero slot must be valid")
	}
}

func TestPairInvert(t *testing.T) {
	p := Pair{Sender: 3, Receiver: 9}
	inv := p.Invert()
	if inv.Sender != 9 || inv.Receiver != 3 {
		t.Fatalf("unexpected invert: %+v", inv)
	}
	if !inv.Invert().Equal(p) {
		t.Fatal("double invert must restore original pair")
	}
}

func TestPairEqual(t *testing.T) {
	a := Pair{Sender: 1, Receiver: 2}
	b := Pair{Sender: 1, Receiver: 2}
	c := Pair{Sender: 2, Receiver: 1}
	if !a.Equal(b) {
		t.Fatal("identical pairs must be equal")
	}
	if a.Equal(c) {
		t.Fatal("sender/receiver swap must not be equal")
	}
}
