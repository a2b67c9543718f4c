// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package slot implementa os identificadores de endpoint de stream (16 bits)
// e os endereços de path direcionais construídos a partir de um par deles.
package slot

import "fmt"

// ID é um identificador de endpoint de stream, único localmente por actor.
// O valor zero é reservado e significa "inválido".
type ID uint16

// Invalid é o slot zero reservado.
const Invalid ID = 0

// Valid reporta se o slot é utilizável, ou seja, não é o valor zero reservado.
func (s ID) Valid() bool {
	return s != Invalid
}

func (s ID) String() string {
	if s == Invalid {
		return "slot(invalid)"
	}
	return fmt.Sprintf("slot(%d)", uint16(s))
}

// Pair endereça um path direcional único: os dados fluem de Sender para Receiver.
type Pair struct {
	Sender   ID
	Receiver ID
}

// Invert troca sender e receiver, produzindo o endereço do path que roda na
// direção oposta entre os dois mesmos endpoints.
func (p Pair) Invert() Pair {
	return Pair{Sender: p.Receiver, Receiver: p.Sender}
}

// Equal reporta se dois pairs nomeiam o mesmo path direcional.
func (p Pair) Equal(other Pair) bool {
	return p.Sender == other.Sender && p.Receiver == other.Receiver
}

func (p Pair) String() string {
	return fmt.Sprintf("%d->%d", uint16(p.Sender), uint16(p.Receiver))
}
