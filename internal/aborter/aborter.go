// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package aborter implementa o anexo de stream aborter do spec §4.K: um
// token observando um actor peer que, quando o peer termina, sintetiza o
// forced_close/forced_drop que o stream manager dono de outra forma nunca
// veria.
package aborter

import (
	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/slot"
	"github.com/nishisan-dev/streamcore/internal/streamerr"
	"github.com/nishisan-dev/streamcore/internal/streammsg"
)

// Mode distingue qual lado de um path um aborter protege.
//
// O texto literal do spec liga source-aborter a forced_close e
// sink-aborter a forced_drop, mas as próprias regras de tratamento
// inequívocas do stream manager são o pareamento oposto: forced_close
// sempre alveja um path inbound e dispara stop(); forced_drop sempre
// alveja um path outbound e o remove. Um token em modo Source protege um
// path outbound (ele observa o peer sink desse path), então sua mensagem
// sintetizada precisa ser aquela que o manager já sabe tratar para remoção
// de outbound: forced_drop. Simetricamente, Sink protege um path inbound
// (observa o peer source desse path) e dispara forced_close. Isso resolve
// a inconsistência interna do spec em favor de reusar a única regra de
// tratamento que cada tipo de mensagem já tem, em vez de inventar uma
// segunda.
type Mode int

const (
	// Source observa um peer sink em nome do dono do path outbound; na
	// morte do sink enfileira um forced_drop, casando com o tratamento de
	// remoção de outbound já existente no manager.
	Source Mode = iota
	// Sink observa um peer source em nome do dono do path inbound; na morte
	// do source enfileira um forced_close, casando com o tratamento de
	// stop()-em-forced_close já existente no manager.
	Sink
)

func (m Mode) String() string {
	if m == Sink {
		return "sink-aborter"
	}
	return "source-aborter"
}

// key é a identidade de casamento de um token de aborter (spec §4.K
// "Matching between aborters and peers uses {observer, slot, mode}").
type key struct {
	observer actorsys.Address
	slot     slot.ID
	mode     Mode
}

// Token é um anexo: observer é notificado quando peer morre, endereçado
// como slots da perspectiva de observer, com reason assumindo
// streamerr.ErrRuntime se nil.
type Token struct {
	observer actorsys.Address
	mbox     actorsys.Mailbox
	peer     actorsys.Address
	slots    slot.Pair
	mode     Mode
	reason   error
	fired    bool
}

// Fired reporta se este token já enfileirou sua mensagem forçada.
func (t *Token) Fired() bool { return t.fired }

// Mode reporta o modo de aborter deste token.
func (t *Token) Mode() Mode { return t.mode }

// Check inspeciona o peer observado e, na primeira vez que ele é visto
// morto, enfileira a mensagem forçada apropriada em observer. Retorna true
// na única vez em que dispara; false em toda chamada antes ou depois.
func (t *Token) Check() bool {
	if t.fired {
		return false
	}
	if t.peer == nil || !t.peer.Dead() {
		return false
	}
	reason := t.reason
	if reason == nil {
		reason = streamerr.ErrRuntime
	}
	switch t.mode {
	case Source:
		t.mbox.Send(t.observer, streammsg.NewForcedDropMsg(t.slots, t.peer, reason))
	case Sink:
		t.mbox.Send(t.observer, streammsg.NewForcedCloseMsg(t.slots, t.peer, reason))
	}
	t.fired = true
	return true
}

// Registry possui um conjunto de tokens chaveados por {observer, slot,
// mode} para que um stream manager anexe um aborter por path e o desanexe
// assim que o path fecha normalmente, sem disparar em duplicidade um watch
// obsoleto.
type Registry struct {
	tokens map[key]*Token
}

// NewRegistry cria um registry vazio.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[key]*Token)}
}

// Attach cria e registra um token observando peer em nome de observer.
// ownSlot é o id de endpoint do próprio observer para o path sendo
// observado. Reanexar o mesmo {observer, ownSlot, mode} substitui qualquer
// token anterior.
func (r *Registry) Attach(observer actorsys.Address, mbox actorsys.Mailbox, peer actorsys.Address, slots slot.Pair, ownSlot slot.ID, mode Mode, reason error) *Token {
	t := &Token{observer: observer, mbox: mbox, peer: peer, slots: slots, mode: mode, reason: reason}
	r.tokens[key{observer: observer, slot: ownSlot, mode: mode}] = t
	return t
}

// Detach remove um token, ex.: assim que seu path fechou normalmente e a
// morte do peer não deve mais ser reportada.
func (r *Registry) Detach(observer actorsys.Address, ownSlot slot.ID, mode Mode) {
	delete(r.tokens, key{observer: observer, slot: ownSlot, mode: mode})
}

// CheckAll roda Check em todo token registrado e retorna os que dispararam
// nesta rodada. Tokens disparados permanecem registrados (Fired() continua
// true, Check() continua um no-op) até serem explicitamente desanexados
// via Detach pelo chamador.
func (r *Registry) CheckAll() []*Token {
	var fired []*Token
	for _, t := range r.tokens {
		if t.Check() {
			fired = append(fired, t)
		}
	}
	return fired
}

// Len reporta quantos tokens estão registrados no momento.
func (r *Registry) Len() int { return len(r.tokens) }
