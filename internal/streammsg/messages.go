// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package streammsg define o vocabulário de mensagens de controle upstream e
// downstream do spec §4.B: variantes marcadas carregando batch, close,
// forced_close, ack_open, ack_batch, drop e forced_drop. São mensagens
// tipadas in-process — nenhum formato de wire é definido nesta camada.
package streammsg

import (
	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/slot"
)

// Batch é um grupo contíguo de elementos de stream enviado e confirmado
// atomicamente, com um id monotonicamente crescente.
type Batch struct {
	// Size é a quantidade de elementos que o sink deve debitar do seu crédito.
	Size int32
	// Payload carrega o corpo do batch. Opaco para o core.
	Payload actorsys.Payload
	// ID é o número de sequência monotônico do batch neste path, começando em 1.
	ID int64
}

// DownstreamMsg é o sum type das mensagens de controle que fluem do source
// para o sink ao longo de um path: batch, close, forced_close.
type DownstreamMsg interface {
	downstreamMsg()
	Slots() slot.Pair
	Sender() actorsys.Address
}

// UpstreamMsg é o sum type das mensagens de controle que fluem do sink para
// o source ao longo de um path: ack_open, ack_batch, drop, forced_drop.
type UpstreamMsg interface {
	upstreamMsg()
	Slots() slot.Pair
	Sender() actorsys.Address
}

type base struct {
	slots  slot.Pair
	sender actorsys.Address
}

// Slots reporta os slots do path pelo qual a mensagem trafega.
func (b base) Slots() slot.Pair { return b.slots }

// Sender reporta o endereço que emitiu a mensagem.
func (b base) Sender() actorsys.Address { return b.sender }

// BatchMsg flui downstream e carrega um único Batch.
type BatchMsg struct {
	base
	Batch Batch
}

// NewBatchMsg constrói uma mensagem de batch downstream.
func NewBatchMsg(slots slot.Pair, sender actorsys.Address, b Batch) BatchMsg {
	return BatchMsg{base: base{slots: slots, sender: sender}, Batch: b}
}

func (BatchMsg) downstreamMsg() {}

// CloseMsg flui downstream: encerramento gracioso depois que todos os
// batches já confirmados tiverem sido entregues.
type CloseMsg struct {
	base
}

// NewCloseMsg constrói uma mensagem de close downstream.
func NewCloseMsg(slots slot.Pair, sender actorsys.Address) CloseMsg {
	return CloseMsg{base: base{slots: slots, sender: sender}}
}

func (CloseMsg) downstreamMsg() {}

// ForcedCloseMsg flui downstream: encerramento abrupto carregando um erro.
type ForcedCloseMsg struct {
	base
	Reason error
}

// NewForcedCloseMsg constrói uma mensagem de forced-close downstream.
func NewForcedCloseMsg(slots slot.Pair, sender actorsys.Address, reason error) ForcedCloseMsg {
	return ForcedCloseMsg{base: base{slots: slots, sender: sender}, Reason: reason}
}

func (ForcedCloseMsg) downstreamMsg() {}

// AckOpen carrega o payload que finaliza o handshake de uma mensagem ack_open.
type AckOpen struct {
	// RebindFrom/RebindTo permitem que um actor proxy repasse a participação
	// no stream para um actor concreto; RebindFrom zero significa que nenhum
	// rebind está acontecendo.
	RebindFrom slot.ID
	RebindTo   actorsys.Address
	// InitialDemand é o crédito inicial concedido ao source, >= 0.
	InitialDemand int32
	// DesiredBatchSize é o tamanho de batch solicitado pelo sink, >= 1.
	DesiredBatchSize int32
}

// AckOpenMsg flui upstream: finaliza o handshake e concede o crédito inicial.
type AckOpenMsg struct {
	base
	Ack AckOpen
}

// NewAckOpenMsg constrói uma mensagem de ack_open upstream.
func NewAckOpenMsg(slots slot.Pair, sender actorsys.Address, ack AckOpen) AckOpenMsg {
	return AckOpenMsg{base: base{slots: slots, sender: sender}, Ack: ack}
}

func (AckOpenMsg) upstreamMsg() {}

// AckBatch carrega o payload de ack acumulativo de uma mensagem ack_batch.
type AckBatch struct {
	// NewCapacity é o crédito adicional concedido, >= 0.
	NewCapacity int32
	// DesiredBatchSize é o tamanho de batch (possivelmente atualizado)
	// solicitado pelo sink, >= 1.
	DesiredBatchSize int32
	// AcknowledgedID confirma todo batch id <= este valor.
	AcknowledgedID int64
}

// AckBatchMsg flui upstream e confirma acumulativamente todos os ids <= AcknowledgedID.
type AckBatchMsg struct {
	base
	Ack AckBatch
}

// NewAckBatchMsg constrói uma mensagem de ack_batch upstream.
func NewAckBatchMsg(slots slot.Pair, sender actorsys.Address, ack AckBatch) AckBatchMsg {
	return AckBatchMsg{base: base{slots: slots, sender: sender}, Ack: ack}
}

func (AckBatchMsg) upstreamMsg() {}

// DropMsg flui upstream: pedido de parada graciosa no source.
type DropMsg struct {
	base
}

// NewDropMsg constrói uma mensagem de drop upstream.
func NewDropMsg(slots slot.Pair, sender actorsys.Address) DropMsg {
	return DropMsg{base: base{slots: slots, sender: sender}}
}

func (DropMsg) upstreamMsg() {}

// ForcedDropMsg flui upstream: parada abrupta no source, carregando um erro.
type ForcedDropMsg struct {
	base
	Reason error
}

// NewForcedDropMsg constrói uma mensagem de forced-drop upstream.
func NewForcedDropMsg(slots slot.Pair, sender actorsys.Address, reason error) ForcedDropMsg {
	return ForcedDropMsg{base: base{slots: slots, sender: sender}, Reason: reason}
}

func (ForcedDropMsg) upstreamMsg() {}

// OpenStreamMsg é enviada por um source quando ele adiciona um path outbound,
// carregando o payload de handshake que permite ao sink decidir se e como
// aceitar o path (spec §4.I).
type OpenStreamMsg struct {
	base
	// Token identifica o tipo de elemento sendo transmitido, usado pela
	// tabela de roteamento do downstream manager fundido.
	Token string
	// Handshake carrega dados de negociação definidos pelo stage (opaco para o core).
	Handshake any
	PrevStage actorsys.Address
	// OriginalStage é o primeiro actor do pipeline, para diagnóstico.
	OriginalStage actorsys.Address
	Priority      Priority
}

// NewOpenStreamMsg constrói um pedido de handshake de abertura de stream.
func NewOpenStreamMsg(slots slot.Pair, sender actorsys.Address, token string, handshake any, prevStage, originalStage actorsys.Address, priority Priority) OpenStreamMsg {
	return OpenStreamMsg{
		base:          base{slots: slots, sender: sender},
		Token:         token,
		Handshake:     handshake,
		PrevStage:     prevStage,
		OriginalStage: originalStage,
		Priority:      priority,
	}
}

// Priority é a prioridade de agendamento informativa de um path (spec §3).
type Priority int

const (
	PriorityVeryLow Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityVeryHigh
)
