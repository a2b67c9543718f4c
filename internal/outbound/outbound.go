// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package outbound implementa a máquina de estados do path outbound por sink
// do spec §4.D: pending -> open -> (closing?) -> terminated, emissão de
// batch sob controle de crédito e processamento de ack acumulativo.
package outbound

import (
	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/metrics"
	"github.com/nishisan-dev/streamcore/internal/slot"
	"github.com/nishisan-dev/streamcore/internal/streamerr"
	"github.com/nishisan-dev/streamcore/internal/streammsg"
)

// State é o estado do ciclo de vida do path outbound (spec §4.D).
type State int

const (
	Pending State = iota
	Open
	Closing
	Terminated
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Path é o estado de um path outbound, possuído exclusivamente pelo
// downstream manager que o criou. peer é uma referência forte: é mantida
// viva enquanto o path existir (spec §3).
type Path struct {
	slots slot.Pair
	peer  actorsys.Address
	mbox  actorsys.Mailbox
	self  actorsys.Address

	state State

	openCredit       int32
	desiredBatchSize int32
	nextBatchID      int64
	nextAckID        int64

	metrics *metrics.Collector
}

// New cria um path outbound pendente para slots, endereçado a peer.
func New(self actorsys.Address, mbox actorsys.Mailbox, slots slot.Pair, peer actorsys.Address) *Path {
	return &Path{
		self:        self,
		mbox:        mbox,
		slots:       slots,
		peer:        peer,
		state:       Pending,
		nextBatchID: 1,
		nextAckID:   1,
	}
}

// SetMetrics instala o Collector para o qual este path reporta. nil
// desativa o reporte, que é o comportamento padrão.
func (p *Path) SetMetrics(rec *metrics.Collector) { p.metrics = rec }

// Slots reporta o endereço (self-sender, peer-receiver) deste path.
func (p *Path) Slots() slot.Pair { return p.slots }

// State reporta o estado atual do ciclo de vida.
func (p *Path) State() State { return p.state }

// OpenCredit reporta o crédito atualmente disponível para gastar.
func (p *Path) OpenCredit() int32 { return p.openCredit }

// DesiredBatchSize reporta o tamanho de batch definido pelo sink.
func (p *Path) DesiredBatchSize() int32 { return p.desiredBatchSize }

// Closing reporta se este path foi marcado para remoção graciosa.
func (p *Path) Closing() bool { return p.state == Closing }

// Terminated reporta se este path encerrou completamente.
func (p *Path) Terminated() bool { return p.state == Terminated }

// Clean reporta next_ack_id == next_batch_id: todo batch emitido já foi
// confirmado (spec GLOSSARY "Clean path").
func (p *Path) Clean() bool { return p.nextAckID == p.nextBatchID }

// Pending reporta se o handshake ainda não foi concluído.
func (p *Path) Pending() bool { return p.state == Pending }

// OnAckOpen finaliza o handshake: promove pending -> open e concede o
// crédito inicial (spec §4.B ack_open, §4.D máquina de estados).
func (p *Path) OnAckOpen(ack streammsg.AckOpen) error {
	if p.state != Pending {
		return streamerr.ErrInvalidStreamState
	}
	if ack.RebindTo != nil {
		p.peer = ack.RebindTo
	}
	if ack.RebindFrom != 0 {
		p.slots.Receiver = ack.RebindFrom
	}
	p.openCredit = ack.InitialDemand
	p.desiredBatchSize = ack.DesiredBatchSize
	p.state = Open
	return nil
}

// EmitBatch atribui um batch id monotônico, debita crédito e envia o batch
// downstream (spec §4.D). O chamador é responsável por checar as
// precondições Pending()/OpenCredit()/DesiredBatchSize() antes, ou confiar
// no retorno de erro.
func (p *Path) EmitBatch(size int32, payload actorsys.Payload) (int64, error) {
	if p.Pending() || p.Terminated() {
		return 0, streamerr.ErrInvalidStreamState
	}
	if p.desiredBatchSize <= 0 {
		return 0, streamerr.ErrInvalidStreamState
	}
	if size > p.openCredit {
		return 0, streamerr.ErrInvalidStreamState
	}
	id := p.nextBatchID
	p.nextBatchID++
	p.openCredit -= size
	msg := streammsg.NewBatchMsg(p.slots, p.self, streammsg.Batch{Size: size, Payload: payload, ID: id})
	if p.mbox != nil && p.peer != nil {
		p.mbox.Send(p.peer, msg)
	}
	if p.metrics != nil {
		p.metrics.BatchEmitted(size)
	}
	return id, nil
}

// OnAckBatch aplica um ack acumulativo (spec §4.D). Um ack repetido com
// new_capacity=0 para um id já confirmado deixa o estado inalterado; um ack
// repetido com new_capacity > 0 ainda soma esse crédito.
func (p *Path) OnAckBatch(ack streammsg.AckBatch) {
	if ack.AcknowledgedID+1 <= p.nextAckID {
		// Ack já visto para um id igual ou menor: a semântica acumulativa não
		// tem nada a avançar, mas um regrant duplicado de "new_capacity=0" (o
		// caso idempotente documentado) ainda precisa ser um no-op, não um
		// crédito em dobro.
		if ack.NewCapacity == 0 {
			return
		}
	}
	p.openCredit += ack.NewCapacity
	p.desiredBatchSize = ack.DesiredBatchSize
	if ack.AcknowledgedID+1 > p.nextAckID {
		p.nextAckID = ack.AcknowledgedID + 1
		if p.metrics != nil {
			p.metrics.BatchAcked()
		}
	}
	p.maybeTerminate()
}

// RequestClose marca o path para desligamento gracioso: nenhum elemento novo
// é enfileirado, mas os batches já armazenados ainda são enviados, e close
// só é emitido quando o path ficar limpo (spec §4.D).
func (p *Path) RequestClose() {
	if p.state == Terminated {
		return
	}
	p.state = Closing
	p.maybeTerminate()
}

// ForceClose emite forced_close imediatamente e encerra o path, sobrepondo
// qualquer desligamento gracioso pendente (spec §3 invariante 5, §4.D).
func (p *Path) ForceClose(reason error) {
	if p.state == Terminated {
		return
	}
	if p.mbox != nil && p.peer != nil {
		p.mbox.Send(p.peer, streammsg.NewForcedCloseMsg(p.slots, p.self, reason))
	}
	p.state = Terminated
	if p.metrics != nil {
		p.metrics.ForcedClose()
	}
}

// Terminate emite close incondicionalmente e marca o path como terminado,
// ignorando o controle por Clean() que RequestClose/maybeTerminate
// normalmente impõem. É para remoção administrativa onde o manager dono já
// decidiu que o conteúdo restante em buffer nunca será enviado (spec §4.F
// remove_path sem motivo).
func (p *Path) Terminate() {
	if p.state == Terminated {
		return
	}
	if p.mbox != nil && p.peer != nil {
		p.mbox.Send(p.peer, streammsg.NewCloseMsg(p.slots, p.self))
	}
	p.state = Terminated
}

// maybeTerminate transiciona closing -> terminated e emite close assim que o
// path não tiver mais dados em buffer (Clean) a enviar. O chamador já deve
// ter drenado qualquer conteúdo de cache pendente antes de confiar nisto.
func (p *Path) maybeTerminate() {
	if p.state == Closing && p.Clean() {
		if p.mbox != nil && p.peer != nil {
			p.mbox.Send(p.peer, streammsg.NewCloseMsg(p.slots, p.self))
		}
		p.state = Terminated
	}
}
