// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package inbound implementa a máquina de estados do path inbound por source
// do spec §4.C: contabilidade de crédito, sequenciamento de batch, calibração
// e timing de ack, tudo acionado a partir da goroutine do próprio actor que
// possui o stream manager.
package inbound

import (
	"log/slog"
	"time"

	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/credit"
	"github.com/nishisan-dev/streamcore/internal/metrics"
	"github.com/nishisan-dev/streamcore/internal/slot"
	"github.com/nishisan-dev/streamcore/internal/streamerr"
	"github.com/nishisan-dev/streamcore/internal/streammsg"
)

// Manager é o subconjunto da API do stream manager dono que um path inbound
// precisa: entregar um batch recebido, e reportar fim-de-stream/erro.
type Manager interface {
	// Deliver repassa o payload de um batch recebido para o manager processar
	// (spec §4.C passo 4).
	Deliver(slots slot.Pair, payload actorsys.Payload)
	// EndOfStream reporta um close gracioso observado em slots.
	EndOfStream(slots slot.Pair)
	// Failed reporta um forced_close observado em slots, com seu motivo.
	Failed(slots slot.Pair, reason error)
}

// Path é o estado de um path inbound, possuído exclusivamente pelo stream
// manager que aceitou esse path.
type Path struct {
	mgr  Manager
	peer actorsys.Address // weak: o core não deve impedir a coleta do peer
	mbox actorsys.Mailbox
	self actorsys.Address

	slots slot.Pair

	desiredBatchSize     int32
	assignedCredit       int32
	maxCredit            int32
	calibrationCountdown int32

	lastBatchID      int64
	lastAckedBatchID int64
	lastAckTime      time.Time

	priority streammsg.Priority

	controller credit.Controller
	clock      actorsys.Clock

	maxBatchDelay time.Duration

	logger  *slog.Logger
	metrics *metrics.Collector
}

// Config agrupa as dependências de construção de um Path.
type Config struct {
	Manager       Manager
	Peer          actorsys.Address
	Mailbox       actorsys.Mailbox
	Self          actorsys.Address
	Slots         slot.Pair
	Controller    credit.Controller
	Clock         actorsys.Clock
	MaxBatchDelay time.Duration
	Priority      streammsg.Priority
	Logger        *slog.Logger
}

// New cria um path inbound e executa a calibração inicial do controller.
func New(cfg Config) *Path {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Path{
		mgr:           cfg.Manager,
		peer:          cfg.Peer,
		mbox:          cfg.Mailbox,
		self:          cfg.Self,
		slots:         cfg.Slots,
		controller:    cfg.Controller,
		clock:         cfg.Clock,
		maxBatchDelay: cfg.MaxBatchDelay,
		priority:      cfg.Priority,
		logger:        cfg.Logger,
	}
	cal := cfg.Controller.Init()
	p.maxCredit = cal.MaxCredit
	p.desiredBatchSize = cal.BatchSize
	p.calibrationCountdown = cal.NextCalibration
	if cfg.Clock != nil {
		p.lastAckTime = cfg.Clock.Now()
	}
	return p
}

// SetMetrics instala o Collector para o qual este path reporta. nil
// desativa o reporte, que é o comportamento padrão.
func (p *Path) SetMetrics(rec *metrics.Collector) { p.metrics = rec }

// Slots reporta o endereço (peer-sender, self-receiver) deste path.
func (p *Path) Slots() slot.Pair { return p.slots }

// AssignedCredit reporta o crédito atualmente pendente.
func (p *Path) AssignedCredit() int32 { return p.assignedCredit }

// MaxCredit reporta o teto de crédito atribuído pelo controller.
func (p *Path) MaxCredit() int32 { return p.maxCredit }

// DesiredBatchSize reporta o tamanho de batch atribuído pelo controller.
func (p *Path) DesiredBatchSize() int32 { return p.desiredBatchSize }

// LastBatchID reporta o último batch id observado.
func (p *Path) LastBatchID() int64 { return p.lastBatchID }

// LastAckedBatchID reporta o último batch id confirmado ao source.
func (p *Path) LastAckedBatchID() int64 { return p.lastAckedBatchID }

// Priority reporta a prioridade de agendamento informativa deste path.
func (p *Path) Priority() streammsg.Priority { return p.priority }

// OnBatch processa um batch recebido (spec §4.C).
func (p *Path) OnBatch(msg streammsg.BatchMsg) error {
	b := msg.Batch
	if b.ID != p.lastBatchID+1 {
		p.logger.Debug("dropping out-of-order batch",
			"slots", p.slots.String(),
			"got_id", b.ID,
			"expected_id", p.lastBatchID+1,
		)
		return streamerr.ErrUnexpectedMessage
	}

	p.lastBatchID = b.ID
	p.assignedCredit -= b.Size
	p.controller.BeforeProcessing(b)

	// Conta regressiva até a próxima calibração do controller de crédito.
	p.calibrationCountdown--
	if p.calibrationCountdown <= 0 {
		cal := p.controller.Calibrate()
		p.maxCredit = cal.MaxCredit
		p.desiredBatchSize = cal.BatchSize
		p.calibrationCountdown = cal.NextCalibration
		if p.metrics != nil {
			p.metrics.Calibration()
		}
	}

	p.mgr.Deliver(p.slots, b.Payload)

	lowWatermark := p.maxCredit / 2
	forcedAck := p.clock != nil && p.maxBatchDelay > 0 && p.clock.Now().Sub(p.lastAckTime) >= p.maxBatchDelay
	if p.assignedCredit <= lowWatermark || forcedAck {
		p.emitAck()
	}
	return nil
}

// OnClose processa um close gracioso observado neste path (spec §4.C).
func (p *Path) OnClose() {
	p.mgr.EndOfStream(p.slots)
}

// OnForcedClose processa um close abrupto observado neste path (spec §4.C).
func (p *Path) OnForcedClose(reason error) {
	p.mgr.Failed(p.slots, reason)
}

// ForcedDrop remove este path abruptamente por iniciativa do próprio manager,
// notificando o source peer com forced_drop(reason) (spec §4.I abort()
// "descarta todos os paths inbound restantes via forced_drop(reason)").
func (p *Path) ForcedDrop(reason error) {
	if p.mbox != nil && p.peer != nil {
		p.mbox.Send(p.peer, streammsg.NewForcedDropMsg(p.slots.Invert(), p.self, reason))
	}
	if p.metrics != nil {
		p.metrics.ForcedDrop()
	}
}

// UpToDate reporta se nenhum ack forçado é necessário no momento: o path já
// confirmou tudo que viu e nenhum timer de ack forçado disparou (spec §4.C
// "Tick/up_to_date").
func (p *Path) UpToDate() bool {
	if p.lastAckedBatchID != p.lastBatchID {
		return false
	}
	if p.clock == nil || p.maxBatchDelay <= 0 {
		return true
	}
	return p.clock.Now().Sub(p.lastAckTime) < p.maxBatchDelay
}

// Tick é chamado pelo ciclo de crédito do tick service; força a emissão de um
// ack se o path não estiver up to date, para que o source consiga progredir
// mesmo sob tráfego muito baixo (spec §4.C, §4.L).
func (p *Path) Tick() {
	if !p.UpToDate() {
		p.emitAck()
	}
}

func (p *Path) emitAck() {
	newCapacity := p.maxCredit - p.assignedCredit
	if newCapacity < 0 {
		newCapacity = 0
	}
	p.assignedCredit += newCapacity
	p.lastAckedBatchID = p.lastBatchID
	if p.clock != nil {
		p.lastAckTime = p.clock.Now()
	}
	ack := streammsg.NewAckBatchMsg(p.slots.Invert(), p.self, streammsg.AckBatch{
		NewCapacity:      newCapacity,
		DesiredBatchSize: p.desiredBatchSize,
		AcknowledgedID:   p.lastBatchID,
	})
	if p.mbox != nil && p.peer != nil {
		p.mbox.Send(p.peer, ack)
	}
}
