// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tick implementa a integração periódica credit/force-batch do
// spec §4.L: um único emissor no mdc dos comprimentos de ciclo de crédito
// e force-batch, contando ticks para decidir qual das duas atividades
// roda.
package tick

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrIntervalMismatch é retornado por New quando o ciclo force-batch não
// divide exatamente o ciclo de crédito, violando o spec §4.L.
var ErrIntervalMismatch = errors.New("tick: force-batch interval must divide the credit interval")

// Creditor é tudo que é acionado pelo ciclo de crédito: a checagem de ack
// forçado de um path inbound (spec §4.C "Tick/up_to_date").
type Creditor interface {
	Tick()
}

// ForceEmitter é tudo que é acionado pelo ciclo force-batch: o
// force_emit_batches de um downstream manager (spec §4.F).
type ForceEmitter interface {
	ForceEmitBatches()
}

// Service é o emissor de tick do spec §4.L. É acionado externamente por uma
// chamada a Tick() a cada Interval() decorrido, ex.: a partir de um
// time.Ticker ou do próprio self-send atrasado de um actor.
type Service struct {
	interval time.Duration

	creditEvery uint64
	forceEvery  uint64
	ticks       uint64

	creditors     []Creditor
	forceEmitters []ForceEmitter

	logger *slog.Logger
}

// New constrói um tick service em gcd(creditInterval, forceInterval). Pelo
// spec §4.L o ciclo force-batch precisa dividir o ciclo de crédito; New
// impõe isso explicitamente já que um par que não divide dessincronizaria
// silenciosamente as duas cadências em relação aos defaults documentados
// (100ms / 50ms).
func New(creditInterval, forceInterval time.Duration, logger *slog.Logger) (*Service, error) {
	if creditInterval <= 0 || forceInterval <= 0 {
		return nil, errors.New("tick: intervals must be positive")
	}
	if creditInterval%forceInterval != 0 {
		return nil, ErrIntervalMismatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := gcd(int64(creditInterval), int64(forceInterval))
	interval := time.Duration(g)
	return &Service{
		interval:    interval,
		creditEvery: uint64(creditInterval / interval),
		forceEvery:  uint64(forceInterval / interval),
		logger:      logger,
	}, nil
}

// Interval reporta o período de tick do emissor.
func (s *Service) Interval() time.Duration { return s.interval }

// AddCreditor registra c para rodar a cada ciclo de crédito.
func (s *Service) AddCreditor(c Creditor) {
	s.creditors = append(s.creditors, c)
}

// AddForceEmitter registra f para rodar a cada ciclo force-batch.
func (s *Service) AddForceEmitter(f ForceEmitter) {
	s.forceEmitters = append(s.forceEmitters, f)
}

// Tick avança o emissor por um intervalo, rodando o ciclo de crédito e/ou
// o ciclo force-batch se este tick cair na cadência deles.
func (s *Service) Tick() {
	s.ticks++
	if s.ticks%s.creditEvery == 0 {
		for _, c := range s.creditors {
			c.Tick()
		}
	}
	if s.ticks%s.forceEvery == 0 {
		for _, f := range s.forceEmitters {
			f.ForceEmitBatches()
		}
	}
}

// Run bloqueia, chamando Tick uma vez por Interval(), até ctx ser
// cancelado. É o ponto de entrada de produção; os testes acionam Tick
// diretamente.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("tick service started",
		"interval", s.interval,
		"credit_every", s.creditEvery,
		"force_every", s.forceEvery,
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("tick service stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
