// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package fused implementa o fused downstream manager do spec §4.H: ele
// multiplexa várias instâncias tipadas de downstream.Manager atrás de uma
// única interface downstream.Manager não genérica, roteando por slot. Isso
// permite que um source com múltiplas saídas (ex.: um stage que repassa
// dois tipos de elemento distintos) apresente um único downstream manager
// polimórfico para seu stream manager.
package fused

import (
	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/downstream"
	"github.com/nishisan-dev/streamcore/internal/metrics"
	"github.com/nishisan-dev/streamcore/internal/outbound"
	"github.com/nishisan-dev/streamcore/internal/slot"
)

// Manager roteia operações para uma entre várias instâncias de
// downstream.Manager que possui, por slot. Paths cujo tipo de elemento
// ainda não é conhecido no momento de adicioná-los ficam registrados numa
// tabela de não atribuídos; Assign move um path pendente para o manager que
// lida com seu tipo.
//
// Manager em si satisfaz downstream.Manager para que possa ocupar qualquer
// lugar onde um único downstream manager é esperado.
type Manager struct {
	self actorsys.Address
	mbox actorsys.Mailbox

	owners     map[slot.ID]downstream.Manager
	unassigned map[slot.ID]actorsys.Address

	terminal bool
	metrics  *metrics.Collector
}

// New cria um fused manager vazio.
func New(self actorsys.Address, mbox actorsys.Mailbox) *Manager {
	return &Manager{
		self:       self,
		mbox:       mbox,
		owners:     make(map[slot.ID]downstream.Manager),
		unassigned: make(map[slot.ID]actorsys.Address),
	}
}

// SetMetrics instala o Collector para o qual todo manager já atribuído
// reporta, e o mantém para repassar a cada futuro Assign. nil desativa o
// reporte.
func (m *Manager) SetMetrics(rec *metrics.Collector) {
	m.metrics = rec
	for _, owner := range distinctOwners(m.owners) {
		owner.SetMetrics(rec)
	}
}

// AddPath aloca um path pendente para s com tipo de elemento desconhecido,
// estacionando-o na tabela de não atribuídos até Assign reivindicá-lo.
// Nunca retorna um *outbound.Path próprio — chamadores que precisam de um
// passam pelo manager concreto ao qual Assign entregar o slot.
func (m *Manager) AddPath(s slot.ID, peer actorsys.Address) (*outbound.Path, bool) {
	if _, exists := m.owners[s]; exists {
		return nil, false
	}
	if _, exists := m.unassigned[s]; exists {
		return nil, false
	}
	m.unassigned[s] = peer
	return nil, true
}

// Assign move um path pendente de s da tabela de não atribuídos para owner,
// que cria o *outbound.Path concreto para ele, já reportando para o mesmo
// Collector deste fused manager. Retorna ErrUnassigned se s não estiver
// pendente de atribuição.
func Assign[T any](m *Manager, s slot.ID, owner *downstream.BroadcastManager[T]) (*outbound.Path, error) {
	peer, ok := m.unassigned[s]
	if !ok {
		return nil, ErrUnassigned
	}
	owner.SetMetrics(m.metrics)
	p, ok := owner.AddPath(s, peer)
	if !ok {
		return nil, ErrUnassigned
	}
	delete(m.unassigned, s)
	m.owners[s] = owner
	return p, nil
}

// Path procura o path outbound de s em todo manager possuído.
func (m *Manager) Path(s slot.ID) (*outbound.Path, bool) {
	owner, ok := m.owners[s]
	if !ok {
		return nil, false
	}
	return owner.Path(s)
}

// RemovePath delega a remoção ao manager dono, ou descarta diretamente um
// slot não atribuído.
func (m *Manager) RemovePath(s slot.ID, reason error, silent bool) bool {
	if owner, ok := m.owners[s]; ok {
		ok := owner.RemovePath(s, reason, silent)
		if ok {
			delete(m.owners, s)
		}
		return ok
	}
	if _, ok := m.unassigned[s]; ok {
		delete(m.unassigned, s)
		return true
	}
	return false
}

// PathSlots lista o slot de todo path em todo manager possuído, incluindo
// os não atribuídos.
func (m *Manager) PathSlots() []slot.ID {
	out := make([]slot.ID, 0, len(m.owners)+len(m.unassigned))
	for _, owner := range distinctOwners(m.owners) {
		out = append(out, owner.PathSlots()...)
	}
	for s := range m.unassigned {
		out = append(out, s)
	}
	return out
}

// OpenPathSlots lista o slot de todo path não em fechamento em todo manager
// possuído.
func (m *Manager) OpenPathSlots() []slot.ID {
	var out []slot.ID
	for _, owner := range distinctOwners(m.owners) {
		out = append(out, owner.OpenPathSlots()...)
	}
	return out
}

// EmitBatches propaga para todo manager possuído.
func (m *Manager) EmitBatches() {
	for _, owner := range distinctOwners(m.owners) {
		owner.EmitBatches()
	}
}

// ForceEmitBatches propaga para todo manager possuído.
func (m *Manager) ForceEmitBatches() {
	for _, owner := range distinctOwners(m.owners) {
		owner.ForceEmitBatches()
	}
}

// Buffered soma Buffered() entre todo manager possuído.
func (m *Manager) Buffered() int {
	total := 0
	for _, owner := range distinctOwners(m.owners) {
		total += owner.Buffered()
	}
	return total
}

// BufferedFor delega ao manager dono de s.
func (m *Manager) BufferedFor(s slot.ID) int {
	owner, ok := m.owners[s]
	if !ok {
		return 0
	}
	return owner.BufferedFor(s)
}

// MaxCapacity reporta o mínimo MaxCapacity() entre todo manager possuído,
// para que o controller do lado source veja o limite mais apertado do
// fan-out.
func (m *Manager) MaxCapacity() int32 {
	var min int32 = -1
	for _, owner := range distinctOwners(m.owners) {
		c := owner.MaxCapacity()
		if min < 0 || c < min {
			min = c
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// MinCredit reporta o mínimo MinCredit() entre todo manager possuído.
func (m *Manager) MinCredit() int32 {
	var min int32 = -1
	for _, owner := range distinctOwners(m.owners) {
		c := owner.MinCredit()
		if min < 0 || c < min {
			min = c
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// MaxCredit reporta o máximo MaxCredit() entre todo manager possuído.
func (m *Manager) MaxCredit() int32 {
	var max int32
	for _, owner := range distinctOwners(m.owners) {
		if c := owner.MaxCredit(); c > max {
			max = c
		}
	}
	return max
}

// TotalCredit soma TotalCredit() entre todo manager possuído.
func (m *Manager) TotalCredit() int32 {
	var total int32
	for _, owner := range distinctOwners(m.owners) {
		total += owner.TotalCredit()
	}
	return total
}

// Capacity reporta o mínimo Capacity() entre todo manager possuído.
func (m *Manager) Capacity() int32 {
	var min int32 = -1
	for _, owner := range distinctOwners(m.owners) {
		c := owner.Capacity()
		if min < 0 || c < min {
			min = c
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// Stalled reporta se algum manager possuído está stalled.
func (m *Manager) Stalled() bool {
	for _, owner := range distinctOwners(m.owners) {
		if owner.Stalled() {
			return true
		}
	}
	return false
}

// Clean reporta se todo manager possuído está limpo.
func (m *Manager) Clean() bool {
	for _, owner := range distinctOwners(m.owners) {
		if !owner.Clean() {
			return false
		}
	}
	return true
}

// CleanSlot delega ao manager dono de s.
func (m *Manager) CleanSlot(s slot.ID) bool {
	owner, ok := m.owners[s]
	if !ok {
		return true
	}
	return owner.CleanSlot(s)
}

// Terminal reporta se este fused manager em si foi abortado.
func (m *Manager) Terminal() bool { return m.terminal }

// Close marca os paths de todo manager possuído como em fechamento.
func (m *Manager) Close() {
	for _, owner := range distinctOwners(m.owners) {
		owner.Close()
	}
}

// CloseSlot delega ao manager dono de s.
func (m *Manager) CloseSlot(s slot.ID) {
	if owner, ok := m.owners[s]; ok {
		owner.CloseSlot(s)
	}
}

// Abort força todo manager possuído a fechar com reason e marca este fused
// manager como terminal (spec §4.F, §4.H "clear_paths").
func (m *Manager) Abort(reason error) {
	for _, owner := range distinctOwners(m.owners) {
		owner.Abort(reason)
	}
	m.owners = make(map[slot.ID]downstream.Manager)
	m.unassigned = make(map[slot.ID]actorsys.Address)
	m.terminal = true
}

// ErrUnassigned é retornado por Assign quando o slot indicado não está
// pendente de atribuição: ou já foi atribuído a um manager concreto, ou
// nunca passou por AddPath, ou o manager concreto rejeitou o path.
var ErrUnassigned = errUnassigned{}

type errUnassigned struct{}

func (errUnassigned) Error() string { return "fused: slot not pending assignment" }

// distinctOwners retorna cada manager possuído uma única vez, mesmo que
// vários slots apontem para a mesma instância de manager.
func distinctOwners(owners map[slot.ID]downstream.Manager) []downstream.Manager {
	seen := make(map[downstream.Manager]struct{}, len(owners))
	out := make([]downstream.Manager, 0, len(owners))
	for _, owner := range owners {
		if _, ok := seen[owner]; ok {
			continue
		}
		seen[owner] = struct{}{}
		out = append(out, owner)
	}
	return out
}
