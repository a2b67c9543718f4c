// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package downstream

import (
	"log/slog"

	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/metrics"
	"github.com/nishisan-dev/streamcore/internal/outbound"
	"github.com/nishisan-dev/streamcore/internal/slot"
)

// pathState agrupa um path outbound com o cache por path que o
// BroadcastManager fatia a partir do conteúdo do buffer central, e o
// selector que decide se um elemento é roteado para este path (spec §4.G).
type pathState[T any] struct {
	out      *outbound.Path
	cache    []T
	selector Selector[T]
	// closing marca um path para remoção graciosa no nível do downstream
	// manager. É rastreado separadamente de out.Closing(): o path outbound
	// em si só conhece batches já emitidos e ainda não confirmados, então
	// chamar out.RequestClose() antes do cache drenar deixaria ele observar
	// Clean()==true e terminar imediatamente, descartando conteúdo em buffer.
	// RequestClose é adiado até cleanupClosingPaths ver um cache vazio.
	closing bool
}

// BroadcastManager é o downstream manager concreto do spec §4.G: todo
// elemento empurrado é, sujeito ao Selector de cada path, eventualmente
// enviado para todo path não em fechamento exatamente uma vez. É genérico
// sobre o tipo de elemento que bufferiza; satisfaz a interface Manager não
// genérica para que um stream manager possa guardá-lo polimorficamente.
type BroadcastManager[T any] struct {
	self actorsys.Address
	mbox actorsys.Mailbox

	central []T
	paths   map[slot.ID]*pathState[T]

	terminal bool

	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewBroadcastManager cria um broadcast manager vazio.
func NewBroadcastManager[T any](self actorsys.Address, mbox actorsys.Mailbox, logger *slog.Logger) *BroadcastManager[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &BroadcastManager[T]{
		self:   self,
		mbox:   mbox,
		paths:  make(map[slot.ID]*pathState[T]),
		logger: logger,
	}
}

// SetMetrics instala o Collector para o qual este manager e todo path
// outbound que ele criar reportam. Paths já existentes recebem o novo
// Collector também; nil desativa o reporte.
func (m *BroadcastManager[T]) SetMetrics(rec *metrics.Collector) {
	m.metrics = rec
	for _, ps := range m.paths {
		ps.out.SetMetrics(rec)
	}
}

// AddPath cria um path outbound pendente para s com o selector padrão (todo
// elemento roteado). Use AddPathSelecting para instalar um customizado.
func (m *BroadcastManager[T]) AddPath(s slot.ID, peer actorsys.Address) (*outbound.Path, bool) {
	return m.AddPathSelecting(s, peer, SelectAll[T])
}

// AddPathSelecting cria um path outbound pendente para s cujo fan-out é
// filtrado por selector.
func (m *BroadcastManager[T]) AddPathSelecting(s slot.ID, peer actorsys.Address, selector Selector[T]) (*outbound.Path, bool) {
	if _, exists := m.paths[s]; exists {
		return nil, false
	}
	if selector == nil {
		selector = SelectAll[T]
	}
	p := outbound.New(m.self, m.mbox, slot.Pair{Sender: 0, Receiver: s}, peer)
	p.SetMetrics(m.metrics)
	m.paths[s] = &pathState[T]{out: p, selector: selector}
	if m.metrics != nil {
		m.metrics.PathOpened()
	}
	return p, true
}

// Path procura o path outbound de s.
func (m *BroadcastManager[T]) Path(s slot.ID) (*outbound.Path, bool) {
	ps, ok := m.paths[s]
	if !ok {
		return nil, false
	}
	return ps.out, true
}

// RemovePath remove o path de s. Se silent, o path é descartado do manager
// sem emitir mais nada (presume-se que o peer já sabe, ex. ao receber um
// close que ele mesmo enviou). Caso contrário, um reason aciona ForceClose,
// e a ausência de reason aciona um Terminate incondicional.
func (m *BroadcastManager[T]) RemovePath(s slot.ID, reason error, silent bool) bool {
	ps, ok := m.paths[s]
	if !ok {
		return false
	}
	if !silent {
		if reason != nil {
			ps.out.ForceClose(reason)
		} else {
			ps.out.Terminate()
		}
	}
	delete(m.paths, s)
	if m.metrics != nil {
		m.metrics.PathClosed()
	}
	return true
}

// PathSlots lista o slot de todo path, aberto ou em fechamento.
func (m *BroadcastManager[T]) PathSlots() []slot.ID {
	out := make([]slot.ID, 0, len(m.paths))
	for s := range m.paths {
		out = append(out, s)
	}
	return out
}

// OpenPathSlots lista o slot de todo path não em fechamento.
func (m *BroadcastManager[T]) OpenPathSlots() []slot.ID {
	out := make([]slot.ID, 0, len(m.paths))
	for s, ps := range m.paths {
		if !ps.closing {
			out = append(out, s)
		}
	}
	return out
}

// Push anexa elems ao buffer central para distribuição posterior. Retorna
// ErrTerminal assim que o manager tiver sido abortado.
func (m *BroadcastManager[T]) Push(elems ...T) error {
	if m.terminal {
		return ErrTerminal
	}
	m.central = append(m.central, elems...)
	return nil
}

// EmitBatches executa o ciclo completo de broadcast: distribui o conteúdo do
// buffer central para os caches por path sob crédito, envia o que já for um
// batch completo, e limpa paths que terminaram um fechamento gracioso.
func (m *BroadcastManager[T]) EmitBatches() {
	m.distribute()
	m.drainPaths(false)
	m.cleanupClosingPaths()
}

// ForceEmitBatches adicionalmente envia batches parciais em todo path, não
// só nos que estão fechando (spec §4.G ciclo force_batch).
func (m *BroadcastManager[T]) ForceEmitBatches() {
	m.distribute()
	m.drainPaths(true)
	m.cleanupClosingPaths()
}

// distribute fatia o quanto do buffer central o crédito restante de cada
// path não em fechamento permitir para o cache daquele path, filtrado pelo
// seu selector (spec §4.G passo 1-2).
func (m *BroadcastManager[T]) distribute() {
	if len(m.central) == 0 {
		return
	}
	chunk := m.Capacity()
	if chunk <= 0 {
		return
	}
	if int(chunk) > len(m.central) {
		chunk = int32(len(m.central))
	}
	take := m.central[:chunk]
	for _, ps := range m.paths {
		if ps.closing {
			continue
		}
		for _, elem := range take {
			if ps.selector(elem) {
				ps.cache = append(ps.cache, elem)
			}
		}
	}
	m.central = append([]T(nil), m.central[chunk:]...)
}

// drainPaths envia batches completos em todo path, e parciais nos paths que
// estão fechando ou quando force estiver ligado (spec §4.G passo 3).
func (m *BroadcastManager[T]) drainPaths(force bool) {
	for _, ps := range m.paths {
		for len(ps.cache) > 0 {
			size := ps.out.DesiredBatchSize()
			if size <= 0 {
				break
			}
			full := int32(len(ps.cache)) >= size
			if !full && !(force || ps.closing) {
				break
			}
			batchSize := size
			if int32(len(ps.cache)) < batchSize {
				batchSize = int32(len(ps.cache))
			}
			batch := ps.cache[:batchSize]
			payload := payloadOf(batch)
			if _, err := ps.out.EmitBatch(batchSize, payload); err != nil {
				m.logger.Debug("emit_batch rejected, leaving cache intact", "err", err)
				break
			}
			ps.cache = append([]T(nil), ps.cache[batchSize:]...)
		}
	}
}

// cleanupClosingPaths finaliza paths que estão fechando, drenados e limpos:
// só agora o path outbound em si é instruído a fechar, já que só agora
// out.Clean() é uma afirmação verdadeira sobre o path inteiro, e não só
// sobre seus batches já emitidos (spec §4.G passo 4, GLOSSARY "Clean path").
func (m *BroadcastManager[T]) cleanupClosingPaths() {
	for s, ps := range m.paths {
		if ps.closing && len(ps.cache) == 0 && ps.out.Clean() {
			ps.out.RequestClose()
			if ps.out.Terminated() {
				delete(m.paths, s)
				if m.metrics != nil {
					m.metrics.PathClosed()
				}
			}
		}
	}
}

// Buffered reporta a contagem total de elementos no buffer central mais
// todo cache por path.
func (m *BroadcastManager[T]) Buffered() int {
	total := len(m.central)
	for _, ps := range m.paths {
		total += len(ps.cache)
	}
	return total
}

// BufferedFor reporta a contagem de elementos em cache para um único path.
func (m *BroadcastManager[T]) BufferedFor(s slot.ID) int {
	ps, ok := m.paths[s]
	if !ok {
		return 0
	}
	return len(ps.cache)
}

// Capacity reporta quantos elementos a mais podem ser aceitos agora sem
// exceder o crédito de nenhum path não em fechamento: o mínimo de
// open_credit-len(cache) entre os paths não em fechamento, limitado a >= 0.
// Sem nenhum path não em fechamento, a capacidade é 0 — nada pode ser
// bufferizado com segurança.
func (m *BroadcastManager[T]) Capacity() int32 {
	var min int32 = -1
	for _, ps := range m.paths {
		if ps.closing {
			continue
		}
		room := ps.out.OpenCredit() - int32(len(ps.cache))
		if room < 0 {
			room = 0
		}
		if min < 0 || room < min {
			min = room
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// MaxCapacity reporta o teto que o credit controller size-based deve usar
// para orçar o crescimento do buffer. Resolvido como um alias de MinCredit:
// o "mínimo de max_credit entre os paths" do spec §4.G não tem um campo
// max_credit do lado outbound para ler, então a grandeza disponível mais
// próxima — o mínimo open_credit atual — serve em seu lugar (ver DESIGN.md).
func (m *BroadcastManager[T]) MaxCapacity() int32 {
	return m.MinCredit()
}

// MinCredit reporta o mínimo open_credit entre todos os paths não em
// fechamento, ou 0 se não houver nenhum.
func (m *BroadcastManager[T]) MinCredit() int32 {
	var min int32 = -1
	for _, ps := range m.paths {
		if ps.closing {
			continue
		}
		c := ps.out.OpenCredit()
		if min < 0 || c < min {
			min = c
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// MaxCredit reporta o máximo open_credit entre todos os paths não em
// fechamento.
func (m *BroadcastManager[T]) MaxCredit() int32 {
	var max int32
	for _, ps := range m.paths {
		if ps.closing {
			continue
		}
		if c := ps.out.OpenCredit(); c > max {
			max = c
		}
	}
	return max
}

// TotalCredit reporta a soma de open_credit entre todos os paths não em
// fechamento.
func (m *BroadcastManager[T]) TotalCredit() int32 {
	var total int32
	for _, ps := range m.paths {
		if ps.closing {
			continue
		}
		total += ps.out.OpenCredit()
	}
	return total
}

// Stalled reporta se Capacity() == 0 enquanto existe ao menos um path não em
// fechamento — o source deve parar de gerar dados (spec §4.G).
func (m *BroadcastManager[T]) Stalled() bool {
	if len(m.OpenPathSlots()) == 0 {
		return false
	}
	return m.Capacity() == 0
}

// Clean reporta se todo path está limpo (spec GLOSSARY "Clean path").
func (m *BroadcastManager[T]) Clean() bool {
	for _, ps := range m.paths {
		if !ps.out.Clean() || len(ps.cache) != 0 {
			return false
		}
	}
	return len(m.central) == 0
}

// CleanSlot reporta se um path específico está limpo.
func (m *BroadcastManager[T]) CleanSlot(s slot.ID) bool {
	ps, ok := m.paths[s]
	if !ok {
		return true
	}
	return ps.out.Clean() && len(ps.cache) == 0
}

// Terminal reporta se o manager não pode mais aceitar pushes.
func (m *BroadcastManager[T]) Terminal() bool {
	return m.terminal
}

// Close marca todo path como em fechamento: nenhum conteúdo novo do buffer
// central é roteado para ele, mas o conteúdo já em cache ainda drena antes
// do path outbound em si ser instruído a fechar (ver cleanupClosingPaths).
func (m *BroadcastManager[T]) Close() {
	for _, ps := range m.paths {
		ps.closing = true
	}
}

// CloseSlot marca um único path como em fechamento.
func (m *BroadcastManager[T]) CloseSlot(s slot.ID) {
	if ps, ok := m.paths[s]; ok {
		ps.closing = true
	}
}

// Abort força todo path a fechar com reason, limpa todo estado em buffer, e
// marca o manager como terminal para que nenhum Push adicional tenha
// sucesso (spec §4.F).
func (m *BroadcastManager[T]) Abort(reason error) {
	for _, ps := range m.paths {
		ps.out.ForceClose(reason)
		if m.metrics != nil {
			m.metrics.PathClosed()
		}
	}
	m.paths = make(map[slot.ID]*pathState[T])
	m.central = nil
	m.terminal = true
}
