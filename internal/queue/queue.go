// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package queue implementa a disciplina de fila weighted deficit round
// robin (WDRR) do spec §4.J: a mailbox de um sink mantém uma sub-fila FIFO
// por slot inbound, drenada de forma justa em proporção ao tamanho de
// batch desejado de cada sub-fila, e uma sub-fila congestionada é pulada
// sem travar o resto da mailbox.
package queue

import (
	"github.com/nishisan-dev/streamcore/internal/slot"
)

// Sized é tudo que uma sub-fila pode conter e cobrar um tamanho de tarefa.
// Mensagens de controle comuns têm tamanho 1; mensagens de batch cobram sua
// contagem de elementos (spec §4.J "task_size(batch) = batch.size").
type Sized interface {
	TaskSize() int32
}

// subQueue é a FIFO de mensagens pendentes de um slot mais seu contador de
// déficit WDRR.
type subQueue struct {
	slot    slot.ID
	pending []Sized
	deficit int32
}

func (q *subQueue) totalTaskSize() int32 {
	var total int32
	for _, m := range q.pending {
		total += m.TaskSize()
	}
	return total
}

// CongestionFunc reporta se o stream manager dono de um slot está
// congestionado e deve ser pulado nesta rodada (spec §4.J "enabled").
type CongestionFunc func(s slot.ID) bool

// DesiredBatchSizeFunc reporta o tamanho de batch desejado atual de um
// slot, usado para computar seu quantum WDRR (spec §4.J "quantum(q, base) =
// base × q.desired_batch_size").
type DesiredBatchSizeFunc func(s slot.ID) int32

// Discipline é o multiplexador WDRR por mailbox sobre uma sub-fila por slot
// inbound (spec §4.J, §9 "downstream-messages category").
type Discipline struct {
	order     []slot.ID
	subQueues map[slot.ID]*subQueue

	base            int32
	congested       CongestionFunc
	desiredBatchSize DesiredBatchSizeFunc

	// next é o cursor round-robin em order, persistido entre chamadas de
	// Drain para que um slot que esgote seu déficit retome de onde parou.
	next int
}

// New cria uma disciplina vazia. base escala o quantum de todo slot; uma
// func congested/desiredBatchSize nil sempre reporta enabled/1.
func New(base int32, congested CongestionFunc, desiredBatchSize DesiredBatchSizeFunc) *Discipline {
	if base <= 0 {
		base = 1
	}
	if congested == nil {
		congested = func(slot.ID) bool { return false }
	}
	if desiredBatchSize == nil {
		desiredBatchSize = func(slot.ID) int32 { return 1 }
	}
	return &Discipline{
		subQueues:        make(map[slot.ID]*subQueue),
		base:             base,
		congested:        congested,
		desiredBatchSize: desiredBatchSize,
	}
}

// Enqueue adiciona msg à sub-fila de s, criando-a se for a primeira
// mensagem vista para s. A ordem FIFO por slot é preservada (spec §4.J).
func (d *Discipline) Enqueue(s slot.ID, msg Sized) {
	q, ok := d.subQueues[s]
	if !ok {
		q = &subQueue{slot: s}
		d.subQueues[s] = q
		d.order = append(d.order, s)
	}
	q.pending = append(q.pending, msg)
}

// RemoveSlot descarta uma sub-fila inteira, ex.: assim que seu path inbound
// observa close/forced_close.
func (d *Discipline) RemoveSlot(s slot.ID) {
	if _, ok := d.subQueues[s]; !ok {
		return
	}
	delete(d.subQueues, s)
	for i, candidate := range d.order {
		if candidate == s {
			d.order = append(d.order[:i], d.order[i+1:]...)
			if d.next > i {
				d.next--
			}
			break
		}
	}
	if d.next >= len(d.order) {
		d.next = 0
	}
}

// Len reporta quantas mensagens estão enfileiradas para s.
func (d *Discipline) Len(s slot.ID) int {
	q, ok := d.subQueues[s]
	if !ok {
		return 0
	}
	return len(q.pending)
}

// Drain roda uma rodada WDRR: visita sub-filas habilitadas em ordem
// round-robin, concede a cada uma um orçamento de déficit do tamanho do
// quantum, e retira mensagens enquanto o orçamento (mais qualquer déficit
// carregado) cobrir seu task size. Sub-filas congestionadas são puladas
// sem perder sua posição ou déficit acumulado. handle é chamado uma vez por
// mensagem retirada, na ordem por slot em que foi enfileirada.
func (d *Discipline) Drain(handle func(s slot.ID, msg Sized)) {
	n := len(d.order)
	if n == 0 {
		return
	}
	visited := 0
	for visited < n {
		if d.next >= len(d.order) {
			d.next = 0
			if len(d.order) == 0 {
				return
			}
		}
		s := d.order[d.next]
		q := d.subQueues[s]
		visited++
		d.next++

		if d.congested(s) {
			continue
		}
		q.deficit += d.base * d.desiredBatchSize(s)
		for len(q.pending) > 0 {
			head := q.pending[0]
			size := head.TaskSize()
			if size <= 0 {
				size = 1
			}
			if size > q.deficit {
				break
			}
			q.deficit -= size
			q.pending = q.pending[1:]
			handle(s, head)
		}
	}
}
