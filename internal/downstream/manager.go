// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package downstream implementa o contrato do downstream manager do spec
// §4.F e sua implementação concreta de broadcast do spec §4.G: posse dos
// paths outbound, bufferização dos elementos empurrados num buffer central,
// fatiamento para caches por path sob crédito, e emissão de batches.
package downstream

import (
	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/metrics"
	"github.com/nishisan-dev/streamcore/internal/outbound"
	"github.com/nishisan-dev/streamcore/internal/slot"
	"github.com/nishisan-dev/streamcore/internal/streamerr"
)

// Manager é o contrato abstrato que todo downstream manager implementa
// (spec §4.F). Não é genérico sobre o tipo de elemento de propósito: assim
// um stream manager consegue guardá-lo como um único campo polimórfico;
// implementações concretas fecham sobre seu próprio tipo de elemento.
type Manager interface {
	// AddPath cria um path outbound pendente para s endereçado a peer.
	// Retorna nil, false se s já estiver em uso.
	AddPath(s slot.ID, peer actorsys.Address) (*outbound.Path, bool)
	// Path procura o path outbound de s.
	Path(s slot.ID) (*outbound.Path, bool)
	// RemovePath remove o path de slot. Se não for silencioso, emite close
	// ou forced_close conforme apropriado. Retorna false se não existir tal path.
	RemovePath(s slot.ID, reason error, silent bool) bool
	// PathSlots lista o slot de todo path outbound, aberto ou em fechamento.
	PathSlots() []slot.ID
	// OpenPathSlots lista o slot de todo path outbound não em fechamento.
	OpenPathSlots() []slot.ID
	// EmitBatches envia oportunisticamente batches completos em paths não em
	// fechamento, e batches parciais nos que estão fechando.
	EmitBatches()
	// ForceEmitBatches envia qualquer conteúdo ainda em buffer mesmo abaixo
	// do tamanho de batch desejado, em todo path.
	ForceEmitBatches()
	// Buffered reporta a contagem total de elementos no buffer central mais
	// todo cache por path.
	Buffered() int
	// BufferedFor reporta a contagem de elementos em cache para um único path.
	BufferedFor(s slot.ID) int
	// MaxCapacity reporta o teto que o credit controller size-based deve
	// usar para orçar o crescimento do buffer: o mínimo open_credit entre
	// todos os paths não em fechamento (spec §4.G).
	MaxCapacity() int32
	// MinCredit reporta o mínimo open_credit entre todos os paths não em
	// fechamento, ou 0 se não houver nenhum.
	MinCredit() int32
	// MaxCredit reporta o máximo open_credit entre todos os paths não em
	// fechamento.
	MaxCredit() int32
	// TotalCredit reporta a soma de open_credit entre todos os paths não em
	// fechamento.
	TotalCredit() int32
	// Capacity reporta quantos elementos a mais podem ser aceitos agora sem
	// exceder o crédito de nenhum path não em fechamento.
	Capacity() int32
	// Stalled reporta se Capacity() == 0 e existe ao menos um path não em
	// fechamento — o source não deve gerar mais dados.
	Stalled() bool
	// Clean reporta se todo path está limpo (spec GLOSSARY).
	Clean() bool
	// CleanSlot reporta se um path específico está limpo.
	CleanSlot(s slot.ID) bool
	// Terminal reporta se o manager não pode mais aceitar pushes.
	Terminal() bool
	// Close marca todo path como em fechamento.
	Close()
	// CloseSlot marca um único path como em fechamento.
	CloseSlot(s slot.ID)
	// Abort força todo path a fechar com reason e limpa todo o estado.
	Abort(reason error)
	// SetMetrics instala o Collector para o qual este manager e os paths
	// outbound que ele cria reportam. nil desativa o reporte.
	SetMetrics(rec *metrics.Collector)
}

// Selector decide se um elemento deve ser roteado para um dado path. O
// padrão, SelectAll, roteia todo elemento para todo path não em fechamento.
type Selector[T any] func(elem T) bool

// SelectAll é o Selector padrão: todo elemento vai para todo path não em
// fechamento.
func SelectAll[T any](T) bool { return true }

// ErrTerminal é retornado por Push quando o manager não pode mais aceitar
// elementos (spec §4.F).
var ErrTerminal = streamerr.ErrInvalidStreamState

// payloadOf envolve um slice de elementos como o actorsys.Payload opaco que
// uma mensagem de batch carrega.
func payloadOf[T any](elems []T) actorsys.Payload {
	return actorsys.NewTypedPayload(elems)
}
