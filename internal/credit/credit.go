// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package credit implementa a estratégia plugável de credit controller do
// spec §4.E: um objeto por path inbound que transforma a vazão de batch
// observada em calibrações de crédito periódicas.
package credit

import "github.com/nishisan-dev/streamcore/internal/streammsg"

// Calibration é o resultado de Init/Calibrate: um novo teto de crédito, um
// tamanho de batch alvo, e quantos batches esperar antes da próxima
// calibração.
type Calibration struct {
	// MaxCredit é o novo teto de crédito, >= BatchSize. Zero estagna o sink
	// temporariamente: nenhuma capacidade nova é concedida até a próxima
	// calibração elevá-lo.
	MaxCredit int32
	// BatchSize é o novo tamanho de batch desejado, >= 1, monotônico ao
	// longo da vida do controller na estratégia size-based.
	BatchSize int32
	// NextCalibration é o número de batches até Calibrate ser chamado de
	// novo, >= 1.
	NextCalibration int32
}

// Controller é a interface de estratégia que o path inbound de um sink
// aciona: chamada uma vez via Init no primeiro batch, depois via Calibrate
// a cada NextCalibration batches. Sinks possuem sua própria instância de
// controller; sources nunca a referenciam.
type Controller interface {
	// BeforeProcessing observa um batch recebido antes de ser entregue ao
	// stream manager, ex.: para amostrar seu tamanho serializado.
	BeforeProcessing(b streammsg.Batch)
	// Init retorna a calibração inicial do controller.
	Init() Calibration
	// Calibrate retorna uma calibração atualizada com base nos batches
	// observados desde a chamada anterior.
	Calibrate() Calibration
}
