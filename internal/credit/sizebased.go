// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package credit

import (
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/nishisan-dev/streamcore/internal/streammsg"
)

// ByteSizer é implementado por payloads de batch que conhecem seu próprio
// tamanho serializado. Quando um payload não o implementa, SizeBased recai
// em AvgElementBytes como estimativa por elemento.
type ByteSizer interface {
	ByteSize() int
}

// MemorySampler reporta a memória disponível do host no momento, em bytes.
// Espelha a amostragem de sinal de host que internal/agent/autoscaler.go faz
// para adaptar um parâmetro ao vivo; SizeBased o usa, se definido, para
// encolher o orçamento de buffer sob pressão de memória. Um sampler nil
// desativa isso e SizeBased se comporta como um controller de puro
// orçamento de bytes.
type MemorySampler func() (availableBytes uint64, ok bool)

// GopsutilMemorySampler retorna um MemorySampler apoiado em
// gopsutil/v3/mem.VirtualMemory, a mesma chamada que
// internal/agent/monitor.go sonda em seu próprio ticker. Falhas apenas
// reportam ok=false, deixando o orçamento de bytes do controller sem
// escala para aquela calibração.
func GopsutilMemorySampler() MemorySampler {
	return func() (uint64, bool) {
		v, err := mem.VirtualMemory()
		if err != nil {
			return 0, false
		}
		return v.Available, true
	}
}

// SizeBasedConfig configura um controller SizeBased.
type SizeBasedConfig struct {
	// BufferBudgetBytes é o orçamento de bytes que o sink quer bufferizado,
	// almejado ao longo de dois ciclos de calibração.
	BufferBudgetBytes int64
	// DesiredBatchComplexity é a duração alvo por batch
	// (stream.desired-batch-complexity); o tamanho do batch é resolvido para
	// tentar manter o tempo de processamento por batch perto desse valor.
	DesiredBatchComplexity time.Duration
	// AvgElementBytes é a estimativa de bytes por elemento usada como
	// fallback quando um payload não implementa ByteSizer.
	AvgElementBytes int64
	// CalibrationBatches é quantos batches passam entre calibrações.
	CalibrationBatches int32
	// MinBatchSize estabelece o piso do tamanho de batch computado, padrão 1.
	MinBatchSize int32
	// Sampler, se definido, reduz o orçamento de buffer sob pressão de
	// memória.
	Sampler MemorySampler
	// MemoryFloorBytes é a memória disponível mínima abaixo da qual o
	// orçamento é escalado para sua menor fração. Ignorado se Sampler for
	// nil.
	MemoryFloorBytes uint64
	// Now, se definido, substitui time.Now para testes determinísticos.
	Now func() time.Time
}

// SizeBased mantém um estimador de soma deslizante de bytes serializados
// por elemento e resolve max_credit de forma que os bytes bufferizados
// fiquem dentro do orçamento configurado por dois ciclos de calibração
// (spec §4.E).
type SizeBased struct {
	cfg SizeBasedConfig

	windowBytes    int64
	windowElements int64

	windowStart    time.Time
	elementsInSpan int64

	lastBatchSize int32
}

// NewSizeBased constrói um controller size-based com cfg, preenchendo
// defaults para todo campo com valor zero.
func NewSizeBased(cfg SizeBasedConfig) *SizeBased {
	if cfg.AvgElementBytes <= 0 {
		cfg.AvgElementBytes = 256
	}
	if cfg.CalibrationBatches <= 0 {
		cfg.CalibrationBatches = 16
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 1
	}
	if cfg.BufferBudgetBytes <= 0 {
		cfg.BufferBudgetBytes = 4 * 1024 * 1024
	}
	if cfg.DesiredBatchComplexity <= 0 {
		cfg.DesiredBatchComplexity = 50 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &SizeBased{cfg: cfg, windowStart: cfg.Now()}
}

// BeforeProcessing implementa credit.Controller.
func (s *SizeBased) BeforeProcessing(b streammsg.Batch) {
	bytes := s.cfg.AvgElementBytes * int64(b.Size)
	if sz, ok := b.Payload.(ByteSizer); ok {
		bytes = int64(sz.ByteSize())
	}
	s.windowBytes += bytes
	s.windowElements += int64(b.Size)
	s.elementsInSpan += int64(b.Size)
}

// Init implementa credit.Controller.
func (s *SizeBased) Init() Calibration {
	return s.calibrate()
}

// Calibrate implementa credit.Controller.
func (s *SizeBased) Calibrate() Calibration {
	return s.calibrate()
}

func (s *SizeBased) calibrate() Calibration {
	avgBytesPerElement := s.cfg.AvgElementBytes
	if s.windowElements > 0 {
		avgBytesPerElement = s.windowBytes / s.windowElements
		if avgBytesPerElement <= 0 {
			avgBytesPerElement = 1
		}
	}

	budget := s.cfg.BufferBudgetBytes
	if s.cfg.Sampler != nil {
		if avail, ok := s.cfg.Sampler(); ok {
			budget = scaleBudgetForMemory(budget, avail, s.cfg.MemoryFloorBytes)
		}
	}

	// Alveja bytes bufferizados ao longo de dois ciclos, conforme spec §4.E.
	maxCredit := int32((2 * budget) / avgBytesPerElement)

	// Resolve o tamanho de batch a partir da vazão de elementos observada no
	// intervalo decorrido, mirando em elementos equivalentes a
	// DesiredBatchComplexity por batch.
	now := s.cfg.Now()
	elapsed := now.Sub(s.windowStart)
	batchSize := s.cfg.MinBatchSize
	if elapsed > 0 && s.elementsInSpan > 0 {
		rate := float64(s.elementsInSpan) / elapsed.Seconds()
		est := int32(rate * s.cfg.DesiredBatchComplexity.Seconds())
		if est > batchSize {
			batchSize = est
		}
	}
	// O tamanho de batch nunca recua em relação à calibração anterior.
	if batchSize < s.lastBatchSize {
		batchSize = s.lastBatchSize
	}
	s.lastBatchSize = batchSize
	if maxCredit < batchSize {
		maxCredit = batchSize
	}

	// Reseta o intervalo mas mantém as somas deslizantes de toda a vida para
	// que avgBytesPerElement continue sendo uma estimativa contínua em vez
	// de voltar ao fallback.
	s.windowStart = now
	s.elementsInSpan = 0

	return Calibration{
		MaxCredit:       maxCredit,
		BatchSize:       batchSize,
		NextCalibration: s.cfg.CalibrationBatches,
	}
}

func scaleBudgetForMemory(budget int64, available, floor uint64) int64 {
	if floor == 0 {
		return budget
	}
	if available >= floor*4 {
		return budget
	}
	if available <= floor {
		return budget / 4
	}
	// Interpolação linear entre floor (1/4 do orçamento) e floor*4 (orçamento cheio).
	frac := float64(available-floor) / float64(3*floor)
	scaled := float64(budget) * (0.25 + 0.75*frac)
	return int64(scaled)
}
