// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package credit

import (
	"golang.org/x/time/rate"

	"github.com/nishisan-dev/streamcore/internal/streammsg"
)

// TokenBasedConfig configura um controller TokenBased.
type TokenBasedConfig struct {
	// MaxCredit e BatchSize são os valores fixos concedidos após o
	// handshake inicial.
	MaxCredit int32
	BatchSize int32
	// CalibrationBatches é quantos batches passam entre calibrações.
	CalibrationBatches int32
	// AdjustRate/AdjustBurst limitam com que frequência uma calibração tem
	// permissão de fato para mudar MaxCredit/BatchSize, modelado como
	// internal/agent/throttle.go espaça escritas com um token bucket: um
	// token é exigido para deixar uma recalibração ter efeito, reabastecido
	// na taxa de AdjustRate. Entre reabastecimentos, Calibrate retorna os
	// valores fixos inalterados, dando o comportamento "atualizado
	// raramente" que o spec §4.E pede, com um limiter de verdade em vez de
	// um contador artesanal.
	AdjustRate  rate.Limit
	AdjustBurst int
}

// TokenBased mantém max_credit e batch_size fixos após o handshake
// inicial, atualizados raramente (spec §4.E).
type TokenBased struct {
	cfg     TokenBasedConfig
	limiter *rate.Limiter

	curMaxCredit int32
	curBatchSize int32
}

// NewTokenBased constrói um controller token-based com cfg, preenchendo
// defaults para todo campo com valor zero.
func NewTokenBased(cfg TokenBasedConfig) *TokenBased {
	if cfg.MaxCredit <= 0 {
		cfg.MaxCredit = 64
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.MaxCredit < cfg.BatchSize {
		cfg.MaxCredit = cfg.BatchSize
	}
	if cfg.CalibrationBatches <= 0 {
		cfg.CalibrationBatches = 64
	}
	if cfg.AdjustRate <= 0 {
		cfg.AdjustRate = rate.Inf
	}
	if cfg.AdjustBurst <= 0 {
		cfg.AdjustBurst = 1
	}
	return &TokenBased{
		cfg:          cfg,
		limiter:      rate.NewLimiter(cfg.AdjustRate, cfg.AdjustBurst),
		curMaxCredit: cfg.MaxCredit,
		curBatchSize: cfg.BatchSize,
	}
}

// BeforeProcessing implementa credit.Controller. A estratégia token-based
// não amostra batches individuais.
func (t *TokenBased) BeforeProcessing(streammsg.Batch) {}

// Init implementa credit.Controller.
func (t *TokenBased) Init() Calibration {
	return Calibration{
		MaxCredit:       t.curMaxCredit,
		BatchSize:       t.curBatchSize,
		NextCalibration: t.cfg.CalibrationBatches,
	}
}

// Calibrate implementa credit.Controller. Ajustes só têm efeito quando o
// limiter concede um token; caso contrário os valores fixos anteriores são
// mantidos.
func (t *TokenBased) Calibrate() Calibration {
	if t.limiter.Allow() {
		t.curMaxCredit = t.cfg.MaxCredit
		t.curBatchSize = t.cfg.BatchSize
	}
	return Calibration{
		MaxCredit:       t.curMaxCredit,
		BatchSize:       t.curBatchSize,
		NextCalibration: t.cfg.CalibrationBatches,
	}
}
