// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega as chaves de configuração fornecidas pelo host do
// núcleo de streaming a partir de YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CreditPolicy seleciona qual estratégia de credit controller um path
// inbound usa.
type CreditPolicy string

const (
	CreditPolicySizeBased  CreditPolicy = "size-based"
	CreditPolicyTokenBased CreditPolicy = "token-based"
)

// StreamConfig guarda as quatro chaves `stream.*` que um processo host
// carrega uma vez na inicialização e repassa aos construtores do stream
// manager / credit controller.
type StreamConfig struct {
	CreditPolicy CreditPolicy `yaml:"credit_policy"`

	// MaxBatchDelay é o limite superior de tempo entre acks forçados,
	// parseado de MaxBatchDelayRaw (ex.: "200ms").
	MaxBatchDelayRaw string        `yaml:"max_batch_delay"`
	MaxBatchDelay    time.Duration `yaml:"-"`

	// DesiredBatchComplexity é a duração alvo por batch usada pelo
	// controller size-based, parseada de DesiredBatchComplexityRaw.
	DesiredBatchComplexityRaw string        `yaml:"desired_batch_complexity"`
	DesiredBatchComplexity    time.Duration `yaml:"-"`

	// CreditRoundInterval é o comprimento do ciclo de crédito, parseado de
	// CreditRoundIntervalRaw. O ciclo force-batch roda na metade deste
	// intervalo por convenção, e precisa dividi-lo exatamente (spec §4.L).
	CreditRoundIntervalRaw string        `yaml:"credit_round_interval"`
	CreditRoundInterval    time.Duration `yaml:"-"`
}

// Load lê e valida um StreamConfig a partir de um arquivo YAML.
func Load(path string) (*StreamConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stream config: %w", err)
	}

	var cfg StreamConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing stream config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating stream config: %w", err)
	}
	return &cfg, nil
}

func (c *StreamConfig) validate() error {
	switch c.CreditPolicy {
	case "":
		c.CreditPolicy = CreditPolicySizeBased
	case CreditPolicySizeBased, CreditPolicyTokenBased:
	default:
		return fmt.Errorf("stream.credit_policy: unknown value %q", c.CreditPolicy)
	}

	if c.MaxBatchDelayRaw == "" {
		c.MaxBatchDelayRaw = "200ms"
	}
	d, err := time.ParseDuration(c.MaxBatchDelayRaw)
	if err != nil {
		return fmt.Errorf("stream.max_batch_delay: %w", err)
	}
	c.MaxBatchDelay = d

	if c.DesiredBatchComplexityRaw == "" {
		c.DesiredBatchComplexityRaw = "10ms"
	}
	d, err = time.ParseDuration(c.DesiredBatchComplexityRaw)
	if err != nil {
		return fmt.Errorf("stream.desired_batch_complexity: %w", err)
	}
	c.DesiredBatchComplexity = d

	if c.CreditRoundIntervalRaw == "" {
		c.CreditRoundIntervalRaw = "100ms"
	}
	d, err = time.ParseDuration(c.CreditRoundIntervalRaw)
	if err != nil {
		return fmt.Errorf("stream.credit_round_interval: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("stream.credit_round_interval must be positive, got %s", c.CreditRoundIntervalRaw)
	}
	c.CreditRoundInterval = d

	return nil
}
