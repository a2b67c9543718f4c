// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package metrics expõe os contadores do núcleo de streaming como um
// prometheus.Collector. Nenhum endpoint HTTP é registrado aqui; servir
// /metrics é responsabilidade do processo host.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector agrega os contadores por processo do núcleo de streaming:
// batches emitidos/confirmados, stalls observados e desligamentos forçados.
// Um stream manager, um downstream manager e um path inbound/outbound todos
// reportam para a mesma instância, instalada via SetMetrics; o processo
// host registra o Collector uma vez com seu próprio prometheus.Registry.
type Collector struct {
	batchesEmitted  atomic.Uint64
	batchesAcked    atomic.Uint64
	elementsEmitted atomic.Uint64
	forcedCloses    atomic.Uint64
	forcedDrops     atomic.Uint64
	calibrations    atomic.Uint64
	stalledTicks    atomic.Uint64
	pathsOpen       atomic.Int64

	batchesEmittedDesc  *prometheus.Desc
	batchesAckedDesc    *prometheus.Desc
	elementsEmittedDesc *prometheus.Desc
	forcedClosesDesc    *prometheus.Desc
	forcedDropsDesc     *prometheus.Desc
	calibrationsDesc    *prometheus.Desc
	stalledTicksDesc    *prometheus.Desc
	pathsOpenDesc       *prometheus.Desc
}

// New cria um Collector vazio.
func New() *Collector {
	return &Collector{
		batchesEmittedDesc:  prometheus.NewDesc("streamcore_batches_emitted_total", "Total batches emitted on outbound paths.", nil, nil),
		batchesAckedDesc:    prometheus.NewDesc("streamcore_batches_acked_total", "Total batches acknowledged by sinks.", nil, nil),
		elementsEmittedDesc: prometheus.NewDesc("streamcore_elements_emitted_total", "Total stream elements shipped in batches.", nil, nil),
		forcedClosesDesc:    prometheus.NewDesc("streamcore_forced_closes_total", "Total forced_close messages emitted.", nil, nil),
		forcedDropsDesc:     prometheus.NewDesc("streamcore_forced_drops_total", "Total forced_drop messages emitted.", nil, nil),
		calibrationsDesc:    prometheus.NewDesc("streamcore_calibrations_total", "Total credit controller calibrations performed.", nil, nil),
		stalledTicksDesc:    prometheus.NewDesc("streamcore_stalled_ticks_total", "Total tick cycles observed with at least one stalled downstream manager.", nil, nil),
		pathsOpenDesc:       prometheus.NewDesc("streamcore_paths_open", "Current count of open outbound paths across all downstream managers.", nil, nil),
	}
}

// BatchEmitted registra um batch emitido do tamanho de elemento dado.
func (c *Collector) BatchEmitted(size int32) {
	c.batchesEmitted.Add(1)
	if size > 0 {
		c.elementsEmitted.Add(uint64(size))
	}
}

// BatchAcked registra um ack_batch observado.
func (c *Collector) BatchAcked() { c.batchesAcked.Add(1) }

// ForcedClose registra um forced_close emitido.
func (c *Collector) ForcedClose() { c.forcedCloses.Add(1) }

// ForcedDrop registra um forced_drop emitido.
func (c *Collector) ForcedDrop() { c.forcedDrops.Add(1) }

// Calibration registra uma chamada de calibrate() do controller.
func (c *Collector) Calibration() { c.calibrations.Add(1) }

// StalledTick registra um ciclo de tick em que um downstream manager
// reportou stalled().
func (c *Collector) StalledTick() { c.stalledTicks.Add(1) }

// PathOpened/PathClosed ajustam o gauge de paths abertos ao vivo.
func (c *Collector) PathOpened() { c.pathsOpen.Add(1) }
func (c *Collector) PathClosed() { c.pathsOpen.Add(-1) }

// Describe implementa prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.batchesEmittedDesc
	ch <- c.batchesAckedDesc
	ch <- c.elementsEmittedDesc
	ch <- c.forcedClosesDesc
	ch <- c.forcedDropsDesc
	ch <- c.calibrationsDesc
	ch <- c.stalledTicksDesc
	ch <- c.pathsOpenDesc
}

// Collect implementa prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.batchesEmittedDesc, prometheus.CounterValue, float64(c.batchesEmitted.Load()))
	ch <- prometheus.MustNewConstMetric(c.batchesAckedDesc, prometheus.CounterValue, float64(c.batchesAcked.Load()))
	ch <- prometheus.MustNewConstMetric(c.elementsEmittedDesc, prometheus.CounterValue, float64(c.elementsEmitted.Load()))
	ch <- prometheus.MustNewConstMetric(c.forcedClosesDesc, prometheus.CounterValue, float64(c.forcedCloses.Load()))
	ch <- prometheus.MustNewConstMetric(c.forcedDropsDesc, prometheus.CounterValue, float64(c.forcedDrops.Load()))
	ch <- prometheus.MustNewConstMetric(c.calibrationsDesc, prometheus.CounterValue, float64(c.calibrations.Load()))
	ch <- prometheus.MustNewConstMetric(c.stalledTicksDesc, prometheus.CounterValue, float64(c.stalledTicks.Load()))
	ch <- prometheus.MustNewConstMetric(c.pathsOpenDesc, prometheus.GaugeValue, float64(c.pathsOpen.Load()))
}
