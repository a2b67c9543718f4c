// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// streamcore-demo liga o núcleo de streaming de ponta a ponta: um stream
// manager source transmitindo inteiros sintéticos para um stream manager
// sink sobre o runtime de actor mínimo in-process, com os ciclos de crédito e
// force-batch de cada actor agendados como self-timeouts nos intervalos
// vindos da config (nenhum tick.Service é construído aqui). Existe para
// exercitar o módulo como um host real faria, não como um módulo do spec
// em si.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/config"
	"github.com/nishisan-dev/streamcore/internal/credit"
	"github.com/nishisan-dev/streamcore/internal/downstream"
	"github.com/nishisan-dev/streamcore/internal/logging"
	"github.com/nishisan-dev/streamcore/internal/metrics"
	"github.com/nishisan-dev/streamcore/internal/slot"
	"github.com/nishisan-dev/streamcore/internal/stream"
	"github.com/nishisan-dev/streamcore/internal/tick"
)

func main() {
	configPath := flag.String("config", "cmd/streamcore-demo/stream.yaml", "path to stream config file")
	elementCount := flag.Int("elements", 500, "synthetic elements to push through the source")
	duration := flag.Duration("duration", 3*time.Second, "how long to run before shutting down")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading stream config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger("info", "text", "")
	defer closer.Close()

	collector := metrics.New()
	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		logger.Error("failed to register metrics collector", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	sys := actorsys.NewSystem()
	defer sys.Shutdown()

	newController := func() credit.Controller {
		if cfg.CreditPolicy == config.CreditPolicyTokenBased {
			return credit.NewTokenBased(credit.TokenBasedConfig{})
		}
		return credit.NewSizeBased(credit.SizeBasedConfig{
			DesiredBatchComplexity: cfg.DesiredBatchComplexity,
			Sampler:                credit.GopsutilMemorySampler(),
			MemoryFloorBytes:       256 * 1024 * 1024,
		})
	}

	creditInterval := cfg.CreditRoundInterval
	forceInterval := creditInterval / 2
	if forceInterval <= 0 {
		forceInterval = creditInterval
	}

	var delivered atomic.Int64
	sinkAddr, _ := buildActor(sys, creditInterval, forceInterval, func(self actorsys.Address) *stream.Manager {
		return stream.New(stream.Config{
			Self:          self,
			Mailbox:       sys,
			Clock:         sys,
			Out:           downstream.NewBroadcastManager[int](self, sys, logger),
			MaxBatchDelay: cfg.MaxBatchDelay,
			NewController: newController,
			Metrics:       collector,
			Logger:        logger,
			OnDeliver: func(_ slot.Pair, payload actorsys.Payload) {
				delivered.Add(int64(payload.Len()))
			},
		})
	})

	var generated atomic.Int64
	var srcOut *downstream.BroadcastManager[int]
	srcAddr, srcMgr := buildActor(sys, creditInterval, forceInterval, func(self actorsys.Address) *stream.Manager {
		srcOut = downstream.NewBroadcastManager[int](self, sys, logger)
		return stream.New(stream.Config{
			Self:    self,
			Mailbox: sys,
			Clock:   sys,
			Out:     srcOut,
			Generator: func() {
				for i := 0; i < 4 && int(generated.Load()) < *elementCount; i++ {
					srcOut.Push(int(generated.Add(1)))
				}
			},
			NewController: newController,
			Metrics:       collector,
			Logger:        logger,
		})
	})

	sys.Spawn(srcAddr)
	sys.Spawn(sinkAddr)

	// O handshake precisa rodar na própria goroutine do actor source, como
	// qualquer outra mutação de manager (spec §5); postar um thunk pela sua
	// mailbox mantém isso verdadeiro em vez de chamar srcMgr a partir da
	// goroutine do main.
	sys.Send(srcAddr, thunk(func() {
		if _, ok := srcMgr.AddUncheckedOutboundPath(sinkAddr, "int", nil); !ok {
			logger.Error("failed to open the demo stream")
		}
	}))

	<-ctx.Done()
	logger.Info("shutting down", "elements_delivered", delivered.Load(), "elements_generated", generated.Load())
}

// thunk é uma closure postada por uma mailbox para que execute na própria
// goroutine do actor receptor em vez da do remetente.
type thunk func()

// buildActor liga um stream manager a seu próprio actor baseado em mailbox e
// agenda seus dois ciclos de tick como self-timeouts repetidos, preservando
// a regra de que só a própria goroutine de um actor toca o estado do seu
// manager (spec §5): tanto o loop de mensagens de controle quanto a cadência
// do tick chegam como entregas comuns de mailbox.
func buildActor(sys *actorsys.System, creditInterval, forceInterval time.Duration, newManager func(self actorsys.Address) *stream.Manager) (*actorsys.Mailboxed, *stream.Manager) {
	var a *actorsys.Mailboxed
	var mgr *stream.Manager
	a = actorsys.NewMailboxed(64, func(msg any) {
		if fn, ok := msg.(thunk); ok {
			fn()
			return
		}
		if tm, ok := msg.(actorsys.TimeoutMsg); ok {
			switch tm.Tag {
			case "credit-tick":
				mgr.Tick()
				sys.SetTimeout(a, creditInterval, "credit-tick", 0)
			case "force-tick":
				mgr.ForceEmitBatches()
				sys.SetTimeout(a, forceInterval, "force-tick", 0)
			}
			return
		}
		mgr.Receive(msg)
	})
	mgr = newManager(a)
	sys.SetTimeout(a, creditInterval, "credit-tick", 0)
	sys.SetTimeout(a, forceInterval, "force-tick", 0)
	return a, mgr
}

// asserção em tempo de compilação de que as duas interfaces colaboradoras
// de tick.Service são satisfeitas por um *stream.Manager, equivalente a como
// um tick.Service seria construído se um host preferisse um único ticker
// compartilhado em vez de self-timeouts por actor.
var (
	_ tick.Creditor     = (*stream.Manager)(nil)
	_ tick.ForceEmitter = (*stream.Manager)(nil)
)
