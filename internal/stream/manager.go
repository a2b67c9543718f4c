// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stream implementa o stream manager do spec §4.I: o objeto no
// nível do actor que guarda os paths inbound de um stream, seu downstream
// manager, e a contabilidade de handshake/shutdown que amarra o resto do
// core.
package stream

import (
	"log/slog"
	"time"

	"github.com/nishisan-dev/streamcore/internal/aborter"
	"github.com/nishisan-dev/streamcore/internal/actorsys"
	"github.com/nishisan-dev/streamcore/internal/credit"
	"github.com/nishisan-dev/streamcore/internal/downstream"
	"github.com/nishisan-dev/streamcore/internal/inbound"
	"github.com/nishisan-dev/streamcore/internal/metrics"
	"github.com/nishisan-dev/streamcore/internal/queue"
	"github.com/nishisan-dev/streamcore/internal/slot"
	"github.com/nishisan-dev/streamcore/internal/streammsg"
)

// DeliverFunc recebe o payload entregue por um path inbound. Um stage liga
// isso ao seu próprio downstream manager; um sink liga ao que quer que
// consuma os elementos do stream. Deixado nil, payloads entregues são
// simplesmente descartados (spec §4.I não nomeia um padrão).
type DeliverFunc func(slots slot.Pair, payload actorsys.Payload)

// downstreamEnvelope adapta um streammsg.DownstreamMsg para queue.Sized para
// que possa ficar na sub-fila WDRR por slot inbound (spec §4.J
// "task_size(batch) = batch.size", todo o resto tamanho 1).
type downstreamEnvelope struct {
	msg streammsg.DownstreamMsg
}

func (e downstreamEnvelope) TaskSize() int32 {
	if b, ok := e.msg.(streammsg.BatchMsg); ok {
		return b.Batch.Size
	}
	return 1
}

// Config agrupa as dependências de construção de um Manager.
type Config struct {
	Self    actorsys.Address
	Mailbox actorsys.Mailbox
	Clock   actorsys.Clock
	Out     downstream.Manager

	Priority      streammsg.Priority
	Continuous    bool
	MaxBatchDelay time.Duration

	// NewController constrói um credit controller novo para cada path
	// inbound conforme ele é aceito. Se nil, usa um controller size-based
	// com os padrões da biblioteca (spec §4.E).
	NewController func() credit.Controller

	// OnDeliver é chamado com todo payload que um path inbound repassa.
	OnDeliver DeliverFunc

	// Generator é o hook source do push(): chamado antes de todo
	// EmitBatches. Stages e sinks o deixam nil (spec §4.I "sinks e stages
	// retornam imediatamente").
	Generator func()

	PrevStage     actorsys.Address
	OriginalStage actorsys.Address

	// QueueBase escala o quantum WDRR concedido a cada sub-fila inbound por
	// rodada (spec §4.J "quantum(q, base) = base × q.desired_batch_size").
	QueueBase int32

	// OnDone, se definido, é chamado sempre que o close gracioso de um path
	// inbound, ou um forced_drop que remove um path outbound, deixa um
	// manager não contínuo com Done() true — o sinal que um host usa para
	// aposentar o actor dono deste manager.
	OnDone func()

	// Metrics, se definido, é o Collector para o qual este manager, seu
	// downstream manager e os paths inbound que ele aceita reportam.
	Metrics *metrics.Collector

	Logger *slog.Logger
}

// Manager é o stream manager do spec §4.I.
type Manager struct {
	self   actorsys.Address
	mbox   actorsys.Mailbox
	clock  actorsys.Clock
	out    downstream.Manager
	logger *slog.Logger

	priority         streammsg.Priority
	isContinuous     bool
	isShuttingDown   bool
	handshakePending int

	inbound  map[slot.ID]*inbound.Path
	nextSlot slot.ID

	newController func() credit.Controller
	onDeliver     func(slots slot.Pair, payload actorsys.Payload)
	generator     func()
	onDone        func()
	maxBatchDelay time.Duration

	prevStage     actorsys.Address
	originalStage actorsys.Address

	aborters  *aborter.Registry
	inboundQ  *queue.Discipline
	congested bool

	metrics  *metrics.Collector
	finalErr error
}

// New cria um stream manager. cfg.Out não deve ser nil.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewController == nil {
		cfg.NewController = func() credit.Controller {
			return credit.NewSizeBased(credit.SizeBasedConfig{})
		}
	}
	m := &Manager{
		self:          cfg.Self,
		mbox:          cfg.Mailbox,
		clock:         cfg.Clock,
		out:           cfg.Out,
		logger:        cfg.Logger,
		priority:      cfg.Priority,
		isContinuous:  cfg.Continuous,
		inbound:       make(map[slot.ID]*inbound.Path),
		newController: cfg.NewController,
		generator:     cfg.Generator,
		maxBatchDelay: cfg.MaxBatchDelay,
		prevStage:     cfg.PrevStage,
		originalStage: cfg.OriginalStage,
		aborters:      aborter.NewRegistry(),
		metrics:       cfg.Metrics,
	}
	if cfg.OnDeliver != nil {
		m.onDeliver = func(s slot.Pair, p actorsys.Payload) { cfg.OnDeliver(s, p) }
	}
	m.onDone = cfg.OnDone
	if m.out != nil && m.metrics != nil {
		m.out.SetMetrics(m.metrics)
	}
	m.inboundQ = queue.New(cfg.QueueBase, m.isCongested, m.desiredBatchSizeFor)
	return m
}

func (m *Manager) allocSlot() slot.ID {
	m.nextSlot++
	return m.nextSlot
}

func (m *Manager) isCongested(slot.ID) bool { return m.congested }

func (m *Manager) desiredBatchSizeFor(s slot.ID) int32 {
	if p, ok := m.inbound[s]; ok {
		if d := p.DesiredBatchSize(); d > 0 {
			return d
		}
	}
	return 1
}

// SetCongested reporta se o buffer inbound deste stream não consegue
// progredir agora (spec §4.I "Congestion"), suspendendo a drenagem WDRR de
// suas sub-filas sem travar o resto do actor host.
func (m *Manager) SetCongested(congested bool) { m.congested = congested }

// Congested reporta a flag de congestionamento atual.
func (m *Manager) Congested() bool { return m.congested }

// Priority reporta a prioridade de agendamento deste manager.
func (m *Manager) Priority() streammsg.Priority { return m.priority }

// IsShuttingDown reporta se stop/abort já foi invocado.
func (m *Manager) IsShuttingDown() bool { return m.isShuttingDown }

// FinalErr reporta o erro, se algum, que causou o abort deste manager.
func (m *Manager) FinalErr() error { return m.finalErr }

// InboundSlots lista o slot local de todo path inbound atualmente aceito.
func (m *Manager) InboundSlots() []slot.ID {
	out := make([]slot.ID, 0, len(m.inbound))
	for s := range m.inbound {
		out = append(out, s)
	}
	return out
}

// ---- lado source ----

// AddUncheckedOutboundPath aloca um path outbound pendente para peer e envia
// o pedido de handshake open_stream_msg (spec §4.I). token identifica o tipo
// de elemento para a tabela de roteamento do fused downstream manager;
// handshake carrega dados de negociação definidos pelo stage.
func (m *Manager) AddUncheckedOutboundPath(peer actorsys.Address, token string, handshake any) (slot.ID, bool) {
	s := m.allocSlot()
	path, ok := m.out.AddPath(s, peer)
	if !ok {
		return 0, false
	}
	var slots slot.Pair
	if path != nil {
		slots = path.Slots()
	} else {
		slots = slot.Pair{Receiver: s}
	}
	m.mbox.Send(peer, streammsg.NewOpenStreamMsg(slots, m.self, token, handshake, m.prevStage, m.originalStage, m.priority))
	m.aborters.Attach(m.self, m.mbox, peer, slots, s, aborter.Source, nil)
	m.handshakePending++
	return s, true
}

// ---- ingestão de mensagens ----

// Receive é o único ponto de entrada para toda mensagem de controle que este
// manager observa, seguindo o modelo de uma ativação por rodada de mailbox
// do spec §5. Mensagens do sum type downstream (batch/close/forced_close)
// são enfileiradas na disciplina WDRR por slot do spec §4.J; todo o resto é
// tratado imediatamente.
func (m *Manager) Receive(msg any) {
	switch v := msg.(type) {
	case streammsg.OpenStreamMsg:
		m.handleOpenStream(v)
	case streammsg.AckOpenMsg:
		m.handleAckOpen(v)
	case streammsg.AckBatchMsg:
		m.handleAckBatch(v)
	case streammsg.DropMsg:
		m.handleDrop(v)
	case streammsg.ForcedDropMsg:
		m.handleForcedDrop(v)
	case streammsg.BatchMsg:
		m.inboundQ.Enqueue(v.Slots().Receiver, downstreamEnvelope{v})
	case streammsg.CloseMsg:
		m.inboundQ.Enqueue(v.Slots().Receiver, downstreamEnvelope{v})
	case streammsg.ForcedCloseMsg:
		m.inboundQ.Enqueue(v.Slots().Receiver, downstreamEnvelope{v})
	default:
		m.logger.Debug("stream manager received unrecognized message", "type", msg)
	}
}

// DrainInbound executa uma rodada WDRR sobre as mensagens downstream
// enfileiradas, despachando cada uma para seu path inbound (spec §4.J).
func (m *Manager) DrainInbound() {
	m.inboundQ.Drain(func(s slot.ID, sized queue.Sized) {
		env, ok := sized.(downstreamEnvelope)
		if !ok {
			return
		}
		m.dispatchDownstream(s, env.msg)
	})
}

func (m *Manager) dispatchDownstream(s slot.ID, msg streammsg.DownstreamMsg) {
	path, ok := m.inbound[s]
	if !ok {
		return
	}
	switch v := msg.(type) {
	case streammsg.BatchMsg:
		if err := path.OnBatch(v); err != nil {
			// spec §9 open question: descarta a mensagem fora de ordem e
			// continua, em vez de derrubar o path.
			m.logger.Debug("dropping out-of-order batch", "slot", s, "err", err)
		}
	case streammsg.CloseMsg:
		path.OnClose()
	case streammsg.ForcedCloseMsg:
		path.OnForcedClose(v.Reason)
	}
}

func (m *Manager) handleOpenStream(v streammsg.OpenStreamMsg) {
	sourceSlot := v.Slots().Receiver
	sinkSlot := m.allocSlot()
	path := inbound.New(inbound.Config{
		Manager:       m,
		Peer:          v.Sender(),
		Mailbox:       m.mbox,
		Self:          m.self,
		Slots:         slot.Pair{Sender: sourceSlot, Receiver: sinkSlot},
		Controller:    m.newController(),
		Clock:         m.clock,
		MaxBatchDelay: m.maxBatchDelay,
		Priority:      v.Priority,
		Logger:        m.logger,
	})
	path.SetMetrics(m.metrics)
	m.inbound[sinkSlot] = path
	m.aborters.Attach(m.self, m.mbox, v.Sender(), slot.Pair{Sender: sourceSlot, Receiver: sinkSlot}, sinkSlot, aborter.Sink, nil)

	ack := streammsg.AckOpen{
		RebindFrom:       sinkSlot,
		InitialDemand:    path.MaxCredit(),
		DesiredBatchSize: path.DesiredBatchSize(),
	}
	m.mbox.Send(v.Sender(), streammsg.NewAckOpenMsg(path.Slots().Invert(), m.self, ack))
}

func (m *Manager) handleAckOpen(v streammsg.AckOpenMsg) {
	s := v.Slots().Receiver
	path, ok := m.out.Path(s)
	if !ok {
		return
	}
	if err := path.OnAckOpen(v.Ack); err == nil {
		m.handshakePending--
	}
	m.push()
}

func (m *Manager) handleAckBatch(v streammsg.AckBatchMsg) {
	s := v.Slots().Receiver
	if path, ok := m.out.Path(s); ok {
		path.OnAckBatch(v.Ack)
	}
	m.push()
}

func (m *Manager) handleDrop(v streammsg.DropMsg) {
	m.out.CloseSlot(v.Slots().Receiver)
}

func (m *Manager) handleForcedDrop(v streammsg.ForcedDropMsg) {
	s := v.Slots().Receiver
	m.out.RemovePath(s, nil, true)
	m.aborters.Detach(m.self, s, aborter.Source)
	m.maybeDone()
}

// ---- implementação de inbound.Manager (chamada de volta por *inbound.Path) ----

// Deliver implementa inbound.Manager.
func (m *Manager) Deliver(slots slot.Pair, payload actorsys.Payload) {
	if m.onDeliver != nil {
		m.onDeliver(slots, payload)
	}
}

// EndOfStream implementa inbound.Manager.
func (m *Manager) EndOfStream(slots slot.Pair) {
	s := slots.Receiver
	delete(m.inbound, s)
	m.inboundQ.RemoveSlot(s)
	m.aborters.Detach(m.self, s, aborter.Sink)
	m.maybeDone()
}

// Failed implementa inbound.Manager.
func (m *Manager) Failed(slots slot.Pair, reason error) {
	s := slots.Receiver
	delete(m.inbound, s)
	m.inboundQ.RemoveSlot(s)
	m.aborters.Detach(m.self, s, aborter.Sink)
	m.stop(reason)
}

// ---- ciclo de push, integração com o tick, ciclo de vida ----

// push executa uma iteração do ciclo de push: o hook source, depois uma
// emissão oportunista de batch (spec §4.I "Push loop").
func (m *Manager) push() {
	if m.generator != nil {
		m.generator()
	}
	m.out.EmitBatches()
}

// Tick implementa tick.Creditor: o ciclo de crédito dá a cada path inbound
// uma chance de emitir um ack_batch forçado, checa peers observados por
// morte, e esvazia o ciclo de push (spec §4.I "advance()", §4.L).
func (m *Manager) Tick() {
	for _, p := range m.inbound {
		p.Tick()
	}
	m.aborters.CheckAll()
	m.DrainInbound()
	if m.metrics != nil && m.out.Stalled() {
		m.metrics.StalledTick()
	}
	m.push()
}

// ForceEmitBatches implementa tick.ForceEmitter: o ciclo force-batch envia o
// que restar em paths outbound abaixo do tamanho desejado (spec §4.L).
func (m *Manager) ForceEmitBatches() {
	m.out.ForceEmitBatches()
}

// Done reporta o done() do spec §4.I: um manager não contínuo sem paths
// inbound nem outbound restantes.
func (m *Manager) Done() bool {
	if m.isContinuous {
		return false
	}
	return len(m.inbound) == 0 && len(m.out.PathSlots()) == 0
}

// Idle reporta o idle() do spec §4.I: nenhum progresso inbound é possível
// (o stream está congestionado ou não tem mais nada a receber) e nenhum
// batch outbound pode ser emitido agora.
func (m *Manager) Idle() bool {
	noOutboundProgress := len(m.out.OpenPathSlots()) == 0 || m.out.Stalled()
	noInboundProgress := m.congested || len(m.inbound) == 0
	return noOutboundProgress && noInboundProgress
}

// stop implementa o contrato resolvido do spec §9: stop(err=none) marca todo
// path outbound como em fechamento e deixa drenar; stop(err) escala para
// abort, emitindo forced_close/forced_drop em todo path restante e limpando
// todo o estado (spec §4.I tratamento de falha, §9 "Open questions").
func (m *Manager) stop(reason error) {
	m.isShuttingDown = true
	if reason != nil {
		m.abort(reason)
		return
	}
	m.out.Close()
}

func (m *Manager) abort(reason error) {
	m.isShuttingDown = true
	m.finalErr = reason
	m.out.Abort(reason)
	for s, p := range m.inbound {
		p.ForcedDrop(reason)
		m.inboundQ.RemoveSlot(s)
		m.aborters.Detach(m.self, s, aborter.Sink)
	}
	m.inbound = make(map[slot.ID]*inbound.Path)
	for _, s := range m.out.PathSlots() {
		m.aborters.Detach(m.self, s, aborter.Source)
	}
}

// maybeDone dispara onDone no momento em que o close gracioso de um path
// inbound ou um forced_drop de um path outbound deixa este manager sem mais
// nada a fazer, para que um host observando um
// manager não contínuo saiba da conclusão no instante em que ela acontece,
// em vez de precisar fazer polling em Done().
func (m *Manager) maybeDone() {
	if m.onDone != nil && m.Done() {
		m.onDone()
	}
}
