// Package agentloop wires the session manager, guardrail pipeline, rate
// limiter, knowledge store and middleware chain into the per-message
// pipeline the channel bus drives, plus the one-off sub-agent turn the
// task orchestrator's delegate_tasks tool dispatches into.
package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kavymi/meepo/internal/channel"
	"github.com/kavymi/meepo/internal/guardrail"
	"github.com/kavymi/meepo/internal/knowledge"
	"github.com/kavymi/meepo/internal/middleware"
	"github.com/kavymi/meepo/internal/modelclient"
	"github.com/kavymi/meepo/internal/ratelimit"
	"github.com/kavymi/meepo/internal/session"
	"github.com/kavymi/meepo/internal/toolregistry"
)

// Config tunes one Loop's behavior. Zero values are not safe to use
// directly; start from DefaultConfig.
type Config struct {
	Model        string
	MaxTokens    int
	MaxTurns     int
	SystemPrompt string

	// HistoryLimit bounds how many prior session messages are appended to
	// the model context on each turn.
	HistoryLimit int

	// KnowledgeLimit bounds how many entities the hybrid search step
	// surfaces before graph expansion.
	KnowledgeLimit int
	RRFK           float32

	EnableGraphExpand bool
	GraphRag          knowledge.GraphRagConfig
	Corrective        knowledge.CorrectiveRagConfig
}

// DefaultConfig returns reasonable defaults for a single-assistant
// deployment.
func DefaultConfig() Config {
	return Config{
		Model:             "claude-sonnet-4-5",
		MaxTokens:         4096,
		MaxTurns:          8,
		SystemPrompt:      "You are a helpful personal assistant. Be concise and direct.",
		HistoryLimit:      20,
		KnowledgeLimit:    8,
		RRFK:              60,
		EnableGraphExpand: true,
		GraphRag:          knowledge.DefaultGraphRagConfig(),
		Corrective:        knowledge.DefaultCorrectiveRagConfig(),
	}
}

// Loop implements the agent's per-message turn: rate limit, guardrail,
// session resolution, retrieval-augmented context, a middleware-wrapped
// model/tool loop, outgoing dispatch and knowledge logging.
type Loop struct {
	cfg        Config
	client     modelclient.Client
	sessions   *session.Manager
	guardrails *guardrail.Pipeline
	limiter    *ratelimit.Limiter
	store      *knowledge.Store
	vectors    *knowledge.VectorIndex
	embedder   knowledge.EmbeddingProvider
	tools      *toolregistry.Registry
	chain      *middleware.Chain
	bus        *channel.Bus
	logger     *slog.Logger

	// chatSessions maps "channel:sender" to the session ID carrying that
	// conversation's history. The session manager only looks sessions up
	// by ID, so the loop owns this side mapping rather than threading a
	// stable key through Manager itself.
	chatSessions sync.Map
}

// New wires a Loop from its already-constructed dependencies. vectors and
// embedder may both be nil, in which case retrieval falls back to
// keyword search only.
func New(
	cfg Config,
	client modelclient.Client,
	sessions *session.Manager,
	guardrails *guardrail.Pipeline,
	limiter *ratelimit.Limiter,
	store *knowledge.Store,
	vectors *knowledge.VectorIndex,
	embedder knowledge.EmbeddingProvider,
	tools *toolregistry.Registry,
	chain *middleware.Chain,
	bus *channel.Bus,
	logger *slog.Logger,
) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if err := store.EnsureFullText(context.Background()); err != nil {
		logger.Warn("agentloop: full text index unavailable", "error", err)
	}
	return &Loop{
		cfg:        cfg,
		client:     client,
		sessions:   sessions,
		guardrails: guardrails,
		limiter:    limiter,
		store:      store,
		vectors:    vectors,
		embedder:   embedder,
		tools:      tools,
		chain:      chain,
		bus:        bus,
		logger:     logger,
	}
}

// HandleMessage implements channel.Handler: the full seven-step pipeline
// from one IncomingMessage to a logged, dispatched reply.
func (l *Loop) HandleMessage(ctx context.Context, msg channel.IncomingMessage) error {
	if !l.limiter.CheckAndRecord(msg.Sender) {
		l.logger.Warn("agentloop: dropping message, sender over rate limit", "sender", msg.Sender, "channel", msg.Channel)
		return nil
	}

	gctx := guardrail.Context{Source: string(msg.Channel), Channel: string(msg.Channel)}
	gres, err := l.guardrails.Evaluate(ctx, msg.Content, gctx)
	if err != nil {
		return fmt.Errorf("agentloop: guardrail scan: %w", err)
	}
	if !gres.Passed {
		l.logger.Warn("agentloop: message blocked by guardrails", "sender", msg.Sender, "violations", len(gres.Violations))
		return l.bus.Send(ctx, channel.OutgoingMessage{
			Kind:    channel.KindReply,
			Channel: msg.Channel,
			Content: "I can't help with that request.",
			ReplyTo: msg.ID,
		})
	}

	sessionID, err := l.resolveSession(msg)
	if err != nil {
		return fmt.Errorf("agentloop: session resolution: %w", err)
	}
	if err := l.sessions.AppendMessage(sessionID, "user", msg.Content, session.ProvenanceUser); err != nil {
		return fmt.Errorf("agentloop: append user message: %w", err)
	}

	history, err := l.sessions.GetHistory(sessionID, l.cfg.HistoryLimit, false)
	if err != nil {
		return fmt.Errorf("agentloop: load session history: %w", err)
	}

	systemPrompt := l.cfg.SystemPrompt
	if kctx := l.buildKnowledgeContext(ctx, msg.Content); kctx != "" {
		systemPrompt = systemPrompt + "\n\n" + kctx
	}

	mctx := middleware.Ctx{Query: msg.Content, Channel: string(msg.Channel), Sender: msg.Sender}
	finalText, _, err := l.runConversation(ctx, historyToMessages(history), turnOptions{
		model:        l.cfg.Model,
		maxTokens:    l.cfg.MaxTokens,
		maxTurns:     l.cfg.MaxTurns,
		systemPrompt: systemPrompt,
		toolDefs:     l.tools.Definitions(),
		mctx:         mctx,
	})
	if err != nil {
		return fmt.Errorf("agentloop: conversation turn: %w", err)
	}

	if err := l.bus.Send(ctx, channel.OutgoingMessage{
		Kind:    channel.KindReply,
		Channel: msg.Channel,
		Content: finalText,
		ReplyTo: msg.ID,
	}); err != nil {
		l.logger.Error("agentloop: failed to dispatch reply", "error", err)
	}

	if err := l.sessions.AppendMessage(sessionID, "assistant", finalText, session.ProvenanceAssistant); err != nil {
		l.logger.Error("agentloop: failed to append assistant message", "error", err)
	}
	if _, err := l.store.InsertConversation(ctx, string(msg.Channel), msg.Sender, finalText, nil); err != nil {
		l.logger.Error("agentloop: failed to log conversation", "error", err)
	}

	return nil
}

// resolveSession honors explicit session routing on the incoming message
// first, then falls back to the session this (channel, sender) pair has
// used before, creating one on first contact.
func (l *Loop) resolveSession(msg channel.IncomingMessage) (string, error) {
	if msg.SessionID != "" {
		if _, err := l.sessions.Get(msg.SessionID); err == nil {
			return msg.SessionID, nil
		}
	}

	key := chatKey(msg.Channel, msg.Sender)
	if v, ok := l.chatSessions.Load(key); ok {
		id := v.(string)
		if _, err := l.sessions.Get(id); err == nil {
			return id, nil
		}
	}

	sess, err := l.sessions.CreateWithKind(key, "main", session.KindOther, "")
	if err != nil {
		return "", err
	}
	l.chatSessions.Store(key, sess.ID)
	return sess.ID, nil
}

func chatKey(ch channel.Type, sender string) string {
	return fmt.Sprintf("%s:%s", ch, sender)
}

func historyToMessages(history []session.Message) []modelclient.Message {
	out := make([]modelclient.Message, 0, len(history))
	for _, m := range history {
		out = append(out, modelclient.Message{
			Role:    m.Role,
			Content: []modelclient.ContentBlock{{Type: "text", Text: m.Content}},
		})
	}
	return out
}
