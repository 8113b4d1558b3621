package dialogue

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/extractor"
	"github.com/meridian-lab/fathom/internal/llm"
	"github.com/meridian-lab/fathom/internal/models"
)

// CompletionInvoker is the production Invoker: each agent turn is one
// completion against the model sidecar with a role-specific framing.
type CompletionInvoker struct {
	completer llm.Completer
	logger    *zap.Logger
}

// NewCompletionInvoker wraps a completion client as an Invoker.
func NewCompletionInvoker(completer llm.Completer, logger *zap.Logger) *CompletionInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionInvoker{completer: completer, logger: logger}
}

type agentReplyWire struct {
	Message    string             `json:"message"`
	Reasoning  string             `json:"reasoning"`
	Confidence float64            `json:"confidence"`
	Sources    []models.SourceRef `json:"sources"`
}

// InvokeAgent runs one agent turn. A reply that cannot be parsed as
// JSON degrades to the raw text as the message rather than failing the
// round.
func (iv *CompletionInvoker) InvokeAgent(ctx context.Context, req AgentRequest) (AgentReply, error) {
	resp, err := iv.completer.Complete(ctx, llm.CompletionRequest{
		Prompt:       buildAgentPrompt(req),
		SystemPrompt: roleFraming(req.AgentType, req.Profile),
		Model:        req.Profile.Model,
		Temperature:  req.Profile.Temperature,
		Purpose:      "agent_" + req.AgentType,
		SessionID:    req.SessionID,
	})
	if err != nil {
		return AgentReply{}, err
	}

	var wire agentReplyWire
	extractor.ExtractOr(iv.logger, "agent_reply", resp.Text, &wire, func() {
		wire = agentReplyWire{
			Message:    strings.TrimSpace(resp.Text),
			Confidence: 0.5,
		}
	})
	if wire.Message == "" {
		wire.Message = strings.TrimSpace(resp.Text)
	}

	sources := wire.Sources
	for _, c := range resp.Citations {
		sources = append(sources, models.SourceRef{
			Claim:    c.Title,
			Source:   c.URL,
			Strength: 1.0,
		})
	}

	return AgentReply{
		Message:    wire.Message,
		Reasoning:  wire.Reasoning,
		Confidence: wire.Confidence,
		Sources:    sources,
	}, nil
}
