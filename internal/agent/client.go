// Package agent invokes a Bedrock agent and exposes its streamed answer as an
// ordered chunk stream.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/smithy-go"

	"review-gateway/internal/domain"
)

// invokeAPI is the minimal Bedrock Agent Runtime interface required by Client.
// *bedrockagentruntime.Client satisfies this interface.
type invokeAPI interface {
	InvokeAgent(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeAgentOutput, error)
}

// eventSource is the reader half of an InvokeAgent event stream.
// *bedrockagentruntime.InvokeAgentEventStream satisfies this interface.
type eventSource interface {
	Events() <-chan types.ResponseStream
	Close() error
	Err() error
}

// Client invokes one configured agent alias.
type Client struct {
	api                 invokeAPI
	agentID             string
	aliasID             string
	streamFinalResponse bool
	logger              *slog.Logger

	// open performs the call and returns its event stream. Swapped in tests,
	// since InvokeAgentOutput cannot carry a fake stream.
	open func(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput) (eventSource, error)
}

type Option func(*Client)

// WithStreamFinalResponse controls whether the agent streams its final answer
// or returns it as a single chunk.
func WithStreamFinalResponse(enabled bool) Option {
	return func(c *Client) {
		c.streamFinalResponse = enabled
	}
}

// NewClient creates a Client for the given agent and alias.
func NewClient(api invokeAPI, agentID, aliasID string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("agent: api must not be nil")
	}
	agentID = strings.TrimSpace(agentID)
	aliasID = strings.TrimSpace(aliasID)
	if agentID == "" || aliasID == "" {
		return nil, errors.New("agent: agent id and alias id are required")
	}
	c := &Client{
		api:                 api,
		agentID:             agentID,
		aliasID:             aliasID,
		streamFinalResponse: true,
		logger:              logger.With("component", "agent_client"),
	}
	c.open = c.invoke
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Invoke starts an agent session for prompt. The returned stream must be
// closed by the caller.
func (c *Client) Invoke(ctx context.Context, prompt, sessionID string) (domain.ChunkStream, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("agent: session id must not be empty")
	}

	in := &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String(c.agentID),
		AgentAliasId: aws.String(c.aliasID),
		SessionId:    aws.String(sessionID),
		InputText:    aws.String(prompt),
	}
	if c.streamFinalResponse {
		in.StreamingConfigurations = &types.StreamingConfigurations{StreamFinalResponse: true}
	}

	c.logger.Debug("invoking agent",
		"session_id", sessionID,
		"prompt_bytes", len(prompt),
	)

	src, err := c.open(ctx, in)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("agent: invoke (%s): %w", apiErr.ErrorCode(), err)
		}
		return nil, fmt.Errorf("agent: invoke: %w", err)
	}
	return newStream(src), nil
}

func (c *Client) invoke(ctx context.Context, in *bedrockagentruntime.InvokeAgentInput) (eventSource, error) {
	out, err := c.api.InvokeAgent(ctx, in)
	if err != nil {
		return nil, err
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("response has no event stream")
	}
	return stream, nil
}
