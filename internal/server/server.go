// Package server exposes the thin external HTTP surface of spec §6: the
// three inbound request shapes (streaming chat, unary completion, batch
// completion), each driving the same Prompt Assembler -> Agent Graph Engine
// -> Streaming Transcript Writer pipeline. The HTTP router's business logic
// (auth, CRUD, multi-tenant routing) is an explicit Non-goal of this spec;
// this package wires the pipeline, nothing more, using Fiber the way the
// teacher's pkg/api does.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"convoengine/internal/config"
	"convoengine/internal/contentblock"
	"convoengine/internal/engine"
	"convoengine/internal/logging"
	"convoengine/internal/prompt"
	"convoengine/internal/provider"
	"convoengine/internal/store"
	"convoengine/internal/tools"
	"convoengine/internal/transcript"
)

// Deps are the explicit, dependency-injected collaborators the server
// holds references to at construction — never a global lookup, per spec
// §9's "break implicit cyclic references into explicit DI" design note.
type Deps struct {
	Config     *config.Config
	Assembler  *prompt.Assembler
	Providers  *provider.Registry
	Registry   *store.Registry
	Relational *store.Relational
	Tools      *tools.Registry
	Logger     *logging.Logger
}

// chatRequest is the wire shape of an incoming turn, shared by the
// streaming and unary endpoints (§6's "identical inputs" for both shapes).
type chatRequest struct {
	UserName        string   `json:"user_name"`
	OperatorID      string   `json:"operator_id"`
	Model           string   `json:"model"`
	Message         string   `json:"message"`
	ShortTermMemory []string `json:"short_term_memory"`
	LongTermMemory  []string `json:"long_term_memory"`
	Images          []string `json:"images"`
	KnowledgeBase   string   `json:"knowledge_base"`
	ReasoningEffort string   `json:"reasoning_effort"`
}

// batchRequest is §6's batch completion shape: one ordered list of messages
// run independently against a shared config, no shared state between runs.
type batchRequest struct {
	UserName        string   `json:"user_name"`
	OperatorID      string   `json:"operator_id"`
	Model           string   `json:"model"`
	Messages        []string `json:"messages"`
	ShortTermMemory []string `json:"short_term_memory"`
	LongTermMemory  []string `json:"long_term_memory"`
	Images          []string `json:"images"`
	KnowledgeBase   string   `json:"knowledge_base"`
	ReasoningEffort string   `json:"reasoning_effort"`
}

// batchResult is one entry of a batch completion's ordered response list.
type batchResult struct {
	ChatID string               `json:"chat_id"`
	Blocks []contentblock.Block `json:"blocks,omitempty"`
	Error  string               `json:"error,omitempty"`
}

var (
	errUnknownOperator     = errors.New("unknown operator")
	errUnknownModel        = errors.New("unknown model")
	errProviderUnavailable = errors.New("provider unavailable")
)

// New builds a Fiber app with the three §6 endpoints registered.
func New(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Post("/v1/chat", handleChat(deps))
	app.Post("/v1/completions", handleCompletion(deps))
	app.Post("/v1/batch", handleBatch(deps))
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	return app
}

// setupRun resolves the operator/model/adapter for req, persists the chat
// row, and assembles the initial message list, the setup every one of the
// three inbound shapes needs before handing off to the engine. Each call
// mints a fresh chat_id so batch runs never share state across messages.
func setupRun(ctx context.Context, deps Deps, req chatRequest) (string, *engine.Engine, []contentblock.Message, error) {
	chatID := uuid.NewString()

	operator, err := deps.Registry.Operator(ctx, req.OperatorID)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: %s", errUnknownOperator, req.OperatorID)
	}
	modelRecord, err := deps.Registry.Model(ctx, req.Model)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: %s", errUnknownModel, req.Model)
	}

	adapter, err := deps.Providers.Resolve(ctx, provider.Operator{
		ID:      operator.ID,
		Runtime: provider.Runtime(operator.Runtime),
		Family:  provider.CompletionsFamily(operator.Family),
		APIKey:  operator.APIKey,
		BaseURL: operator.BaseURL,
		Model:   req.Model,
	})
	if err != nil {
		deps.Logger.Error("resolve operator failed", "operator_id", req.OperatorID, "err", err)
		return "", nil, nil, fmt.Errorf("%w: %s", errProviderUnavailable, err)
	}

	if err := deps.Relational.SaveChat(ctx, chatID, req.UserName, req.Model, req.Message); err != nil {
		deps.Logger.Error("save chat failed", "chat_id", chatID, "err", err)
	}

	messages, err := deps.Assembler.Assemble(ctx, prompt.Input{
		UserName:        req.UserName,
		BaseModel:       req.Model,
		Multimodal:      modelRecord.Multimodal,
		LongTermMemory:  req.LongTermMemory,
		ShortTermMemory: req.ShortTermMemory,
		Message:         req.Message,
		Images:          req.Images,
		KnowledgeBase:   req.KnowledgeBase,
	})
	if err != nil {
		deps.Logger.Error("assemble prompt failed", "chat_id", chatID, "err", err)
		return "", nil, nil, fmt.Errorf("assemble prompt: %w", err)
	}

	eng := engine.NewEngine(adapter, tools.NewDispatcher(deps.Tools), deps.Tools.List())
	return chatID, eng, messages, nil
}

// mapSetupError renders a setupRun failure as the appropriate HTTP status,
// shared by every endpoint so client-facing error shapes stay consistent.
func mapSetupError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, errUnknownOperator):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown operator"})
	case errors.Is(err, errUnknownModel):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown model"})
	case errors.Is(err, errProviderUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider unavailable"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

func handleChat(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req chatRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if req.Message == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message is required"})
		}

		ctx := c.Context()
		chatID, eng, messages, err := setupRun(ctx, deps, req)
		if err != nil {
			return mapSetupError(c, err)
		}

		events := make(chan engine.Event, 32)
		runCtx, cancel := context.WithCancel(context.Background())

		c.Set(fiber.HeaderContentType, "application/x-ndjson")
		c.Status(fiber.StatusOK)

		return streamResponse(c, deps, chatID, eng, messages, req.ReasoningEffort, events, runCtx, cancel)
	}
}

// handleCompletion serves §6's unary completion shape: identical inputs to
// the streaming endpoint, but the response is the final assistant turn's
// ContentBlocks as a single JSON document rather than an NDJSON stream.
func handleCompletion(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req chatRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if req.Message == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "message is required"})
		}

		ctx := c.Context()
		chatID, eng, messages, err := setupRun(ctx, deps, req)
		if err != nil {
			return mapSetupError(c, err)
		}

		blocks, err := runToCompletion(ctx, deps, chatID, eng, messages, provider.ReasoningEffort(req.ReasoningEffort))
		if err != nil {
			deps.Logger.Error("completion run failed", "chat_id", chatID, "err", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "completion failed"})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"chat_id": chatID, "blocks": blocks})
	}
}

// handleBatch serves §6's batch completion shape: each message runs as an
// independent setupRun + engine.Run, its own chat_id, no collaborator state
// shared across iterations beyond the read-mostly registries/dispatcher.
func handleBatch(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req batchRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if len(req.Messages) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "messages is required"})
		}

		ctx := c.Context()
		results := make([]batchResult, 0, len(req.Messages))
		for _, message := range req.Messages {
			single := chatRequest{
				UserName:        req.UserName,
				OperatorID:      req.OperatorID,
				Model:           req.Model,
				Message:         message,
				ShortTermMemory: req.ShortTermMemory,
				LongTermMemory:  req.LongTermMemory,
				Images:          req.Images,
				KnowledgeBase:   req.KnowledgeBase,
				ReasoningEffort: req.ReasoningEffort,
			}

			chatID, eng, messages, err := setupRun(ctx, deps, single)
			if err != nil {
				results = append(results, batchResult{Error: err.Error()})
				continue
			}

			blocks, err := runToCompletion(ctx, deps, chatID, eng, messages, provider.ReasoningEffort(req.ReasoningEffort))
			if err != nil {
				deps.Logger.Error("batch run failed", "chat_id", chatID, "err", err)
				results = append(results, batchResult{ChatID: chatID, Error: "completion failed"})
				continue
			}
			results = append(results, batchResult{ChatID: chatID, Blocks: blocks})
		}

		return c.Status(fiber.StatusOK).JSON(fiber.Map{"results": results})
	}
}

// runToCompletion drives the engine to completion without a live client
// connection, persisting through the same transcript.Writer segmentation
// and truncation rules as the streaming path (io.Discard stands in for the
// network body), then returns the terminal assistant message's blocks.
func runToCompletion(ctx context.Context, deps Deps, chatID string, eng *engine.Engine, messages []contentblock.Message, effort provider.ReasoningEffort) ([]contentblock.Block, error) {
	events := make(chan engine.Event, 32)

	var state *engine.AgentState
	var runErr error
	done := make(chan struct{})
	go func() {
		defer deps.Logger.RecoverPanic("engine.Run", nil)
		defer close(done)
		state, runErr = eng.Run(ctx, messages, effort, events)
	}()

	writer := transcript.NewWriter(chatID, io.Discard, deps.Relational, deps.Logger)
	if err := writer.Run(ctx, events); err != nil {
		return nil, err
	}
	<-done
	if runErr != nil {
		return nil, runErr
	}

	last, ok := state.Last()
	if !ok || last.Role != contentblock.RoleAssistant {
		return nil, nil
	}
	return last.Blocks, nil
}

// streamResponse drives the engine and transcript writer inline against
// Fiber's streaming body writer, cancelling the run if the client
// disconnects mid-stream.
func streamResponse(c *fiber.Ctx, deps Deps, chatID string, eng *engine.Engine, messages []contentblock.Message, effortRaw string, events chan engine.Event, runCtx context.Context, cancel context.CancelFunc) error {
	defer cancel()

	go func() {
		defer deps.Logger.RecoverPanic("engine.Run", nil)
		_, err := eng.Run(runCtx, messages, provider.ReasoningEffort(effortRaw), events)
		if err != nil {
			deps.Logger.Error("engine run failed", "chat_id", chatID, "err", err)
		}
	}()

	writer := transcript.NewWriter(chatID, c.Response().BodyWriter(), deps.Relational, deps.Logger)
	return writer.Run(runCtx, events)
}
