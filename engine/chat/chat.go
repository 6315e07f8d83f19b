// Package chat orchestrates the conversational retrieval chain. Each request
// walks the same states: condense the follow-up into a standalone question,
// retrieve grounding context, compose the answer prompt, invoke the model,
// optionally verify relevance, and stream the result. All state is scoped to
// one request; nothing is shared between invocations.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kbchat-ai/kbchat/engine/domain"
	"github.com/kbchat-ai/kbchat/engine/retrieval"
)

// Model is the language-model contract the chain needs.
type Model interface {
	Complete(ctx context.Context, messages []domain.Message) (string, error)
	Stream(ctx context.Context, messages []domain.Message, onToken func(token string) error) error
}

// Retriever fetches grounding context and citation documents in one call.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (retrieval.Result, error)
}

// Options configures the chain.
type Options struct {
	// Verify enables the relevance check loop after each generated answer.
	Verify bool
	// MaxVerifyAttempts bounds the verify/rephrase loop.
	MaxVerifyAttempts int
	// Topic names the restricted subject area used by verification and the
	// redirect message, e.g. "KGE internships".
	Topic string
}

// DefaultOptions returns the canonical chain configuration.
func DefaultOptions() Options {
	return Options{
		Verify:            false,
		MaxVerifyAttempts: 3,
		Topic:             "this knowledge base",
	}
}

// Service drives the conversational retrieval chain.
type Service struct {
	model     Model
	retriever Retriever
	opts      Options
	logger    *slog.Logger
}

// New creates the chain service.
func New(model Model, retriever Retriever, opts Options, logger *slog.Logger) *Service {
	if opts.MaxVerifyAttempts <= 0 {
		opts.MaxVerifyAttempts = 3
	}
	if opts.Topic == "" {
		opts.Topic = DefaultOptions().Topic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{model: model, retriever: retriever, opts: opts, logger: logger}
}

// StreamFunc forwards answer tokens to onToken incrementally.
type StreamFunc func(ctx context.Context, onToken func(token string) error) error

// Answer is the outcome of one chain invocation. Citations is fulfilled
// exactly once, by the first retrieval, and is readable before or during
// streaming; Stream delivers the answer tokens.
type Answer struct {
	// Citations yields the documents backing the answer. An answer produced
	// without retrieval (greetings) yields an empty slice.
	Citations <-chan []domain.Document
	Stream    StreamFunc
}

// Ask runs the chain for a conversation. The last message is the new user
// question; everything before it is history. Retrieval and, when enabled,
// the verification loop happen here; model token streaming is deferred until
// Answer.Stream so the transport can forward tokens as they arrive.
func (s *Service) Ask(ctx context.Context, messages []domain.Message) (*Answer, error) {
	if err := domain.ValidateMessages(messages); err != nil {
		return nil, err
	}

	history := messages[:len(messages)-1]
	question := messages[len(messages)-1].Content
	chatHistory := domain.FormatHistory(history)

	citations := make(chan []domain.Document, 1)
	var once sync.Once
	fulfil := func(docs []domain.Document) {
		once.Do(func() {
			citations <- docs
			close(citations)
		})
	}

	if isGreeting(question) {
		s.logger.Info("chat greeting short-circuit")
		fulfil(nil)
		prompt := fmt.Sprintf(greetingTemplate, question)
		return &Answer{
			Citations: citations,
			Stream: func(ctx context.Context, onToken func(string) error) error {
				return s.model.Stream(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}}, onToken)
			},
		}, nil
	}

	standalone := s.condense(ctx, chatHistory, question)

	if s.opts.Verify {
		answer, err := s.answerVerified(ctx, chatHistory, standalone, fulfil)
		if err != nil {
			return nil, err
		}
		return &Answer{
			Citations: citations,
			Stream: func(_ context.Context, onToken func(string) error) error {
				return onToken(answer)
			},
		}, nil
	}

	retrieved, err := s.retriever.Retrieve(ctx, standalone)
	if err != nil {
		return nil, fmt.Errorf("chat: retrieve: %w", err)
	}
	fulfil(retrieved.Documents)

	prompt := fmt.Sprintf(answerTemplate, retrieved.Context, chatHistory, standalone)
	return &Answer{
		Citations: citations,
		Stream: func(ctx context.Context, onToken func(string) error) error {
			return s.model.Stream(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}}, onToken)
		},
	}, nil
}

// condense rewrites the question to be standalone. With no history the
// question already is; on model failure the original question is kept, the
// chain does not fail over a bad condensation.
func (s *Service) condense(ctx context.Context, chatHistory, question string) string {
	if strings.TrimSpace(chatHistory) == "" {
		return question
	}
	prompt := fmt.Sprintf(condenseTemplate, chatHistory, question)
	out, err := s.model.Complete(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}})
	if err != nil {
		s.logger.Warn("chat: condense failed, using original question", "err", err)
		return question
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return question
	}
	return out
}

// answerVerified runs the answer/verify loop: generate, check relevance,
// rephrase and retry up to MaxVerifyAttempts, then fall back to the redirect
// message. Retries are sequential. Citations are fulfilled by the first
// retrieval only.
func (s *Service) answerVerified(ctx context.Context, chatHistory, question string, fulfil func([]domain.Document)) (string, error) {
	current := question
	for attempt := 1; attempt <= s.opts.MaxVerifyAttempts; attempt++ {
		retrieved, err := s.retriever.Retrieve(ctx, current)
		if err != nil {
			return "", fmt.Errorf("chat: retrieve: %w", err)
		}
		fulfil(retrieved.Documents)

		prompt := fmt.Sprintf(answerTemplate, retrieved.Context, chatHistory, current)
		answer, err := s.model.Complete(ctx, []domain.Message{{Role: domain.RoleUser, Content: prompt}})
		if err != nil {
			return "", fmt.Errorf("chat: answer: %w", err)
		}

		verdict, err := s.model.Complete(ctx, []domain.Message{{
			Role:    domain.RoleUser,
			Content: fmt.Sprintf(verifyTemplate, s.opts.Topic, current, answer),
		}})
		if err != nil {
			// An unverifiable answer is still an answer; the check is a
			// guard, not a gate on availability.
			s.logger.Warn("chat: verification failed, returning unverified answer", "err", err)
			return answer, nil
		}

		if strings.HasPrefix(strings.TrimSpace(verdict), "YES") {
			return answer, nil
		}
		s.logger.Info("chat: answer rejected by verification", "attempt", attempt)
		current = fmt.Sprintf(rephraseTemplate, s.opts.Topic, current)
	}

	// fulfil is a no-op if some retrieval already resolved the citations;
	// reaching here without any successful retrieval cannot happen.
	return fmt.Sprintf(redirectTemplate, s.opts.Topic), nil
}

// greetings the chain answers naturally without consulting the store.
var greetings = map[string]bool{
	"hello": true, "hi": true, "hey": true, "how are you": true,
	"good morning": true, "good afternoon": true, "good evening": true,
	"what's up": true, "whats up": true, "nice to meet you": true,
}

func isGreeting(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	q = strings.Trim(q, "!?. ")
	return greetings[q]
}
