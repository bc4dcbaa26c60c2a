package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"slackmind/internal/eventbus"
	"slackmind/internal/llm"
	"slackmind/internal/security"
	"slackmind/internal/tool"
)

const (
	// ApologyText is returned when the model API fails.
	ApologyText = "Sorry, I encountered an error processing your request."
	// FallbackText is returned when no usable answer was produced.
	FallbackText = "I couldn't generate a response. Please try again."

	reinforcePrompt = "You must call the search_web function now to find this information. " +
		"Do not describe what you are going to do, just call the function."

	defaultTimeout = 60 * time.Second
)

var (
	// ErrUnsupportedTool is returned when the model asks for a tool other than search_web.
	ErrUnsupportedTool = errors.New("unsupported tool")
	// ErrNoResponse is returned when the model produced no text.
	ErrNoResponse = errors.New("no response from model")
)

// searchIntents are phrases a model uses when it announces a search
// instead of calling the tool.
var searchIntents = []string{
	"let me search",
	"i'll search",
	"i will search",
	"i'll look that up",
	"i will look that up",
	"let me look that up",
	"let me look it up",
	"let me check",
	"searching for",
	"search the web",
	"검색해",
}

// LoopConfig tunes one persona's model calls.
type LoopConfig struct {
	Workspace    string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	TopP         float64
	TopK         int
	Timeout      time.Duration
	Location     *time.Location
}

// Loop drives one user turn through the model, running search_web when
// asked to and reinforcing at most once.
type Loop struct {
	provider llm.Provider
	tools    *tool.Registry
	bus      *eventbus.Bus
	cfg      LoopConfig
	now      func() time.Time
}

// NewLoop creates a Loop. bus may be nil.
func NewLoop(provider llm.Provider, tools *tool.Registry, bus *eventbus.Bus, cfg LoopConfig) *Loop {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if tools == nil {
		tools = tool.NewRegistry()
	}
	return &Loop{provider: provider, tools: tools, bus: bus, cfg: cfg, now: time.Now}
}

// Run returns the reply for w. The text is always suitable for the user;
// a non-nil error means the exchange should not be stored.
func (l *Loop) Run(ctx context.Context, w Window) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	messages := w.Messages()
	out, err := l.send(ctx, messages)
	if err != nil {
		return ApologyText, err
	}

	switch out.Kind {
	case llm.OutcomeToolCall:
		return l.toolRound(ctx, messages, out, w.Query)
	case llm.OutcomeEmpty:
		return FallbackText, ErrNoResponse
	}

	if !announcesSearch(out.Text) {
		return out.Text, nil
	}

	// The model said it would search without calling the tool.
	l.bus.Publish(eventbus.TopicReinforce, l.cfg.Workspace)
	messages = append(messages,
		llm.Message{Role: llm.RoleAssistant, Content: out.Text},
		llm.Message{Role: llm.RoleUser, Content: reinforcePrompt},
	)
	next, err := l.send(ctx, messages)
	if err != nil {
		log.Printf("[agent] %s: reinforcement failed: %v", l.cfg.Workspace, err)
		return out.Text, nil
	}
	switch next.Kind {
	case llm.OutcomeToolCall:
		return l.toolRound(ctx, messages, next, w.Query)
	case llm.OutcomeAnswer:
		return next.Text, nil
	default:
		return out.Text, nil
	}
}

func (l *Loop) toolRound(ctx context.Context, messages []llm.Message, out llm.Outcome, userText string) (string, error) {
	call := out.Call
	if call.Name != tool.SearchWebName {
		log.Printf("[agent] %s: model requested unsupported tool %q", l.cfg.Workspace, call.Name)
		return FallbackText, fmt.Errorf("%w: %s", ErrUnsupportedTool, call.Name)
	}
	t, err := l.tools.Get(call.Name)
	if err != nil {
		return FallbackText, fmt.Errorf("%w: %v", ErrUnsupportedTool, err)
	}

	query := tool.QueryFromArgs(call.Arguments, userText)
	log.Printf("[agent] %s: searching the web for %q", l.cfg.Workspace, truncate(security.Redact(query), 100))

	args, _ := json.Marshal(map[string]string{"query": query})
	var result string
	res, err := t.Execute(ctx, args)
	failed := err != nil || (res != nil && res.IsError)
	switch {
	case err != nil:
		result = "Error executing tool: " + err.Error()
	default:
		result = res.Text()
	}
	l.bus.Publish(eventbus.TopicToolCall, eventbus.ToolCall{
		Workspace: l.cfg.Workspace,
		Name:      call.Name,
		Query:     query,
		Failed:    failed,
	})

	if call.ID == "" {
		call.ID = "call_search_web"
	}
	messages = append(messages,
		llm.Message{Role: llm.RoleAssistant, Content: out.Text, ToolCalls: []llm.ToolCall{call}},
		llm.Message{Role: llm.RoleTool, Content: result, ToolCallID: call.ID},
		llm.Message{Role: llm.RoleUser, Content: l.followUpPrompt(userText)},
	)

	final, err := l.send(ctx, messages)
	if err != nil {
		return ApologyText, err
	}
	if final.Text == "" {
		return FallbackText, ErrNoResponse
	}
	return final.Text, nil
}

// followUpPrompt asks for the answer and supplies the current date, which
// the model has no other way to know.
func (l *Loop) followUpPrompt(userText string) string {
	now := l.now().In(l.cfg.Location)
	return fmt.Sprintf(
		"Based on your search results, answer the original question: %q\n"+
			"Current date: %s (%s). Current time: %s %s.\n"+
			"Keep the answer short and conversational.",
		userText,
		now.Format("2006-01-02"), now.Weekday(), now.Format("15:04"), now.Format("MST"),
	)
}

func (l *Loop) send(ctx context.Context, messages []llm.Message) (llm.Outcome, error) {
	req := &llm.ChatRequest{
		Model:        l.cfg.Model,
		Messages:     messages,
		Tools:        l.tools.Definitions(),
		MaxTokens:    l.cfg.MaxTokens,
		Temperature:  l.cfg.Temperature,
		TopP:         l.cfg.TopP,
		TopK:         l.cfg.TopK,
		SystemPrompt: l.cfg.SystemPrompt,
	}

	start := time.Now()
	resp, err := l.provider.Chat(ctx, req)
	call := eventbus.LLMCall{
		Workspace: l.cfg.Workspace,
		Provider:  l.provider.Name(),
		Model:     l.cfg.Model,
		Purpose:   "reply",
		Duration:  time.Since(start),
		Err:       err,
	}
	if resp != nil {
		call.InputTokens = resp.Usage.InputTokens
		call.OutputTokens = resp.Usage.OutputTokens
		if resp.Model != "" {
			call.Model = resp.Model
		}
	}
	if call.Model == "" {
		call.Model = l.provider.DefaultModel()
	}
	l.bus.Publish(eventbus.TopicLLMResponse, call)

	if err != nil {
		if llm.IsTimeout(err) {
			log.Printf("[agent] %s: model call timed out after %s", l.cfg.Workspace, l.cfg.Timeout)
		} else {
			log.Printf("[agent] %s: model call failed (%s): %v", l.cfg.Workspace, llm.TypeOf(err), err)
		}
		return llm.Outcome{}, err
	}
	return llm.Decode(resp), nil
}

func announcesSearch(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range searchIntents {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
