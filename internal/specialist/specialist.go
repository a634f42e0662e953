package specialist

import "context"

// Invoker is the callable side of a specialist: a task string in, a result
// string out. Implementations are the LLM client, the bus-backed remote
// invoker, or a test double. Any failure is a step failure to the engine,
// never a fatal one.
type Invoker interface {
	Invoke(ctx context.Context, task string) (string, error)
}

// Lifecycle is optionally implemented by invokers that hold resources.
// The registry checks for it during InitializeAll/ShutdownAll and on Remove.
type Lifecycle interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ModelConfig is the configuration snapshot captured when a specialist is
// registered. Immutable afterwards.
type ModelConfig struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// Specialist is a named agent with a role, capability tags, and an opaque
// callable handle. The registry exclusively owns these records.
type Specialist struct {
	Name         string      `json:"name"`
	Role         string      `json:"role"`
	Capabilities []string    `json:"capabilities"`
	Config       ModelConfig `json:"config"`

	handle  Invoker
	ordinal int
}

// Handle returns the underlying callable agent.
func (s *Specialist) Handle() Invoker {
	return s.handle
}

// Ordinal is the specialist's position in registry insertion order,
// persisted with the registry snapshot.
func (s *Specialist) Ordinal() int {
	return s.ordinal
}

// InvokeFunc adapts a plain function to the Invoker interface.
type InvokeFunc func(ctx context.Context, task string) (string, error)

func (f InvokeFunc) Invoke(ctx context.Context, task string) (string, error) {
	return f(ctx, task)
}
