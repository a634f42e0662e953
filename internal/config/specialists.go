package config

// DefaultSpecialists is the built-in pool used when no config file defines one.
// Each entry pairs a role with the capability keywords the router scores
// against incoming tasks.
func DefaultSpecialists() []SpecialistDefinition {
	return []SpecialistDefinition{
		{
			Name:         "coder",
			Role:         "Senior Software Engineer",
			Capabilities: []string{"programming", "code", "debugging", "architecture", "testing"},
			Model:        "claude-sonnet-4-5-20250929",
			Temperature:  0.2,
			SystemPrompt: "You are a senior software engineer. Write clean, well-documented code, review code thoroughly, and explain your reasoning.",
		},
		{
			Name:         "analyst",
			Role:         "Senior Data Scientist",
			Capabilities: []string{"data", "statistics", "analysis", "calculation", "arithmetic"},
			Model:        "claude-sonnet-4-5-20250929",
			Temperature:  0.3,
			SystemPrompt: "You are a senior data scientist. Analyze data rigorously, validate conclusions, and state your assumptions.",
		},
		{
			Name:         "writer",
			Role:         "Senior Content Strategist",
			Capabilities: []string{"writing", "editing", "content", "summary", "communication"},
			Model:        "claude-haiku-4-5-20251001",
			Temperature:  0.8,
			SystemPrompt: "You are a senior content strategist. Write clear, engaging prose adapted to the audience.",
		},
		{
			Name:         "researcher",
			Role:         "Senior Research Analyst",
			Capabilities: []string{"research", "synthesis", "fact_checking", "sources"},
			Model:        "claude-sonnet-4-5-20250929",
			Temperature:  0.4,
			SystemPrompt: "You are a senior research analyst. Research thoroughly, evaluate source credibility, and synthesize findings.",
		},
		{
			Name:         "general",
			Role:         "assistant",
			Capabilities: []string{"general", "conversation", "help"},
			Model:        "claude-haiku-4-5-20251001",
			Temperature:  0.7,
			SystemPrompt: "You are a helpful general-purpose assistant.",
		},
	}
}
