package capability

var (
	standard = Capabilities{RequestTimeout: DefaultTimeout}

	miniReasoning = Capabilities{
		SupportsReasoningEffort: true,
		ExcludesPenalties:       true,
		RequestTimeout:          ThinkingTimeout,
	}

	reasoning = Capabilities{
		ExcludesPenalties: true,
		RequestTimeout:    ThinkingTimeout,
	}

	vision = Capabilities{
		VisionCapable:  true,
		RequestTimeout: DefaultTimeout,
	}
)

// DefaultModels is the known xAI model table.
var DefaultModels = map[string]Capabilities{
	"grok-3":               standard,
	"grok-3-latest":        standard,
	"grok-3-fast":          standard,
	"grok-3-fast-latest":   standard,
	"grok-3-mini":          miniReasoning,
	"grok-3-mini-latest":   miniReasoning,
	"grok-3-mini-fast":     miniReasoning,
	"grok-4":               reasoning,
	"grok-4-latest":        reasoning,
	"grok-2-vision":        vision,
	"grok-2-vision-latest": vision,
	"grok-2-vision-1212":   vision,
}

// DefaultFamilies catches model IDs missing from DefaultModels. Order
// matters: the first matching pattern wins.
var DefaultFamilies = []Family{
	{Pattern: "vision", Capabilities: vision},
	{Pattern: "grok-3-mini", Capabilities: miniReasoning},
	{Pattern: "grok-4", Capabilities: reasoning},
}

// Default returns a Gate over the default xAI tables.
func Default() *Gate {
	return NewGate(DefaultModels, DefaultFamilies, standard)
}
