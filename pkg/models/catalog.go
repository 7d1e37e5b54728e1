package models

// ID is a logical model identifier as selected in the UI. Each logical model
// maps deterministically to exactly one concrete backend model and one fixed
// tool set; the mapping is a pure lookup, never branching at call sites.
type ID string

const (
	// GeneralFast is the default conversational model.
	GeneralFast ID = "general-fast"
	// GeneralPro is the highest-capability model and the escalation target
	// for turns that carry attachments or URLs.
	GeneralPro ID = "general-pro"
	// LocationAware answers with maps grounding. It always maps to a fixed
	// lightweight backend model regardless of escalation.
	LocationAware ID = "location-aware"
	// ImageGen generates images instead of streaming text.
	ImageGen ID = "image-gen"
)

// Tool identifies one backend-side capability attached to a session.
type Tool string

const (
	ToolWebSearch     Tool = "web-search"
	ToolURLContext    Tool = "url-context"
	ToolCodeExecution Tool = "code-execution"
	ToolMapsGrounding Tool = "maps-grounding"
)

// Spec is the concrete backend binding for one logical model.
type Spec struct {
	// Backend is the concrete backend model name sent to the transport.
	Backend string
	// Tools is the fixed tool set for sessions created on this model.
	Tools []Tool
	// SystemInstruction is the long-form behavior prompt attached to fresh
	// sessions that have neither history nor a context cache.
	SystemInstruction string
}

const generalInstruction = `You are a helpful, precise assistant. Answer in the
user's language. Prefer concise answers; expand only when the question calls
for depth. When you use web results or provided URLs, cite your sources. When
a computation or data transformation is needed, write and execute code rather
than estimating. Never fabricate citations or execution output.`

const locationInstruction = `You are a local guide. Ground every place
recommendation in maps data and include the place reference for each venue you
mention. If the user's request has no location component, answer normally and
say that maps grounding was not needed.`

var catalog = map[ID]Spec{
	GeneralFast: {
		Backend:           "gemini-2.5-flash",
		Tools:             []Tool{ToolWebSearch, ToolURLContext, ToolCodeExecution},
		SystemInstruction: generalInstruction,
	},
	GeneralPro: {
		Backend:           "gemini-2.5-pro",
		Tools:             []Tool{ToolWebSearch, ToolURLContext, ToolCodeExecution},
		SystemInstruction: generalInstruction,
	},
	LocationAware: {
		Backend:           "gemini-2.5-flash-lite",
		Tools:             []Tool{ToolMapsGrounding},
		SystemInstruction: locationInstruction,
	},
	ImageGen: {
		Backend: "gemini-2.0-flash-preview-image-generation",
		Tools:   nil,
	},
}

// Lookup resolves a logical model to its backend binding.
func Lookup(id ID) (Spec, bool) {
	s, ok := catalog[id]
	return s, ok
}

// Known reports whether id is a valid logical model identifier.
func Known(id ID) bool {
	_, ok := catalog[id]
	return ok
}

// Default is the model used for new conversations and for identifiers that
// fail to load from the durable store.
func Default() ID {
	return GeneralFast
}

// Escalated is the model used once a conversation requires the
// highest-capability backend.
func Escalated() ID {
	return GeneralPro
}

// All returns the logical identifiers in a stable order.
func All() []ID {
	return []ID{GeneralFast, GeneralPro, LocationAware, ImageGen}
}
