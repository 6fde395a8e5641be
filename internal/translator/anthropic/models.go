package anthropic

// modelAliases is the hand-maintained table mapping Anthropic model ids to
// the upstream's own model identifiers (hand-maintained:
// a discovery-based alias table would be more robust, but is not
// implemented here).
var modelAliases = map[string]string{
	"claude-opus-4-1":         "claude-opus-4-1",
	"claude-opus-4-5":         "claude-opus-4-5",
	"claude-sonnet-4-5":       "claude-sonnet-4-5",
	"claude-sonnet-4-0":       "claude-sonnet-4-0",
	"claude-3-7-sonnet":       "claude-3-7-sonnet",
	"claude-3-5-sonnet":       "claude-3-5-sonnet",
	"claude-3-5-haiku":        "claude-3-5-haiku",
	"claude-3-haiku":          "claude-3-haiku",
}

// defaultModel is the conservative fallback for unrecognized inputs.
const defaultModel = "claude-sonnet-4-5"

// flashModel is the variant forced for web-search requests.
const flashModel = "gemini-2.5-flash"

// flashThinkingBudgetCap bounds the thinking budget when forcing flashModel.
const flashThinkingBudgetCap = 24576

// ResolveModel maps a client-supplied Anthropic model id to the upstream id.
func ResolveModel(clientModel string) string {
	if upstreamID, ok := modelAliases[clientModel]; ok {
		return upstreamID
	}
	return defaultModel
}

// SupportedModels lists every alias this translator recognizes, for the
// /v1/models listing.
func SupportedModels() []string {
	out := make([]string, 0, len(modelAliases))
	for k := range modelAliases {
		out = append(out, k)
	}
	return out
}
