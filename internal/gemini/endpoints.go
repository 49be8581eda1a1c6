package gemini

// Base URLs for the Cloud Code v1internal API, tried in order. The daily
// sandbox tier carries the antigravity quota, production is the fallback.
var DefaultEndpoints = []string{
	"https://daily-cloudcode-pa.sandbox.googleapis.com",
	"https://cloudcode-pa.googleapis.com",
}

// Envelope constants for v1internal requests.
const (
	EnvelopeUserAgent = "antigravity"
	RequestIDPrefix   = "agent-"
)

// Fixed client identification headers sent with every v1internal request.
const (
	UserAgent           = "antigravity/1.0.0 (linux; x64)"
	APIClientHeader     = "X-Goog-Api-Client"
	APIClientValue      = "gl-go/1.21 antigravity/1.0.0"
	MetadataHeader      = "Client-Metadata"
	AnthropicBetaHeader = "anthropic-beta"
)

// DefaultProject is the fallback project id when discovery fails and the
// account carries none.
const DefaultProject = "antigravity-default"

// InterleavedThinkingBeta is the beta protocol header value required for
// claude-family thinking requests.
const InterleavedThinkingBeta = "interleaved-thinking-2025-05-14"

// GenerateURL returns the non-streaming completion URL for a base.
func GenerateURL(base string) string {
	return base + "/v1internal:generateContent"
}

// StreamURL returns the SSE completion URL for a base.
func StreamURL(base string) string {
	return base + "/v1internal:streamGenerateContent?alt=sse"
}

// ModelsURL returns the model catalog URL for a base.
func ModelsURL(base string) string {
	return base + "/v1internal:fetchAvailableModels"
}

// LoadCodeAssistURL returns the onboarding URL for a base, used for
// project discovery.
func LoadCodeAssistURL(base string) string {
	return base + "/v1internal:loadCodeAssist"
}

// ClientMetadata is the fixed client identification object sent both as a
// request header and in the loadCodeAssist body.
func ClientMetadata() map[string]string {
	return map[string]string{
		"ideType":    "IDE_UNSPECIFIED",
		"platform":   "PLATFORM_UNSPECIFIED",
		"pluginType": "GEMINI",
	}
}
