// Package sym defines canonical symbols for yume subsystem markers.
// These symbols are stable across log output, CLI, and documentation.
package sym

// Subsystem symbols. Each long-lived component logs under its glyph so an
// operator can scan mixed output at a glance.
const (
	Pulse      = "꩜" // worker pool, queue, job execution
	PulseOpen  = "✿" // graceful startup
	PulseClose = "❀" // graceful shutdown with queue drain
	Dream      = "☾" // dream controller and its children
	WS         = "⇅" // websocket hub and session traffic
	Store      = "⊔" // file-ref and output blob storage
	Mode       = "≡" // mode registry and configuration
	Render     = "✦" // worker/backend render activity
)

// entry binds a glyph to its label and description.
type entry struct {
	glyph       string
	label       string
	description string
}

// registry is the canonical symbol table.
var registry = []entry{
	{Pulse, "Pool", "Worker pool, queue, and job execution"},
	{PulseOpen, "Startup", "Graceful startup"},
	{PulseClose, "Shutdown", "Graceful shutdown with queue drain"},
	{Dream, "Dream", "Dream controller and its children"},
	{WS, "Sessions", "WebSocket hub and session traffic"},
	{Store, "Storage", "File-ref and output blob storage"},
	{Mode, "Modes", "Mode registry and configuration"},
	{Render, "Render", "Worker/backend render activity"},
}

var labels map[string]string

func init() {
	labels = make(map[string]string, len(registry))
	for _, e := range registry {
		labels[e.glyph] = e.label
	}
}

// Label returns the human-readable label for a glyph, or "" if unknown.
func Label(glyph string) string {
	return labels[glyph]
}

// Describe returns the description for a glyph, or "" if unknown.
func Describe(glyph string) string {
	for _, e := range registry {
		if e.glyph == glyph {
			return e.description
		}
	}
	return ""
}
