package main

import (
	"strings"

	"github.com/xanados/searchdestroy-core/pkg/elevation"
	"github.com/xanados/searchdestroy-core/pkg/prompting"
)

// terminalPrompter implements elevation.Prompter by asking the operator to
// confirm on the controlling terminal. It is the foreground fallback used
// when no richer prompting surface (a desktop notification, say) is wired
// in. Neither it nor prompting.PromptCommandLine checks whether a terminal
// is attached; the response mode is chosen from the prompt text alone.
type terminalPrompter struct{}

// PromptForScopes implements elevation.Prompter.PromptForScopes.
func (terminalPrompter) PromptForScopes(scopes []elevation.Scope) (bool, error) {
	names := make([]string, len(scopes))
	for i, s := range scopes {
		names[i] = string(s)
	}
	response, err := prompting.PromptCommandLine(
		"Approve privileged operation (" + strings.Join(names, ", ") + ")? [y/N]: ",
	)
	if err != nil {
		return false, err
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes", nil
}
