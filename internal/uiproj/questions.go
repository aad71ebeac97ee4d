// Package uiproj projects user-facing plan nodes into UI obligations. A
// fixed questionnaire decides which artifacts a node owes (screens, flows,
// navigation, settings, notifications); the answers live on the node and
// the generation from them is deterministic. Content is never invented: a
// user-facing node with no answers gets an OpenQuestion, and a "no UI"
// answer produces an owned Exclusion instead of silence.
package uiproj

// Question is one entry of the fixed UI questionnaire.
type Question struct {
	ID      string
	Prompt  string
	Options []string // empty for free text
}

var yesNo = []string{"yes", "no"}

// Protocol is the questionnaire, in asking order. Answers are persisted on
// the node's ui_answers map keyed by question id.
var Protocol = []Question{
	{ID: "presence", Prompt: "Does this need any user interface at all?", Options: yesNo},
	{ID: "entry", Prompt: "How does the user get here?", Options: []string{"main_nav", "sub_nav", "deep_link", "system", "none"}},
	{ID: "representation", Prompt: "What does the user see when they arrive?"},
	{ID: "interaction", Prompt: "What can the user do on it?"},
	{ID: "feedback", Prompt: "How are loading, empty, and error states shown?"},
	{ID: "settings", Prompt: "Does it expose user-adjustable settings?", Options: yesNo},
	{ID: "tutorial", Prompt: "Does a first-time user need onboarding?", Options: yesNo},
	{ID: "background", Prompt: "Does state change while the user is away?", Options: yesNo},
	{ID: "notifications", Prompt: "Should changes notify or badge the user?", Options: yesNo},
	{ID: "device", Prompt: "Which device classes and layouts apply?", Options: []string{"mobile", "desktop", "both"}},
	{ID: "a11y_i18n", Prompt: "What accessibility and localization needs apply?"},
	{ID: "privacy", Prompt: "Does it display or collect sensitive data?", Options: yesNo},
	{ID: "analytics", Prompt: "Which user events should be measured?"},
}

// QuestionByID returns the protocol entry for an id, nil for unknowns.
func QuestionByID(id string) *Question {
	for i := range Protocol {
		if Protocol[i].ID == id {
			return &Protocol[i]
		}
	}
	return nil
}

// Answered reports whether the answer map covers the whole protocol.
func Answered(answers map[string]string) bool {
	if answers["presence"] == "no" {
		// A "no UI" answer short-circuits; rationale is still required.
		return answers["rationale"] != ""
	}
	for _, q := range Protocol {
		if answers[q.ID] == "" {
			return false
		}
	}
	return true
}
