package contract

import "strings"

type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Outcome is what a handler reports back after activation or an action.
// Reply is handed to the language model as the action result. Next is set
// when the action moved the flow to another stage; Terminal when the
// conversation is over.
type Outcome struct {
	Reply    string
	Next     Handler
	Terminal bool
}

type Choice string

const (
	ChoiceYes Choice = "yes"
	ChoiceNo  Choice = "no"
)

// ParseChoice is permissive: anything that is not a yes is a no.
func ParseChoice(raw string) Choice {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "y", "yeah", "yep", "sure", "true":
		return ChoiceYes
	default:
		return ChoiceNo
	}
}

type EmailMessage struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	PlainText string `json:"plain_text"`
	HTML      string `json:"html,omitempty"`
}
