package prompt

import (
	_ "embed"
	"strings"

	statex "github.com/tanpawarit/shopping-voice-assistant/agent/state"
)

var (
	//go:embed template/collect.txt
	collectRaw string

	//go:embed template/summarize.txt
	summarizeRaw string

	//go:embed template/deliver.txt
	deliverRaw string
)

// PromptSet holds the dialogue-engine instructions for each stage.
type PromptSet struct {
	Collect   string
	Summarize string
	Deliver   string
}

func LoadPromptSet() PromptSet {
	return PromptSet{
		Collect:   strings.TrimSpace(collectRaw),
		Summarize: strings.TrimSpace(summarizeRaw),
		Deliver:   strings.TrimSpace(deliverRaw),
	}
}

// For returns the instructions of a stage, or "" for an unknown stage.
func (p PromptSet) For(stage statex.StageID) string {
	switch stage {
	case statex.StageCollect:
		return p.Collect
	case statex.StageSummarize:
		return p.Summarize
	case statex.StageDeliver:
		return p.Deliver
	default:
		return ""
	}
}
