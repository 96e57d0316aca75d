package tool

import (
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
	statex "github.com/tanpawarit/shopping-voice-assistant/agent/state"
)

const (
	ToolAddProduct       = "add_product"
	ToolFinishShopping   = "finish_shopping"
	ToolConfirmEmailSend = "confirm_email_send"
)

// ForStage returns the callable actions a stage exposes to the dialogue engine.
func ForStage(stage statex.StageID) []*schema.ToolInfo {
	switch stage {
	case statex.StageCollect:
		return []*schema.ToolInfo{
			{
				Name: ToolAddProduct,
				Desc: "Add a product to the shopping list.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"product_name": {Type: schema.String, Desc: "The name of the product to add to the shopping list", Required: true},
				}),
			},
			{
				Name: ToolFinishShopping,
				Desc: "Call this when the user indicates they are done adding products to their shopping list.",
			},
		}
	case statex.StageSummarize:
		return []*schema.ToolInfo{
			{
				Name: ToolConfirmEmailSend,
				Desc: "Handle the user's confirmation about sending the shopping list via email.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"choice": {
						Type:     schema.String,
						Desc:     "Does the user want to send the shopping list via email? Answer 'yes' or 'no'",
						Enum:     []string{string(contractx.ChoiceYes), string(contractx.ChoiceNo)},
						Required: true,
					},
				}),
			},
		}
	default:
		return nil
	}
}

// Names lists the tool names offered for a stage.
func Names(stage statex.StageID) []string {
	infos := ForStage(stage)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}

// MovesStage reports whether calling the tool can hand the conversation to
// another stage or end it.
func MovesStage(name string) bool {
	switch name {
	case ToolFinishShopping, ToolConfirmEmailSend:
		return true
	default:
		return false
	}
}
