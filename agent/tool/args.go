package tool

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
)

type AddProductArgs struct {
	ProductName string `mapstructure:"product_name"`
}

type ConfirmEmailSendArgs struct {
	Choice string `mapstructure:"choice"`
}

// Decode maps raw model arguments onto a typed args struct. Values are
// coerced weakly so "1" or 1 both decode into a string field.
func Decode(tool string, args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("%w: build decoder for tool=%s: %v", contractx.ErrValidation, tool, err)
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("%w: invalid args for tool=%s: %v", contractx.ErrValidation, tool, err)
	}
	return nil
}
