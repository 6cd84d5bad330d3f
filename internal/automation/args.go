package automation

import (
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webpilot/internal/browser/browsererr"
)

var codec = json.ConfigCompatibleWithStandardLibrary

// Pointer fields distinguish an absent argument from its zero value.

type selectorArgs struct {
	Selector string `json:"selector"`
}

type targetArgs struct {
	Selector string  `json:"selector"`
	Index    *int    `json:"index"`
	Text     *string `json:"text"`
}

type navigateArgs struct {
	URL string `json:"url"`
}

type codeArgs struct {
	Code string `json:"code"`
}

type scrollArgs struct {
	Selector  string   `json:"selector"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
	Direction string   `json:"direction"`
	Amount    float64  `json:"amount"`
}

type selectArgs struct {
	Selector string  `json:"selector"`
	Value    *string `json:"value"`
	Label    *string `json:"label"`
	Index    *int    `json:"index"`
}

type keyArgs struct {
	Key      string `json:"key"`
	Selector string `json:"selector"`
}

type waitSelectorArgs struct {
	Selector string  `json:"selector"`
	Timeout  float64 `json:"timeout"`
}

type waitArgs struct {
	MS float64 `json:"ms"`
}

type deviceArgs struct {
	DeviceID string `json:"deviceId"`
}

// decodeArgs converts the loosely typed argument map of a command into T.
func decodeArgs[T any](op string, m map[string]any) (T, error) {
	var out T
	if m == nil {
		return out, nil
	}
	data, err := codec.Marshal(m)
	if err != nil {
		return out, browsererr.New(op, browsererr.ErrValidation, err)
	}
	if err := codec.Unmarshal(data, &out); err != nil {
		return out, browsererr.New(op, browsererr.ErrValidation, err)
	}
	return out, nil
}
