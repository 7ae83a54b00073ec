package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/defi-compiler/internal/errors"
	"github.com/ggonzalez94/defi-compiler/internal/execution"
	"github.com/ggonzalez94/defi-compiler/internal/permissions"
)

// Summary is what a tool-calling loop receives back.
type Summary struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	// Batch is the importable file, present on success of a grant.
	Batch *permissions.File `json:"batch,omitempty"`
	// Payload is present on success of a build.
	Payload *execution.Payload `json:"payload,omitempty"`
}

// String renders the message followed by the embedded JSON.
func (s Summary) String() string {
	var embedded any
	switch {
	case s.Batch != nil:
		embedded = s.Batch
	case s.Payload != nil:
		embedded = s.Payload
	default:
		return s.Message
	}
	raw, err := json.MarshalIndent(embedded, "", "  ")
	if err != nil {
		return s.Message
	}
	return s.Message + "\n\n```json\n" + string(raw) + "\n```"
}

// Summarize describes a grant outcome. Failures carry only the short
// user-facing message.
func Summarize(file permissions.File, err error) Summary {
	if err != nil {
		return Summary{Message: clierr.UserMessage(err)}
	}
	noun := "transactions"
	if file.Meta.TransactionCount == 1 {
		noun = "transaction"
	}
	msg := fmt.Sprintf("Prepared %d %s for %s on chain %s. Import the batch below into the Safe Transaction Builder.",
		file.Meta.TransactionCount, noun, strings.Join(file.Meta.Protocols, ", "), file.ChainID)
	return Summary{OK: true, Message: msg, Batch: &file}
}

// SummarizeBuild describes a build outcome.
func SummarizeBuild(payload execution.Payload, err error) Summary {
	if err != nil {
		return Summary{Message: clierr.UserMessage(err)}
	}
	msg := payload.Preview
	switch payload.Kind {
	case execution.KindEIP712:
		msg += ". Sign the typed data below."
	case execution.KindSafeTx:
		msg += ". Propose the transaction below from the Safe."
	}
	return Summary{OK: true, Message: msg, Payload: &payload}
}
