package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr bool
	}{
		{"ok", Entry{ExchangeID: "x", Outcome: OutcomeCompleted}, false},
		{"missing exchange id", Entry{Outcome: OutcomeCompleted}, true},
		{"unknown outcome", Entry{ExchangeID: "x", Outcome: "lost"}, true},
		{"negative tokens", Entry{ExchangeID: "x", Outcome: OutcomeAborted, PromptTokens: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.entry)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
