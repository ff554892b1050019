package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testSecret = "SG.live-sendgrid-key-0042"

func TestSecretString_FmtVerbsRedact(t *testing.T) {
	s := SecretString(testSecret)

	for _, verb := range []string{"%s", "%v", "%+v"} {
		out := fmt.Sprintf(verb, s)
		if strings.Contains(out, testSecret) {
			t.Errorf("fmt.Sprintf(%q) leaked the raw secret: %s", verb, out)
		}
		if out != redactedPlaceholder {
			t.Errorf("fmt.Sprintf(%q) = %q, want %q", verb, out, redactedPlaceholder)
		}
	}
}

func TestSecretString_MarshalJSON_InStruct(t *testing.T) {
	type emailConfig struct {
		APIKey SecretString `json:"api_key"`
		From   string       `json:"from"`
	}

	data, err := json.Marshal(emailConfig{APIKey: SecretString(testSecret), From: "garden@example.com"})
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("json.Marshal leaked the raw secret: %s", data)
	}
	if !strings.Contains(string(data), redactedPlaceholder) {
		t.Errorf("json.Marshal did not contain the placeholder: %s", data)
	}
}

func TestSecretString_Unmask(t *testing.T) {
	if got := SecretString(testSecret).Unmask(); got != testSecret {
		t.Errorf("Unmask() = %q, want %q", got, testSecret)
	}
	if got := SecretString("").Unmask(); got != "" {
		t.Errorf("Unmask() on empty = %q, want empty", got)
	}
}
