package logging

import (
	"testing"
)

func TestRedactField_SecretKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"access token", "accessToken"},
		{"refresh token", "refreshToken"},
		{"id token", "idToken"},
		{"client secret", "clientSecret"},
		{"consumer secret", "consumerSecret"},
		{"token secret", "tokenSecret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := redactField(Field{Key: tt.key, Value: "super-secret"})
			if f.Value != redactedPlaceholder {
				t.Errorf("redactField(%q) = %v, want %q", tt.key, f.Value, redactedPlaceholder)
			}
		})
	}
}

func TestRedactField_NonSecretPassthrough(t *testing.T) {
	f := redactField(Field{Key: "provider", Value: "github"})
	if f.Value != "github" {
		t.Errorf("non-secret field should pass through, got %v", f.Value)
	}
}

func TestRedactField_TokenSetNesting(t *testing.T) {
	f := redactField(Field{Key: "tokenSet", Value: map[string]interface{}{
		"accessToken": "secret-value",
		"scope":       "repo",
	}})

	nested, ok := f.Value.(map[string]interface{})
	if !ok {
		t.Fatalf("tokenSet map value should stay a map, got %T", f.Value)
	}
	if nested["accessToken"] != redactedPlaceholder {
		t.Errorf("nested accessToken = %v, want %q", nested["accessToken"], redactedPlaceholder)
	}
	if nested["scope"] != "repo" {
		t.Errorf("nested non-secret scope = %v, want repo", nested["scope"])
	}
}

func TestRedactField_TokenSetOpaqueValue(t *testing.T) {
	// A tokenSet that is not a map cannot be inspected, so redact it entirely.
	f := redactField(Field{Key: "tokenSet", Value: struct{ AccessToken string }{"secret"}})
	if f.Value != redactedPlaceholder {
		t.Errorf("opaque tokenSet = %v, want %q", f.Value, redactedPlaceholder)
	}
}

func TestRedactFields_DoesNotMutateInput(t *testing.T) {
	fields := []Field{{Key: "accessToken", Value: "secret"}}
	_ = redactFields(fields)

	if fields[0].Value != "secret" {
		t.Errorf("input slice was mutated")
	}
}
