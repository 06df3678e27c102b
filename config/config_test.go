package config

import "testing"

func TestNormalizeTrimsAndDefaults(t *testing.T) {
	c := &Config{
		APIBaseURL:      " https://router.huggingface.co/v1/ ",
		HFToken:         " hf_abc ",
		ModelCandidates: []string{" openai/gpt-oss-20b ", "", "  "},
		ModelFallback:   " openai/gpt-oss-20b ",
		MaxTokens:       -5,
		Temperature:     -1,
	}
	c.Normalize()

	if c.APIBaseURL != "https://router.huggingface.co/v1" {
		t.Fatalf("base url = %q", c.APIBaseURL)
	}
	if c.HFToken != "hf_abc" {
		t.Fatalf("token = %q", c.HFToken)
	}
	if len(c.ModelCandidates) != 1 || c.ModelCandidates[0] != "openai/gpt-oss-20b" {
		t.Fatalf("candidates = %v", c.ModelCandidates)
	}
	if c.MaxTokens != 1000 {
		t.Fatalf("max tokens = %d", c.MaxTokens)
	}
	if c.Temperature != 0.7 {
		t.Fatalf("temperature = %v", c.Temperature)
	}
}

func TestHasCredential(t *testing.T) {
	if (&Config{}).HasCredential() {
		t.Fatal("empty token must report unconfigured")
	}
	if !(&Config{HFToken: "hf_x"}).HasCredential() {
		t.Fatal("non-empty token must report configured")
	}
}
