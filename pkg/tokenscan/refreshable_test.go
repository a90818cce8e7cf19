package tokenscan

import "testing"

func TestIsRefreshableToken(t *testing.T) {
	cases := []struct {
		name, value string
		want        bool
	}{
		{"csrf_token", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6", true},
		{"xsrf", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6", true},
		{"access_token", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6", false},
		{"api_token", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6", false},
		{"nonce", "short", false},
		{"username", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6", false},
	}
	for _, tc := range cases {
		if got := IsRefreshableToken(tc.name, tc.value); got != tc.want {
			t.Errorf("IsRefreshableToken(%q, %q) = %v, want %v", tc.name, tc.value, got, tc.want)
		}
	}
}

func TestDetectRefreshableTokens(t *testing.T) {
	body := []byte(`{
		"data": {
			"csrf_token": "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6",
			"user": {"nonce": "f0e1d2c3b4a5968778695a4b3c2d1e0f"}
		},
		"access_token": "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6",
		"items": [{"xsrf": "1234567890abcdef1234567890abcdef"}]
	}`)

	got := DetectRefreshableTokens(body)
	if len(got) != 3 {
		t.Fatalf("DetectRefreshableTokens = %v, want 3 paths", got)
	}
}
