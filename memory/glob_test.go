package memory

import "testing"

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"users:*", "users:42", true},
		{"users:*", "orders:42", false},
		{"users:*:profile", "users:42:profile", true},
		{"users:*:profile", "users:42:settings", false},
		{"user?", "users", true},
		{"user?", "user", false},
		{"user?", "userXX", false},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "abc", true},
		{"a*b*c", "aXbY", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{`literal\*`, "literal*", true},
		{`literal\*`, "literalX", false},
		{`q\?`, "q?", true},
		{`q\?`, "qx", false},
		{"", "", true},
		{"", "x", false},
	}
	for _, tc := range cases {
		if got := globMatch(tc.pattern, tc.input); got != tc.want {
			t.Errorf("globMatch(%q, %q) = %v, want %v", tc.pattern, tc.input, got, tc.want)
		}
	}
}
