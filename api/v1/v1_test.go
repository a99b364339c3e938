package v1

import (
	"testing"
)

var sha256tests = []struct {
	in       string
	expected bool
}{
	{"360f84035942243c6a36537ae2f8673485e6c04455a0a85a0db19690f2541480", true},
	{"27042f4e6eca7d0b2a7ee4026df2ecfa51d3339e6d122aa099118ecd8563bad9", true},
	{"B0B3E798E388F85158A9EB6C5053B81E76AA77E7A780D21CEBB8E127517227DC", true},
	// Empty
	{"", false},
	// Spaces
	{" 360f84035942243c6a36537ae2f8673485e6c04455a0a85a0db19690f2541480", false},
	{"27042f4e6eca7d0b2a7ee4026df2ecfa51d3339e6d122aa099118ecd8563bad9 ", false},
	// Too short
	{"0b3e798e388f85158a9eb6c5053b81e76aa77e7a780d21cebb8e127517227dc", false},
	{"invalid", false},
	// Too long
	{"b0b3e798e388f85158a9eb6c5053b81e76aa77e7a780d21cebb8e127517227dcaaa", false},
	// Invalid char
	{"b0b3e798e388f85158a9eb6c5053b81e76aa77e7a780d21cebb8e127517227dZ", false},
	{"Zb0b3e798e388f85158a9eb6c5053b81e76aa77e7a780d21cebb8e127517227d", false},
	// Trailing newline
	{"b0b3e798e388f85158a9eb6c5053b81e76aa77e7a780d21cebb8e127517227dc\n", false},
}

func TestSha256Regex(t *testing.T) {
	for _, v := range sha256tests {
		t.Logf("testing %v %v", v.in, v.expected)
		if RegexpSHA256.MatchString(v.in) != v.expected {
			t.Errorf("testing %v %v got %v %v",
				v.in, v.expected, v.in, !v.expected)
		}
	}
}

func TestWebhookURL(t *testing.T) {
	tests := []struct {
		base  string
		route string
		want  string
	}{
		{"https://proof.example.com", UnconfirmedRoute,
			"https://proof.example.com/unconfirmed/s3cr3t/Dsabc"},
		{"https://proof.example.com/", ConfirmedRoute,
			"https://proof.example.com/confirmed/s3cr3t/Dsabc"},
		{"https://proof.example.com", AnchoredRoute,
			"https://proof.example.com/anchored/s3cr3t/Dsabc"},
	}
	for _, test := range tests {
		got := WebhookURL(test.base, test.route, "s3cr3t", "Dsabc")
		if got != test.want {
			t.Errorf("got %v want %v", got, test.want)
		}
	}
}

func TestPaidTo(t *testing.T) {
	tx := Tx{
		Hash: "deadbeef",
		Outputs: []TxOutput{
			{Value: 100, Addresses: []string{"DsA"}},
			{Value: 50, Addresses: []string{"DsB"}},
			{Value: 25, Addresses: []string{"DsA", "DsA"}},
			{Value: 0, ScriptType: "null-data"},
		},
	}
	if got := tx.PaidTo("DsA"); got != 125 {
		t.Fatalf("DsA: got %v want 125", got)
	}
	if got := tx.PaidTo("DsB"); got != 50 {
		t.Fatalf("DsB: got %v want 50", got)
	}
	if got := tx.PaidTo("DsC"); got != 0 {
		t.Fatalf("DsC: got %v want 0", got)
	}
}
