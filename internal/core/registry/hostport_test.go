package registry

import "testing"

func TestParseHostPort(t *testing.T) {
	hp, err := ParseHostPort(" 0.0.0.0:31001 ")
	if err != nil {
		t.Fatalf("ParseHostPort failed: %v", err)
	}
	if hp.Host != "0.0.0.0" || hp.Port != 31001 {
		t.Errorf("Expected 0.0.0.0:31001, but got %+v", hp)
	}
	if hp.String() != "0.0.0.0:31001" {
		t.Errorf("Expected String() 0.0.0.0:31001, but got %s", hp.String())
	}

	for _, bad := range []string{"", "  ", "host", ":80", "host:", "host:abc", "host:0", "host:65536"} {
		if _, err := ParseHostPort(bad); err == nil {
			t.Errorf("Expected error for %q, but got nil", bad)
		}
	}
}
