package protocol

import "testing"

func TestExtractCmdUpper(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		want   string
		wantOK bool
	}{
		{"lower case name and value", "cmd=initialize", "INITIALIZE", true},
		{"multiple spaces", "  EQPID=A    CMD=Ping   X=1 ", "PING", true},
		{"tabs", "X=1\tCmd=report", "REPORT", true},
		{"no cmd", "EQPID=TEST001 LOT=1", "", false},
		{"blank", "   ", "", false},
		{"empty value skipped", "CMD= CMD=NEXT", "NEXT", true},
		{"empty name skipped", "=CMD CMD=OK", "OK", true},
		{"first cmd wins", "CMD=A CMD=B", "A", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractCmdUpper(tt.frame)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Expected (%q, %v), but got (%q, %v)", tt.want, tt.wantOK, got, ok)
			}
		})
	}
}

func TestParseToUpperKeyMap(t *testing.T) {
	m := ParseToUpperKeyMap("cmd=Ping lotId=Ab12 loop=count=5 flag= noeq lotid=Last")

	if m["CMD"] != "Ping" {
		t.Errorf("Expected CMD to keep value case 'Ping', but got '%s'", m["CMD"])
	}
	if m["LOTID"] != "Last" {
		t.Errorf("Expected last duplicate to win with 'Last', but got '%s'", m["LOTID"])
	}
	if m["LOOP"] != "count=5" {
		t.Errorf("Expected LOOP value 'count=5', but got '%s'", m["LOOP"])
	}
	if v, ok := m["FLAG"]; !ok || v != "" {
		t.Errorf("Expected FLAG to be present and empty, but got '%s' (present=%v)", v, ok)
	}
	if _, ok := m["NOEQ"]; ok {
		t.Error("Expected token without '=' to be ignored")
	}
}

func TestInitializeReply(t *testing.T) {
	if got := InitializeReply("TEST001"); got != "CMD=INITIALIZE_REP EQPID=TEST001" {
		t.Errorf("Expected handshake reply, but got '%s'", got)
	}
}
