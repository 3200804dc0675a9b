package main

import (
	"strings"
	"testing"
)

func TestReadToken(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		want    string
		wantErr bool
	}{
		{"arg", []string{" abc.def.ghi "}, "", "abc.def.ghi", false},
		{"dash reads stdin", []string{"-"}, "tok.en.x\n", "tok.en.x", false},
		{"no args piped", nil, "piped.tok.en", "piped.tok.en", false},
		{"empty stdin", []string{"-"}, "\n", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readToken(tt.args, strings.NewReader(tt.stdin), false)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMaskToken(t *testing.T) {
	if got := maskToken(""); got != "<unset>" {
		t.Fatalf("empty: %q", got)
	}
	if got := maskToken("short"); got != "****" {
		t.Fatalf("short: %q", got)
	}
	got := maskToken("eyJhbGciOiJSUzI1NiJ9.payload.signature")
	if got != "eyJhbGci...ture" {
		t.Fatalf("long: %q", got)
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd(&globals{}, newUI())
	for _, name := range []string{"validate", "decode", "keys", "bench", "events"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s not registered", name)
		}
	}
}
