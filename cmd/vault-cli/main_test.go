package main

import (
	"path/filepath"
	"testing"
)

func TestParseGlobals(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		rpcURL   string
		keyFile  string
		wantRest []string
	}{
		{
			name:     "defaults",
			args:     []string{"status"},
			rpcURL:   "http://127.0.0.1:8645",
			wantRest: []string{"status"},
		},
		{
			name:     "separate values",
			args:     []string{"--rpc", "http://node:1", "--datadir", "/tmp/v", "balance"},
			rpcURL:   "http://node:1",
			keyFile:  filepath.Join("/tmp/v", "keys", "user.key"),
			wantRest: []string{"balance"},
		},
		{
			name:     "inline values",
			args:     []string{"--key=/k/op.key", "--rpc=http://x", "deposit", "5"},
			rpcURL:   "http://x",
			keyFile:  "/k/op.key",
			wantRest: []string{"deposit", "5"},
		},
		{
			name:     "flags after command are left alone",
			args:     []string{"events", "--from", "3"},
			rpcURL:   "http://127.0.0.1:8645",
			wantRest: []string{"events", "--from", "3"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, rest := parseGlobals(tt.args)
			if g.rpcURL != tt.rpcURL {
				t.Errorf("rpcURL = %q, want %q", g.rpcURL, tt.rpcURL)
			}
			if tt.keyFile != "" && g.keyFile != tt.keyFile {
				t.Errorf("keyFile = %q, want %q", g.keyFile, tt.keyFile)
			}
			if g.keyFile == "" {
				t.Error("keyFile should default under the data dir")
			}
			if len(rest) != len(tt.wantRest) {
				t.Fatalf("rest = %v, want %v", rest, tt.wantRest)
			}
			for i := range rest {
				if rest[i] != tt.wantRest[i] {
					t.Errorf("rest[%d] = %q, want %q", i, rest[i], tt.wantRest[i])
				}
			}
		})
	}
}

func TestAmountMethods(t *testing.T) {
	for cmd, method := range amountMethods {
		if method == "" {
			t.Errorf("%s has no method", cmd)
		}
	}
	if amountMethods["deposit-eth"] != "vault_depositETH" {
		t.Errorf("deposit-eth = %q", amountMethods["deposit-eth"])
	}
}
