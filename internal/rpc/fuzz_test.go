package rpc

import (
	"encoding/json"
	"testing"
)

// FuzzSignedParams checks that arbitrary JSON params never panic the
// decode and verify path of a signed call.
func FuzzSignedParams(f *testing.F) {
	f.Add([]byte(`{"from":"0x0000000000000000000000000000000000000001","nonce":1,"signature":"0x00","asset":"0x01","amount":"10"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"from":"","signature":"0x` + "ff" + `"}`))
	f.Add([]byte(`{"signature":"0x1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b"}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var raw interface{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return
		}
		req := &Request{JSONRPC: "2.0", Method: "vault_depositSingle", Params: raw}
		var params AssetAmountParam
		if err := parseParams(req, &params); err != nil {
			return
		}
		if _, err := Verify(req.Method, &params); err == nil && params.Signature == "" {
			t.Fatal("empty signature verified")
		}
	})
}
