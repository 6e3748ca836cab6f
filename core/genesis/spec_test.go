package genesis

import (
	"testing"

	"usvchain/crypto"
	"usvchain/native/rewards"
)

func TestParseGenesisSpecDefaults(t *testing.T) {
	spec, err := ParseGenesisSpec([]byte(`{"genesisTime":"2025-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if spec.ChainIDValue() != DefaultChainID {
		t.Fatalf("unexpected chain id %d", spec.ChainIDValue())
	}
	params, err := spec.RewardsParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if !params.TotalSupply.Eq(rewards.DefaultTotalSupply) {
		t.Fatalf("unexpected total supply %s", params.TotalSupply.Dec())
	}
	if _, ok := spec.AuthorityAddress(); ok {
		t.Fatalf("authority should be unset")
	}
	if params.Authority != ([20]byte{}) {
		t.Fatalf("authority pin should be empty")
	}
}

func TestParseGenesisSpecOverrides(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	authority := key.PubKey().Address()
	doc := `{
		"genesisTime": "2025-01-01T00:00:00Z",
		"chainId": 42,
		"authority": "` + authority.String() + `",
		"rewards": {"totalSupply": "1000000000000", "maxCodesPerBatch": 50, "requireIssuedCodes": true}
	}`
	spec, err := ParseGenesisSpec([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	params, err := spec.RewardsParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.TotalSupply.Uint64() != 1_000_000_000_000 || params.MaxCodesPerBatch != 50 || !params.RequireIssuedCodes {
		t.Fatalf("overrides not applied: %+v", params)
	}
	addr, ok := spec.AuthorityAddress()
	if !ok || addr != authority.Array() {
		t.Fatalf("unexpected authority")
	}
	if params.Authority != authority.Array() {
		t.Fatalf("authority not pinned in rewards params")
	}
	if spec.ChainIDValue() != 42 {
		t.Fatalf("unexpected chain id")
	}
}

func TestParseGenesisSpecRejectsBadInput(t *testing.T) {
	cases := []string{
		`{}`,
		`{"genesisTime":"yesterday"}`,
		`{"genesisTime":"2025-01-01T00:00:00Z","chainId":0}`,
		`{"genesisTime":"2025-01-01T00:00:00Z","rewards":{"totalSupply":"-1"}}`,
		`{"genesisTime":"2025-01-01T00:00:00Z","unknown":true}`,
		`{"genesisTime":"2025-01-01T00:00:00Z","authority":"nope"}`,
	}
	for _, doc := range cases {
		if _, err := ParseGenesisSpec([]byte(doc)); err == nil {
			t.Fatalf("expected error for %s", doc)
		}
	}
}
