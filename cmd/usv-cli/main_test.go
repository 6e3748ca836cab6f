package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"usvchain/core"
	"usvchain/crypto"
	"usvchain/native/rewards"
	"usvchain/rpc"
	"usvchain/storage"
)

func TestMain(m *testing.M) {
	os.Setenv(keyPassEnv, "cli-test-pass")
	keystoreParams = crypto.LightScrypt
	os.Exit(m.Run())
}

type cliEnv struct {
	t    *testing.T
	node *core.Node
	dir  string
	out  *bytes.Buffer
}

func newCLIEnv(t *testing.T, wrap func(http.Handler) http.Handler) *cliEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	params := rewards.DefaultParams()
	params.TotalSupply = uint256.NewInt(1_000_000_000_000)
	node, err := core.NewNode(db, params, core.WithChainID(42))
	require.NoError(t, err)

	handler := rpc.NewServer(node, rpc.ServerConfig{}, nil).Handler()
	if wrap != nil {
		handler = wrap(handler)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	prevEndpoint, prevOut := rpcEndpoint, stdout
	rpcEndpoint = ts.URL
	out := &bytes.Buffer{}
	stdout = out
	t.Cleanup(func() {
		rpcEndpoint = prevEndpoint
		stdout = prevOut
	})
	return &cliEnv{t: t, node: node, dir: t.TempDir(), out: out}
}

func (e *cliEnv) run(name string, args ...string) string {
	e.t.Helper()
	e.out.Reset()
	cmd, ok := lookupCommand(name)
	require.True(e.t, ok, "unknown command %s", name)
	require.NoError(e.t, cmd.run(args), "%s %v", name, args)
	return e.out.String()
}

func (e *cliEnv) keystore(name string) (string, [20]byte) {
	e.t.Helper()
	path := filepath.Join(e.dir, name+".json")
	e.run("keygen", "--out", path)
	key, err := loadKey(path)
	require.NoError(e.t, err)
	return path, key.PubKey().Address().Array()
}

func decodeReceipt(t *testing.T, out string) core.Receipt {
	t.Helper()
	var receipt core.Receipt
	require.NoError(t, json.Unmarshal([]byte(out), &receipt), out)
	return receipt
}

func TestApplyGlobalFlags(t *testing.T) {
	prevEndpoint, prevToken := rpcEndpoint, rpcAuthToken
	defer func() { rpcEndpoint, rpcAuthToken = prevEndpoint, prevToken }()

	rest, err := applyGlobalFlags([]string{"--rpc", "http://node:1", "state", "--token=abc"})
	require.NoError(t, err)
	require.Equal(t, []string{"state"}, rest)
	require.Equal(t, "http://node:1", rpcEndpoint)
	require.Equal(t, "abc", rpcAuthToken)

	_, err = applyGlobalFlags([]string{"--rpc"})
	require.Error(t, err)
}

func TestCLIRewardsFlow(t *testing.T) {
	env := newCLIEnv(t, nil)
	authorityKey, authority := env.keystore("authority")
	userKey, user := env.keystore("user")

	out := env.run("address", "--key", authorityKey)
	require.Contains(t, out, crypto.FormatAddress(authority))

	receipt := decodeReceipt(t, env.run("init", "--key", authorityKey))
	require.Equal(t, core.StatusSuccess, receipt.Status)

	receipt = decodeReceipt(t, env.run("generate", "--key", authorityKey, "--count", "3", "--partner", "cafe-1", "--info", "launch"))
	require.NotNil(t, receipt.Batch)
	require.Len(t, receipt.Batch.QRHashes, 3)
	require.Equal(t, uint64(0), receipt.Batch.Sequence)
	code := receipt.Batch.QRHashes[1]

	receipt = decodeReceipt(t, env.run("claim", "--key", userKey, "--code", code, "--email", "alice@example.com"))
	require.NotNil(t, receipt.Claim)
	require.Equal(t, crypto.FormatAddress(user), receipt.Claim.Claimer)

	cmd, _ := lookupCommand("claim")
	err := cmd.run([]string{"--key", userKey, "--code", code, "--email", "alice@example.com"})
	require.Error(t, err)
	require.Equal(t, rewards.CodeAlreadyClaimed, failureCode(err))

	out = env.run("claim-status", "--code", code)
	require.Contains(t, out, `"claimed": true`)
	require.NotContains(t, out, "alice@example.com")

	out = env.run("balance", "--owner", crypto.FormatAddress(user))
	require.Contains(t, out, rewards.DefaultRewardPerClaim.Dec())

	out = env.run("batch", "--sequence", "0")
	require.Contains(t, out, code)

	decodeReceipt(t, env.run("pause", "--key", authorityKey))
	out = env.run("state")
	require.Contains(t, out, `"isPaused": true`)
	decodeReceipt(t, env.run("pause", "--key", authorityKey, "--resume"))

	out = env.run("stats")
	require.Contains(t, out, `"totalQrCodes": 3`)
}

func TestCLIGenerateRetriesOnSequenceConflict(t *testing.T) {
	var (
		once      sync.Once
		authority [20]byte
		env       *cliEnv
	)
	// Issue a competing batch just before the CLI's first generate lands.
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(body))
			if strings.Contains(string(body), "usv_sendTransaction") && strings.Contains(string(body), `"type":2`) {
				once.Do(func() {
					_, err := env.node.Execute(context.Background(), authority, core.GenerateCodesInstruction(rewards.GenerateParams{Sequence: 0, Count: 2}))
					if err != nil {
						t.Errorf("competing batch: %v", err)
					}
				})
			}
			next.ServeHTTP(w, r)
		})
	}
	env = newCLIEnv(t, wrap)
	var keyPath string
	keyPath, authority = env.keystore("authority")
	decodeReceipt(t, env.run("init", "--key", keyPath))

	receipt := decodeReceipt(t, env.run("generate", "--key", keyPath, "--count", "1"))
	require.NotNil(t, receipt.Batch)
	require.Equal(t, uint64(2), receipt.Batch.Sequence)
}

func TestCLIManifestAndExport(t *testing.T) {
	env := newCLIEnv(t, nil)
	keyPath, _ := env.keystore("authority")
	decodeReceipt(t, env.run("init", "--key", keyPath))

	manifest := filepath.Join(env.dir, "batches.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`batches:
  - partnerId: cafe-1
    batchInfo: spring
    count: 2
  - partnerId: cafe-2
    count: 3
`), 0o644))
	var results []manifestResult
	require.NoError(t, json.Unmarshal([]byte(env.run("generate-manifest", "--key", keyPath, "--file", manifest)), &results))
	require.Len(t, results, 2)
	require.Equal(t, uint64(0), results[0].Sequence)
	require.Equal(t, uint64(2), results[1].Sequence)

	csvPath := filepath.Join(env.dir, "codes.csv")
	out := env.run("export", "--address", results[1].Address, "--format", "csv", "--out", csvPath, "--claim-base", "https://claim.example/r")
	require.Contains(t, out, "Wrote 3 codes")
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, "cafe-2", records[1][5])
	require.True(t, strings.HasPrefix(records[1][4], "https://claim.example/r?code="))

	parquetPath := filepath.Join(env.dir, "codes.parquet")
	env.run("export", "--sequence", "0", "--format", "parquet", "--out", parquetPath)
	data, err := os.ReadFile(parquetPath)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("PAR1")))
}

func TestLoadManifestRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batches:\n  - partner: x\n    count: 1\n"), 0o644))
	_, err := loadManifest(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("batches:\n  - partnerId: x\n    count: 0\n"), 0o644))
	_, err = loadManifest(path)
	require.ErrorContains(t, err, "count must be positive")
}

func TestGenerateRejectsOutOfRangeCount(t *testing.T) {
	n, err := batchCount(25)
	require.NoError(t, err)
	require.Equal(t, uint32(25), n)

	_, err = batchCount(0)
	require.Error(t, err)

	err = runGenerate([]string{"--count", "4294967297"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "count")
}
