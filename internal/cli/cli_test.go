package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/zerog-bots/internal/action"
	"github.com/ChuLiYu/zerog-bots/internal/runner"
	"github.com/ChuLiYu/zerog-bots/internal/snapshot"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// writeConfig 在暫存目錄建立只含路徑設定的 YAML
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
summary_path: %s
ledger:
  backend: file
  path: %s
journal:
  path: ""
files:
  private_keys: %s
settings:
  threads: 1
  attempts: 1
`,
		filepath.Join(dir, "last_run.json"),
		filepath.Join(dir, "referral_codes.txt"),
		filepath.Join(dir, "private_keys.txt"),
	)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	cmd := BuildCLI()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "zerog-bots", cmd.Use)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "status", "modules", "ledger", "serve-ledger"} {
		assert.True(t, names[want], "should have %q command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestServeLedgerFlags(t *testing.T) {
	cmd := buildServeLedgerCommand(&rootOptions{})
	assert.Equal(t, "serve-ledger", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("listen"))
	assert.NotNil(t, cmd.RunE)
}

func TestModulesCommand(t *testing.T) {
	out, err := execute(t, "modules")
	require.NoError(t, err)

	assert.Contains(t, out, runner.ModuleName)
	for _, name := range []string{action.JaineFaucet, action.TradeGPTFaucet, action.TradeGPTStaking,
		action.AstrostakeStaking, action.OnchainGM, action.MorkieMint} {
		assert.Contains(t, out, name)
	}
}

func TestStatusCommand(t *testing.T) {
	cfgPath, dir := writeConfig(t)

	out, err := execute(t, "status", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No run summary")

	summary := types.RunSummary{
		StartedAt:  1_700_000_000_000,
		FinishedAt: 1_700_000_060_000,
		Stats:      map[string]int{string(types.WalletCompleted): 1, string(types.WalletFailed): 1},
		Wallets: []types.WalletRun{
			{Index: 1, Address: "0xaaa", Status: types.WalletCompleted, Succeeded: []string{"jaine_faucet"}},
			{Index: 2, Address: "0xbbb", Status: types.WalletFailed, Failed: []string{"onchaingm"}, Error: "insufficient balance"},
		},
	}
	require.NoError(t, snapshot.NewManager(filepath.Join(dir, "last_run.json")).Write(summary))

	out, err = execute(t, "status", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 completed")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "0xaaa")
	assert.Contains(t, out, "jaine_faucet")
	assert.Contains(t, out, "insufficient balance")
	assert.Contains(t, out, "Duration: 1m0s")
}

func TestLedgerCommands(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := execute(t, "ledger", "list", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No referral codes")

	out, err = execute(t, "ledger", "add", "0xabc", "CODE42", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Added CODE42")

	out, err = execute(t, "ledger", "add", "0xdef", "CODE42", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "already present")

	out, err = execute(t, "ledger", "list", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "0xabc")
	assert.Contains(t, out, "CODE42")

	_, err = execute(t, "ledger", "add", "only-wallet", "-c", cfgPath)
	assert.Error(t, err)
}

func TestRunWithoutKeys(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, "run", "-c", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private keys")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := execute(t, "status", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")

	cfgPath, _ := writeConfig(t)
	_, err = execute(t, "status", "-c", cfgPath, "--log-level", "loud")
	assert.Error(t, err)
}

func TestServeLedgerRejectsRemoteBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  backend: remote\n  remote_addr: 127.0.0.1:1\n"), 0o600))

	_, err := execute(t, "serve-ledger", "-c", path)
	assert.Error(t, err)
}
