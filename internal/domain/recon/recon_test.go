package recon

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModules(t *testing.T) {
	mods, err := ParseModules([]string{"DNS", " sqli ", "dns", ""})
	require.NoError(t, err)
	assert.Equal(t, []Module{ModuleDNS, ModuleSQLi}, mods)

	_, err = ParseModules([]string{"dns", "bogus"})
	assert.Error(t, err)
}

func TestAllModulesHaveDescriptions(t *testing.T) {
	for _, m := range AllModules() {
		assert.True(t, m.Valid(), m)
		assert.NotEmpty(t, m.Description(), m)
	}
}

func TestDecodeResultKeepsVulnKind(t *testing.T) {
	in := VulnResult{
		Kind:           ModuleXSS,
		URL:            "https://example.com/?q=test",
		Vulnerable:     true,
		TestedPayloads: 3,
		Findings: []Finding{{
			Parameter:  "q",
			Payload:    "<script>alert(1)</script>",
			Type:       "reflected",
			Confidence: 0.95,
			Provenance: Provenance{Trust: TrustRelay, RelayIndex: 1},
		}},
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := DecodeResult(ModuleXSS, raw)
	require.NoError(t, err)
	got, ok := out.(VulnResult)
	require.True(t, ok)
	assert.Equal(t, ModuleXSS, got.Module())
	assert.Equal(t, in.Findings, got.Findings)
}

func TestDecodeResultUnknownModule(t *testing.T) {
	_, err := DecodeResult(Module("nope"), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestDecodeResultEveryModule(t *testing.T) {
	for _, m := range AllModules() {
		res, err := DecodeResult(m, json.RawMessage(`{}`))
		require.NoError(t, err, m)
		assert.Equal(t, m, res.Module())
	}
}

func TestProvenanceMerge(t *testing.T) {
	direct := Provenance{Trust: TrustDirect, Attempts: 1}
	relay := Provenance{Trust: TrustRelay, Relay: "https://r.example/?u={url}", RelayIndex: 2, Attempts: 3}

	merged := direct.Merge(relay)
	assert.Equal(t, TrustRelay, merged.Trust)
	assert.Equal(t, 2, merged.RelayIndex)
	assert.Equal(t, 4, merged.Attempts)

	assert.Equal(t, TrustDirect, direct.Merge(Provenance{Trust: TrustDirect}).Trust)
	assert.Equal(t, TrustDirect, Provenance{}.Merge(direct).Trust)
}

func TestFindingKey(t *testing.T) {
	a := Finding{Parameter: "id", Payload: "'", Type: "error-based", Confidence: 0.95}
	b := Finding{Parameter: "id", Payload: "'", Type: "error-based", Confidence: 0.7}
	c := Finding{Parameter: "id", Payload: "'", Type: "time-based"}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestModuleErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := &ModuleError{Module: ModuleDNS, Err: base}
	assert.Equal(t, "dns: boom", err.Error())
	assert.ErrorIs(t, err, base)
}
