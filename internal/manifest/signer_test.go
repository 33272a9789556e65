package manifest

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed-attestor/internal/inference"
)

const (
	testKey     = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func sampleReport() inference.Report {
	return inference.Report{
		Asset:          "BTC",
		ReferencePrice: decimal.RequireFromString("100"),
		StreetPrice:    decimal.RequireFromString("100.3"),
		Deviation:      decimal.RequireFromString("0.003"),
		ThresholdUsed:  decimal.RequireFromString("0.02"),
		MarketEntropy:  decimal.Zero,
		IsStale:        false,
		IsHiccup:       false,
		Timestamp:      1760702400,
	}
}

func testSigner(t *testing.T) *Signer {
	t.Helper()
	id, err := LoadIdentity(testKey)
	require.NoError(t, err)
	s, err := NewSigner(id)
	require.NoError(t, err)
	return s
}

func TestLoadIdentity(t *testing.T) {
	id, err := LoadIdentity(testKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), id.Address())
	assert.Equal(t, "agent:metagit:8004-TEE-Oracle:"+testAddress, id.AgentID())
	assert.Equal(t, testAddress, id.String())
}

func TestLoadIdentityRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "0x", "zz", "0x1234"} {
		_, err := LoadIdentity(key)
		assert.ErrorIs(t, err, ErrInvalidIdentity, "key %q", key)
	}
}

func TestNewSignerRequiresIdentity(t *testing.T) {
	_, err := NewSigner(nil)
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestCanonicalEncoding(t *testing.T) {
	got, err := Canonical(sampleReport())
	require.NoError(t, err)
	want := `{"asset":"BTC",` +
		`"deviation":"0.003000000000000000",` +
		`"is_hiccup":false,"is_stale":false,` +
		`"market_entropy":"0.000000000000000000",` +
		`"reference_price":"100.000000000000000000",` +
		`"street_price":"100.300000000000000000",` +
		`"threshold_used":"0.020000000000000000",` +
		`"timestamp":1760702400}`
	assert.Equal(t, want, string(got))
}

func TestCanonicalIgnoresDecimalRepresentation(t *testing.T) {
	a := sampleReport()
	b := sampleReport()
	b.ReferencePrice = decimal.RequireFromString("100.000")
	b.StreetPrice = decimal.New(1003, -1)

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHashIsKeccakOfCanonical(t *testing.T) {
	canonical, err := Canonical(sampleReport())
	require.NoError(t, err)
	h, err := Hash(sampleReport())
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(canonical), h)
}

func TestSignIsDeterministicAndVerifiable(t *testing.T) {
	s := testSigner(t)

	first, err := s.Sign(sampleReport())
	require.NoError(t, err)
	second, err := s.Sign(sampleReport())
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	require.Len(t, first.Signature, 65)
	assert.Contains(t, []byte{27, 28}, first.Signature[64])

	for _, m := range []Manifest{first, second} {
		ok, err := Verify(m.Hash, m.Signature, s.Identity().Address())
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestSignChangesWithReport(t *testing.T) {
	s := testSigner(t)
	a, err := s.Sign(sampleReport())
	require.NoError(t, err)

	changed := sampleReport()
	changed.Timestamp++
	b, err := s.Sign(changed)
	require.NoError(t, err)

	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestVerifyRejectsOtherAddressAndTamperedHash(t *testing.T) {
	s := testSigner(t)
	m, err := s.Sign(sampleReport())
	require.NoError(t, err)

	ok, err := Verify(m.Hash, m.Signature, common.HexToAddress("0x000000000000000000000000000000000000dEaD"))
	require.NoError(t, err)
	assert.False(t, ok)

	tampered := m.Hash
	tampered[0] ^= 0xff
	ok, err = Verify(tampered, m.Signature, s.Identity().Address())
	if err == nil {
		assert.False(t, ok)
	}

	_, err = Verify(m.Hash, m.Signature[:64], s.Identity().Address())
	assert.Error(t, err)
}

func TestSignRefusesEmptyReport(t *testing.T) {
	_, err := testSigner(t).Sign(inference.Report{})
	assert.Error(t, err)
}

func TestRatifyMessage(t *testing.T) {
	h := common.HexToHash("0x01")
	assert.Equal(t, "Ratify Technical Strike: 0x0000000000000000000000000000000000000000000000000000000000000001", RatifyMessage(h))
	assert.Equal(t, "0x", Manifest{}.SignatureHex())
}
