package exchange

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

func TestDecimalToWire(t *testing.T) {
	cases := []struct {
		in  string
		out string
	}{
		{in: "1.23", out: "1.23"},
		{in: "0", out: "0"},
		{in: "1.23000000", out: "1.23"},
		{in: "2500", out: "2500"},
	}
	for _, tc := range cases {
		got, err := decimalToWire(decimal.RequireFromString(tc.in))
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tc.in, err)
		}
		if got != tc.out {
			t.Fatalf("expected %s, got %s", tc.out, got)
		}
	}
	if _, err := decimalToWire(decimal.RequireFromString("1.234567891")); err == nil {
		t.Fatalf("expected rounding error")
	}
}

func TestRoundPrice(t *testing.T) {
	cases := []struct {
		px         string
		szDecimals int32
		want       string
	}{
		{px: "2512.345", szDecimals: 4, want: "2512.3"},
		{px: "123456.7", szDecimals: 4, want: "123457"},
		{px: "0.0123456", szDecimals: 0, want: "0.012346"},
		{px: "1.234567", szDecimals: 4, want: "1.23"},
	}
	for _, tc := range cases {
		got := RoundPrice(decimal.RequireFromString(tc.px), tc.szDecimals)
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("RoundPrice(%s, %d) = %s, want %s", tc.px, tc.szDecimals, got, tc.want)
		}
	}
	if got := RoundSize(decimal.RequireFromString("0.123456"), 4); got.String() != "0.1234" {
		t.Fatalf("expected truncated size 0.1234, got %s", got)
	}
}

func TestEncodeUpdateLeverageKeyOrder(t *testing.T) {
	b, err := EncodeUpdateLeverageAction(UpdateLeverageAction{Type: "updateLeverage", Asset: 1, IsCross: true, Leverage: 2})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	n, err := dec.DecodeMapLen()
	if err != nil || n != 4 {
		t.Fatalf("expected 4 keys, got %d (%v)", n, err)
	}
	var keys []string
	for i := 0; i < n; i++ {
		k, err := dec.DecodeString()
		if err != nil {
			t.Fatalf("decode key: %v", err)
		}
		keys = append(keys, k)
		if _, err := dec.DecodeInterface(); err != nil {
			t.Fatalf("decode value: %v", err)
		}
	}
	want := []string{"type", "asset", "isCross", "leverage"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected keys %v, got %v", want, keys)
		}
	}
}

func TestEncodeCancelByCloidRequiresCloid(t *testing.T) {
	_, err := EncodeCancelByCloidAction(CancelByCloidAction{Type: "cancelByCloid", Cancels: []CancelByCloidWire{{Asset: 1}}})
	if err == nil {
		t.Fatalf("expected error for missing cloid")
	}
}

func TestEncodeOrderActionDeterministic(t *testing.T) {
	order, err := LimitOrderWire(1, true, decimal.RequireFromString("2.5"), decimal.NewFromInt(100), false, TifIoc, "")
	if err != nil {
		t.Fatalf("unexpected order wire error: %v", err)
	}
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	b1, err := EncodeOrderAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	b2, err := EncodeOrderAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	if !bytes.Equal(b1, b2) {
		t.Fatalf("expected deterministic encoding")
	}
	var decoded map[string]any
	if err := msgpack.Unmarshal(b1, &decoded); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if decoded["type"] != "order" {
		t.Fatalf("unexpected action type")
	}
	orders, ok := decoded["orders"].([]any)
	if !ok || len(orders) != 1 {
		t.Fatalf("expected 1 order")
	}
	orderMap, ok := orders[0].(map[string]any)
	if !ok {
		t.Fatalf("expected order map")
	}
	if orderMap["p"] != "100" {
		t.Fatalf("expected price 100, got %v", orderMap["p"])
	}
	if orderMap["s"] != "2.5" {
		t.Fatalf("expected size 2.5, got %v", orderMap["s"])
	}
}

func TestSignerRecover(t *testing.T) {
	signer, err := NewSigner("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2", true)
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	order, err := LimitOrderWire(1, true, decimal.RequireFromString("2.5"), decimal.NewFromInt(100), false, TifIoc, "")
	if err != nil {
		t.Fatalf("order wire error: %v", err)
	}
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	nonce := uint64(1700000000000)
	payload, err := EncodeOrderAction(action)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	sig, err := signer.SignL1Action(payload, nonce, nil, nil)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	aHash := actionHash(payload, nonce, nil, nil)
	digest, err := typedDataHash(aHash, true)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	sigBytes, err := signatureBytes(sig)
	if err != nil {
		t.Fatalf("signature bytes error: %v", err)
	}
	pubKey, err := crypto.SigToPub(digest, sigBytes)
	if err != nil {
		t.Fatalf("recover error: %v", err)
	}
	recovered := crypto.PubkeyToAddress(*pubKey)
	if recovered != signer.Address() {
		t.Fatalf("expected %s, got %s", signer.Address().Hex(), recovered.Hex())
	}
}

func TestSignWithdrawRecover(t *testing.T) {
	signer, err := NewSigner("4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2", false)
	if err != nil {
		t.Fatalf("signer error: %v", err)
	}
	action := WithdrawAction{Type: "withdraw3", Destination: signer.Address().Hex(), Amount: "1500.25", Time: 1700000000000}
	sig, err := signer.SignWithdraw(&action)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	if action.HyperliquidChain != "Testnet" || action.SignatureChainID != "0x66eee" {
		t.Fatalf("chain fields not filled: %q %q", action.HyperliquidChain, action.SignatureChainID)
	}
	digest, err := withdrawTypedDataHash(action)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	sigBytes, err := signatureBytes(sig)
	if err != nil {
		t.Fatalf("signature bytes error: %v", err)
	}
	pubKey, err := crypto.SigToPub(digest, sigBytes)
	if err != nil {
		t.Fatalf("recover error: %v", err)
	}
	if recovered := crypto.PubkeyToAddress(*pubKey); recovered != signer.Address() {
		t.Fatalf("expected %s, got %s", signer.Address().Hex(), recovered.Hex())
	}

	// The amount is part of the signed message.
	action.Amount = "1500.26"
	other, err := withdrawTypedDataHash(action)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	if bytes.Equal(digest, other) {
		t.Fatalf("digest must change with the amount")
	}
}

func signatureBytes(sig Signature) ([]byte, error) {
	r, err := hexutil.Decode(sig.R)
	if err != nil {
		return nil, err
	}
	s, err := hexutil.Decode(sig.S)
	if err != nil {
		return nil, err
	}
	if len(r) != 32 || len(s) != 32 {
		return nil, errUnexpectedSigLen
	}
	v := sig.V - 27
	if v < 0 || v > 1 {
		return nil, errUnexpectedSigV
	}
	out := append(append([]byte{}, r...), s...)
	out = append(out, byte(v))
	return out, nil
}

var errUnexpectedSigLen = errors.New("unexpected signature length")
var errUnexpectedSigV = errors.New("unexpected signature v")
