package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"

	facilitator "github.com/vitwit/x402-tron-facilitator"
	"github.com/vitwit/x402-tron-facilitator/clients"
	"github.com/vitwit/x402-tron-facilitator/config"
	"github.com/vitwit/x402-tron-facilitator/feequote"
	"github.com/vitwit/x402-tron-facilitator/settlement"
	"github.com/vitwit/x402-tron-facilitator/store"
	"github.com/vitwit/x402-tron-facilitator/types"
	"github.com/vitwit/x402-tron-facilitator/utils"
)

const serverTestTxID = "7c2d4206c03a883dd9066d620335dc1be272a8dc733cfa3f6d10308faa37facc"

type fakeChain struct{}

func (fakeChain) BalanceOf(context.Context, string, string) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (fakeChain) SimulateTransfer(context.Context, *clients.TransferCall) error { return nil }
func (fakeChain) Broadcast(context.Context, *clients.TransferCall) (string, error) {
	return serverTestTxID, nil
}
func (fakeChain) ReceiptOf(_ context.Context, txID string) (*clients.Receipt, error) {
	return &clients.Receipt{TxID: txID, Status: clients.TxStatusConfirmed}, nil
}
func (fakeChain) Network() types.Network { return types.NetworkTronNile }
func (fakeChain) Close()                 {}

type env struct {
	server *Server
	fac    *facilitator.Facilitator
	asset  string
	payer  string
	payTo  string
	sign   func(types.TransferAuthorization) string
}

func newEnv(t *testing.T, rateLimit config.RateLimitConfig) *env {
	t.Helper()

	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	asset := utils.TronAddressFromEth(common.HexToAddress("0xa614f803b6fd780986a42c78ec9c7f77e6ded13c"))
	payTo := utils.TronAddressFromEth(common.HexToAddress("0x384aa214be0b279cbf211e9b2c992d8633f77848"))

	fac := facilitator.New(store.NewMemoryStore(), settlement.Config{
		PollInterval: time.Millisecond,
		PollBudget:   5,
	})
	err = fac.AddNetwork(types.NetworkTronNile, facilitator.NetworkRegistration{
		Client: fakeChain{},
		Fees: feequote.NetworkFees{
			BaseFees: map[string]string{asset: "150"},
			PayTo:    utils.TronAddressFromEth(common.HexToAddress("0xe4d365a5a8fc0dcee9e3c5985d7fcbab8b4a0fe1")),
		},
	})
	if err != nil {
		t.Fatalf("AddNetwork() error = %v", err)
	}

	return &env{
		server: New(fac, rateLimit, nil),
		fac:    fac,
		asset:  asset,
		payer:  utils.TronAddressFromEth(crypto.PubkeyToAddress(key.PublicKey)),
		payTo:  payTo,
		sign: func(auth types.TransferAuthorization) string {
			digest, err := utils.AuthorizationDigest(auth, types.NetworkTronNile, asset)
			if err != nil {
				t.Fatalf("AuthorizationDigest() error = %v", err)
			}
			sig, err := crypto.Sign(digest, key)
			if err != nil {
				t.Fatalf("failed to sign: %v", err)
			}
			return "0x" + hex.EncodeToString(sig)
		},
	}
}

func (e *env) verifyRequest() *types.VerifyRequest {
	expiry := time.Now().Add(5 * time.Minute).Unix()
	auth := types.TransferAuthorization{
		From:        e.payer,
		To:          e.payTo,
		Value:       "200",
		ValidBefore: expiry,
		Nonce:       "0x0102030405060708091011121314151617181920212223242526272829303132",
	}
	return &types.VerifyRequest{
		PaymentPayload: types.PaymentPayload{
			X402Version:   types.X402Version,
			Scheme:        types.SchemeUpto,
			Network:       string(types.NetworkTronNile),
			Payer:         e.payer,
			Asset:         e.asset,
			Amount:        "200",
			Authorization: auth,
			Signature:     e.sign(auth),
		},
		PaymentRequirements: types.PaymentRequirements{
			Scheme:            types.SchemeUpto,
			Network:           string(types.NetworkTronNile),
			MaxAmountRequired: "200",
			Asset:             e.asset,
			PayTo:             e.payTo,
			ExpiresAt:         expiry,
			Nonce:             "req-nonce-1",
		},
	}
}

func postJSON(t *testing.T, app *fiber.App, path string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("failed to decode body %s: %v", data, err)
	}
}

func TestSupportedEndpoint(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "/supported", nil)
	resp, err := e.server.App().Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var supported types.SupportedResponse
	decodeBody(t, resp, &supported)
	if len(supported.Kinds) != 1 {
		t.Fatalf("kinds = %+v", supported.Kinds)
	}
	kind := supported.Kinds[0]
	if kind.X402Version != types.X402Version || kind.Scheme != types.SchemeUpto || kind.Network != string(types.NetworkTronNile) {
		t.Fatalf("unexpected kind: %+v", kind)
	}
}

func TestVerifyEndpoint(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})

	resp := postJSON(t, e.server.App(), "/verify", e.verifyRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result types.VerificationResult
	decodeBody(t, resp, &result)
	if !result.IsValid || result.Payer != e.payer {
		t.Fatalf("unexpected result: %+v", result)
	}

	// A tampered amount is a 200 with an invalid result, not an HTTP error.
	tampered := e.verifyRequest()
	tampered.PaymentPayload.Amount = "199"
	resp = postJSON(t, e.server.App(), "/verify", tampered)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	decodeBody(t, resp, &result)
	if result.IsValid || result.InvalidReason != types.ErrInsufficientAmount {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestVerifyMalformedBody(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.server.App().Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSettleEndpointAndPaymentLookup(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})
	request := e.verifyRequest()

	resp := postJSON(t, e.server.App(), "/settle", request)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var result types.SettlementResult
	decodeBody(t, resp, &result)
	if !result.Success || result.Transaction != serverTestTxID {
		t.Fatalf("unexpected result: %+v", result)
	}

	key := utils.IdempotencyKey(
		request.PaymentRequirements.Network,
		request.PaymentPayload.Payer,
		request.PaymentPayload.Authorization.Nonce,
	)
	req := httptest.NewRequest(http.MethodGet, "/payments/"+key, nil)
	lookupResp, err := e.server.App().Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if lookupResp.StatusCode != http.StatusOK {
		t.Fatalf("lookup status = %d", lookupResp.StatusCode)
	}
	var record types.SettlementRecord
	decodeBody(t, lookupResp, &record)
	if record.Status != types.SettlementConfirmed || record.TxHash != serverTestTxID {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestPaymentNotFound(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "/payments/unknown-key", nil)
	resp, err := e.server.App().Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["detail"] != "Payment not found" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestFeeQuoteEndpoint(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})
	request := e.verifyRequest()

	resp := postJSON(t, e.server.App(), "/fee/quote", types.FeeQuoteRequest{
		Accept: request.PaymentRequirements,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var quote types.FeeQuote
	decodeBody(t, resp, &quote)
	if quote.Total != "150" || quote.UnknownAsset {
		t.Fatalf("unexpected quote: %+v", quote)
	}

	// Unregistered network is a client error.
	bad := request.PaymentRequirements
	bad.Network = string(types.NetworkTronShasta)
	resp = postJSON(t, e.server.App(), "/fee/quote", types.FeeQuoteRequest{Accept: bad})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRequestIDEcho(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodGet, "/supported", nil)
	req.Header.Set(requestIDHeader, "trace-me-123")
	resp, err := e.server.App().Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); got != "trace-me-123" {
		t.Fatalf("request id = %q", got)
	}

	// With no inbound id, one is generated.
	req = httptest.NewRequest(http.MethodGet, "/supported", nil)
	resp, err = e.server.App().Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("no request id generated")
	}
}

func TestRateLimitTiers(t *testing.T) {
	e := newEnv(t, config.RateLimitConfig{
		Authenticated: 100,
		Anonymous:     2,
		APIKeys:       []string{"known-key"},
	})

	// Anonymous callers hit their tier on the third request.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/supported", nil)
		resp, err := e.server.App().Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d", i, resp.StatusCode)
		}
	}
	req := httptest.NewRequest(http.MethodGet, "/supported", nil)
	resp, err := e.server.App().Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] != "Rate limit exceeded" {
		t.Fatalf("unexpected body: %v", body)
	}

	// A known API key rides the authenticated tier and is unaffected.
	req = httptest.NewRequest(http.MethodGet, "/supported", nil)
	req.Header.Set(apiKeyHeader, "known-key")
	resp, err = e.server.App().Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d", resp.StatusCode)
	}
}
