package types

import (
	"math/big"
	"testing"
)

func TestNetwork(t *testing.T) {
	tests := []struct {
		network Network
		isTron  bool
		testnet bool
		chainID int64
	}{
		{network: NetworkTronMainnet, isTron: true, testnet: false, chainID: 728126428},
		{network: NetworkTronNile, isTron: true, testnet: true, chainID: 3448148188},
		{network: NetworkTronShasta, isTron: true, testnet: true, chainID: 2494104990},
		{network: Network("tron:devnet"), isTron: true, chainID: 0},
		{network: Network("base-sepolia"), isTron: false, chainID: 0},
	}

	for _, tt := range tests {
		t.Run(tt.network.String(), func(t *testing.T) {
			if tt.network.IsTron() != tt.isTron {
				t.Fatalf("IsTron() = %v, want %v", tt.network.IsTron(), tt.isTron)
			}
			if tt.network.IsTestnet() != tt.testnet {
				t.Fatalf("IsTestnet() = %v, want %v", tt.network.IsTestnet(), tt.testnet)
			}
			if tt.network.ChainID() != tt.chainID {
				t.Fatalf("ChainID() = %d, want %d", tt.network.ChainID(), tt.chainID)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    *big.Int
		wantErr bool
	}{
		{name: "zero", in: "0", want: big.NewInt(0)},
		{name: "typical", in: "200", want: big.NewInt(200)},
		{name: "beyond int64", in: "115792089237316195423570985008687907853269984665640564039457584007913129639935", want: func() *big.Int {
			v, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
			return v
		}()},
		{name: "empty", in: "", wantErr: true},
		{name: "negative", in: "-1", wantErr: true},
		{name: "hex", in: "0xff", wantErr: true},
		{name: "words", in: "two hundred", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount() error = %v", err)
			}
			if got.Cmp(tt.want) != 0 {
				t.Fatalf("ParseAmount() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSettlementStatusTerminal(t *testing.T) {
	if SettlementPending.Terminal() || SettlementSubmitted.Terminal() {
		t.Fatal("pending and submitted are not terminal")
	}
	if !SettlementConfirmed.Terminal() || !SettlementFailed.Terminal() {
		t.Fatal("confirmed and failed are terminal")
	}
}

func validPayload() PaymentPayload {
	return PaymentPayload{
		X402Version: X402Version,
		Scheme:      SchemeUpto,
		Network:     string(NetworkTronNile),
		Payer:       "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8",
		Asset:       "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		Amount:      "200",
		Authorization: TransferAuthorization{
			From:        "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8",
			To:          "TVjsyZ7fYF3qLF6BQgPmTEZy1xrNNyVAAA",
			Value:       "200",
			ValidBefore: 1700000300,
			Nonce:       "0x01",
		},
		Signature: "0xab",
	}
}

func TestPaymentPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PaymentPayload)
		wantErr bool
	}{
		{name: "valid", mutate: func(p *PaymentPayload) {}},
		{name: "wrong version", mutate: func(p *PaymentPayload) { p.X402Version = 0 }, wantErr: true},
		{name: "missing scheme", mutate: func(p *PaymentPayload) { p.Scheme = "" }, wantErr: true},
		{name: "missing network", mutate: func(p *PaymentPayload) { p.Network = "" }, wantErr: true},
		{name: "missing payer", mutate: func(p *PaymentPayload) { p.Payer = "" }, wantErr: true},
		{name: "missing signature", mutate: func(p *PaymentPayload) { p.Signature = "" }, wantErr: true},
		{name: "missing authorization from", mutate: func(p *PaymentPayload) { p.Authorization.From = "" }, wantErr: true},
		{name: "missing authorization nonce", mutate: func(p *PaymentPayload) { p.Authorization.Nonce = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPaymentRequirementsValidate(t *testing.T) {
	valid := PaymentRequirements{
		Scheme:            SchemeUpto,
		Network:           string(NetworkTronNile),
		MaxAmountRequired: "200",
		Asset:             "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		PayTo:             "TVjsyZ7fYF3qLF6BQgPmTEZy1xrNNyVAAA",
		ExpiresAt:         1700000300,
		Nonce:             "req-nonce-1",
	}

	tests := []struct {
		name    string
		mutate  func(*PaymentRequirements)
		wantErr bool
	}{
		{name: "valid", mutate: func(r *PaymentRequirements) {}},
		{name: "missing scheme", mutate: func(r *PaymentRequirements) { r.Scheme = "" }, wantErr: true},
		{name: "missing amount", mutate: func(r *PaymentRequirements) { r.MaxAmountRequired = "" }, wantErr: true},
		{name: "missing asset", mutate: func(r *PaymentRequirements) { r.Asset = "" }, wantErr: true},
		{name: "missing payTo", mutate: func(r *PaymentRequirements) { r.PayTo = "" }, wantErr: true},
		{name: "missing expiry", mutate: func(r *PaymentRequirements) { r.ExpiresAt = 0 }, wantErr: true},
		{name: "missing nonce", mutate: func(r *PaymentRequirements) { r.Nonce = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
