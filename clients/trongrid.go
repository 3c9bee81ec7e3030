package clients

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/vitwit/x402-tron-facilitator/logger"
	"github.com/vitwit/x402-tron-facilitator/metrics"
	"github.com/vitwit/x402-tron-facilitator/signer"
	"github.com/vitwit/x402-tron-facilitator/types"
)

const tronAPIKeyHeader = "TRON-PRO-API-KEY"

// defaultFeeLimit caps the TRX the facilitator will burn on one
// settlement, in sun.
const defaultFeeLimit = 100_000_000

var _ Client = (*TronGridClient)(nil)

// TronGridClient implements Client over the TronGrid HTTP API. The
// facilitator's signer co-signs each built transaction as the fee payer.
type TronGridClient struct {
	network  types.Network
	baseURL  string
	apiKey   string
	signer   signer.Signer
	http     *http.Client
	feeLimit int64
	log      logger.Logger
	rec      metrics.Recorder
}

type TronGridOption func(*TronGridClient)

func WithHTTPClient(c *http.Client) TronGridOption {
	return func(t *TronGridClient) { t.http = c }
}

func WithFeeLimit(limit int64) TronGridOption {
	return func(t *TronGridClient) { t.feeLimit = limit }
}

func WithClientLogger(l logger.Logger) TronGridOption {
	return func(t *TronGridClient) { t.log = l }
}

func WithClientMetrics(r metrics.Recorder) TronGridOption {
	return func(t *TronGridClient) { t.rec = r }
}

func NewTronGridClient(network types.Network, baseURL, apiKey string, s signer.Signer, opts ...TronGridOption) (*TronGridClient, error) {
	if !network.IsTron() {
		return nil, types.NewError(types.ErrUnsupportedNetwork, fmt.Sprintf("network %s is not a Tron network", network))
	}
	if baseURL == "" {
		return nil, fmt.Errorf("trongrid base url is required for %s", network)
	}
	if s == nil {
		return nil, fmt.Errorf("signer is required for %s", network)
	}

	client := &TronGridClient{
		network:  network,
		baseURL:  baseURL,
		apiKey:   apiKey,
		signer:   s,
		http:     &http.Client{Timeout: 30 * time.Second},
		feeLimit: defaultFeeLimit,
		log:      logger.NoopLogger{},
		rec:      metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func (t *TronGridClient) Network() types.Network {
	return t.network
}

func (t *TronGridClient) Close() {
	t.http.CloseIdleConnections()
}

// ---- wire types -------------------------------------------------------

type triggerRequest struct {
	OwnerAddress     string `json:"owner_address"`
	ContractAddress  string `json:"contract_address"`
	FunctionSelector string `json:"function_selector"`
	Parameter        string `json:"parameter"`
	FeeLimit         int64  `json:"fee_limit,omitempty"`
}

type triggerResult struct {
	Result struct {
		Result  bool   `json:"result"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"result"`
	ConstantResult []string        `json:"constant_result"`
	Transaction    json.RawMessage `json:"transaction"`
	EnergyUsed     int64           `json:"energy_used"`
}

type builtTransaction struct {
	TxID       string          `json:"txID"`
	RawData    json.RawMessage `json:"raw_data"`
	RawDataHex string          `json:"raw_data_hex"`
	Signature  []string        `json:"signature,omitempty"`
}

type broadcastResult struct {
	Result  bool   `json:"result"`
	TxID    string `json:"txid"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type txInfoResult struct {
	ID          string `json:"id"`
	BlockNumber int64  `json:"blockNumber"`
	Result      string `json:"result"` // "FAILED" on execution error, absent otherwise
	ResMessage  string `json:"resMessage"`
	Receipt     struct {
		Result string `json:"result"` // SUCCESS, REVERT, OUT_OF_ENERGY, ...
	} `json:"receipt"`
}

// ---- reads ------------------------------------------------------------

func (t *TronGridClient) BalanceOf(ctx context.Context, asset, holder string) (*big.Int, error) {
	contract, err := tronHexAddress(asset)
	if err != nil {
		return nil, fmt.Errorf("asset: %w", err)
	}
	owner, err := tronHexAddress(holder)
	if err != nil {
		return nil, fmt.Errorf("holder: %w", err)
	}
	params, err := packBalanceOfParams(holder)
	if err != nil {
		return nil, err
	}

	var res triggerResult
	err = t.post(ctx, "/wallet/triggerconstantcontract", triggerRequest{
		OwnerAddress:     owner,
		ContractAddress:  contract,
		FunctionSelector: balanceOfSelector,
		Parameter:        params,
	}, &res)
	if err != nil {
		return nil, err
	}
	if !res.Result.Result {
		return nil, fmt.Errorf("balanceOf call failed: %s", decodeHexMessage(res.Result.Message))
	}
	if len(res.ConstantResult) == 0 {
		return nil, fmt.Errorf("balanceOf returned no result")
	}
	return unpackBalance(res.ConstantResult[0])
}

func (t *TronGridClient) SimulateTransfer(ctx context.Context, call *TransferCall) error {
	req, err := t.transferRequest(call)
	if err != nil {
		return err
	}

	var res triggerResult
	if err := t.post(ctx, "/wallet/triggerconstantcontract", req, &res); err != nil {
		return err
	}
	if !res.Result.Result {
		return types.NewError(types.ErrInvalidSignature,
			fmt.Sprintf("transfer simulation rejected: %s", decodeHexMessage(res.Result.Message)))
	}
	return nil
}

// ---- writes -----------------------------------------------------------

func (t *TronGridClient) Broadcast(ctx context.Context, call *TransferCall) (string, error) {
	start := time.Now()
	defer func() {
		t.rec.ObserveLatency(metrics.OpBroadcast, time.Since(start), map[string]string{"network": t.network.String()})
	}()

	req, err := t.transferRequest(call)
	if err != nil {
		return "", err
	}

	var built triggerResult
	if err := t.post(ctx, "/wallet/triggersmartcontract", req, &built); err != nil {
		return "", err
	}
	if !built.Result.Result || len(built.Transaction) == 0 {
		return "", types.NewError(types.ErrChainSubmissionFailed,
			fmt.Sprintf("failed to build transaction: %s", decodeHexMessage(built.Result.Message)))
	}

	var tx builtTransaction
	if err := json.Unmarshal(built.Transaction, &tx); err != nil {
		return "", fmt.Errorf("failed to decode built transaction: %w", err)
	}

	signed, err := t.signTransaction(&tx)
	if err != nil {
		return "", err
	}

	var res broadcastResult
	if err := t.post(ctx, "/wallet/broadcasttransaction", signed, &res); err != nil {
		return "", err
	}
	if !res.Result {
		return "", types.NewError(types.ErrChainSubmissionFailed,
			fmt.Sprintf("broadcast rejected (%s): %s", res.Code, decodeHexMessage(res.Message)))
	}

	t.log.Info("transaction broadcast", map[string]any{
		"network": t.network.String(),
		"txID":    tx.TxID,
	})
	return tx.TxID, nil
}

func (t *TronGridClient) ReceiptOf(ctx context.Context, txID string) (*Receipt, error) {
	start := time.Now()
	defer func() {
		t.rec.ObserveLatency(metrics.OpPoll, time.Since(start), map[string]string{"network": t.network.String()})
	}()

	var info txInfoResult
	err := t.post(ctx, "/wallet/gettransactioninfobyid", map[string]string{"value": txID}, &info)
	if err != nil {
		return nil, err
	}

	// An empty id means the transaction is not yet included in a block.
	if info.ID == "" {
		return &Receipt{TxID: txID, Status: TxStatusPending}, nil
	}
	if info.Result == "FAILED" || (info.Receipt.Result != "" && info.Receipt.Result != "SUCCESS") {
		reason := decodeHexMessage(info.ResMessage)
		if reason == "" {
			reason = info.Receipt.Result
		}
		return &Receipt{TxID: txID, Status: TxStatusRejected, Reason: reason}, nil
	}
	return &Receipt{TxID: txID, Status: TxStatusConfirmed}, nil
}

// ---- helpers ----------------------------------------------------------

func (t *TronGridClient) transferRequest(call *TransferCall) (*triggerRequest, error) {
	contract, err := tronHexAddress(call.Asset)
	if err != nil {
		return nil, fmt.Errorf("asset: %w", err)
	}
	owner, err := tronHexAddress(t.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("signer address: %w", err)
	}
	params, err := packTransferParams(call)
	if err != nil {
		return nil, err
	}
	return &triggerRequest{
		OwnerAddress:     owner,
		ContractAddress:  contract,
		FunctionSelector: transferSelector,
		Parameter:        params,
		FeeLimit:         t.feeLimit,
	}, nil
}

// signTransaction signs the sha256 of raw_data_hex, the digest Tron nodes
// verify against.
func (t *TronGridClient) signTransaction(tx *builtTransaction) (*builtTransaction, error) {
	raw, err := hex.DecodeString(tx.RawDataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid raw_data_hex: %w", err)
	}
	digest := sha256.Sum256(raw)

	sig, err := t.signer.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	signed := *tx
	signed.Signature = []string{hex.EncodeToString(sig)}
	return &signed, nil
}

func (t *TronGridClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set(tronAPIKeyHeader, t.apiKey)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("trongrid request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("trongrid returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode trongrid response: %w", err)
	}
	return nil
}

// decodeHexMessage decodes TronGrid's hex-encoded error messages, falling
// back to the raw string.
func decodeHexMessage(msg string) string {
	if msg == "" {
		return ""
	}
	if raw, err := hex.DecodeString(msg); err == nil {
		return string(raw)
	}
	return msg
}
