package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Client struct {
	baseURL      string
	http         *http.Client
	signer       *Signer
	vaultAddress *common.Address
	nonces       *nonceSource
	log          *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, signer *Signer, vaultAddress string) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if baseURL == "" {
		baseURL = "https://api.hyperliquid.xyz"
	}
	var vault *common.Address
	if strings.TrimSpace(vaultAddress) != "" {
		addr := common.HexToAddress(vaultAddress)
		vault = &addr
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		signer:       signer,
		vaultAddress: vault,
		nonces:       newNonceSource(),
		log:          zap.NewNop(),
	}, nil
}

func (c *Client) SetLogger(log *zap.Logger) {
	if log != nil {
		c.log = log
	}
}

// PlaceOrder submits one order and returns its exchange status.
func (c *Client) PlaceOrder(ctx context.Context, order OrderWire) (OrderStatus, error) {
	action := OrderAction{Type: "order", Orders: []OrderWire{order}, Grouping: "na"}
	payload, err := EncodeOrderAction(action)
	if err != nil {
		return OrderStatus{}, err
	}
	data, err := c.signAndPost(ctx, action, payload)
	if err != nil {
		return OrderStatus{}, err
	}
	return parseOrderResponse(data)
}

// CancelByCloid cancels a resting order by its client order id.
func (c *Client) CancelByCloid(ctx context.Context, asset int, cloid string) error {
	action := CancelByCloidAction{Type: "cancelByCloid", Cancels: []CancelByCloidWire{{Asset: asset, Cloid: cloid}}}
	payload, err := EncodeCancelByCloidAction(action)
	if err != nil {
		return err
	}
	data, err := c.signAndPost(ctx, action, payload)
	if err != nil {
		return err
	}
	return checkStatuses(data)
}

func (c *Client) UpdateLeverage(ctx context.Context, asset, leverage int, cross bool) error {
	action := UpdateLeverageAction{Type: "updateLeverage", Asset: asset, IsCross: cross, Leverage: leverage}
	payload, err := EncodeUpdateLeverageAction(action)
	if err != nil {
		return err
	}
	data, err := c.signAndPost(ctx, action, payload)
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(data)
	return err
}

// Withdraw sends amount USDC from the perp account to destination on Arbitrum. The
// bridge charges its fee out of the amount.
func (c *Client) Withdraw(ctx context.Context, destination string, amount decimal.Decimal) error {
	if c.vaultAddress != nil {
		return errors.New("withdrawals are not supported for vault accounts")
	}
	if !common.IsHexAddress(destination) {
		return fmt.Errorf("withdraw destination %q is not an address", destination)
	}
	if amount.Sign() <= 0 {
		return errors.New("withdraw amount must be > 0")
	}
	action := WithdrawAction{
		Type:        "withdraw3",
		Destination: destination,
		Amount:      amount.String(),
		Time:        c.nonces.next(),
	}
	sig, err := c.signer.SignWithdraw(&action)
	if err != nil {
		return err
	}
	data, err := c.postAction(ctx, action, sig, action.Time)
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(data)
	return err
}

func (c *Client) signAndPost(ctx context.Context, action any, payload []byte) ([]byte, error) {
	nonce := c.nonces.next()
	sig, err := c.signer.SignL1Action(payload, nonce, c.vaultAddress, nil)
	if err != nil {
		return nil, err
	}
	return c.postAction(ctx, action, sig, nonce)
}

// InitNonceStore resumes nonce issuance from the mark persisted in store and keeps
// writing every issued nonce back to it.
func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	return c.nonces.attach(ctx, store, nonceKey(c.baseURL, c.signer.Address(), c.vaultAddress), c.log)
}

func (c *Client) NonceState() (NonceState, bool) {
	return c.nonces.state()
}

func (c *Client) postAction(ctx context.Context, action any, sig Signature, nonce uint64) ([]byte, error) {
	var vaultAddress *string
	if c.vaultAddress != nil {
		addr := c.vaultAddress.Hex()
		vaultAddress = &addr
	}
	payload := SignedAction{
		Action:       action,
		Nonce:        nonce,
		Signature:    sig,
		VaultAddress: vaultAddress,
	}
	return c.post(ctx, "/exchange", payload)
}

func (c *Client) post(ctx context.Context, path string, req any) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(payload) > 2048 {
			payload = payload[:2048]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(payload)}
	}
	return payload, nil
}
