package wallet

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"github.com/dmarkhas/solsentry/internal/domain"
)

const signatureSize = 64

// Config controls transaction submission behaviour.
type Config struct {
	RPCURL string

	// MaxAttempts bounds submission retries per transaction.
	MaxAttempts int
	// RetryInterval is the base delay between attempts. The delay grows
	// linearly: attempt n waits n * RetryInterval.
	RetryInterval time.Duration
	// ConfirmTimeout bounds how long a submitted signature is polled for
	// confirmation.
	ConfirmTimeout time.Duration
	// ConfirmPollInterval is the delay between confirmation polls.
	ConfirmPollInterval time.Duration
}

// Defaults returns the standard submission parameters.
func Defaults() Config {
	return Config{
		MaxAttempts:         3,
		RetryInterval:       2 * time.Second,
		ConfirmTimeout:      45 * time.Second,
		ConfirmPollInterval: 2 * time.Second,
	}
}

// Wallet signs serialized transactions and submits them over Solana JSON-RPC.
type Wallet struct {
	key     ed25519.PrivateKey
	address string
	cfg     Config
	client  *http.Client
	logger  *slog.Logger

	reqID atomic.Int64
}

// New creates a Wallet from a resolved keypair.
func New(key ed25519.PrivateKey, cfg Config, logger *slog.Logger) (*Wallet, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet: expected %d-byte keypair, got %d bytes", ed25519.PrivateKeySize, len(key))
	}
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("wallet: rpc url must not be empty")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	pub := key.Public().(ed25519.PublicKey)
	return &Wallet{
		key:     key,
		address: base58.Encode(pub),
		cfg:     cfg,
		client:  &http.Client{Timeout: 20 * time.Second},
		logger:  logger.With("component", "wallet"),
	}, nil
}

// Address returns the base58 public key of the wallet.
func (w *Wallet) Address() string { return w.address }

// Sign places the wallet's signature into the fee-payer slot of a serialized
// transaction and returns the signed bytes.
//
// A serialized transaction is a shortvec-prefixed array of 64-byte signatures
// followed by the message. The fee payer signs first.
func (w *Wallet) Sign(txBase64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return nil, fmt.Errorf("wallet: decode transaction: %w", err)
	}

	numSigs, offset, err := decodeShortvecLen(raw)
	if err != nil {
		return nil, fmt.Errorf("wallet: parse transaction: %w", err)
	}
	msgStart := offset + numSigs*signatureSize
	if numSigs == 0 || msgStart >= len(raw) {
		return nil, fmt.Errorf("wallet: malformed transaction: %d signature slots, %d bytes", numSigs, len(raw))
	}

	sig := ed25519.Sign(w.key, raw[msgStart:])
	copy(raw[offset:offset+signatureSize], sig)

	return raw, nil
}

// Submit signs the transaction and sends it to the RPC endpoint, retrying
// transient failures with a linearly growing delay. It returns the confirmed
// transaction signature.
func (w *Wallet) Submit(ctx context.Context, tx domain.UnsignedTx) (string, error) {
	signed, err := w.Sign(tx.Base64)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(signed)

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt-1) * w.cfg.RetryInterval):
			}
		}

		sig, err := w.sendTransaction(ctx, encoded)
		if err != nil {
			lastErr = err
			w.logger.Warn("submission attempt failed", "attempt", attempt, "error", err)
			continue
		}

		if err := w.awaitConfirmation(ctx, sig); err != nil {
			lastErr = err
			w.logger.Warn("confirmation failed", "attempt", attempt, "signature", sig, "error", err)
			continue
		}

		return sig, nil
	}

	return "", fmt.Errorf("wallet: submit after %d attempts: %w: %w", w.cfg.MaxAttempts, domain.ErrSubmitFailed, lastErr)
}

// rpcCall performs a single JSON-RPC request and unmarshals result into out.
func (w *Wallet) rpcCall(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      w.reqID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("wallet: encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.RPCURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("wallet: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("wallet: %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("wallet: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wallet: %s: status %d: %s", method, resp.StatusCode, string(body))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("wallet: decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("wallet: %s: rpc error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("wallet: decode %s result: %w", method, err)
		}
	}
	return nil
}

func (w *Wallet) sendTransaction(ctx context.Context, encoded string) (string, error) {
	var sig string
	err := w.rpcCall(ctx, "sendTransaction", []any{
		encoded,
		map[string]any{"encoding": "base64", "maxRetries": 0},
	}, &sig)
	if err != nil {
		return "", err
	}
	return sig, nil
}

// awaitConfirmation polls signature status until the transaction is confirmed
// or the timeout elapses.
func (w *Wallet) awaitConfirmation(ctx context.Context, sig string) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(w.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wallet: signature %s: %w", sig, domain.ErrNotConfirmed)
		case <-ticker.C:
		}

		var result struct {
			Value []*struct {
				ConfirmationStatus string          `json:"confirmationStatus"`
				Err                json.RawMessage `json:"err"`
			} `json:"value"`
		}
		if err := w.rpcCall(ctx, "getSignatureStatuses", []any{[]string{sig}}, &result); err != nil {
			w.logger.Warn("status poll failed", "signature", sig, "error", err)
			continue
		}
		if len(result.Value) == 0 || result.Value[0] == nil {
			continue
		}

		status := result.Value[0]
		if len(status.Err) > 0 && string(status.Err) != "null" {
			return fmt.Errorf("wallet: signature %s failed on chain: %s", sig, string(status.Err))
		}
		switch status.ConfirmationStatus {
		case "confirmed", "finalized":
			return nil
		}
	}
}

// decodeShortvecLen reads a compact-u16 length prefix, returning the value
// and the number of bytes consumed.
func decodeShortvecLen(data []byte) (int, int, error) {
	value := 0
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("truncated length prefix")
		}
		b := data[i]
		value |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("length prefix too long")
}

var _ domain.TxSubmitter = (*Wallet)(nil)
