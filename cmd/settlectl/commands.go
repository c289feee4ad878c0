package main

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/urfave/cli/v2"

	"settlement-engine/config"
	"settlement-engine/internal/api"
	"settlement-engine/internal/signature"
	"settlement-engine/internal/typedhash"
)

var keyFlag = &cli.StringFlag{
	Name:    "key",
	Usage:   "hex-encoded secp256k1 private key",
	EnvVars: []string{"SETTLECTL_KEY"},
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "settlectl",
		Usage:     "operator tooling for the settlement engine",
		Writer:    out,
		ErrWriter: out,
		Commands: []*cli.Command{
			{
				Name:   "hash",
				Usage:  "print the digest of an eth_signTypedData_v4 payload",
				Action: hashTypedData,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "typed-data", Required: true, Usage: "path to the typed-data JSON, - for stdin"},
				},
			},
			{
				Name:   "order-digest",
				Usage:  "print the digest an offerer signs for an order, under the configured domain",
				Action: orderDigest,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "order", Required: true, Usage: "path to the order JSON in the API format, - for stdin"},
				},
			},
			{
				Name:   "sign-auth",
				Usage:  "issue an operator authorization for a sale",
				Action: signAuthorization,
				Flags: []cli.Flag{
					keyFlag,
					&cli.StringFlag{Name: "sale-id", Required: true, Usage: "sale id address"},
					&cli.DurationFlag{Name: "ttl", Value: 5 * time.Minute, Usage: "authorization lifetime"},
					&cli.Uint64Flag{Name: "expires-at", Usage: "absolute unix expiry, overrides --ttl"},
				},
			},
			{
				Name:   "sign",
				Usage:  "sign a 32-byte digest",
				Action: signDigest,
				Flags: []cli.Flag{
					keyFlag,
					&cli.StringFlag{Name: "digest", Required: true, Usage: "0x-prefixed 32-byte digest"},
				},
			},
			{
				Name:   "address",
				Usage:  "print the address of a private key",
				Action: printAddress,
				Flags:  []cli.Flag{keyFlag},
			},
		},
	}
}

func hashTypedData(c *cli.Context) error {
	raw, err := readInput(c.String("typed-data"))
	if err != nil {
		return err
	}

	var td apitypes.TypedData
	if err := json.Unmarshal(raw, &td); err != nil {
		return fmt.Errorf("failed to parse typed data: %w", err)
	}

	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return fmt.Errorf("failed to hash typed data: %w", err)
	}

	_, err = fmt.Fprintln(c.App.Writer, hexutil.Encode(digest))
	return err
}

func orderDigest(c *cli.Context) error {
	mc, err := config.Load().Marketplace()
	if err != nil {
		return err
	}

	raw, err := readInput(c.String("order"))
	if err != nil {
		return err
	}
	order, err := api.DecodeOrder(raw)
	if err != nil {
		return fmt.Errorf("failed to parse order: %w", err)
	}

	digest, err := typedhash.OrderDigest(typedhash.DomainFromConfig(mc), order)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(c.App.Writer, digest.Hex())
	return err
}

func signAuthorization(c *cli.Context) error {
	mc, err := config.Load().Marketplace()
	if err != nil {
		return err
	}
	key, err := privateKey(c)
	if err != nil {
		return err
	}
	if signer := crypto.PubkeyToAddress(key.PublicKey); signer != mc.SignatureAdmin {
		return fmt.Errorf("key belongs to %s, but the signature admin is %s", signer.Hex(), mc.SignatureAdmin.Hex())
	}

	raw := c.String("sale-id")
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("invalid sale id %q", raw)
	}
	saleID := common.HexToAddress(raw)

	expiresAt := uint32(time.Now().Add(c.Duration("ttl")).Unix())
	if c.IsSet("expires-at") {
		expiresAt = uint32(c.Uint64("expires-at"))
	}

	digest, err := typedhash.AuthDigest(mc.AuthScheme, typedhash.DomainFromConfig(mc), saleID, expiresAt, mc.OrderVersion)
	if err != nil {
		return err
	}
	sig, err := signature.Sign(digest, key)
	if err != nil {
		return err
	}

	return json.NewEncoder(c.App.Writer).Encode(map[string]interface{}{
		"sale_id":    saleID.Hex(),
		"expires_at": expiresAt,
		"signature":  hexutil.Encode(sig),
	})
}

func signDigest(c *cli.Context) error {
	key, err := privateKey(c)
	if err != nil {
		return err
	}
	raw, err := hexutil.Decode(c.String("digest"))
	if err != nil || len(raw) != common.HashLength {
		return fmt.Errorf("digest must be 32 hex-encoded bytes")
	}

	sig, err := signature.Sign(common.BytesToHash(raw), key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, hexutil.Encode(sig))
	return err
}

func printAddress(c *cli.Context) error {
	key, err := privateKey(c)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, crypto.PubkeyToAddress(key.PublicKey).Hex())
	return err
}

func privateKey(c *cli.Context) (*ecdsa.PrivateKey, error) {
	raw := strings.TrimPrefix(c.String("key"), "0x")
	if raw == "" {
		return nil, fmt.Errorf("--key or SETTLECTL_KEY is required")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
