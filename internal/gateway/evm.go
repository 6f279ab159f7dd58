package gateway

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ramppool/ramp-api/internal/types"
)

const (
	nativeTransferGas   = uint64(21000)
	fallbackGasLimit    = uint64(350000)
	receiptPollInterval = 2 * time.Second
)

const erc20ABIJSON = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","constant":true,"inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// EVMGateway signs and broadcasts transactions from one hot wallet
// across a set of EVM chains, one RPC client per chain.
type EVMGateway struct {
	clients    map[int64]*ethclient.Client
	privateKey *ecdsa.PrivateKey
	wallet     common.Address
	erc20ABI   abi.ABI
}

// NewEVMGateway dials every configured RPC endpoint and derives the
// pool wallet address from the hot-wallet key. Without a configured key
// an ephemeral one is generated so the server can still serve quotes
// and order intake; on-chain sends from an unfunded ephemeral wallet
// will fail their orders.
func NewEVMGateway(rpcURLs map[int64]string, privateKeyHex string) (*EVMGateway, error) {
	var key *ecdsa.PrivateKey
	var err error
	if privateKeyHex == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral wallet key: %w", err)
		}
		log.Warn().Msg("no hot wallet key configured, using an ephemeral unfunded wallet")
	} else {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid hot wallet key: %w", err)
		}
	}

	parsedABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}

	clients := make(map[int64]*ethclient.Client, len(rpcURLs))
	for chainID, url := range rpcURLs {
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, fmt.Errorf("failed to dial chain %d rpc: %w", chainID, err)
		}
		clients[chainID] = client
	}

	return &EVMGateway{
		clients:    clients,
		privateKey: key,
		wallet:     crypto.PubkeyToAddress(key.PublicKey),
		erc20ABI:   parsedABI,
	}, nil
}

func (g *EVMGateway) client(chainID int64) (*ethclient.Client, error) {
	client, ok := g.clients[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: no rpc client configured for chain %d", types.ErrUpstream, chainID)
	}
	return client, nil
}

func (g *EVMGateway) GetWalletAddress(chainID int64) (string, error) {
	// One hot wallet key is used across all EVM chains; the chain only
	// needs to be configured.
	if _, err := g.client(chainID); err != nil {
		return "", err
	}
	return g.wallet.Hex(), nil
}

func (g *EVMGateway) SendNative(ctx context.Context, chainID int64, to string, amount decimal.Decimal) (string, error) {
	return g.broadcast(ctx, chainID, common.HexToAddress(to), nil, toWei(amount, 18), nativeTransferGas)
}

func (g *EVMGateway) SendERC20(ctx context.Context, chainID int64, tokenAddress, to string, amount decimal.Decimal, decimals int) (string, error) {
	data, err := g.erc20ABI.Pack("transfer", common.HexToAddress(to), toWei(amount, decimals))
	if err != nil {
		return "", fmt.Errorf("%w: failed to pack transfer call: %v", types.ErrUpstream, err)
	}
	return g.broadcast(ctx, chainID, common.HexToAddress(tokenAddress), data, big.NewInt(0), 0)
}

func (g *EVMGateway) ExecuteTransaction(ctx context.Context, chainID int64, to string, data []byte, value *big.Int) (string, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	return g.broadcast(ctx, chainID, common.HexToAddress(to), data, value, 0)
}

// broadcast signs and sends a legacy transaction. A zero gasLimit means
// estimate, falling back to a fixed limit when estimation fails.
func (g *EVMGateway) broadcast(ctx context.Context, chainID int64, to common.Address, data []byte, value *big.Int, gasLimit uint64) (string, error) {
	client, err := g.client(chainID)
	if err != nil {
		return "", err
	}

	nonce, err := client.PendingNonceAt(ctx, g.wallet)
	if err != nil {
		return "", fmt.Errorf("%w: failed to fetch nonce on chain %d: %v", types.ErrUpstream, chainID, err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to fetch gas price on chain %d: %v", types.ErrUpstream, chainID, err)
	}

	if gasLimit == 0 {
		gasLimit, err = client.EstimateGas(ctx, ethereum.CallMsg{
			From:  g.wallet,
			To:    &to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			log.Warn().Err(err).
				Int64("chain_id", chainID).
				Str("to", to.Hex()).
				Msg("gas estimation failed, using fallback limit")
			gasLimit = fallbackGasLimit
		}
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(big.NewInt(chainID)), g.privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: failed to sign transaction on chain %d: %v", types.ErrUpstream, chainID, err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: failed to broadcast transaction on chain %d: %v", types.ErrUpstream, chainID, err)
	}

	log.Info().
		Int64("chain_id", chainID).
		Str("tx_hash", signed.Hash().Hex()).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Msg("transaction broadcast")

	return signed.Hash().Hex(), nil
}

// WaitForTransaction polls for the receipt until the transaction is
// mined or the context deadline passes. A deadline expiry is reported
// as a confirmation timeout, never as success.
func (g *EVMGateway) WaitForTransaction(ctx context.Context, chainID int64, txHash string) (*Confirmation, error) {
	client, err := g.client(chainID)
	if err != nil {
		return nil, err
	}

	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("%w: transaction %s reverted on chain %d", types.ErrUpstream, txHash, chainID)
			}
			return &Confirmation{
				TxHash:      txHash,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("%w: failed to fetch receipt for %s on chain %d: %v", types.ErrUpstream, txHash, chainID, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: transaction %s on chain %d", types.ErrConfirmationTimeout, txHash, chainID)
		case <-ticker.C:
		}
	}
}

func (g *EVMGateway) GetOnChainBalance(ctx context.Context, chainID int64, tokenAddress string, decimals int) (decimal.Decimal, error) {
	client, err := g.client(chainID)
	if err != nil {
		return decimal.Zero, err
	}

	if strings.EqualFold(tokenAddress, types.NativeTokenAddress) {
		wei, err := client.BalanceAt(ctx, g.wallet, nil)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: failed to read native balance on chain %d: %v", types.ErrUpstream, chainID, err)
		}
		return fromWei(wei, 18), nil
	}

	data, err := g.erc20ABI.Pack("balanceOf", g.wallet)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: failed to pack balanceOf call: %v", types.ErrUpstream, err)
	}

	token := common.HexToAddress(tokenAddress)
	raw, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: failed to read token balance on chain %d: %v", types.ErrUpstream, chainID, err)
	}

	results, err := g.erc20ABI.Unpack("balanceOf", raw)
	if err != nil || len(results) != 1 {
		return decimal.Zero, fmt.Errorf("%w: unexpected balanceOf response on chain %d", types.ErrUpstream, chainID)
	}
	wei, ok := results[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unexpected balanceOf result type on chain %d", types.ErrUpstream, chainID)
	}

	return fromWei(wei, decimals), nil
}

func toWei(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).BigInt()
}

func fromWei(wei *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(wei, 0).Shift(-int32(decimals))
}
