package solana

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// MintMemoPrefix tags mint payments so they can be matched to a request on-chain.
const MintMemoPrefix = "mintpass:mint:"

// MintMemo returns the memo attached to the payment for a mint request.
func MintMemo(requestID string) string {
	return MintMemoPrefix + requestID
}

// TransferParams describes an SPL token transfer from a connected wallet.
type TransferParams struct {
	From     solana.PublicKey // wallet owner, fee payer and transfer authority
	To       solana.PublicKey // recipient wallet, not its token account
	Mint     solana.PublicKey
	Amount   decimal.Decimal // human-scaled
	Decimals uint8
	Memo     string // optional
}

// MintParams describes the payment for one mint.
type MintParams struct {
	Payer     solana.PublicKey
	Treasury  solana.PublicKey
	Mint      solana.PublicKey
	Price     decimal.Decimal
	Decimals  uint8
	RequestID string
}

// Builder assembles unsigned transfer transactions.
type Builder struct {
	client     *Client
	commitment rpc.CommitmentType
}

// NewBuilder creates a transaction builder. Blockhashes are fetched at
// finalized commitment so they are known to every node.
func NewBuilder(client *Client) *Builder {
	return &Builder{
		client:     client,
		commitment: rpc.CommitmentFinalized,
	}
}

// BuildTransfer creates an unsigned transaction moving Amount of Mint from the
// sender's associated token account to the recipient's. If the recipient's
// token account does not exist, an instruction creating it (paid by the
// sender) is prepended.
func (b *Builder) BuildTransfer(ctx context.Context, p TransferParams) (*PendingTransaction, error) {
	if p.From.IsZero() {
		return nil, fmt.Errorf("sender is required")
	}
	if p.To.IsZero() {
		return nil, fmt.Errorf("recipient is required")
	}

	raw, err := ToRawAmount(p.Amount, p.Decimals)
	if err != nil {
		return nil, err
	}

	source, _, err := solana.FindAssociatedTokenAddress(p.From, p.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive sender token account: %w", err)
	}
	destination, _, err := solana.FindAssociatedTokenAddress(p.To, p.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive recipient token account: %w", err)
	}

	exists, err := b.accountExists(ctx, destination)
	if err != nil {
		return nil, err
	}

	var instructions []solana.Instruction
	if !exists {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(p.From, p.To, p.Mint).Build())
	}

	instructions = append(instructions,
		token.NewTransferCheckedInstruction(
			raw,
			p.Decimals,
			source,
			p.Mint,
			destination,
			p.From,
			[]solana.PublicKey{},
		).Build())

	if p.Memo != "" {
		instructions = append(instructions, memoInstruction(p.From, p.Memo))
	}

	blockhash, err := b.latestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash.Blockhash, solana.TransactionPayer(p.From))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble transaction: %w", err)
	}

	b.client.logger.DebugContext(ctx, "built transfer",
		"from", p.From.String(),
		"to", p.To.String(),
		"mint", p.Mint.String(),
		"amount", p.Amount.String(),
		"creates_token_account", !exists,
		"last_valid_block_height", blockhash.LastValidBlockHeight)

	return &PendingTransaction{
		Transaction:          tx,
		FeePayer:             p.From,
		RecentBlockhash:      blockhash.Blockhash,
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
		RawAmount:            raw,
		CreatesTokenAccount:  !exists,
	}, nil
}

// BuildMint creates the payment transaction for one mint: a transfer of the
// mint price to the treasury, tagged with the request ID.
func (b *Builder) BuildMint(ctx context.Context, p MintParams) (*PendingTransaction, error) {
	if p.RequestID == "" {
		return nil, fmt.Errorf("request id is required")
	}
	return b.BuildTransfer(ctx, TransferParams{
		From:     p.Payer,
		To:       p.Treasury,
		Mint:     p.Mint,
		Amount:   p.Price,
		Decimals: p.Decimals,
		Memo:     MintMemo(p.RequestID),
	})
}

func (b *Builder) latestBlockhash(ctx context.Context) (*rpc.LatestBlockhashResult, error) {
	callCtx, cancel := b.client.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	result, err := b.client.rpc.GetLatestBlockhash(callCtx, b.commitment)
	b.client.record("GetLatestBlockhash", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockhashFetch, err)
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("%w: empty response", ErrBlockhashFetch)
	}
	return result.Value, nil
}

func (b *Builder) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	callCtx, cancel := b.client.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	result, err := b.client.rpc.GetAccountInfo(callCtx, account)
	b.client.record("GetAccountInfo", start, err)
	if err != nil {
		if isAccountNotFound(err) {
			return false, nil
		}
		return false, classify("GetAccountInfo", err)
	}
	return result != nil && result.Value != nil, nil
}

// memoInstruction builds an SPL Memo instruction signed by the fee payer.
func memoInstruction(signer solana.PublicKey, memo string) solana.Instruction {
	return solana.NewInstruction(
		MemoProgramIDSPL,
		solana.AccountMetaSlice{solana.NewAccountMeta(signer, false, true)},
		[]byte(memo),
	)
}
