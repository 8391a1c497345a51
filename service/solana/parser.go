package solana

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program IDs
var (
	// Token2022ProgramID is the Token Extensions program (Token-2022)
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// MemoProgramIDSPL is the SPL Memo program (most common)
	MemoProgramIDSPL = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	// MemoProgramIDLegacy is the legacy memo program (v1)
	MemoProgramIDLegacy = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// Token Program instruction types
const (
	TokenProgramTransferInstruction        = uint8(3)
	TokenProgramTransferCheckedInstruction = uint8(12)
)

// InspectedTransaction is a decoded view of a wire transaction, used to show
// the user what a wallet is being asked to sign.
type InspectedTransaction struct {
	Signatures      []string         `json:"signatures"`
	Signed          bool             `json:"signed"`
	FeePayer        string           `json:"fee_payer"`
	RecentBlockhash string           `json:"recent_blockhash"`
	Transfers       []TokenTransfer  `json:"transfers,omitempty"`
	NativeTransfers []NativeTransfer `json:"native_transfers,omitempty"`
	CreatesAccounts int              `json:"creates_accounts"`
	Memo            *string          `json:"memo,omitempty"`
}

// TokenTransfer is one SPL Token transfer instruction.
type TokenTransfer struct {
	Amount      uint64 `json:"amount"`
	Decimals    *uint8 `json:"decimals,omitempty"`
	Mint        string `json:"mint,omitempty"` // only set for TransferChecked
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Authority   string `json:"authority"`
}

// NativeTransfer is one System Program lamport transfer.
type NativeTransfer struct {
	Lamports uint64 `json:"lamports"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// DecodeTransaction decodes wire-format transaction bytes.
func DecodeTransaction(raw []byte) (*solana.Transaction, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

// Inspect decodes wire-format bytes and describes the transaction.
func Inspect(raw []byte) (*InspectedTransaction, error) {
	tx, err := DecodeTransaction(raw)
	if err != nil {
		return nil, err
	}
	return InspectTransaction(tx)
}

// InspectTransaction describes the instructions of a decoded transaction.
// Unknown instructions are skipped.
func InspectTransaction(tx *solana.Transaction) (*InspectedTransaction, error) {
	accountKeys := tx.Message.AccountKeys
	if len(accountKeys) == 0 {
		return nil, fmt.Errorf("transaction has no account keys")
	}

	out := &InspectedTransaction{
		Signed:          len(tx.Signatures) > 0,
		FeePayer:        accountKeys[0].String(),
		RecentBlockhash: tx.Message.RecentBlockhash.String(),
	}
	for _, sig := range tx.Signatures {
		if sig == (solana.Signature{}) {
			out.Signed = false
		}
		out.Signatures = append(out.Signatures, sig.String())
	}

	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			return nil, fmt.Errorf("program index %d out of bounds", instruction.ProgramIDIndex)
		}
		programID := accountKeys[instruction.ProgramIDIndex]

		switch {
		case programID.Equals(solana.SystemProgramID):
			if transfer, err := parseSystemTransfer(instruction, accountKeys); err == nil {
				out.NativeTransfers = append(out.NativeTransfers, *transfer)
			}

		case programID.Equals(solana.TokenProgramID) || programID.Equals(Token2022ProgramID):
			if transfer, err := parseTokenTransfer(instruction, accountKeys); err == nil {
				out.Transfers = append(out.Transfers, *transfer)
			}

		case programID.Equals(solana.SPLAssociatedTokenAccountProgramID):
			out.CreatesAccounts++

		case programID.Equals(MemoProgramIDSPL) || programID.Equals(MemoProgramIDLegacy):
			if memo := parseMemo(instruction.Data); memo != "" {
				out.Memo = &memo
			}
		}
	}

	return out, nil
}

// parseSystemTransfer extracts a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (*NativeTransfer, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	// System Transfer accounts: [from, to]
	accounts, err := resolveAccounts(instruction, accountKeys, 2)
	if err != nil {
		return nil, err
	}

	return &NativeTransfer{
		Lamports: binary.LittleEndian.Uint64(instruction.Data[4:12]),
		From:     accounts[0].String(),
		To:       accounts[1].String(),
	}, nil
}

// parseTokenTransfer extracts an SPL Token Transfer or TransferChecked instruction.
func parseTokenTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (*TokenTransfer, error) {
	if len(instruction.Data) == 0 {
		return nil, fmt.Errorf("empty instruction data")
	}

	switch instruction.Data[0] {
	case TokenProgramTransferInstruction:
		// [0] = type, [1..9] = amount
		// accounts: [source, destination, authority]
		if len(instruction.Data) < 9 {
			return nil, fmt.Errorf("transfer instruction data too short")
		}
		accounts, err := resolveAccounts(instruction, accountKeys, 3)
		if err != nil {
			return nil, err
		}
		return &TokenTransfer{
			Amount:      binary.LittleEndian.Uint64(instruction.Data[1:9]),
			Source:      accounts[0].String(),
			Destination: accounts[1].String(),
			Authority:   accounts[2].String(),
		}, nil

	case TokenProgramTransferCheckedInstruction:
		// [0] = type, [1..9] = amount, [9] = decimals
		// accounts: [source, mint, destination, authority, ...]
		if len(instruction.Data) < 10 {
			return nil, fmt.Errorf("transferChecked instruction data too short")
		}
		accounts, err := resolveAccounts(instruction, accountKeys, 4)
		if err != nil {
			return nil, err
		}
		decimals := instruction.Data[9]
		return &TokenTransfer{
			Amount:      binary.LittleEndian.Uint64(instruction.Data[1:9]),
			Decimals:    &decimals,
			Mint:        accounts[1].String(),
			Source:      accounts[0].String(),
			Destination: accounts[2].String(),
			Authority:   accounts[3].String(),
		}, nil

	default:
		return nil, fmt.Errorf("unknown token instruction type: %d", instruction.Data[0])
	}
}

// resolveAccounts maps the first n instruction account indexes to keys.
func resolveAccounts(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey, n int) ([]solana.PublicKey, error) {
	if len(instruction.Accounts) < n {
		return nil, fmt.Errorf("instruction has %d accounts, need %d", len(instruction.Accounts), n)
	}
	out := make([]solana.PublicKey, n)
	for i := 0; i < n; i++ {
		idx := int(instruction.Accounts[i])
		if idx >= len(accountKeys) {
			return nil, fmt.Errorf("account index %d out of bounds", idx)
		}
		out[i] = accountKeys[idx]
	}
	return out, nil
}

// parseMemo extracts the memo text from a Memo Program instruction.
// Some clients base64-encode the memo, so that is tried first.
func parseMemo(data []byte) string {
	memo := string(data)
	if decoded, err := base64.StdEncoding.DecodeString(memo); err == nil && isPrintable(decoded) {
		return string(decoded)
	}
	return memo
}

func isPrintable(b []byte) bool {
	if len(b) == 0 || !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r < 0x20 {
			return false
		}
	}
	return true
}
