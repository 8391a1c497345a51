package solana

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectTransaction_SOLTransfer(t *testing.T) {
	fromAddr := newTestKey(t).PublicKey()
	toAddr := newTestKey(t).PublicKey()

	// Build System Transfer instruction data:
	// [0..4]  = instruction type (u32, 2 = Transfer)
	// [4..12] = lamports (u64)
	instructionData := make([]byte, 12)
	binary.LittleEndian.PutUint32(instructionData[0:4], SystemProgramTransferInstruction)
	binary.LittleEndian.PutUint64(instructionData[4:12], 1000000000) // 1 SOL in lamports

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{fromAddr, toAddr, solana.SystemProgramID},
			Instructions: []solana.CompiledInstruction{
				{
					ProgramIDIndex: 2,
					Accounts:       []uint16{0, 1},
					Data:           instructionData,
				},
			},
		},
	}

	inspected, err := InspectTransaction(tx)

	require.NoError(t, err)
	require.Len(t, inspected.NativeTransfers, 1)
	assert.Equal(t, uint64(1000000000), inspected.NativeTransfers[0].Lamports)
	assert.Equal(t, fromAddr.String(), inspected.NativeTransfers[0].From)
	assert.Equal(t, toAddr.String(), inspected.NativeTransfers[0].To)
	assert.Empty(t, inspected.Transfers)
	assert.Equal(t, fromAddr.String(), inspected.FeePayer)
}

func TestInspectTransaction_TransferChecked(t *testing.T) {
	source := newTestKey(t).PublicKey()
	mintAddr := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v") // USDC mainnet
	dest := newTestKey(t).PublicKey()
	authority := newTestKey(t).PublicKey()

	// [0] = type (12), [1..9] = amount, [9] = decimals
	instructionData := make([]byte, 10)
	instructionData[0] = TokenProgramTransferCheckedInstruction
	binary.LittleEndian.PutUint64(instructionData[1:9], 1000000) // 1 USDC (6 decimals)
	instructionData[9] = 6

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{authority, source, mintAddr, dest, solana.TokenProgramID},
			Instructions: []solana.CompiledInstruction{
				{
					ProgramIDIndex: 4,
					Accounts:       []uint16{1, 2, 3, 0},
					Data:           instructionData,
				},
			},
		},
	}

	inspected, err := InspectTransaction(tx)

	require.NoError(t, err)
	require.Len(t, inspected.Transfers, 1)
	transfer := inspected.Transfers[0]
	assert.Equal(t, uint64(1000000), transfer.Amount)
	require.NotNil(t, transfer.Decimals)
	assert.Equal(t, uint8(6), *transfer.Decimals)
	assert.Equal(t, mintAddr.String(), transfer.Mint)
	assert.Equal(t, source.String(), transfer.Source)
	assert.Equal(t, dest.String(), transfer.Destination)
	assert.Equal(t, authority.String(), transfer.Authority)
}

func TestInspectTransaction_PlainTransferHasNoMint(t *testing.T) {
	source := newTestKey(t).PublicKey()
	dest := newTestKey(t).PublicKey()
	authority := newTestKey(t).PublicKey()

	instructionData := make([]byte, 9)
	instructionData[0] = TokenProgramTransferInstruction
	binary.LittleEndian.PutUint64(instructionData[1:9], 42)

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{authority, source, dest, Token2022ProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 3, Accounts: []uint16{1, 2, 0}, Data: instructionData},
			},
		},
	}

	inspected, err := InspectTransaction(tx)

	require.NoError(t, err)
	require.Len(t, inspected.Transfers, 1)
	assert.Equal(t, uint64(42), inspected.Transfers[0].Amount)
	assert.Empty(t, inspected.Transfers[0].Mint)
	assert.Nil(t, inspected.Transfers[0].Decimals)
}

func TestInspectTransaction_Memo(t *testing.T) {
	payer := newTestKey(t).PublicKey()

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "plain", data: []byte("mintpass:mint:abc"), want: "mintpass:mint:abc"},
		{name: "base64", data: []byte(base64.StdEncoding.EncodeToString([]byte("order 1234"))), want: "order 1234"},
		{name: "legacy program", data: []byte("hello"), want: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program := MemoProgramIDSPL
			if tt.name == "legacy program" {
				program = MemoProgramIDLegacy
			}
			tx := &solana.Transaction{
				Message: solana.Message{
					AccountKeys: []solana.PublicKey{payer, program},
					Instructions: []solana.CompiledInstruction{
						{ProgramIDIndex: 1, Accounts: []uint16{0}, Data: tt.data},
					},
				},
			}

			inspected, err := InspectTransaction(tx)

			require.NoError(t, err)
			require.NotNil(t, inspected.Memo)
			assert.Equal(t, tt.want, *inspected.Memo)
		})
	}
}

func TestInspectTransaction_MalformedInstructionsAreSkipped(t *testing.T) {
	payer := newTestKey(t).PublicKey()

	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys: []solana.PublicKey{payer, solana.TokenProgramID},
			Instructions: []solana.CompiledInstruction{
				{ProgramIDIndex: 1, Accounts: []uint16{0}, Data: []byte{TokenProgramTransferCheckedInstruction, 1}},
				{ProgramIDIndex: 1, Accounts: []uint16{0, 9, 9}, Data: make([]byte, 9)},
			},
		},
	}

	inspected, err := InspectTransaction(tx)

	require.NoError(t, err)
	assert.Empty(t, inspected.Transfers)
}

func TestInspectTransaction_ProgramIndexOutOfBounds(t *testing.T) {
	tx := &solana.Transaction{
		Message: solana.Message{
			AccountKeys:  []solana.PublicKey{newTestKey(t).PublicKey()},
			Instructions: []solana.CompiledInstruction{{ProgramIDIndex: 5}},
		},
	}

	_, err := InspectTransaction(tx)
	assert.Error(t, err)
}

func TestInspect_InvalidBytes(t *testing.T) {
	_, err := Inspect([]byte{0xff, 0x01})
	assert.Error(t, err)
}
