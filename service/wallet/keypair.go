package wallet

import (
	"context"
	"fmt"
	"sort"
	"sync"

	solanago "github.com/gagliardetto/solana-go"
)

// ApprovalKind names what the user is asked to approve.
type ApprovalKind string

const (
	ApproveConnect     ApprovalKind = "connect"
	ApproveTransaction ApprovalKind = "sign_transaction"
	ApproveMessage     ApprovalKind = "sign_message"
)

// ApprovalRequest is shown to the user before the keypair acts.
type ApprovalRequest struct {
	Kind         ApprovalKind
	Account      solanago.PublicKey
	Transactions []*solanago.Transaction
	Message      []byte
}

// Approver stands in for the wallet's approval prompt.
type Approver func(ctx context.Context, req ApprovalRequest) bool

// AutoApprove approves everything.
func AutoApprove(context.Context, ApprovalRequest) bool { return true }

// KeypairProvider is a Provider backed by local ed25519 keys. It behaves like
// an injected browser wallet: connects need approval the first time, signing
// needs approval every time, and switching accounts fires accountChanged.
type KeypairProvider struct {
	name     string
	approver Approver

	mu        sync.Mutex
	accounts  []solanago.PrivateKey
	active    int
	connected bool
	trusted   bool
	handlers  map[string]map[int]EventHandler
	nextID    int
}

// NewKeypairProvider creates a provider over keys. The first key is active.
// A nil approver approves everything.
func NewKeypairProvider(name string, approver Approver, keys ...solanago.PrivateKey) *KeypairProvider {
	if approver == nil {
		approver = AutoApprove
	}
	return &KeypairProvider{
		name:     name,
		approver: approver,
		accounts: keys,
		handlers: make(map[string]map[int]EventHandler),
	}
}

// LoadKeypairProvider reads a solana-keygen JSON keypair file. A trusted
// provider accepts OnlyIfTrusted connects from the start, the way a wallet
// remembers an app it approved in an earlier run.
func LoadKeypairProvider(name, path string, approver Approver, trusted bool) (*KeypairProvider, error) {
	key, err := solanago.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair %s: %w", path, err)
	}
	p := NewKeypairProvider(name, approver, key)
	p.trusted = trusted
	return p, nil
}

func (p *KeypairProvider) Name() string { return p.name }

// Available reports whether the provider holds at least one key.
func (p *KeypairProvider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts) > 0
}

func (p *KeypairProvider) Connect(ctx context.Context, opts ConnectOptions) (solanago.PublicKey, error) {
	p.mu.Lock()
	if len(p.accounts) == 0 {
		p.mu.Unlock()
		return solanago.PublicKey{}, &RPCError{Code: CodeInternal, Message: "no accounts"}
	}
	account := p.accounts[p.active].PublicKey()
	trusted := p.trusted
	p.mu.Unlock()

	if opts.OnlyIfTrusted && !trusted {
		return solanago.PublicKey{}, &RPCError{Code: CodeUserRejected, Message: "User rejected the request."}
	}
	if !trusted && !p.approver(ctx, ApprovalRequest{Kind: ApproveConnect, Account: account}) {
		return solanago.PublicKey{}, &RPCError{Code: CodeUserRejected, Message: "User rejected the request."}
	}

	p.mu.Lock()
	p.connected = true
	p.trusted = true
	p.mu.Unlock()

	p.emit(EventConnect, &account)
	return account, nil
}

func (p *KeypairProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	p.mu.Unlock()

	if wasConnected {
		p.emit(EventDisconnect, nil)
	}
	return nil
}

func (p *KeypairProvider) SignTransaction(ctx context.Context, tx *solanago.Transaction) (*solanago.Transaction, error) {
	signed, err := p.SignAllTransactions(ctx, []*solanago.Transaction{tx})
	if err != nil {
		return nil, err
	}
	return signed[0], nil
}

func (p *KeypairProvider) SignAllTransactions(ctx context.Context, txs []*solanago.Transaction) ([]*solanago.Transaction, error) {
	key, err := p.activeKey()
	if err != nil {
		return nil, err
	}
	if !p.approver(ctx, ApprovalRequest{Kind: ApproveTransaction, Account: key.PublicKey(), Transactions: txs}) {
		return nil, &RPCError{Code: CodeUserRejected, Message: "User rejected the request."}
	}

	for _, tx := range txs {
		if _, err := tx.Sign(func(pub solanago.PublicKey) *solanago.PrivateKey {
			if pub.Equals(key.PublicKey()) {
				return &key
			}
			return nil
		}); err != nil {
			return nil, &RPCError{Code: CodeInternal, Message: err.Error()}
		}
	}
	return txs, nil
}

func (p *KeypairProvider) SignMessage(ctx context.Context, message []byte) (solanago.Signature, solanago.PublicKey, error) {
	key, err := p.activeKey()
	if err != nil {
		return solanago.Signature{}, solanago.PublicKey{}, err
	}
	if !p.approver(ctx, ApprovalRequest{Kind: ApproveMessage, Account: key.PublicKey(), Message: message}) {
		return solanago.Signature{}, solanago.PublicKey{}, &RPCError{Code: CodeUserRejected, Message: "User rejected the request."}
	}
	sig, err := key.Sign(message)
	if err != nil {
		return solanago.Signature{}, solanago.PublicKey{}, &RPCError{Code: CodeInternal, Message: err.Error()}
	}
	return sig, key.PublicKey(), nil
}

func (p *KeypairProvider) activeKey() (solanago.PrivateKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, &RPCError{Code: CodeUnauthorized, Message: "The requested method and/or account has not been authorized by the user."}
	}
	return p.accounts[p.active], nil
}

// SwitchAccount makes the key at index active, as a user picking another
// account in the wallet would. Connected listeners get accountChanged.
func (p *KeypairProvider) SwitchAccount(index int) error {
	p.mu.Lock()
	if index < 0 || index >= len(p.accounts) {
		p.mu.Unlock()
		return fmt.Errorf("account index %d out of range", index)
	}
	p.active = index
	connected := p.connected
	account := p.accounts[index].PublicKey()
	p.mu.Unlock()

	if connected {
		p.emit(EventAccountChanged, &account)
	}
	return nil
}

// Revoke withdraws the app's access, as a user locking the wallet would.
// Listeners get accountChanged with no account.
func (p *KeypairProvider) Revoke() {
	p.mu.Lock()
	connected := p.connected
	p.connected = false
	p.trusted = false
	p.mu.Unlock()

	if connected {
		p.emit(EventAccountChanged, nil)
	}
}

func (p *KeypairProvider) On(event string, handler EventHandler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handlers[event] == nil {
		p.handlers[event] = make(map[int]EventHandler)
	}
	id := p.nextID
	p.nextID++
	p.handlers[event][id] = handler

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers[event], id)
	}
}

// emit calls handlers in registration order, outside the lock.
func (p *KeypairProvider) emit(event string, account *solanago.PublicKey) {
	p.mu.Lock()
	ids := make([]int, 0, len(p.handlers[event]))
	for id := range p.handlers[event] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]EventHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, p.handlers[event][id])
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(account)
	}
}
