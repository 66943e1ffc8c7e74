// Package account holds the stable identity and credentials of a trading
// account. Credentials live only in memory; they are never logged and
// never placed on an IPC result.
package account

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Credentials are the terminal login triple for one account. The
// String/GoString methods are intentionally redacting so an accidental
// %+v or fmt.Sprintf("%v", cred) never leaks a password into a log line.
type Credentials struct {
	Login    string
	Password string
	Server   string
}

// String redacts the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Login:%s, Server:%s, Password:<redacted>}", c.Login, c.Server)
}

// GoString redacts the password for %#v as well.
func (c Credentials) GoString() string { return c.String() }

// Account is the stable identity of one configured trading account.
type Account struct {
	ID          int64
	Login       string
	Server      string
	Credentials Credentials
	Active      bool
}

// Registry is the in-memory set of known accounts, populated at process
// start from the environment and/or explicit control calls (spec.md §6:
// "connect account" may supply credentials directly).
type Registry struct {
	mu       sync.RWMutex
	accounts map[int64]*Account
}

// NewRegistry returns an empty account registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[int64]*Account)}
}

// LoadDotEnv loads a .env file if present; a missing file is not an error,
// mirroring godotenv's typical optional-use in development.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// CredentialsFromEnv reads MT5_<ACCOUNT_ID>_LOGIN / _PASSWORD / _SERVER for
// the given account ID from the process environment.
func CredentialsFromEnv(accountID int64) (Credentials, error) {
	prefix := fmt.Sprintf("MT5_%d_", accountID)
	login := os.Getenv(prefix + "LOGIN")
	password := os.Getenv(prefix + "PASSWORD")
	server := os.Getenv(prefix + "SERVER")

	if strings.TrimSpace(login) == "" || strings.TrimSpace(password) == "" || strings.TrimSpace(server) == "" {
		return Credentials{}, fmt.Errorf("incomplete credentials for account %d: set %sLOGIN/%sPASSWORD/%sSERVER",
			accountID, prefix, prefix, prefix)
	}
	return Credentials{Login: login, Password: password, Server: server}, nil
}

// Put registers or replaces an account record.
func (r *Registry) Put(a *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = a
}

// Get returns the account for an ID, or false if unknown.
func (r *Registry) Get(id int64) (*Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	return a, ok
}

// IDs returns every registered account ID.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	return ids
}

// Remove deletes an account record.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
}
