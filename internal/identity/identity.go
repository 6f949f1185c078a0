// Package identity carries the caller's wallet address through requests.
// Wallet signatures are verified upstream; the address is taken as given.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/strmly/strmly/internal/domain"
)

// WalletHeaderName carries the caller's wallet address.
const WalletHeaderName = "X-Wallet-Address"

type contextKey int

const walletKey contextKey = iota

// WalletFromContext returns the caller's wallet address, or "".
func WalletFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(walletKey).(string); ok {
		return v
	}
	return ""
}

// WithWallet returns ctx carrying wallet.
func WithWallet(ctx context.Context, wallet string) context.Context {
	return context.WithValue(ctx, walletKey, wallet)
}

func walletFromRequest(r *http.Request) string {
	wallet := strings.TrimSpace(r.Header.Get(WalletHeaderName))
	if wallet == "" {
		// Browsers cannot set headers on websocket upgrades.
		wallet = strings.TrimSpace(r.URL.Query().Get("wallet"))
	}
	return wallet
}

// Middleware injects the caller's wallet address when one is supplied.
// A malformed address is rejected; a missing one is allowed.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := walletFromRequest(r)
		if wallet == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !domain.IsAddress(wallet) {
			http.Error(w, `{"error":"invalid wallet address"}`, http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithWallet(r.Context(), wallet)))
	})
}

// RequireWallet rejects requests without a wallet address.
func RequireWallet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if WalletFromContext(r.Context()) == "" {
			http.Error(w, `{"error":"wallet address required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SameWallet compares addresses ignoring checksum casing.
func SameWallet(a, b string) bool {
	return strings.EqualFold(a, b)
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
