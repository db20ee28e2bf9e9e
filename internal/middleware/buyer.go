package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dunglas/httpsfv"

	"checkout-service/internal/model"
)

// BuyerContextHeader carries the buyer identity as an RFC 8941 dictionary:
//
//	Buyer-Context: user="42", browser="5d1c...", country="IN"
//
// Either user or browser identifies the cart; country drives PPP pricing.
const BuyerContextHeader = "Buyer-Context"

type ownerKey struct{}

// ParseBuyerContext parses a Buyer-Context header value. Members may be
// strings or tokens; unknown members are ignored.
func ParseBuyerContext(header string) (model.Owner, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return model.Owner{}, errors.New("empty Buyer-Context header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return model.Owner{}, fmt.Errorf("invalid Buyer-Context header: %w", err)
	}

	var owner model.Owner
	for key, dst := range map[string]*string{
		"user":    &owner.UserID,
		"browser": &owner.BrowserGUID,
		"country": &owner.Country,
	} {
		member, ok := dict.Get(key)
		if !ok {
			continue
		}
		v, err := memberString(member)
		if err != nil {
			return model.Owner{}, fmt.Errorf("invalid %s in Buyer-Context header: %w", key, err)
		}
		*dst = v
	}
	owner.Country = strings.ToUpper(owner.Country)

	if owner.IsZero() {
		return model.Owner{}, errors.New("user or browser required in Buyer-Context header")
	}
	return owner, nil
}

func memberString(member httpsfv.Member) (string, error) {
	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", errors.New("value must be an item")
	}
	switch v := item.Value.(type) {
	case string:
		return v, nil
	case httpsfv.Token:
		return string(v), nil
	default:
		return "", errors.New("value must be a string or token")
	}
}

// BuyerContext returns middleware that stores the request's buyer in the
// context. Requests without the header pass through with a zero owner and
// handlers that need a cart reject them. A malformed header is a 400.
func BuyerContext(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(BuyerContextHeader)
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			owner, err := ParseBuyerContext(header)
			if err != nil {
				logger.Warn("invalid Buyer-Context header",
					slog.String("header", header),
					slog.String("error", err.Error()))
				writeError(w, http.StatusBadRequest, "INVALID_BUYER_CONTEXT", err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

// WithOwner stores the buyer in ctx.
func WithOwner(ctx context.Context, owner model.Owner) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the buyer stored by BuyerContext, or a zero owner.
func OwnerFrom(ctx context.Context) model.Owner {
	owner, _ := ctx.Value(ownerKey{}).(model.Owner)
	return owner
}

// writeError writes the same error envelope the handlers use.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
