package httpx

import (
	"context"
	"net/http"

	"github.com/ariefcatur/go-order-reservations/internal/orders"
)

// Actor headers are set by the upstream gateway after authentication.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderUserEmail = "X-User-Email"
)

type actorKey struct{}

// RequireActor rejects requests without a user id and stores the actor in the context.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderUserID)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderUserID})
			return
		}
		a := orders.Actor{UserID: id, Role: orders.RoleCustomer, Email: r.Header.Get(HeaderUserEmail)}
		switch orders.Role(r.Header.Get(HeaderUserRole)) {
		case orders.RoleAdmin:
			a.Role = orders.RoleAdmin
		case orders.RoleCustomer, "":
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unknown role"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, a)))
	})
}

func actorFrom(ctx context.Context) orders.Actor {
	a, _ := ctx.Value(actorKey{}).(orders.Actor)
	return a
}
