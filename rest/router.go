package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/spooky-finn/orderbook-reconciler/domain"
	"github.com/spooky-finn/orderbook-reconciler/rpc"
	"github.com/spooky-finn/orderbook-reconciler/usecase"
)

// statusClientClosedRequest is nginx's code for a client that went away mid request.
const statusClientClosedRequest = 499

type SnapshotService interface {
	GetOrderBookSnapshot(ctx context.Context, provider, symbol string, limit int) (*domain.OrderBookSnapshot, error)
}

type Router struct {
	snapshots  SnapshotService
	validation *rpc.ValidationService
	logger     zerolog.Logger
}

// NewRouter serves
//
//	GET /v1/orderbook/{provider}/{market}?depth=N
//	GET /healthz
//	GET /metrics (when metrics is not nil)
func NewRouter(snapshots SnapshotService, validation *rpc.ValidationService, metrics http.Handler, logger zerolog.Logger) http.Handler {
	rt := &Router{
		snapshots:  snapshots,
		validation: validation,
		logger:     logger.With().Str("component", "rest").Logger(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/orderbook/{provider}/{market}", rt.orderBook).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (rt *Router) orderBook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	provider := vars["provider"]
	if !rt.validation.IsSupportedProvider(provider) {
		rt.error(w, http.StatusBadRequest, "provider "+strconv.Quote(provider)+" is not supported")
		return
	}

	market, err := rt.validation.Market(vars["market"])
	if err != nil {
		rt.error(w, http.StatusBadRequest, err.Error())
		return
	}

	depth := 0
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if depth, err = strconv.Atoi(raw); err != nil {
			rt.error(w, http.StatusBadRequest, "depth must be an integer")
			return
		}
	}
	if depth, err = rt.validation.Depth(depth); err != nil {
		rt.error(w, http.StatusBadRequest, err.Error())
		return
	}

	snapshot, err := rt.snapshots.GetOrderBookSnapshot(r.Context(), provider, market, depth)
	if err != nil {
		rt.error(w, statusOf(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		rt.logger.Warn().Err(err).Msg("write response")
	}
}

func (rt *Router) error(w http.ResponseWriter, code int, msg string) {
	if code >= http.StatusInternalServerError {
		rt.logger.Error().Int("status", code).Msg(msg)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func statusOf(err error) int {
	var fetchErr *domain.FetchError

	switch {
	case errors.Is(err, domain.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, usecase.ErrClosed), errors.As(err, &fetchErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
