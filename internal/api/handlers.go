package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Goshimadev/HeroesMarketplace/internal/config"
	"github.com/Goshimadev/HeroesMarketplace/internal/marketplace"
	"github.com/Goshimadev/HeroesMarketplace/internal/repository"
	"github.com/Goshimadev/HeroesMarketplace/internal/store"
	"github.com/Goshimadev/HeroesMarketplace/internal/ws"
)

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

// addressHeader carries the caller identity. There is no signature
// verification here; authentication is out of scope for this service and
// the header is trusted the way a dev-chain signer would be.
const addressHeader = "X-User-Address"

type Handler struct {
	market  *marketplace.Marketplace
	repo    *repository.Repository // nil when no archive is configured
	bus     *store.Bus
	wsHub   *ws.Hub
	config  *config.Config
	logger  *zap.SugaredLogger
	metrics MetricsInterface
}

func NewHandler(
	market *marketplace.Marketplace,
	repo *repository.Repository,
	bus *store.Bus,
	wsHub *ws.Hub,
	config *config.Config,
	logger *zap.SugaredLogger,
	metrics MetricsInterface,
) *Handler {
	return &Handler{
		market:  market,
		repo:    repo,
		bus:     bus,
		wsHub:   wsHub,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "BUS_UNAVAILABLE", err.Error())
			return
		}
	}
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", err.Error())
			return
		}
	}
	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

// CreateItem mints a new asset for the caller.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}
	if req.URI == "" {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "uri is required")
		return
	}

	assetID, err := h.market.CreateItem(r.Context(), caller, req.URI)
	if err != nil {
		h.writeMarketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, CreateItemResponse{AssetID: assetID, Owner: caller, URI: req.URI})
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}

	l, err := h.market.ListingInfo(assetID)
	if err != nil {
		h.writeMarketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, ListingDTO{
		AssetID: assetID,
		Seller:  l.Seller,
		Price:   l.Price.String(),
	})
}

func (h *Handler) ListItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}

	var req ListItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "price must be a decimal string")
		return
	}

	if err := h.market.ListItem(r.Context(), caller, assetID, price); err != nil {
		h.writeMarketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, ListingDTO{AssetID: assetID, Seller: caller, Price: price.String()})
}

func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}

	if err := h.market.Cancel(r.Context(), caller, assetID); err != nil {
		h.writeMarketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "canceled"})
}

func (h *Handler) BuyItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}

	if err := h.market.BuyItem(r.Context(), caller, assetID); err != nil {
		h.writeMarketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "sold"})
}

func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}

	a, err := h.market.AuctionInfo(assetID)
	if err != nil {
		h.writeMarketError(w, err)
		return
	}

	cfg := h.market.ConfigSnapshot()
	h.writeJSON(w, http.StatusOK, AuctionDTO{
		AssetID:    assetID,
		Seller:     a.Seller,
		StartTime:  a.StartTime.Unix(),
		EndsAt:     a.StartTime.Add(cfg.AuctionDuration).Unix(),
		CurrentBid: a.CurrentBid.String(),
		Bidder:     a.Bidder,
		BidsCount:  a.BidsCount,
	})
}

func (h *Handler) OpenAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}

	if err := h.market.ListItemOnAuction(r.Context(), caller, assetID); err != nil {
		h.writeMarketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, StatusResponse{Status: "auction started"})
}

func (h *Handler) MakeBid(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}

	var req BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "amount must be a decimal string")
		return
	}

	if err := h.market.MakeBid(r.Context(), caller, assetID, amount); err != nil {
		h.writeMarketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "bid accepted"})
}

func (h *Handler) FinishAuction(w http.ResponseWriter, r *http.Request) {
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}

	if err := h.market.FinishAuction(r.Context(), assetID); err != nil {
		h.writeMarketError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{Status: "auction resolved"})
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.market.ConfigSnapshot()
	h.writeJSON(w, http.StatusOK, ConfigDTO{
		Owner:              h.market.Owner(),
		AuctionDurationSec: int64(cfg.AuctionDuration / time.Second),
		MinBids:            cfg.MinBids,
	})
}

func (h *Handler) SetAuctionDuration(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req SetDurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}

	d := time.Duration(req.Seconds) * time.Second
	if err := h.market.SetAuctionDuration(r.Context(), caller, d); err != nil {
		h.writeMarketError(w, err)
		return
	}

	h.GetConfig(w, r)
}

func (h *Handler) SetMinBids(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req SetMinBidsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return
	}

	if err := h.market.SetMinBids(r.Context(), caller, req.Count); err != nil {
		h.writeMarketError(w, err)
		return
	}

	h.GetConfig(w, r)
}

// GetAssetEvents serves the archived event history for one asset.
func (h *Handler) GetAssetEvents(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		h.writeError(w, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "event archive is not configured")
		return
	}
	assetID, ok := h.assetID(w, r)
	if !ok {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	events, err := h.repo.AssetEvents(r.Context(), assetID, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "ARCHIVE_ERROR", err.Error())
		return
	}
	if events == nil {
		events = []marketplace.Event{}
	}

	h.writeJSON(w, http.StatusOK, events)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr := r.Header.Get(addressHeader)
	if addr == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_ADDRESS", addressHeader+" header is required")
		return "", false
	}
	return addr, true
}

func (h *Handler) assetID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "assetID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_ASSET_ID", "asset id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

// writeMarketError maps the marketplace failure taxonomy onto HTTP:
// validation 400, state conflicts 409, authorization 403, collaborator
// rejections 422.
func (h *Handler) writeMarketError(w http.ResponseWriter, err error) {
	var status int
	var code string

	switch marketplace.KindOf(err) {
	case marketplace.KindValidation:
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	case marketplace.KindState:
		status, code = http.StatusConflict, "STATE_ERROR"
	case marketplace.KindAuthorization:
		status, code = http.StatusForbidden, "AUTHORIZATION_ERROR"
	case marketplace.KindCollaborator:
		status, code = http.StatusUnprocessableEntity, "COLLABORATOR_ERROR"
	default:
		status, code = http.StatusInternalServerError, "INTERNAL_ERROR"
	}

	h.writeError(w, status, code, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.logger.Errorw("API error", "code", code, "message", message, "status", status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := ErrorResponse{
		Code:    code,
		Message: message,
	}
	json.NewEncoder(w).Encode(err)
}
