/**
 * @description
 * HTTP handlers for the pool engine's API. Handlers parse requests, call
 * the application service and translate its errors into HTTP statuses:
 * validation failures become 400, lifecycle conflicts 409, treasury policy
 * rejections 403 and not-found sentinels 404.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/domain, internal/store: service logic, models
 *   and sentinel errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hredostate/Togedaly-New-sub001/internal/app"
	"github.com/hredostate/Togedaly-New-sub001/internal/config"
	"github.com/hredostate/Togedaly-New-sub001/internal/store"
)

// PoolEngineHandlers holds the application service that handlers use.
type PoolEngineHandlers struct {
	service *app.Service
	logger  *slog.Logger
}

func NewPoolEngineHandlers(service *app.Service, logger *slog.Logger) *PoolEngineHandlers {
	return &PoolEngineHandlers{service: service, logger: logger}
}

func (h *PoolEngineHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *PoolEngineHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps application errors to HTTP statuses.
func (h *PoolEngineHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case app.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case app.IsConflict(err):
		h.writeError(w, http.StatusConflict, err.Error())
	case app.IsPolicyRejection(err):
		h.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrPoolInactive):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrPoolActive):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrSlotTaken):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInsufficientLocked):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrPoolNotFound),
		errors.Is(err, store.ErrCycleNotFound),
		errors.Is(err, store.ErrMembershipNotFound),
		errors.Is(err, store.ErrObligationNotFound),
		errors.Is(err, store.ErrInstructionNotFound),
		errors.Is(err, store.ErrRunNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrPolicyNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

// JoinPoolHandler assigns a user to a rotation slot in a not-yet-active pool.
func (h *PoolEngineHandlers) JoinPoolHandler(w http.ResponseWriter, r *http.Request) {
	poolID, err := parseUUIDParam(r, "poolID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid pool ID format")
		return
	}

	var req struct {
		UserID       uuid.UUID `json:"user_id"`
		RotationSlot int       `json:"rotation_slot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	membership, err := h.service.JoinPool(r.Context(), poolID, req.UserID, req.RotationSlot)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, membership)
}

// ActivatePoolHandler starts a pool's rotation. Activation requires every
// rotation slot to be held; afterwards the roster is frozen.
func (h *PoolEngineHandlers) ActivatePoolHandler(w http.ResponseWriter, r *http.Request) {
	poolID, err := parseUUIDParam(r, "poolID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid pool ID format")
		return
	}

	if err := h.service.ActivatePool(r.Context(), poolID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// CreateObligationsHandler materializes the obligations for a scheduled
// cycle. Safe to replay; the response lists only newly created ids.
func (h *PoolEngineHandlers) CreateObligationsHandler(w http.ResponseWriter, r *http.Request) {
	poolID, err := parseUUIDParam(r, "poolID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid pool ID format")
		return
	}
	cycleID, err := parseUUIDParam(r, "cycleID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid cycle ID format")
		return
	}

	created, err := h.service.CreateObligationsForCycle(r.Context(), poolID, cycleID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"created_obligation_ids": created})
}

// SettleObligationHandler records a contribution payment against an
// obligation. Duplicate settlements are acknowledged, not errors.
func (h *PoolEngineHandlers) SettleObligationHandler(w http.ResponseWriter, r *http.Request) {
	obligationID, err := parseUUIDParam(r, "obligationID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid obligation ID format")
		return
	}

	var req struct {
		SettledAt *time.Time `json:"settled_at"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	settledAt := time.Now().UTC()
	if req.SettledAt != nil {
		settledAt = req.SettledAt.UTC()
	}

	if err := h.service.SettleObligation(r.Context(), obligationID, settledAt); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// EvaluateMembershipHandler runs the default-state evaluation for one member
// and returns the resulting state.
func (h *PoolEngineHandlers) EvaluateMembershipHandler(w http.ResponseWriter, r *http.Request) {
	membershipID, err := parseUUIDParam(r, "membershipID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid membership ID format")
		return
	}

	state, err := h.service.EvaluateDefaultState(r.Context(), membershipID, time.Now().UTC())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"default_state": state})
}

// ResetMissedCounterHandler clears a member's consecutive-missed counter.
// Admin only; the engine never resets the counter on its own.
func (h *PoolEngineHandlers) ResetMissedCounterHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := GetAdminID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get admin ID from context")
		return
	}
	membershipID, err := parseUUIDParam(r, "membershipID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid membership ID format")
		return
	}

	if err := h.service.ResetMissedCounter(r.Context(), membershipID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.logger.Info("missed counter reset", "membership_id", membershipID, "admin_id", adminID)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// GeneratePayoutRunHandler materializes the payout run for a cycle. Replays
// return the existing run with 200 instead of 201.
func (h *PoolEngineHandlers) GeneratePayoutRunHandler(w http.ResponseWriter, r *http.Request) {
	poolID, err := parseUUIDParam(r, "poolID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid pool ID format")
		return
	}
	cycleID, err := parseUUIDParam(r, "cycleID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid cycle ID format")
		return
	}

	var req struct {
		Actor string `json:"actor"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Actor == "" {
		req.Actor = "api"
	}

	result, err := h.service.GenerateRun(r.Context(), poolID, cycleID, req.Actor)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if result.AlreadyExisted {
		status = http.StatusOK
	}
	h.writeJSON(w, status, result)
}

// GetInstructionHandler returns a payout instruction by id.
func (h *PoolEngineHandlers) GetInstructionHandler(w http.ResponseWriter, r *http.Request) {
	instructionID, err := parseUUIDParam(r, "instructionID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid instruction ID format")
		return
	}

	instr, err := h.service.GetInstruction(r.Context(), instructionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, instr)
}

// MarkPaidHandler records a successful disbursement from the payment
// processor.
func (h *PoolEngineHandlers) MarkPaidHandler(w http.ResponseWriter, r *http.Request) {
	instructionID, err := parseUUIDParam(r, "instructionID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid instruction ID format")
		return
	}

	var req struct {
		ProviderReference string `json:"provider_reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.MarkPaid(r.Context(), instructionID, req.ProviderReference); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

// MarkFailedHandler records a terminal disbursement failure.
func (h *PoolEngineHandlers) MarkFailedHandler(w http.ResponseWriter, r *http.Request) {
	instructionID, err := parseUUIDParam(r, "instructionID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid instruction ID format")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.MarkFailed(r.Context(), instructionID, req.Reason); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

// DeferPayoutHandler parks a scheduled payout.
func (h *PoolEngineHandlers) DeferPayoutHandler(w http.ResponseWriter, r *http.Request) {
	instructionID, err := parseUUIDParam(r, "instructionID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid instruction ID format")
		return
	}

	var req struct {
		Reason        string     `json:"reason"`
		DeferredUntil *time.Time `json:"deferred_until"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.DeferPayout(r.Context(), instructionID, req.Reason, req.DeferredUntil); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deferred"})
}

// ApprovePayoutHandler is the admin maker-checker release of a scheduled
// payout.
func (h *PoolEngineHandlers) ApprovePayoutHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := GetAdminID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get admin ID from context")
		return
	}
	instructionID, err := parseUUIDParam(r, "instructionID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid instruction ID format")
		return
	}

	if err := h.service.ApproveSecure(r.Context(), instructionID, adminID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

// RequeuePayoutHandler returns a deferred payout to the schedule.
func (h *PoolEngineHandlers) RequeuePayoutHandler(w http.ResponseWriter, r *http.Request) {
	adminID, ok := GetAdminID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get admin ID from context")
		return
	}
	instructionID, err := parseUUIDParam(r, "instructionID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid instruction ID format")
		return
	}

	if err := h.service.RequeueDeferred(r.Context(), instructionID, adminID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})
}

// RequestUnlockHandler handles a member's collateral unlock request.
func (h *PoolEngineHandlers) RequestUnlockHandler(w http.ResponseWriter, r *http.Request) {
	poolID, err := parseUUIDParam(r, "poolID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid pool ID format")
		return
	}

	var req struct {
		UserID       uuid.UUID `json:"user_id"`
		Amount       int64     `json:"amount"`
		CurrentCycle int       `json:"current_cycle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.RequestUnlock(r.Context(), poolID, req.UserID, req.Amount, req.CurrentCycle); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

// ListDeficitsHandler returns a pool's unresolved collateral deficits.
func (h *PoolEngineHandlers) ListDeficitsHandler(w http.ResponseWriter, r *http.Request) {
	poolID, err := parseUUIDParam(r, "poolID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid pool ID format")
		return
	}

	deficits, err := h.service.ListUnresolvedDeficits(r.Context(), poolID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"deficits": deficits})
}

// LiquidityPositionHandler returns the pool's treasury position and draw
// capacity.
func (h *PoolEngineHandlers) LiquidityPositionHandler(w http.ResponseWriter, r *http.Request) {
	poolID, err := parseUUIDParam(r, "poolID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid pool ID format")
		return
	}

	position, err := h.service.Guard().ComputeLiquidityPosition(r.Context(), poolID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, position)
}

// AuthorizeOperationHandler runs an operation through the treasury policy
// guard. An allowed decision consumes ceiling room; callers must only ask
// when they intend to execute.
func (h *PoolEngineHandlers) AuthorizeOperationHandler(w http.ResponseWriter, r *http.Request) {
	poolID, err := parseUUIDParam(r, "poolID")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid pool ID format")
		return
	}

	var req struct {
		Operation string `json:"operation"`
		Amount    int64  `json:"amount"`
		Actor     string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	decision, err := h.service.Guard().Authorize(r.Context(), req.Operation, req.Amount, poolID, req.Actor)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

// ReloadKillSwitchHandler re-reads the global credit kill-switch from the
// environment and reports the value now in force.
func (h *PoolEngineHandlers) ReloadKillSwitchHandler(w http.ResponseWriter, r *http.Request) {
	active := config.ReloadGlobalCreditKillSwitch()
	h.logger.Info("global credit kill-switch reloaded", "active", active)
	h.writeJSON(w, http.StatusOK, map[string]bool{"global_credit_kill_switch": active})
}
