package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/vault-rebalancer/internal/errors"
	"github.com/vault-rebalancer/internal/models"
	"github.com/vault-rebalancer/internal/storage"
)

// walletHeader authenticates schedule requests. Ownership is the only
// authorization model: a wallet can act on its own schedule and nothing else.
const walletHeader = "X-Wallet-Address"

// scheduleResponse is the API shape of a schedule
type scheduleResponse struct {
	ID            string     `json:"id"`
	WalletAddress string     `json:"walletAddress"`
	Name          string     `json:"name,omitempty"`
	Interval      string     `json:"interval"`
	Enabled       bool       `json:"enabled"`
	NextRunAt     *time.Time `json:"nextRunAt,omitempty"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastFailedAt  *time.Time `json:"lastFailedAt,omitempty"`
	FailReason    *string    `json:"failReason,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func toScheduleResponse(job *models.ScheduledJob) scheduleResponse {
	return scheduleResponse{
		ID:            job.ID,
		WalletAddress: job.WalletAddress,
		Name:          job.Name,
		Interval:      job.IntervalHuman,
		Enabled:       job.Enabled,
		NextRunAt:     job.NextRunAt,
		LastRunAt:     job.LastRunAt,
		LastFailedAt:  job.LastFailedAt,
		FailReason:    job.FailReason,
		UpdatedAt:     job.UpdatedAt,
		CreatedAt:     job.CreatedAt,
	}
}

// walletFromRequest extracts and validates the wallet header
func walletFromRequest(r *http.Request) (string, error) {
	wallet := r.Header.Get(walletHeader)
	if wallet == "" {
		return "", errors.NewInvalidParameterError(walletHeader, "header is required")
	}
	if err := storage.ValidateAddress(wallet); err != nil {
		return "", errors.NewInvalidAddressError(wallet)
	}
	return strings.ToLower(wallet), nil
}

// resolveOwnedSchedule loads the schedule at {id} and checks the caller owns
// it. A schedule owned by another wallet reads as not found.
func (s *Server) resolveOwnedSchedule(w http.ResponseWriter, r *http.Request) (*models.ScheduledJob, string, bool) {
	wallet, err := walletFromRequest(r)
	if err != nil {
		respondServiceError(w, err)
		return nil, "", false
	}

	id := mux.Vars(r)["id"]
	job, err := s.manager.FindJobByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return nil, "", false
	}
	if job == nil || job.WalletAddress != wallet {
		respondServiceError(w, errors.NewScheduleNotFoundError(wallet))
		return nil, "", false
	}
	return job, wallet, true
}

type createScheduleRequest struct {
	Name     string `json:"name,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// handleCreateSchedule creates or reactivates the caller's schedule
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletFromRequest(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	var req createScheduleRequest
	if r.ContentLength > 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, errors.CodeInvalidParameter, "invalid request body: "+err.Error(), nil)
			return
		}
	}

	job, err := s.manager.CreateJob(r.Context(), wallet, req.Name, req.Interval)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toScheduleResponse(job))
}

// handleListSchedules lists the caller's schedules
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletFromRequest(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	jobs, err := s.manager.ListJobsByWallet(r.Context(), wallet)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	out := make([]scheduleResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toScheduleResponse(job))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"schedules": out})
}

type editScheduleRequest struct {
	Interval string `json:"interval"`
}

// handleEditSchedule changes the schedule's interval
func (s *Server) handleEditSchedule(w http.ResponseWriter, r *http.Request) {
	_, wallet, ok := s.resolveOwnedSchedule(w, r)
	if !ok {
		return
	}

	var req editScheduleRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errors.CodeInvalidParameter, "invalid request body: "+err.Error(), nil)
		return
	}

	job, err := s.manager.EditJob(r.Context(), wallet, req.Interval)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toScheduleResponse(job))
}

// handleEnableSchedule re-enables the schedule
func (s *Server) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	_, wallet, ok := s.resolveOwnedSchedule(w, r)
	if !ok {
		return
	}

	job, err := s.manager.EnableJob(r.Context(), wallet)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toScheduleResponse(job))
}

// handleDisableSchedule disables the schedule. A missing schedule is a 404
// at the route level even though the manager treats disable as idempotent.
func (s *Server) handleDisableSchedule(w http.ResponseWriter, r *http.Request) {
	_, wallet, ok := s.resolveOwnedSchedule(w, r)
	if !ok {
		return
	}

	job, err := s.manager.DisableJob(r.Context(), wallet)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toScheduleResponse(job))
}

type cancelScheduleRequest struct {
	ReceiverAddress string `json:"receiverAddress,omitempty"`
}

// handleCancelSchedule cancels the schedule, liquidating every position and
// optionally paying the balance out to a receiver. Unlike the other id
// routes, a schedule that is already gone is a success, so clients can
// safely retry a cancel whose first attempt completed.
func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletFromRequest(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	var req cancelScheduleRequest
	if r.ContentLength > 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, errors.CodeInvalidParameter, "invalid request body: "+err.Error(), nil)
			return
		}
	}

	// A schedule owned by another wallet is invisible here; CancelJob only
	// ever acts on the caller's own schedule.
	record, err := s.manager.CancelJob(r.Context(), wallet, req.ReceiverAddress)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"swap": record})
}

const (
	defaultSwapLimit = 20
	maxSwapLimit     = 100
)

// handleListSwaps returns the paginated ledger for a schedule, newest first
func (s *Server) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	job, wallet, ok := s.resolveOwnedSchedule(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", defaultSwapLimit)
	if limit < 1 || limit > maxSwapLimit {
		limit = defaultSwapLimit
	}
	skip := queryInt(r, "skip", 0)
	if skip < 0 {
		skip = 0
	}

	records, err := s.swaps.ListBySchedule(r.Context(), job.ID, limit, skip)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if len(records) == 0 {
		respondError(w, http.StatusNotFound, errors.CodeSwapsNotFound,
			"no swaps recorded for schedule of "+wallet, map[string]interface{}{"scheduleId": job.ID})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"swaps": records,
		"limit": limit,
		"skip":  skip,
	})
}

// handleListWalletSwaps returns the wallet's full ledger across all of its
// schedules, past and present, newest first
func (s *Server) handleListWalletSwaps(w http.ResponseWriter, r *http.Request) {
	wallet, err := walletFromRequest(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	limit := queryInt(r, "limit", defaultSwapLimit)
	if limit < 1 || limit > maxSwapLimit {
		limit = defaultSwapLimit
	}
	skip := queryInt(r, "skip", 0)
	if skip < 0 {
		skip = 0
	}

	records, err := s.swaps.ListByWallet(r.Context(), wallet, limit, skip)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if len(records) == 0 {
		respondError(w, http.StatusNotFound, errors.CodeSwapsNotFound,
			"no swaps recorded for "+wallet, nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"swaps": records,
		"limit": limit,
		"skip":  skip,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
