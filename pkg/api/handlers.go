package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seqops/seqaudit/pkg/archive"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w. The status line is
// already sent by the time encoding can fail, so a failure is only
// logged.
func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("Failed to encode response")
	}
}

// auditResponse is the API shape of an archived audit.
type auditResponse struct {
	ID          uint      `json:"id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	GeneratedAt time.Time `json:"generated_at"`
	TotalRuns   int       `json:"total_runs"`

	Summaries []summaryResponse `json:"summaries"`
}

type summaryResponse struct {
	AssayType         string  `json:"assay_type"`
	CompliantRuns     int     `json:"compliant_runs"`
	RelevantRuns      int     `json:"relevant_runs"`
	CompliancePercent float64 `json:"compliance_percent"`
	MeanOverallDays   float64 `json:"mean_overall_days"`
	MedianOverallDays float64 `json:"median_overall_days"`
}

type recordResponse struct {
	AssayType   string `json:"assay_type"`
	RunName     string `json:"run_name"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	TicketKey   string `json:"ticket_key,omitempty"`

	Upload   *time.Time `json:"upload,omitempty"`
	FirstJob *time.Time `json:"first_job,omitempty"`
	LastJob  *time.Time `json:"last_job,omitempty"`
	Release  *time.Time `json:"release,omitempty"`

	UploadToFirstJobDays    *float64 `json:"upload_to_first_job_days,omitempty"`
	PipelineDays            *float64 `json:"pipeline_days,omitempty"`
	ProcessingToReleaseDays *float64 `json:"processing_to_release_days,omitempty"`
	OverallDays             *float64 `json:"overall_days,omitempty"`

	Classification string   `json:"classification"`
	ReviewReasons  []string `json:"review_reasons,omitempty"`
}

func newAuditResponse(row *archive.Audit) auditResponse {
	resp := auditResponse{
		ID:          row.ID,
		PeriodStart: row.PeriodStart,
		PeriodEnd:   row.PeriodEnd,
		GeneratedAt: row.GeneratedAt,
		TotalRuns:   row.TotalRuns,
		Summaries:   []summaryResponse{},
	}

	for i := range row.Summaries {
		s := &row.Summaries[i]

		resp.Summaries = append(resp.Summaries, summaryResponse{
			AssayType:         s.AssayType,
			CompliantRuns:     s.CompliantRuns,
			RelevantRuns:      s.RelevantRuns,
			CompliancePercent: s.CompliancePercent,
			MeanOverallDays:   s.MeanOverallDays,
			MedianOverallDays: s.MedianOverallDays,
		})
	}

	return resp
}

func newRecordResponse(row *archive.Record) recordResponse {
	resp := recordResponse{
		AssayType:               row.AssayType,
		RunName:                 row.RunName,
		WorkspaceID:             row.WorkspaceID,
		TicketKey:               row.TicketKey,
		Upload:                  row.Upload,
		FirstJob:                row.FirstJob,
		LastJob:                 row.LastJob,
		Release:                 row.Release,
		UploadToFirstJobDays:    row.UploadToFirstJobDays,
		PipelineDays:            row.PipelineDays,
		ProcessingToReleaseDays: row.ProcessingToReleaseDays,
		OverallDays:             row.OverallDays,
		Classification:          row.Classification,
	}

	if row.ReviewReasons != "" {
		resp.ReviewReasons = strings.Split(row.ReviewReasons, ";")
	}

	return resp
}

// auditIDParam parses the {id} URL parameter.
func auditIDParam(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, err
	}

	return uint(id), nil
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListAudits returns all archived audits, most recent first.
func (s *server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	audits, err := s.store.ListAudits(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list audits")
		s.writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing audits"})

		return
	}

	resp := make([]auditResponse, 0, len(audits))
	for i := range audits {
		resp = append(resp, newAuditResponse(&audits[i]))
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetAudit returns one archived audit with its per-assay summaries.
func (s *server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	id, err := auditIDParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid audit id"})

		return
	}

	row, err := s.store.GetAudit(r.Context(), id)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound,
			errorResponse{"audit not found"})

		return
	}

	s.writeJSON(w, http.StatusOK, newAuditResponse(row))
}

// handleListRecords returns the per-run records of one archived audit.
func (s *server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	id, err := auditIDParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid audit id"})

		return
	}

	if _, err := s.store.GetAudit(r.Context(), id); err != nil {
		s.writeJSON(w, http.StatusNotFound,
			errorResponse{"audit not found"})

		return
	}

	records, err := s.store.ListRecords(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("Failed to list records")
		s.writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing records"})

		return
	}

	resp := make([]recordResponse, 0, len(records))
	for i := range records {
		resp = append(resp, newRecordResponse(&records[i]))
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleDeleteAudit removes an archived audit and its records.
func (s *server) handleDeleteAudit(w http.ResponseWriter, r *http.Request) {
	id, err := auditIDParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid audit id"})

		return
	}

	if _, err := s.store.GetAudit(r.Context(), id); err != nil {
		s.writeJSON(w, http.StatusNotFound,
			errorResponse{"audit not found"})

		return
	}

	if err := s.store.DeleteAudit(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete audit")
		s.writeJSON(w, http.StatusInternalServerError,
			errorResponse{"deleting audit"})

		return
	}

	s.log.WithField("audit_id", id).Info("Audit deleted")

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
