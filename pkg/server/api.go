package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gridpilot/gridpilot/pkg/planner"
	"github.com/gridpilot/gridpilot/pkg/scheduler"
	"github.com/gridpilot/gridpilot/pkg/types"
)

type statusResponse struct {
	Scheduler   scheduler.Snapshot `json:"scheduler"`
	LoadManager bool               `json:"loadManagerEnabled"`
	HubOK       bool               `json:"hubOK"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Scheduler:   s.sched.Snapshot(),
		LoadManager: s.cfg.LoadManager.Enabled,
	}
	resp.HubOK = s.hub.Ping(r.Context()) == nil
	writeJSON(w, resp)
}

func (s *Server) handleLastDecision(w http.ResponseWriter, r *http.Request) {
	d, ok, err := s.db.GetLastDecision(r.Context())
	if err != nil {
		writeJSONError(w, "failed to load decision", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSONError(w, "no decision yet", http.StatusNotFound)
		return
	}
	writeJSON(w, d)
}

// timeRange parses start/end query params, defaulting to the last 24h.
func timeRange(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	return start, end, nil
}

func (s *Server) handleDecisionHistory(w http.ResponseWriter, r *http.Request) {
	start, end, err := timeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range", http.StatusBadRequest)
		return
	}
	ds, err := s.db.GetDecisionHistory(r.Context(), start, end)
	if err != nil {
		writeJSONError(w, "failed to load decisions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, ds)
}

func (s *Server) handleHourlyStats(w http.ResponseWriter, r *http.Request) {
	start, end, err := timeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range", http.StatusBadRequest)
		return
	}
	stats, err := s.db.GetHourlyStats(r.Context(), start, end)
	if err != nil {
		writeJSONError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// handlePlan simulates a full day and returns the charging plan. The date
// defaults to today; the initial SOC defaults to the last telemetry read.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	date := time.Now()
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSONError(w, "invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = t
	}

	priceDay, err := s.prices.GetDay(r.Context(), date)
	if err != nil {
		if errors.Is(err, types.ErrDataUnavailable) {
			writeJSONError(w, "prices not published yet for that date", http.StatusNotFound)
			return
		}
		writeJSONError(w, "failed to fetch prices", http.StatusBadGateway)
		return
	}
	solarDay, err := s.solar.GetDay(r.Context(), date)
	if err != nil {
		writeJSONError(w, "failed to fetch solar forecast", http.StatusBadGateway)
		return
	}

	initialSOC := s.cfg.Thresholds.TargetSOC
	if snap := s.sched.Snapshot(); snap.LastTelemetry != nil {
		initialSOC = snap.LastTelemetry.SOC
	}

	plan := s.planner.GeneratePlan(r.Context(), planner.Request{
		Date:       date,
		Prices:     priceDay,
		Solar:      solarDay,
		Thresholds: s.cfg.Thresholds,
		Battery:    s.cfg.Battery,
		InitialSOC: initialSOC,
	})
	writeJSON(w, plan)
}

type loadResponse struct {
	Device              types.LoadDevice `json:"device"`
	IsOn                bool             `json:"isOn"`
	State               types.LoadState  `json:"state"`
	ShedDurationSeconds float64          `json:"shedDurationSeconds,omitempty"`
}

func (s *Server) handleLoads(w http.ResponseWriter, r *http.Request) {
	if s.loads == nil {
		writeJSON(w, []loadResponse{})
		return
	}
	statuses, err := s.loads.Status(r.Context())
	if err != nil {
		writeJSONError(w, "failed to read load state", http.StatusBadGateway)
		return
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Device.ID < statuses[j].Device.ID
	})
	now := time.Now()
	resp := make([]loadResponse, 0, len(statuses))
	for _, st := range statuses {
		lr := loadResponse{Device: st.Device, IsOn: st.IsOn, State: st.State}
		if st.State.IsShed {
			d, err := s.db.GetShedDuration(r.Context(), st.Device.ID, now)
			if err != nil {
				writeJSONError(w, "failed to read load state", http.StatusInternalServerError)
				return
			}
			lr.ShedDurationSeconds = d.Seconds()
		}
		resp = append(resp, lr)
	}
	writeJSON(w, resp)
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	// body is optional
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "paused by operator"
	}
	s.sched.Pause(req.Reason)
	writeJSON(w, s.sched.Snapshot())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.sched.Resume(r.Context())
	writeJSON(w, s.sched.Snapshot())
}

func (s *Server) handleForceTick(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.ForceTick(r.Context()); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, s.sched.Snapshot())
}
