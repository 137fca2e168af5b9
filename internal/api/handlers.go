package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/lox/seawaywind/internal/analysis"
	"github.com/lox/seawaywind/internal/models"
	"github.com/lox/seawaywind/internal/normalize"
	"github.com/lox/seawaywind/internal/query"
	"github.com/lox/seawaywind/internal/store"
)

const maxLookaheadHours = 48

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("api: write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// station resolves the station query parameter, defaulting to the primary
// station.
func (s *Server) station(r *http.Request) (models.Station, error) {
	code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("station")))
	if code == "" {
		return s.catalog.Primary(), nil
	}
	return s.catalog.Station(code)
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := query.GraphRequest{
		Type:    q.Get("type"),
		Station: q.Get("station"),
		Start:   q.Get("start"),
		End:     q.Get("end"),
	}
	if req.Station == "" {
		req.Station = s.catalog.Primary().Code
	}

	resp, err := s.reader.Graph(r.Context(), req)
	if err != nil {
		if errors.Is(err, query.ErrUnknownGraphType) || errors.Is(err, query.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("api: graph query", "type", req.Type, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleAnalysis returns yesterday's and today's merged-day documents keyed
// by object key.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	loc := s.catalog.Location()
	now := s.clock.Now().In(loc)
	today := normalize.CivilDay(now, loc).Start
	yesterday := normalize.Yesterday(now, loc)

	docs, err := s.reader.Recent(r.Context(), st.Code, yesterday, today)
	if err != nil {
		s.logger.Error("api: recent analysis", "station", st.Code, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	st, err := s.station(r)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	hours := analysis.DefaultLookaheadHours
	if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h < 1 || h > maxLookaheadHours {
			s.writeError(w, http.StatusBadRequest, "hours must be between 1 and 48")
			return
		}
		hours = h
	}

	window, err := s.builder.Lookahead(r.Context(), st, s.clock.Now(), hours)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "forecast not available")
			return
		}
		s.logger.Error("api: forecast lookahead", "station", st.Code, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, window)
}
