package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/readaloud/internal/observe"
	"github.com/MrWong99/readaloud/internal/session"
	"github.com/MrWong99/readaloud/pkg/types"
)

// ---- request bodies ----

type startRequest struct {
	Page     int    `json:"page"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

type languageRequest struct {
	Language string `json:"language"`
}

type autoPageTurnRequest struct {
	Enabled *bool `json:"enabled"`
}

type sleepRequest struct {
	Minutes float64 `json:"minutes"`
}

type pageRequest struct {
	Page int `json:"page"`
}

// ---- response bodies ----

type errorResponse struct {
	Error string `json:"error"`
}

type pagesResponse struct {
	Count   int `json:"count"`
	Current int `json:"current"`
}

type pageResponse struct {
	Page  int    `json:"page"`
	Count int    `json:"count"`
	Text  string `json:"text"`
}

// ---- state ----

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reader.State())
}

// ---- reading ----

// handleStart starts reading posted text, or a page of the document. With
// neither, the start page comes from WithStartPage or the page on screen.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	switch {
	case strings.TrimSpace(req.Text) != "":
		lang := s.reader.State().Language
		if req.Language != "" {
			if lang, err = types.ParseLanguage(req.Language); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		err = s.reader.StartReading(req.Text, lang)

	default:
		if req.Language != "" {
			writeError(w, http.StatusBadRequest, errors.New("language applies to posted text only; use PUT /v1/language"))
			return
		}
		if s.pages == nil {
			writeError(w, http.StatusConflict, session.ErrNoPageSource)
			return
		}
		page := req.Page
		if page < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("page %d must be positive", page))
			return
		}
		if page == 0 {
			page = s.defaultPage(r)
		}
		err = s.reader.StartPage(page)
	}

	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	observe.Logger(r.Context()).Info("api: reading started")
	writeJSON(w, http.StatusAccepted, s.reader.State())
}

func (s *Server) defaultPage(r *http.Request) int {
	if s.startPage != nil {
		if p := s.startPage(r.Context()); p > 0 {
			return p
		}
	}
	if p := s.pages.CurrentPage(); p > 0 {
		return p
	}
	return 1
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if !s.reader.Pause() {
		writeError(w, http.StatusConflict, errors.New("no session is playing"))
		return
	}
	writeJSON(w, http.StatusOK, s.reader.State())
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	if !s.reader.Resume() {
		writeError(w, http.StatusConflict, errors.New("no session is paused"))
		return
	}
	writeJSON(w, http.StatusOK, s.reader.State())
}

// handleStop is valid in every state.
func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.reader.Stop()
	writeJSON(w, http.StatusOK, s.reader.State())
}

func (s *Server) handleGoTo(w http.ResponseWriter, _ *http.Request) {
	if !s.reader.GoToReadingPage() {
		writeError(w, http.StatusConflict, errors.New("no page is being read"))
		return
	}
	writeJSON(w, http.StatusOK, s.reader.State())
}

// ---- preferences ----

func (s *Server) handleLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	lang, err := types.ParseLanguage(req.Language)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.reader.SetLanguage(lang); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.reader.State())
}

func (s *Server) handleAutoPageTurn(w http.ResponseWriter, r *http.Request) {
	var req autoPageTurnRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New(`"enabled" is required`))
		return
	}
	s.reader.SetAutoPageTurn(*req.Enabled)
	writeJSON(w, http.StatusOK, s.reader.State())
}

// ---- sleep timer ----

func (s *Server) handleSleepStart(w http.ResponseWriter, r *http.Request) {
	var req sleepRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Minutes <= 0 {
		writeError(w, http.StatusBadRequest, errors.New(`"minutes" must be positive`))
		return
	}
	d := time.Duration(req.Minutes * float64(time.Minute))
	if err := s.reader.StartSleepTimer(d); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.reader.State())
}

func (s *Server) handleSleepCancel(w http.ResponseWriter, _ *http.Request) {
	if !s.reader.CancelSleepTimer() {
		writeError(w, http.StatusConflict, errors.New("no sleep timer is set"))
		return
	}
	writeJSON(w, http.StatusOK, s.reader.State())
}

// ---- pages ----

func (s *Server) handlePages(w http.ResponseWriter, _ *http.Request) {
	if s.pages == nil {
		writeError(w, http.StatusNotFound, session.ErrNoPageSource)
		return
	}
	writeJSON(w, http.StatusOK, pagesResponse{Count: s.pages.PageCount(), Current: s.pages.CurrentPage()})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if s.pages == nil {
		writeError(w, http.StatusNotFound, session.ErrNoPageSource)
		return
	}
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid page %q", r.PathValue("page")))
		return
	}
	text, ok := s.pages.PageText(page)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("page %d of %d does not exist", page, s.pages.PageCount()))
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Page: page, Count: s.pages.PageCount(), Text: text})
}

// handleSetPage is user navigation. It does not touch the reading session:
// the session keeps reading its own page, see POST /v1/reading/goto.
func (s *Server) handleSetPage(w http.ResponseWriter, r *http.Request) {
	if s.pages == nil {
		writeError(w, http.StatusNotFound, session.ErrNoPageSource)
		return
	}
	var req pageRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.pages.SetPage(req.Page); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, pagesResponse{Count: s.pages.PageCount(), Current: s.pages.CurrentPage()})
}

// ---- helpers ----

// statusFor maps session errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrNoPageSource):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// decodeJSON decodes the request body into v, rejecting unknown fields. An
// empty body is accepted only when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
