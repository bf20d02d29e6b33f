package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dyluth/boardlink/internal/decision"
	"github.com/dyluth/boardlink/internal/filter"
	"github.com/dyluth/boardlink/internal/gamectx"
	"github.com/dyluth/boardlink/internal/listener"
	"github.com/dyluth/boardlink/internal/session"
	"github.com/dyluth/boardlink/internal/timespec"
	"github.com/dyluth/boardlink/pkg/events"
)

// healthCheckTimeout bounds dependency probes run on behalf of a request.
const healthCheckTimeout = 30 * time.Second

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": "boardlink"})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gamectx.ToSnapshot(s.sess.ContextView()))
}

func (s *Server) handleGetPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.sess.Players()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"players": players})
}

func (s *Server) handleUpdatePlayer(w http.ResponseWriter, r *http.Request) {
	var o listener.PlayerOverride
	if err := decodeJSON(r.Body, &o); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if o.Name == nil && o.Money == nil && o.Position == nil {
		writeError(w, http.StatusBadRequest, errors.New("nothing to update: set name, money or position"))
		return
	}

	err := s.sess.UpdatePlayer(o)
	switch {
	case errors.Is(err, session.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, session.ErrUnknownPlayer):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": o.ID})
	}
}

func (s *Server) handleProcessStart(w http.ResponseWriter, r *http.Request) {
	err := s.sess.Start(r.Context(), nil)
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "message": "starting processes"})
	}
}

func (s *Server) handleProcessStop(w http.ResponseWriter, r *http.Request) {
	err := s.sess.Stop(r.Context())
	switch {
	case errors.Is(err, session.ErrNotRunning):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "stopped"})
	}
}

func (s *Server) handleProcessStatus(w http.ResponseWriter, r *http.Request) {
	st := s.sess.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":          st.Running,
		"game_initialized": st.GameInitialized,
		"starting":         st.Starting,
		"message":          st.Message,
		"processes":        s.sess.Supervisor().Status(),
	})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RestartProcesses bool `json:"restart_processes"`
	}
	if err := decodeOptionalJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.RestartProcesses {
		if err := s.sess.Restart(r.Context(), true, nil); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "message": "restarting processes"})
		return
	}

	if err := s.sess.Restart(r.Context(), false, nil); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "game restarted"})
}

func (s *Server) handleDecisionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Policy().Status())
}

func (s *Server) handleDecisionToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New("enabled is required"))
		return
	}
	s.sess.Policy().SetEnabled(*req.Enabled)
	writeJSON(w, http.StatusOK, s.sess.Policy().Status())
}

type popupRequest struct {
	ID      string   `json:"id,omitempty"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

func (s *Server) handleCreatePopup(w http.ResponseWriter, r *http.Request) {
	var req popupRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}

	p := decision.Popup{ID: req.ID, Text: req.Text}
	for _, name := range req.Options {
		p.Options = append(p.Options, decision.Option{Name: name})
	}

	id, err := s.sess.Popups().Request(p)
	switch {
	case errors.Is(err, decision.ErrAlreadyPending):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{"popup_id": id})
	}
}

func (s *Server) handleGetPopup(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if res, ok := s.sess.Popups().Result(id); ok {
		writeJSON(w, http.StatusOK, res)
		return
	}
	if s.sess.Popups().Pending(id) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "decision pending", "pending": true})
		return
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", decision.ErrUnknownPopup, id))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, s.sess.Health().GetSystemStatus(ctx))
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AutoStart bool `json:"auto_start"`
	}
	if err := decodeOptionalJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	ok, messages := s.sess.Health().PerformStartupChecks(ctx, req.AutoStart)
	writeJSON(w, http.StatusOK, map[string]any{"success": ok, "messages": messages})
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	lines := s.sess.Terminal().Tail(parseInt(r.URL.Query().Get("tail"), 0))
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.sess.Logs().Entries()})
}

// handleHistory queries the sqlite archive:
//
//	GET /api/history?since=1h&until=13:00:00&type=player_*&source=listener&limit=100
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, until, err := timespec.ParseRange(q.Get("since"), q.Get("until"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	criteria := filter.Criteria{
		SinceTimestampMs: since,
		UntilTimestampMs: until,
		TypeGlob:         q.Get("type"),
		Source:           q.Get("source"),
	}
	limit := parseInt(q.Get("limit"), 100)

	var evts []events.Event
	if h := s.sess.History(); h != nil {
		evts, err = h.Query(r.Context(), criteria, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	} else {
		// Without an archive only the in-memory event log is available.
		evts = criteria.Apply(s.sess.Aggregator().History(0))
		if limit > 0 && len(evts) > limit {
			evts = evts[len(evts)-limit:]
		}
	}
	if evts == nil {
		evts = []events.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evts})
}
