package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/loqalabs/narrator-core/internal/audio"
	"github.com/loqalabs/narrator-core/internal/eventstore"
	"github.com/loqalabs/narrator-core/internal/narrative"
	"github.com/loqalabs/narrator-core/internal/presence"
	"github.com/loqalabs/narrator-core/internal/protocol"
	"github.com/loqalabs/narrator-core/internal/service"
	"github.com/loqalabs/narrator-core/internal/session"
)

// nodeDirectory is the part of the presence registry the API reads.
type nodeDirectory interface {
	Nodes() []presence.NodeInfo
	Query(filter func(presence.NodeInfo) bool) []presence.NodeInfo
}

type api struct {
	svc    *service.Service
	audio  audio.Allocator
	nodes  nodeDirectory
	logger *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// snapshotView adds the derived narrative fields shown next to a session.
type snapshotView struct {
	session.Snapshot
	Summary    string   `json:"summary,omitempty"`
	WordCount  int      `json:"word_count"`
	Paragraphs []string `json:"paragraphs,omitempty"`
	Facts      []string `json:"facts,omitempty"`
}

type personaView struct {
	Persona narrative.Persona `json:"persona"`
	Summary string            `json:"summary"`
}

type submitBody struct {
	Persona narrative.Persona `json:"persona"`
	Locale  string            `json:"locale,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func newAPI(svc *service.Service, alloc audio.Allocator, logger *slog.Logger) *api {
	return &api{
		svc:    svc,
		audio:  alloc,
		logger: logger.With(slog.String("component", "http-api")),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", a.handleSubmit)
	mux.HandleFunc("GET /v1/sessions", a.handleSessions)
	mux.HandleFunc("GET /v1/personas/random", a.handleRandomPersona)
	mux.HandleFunc("POST /v1/sessions/{id}/submit", a.handleSubmit)
	mux.HandleFunc("GET /v1/sessions/{id}", a.handleSnapshot)
	mux.HandleFunc("POST /v1/sessions/{id}/dismiss", a.handleDismiss)
	mux.HandleFunc("POST /v1/sessions/{id}/audio/stop", a.handleAudioStop)
	mux.HandleFunc("GET /v1/sessions/{id}/history", a.handleHistory)
	mux.HandleFunc("GET /v1/sessions/{id}/events", a.handleEvents)
	mux.HandleFunc("GET /v1/audio/{id}", a.handleAudio)
	mux.HandleFunc("GET /v1/nodes", a.handleNodes)
}

// handleNodes lists known nodes. ?backend=generation&mode=gemini narrows the
// list to nodes running that backend mode.
func (a *api) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := []presence.NodeInfo{}
	if a.nodes != nil {
		backend := r.URL.Query().Get("backend")
		if backend != "" {
			nodes = a.nodes.Query(presence.WithBackend(backend, r.URL.Query().Get("mode")))
		} else {
			nodes = a.nodes.Nodes()
		}
	}
	if nodes == nil {
		nodes = []presence.NodeInfo{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (a *api) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := a.svc.RecordedSessions(r.Context(), limit)
	if err != nil {
		a.logger.Warn("failed to list sessions", slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "sessions unavailable"})
		return
	}
	if sessions == nil {
		sessions = []eventstore.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *api) handleRandomPersona(w http.ResponseWriter, r *http.Request) {
	a.rngMu.Lock()
	p := narrative.RandomPersona(a.rng)
	a.rngMu.Unlock()
	loc := narrative.ParseLocale(r.URL.Query().Get("locale"))
	writeJSON(w, http.StatusOK, personaView{Persona: p, Summary: p.Summary(loc)})
}

func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request: " + err.Error()})
		return
	}
	id := r.PathValue("id")
	if id == "" {
		id = service.NewSessionID()
	}
	seq, err := a.svc.Submit(protocol.SubmitRequest{SessionID: id, Persona: body.Persona, Locale: body.Locale}, service.OriginHTTP)
	if err != nil {
		writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, protocol.SubmitReply{SessionID: id, Sequence: seq})
}

func (a *api) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Snapshot(r.PathValue("id"))
	if err != nil {
		writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotView(snap))
}

func newSnapshotView(snap session.Snapshot) snapshotView {
	view := snapshotView{Snapshot: snap}
	if snap.Persona != nil {
		view.Summary = snap.Persona.Summary(snap.Locale)
	}
	if snap.Result != nil {
		view.WordCount = snap.Result.WordCount()
		view.Paragraphs = snap.Result.Paragraphs()
		view.Facts = snap.Result.Facts()
	}
	return view
}

func (a *api) handleDismiss(w http.ResponseWriter, r *http.Request) {
	dismissed, err := a.svc.Dismiss(r.PathValue("id"))
	if err != nil {
		writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"dismissed": dismissed})
}

func (a *api) handleAudioStop(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.StopAudio(r.PathValue("id")); err != nil {
		writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := a.svc.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.logger.Warn("failed to read history", slogError(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "history unavailable"})
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleEvents streams the current snapshot followed by every change.
func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.svc.Session(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: service.ErrUnknownSession.Error()})
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.logger.Warn("accept websocket connection", slogError(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	sub := ctrl.Subscribe(ctx)
	defer sub.Stop()

	if err := wsjson.Write(ctx, conn, session.Change{Kind: session.ChangeSnapshot, Snapshot: ctrl.Snapshot()}); err != nil {
		return
	}
	for change := range sub.ResultChan() {
		if err := wsjson.Write(ctx, conn, change); err != nil {
			if !errors.Is(err, context.Canceled) {
				a.logger.Debug("websocket write failed", slogError(err))
			}
			return
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "stream closed")
}

func (a *api) handleAudio(w http.ResponseWriter, r *http.Request) {
	data, err := a.audio.Open(r.Context(), r.PathValue("id"))
	if errors.Is(err, audio.ErrNotFound) || errors.Is(err, audio.ErrNoCopy) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		a.logger.Warn("failed to open audio", slogError(err))
		http.Error(w, "audio unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidSessionID), errors.Is(err, service.ErrInvalidPersona):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, service.ErrClosed), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
