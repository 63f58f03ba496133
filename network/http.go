package network

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"pong/hub"
	"pong/match"
	"pong/protocol"
	"pong/room"
)

type inviteRequest struct {
	TargetID int64 `json:"targetId" validate:"gt=0"`
}

type queueResponse struct {
	Paired bool  `json:"paired"`
	RoomID int64 `json:"roomId,omitempty"`
}

type roomResponse struct {
	RoomID int64 `json:"roomId"`
}

type healthResponse struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
	Online int    `json:"online"`
}

type api struct {
	rooms   *room.Manager
	mm      *match.Matchmaker
	hub     *hub.Hub
	results ResultReader
	log     *zap.Logger
}

// NewRouter wires the HTTP routes and the WebSocket endpoint.
func NewRouter(gw *Gateway) *mux.Router {
	a := &api{rooms: gw.rooms, mm: gw.mm, hub: gw.hub, results: gw.results, log: gw.log}

	r := mux.NewRouter()
	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
	r.HandleFunc("/rooms", a.listRooms).Methods(http.MethodGet)
	r.HandleFunc("/ws", gw.ServeWS).Methods(http.MethodGet)

	games := r.PathPrefix("/games").Subrouter()
	games.Use(gw.auth.Middleware)
	games.HandleFunc("/{id:[0-9]+}", a.result).Methods(http.MethodGet)
	games.HandleFunc("/queue", a.enqueue).Methods(http.MethodPost)
	games.HandleFunc("/queue", a.dequeue).Methods(http.MethodDelete)
	games.HandleFunc("/invites", a.listInvites).Methods(http.MethodGet)
	games.HandleFunc("/invites", a.invite).Methods(http.MethodPost)
	games.HandleFunc("/invites/{fromId:[0-9]+}/accept", a.accept).Methods(http.MethodPost)
	games.HandleFunc("/invites/{fromId:[0-9]+}", a.decline).Methods(http.MethodDelete)
	return r
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Rooms: a.rooms.Count(), Online: a.hub.Online()})
}

func (a *api) listRooms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.rooms.List())
}

func (a *api) result(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if a.results == nil {
		writeError(w, http.StatusNotFound, "result_not_found", "results are not stored")
		return
	}
	res, ok, err := a.results.Result(r.Context(), id)
	if err != nil {
		a.log.Error("load result", zap.Int64("game", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "result_not_found", "game has no result")
		return
	}
	writeJSON(w, http.StatusOK, res.Message())
}

func (a *api) enqueue(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	p, paired, err := a.mm.Enqueue(r.Context(), user)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{Paired: paired, RoomID: p.RoomID})
}

func (a *api) dequeue(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	a.mm.Dequeue(user)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listInvites(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	writeJSON(w, http.StatusOK, a.mm.Invites(user))
}

func (a *api) invite(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be JSON")
		return
	}
	if err := protocol.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := a.mm.Invite(r.Context(), user, req.TargetID); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (a *api) accept(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	from, _ := strconv.ParseInt(mux.Vars(r)["fromId"], 10, 64)
	p, err := a.mm.Accept(r.Context(), user, from)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{RoomID: p.RoomID})
}

func (a *api) decline(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	from, _ := strconv.ParseInt(mux.Vars(r)["fromId"], 10, 64)
	if !a.mm.Decline(user, from) {
		a.fail(w, match.ErrNoInvite)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) fail(w http.ResponseWriter, err error) {
	var ae *match.AdmissionError
	if !errors.As(err, &ae) {
		a.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeError(w, statusOf(ae), ae.Code, ae.Message)
}

func statusOf(ae *match.AdmissionError) int {
	switch ae.Code {
	case match.ErrUnknownUser.Code, match.ErrRoomNotFound.Code, match.ErrNoInvite.Code:
		return http.StatusNotFound
	case match.ErrInviteNotPermitted.Code:
		return http.StatusForbidden
	case match.ErrRoomFull.Code, match.ErrAlreadyPlaying.Code:
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, protocol.ErrorBody{Code: code, Message: msg})
}
