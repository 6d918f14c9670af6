package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"meetbook/internal/model"
)

type sessionDateRequest struct {
	Date string `json:"date" validate:"required"`
}

type sessionSlotsRequest struct {
	SlotIDs []int `json:"slot_ids" validate:"required,min=1,dive,gt=0"`
}

type sessionRoomRequest struct {
	RoomID string `json:"room_id" validate:"required"`
}

type sessionConfirmRequest struct {
	RequesterID string `json:"requester_id" validate:"required"`
	Purpose     string `json:"purpose" validate:"required"`
}

func (s *HTTPServer) handleStartSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusCreated, s.workflow.Start(r.Context()))
}

func (s *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	v, err := s.workflow.Get(r.Context(), ps.ByName("token"))
	if err != nil {
		s.writeSessionError(w, err, v, nil)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *HTTPServer) handleAbandonSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	v, err := s.workflow.Abandon(r.Context(), ps.ByName("token"))
	if err != nil {
		s.writeSessionError(w, err, v, nil)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *HTTPServer) handleSessionDate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req sessionDateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	choice, err := s.workflow.SelectDate(r.Context(), ps.ByName("token"), req.Date)
	if err != nil {
		s.writeSessionError(w, err, choice.View, nil)
		return
	}
	writeJSON(w, http.StatusOK, choice)
}

func (s *HTTPServer) handleSessionSlots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req sessionSlotsRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	choice, err := s.workflow.SelectSlots(r.Context(), ps.ByName("token"), model.NewSlotIDs(req.SlotIDs...))
	if err != nil {
		s.writeSessionError(w, err, choice.Session, choice.Rooms)
		return
	}
	writeJSON(w, http.StatusOK, choice)
}

func (s *HTTPServer) handleSessionRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req sessionRoomRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	choice, err := s.workflow.SelectRoom(r.Context(), ps.ByName("token"), req.RoomID)
	if err != nil {
		s.writeSessionError(w, err, choice.Session, choice.Rooms)
		return
	}
	writeJSON(w, http.StatusOK, choice)
}

func (s *HTTPServer) handleSessionConfirm(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req sessionConfirmRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.workflow.Confirm(r.Context(), ps.ByName("token"), req.RequesterID, req.Purpose)
	if err != nil {
		s.writeSessionError(w, err, v, nil)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *HTTPServer) handleSessionBack(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	v, err := s.workflow.Back(r.Context(), ps.ByName("token"))
	if err != nil {
		s.writeSessionError(w, err, v, nil)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
