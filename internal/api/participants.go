package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seminarhub/internal/attendance"
	"seminarhub/internal/qr"
	"seminarhub/internal/store"
	"seminarhub/internal/validate"
)

func (s *Server) listParticipants(c *gin.Context) {
	id := c.Param("id")
	rows, err := s.seminars.Participants(c.Request.Context(), id)
	if err != nil {
		s.upstream(c, "fetch participants", err, zap.String("seminar_id", id))
		return
	}
	respond(c, http.StatusOK, rows)
}

func (s *Server) joinParticipant(c *gin.Context) {
	id := c.Param("id")
	body, ok := s.validBody(c, validate.Join)
	if !ok {
		return
	}
	rows, err := s.seminars.Join(c.Request.Context(), id, body)
	if err != nil {
		s.upstream(c, "save participant", err, zap.String("seminar_id", id))
		return
	}
	respond(c, http.StatusCreated, rows)
}

func (s *Server) checkIn(c *gin.Context) {
	s.presence(c, "check in participant", s.attendance.CheckIn)
}

func (s *Server) checkOut(c *gin.Context) {
	s.presence(c, "check out participant", s.attendance.CheckOut)
}

type presenceFunc func(ctx context.Context, seminarID, email string) ([]store.Record, error)

func (s *Server) presence(c *gin.Context, op string, fn presenceFunc) {
	id := c.Param("id")
	body, ok := s.validBody(c, validate.CheckIn)
	if !ok {
		return
	}
	email := store.Record(body).String("participant_email")
	rows, err := fn(c.Request.Context(), id, email)
	if errors.Is(err, attendance.ErrParticipantNotFound) {
		abort(c, notFound("Participant not found for this seminar"))
		return
	}
	if err != nil {
		s.upstream(c, op, err, zap.String("seminar_id", id), zap.String("participant_email", email))
		return
	}
	respond(c, http.StatusOK, rows)
}

// participantQR renders the code a participant shows at the door.
func (s *Server) participantQR(c *gin.Context) {
	email := c.Query("participant_email")
	if email == "" {
		abort(c, badRequest("participant_email query parameter is required"))
		return
	}
	size := 0
	if v := c.Query("size"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			abort(c, badRequest("size must be an integer"))
			return
		}
		size = parsed
	}
	img, err := qr.PNG(s.cfg.QRBaseURL, qr.Payload{SeminarID: c.Param("id"), ParticipantEmail: email}, size)
	if err != nil {
		s.log.Error("qr encode failed", zap.Error(err))
		abort(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", img)
}
