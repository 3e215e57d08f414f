package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seminarhub/internal/attendance"
	"seminarhub/internal/qr"
	"seminarhub/internal/store"
	"seminarhub/internal/validate"
)

func (s *Server) listAttendance(c *gin.Context) {
	id := c.Param("id")
	rows, err := s.attendance.Repo().List(c.Request.Context(), id)
	if err != nil {
		s.upstream(c, "fetch attendance", err, zap.String("seminar_id", id))
		return
	}
	respond(c, http.StatusOK, rows)
}

func (s *Server) timeIn(c *gin.Context) {
	s.mark(c, "record time-in", s.attendance.TimeIn)
}

func (s *Server) timeOut(c *gin.Context) {
	s.mark(c, "record time-out", s.attendance.TimeOut)
}

type markFunc func(ctx context.Context, seminarID, email string) (attendance.Mark, error)

func (s *Server) mark(c *gin.Context, op string, fn markFunc) {
	id := c.Param("id")
	body, ok := s.validBody(c, validate.TimeRecord)
	if !ok {
		return
	}
	email := store.Record(body).String("participant_email")
	m, err := fn(c.Request.Context(), id, email)
	if err != nil {
		s.upstream(c, op, err, zap.String("seminar_id", id), zap.String("participant_email", email))
		return
	}
	respond(c, markStatus(m), m.Rows())
}

func markStatus(m attendance.Mark) int {
	if m.Outcome == store.Created {
		return http.StatusCreated
	}
	return http.StatusOK
}

// scan records the next attendance step for a scanned participant code: the
// first scan sets time_in, the following one time_out.
func (s *Server) scan(c *gin.Context) {
	body, ok := s.body(c)
	if !ok {
		return
	}
	raw, _ := body["data"].(string)
	if raw == "" {
		abort(c, badRequest("data is required"))
		return
	}
	p, err := qr.Parse(raw)
	if err != nil {
		abort(c, badRequest(err.Error()))
		return
	}
	ctx := c.Request.Context()
	fields := []zap.Field{zap.String("seminar_id", p.SeminarID), zap.String("participant_email", p.ParticipantEmail)}

	direction := "in"
	m, err := s.attendance.TimeIn(ctx, p.SeminarID, p.ParticipantEmail)
	if err != nil {
		s.upstream(c, "record time-in", err, fields...)
		return
	}
	if m.Outcome == store.Unchanged {
		direction = "out"
		m, err = s.attendance.TimeOut(ctx, p.SeminarID, p.ParticipantEmail)
		if err != nil {
			s.upstream(c, "record time-out", err, fields...)
			return
		}
	}
	respond(c, markStatus(m), gin.H{"direction": direction, "record": m.Record})
}
