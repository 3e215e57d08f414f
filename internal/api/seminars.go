package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seminarhub/internal/seminar"
	"seminarhub/internal/validate"
)

func seminarNotFound(id string) *Error {
	return notFound(fmt.Sprintf("Seminar %s not found", id))
}

func (s *Server) listSeminars(c *gin.Context) {
	rows, err := s.seminars.List(c.Request.Context())
	if err != nil {
		s.upstream(c, "fetch seminars", err)
		return
	}
	respond(c, http.StatusOK, rows)
}

func (s *Server) createSeminar(c *gin.Context) {
	body, ok := s.validBody(c, validate.SeminarCreate)
	if !ok {
		return
	}
	rows, err := s.seminars.Create(c.Request.Context(), body)
	if err != nil {
		s.upstream(c, "create seminar", err)
		return
	}
	respond(c, http.StatusCreated, rows)
}

func (s *Server) getSeminar(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.seminars.Get(c.Request.Context(), id)
	if errors.Is(err, seminar.ErrNotFound) {
		abort(c, seminarNotFound(id))
		return
	}
	if err != nil {
		s.upstream(c, "fetch seminar", err, zap.String("seminar_id", id))
		return
	}
	respond(c, http.StatusOK, rec)
}

// replaceSeminar overwrites the whole row; fields missing from the body
// become null.
func (s *Server) replaceSeminar(c *gin.Context) {
	id := c.Param("id")
	body, ok := s.validBody(c, validate.SeminarUpdate)
	if !ok {
		return
	}
	rows, err := s.seminars.Replace(c.Request.Context(), id, body)
	if errors.Is(err, seminar.ErrNotFound) {
		abort(c, seminarNotFound(id))
		return
	}
	if err != nil {
		s.upstream(c, "update seminar", err, zap.String("seminar_id", id))
		return
	}
	respond(c, http.StatusOK, rows)
}

func (s *Server) deleteSeminar(c *gin.Context) {
	id := c.Param("id")
	if err := s.seminars.Delete(c.Request.Context(), id); err != nil {
		s.upstream(c, "delete seminar", err, zap.String("seminar_id", id))
		return
	}
	c.Status(http.StatusNoContent)
}
