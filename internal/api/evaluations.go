package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seminarhub/internal/validate"
)

func (s *Server) listEvaluations(c *gin.Context) {
	id := c.Param("id")
	rows, err := s.seminars.Evaluations(c.Request.Context(), id, c.Query("participant_email"))
	if err != nil {
		s.upstream(c, "fetch evaluations", err, zap.String("seminar_id", id))
		return
	}
	respond(c, http.StatusOK, rows)
}

func (s *Server) submitEvaluation(c *gin.Context) {
	id := c.Param("id")
	body, ok := s.validBody(c, validate.EvaluationSubmit)
	if !ok {
		return
	}
	rows, err := s.seminars.Submit(c.Request.Context(), id, body)
	if err != nil {
		s.upstream(c, "save evaluation", err, zap.String("seminar_id", id))
		return
	}
	respond(c, http.StatusCreated, rows)
}

// hasEvaluated answers {"evaluated": bool} outside the data envelope.
func (s *Server) hasEvaluated(c *gin.Context) {
	id := c.Param("id")
	email := c.Query("participant_email")
	if email == "" {
		abort(c, badRequest("participant_email query parameter is required"))
		return
	}
	done, err := s.seminars.HasEvaluated(c.Request.Context(), id, email)
	if err != nil {
		s.upstream(c, "check evaluation status", err, zap.String("seminar_id", id), zap.String("participant_email", email))
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluated": done})
}
