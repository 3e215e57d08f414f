package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seminarhub/internal/certificate"
	"seminarhub/internal/qr"
	"seminarhub/internal/seminar"
)

// maxTemplateBytes bounds template uploads and downloads.
const maxTemplateBytes = 10 << 20

// uploadTemplate stores a certificate background with Cloudinary and records
// its URL on the seminar. The image comes as a multipart "file" or as a JSON
// body {"data": "<data URL or base64>"}.
func (s *Server) uploadTemplate(c *gin.Context) {
	if !s.cdn.Configured() {
		abort(c, &Error{Status: http.StatusServiceUnavailable, Message: "Certificate uploads are not configured"})
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()
	if _, err := s.seminars.Get(ctx, id); errors.Is(err, seminar.ErrNotFound) {
		abort(c, seminarNotFound(id))
		return
	} else if err != nil {
		s.upstream(c, "fetch seminar", err, zap.String("seminar_id", id))
		return
	}

	var secureURL string
	if fh, err := c.FormFile("file"); err == nil {
		if fh.Size > maxTemplateBytes {
			abort(c, badRequest("file is too large"))
			return
		}
		f, err := fh.Open()
		if err != nil {
			abort(c, badRequest("file could not be read"))
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			abort(c, badRequest("file could not be read"))
			return
		}
		res, err := s.cdn.UploadBytes(ctx, data, fh.Filename)
		if err != nil {
			s.uploadFailed(c, id, err)
			return
		}
		secureURL = res.SecureURL
	} else {
		body, ok := s.body(c)
		if !ok {
			return
		}
		data, _ := body["data"].(string)
		if data == "" {
			abort(c, badRequest("file or data is required"))
			return
		}
		res, err := s.cdn.UploadBase64(ctx, data)
		if err != nil {
			s.uploadFailed(c, id, err)
			return
		}
		secureURL = res.SecureURL
	}

	rows, err := s.seminars.SetTemplate(ctx, id, secureURL)
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

func (s *Server) uploadFailed(c *gin.Context, seminarID string, err error) {
	s.log.Error("template upload failed", zap.String("seminar_id", seminarID), zap.Error(err))
	abort(c, &Error{Status: http.StatusBadGateway, Message: "Failed to upload certificate template: " + err.Error()})
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// certificate renders the attendance certificate of a participant who has
// submitted an evaluation.
func (s *Server) certificate(c *gin.Context) {
	id := c.Param("id")
	email := c.Query("participant_email")
	if email == "" {
		abort(c, badRequest("participant_email query parameter is required"))
		return
	}
	ctx := c.Request.Context()
	fields := []zap.Field{zap.String("seminar_id", id), zap.String("participant_email", email)}

	sem, err := s.seminars.Get(ctx, id)
	if errors.Is(err, seminar.ErrNotFound) {
		abort(c, seminarNotFound(id))
		return
	}
	if err != nil {
		s.upstream(c, "fetch seminar", err, fields...)
		return
	}
	done, err := s.seminars.HasEvaluated(ctx, id, email)
	if err != nil {
		s.upstream(c, "check evaluation status", err, fields...)
		return
	}
	if !done {
		abort(c, &Error{Status: http.StatusConflict, Message: "Evaluation required before a certificate is issued"})
		return
	}

	name := email
	if p, found, err := s.seminars.Participant(ctx, id, email); err != nil {
		s.upstream(c, "fetch participants", err, fields...)
		return
	} else if found && p.String("participant_name") != "" {
		name = p.String("participant_name")
	}

	cert := certificate.Certificate{
		ParticipantName: name,
		SeminarTitle:    sem.String("title"),
		Speaker:         sem.String("speaker"),
		Date:            sem.String("date"),
	}
	if s.cfg.QRBaseURL != "" {
		cert.VerifyURL, _ = qr.URL(s.cfg.QRBaseURL, qr.Payload{SeminarID: id, ParticipantEmail: email})
	}
	if tmpl := sem.String("certificate_template_url"); tmpl != "" && !s.cdn.Delivers(tmpl) {
		s.log.Warn("certificate template not hosted on our cloudinary account, using plain layout", append(fields, zap.String("template_url", tmpl))...)
	} else if tmpl != "" {
		img, kind, err := s.fetchTemplate(ctx, tmpl)
		if err != nil {
			s.log.Warn("certificate template unavailable, using plain layout", append(fields, zap.Error(err))...)
		} else {
			cert.Background, cert.BackgroundType = img, kind
		}
	}

	pdf, err := certificate.Render(cert)
	if err != nil {
		s.log.Error("certificate render failed", append(fields, zap.Error(err))...)
		abort(c, &Error{Status: http.StatusInternalServerError, Message: "Failed to render certificate: " + err.Error()})
		return
	}
	filename := unsafeFilename.ReplaceAllString(fmt.Sprintf("certificate-%s-%s.pdf", id, email), "_")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// fetchTemplate downloads a PNG or JPEG background. Callers check the URL
// with cloudinary.Client.Delivers first.
func (s *Server) fetchTemplate(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.fetch.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("template fetch: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTemplateBytes))
	if err != nil {
		return nil, "", err
	}
	switch http.DetectContentType(data) {
	case "image/png":
		return data, "png", nil
	case "image/jpeg":
		return data, "jpg", nil
	}
	return nil, "", errors.New("template is not a PNG or JPEG image")
}
