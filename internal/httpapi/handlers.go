package httpapi

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hed1ad/vlogguard/pkg/analyzer"
	"github.com/hed1ad/vlogguard/pkg/preprocess"
	"github.com/hed1ad/vlogguard/pkg/schema"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status       string         `json:"status"`
	Profile      string         `json:"profile"`
	ModelVersion string         `json:"model_version"`
	Policy       string         `json:"policy"`
	Mode         string         `json:"interpret_mode"`
	Rules        []string       `json:"rules"`
	Uptime       string         `json:"uptime"`
	Stats        analyzer.Stats `json:"stats"`
}

func errorJSON(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, errorResponse{Error: msg})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	if c.Request.ContentLength > s.maxUpload {
		errorJSON(c, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)

	file, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			errorJSON(c, http.StatusRequestEntityTooLarge, "upload exceeds the size limit")
			return
		}
		errorJSON(c, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".csv") {
		errorJSON(c, http.StatusBadRequest, "Invalid file type. Please upload a CSV file.")
		return
	}

	f, err := file.Open()
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	rep, err := s.analyzer.Analyze(c.Request.Context(), f, file.Filename)
	if err != nil {
		var se *schema.SchemaError
		var de *preprocess.DataError
		if errors.As(err, &se) || errors.As(err, &de) {
			errorJSON(c, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("analysis failed", zap.String("file", file.Filename), zap.Error(err))
		errorJSON(c, http.StatusInternalServerError, "An unexpected error occurred: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:       "ok",
		Profile:      s.analyzer.Profile(),
		ModelVersion: s.analyzer.ModelVersion(),
		Policy:       string(s.analyzer.Policy()),
		Mode:         string(s.analyzer.Mode()),
		Rules:        s.analyzer.Rules(),
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		Stats:        s.analyzer.Stats(),
	})
}
