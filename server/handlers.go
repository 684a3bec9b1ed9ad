package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anatolykoptev/go-photopath"
)

type (
	PhotoResponse struct {
		ImageURL    string                  `json:"imageUrl"`
		LocalOnly   bool                    `json:"localOnly"`
		Fingerprint string                  `json:"fingerprint,omitempty"`
		Duplicate   *photopath.CacheEntry   `json:"duplicate,omitempty"`
		Exif        *photopath.Exif         `json:"exif,omitempty"`
		Remote      *photopath.UploadResult `json:"remote,omitempty"`
	}

	AnalyzeBody struct {
		Note string `json:"note"`
	}

	AnalyzeResponse struct {
		photopath.AnalysisResult
		Remaining int `json:"remaining"`
	}

	SaveBody struct {
		Title    string   `json:"title"`
		Tags     []string `json:"tags"`
		Location string   `json:"location"`
		Notes    string   `json:"notes"`
	}

	UsageResponse struct {
		photopath.UsageRecord
		Limit     int  `json:"limit"`
		Remaining int  `json:"remaining"`
		Exhausted bool `json:"exhausted"`
	}
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) postPhoto(c *gin.Context) {
	file, _, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing photo field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, photopath.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("read photo: %v", err)})
		return
	}

	up, err := s.session(identity(c)).Load(c.Request.Context(), data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, PhotoResponse{
		ImageURL:    up.Source,
		LocalOnly:   up.LocalOnly,
		Fingerprint: string(up.Fingerprint),
		Duplicate:   up.Duplicate,
		Exif:        up.Exif,
		Remote:      up.Remote,
	})
}

func (s *Server) postAnalyze(c *gin.Context) {
	var body AnalyzeBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	id := identity(c)
	res, err := s.session(id).Analyze(c.Request.Context(), id, body.Note)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, AnalyzeResponse{
		AnalysisResult: *res,
		Remaining:      s.quota.DisplayRemaining(c.Request.Context(), id),
	})
}

func (s *Server) postSave(c *gin.Context) {
	var body SaveBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	entry, err := s.session(identity(c)).Save(c.Request.Context(), photopath.SaveRequest{
		Title:    body.Title,
		Tags:     body.Tags,
		Location: body.Location,
		Notes:    body.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) postReset(c *gin.Context) {
	s.session(identity(c)).Reset()
	c.Status(http.StatusNoContent)
}

func (s *Server) getUsage(c *gin.Context) {
	ctx, id := c.Request.Context(), identity(c)
	rec := s.quota.GetUsage(ctx, id)
	limit := s.quota.Limit(id)
	remaining := limit - rec.Count
	c.JSON(http.StatusOK, UsageResponse{
		UsageRecord: rec,
		Limit:       limit,
		Remaining:   max(remaining, 0),
		Exhausted:   remaining <= 0,
	})
}

func (s *Server) getEntries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := s.cfg.Journal.ListEntries(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []photopath.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) getEntry(c *gin.Context) {
	entry, err := s.cfg.Journal.GetEntry(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// getThumbnail serves generated thumbnails inline and redirects to CDN variants.
func (s *Server) getThumbnail(c *gin.Context) {
	ctx := c.Request.Context()
	entry, err := s.cfg.Journal.GetEntry(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	thumb := s.thumbs.GetThumbnail(ctx, entry.ID, entry.ImageURL)
	if photopath.IsDataURL(thumb) {
		data, mime, err := photopath.DecodeDataURL(thumb)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Cache-Control", "private, max-age=3600")
		c.Data(http.StatusOK, mime, data)
		return
	}
	c.Redirect(http.StatusFound, thumb)
}

func (s *Server) getCard(c *gin.Context) {
	ctx := c.Request.Context()
	entry, err := s.cfg.Journal.GetEntry(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	card, err := s.cfg.RenderShareCardFormat(ctx, cardFormat(c.Query("format")), photopath.ShareCardModel{
		PhotoSource: photopath.OptimizedURL(entry.ImageURL, 1200),
		Title:       entry.Title,
		Tags:        entry.Tags,
		Exif:        entry.Exif,
		Scores:      entry.Scores,
		Analysis:    entry.Analysis,
		Date:        entry.Date,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, card.Filename))
	c.Data(http.StatusOK, card.MIMEType, card.Data)
}

// cardFormat maps the format query parameter; anything else keeps the
// configured default.
func cardFormat(q string) photopath.CardFormat {
	switch strings.ToLower(q) {
	case "png":
		return photopath.CardPNG
	case "jpg", "jpeg":
		return photopath.CardJPEG
	default:
		return ""
	}
}

// writeError maps domain errors to status codes.
func writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, photopath.ErrInvalidImage):
		status = http.StatusBadRequest
	case errors.Is(err, photopath.ErrNoImage):
		status = http.StatusBadRequest
	case errors.Is(err, photopath.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, photopath.ErrAnalysisInFlight), errors.Is(err, photopath.ErrSuperseded):
		status = http.StatusConflict
	case errors.Is(err, photopath.ErrQuotaExhausted):
		status = http.StatusTooManyRequests
	case errors.Is(err, photopath.ErrRenderFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, photopath.ErrAnalysisFailed):
		slog.Warn("photopath: analysis failed", "error", err.Error())
		status = http.StatusBadGateway
	default:
		slog.Error("photopath: request failed", "path", c.FullPath(), "error", err.Error())
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
