// Package api serves the mirrored catalog read-only over HTTP. It is a thin
// view on the Store: the crawler is the only writer.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/novalattasya/mixscrap/internal/store"
)

type Server struct {
	st store.Store
}

func NewServer(st store.Store) *Server {
	return &Server{st: st}
}

// Router builds the gin engine with all catalog routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/entries", s.ListEntries)
		apiGroup.GET("/entries/:param", s.GetEntry)
		apiGroup.GET("/entries/:param/chapters/:chapter", s.GetChapterPages)
		apiGroup.GET("/runs", s.ListRuns)
	}
	return r
}

type entryResponse struct {
	Param     string   `json:"param"`
	Title     string   `json:"title"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Synopsis  string   `json:"synopsis,omitempty"`
	Genres    []string `json:"genres"`
	UpdatedAt string   `json:"updated_at"`
}

type chapterResponse struct {
	Label       string `json:"chapter"`
	Param       string `json:"param"`
	ReleaseDate string `json:"release,omitempty"`
	Seq         int    `json:"seq"`
}

func (s *Server) ListEntries(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	page := 1
	pageSize := 20
	if p := c.Query("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}
	if ps := c.Query("page_size"); ps != "" {
		if parsed, err := strconv.Atoi(ps); err == nil && parsed > 0 && parsed <= 100 {
			pageSize = parsed
		}
	}

	list, total, err := s.st.ListEntries(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]entryResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toEntryResponse(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      resp,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) GetEntry(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	entry, err := s.st.FindEntry(ctx, c.Param("param"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}

	chapters, err := s.st.ListChapters(ctx, entry.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]chapterResponse, 0, len(chapters))
	for _, ch := range chapters {
		resp = append(resp, chapterResponse{
			Label:       ch.Label,
			Param:       ch.Param,
			ReleaseDate: ch.ReleaseDate,
			Seq:         ch.Seq,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"data":     toEntryResponse(entry),
		"chapters": resp,
	})
}

func (s *Server) GetChapterPages(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	entry, err := s.st.FindEntry(ctx, c.Param("param"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}

	chapters, err := s.st.ListChapters(ctx, entry.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	chapterParam := c.Param("chapter")
	var chapter *store.Chapter
	for i := range chapters {
		if chapters[i].Param == chapterParam {
			chapter = &chapters[i]
			break
		}
	}
	if chapter == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chapter not found"})
		return
	}

	pages, err := s.st.ListPages(ctx, chapter.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	urls := make([]string, 0, len(pages))
	for _, p := range pages {
		urls = append(urls, p.URL)
	}
	c.JSON(http.StatusOK, gin.H{
		"chapter": chapterResponse{
			Label:       chapter.Label,
			Param:       chapter.Param,
			ReleaseDate: chapter.ReleaseDate,
			Seq:         chapter.Seq,
		},
		"data": urls,
	})
}

func (s *Server) ListRuns(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	runs, err := s.st.ListRuns(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs})
}

func toEntryResponse(e *store.CatalogEntry) entryResponse {
	genres := e.Genres
	if genres == nil {
		genres = []string{}
	}
	return entryResponse{
		Param:     e.Param,
		Title:     e.Title,
		Thumbnail: e.Thumbnail,
		Synopsis:  e.Synopsis,
		Genres:    genres,
		UpdatedAt: e.UpdatedAt.Format(time.RFC3339),
	}
}
