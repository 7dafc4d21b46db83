// Package api exposes the printer operations over HTTP
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/escpos-print-pipeline/dispatch"
	"github.com/nixxel-company-limited/escpos-print-pipeline/job"
	"github.com/nixxel-company-limited/escpos-print-pipeline/session"
)

// Version is reported by GET /version
var Version = "dev"

// Printer is the dispatcher surface the handlers drive
type Printer interface {
	Initialize(ctx context.Context) error
	Status(ctx context.Context) session.Status
	Submit(ctx context.Context, req job.Request) (dispatch.Outcome, error)
	SetDensity(ctx context.Context, level int) (bool, error)
	Teardown()
}

type TextRequest struct {
	Content   string `json:"content" binding:"required"`
	Alignment string `json:"alignment"`
	Style     string `json:"style"`
	FontSize  int    `json:"fontSize"`
}

type QRCodeRequest struct {
	Payload string `json:"payload" binding:"required"`
	Size    int    `json:"size" binding:"gte=0"`
}

type BarcodeRequest struct {
	Payload   string `json:"payload" binding:"required"`
	Symbology string `json:"symbology"`
	Height    int    `json:"height"`
}

type ReceiptItemRequest struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Alignment string `json:"alignment"`
	Style     string `json:"style"`
	FontSize  int    `json:"fontSize"`
	Lines     int    `json:"lines"`
}

type ReceiptRequest struct {
	Items []ReceiptItemRequest `json:"items"`
}

// RawRequest carries bytes as a JSON number array.
// Omitted chunkSize and delayMs take the defaults, an explicit delayMs of 0 disables pacing.
type RawRequest struct {
	Bytes     []int `json:"bytes"`
	ChunkSize *int  `json:"chunkSize,omitempty"`
	DelayMs   *int  `json:"delayMs,omitempty"`
}

type FeedRequest struct {
	Lines int `json:"lines"`
}

type DensityRequest struct {
	Level int `json:"level" binding:"required"`
}

// PrintResponse is returned by every successful print call
type PrintResponse struct {
	Success  bool   `json:"success"`
	JobID    string `json:"jobId"`
	Job      string `json:"job"`
	Chunks   int    `json:"chunks,omitempty"`
	Fallback string `json:"fallback,omitempty"`
}

// Handler serves the printer routes
type Handler struct {
	printer Printer
	logger  zerolog.Logger
}

func NewHandler(printer Printer, logger zerolog.Logger) *Handler {
	return &Handler{printer: printer, logger: logger}
}

func (h *Handler) InitPrinter(c *gin.Context) {
	if err := h.printer.Initialize(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": h.printer.Status(c.Request.Context())})
}

func (h *Handler) Disconnect(c *gin.Context) {
	h.printer.Teardown()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) PrintText(c *gin.Context) {
	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.submit(c, job.Text{
		Content:   req.Content,
		Alignment: job.Alignment(req.Alignment),
		Style:     req.Style,
		FontSize:  req.FontSize,
	}, "")
}

func (h *Handler) PrintQRCode(c *gin.Context) {
	var req QRCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.submit(c, job.QRCode{Payload: req.Payload, Size: req.Size}, "")
}

// PrintBarcode prints the payload as centered text, no barcode symbol is drawn.
// The response says so with "fallback": "text".
func (h *Handler) PrintBarcode(c *gin.Context) {
	var req BarcodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.submit(c, job.Barcode{Payload: req.Payload, Symbology: req.Symbology, Height: req.Height}, "text")
}

func (h *Handler) PrintReceipt(c *gin.Context) {
	var req ReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	items := make([]job.ReceiptItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, job.ReceiptItem{
			Type:      it.Type,
			Text:      it.Text,
			Alignment: job.Alignment(it.Alignment),
			Style:     it.Style,
			FontSize:  it.FontSize,
			Lines:     it.Lines,
		})
	}
	h.submit(c, job.Receipt{Items: items}, "")
}

func (h *Handler) PrintRaw(c *gin.Context) {
	var req RawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	data := make([]byte, len(req.Bytes))
	for i, v := range req.Bytes {
		if v < 0 || v > 255 {
			badRequest(c, fmt.Errorf("bytes[%d] = %d is not a byte", i, v))
			return
		}
		data[i] = byte(v)
	}

	raw := job.RawBytes{Data: data, InterChunkDelay: job.DefaultInterChunkDelay}
	if req.ChunkSize != nil {
		raw.ChunkSize = *req.ChunkSize
	}
	if req.DelayMs != nil {
		raw.InterChunkDelay = time.Duration(*req.DelayMs) * time.Millisecond
	}
	h.submit(c, raw, "")
}

func (h *Handler) FeedPaper(c *gin.Context) {
	var req FeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	lines := req.Lines
	if lines == 0 {
		lines = job.DefaultFeedLines
	}
	h.submit(c, job.FeedPaper{Lines: lines}, "")
}

func (h *Handler) SetDensity(c *gin.Context) {
	var req DensityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	applied, err := h.printer.SetDensity(c.Request.Context(), req.Level)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "applied": applied})
}

func (h *Handler) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": Version})
}

func (h *Handler) submit(c *gin.Context, req job.Request, fallback string) {
	out, err := h.printer.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := PrintResponse{Success: true, JobID: out.JobID, Job: out.Job, Fallback: fallback}
	if out.Report != nil {
		resp.Chunks = len(out.Report.Chunks)
	}
	c.JSON(http.StatusOK, resp)
}
