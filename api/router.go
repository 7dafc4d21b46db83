package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NewRouter builds the HTTP surface. An empty secret leaves the routes open.
func NewRouter(printer Printer, secret string, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	h := NewHandler(printer, logger)
	r.GET("/version", h.GetVersion)

	protected := r.Group("/")
	if secret != "" {
		protected.Use(RequireToken(secret))
	}

	printerGroup := protected.Group("/printer")
	{
		printerGroup.POST("/init", h.InitPrinter)
		printerGroup.GET("/status", h.GetStatus)
		printerGroup.POST("/density", h.SetDensity)
		printerGroup.DELETE("", h.Disconnect)
	}

	printGroup := protected.Group("/print")
	{
		printGroup.POST("/text", h.PrintText)
		printGroup.POST("/qrcode", h.PrintQRCode)
		printGroup.POST("/barcode", h.PrintBarcode)
		printGroup.POST("/receipt", h.PrintReceipt)
		printGroup.POST("/raw", h.PrintRaw)
		printGroup.POST("/feed", h.FeedPaper)
	}

	return r
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
