package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nixxel-company-limited/escpos-print-pipeline/fault"
)

// ErrorResponse is the {kind, message, context} triple every failure is rendered as
type ErrorResponse struct {
	Kind    fault.Kind     `json:"kind"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

var statusByKind = map[fault.Kind]int{
	fault.KindNotInitialized: http.StatusConflict,
	fault.KindBindingFailed:  http.StatusBadGateway,
	fault.KindConnectTimeout: http.StatusGatewayTimeout,
	fault.KindEncoding:       http.StatusBadRequest,
	fault.KindTransmission:   http.StatusBadGateway,
	fault.KindFinalize:       http.StatusBadGateway,
	fault.KindPrint:          http.StatusBadGateway,
	fault.KindRemote:         http.StatusBadGateway,
	fault.KindTimeout:        http.StatusGatewayTimeout,
}

func writeError(c *gin.Context, err error) {
	fe := fault.From(err, fault.KindRemote)
	status, ok := statusByKind[fe.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, ErrorResponse{Kind: fe.Kind, Message: fe.Message, Context: fe.Context})
}

func badRequest(c *gin.Context, err error) {
	writeError(c, fault.Wrap(fault.KindEncoding, err, "invalid request body",
		map[string]any{"reason": err.Error()}))
}
