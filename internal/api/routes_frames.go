package api

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/ragol/internal/config"
	"github.com/energizer-project/ragol/internal/network"
)

type decodeRequest struct {
	Variant string `json:"variant"`
	Hex     string `json:"hex" binding:"required"`
}

type encodeRequest struct {
	Variant string `json:"variant"`
	Code    uint8  `json:"code"`
	Flags   uint8  `json:"flags"`
	BodyHex string `json:"body_hex"`
}

// parseHex accepts hex with arbitrary whitespace and an optional 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

func variantOrDefault(v string) string {
	if v == "" {
		return config.VariantB
	}
	return strings.ToLower(v)
}

// handleDecode decodes every frame in a hex stream.
func (s *Server) handleDecode(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raw, err := parseHex(req.Hex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hex: " + err.Error()})
		return
	}
	if s.cfg.MaxDecodeBytes > 0 && len(raw) > s.cfg.MaxDecodeBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "input too large"})
		return
	}

	framer, err := network.NewFramer(variantOrDefault(req.Variant), s.cfg.MaxDecodeBytes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frames, err := network.DecodeStream(bytes.NewReader(raw), framer)
	resp := gin.H{
		"variant": framer.Variant(),
		"frames":  frames,
		"count":   len(frames),
	}
	if err != nil {
		resp["error"] = err.Error()
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleEncode wraps a raw body in a frame of the requested variant.
func (s *Server) handleEncode(c *gin.Context) {
	var req encodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	body, err := parseHex(req.BodyHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body hex: " + err.Error()})
		return
	}

	framer, err := network.NewFramer(variantOrDefault(req.Variant), 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f := network.Frame{Code: req.Code, Flags: req.Flags, Body: body}
	var out bytes.Buffer
	if err := framer.WriteFrame(&out, f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := framer.Describe(f)
	resp := gin.H{
		"variant": framer.Variant(),
		"hex":     hex.EncodeToString(out.Bytes()),
		"size":    out.Len(),
		"summary": summary,
	}
	if err != nil {
		resp["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
