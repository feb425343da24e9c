package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kb-messenger-bot/pkg/log"
)

// SignatureHeader 是 Messenger 平台签名请求体的请求头。
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature 校验 webhook 请求体的 HMAC-SHA256 签名。appSecret 为空时不校验。
func VerifySignature(appSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if appSecret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !ValidSignature(appSecret, body, c.GetHeader(SignatureHeader)) {
			log.Warnw("[Webhook] 签名校验失败", "clientIP", c.ClientIP())
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// ValidSignature 判断 header（格式为 "sha256=<hex>"）是否是 body 的正确签名。
func ValidSignature(appSecret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign 计算 body 的签名头，供测试与本地调试使用。
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
