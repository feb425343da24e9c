package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kb-messenger-bot/internal/model"
	"kb-messenger-bot/internal/service"
	"kb-messenger-bot/pkg/log"
)

// AdminHandler 负责处理所有与管理员相关的 API 请求。
type AdminHandler struct {
	adminService service.AdminService
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(adminService service.AdminService) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// LoginRequest 定义了管理员登录的请求体结构。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理管理员登录请求。
func (h *AdminHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	accessToken, err := h.adminService.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": err.Error(), "data": nil})
			return
		}
		log.Error("Login: 签发 token 失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "登录失败", "data": nil})
		return
	}

	log.Infof("Admin '%s' logged in", req.Username)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"token": accessToken}})
}

// GetHandover 查询某个用户是否处于人工模式。
func (h *AdminHandler) GetHandover(c *gin.Context) {
	st := h.adminService.HandoverStatus(c.Request.Context(), c.Param("psid"))
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": handoverView(st)})
}

// TakeOver 让管理员直接接管某个用户的对话。
func (h *AdminHandler) TakeOver(c *gin.Context) {
	psid := c.Param("psid")
	st := h.adminService.TakeOver(c.Request.Context(), psid)
	log.Infof("Admin took over conversation with '%s'", psid)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": handoverView(st)})
}

func handoverView(st model.HandoverStatus) gin.H {
	return gin.H{
		"psid":      st.UserID,
		"humanMode": st.Mode == model.ModeHuman,
		"mode":      st.Mode,
		"expiresAt": st.ExpiresAt,
	}
}

// RefreshKnowledge 丢弃分类缓存并重新加载。
func (h *AdminHandler) RefreshKnowledge(c *gin.Context) {
	category := c.Param("category")
	n := h.adminService.RefreshKnowledge(c.Request.Context(), category)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"category": category, "entries": n}})
}

// SearchKnowledge 用机器人的两种匹配方式检索分类。
func (h *AdminHandler) SearchKnowledge(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少查询参数 q", "data": nil})
		return
	}
	res := h.adminService.SearchKnowledge(c.Request.Context(), c.Param("category"), q)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": res})
}

// ListUnanswered 返回最近的未回答问题。
func (h *AdminHandler) ListUnanswered(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	items, err := h.adminService.ListUnanswered(c.Request.Context(), limit)
	if err != nil {
		if errors.Is(err, service.ErrUnansweredUnavailable) {
			c.JSON(http.StatusNotImplemented, gin.H{"code": http.StatusNotImplemented, "message": err.Error(), "data": nil})
			return
		}
		log.Error("ListUnanswered: 查询失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询未回答问题失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": items})
}
