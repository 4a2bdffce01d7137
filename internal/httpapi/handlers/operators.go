package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aetherlab/ai-hub/internal/auth"
	"github.com/aetherlab/ai-hub/internal/common"
	"github.com/aetherlab/ai-hub/internal/httpapi/middleware"
	"github.com/aetherlab/ai-hub/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type createOperatorReq struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) CreateOperator(c *gin.Context) {
	var req createOperatorReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || len(req.Password) < 8 {
		common.Fail(c, http.StatusBadRequest, 10002, "email, username and a password of 8+ chars required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}

	op := models.Operator{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := h.DB.Create(&op).Error; err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "failed to create operator (maybe email already exists)")
		return
	}

	token, err := auth.SignJWT(op.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	common.OK(c, gin.H{
		"id":       op.ID,
		"email":    op.Email,
		"username": op.Username,
		"token":    token,
	})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var op models.Operator
	if err := h.DB.Where("email = ?", strings.TrimSpace(req.Email)).First(&op).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40103, "invalid email or password")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	if !auth.CheckPassword(op.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid email or password")
		return
	}

	token, err := auth.SignJWT(op.ID, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	common.OK(c, gin.H{"token": token})
}

func operatorIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.OperatorIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func (h *Handler) Me(c *gin.Context) {
	id, ok := operatorIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var op models.Operator
	if err := h.DB.First(&op, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "operator not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, gin.H{
		"id":         op.ID,
		"email":      op.Email,
		"username":   op.Username,
		"created_at": op.CreatedAt,
	})
}
