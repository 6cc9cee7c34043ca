package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"restaurant-loyalty/backend/internal/loyalty"
	"restaurant-loyalty/backend/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	db      *gorm.DB
	svc     *loyalty.Service
	log     *zap.Logger
	retries int
}

func New(db *gorm.DB, svc *loyalty.Service, log *zap.Logger, conflictRetries int) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: db, svc: svc, log: log, retries: conflictRetries}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/users", h.getUsers)
	r.GET("/users/:id", h.getUser)
	r.POST("/users", h.createUser)
	r.GET("/users/:id/points", h.getBalance)
	r.GET("/users/:id/points/history", h.getHistory)
	r.POST("/users/:id/points/grants", h.createManualGrant)

	r.POST("/orders", h.createOrder)
	r.GET("/orders/:id", h.getOrder)
	r.POST("/orders/:id/complete", h.completeOrder)

	r.POST("/redemptions", h.createRedemption)

	r.POST("/admin/sweeps", h.runSweep)
	r.GET("/stats", h.getStats)
}

// withRetry retries fn while the user's ledger is contended.
func (h *Handler) withRetry(ctx context.Context, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 50 * time.Millisecond
	exp.MaxElapsedTime = 5 * time.Second
	op := func() error {
		err := fn()
		if err != nil && !errors.Is(err, loyalty.ErrConcurrencyConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(exp, uint64(h.retries)), ctx))
}

func (h *Handler) fail(c *gin.Context, err error) {
	var ipe *loyalty.InsufficientPointsError
	switch {
	case errors.As(err, &ipe):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient points", "requested": ipe.Requested, "available": ipe.Available})
	case errors.Is(err, loyalty.ErrUserNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, loyalty.ErrInvalidOrderState),
		errors.Is(err, loyalty.ErrInvalidAmount),
		errors.Is(err, loyalty.ErrInvalidReferralCode):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, loyalty.ErrReferenceConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, loyalty.ErrConcurrencyConflict):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "busy, retry later"})
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := cast.ToUintE(c.Param("id"))
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) userExists(c *gin.Context, id uint) bool {
	var u models.User
	if err := h.db.WithContext(c.Request.Context()).Select("id").First(&u, id).Error; err != nil {
		h.fail(c, err)
		return false
	}
	return true
}

func (h *Handler) getUsers(c *gin.Context) {
	var users []models.User
	if err := h.db.Order("id desc").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) getUser(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var u models.User
	if err := h.db.First(&u, id).Error; err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type userCreateReq struct {
	Name         string      `json:"name" binding:"required"`
	Email        string      `json:"email"`
	Role         models.Role `json:"role"`
	ReferralCode string      `json:"referral_code"`
}

func newReferralCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// createUser registers an account. A bad referral code never blocks registration.
func (h *Handler) createUser(c *gin.Context) {
	var req userCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleCustomer
	}
	u := models.User{Name: req.Name, Email: req.Email, Role: req.Role, ReferralCode: newReferralCode()}
	if err := h.db.Create(&u).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if code := strings.TrimSpace(req.ReferralCode); code != "" {
		ctx := c.Request.Context()
		err := h.withRetry(ctx, func() error {
			_, err := h.svc.RegisterReferral(ctx, code, u.ID)
			return err
		})
		switch {
		case err == nil:
			if err := h.db.First(&u, u.ID).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		case errors.Is(err, loyalty.ErrInvalidReferralCode):
			h.log.Info("registration with invalid referral code", zap.Uint("userID", u.ID), zap.String("code", code))
		default:
			h.log.Warn("referral link failed", zap.Uint("userID", u.ID), zap.String("code", code), zap.Error(err))
		}
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) getBalance(c *gin.Context) {
	id, ok := paramID(c)
	if !ok || !h.userExists(c, id) {
		return
	}
	bal, err := h.svc.GetBalance(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "balance": bal})
}

func (h *Handler) getHistory(c *gin.Context) {
	id, ok := paramID(c)
	if !ok || !h.userExists(c, id) {
		return
	}
	entries, err := h.svc.GetHistory(c.Request.Context(), id, cast.ToInt(c.Query("limit")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "data": entries})
}

type manualGrantReq struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Note   string `json:"note"`
}

func (h *Handler) createManualGrant(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req manualGrantReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	var g *models.PointGrant
	err := h.withRetry(ctx, func() (err error) {
		g, err = h.svc.GrantManual(ctx, id, req.Amount, req.Note)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"grant": g})
}

type orderCreateReq struct {
	UserID      uint            `json:"user_id" binding:"required"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

func (h *Handler) createOrder(c *gin.Context) {
	var req orderCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TotalAmount.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "total_amount must not be negative"})
		return
	}
	if !h.userExists(c, req.UserID) {
		return
	}
	o := models.Order{UserID: req.UserID, TotalAmount: req.TotalAmount, Status: models.OrderPending}
	if err := h.db.Create(&o).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *Handler) getOrder(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var o models.Order
	if err := h.db.First(&o, id).Error; err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type orderCompleteReq struct {
	Status models.OrderStatus `json:"status"`
}

// completeOrder moves an order to its terminal state, then runs accrual and the referral
// check. Calling it again for a terminal order replays both steps, which are idempotent.
func (h *Handler) completeOrder(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req orderCompleteReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Status == "" {
		req.Status = models.OrderCompleted
	}
	if !req.Status.Terminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be completed or paid"})
		return
	}

	ctx := c.Request.Context()
	var o models.Order
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&o, id).Error; err != nil {
			return err
		}
		if o.Status.Terminal() {
			return nil
		}
		if o.Status != models.OrderPending {
			return loyalty.ErrInvalidOrderState
		}
		now := time.Now().UTC()
		o.Status = req.Status
		o.CompletedAt = &now
		return tx.Save(&o).Error
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	var grant, reward *models.PointGrant
	err = h.withRetry(ctx, func() (err error) {
		grant, err = h.svc.AccruePoints(ctx, o.UserID, o.ID)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	err = h.withRetry(ctx, func() (err error) {
		reward, err = h.svc.CheckAndGrantReferralReward(ctx, o.UserID)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o, "grant": grant, "referral_reward": reward})
}

type redemptionReq struct {
	UserID    uint   `json:"user_id" binding:"required"`
	Points    int64  `json:"points" binding:"required,gt=0"`
	Reference string `json:"reference"`
}

func (h *Handler) createRedemption(c *gin.Context) {
	var req redemptionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	var rd *models.PointConsumption
	err := h.withRetry(ctx, func() (err error) {
		rd, err = h.svc.RedeemPoints(ctx, req.UserID, req.Points, req.Reference)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"redemption": rd})
}

type sweepReq struct {
	AsOf   *time.Time `json:"as_of"`
	Policy string     `json:"policy"`
}

func (h *Handler) runSweep(c *gin.Context) {
	var req sweepReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	asOf := time.Now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}
	ctx := c.Request.Context()
	var (
		n   int64
		err error
	)
	switch req.Policy {
	case "", "grant":
		n, err = h.svc.SweepExpiredGrants(ctx, asOf)
	case "inactivity":
		n, err = h.svc.SweepInactiveAccounts(ctx, asOf)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy must be grant or inactivity"})
		return
	}
	if err != nil {
		h.log.Error("manual sweep failed", zap.Time("asOf", asOf), zap.Int64("voided", n), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "voided": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"as_of": asOf, "voided": n})
}

func (h *Handler) getStats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
