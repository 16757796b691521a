package controllers

import (
	"net/http"

	"lab_visit_tracker/app"
	"lab_visit_tracker/apperrors"
	"lab_visit_tracker/models"
	"lab_visit_tracker/services"

	"github.com/gin-gonic/gin"
)

// KioskController serves the unauthenticated tap-in/tap-out screen.
type KioskController struct{ *Srv }

func GetKioskController(s *Srv) *KioskController { return &KioskController{Srv: s} }

// GET /api/kiosk/items
func (kc *KioskController) ListItems(c *gin.Context) {
	items, err := kc.Items.Available(c.Request.Context())
	if err != nil {
		kc.fail(c, "kiosk items", err)
		return
	}
	c.JSON(http.StatusOK, app.H{"items": items})
}

type tapInReq struct {
	VisitorID string `json:"visitorId"`
	Purpose   string `json:"purpose"`
	ItemID    string `json:"itemId"`
	Quantity  int    `json:"quantity"`
}

// POST /api/kiosk/tap-in
func (kc *KioskController) TapIn(c *gin.Context) {
	var req tapInReq
	if err := c.ShouldBindJSON(&req); err != nil {
		kc.badRequest(c, err)
		return
	}
	v, err := kc.Visits.TapIn(c.Request.Context(), services.TapInInput{
		VisitorID: req.VisitorID,
		Purpose:   models.Purpose(req.Purpose),
		ItemID:    req.ItemID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		kc.fail(c, "tap-in", err)
		return
	}
	c.JSON(http.StatusCreated, app.H{"visit": v})
}

// GET /api/kiosk/tap-out/eligibility?visitorId=
func (kc *KioskController) Eligibility(c *gin.Context) {
	el, err := kc.Visits.ValidateTapOut(c.Request.Context(), c.Query("visitorId"))
	if err != nil {
		kc.fail(c, "tap-out eligibility", err)
		return
	}
	resp := app.H{
		"visitorId":  el.VisitorID,
		"eligible":   el.Eligible,
		"openVisits": el.OpenVisits,
	}
	if el.Reason != nil {
		if se, ok := apperrors.FromDomain(el.Reason); ok {
			resp["reason"] = se
		}
	}
	c.JSON(http.StatusOK, resp)
}

type tapOutReq struct {
	VisitorID string `json:"visitorId"`
}

// POST /api/kiosk/tap-out
func (kc *KioskController) TapOut(c *gin.Context) {
	var req tapOutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		kc.badRequest(c, err)
		return
	}
	res, err := kc.Visits.TapOut(c.Request.Context(), req.VisitorID)
	if err != nil {
		kc.fail(c, "tap-out", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/kiosk/visits/:id
func (kc *KioskController) GetVisit(c *gin.Context) {
	v, err := kc.Visits.GetVisit(c.Request.Context(), c.Param("id"))
	if err != nil {
		kc.fail(c, "get visit", err)
		return
	}
	c.JSON(http.StatusOK, app.H{"visit": v})
}

// GET /api/kiosk/goodbye/:visitorId
func (kc *KioskController) Goodbye(c *gin.Context) {
	name, err := kc.Visits.LastVisitorName(c.Request.Context(), c.Param("visitorId"))
	if err != nil {
		kc.fail(c, "goodbye", err)
		return
	}
	c.JSON(http.StatusOK, app.H{"visitorName": name})
}
