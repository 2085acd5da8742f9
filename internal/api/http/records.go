package http

import (
	"net/http"

	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/gin-gonic/gin"
)

// queryFrom reads listing filters from the URL
func queryFrom(c *gin.Context) types.Query {
	var q types.Query
	q.SearchTerm = c.Query("searchTerm")
	q.Status = types.Status(c.Query("status"))
	q.Sender = c.Query("sender")
	q.Recipient = c.Query("recipient")
	q.CourierID = c.Query("courierId")
	return q.Normalize()
}

// ListPackages filters the cached packages without contacting the directory
func (h *Handlers) ListPackages(c *gin.Context) {
	s := SessionFrom(c)
	match := types.MatchPackage(queryFrom(c))
	records, version := s.Packages().Store().Snapshot()

	rows := make([]types.Package, 0, len(records))
	for _, p := range records {
		if match(p) {
			rows = append(rows, p)
		}
	}
	c.JSON(http.StatusOK, gin.H{"packages": rows, "version": version})
}

// GetPackage fetches one package and merges it into the cache
func (h *Handlers) GetPackage(c *gin.Context) {
	p, err := SessionFrom(c).Packages().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// CreatePackage creates a package
func (h *Handlers) CreatePackage(c *gin.Context) {
	var draft types.PackageDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	p, err := SessionFrom(c).Packages().Create(c.Request.Context(), draft)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// UpdatePackage applies a partial update
func (h *Handlers) UpdatePackage(c *gin.Context) {
	var patch types.PackagePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	p, err := SessionFrom(c).Packages().Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeletePackage deletes a package; deleting a missing one succeeds
func (h *Handlers) DeletePackage(c *gin.Context) {
	if err := SessionFrom(c).Packages().Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListCouriers filters the cached couriers
func (h *Handlers) ListCouriers(c *gin.Context) {
	s := SessionFrom(c)
	match := types.MatchCourier(queryFrom(c))
	records, version := s.Couriers().Store().Snapshot()

	rows := make([]types.Courier, 0, len(records))
	for _, r := range records {
		if match(r) {
			rows = append(rows, r)
		}
	}
	c.JSON(http.StatusOK, gin.H{"couriers": rows, "version": version})
}

// GetCourier fetches one courier
func (h *Handlers) GetCourier(c *gin.Context) {
	r, err := SessionFrom(c).Couriers().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// CreateCourier creates a courier
func (h *Handlers) CreateCourier(c *gin.Context) {
	var draft types.CourierDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	r, err := SessionFrom(c).Couriers().Create(c.Request.Context(), draft)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// UpdateCourier applies a partial courier update
func (h *Handlers) UpdateCourier(c *gin.Context) {
	var patch types.CourierPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	r, err := SessionFrom(c).Couriers().Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// DeleteCourier deletes a courier
func (h *Handlers) DeleteCourier(c *gin.Context) {
	if err := SessionFrom(c).Couriers().Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SendStatusUpdate forwards a courier status update to the live channel
func (h *Handlers) SendStatusUpdate(c *gin.Context) {
	var update types.StatusUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return
	}
	if update.Status != "" {
		update.Status = types.ParseStatus(string(update.Status))
	}
	if err := SessionFrom(c).SendStatusUpdate(c.Request.Context(), update); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
