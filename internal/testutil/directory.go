// Package testutil provides fakes of the Package Directory Service and the
// Live Update Channel for tests.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
)

// RecordedRequest is one request observed by the fake directory
type RecordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Header http.Header
	Body   []byte
}

type rejection struct {
	code int
	body any
}

// FakeDirectory is an in-memory Package Directory Service
type FakeDirectory struct {
	server *httptest.Server

	mu         sync.Mutex
	packages   []types.Package
	couriers   []types.Courier
	nextID     int
	token      string
	refresh    string
	nextToken  string
	nested     bool
	rejections []rejection
	listHook   func(path string)
	requests   []RecordedRequest
	now        func() time.Time
}

// NewFakeDirectory starts a fake directory closed at test cleanup
func NewFakeDirectory(t testing.TB) *FakeDirectory {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &FakeDirectory{now: func() time.Time { return time.Now().UTC() }}

	router := gin.New()
	router.Use(f.record)
	api := router.Group("/api/v1")
	api.POST("/auth/refresh-token", f.refreshToken)

	authed := api.Group("", f.authorize, f.reject)
	authed.GET("/packages", f.listPackages)
	authed.POST("/packages", f.createPackage)
	authed.GET("/packages/:id", f.getPackage)
	authed.PATCH("/packages/:id", f.updatePackage)
	authed.DELETE("/packages/:id", f.deletePackage)
	authed.GET("/couriers", f.listCouriers)
	authed.POST("/couriers", f.createCourier)
	authed.GET("/couriers/:id", f.getCourier)
	authed.PATCH("/couriers/:id", f.updateCourier)
	authed.DELETE("/couriers/:id", f.deleteCourier)

	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the API base URL
func (f *FakeDirectory) URL() string {
	return f.server.URL + "/api/v1"
}

// Close stops the server, making every later call a network error
func (f *FakeDirectory) Close() {
	f.server.Close()
}

// Now returns the fake's clock reading
func (f *FakeDirectory) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now()
}

// Seed replaces the package collection
func (f *FakeDirectory) Seed(pkgs ...types.Package) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packages = append([]types.Package(nil), pkgs...)
}

// SeedCouriers replaces the courier collection
func (f *FakeDirectory) SeedCouriers(couriers ...types.Courier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.couriers = append([]types.Courier(nil), couriers...)
}

// Put inserts or replaces a package server-side, as another client would
func (f *FakeDirectory) Put(p types.Package) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.packages {
		if f.packages[i].ID == p.ID {
			f.packages[i] = p
			return
		}
	}
	f.packages = append(f.packages, p)
}

// Remove deletes a package server-side
func (f *FakeDirectory) Remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removePackage(id)
}

// Package returns the server-side copy of a package
func (f *FakeDirectory) Package(id string) (types.Package, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.packages {
		if p.ID == id {
			return p, true
		}
	}
	return types.Package{}, false
}

// Nested switches list responses to the {data:{data:[...]}} envelope
func (f *FakeDirectory) Nested(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nested = on
}

// RequireToken rejects calls whose Authorization header does not carry token
func (f *FakeDirectory) RequireToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

// EnableRefresh makes every response set the refresh cookie, and makes the
// refresh endpoint rotate the access token to next.
func (f *FakeDirectory) EnableRefresh(cookie, next string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh = cookie
	f.nextToken = next
}

// FailNext answers the next calls with the given status codes
func (f *FakeDirectory) FailNext(codes ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, code := range codes {
		f.rejections = append(f.rejections, rejection{
			code: code,
			body: gin.H{"success": false, "message": http.StatusText(code)},
		})
	}
}

// RejectNext answers the next call with code and body
func (f *FakeDirectory) RejectNext(code int, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, rejection{code: code, body: body})
}

// OnList runs hook after a list response is computed and before it is sent
func (f *FakeDirectory) OnList(hook func(path string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listHook = hook
}

// Requests returns every recorded request
func (f *FakeDirectory) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}

// Count returns how many requests hit method and path
func (f *FakeDirectory) Count(method, path string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (f *FakeDirectory) record(c *gin.Context) {
	body, _ := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	query := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, RecordedRequest{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Query:  query,
		Header: c.Request.Header.Clone(),
		Body:   body,
	})
	cookie := f.refresh
	f.mu.Unlock()

	if cookie != "" {
		http.SetCookie(c.Writer, &http.Cookie{Name: "refreshToken", Value: cookie, Path: "/", HttpOnly: true})
	}
	c.Next()
}

func (f *FakeDirectory) authorize(c *gin.Context) {
	f.mu.Lock()
	token := f.token
	f.mu.Unlock()

	if token == "" {
		c.Next()
		return
	}
	got := c.GetHeader("Authorization")
	if got != token && got != "Bearer "+token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "You are not authorized"})
		return
	}
	c.Next()
}

func (f *FakeDirectory) reject(c *gin.Context) {
	f.mu.Lock()
	var next *rejection
	if len(f.rejections) > 0 {
		next = &f.rejections[0]
		f.rejections = f.rejections[1:]
	}
	f.mu.Unlock()

	if next != nil {
		c.AbortWithStatusJSON(next.code, next.body)
		return
	}
	c.Next()
}

func (f *FakeDirectory) refreshToken(c *gin.Context) {
	f.mu.Lock()
	want, next := f.refresh, f.nextToken
	f.mu.Unlock()

	got, err := c.Cookie("refreshToken")
	if want == "" || err != nil || got != want {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid refresh token"})
		return
	}

	f.mu.Lock()
	f.token = next
	f.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"accessToken": next}})
}

func queryOf(c *gin.Context) types.Query {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return types.Query{
		SearchTerm: c.Query("searchTerm"),
		Status:     types.Status(c.Query("status")),
		Sender:     c.Query("sender"),
		Recipient:  c.Query("recipient"),
		CourierID:  c.Query("courierId"),
		Page:       page,
		Limit:      limit,
	}.Normalize()
}

func paginate[T any](all []T, q types.Query) []T {
	start := (q.Page - 1) * q.Limit
	if start >= len(all) {
		return []T{}
	}
	end := start + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}

func (f *FakeDirectory) list(c *gin.Context, records any, total int, q types.Query) {
	f.mu.Lock()
	nested, hook := f.nested, f.listHook
	f.mu.Unlock()

	if hook != nil {
		hook(c.Request.URL.Path)
	}

	meta := gin.H{"page": q.Page, "limit": q.Limit, "total": total}
	if nested {
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"data": records}, "meta": meta})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": records, "meta": meta})
}

func (f *FakeDirectory) listPackages(c *gin.Context) {
	q := queryOf(c)
	match := types.MatchPackage(q)

	f.mu.Lock()
	var matched []types.Package
	for _, p := range f.packages {
		if match(p) {
			matched = append(matched, p)
		}
	}
	f.mu.Unlock()

	f.list(c, paginate(matched, q), len(matched), q)
}

func (f *FakeDirectory) getPackage(c *gin.Context) {
	p, ok := f.Package(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Package not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": p})
}

func (f *FakeDirectory) createPackage(c *gin.Context) {
	var draft types.PackageDraft
	if err := bind(c, &draft); err != nil {
		return
	}

	f.mu.Lock()
	f.nextID++
	now := f.now()
	status := draft.Status
	if status == "" {
		status = types.StatusCreated
	}
	p := types.Package{
		ID:          fmt.Sprintf("PKG%d", 100+f.nextID),
		Status:      status,
		OrdererName: draft.OrdererName,
		HomeAddress: draft.HomeAddress,
		PhoneNumber: draft.PhoneNumber,
		Sender:      draft.Sender,
		Recipient:   draft.Recipient,
		Origin:      draft.Origin,
		Destination: draft.Destination,
		Weight:      draft.Weight,
		CourierID:   draft.CourierID,
		Note:        draft.Note,
		ETA:         draft.ETA,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.packages = append(f.packages, p)
	f.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": p})
}

func (f *FakeDirectory) updatePackage(c *gin.Context) {
	var patch types.PackagePatch
	if err := bind(c, &patch); err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.packages {
		p := &f.packages[i]
		if p.ID != c.Param("id") {
			continue
		}
		applyPatch(p, patch)
		p.UpdatedAt = f.now()
		c.JSON(http.StatusOK, gin.H{"success": true, "data": *p})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Package not found"})
}

func applyPatch(p *types.Package, patch types.PackagePatch) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	set(&p.OrdererName, patch.OrdererName)
	set(&p.HomeAddress, patch.HomeAddress)
	set(&p.PhoneNumber, patch.PhoneNumber)
	set(&p.Sender, patch.Sender)
	set(&p.Recipient, patch.Recipient)
	set(&p.Origin, patch.Origin)
	set(&p.Destination, patch.Destination)
	if patch.Weight != nil {
		p.Weight = *patch.Weight
	}
	if patch.CourierID != nil {
		p.CourierID = patch.CourierID
	}
	if patch.Lat != nil {
		p.Lat = patch.Lat
	}
	if patch.Lon != nil {
		p.Lon = patch.Lon
	}
	if patch.Note != nil {
		p.Note = patch.Note
	}
	if patch.ETA != nil {
		p.ETA = patch.ETA
	}
}

func (f *FakeDirectory) deletePackage(c *gin.Context) {
	f.mu.Lock()
	ok := f.removePackage(c.Param("id"))
	f.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Package not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (f *FakeDirectory) removePackage(id string) bool {
	for i := range f.packages {
		if f.packages[i].ID == id {
			f.packages = append(f.packages[:i], f.packages[i+1:]...)
			return true
		}
	}
	return false
}

func (f *FakeDirectory) listCouriers(c *gin.Context) {
	q := queryOf(c)
	match := types.MatchCourier(q)

	f.mu.Lock()
	var matched []types.Courier
	for _, courier := range f.couriers {
		if match(courier) {
			matched = append(matched, courier)
		}
	}
	f.mu.Unlock()

	f.list(c, paginate(matched, q), len(matched), q)
}

func (f *FakeDirectory) getCourier(c *gin.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, courier := range f.couriers {
		if courier.ID == c.Param("id") {
			c.JSON(http.StatusOK, gin.H{"success": true, "data": courier})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Courier not found"})
}

func (f *FakeDirectory) createCourier(c *gin.Context) {
	var draft types.CourierDraft
	if err := bind(c, &draft); err != nil {
		return
	}

	f.mu.Lock()
	f.nextID++
	now := f.now()
	courier := types.Courier{
		ID:        fmt.Sprintf("C%d", 100+f.nextID),
		Name:      draft.Name,
		Email:     draft.Email,
		Status:    draft.Status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.couriers = append(f.couriers, courier)
	f.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"success": true, "data": courier})
}

func (f *FakeDirectory) updateCourier(c *gin.Context) {
	var patch types.CourierPatch
	if err := bind(c, &patch); err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.couriers {
		courier := &f.couriers[i]
		if courier.ID != c.Param("id") {
			continue
		}
		if patch.Name != nil {
			courier.Name = *patch.Name
		}
		if patch.Email != nil {
			courier.Email = *patch.Email
		}
		if patch.Status != nil {
			courier.Status = *patch.Status
		}
		courier.UpdatedAt = f.now()
		c.JSON(http.StatusOK, gin.H{"success": true, "data": *courier})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Courier not found"})
}

func (f *FakeDirectory) deleteCourier(c *gin.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.couriers {
		if f.couriers[i].ID == c.Param("id") {
			f.couriers = append(f.couriers[:i], f.couriers[i+1:]...)
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Courier not found"})
}

func bind(c *gin.Context, v any) error {
	body, err := io.ReadAll(c.Request.Body)
	if err == nil {
		err = sonic.Unmarshal(body, v)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid body"})
	}
	return err
}
