package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aamira/courier-tracker/internal/infrastructure/resilience"
	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/aamira/courier-tracker/internal/testutil"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const packagesPath = "/api/v1/packages"

func newClient(t *testing.T, f *testutil.FakeDirectory, mods ...func(*Options)) *Client {
	t.Helper()
	opts := Options{
		BaseURL:    f.URL(),
		AuthScheme: "Bearer",
		Timeout:    2 * time.Second,
	}
	for _, mod := range mods {
		mod(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func lastRequest(t *testing.T, f *testutil.FakeDirectory) testutil.RecordedRequest {
	t.Helper()
	reqs := f.Requests()
	require.NotEmpty(t, reqs)
	return reqs[len(reqs)-1]
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestFetchPageForwardsQuery(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.Seed(
		testutil.Package("PKG1", types.StatusInTransit, 1),
		testutil.Package("PKG2", types.StatusDelivered, 2),
		testutil.Package("PKG3", types.StatusInTransit, 3),
	)
	c := newClient(t, f)

	page, err := c.Packages().FetchPage(context.Background(), types.Query{
		Status:     types.StatusInTransit,
		Sender:     "Aamira",
		SearchTerm: "  ",
		Limit:      10,
	})
	require.NoError(t, err)

	require.Len(t, page.Records, 2)
	assert.Equal(t, "PKG1", page.Records[0].ID)
	assert.Equal(t, "PKG3", page.Records[1].ID)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 10, page.Limit)
	assert.False(t, page.Records[0].ReceivedAt.IsZero())

	req := lastRequest(t, f)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, packagesPath, req.Path)
	assert.Equal(t, "in_transit", req.Query["status"])
	assert.Equal(t, "Aamira", req.Query["sender"])
	assert.Equal(t, "1", req.Query["page"])
	assert.Equal(t, "10", req.Query["limit"])
	assert.NotContains(t, req.Query, "searchTerm")
}

func TestFetchPageNestedEnvelope(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.Nested(true)
	f.Seed(testutil.Package("PKG1", types.StatusCreated, 1))
	c := newClient(t, f)

	page, err := c.Packages().FetchPage(context.Background(), types.Query{})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "PKG1", page.Records[0].ID)
	assert.Equal(t, 1, page.Total)
}

func TestFetchPagePagination(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	var pkgs []types.Package
	for i := 1; i <= 25; i++ {
		pkgs = append(pkgs, testutil.Package(fmt.Sprintf("PKG%d", i), types.StatusCreated, i))
	}
	f.Seed(pkgs...)
	c := newClient(t, f)

	page, err := c.Packages().FetchPage(context.Background(), types.Query{Page: 3, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Records, 5)
	assert.Equal(t, 25, page.Total)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, "PKG21", page.Records[0].ID)
}

func TestGetNotFound(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	c := newClient(t, f)

	_, err := c.Packages().Get(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "packages", nf.Resource)
	assert.Equal(t, "NOPE", nf.ID)
}

func TestGet(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.Seed(testutil.Package("PKG1", types.StatusAccepted, 5))
	c := newClient(t, f)

	p, err := c.Packages().Get(context.Background(), "PKG1")
	require.NoError(t, err)
	assert.Equal(t, "PKG1", p.ID)
	assert.Equal(t, types.StatusAccepted, p.Status)
	assert.True(t, p.UpdatedAt.Equal(testutil.At(5)))
}

func TestCreateValidatesBeforeSending(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	c := newClient(t, f)

	_, err := c.Packages().Create(context.Background(), types.PackageDraft{
		OrdererName: "Rahim",
		Weight:      -1,
		Status:      "teleported",
	})
	require.Error(t, err)

	ve, ok := AsValidation(err)
	require.True(t, ok)
	fields := ve.Fields()
	assert.Contains(t, fields, "homeAddress")
	assert.Contains(t, fields, "phoneNumber")
	assert.Contains(t, fields, "weight")
	assert.Contains(t, fields, "status")
	assert.NotContains(t, fields, "ordererName")

	assert.Equal(t, 0, f.Count(http.MethodPost, packagesPath))
}

func TestCreateNormalizesResponse(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	c := newClient(t, f)

	p, err := c.Packages().Create(context.Background(), types.PackageDraft{
		OrdererName: "<b>Rahim</b>",
		HomeAddress: "House 4, Road 7",
		PhoneNumber: "01700000000",
		Weight:      1.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "PKG101", p.ID)
	assert.Equal(t, "Rahim", p.OrdererName)
	assert.Equal(t, types.StatusCreated, p.Status)

	req := lastRequest(t, f)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
}

func TestUpdateSendsOnlyPresentFields(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.Seed(testutil.Package("PKG1", types.StatusInTransit, 1))
	c := newClient(t, f)

	status := types.StatusDelivered
	p, err := c.Packages().Update(context.Background(), "PKG1", types.PackagePatch{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, types.StatusDelivered, p.Status)
	assert.True(t, p.UpdatedAt.After(testutil.At(1)))

	req := lastRequest(t, f)
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, packagesPath+"/PKG1", req.Path)

	var sent map[string]any
	require.NoError(t, sonic.Unmarshal(req.Body, &sent))
	assert.Equal(t, map[string]any{"status": "delivered"}, sent)
}

func TestUpdateRejectsInvalidPatch(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	c := newClient(t, f)

	lat := 123.0
	_, err := c.Packages().Update(context.Background(), "PKG1", types.PackagePatch{Lat: &lat})
	ve, ok := AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, "must be a valid latitude", ve.Fields()["lat"])
	assert.Empty(t, f.Requests())
}

func TestDelete(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.Seed(testutil.Package("PKG1", types.StatusInTransit, 1))
	c := newClient(t, f)

	require.NoError(t, c.Packages().Delete(context.Background(), "PKG1"))

	err := c.Packages().Delete(context.Background(), "PKG1")
	assert.True(t, IsNotFound(err))
}

func TestDeleteRejectedWithSuccessFalse(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.Seed(testutil.Package("PKG1", types.StatusInTransit, 1))
	f.RejectNext(http.StatusOK, gin.H{"success": false, "message": "package is locked"})
	c := newClient(t, f)

	err := c.Packages().Delete(context.Background(), "PKG1")
	require.Error(t, err)
	se, ok := AsService(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, se.Code)
	assert.Equal(t, "package is locked", se.Message)
	assert.False(t, IsNotFound(err))

	_, exists := f.Package("PKG1")
	assert.True(t, exists)
}

func TestDeleteAcceptsBodyWithoutFlag(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.RejectNext(http.StatusOK, gin.H{"message": "ok"})
	c := newClient(t, f)

	assert.NoError(t, c.Packages().Delete(context.Background(), "PKG1"))
}

func TestServiceErrorOn5xx(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.FailNext(http.StatusServiceUnavailable)
	c := newClient(t, f)

	_, err := c.Packages().FetchPage(context.Background(), types.Query{})
	require.Error(t, err)

	se, ok := AsService(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "Service Unavailable", se.Message)
	assert.False(t, IsNetwork(err))
}

func TestServerValidationErrors(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.RejectNext(http.StatusUnprocessableEntity, gin.H{
		"success": false,
		"message": "Validation Error",
		"errorSources": []gin.H{
			{"path": "phoneNumber", "message": "invalid phone number"},
		},
	})
	c := newClient(t, f)

	_, err := c.Packages().Create(context.Background(), types.PackageDraft{
		OrdererName: "Rahim",
		HomeAddress: "House 4",
		PhoneNumber: "abc",
	})
	ve, ok := AsValidation(err)
	require.True(t, ok)
	assert.Equal(t, ValidationErrors{{Field: "phoneNumber", Message: "invalid phone number"}}, ve)
}

func TestBreakerOpensAfterConsecutiveServerFailures(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.FailNext(500, 500, 500, 500, 500)
	c := newClient(t, f)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.Packages().FetchPage(ctx, types.Query{})
		se, ok := AsService(err)
		require.True(t, ok, "call %d", i)
		assert.Equal(t, 500, se.Code)
	}
	assert.Equal(t, resilience.StateOpen, c.BreakerState())

	_, err := c.Packages().FetchPage(ctx, types.Query{})
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 5, f.Count(http.MethodGet, packagesPath))
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	for i := 0; i < 8; i++ {
		f.FailNext(http.StatusBadRequest)
	}
	c := newClient(t, f)

	for i := 0; i < 8; i++ {
		_, err := c.Packages().FetchPage(context.Background(), types.Query{})
		se, ok := AsService(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusBadRequest, se.Code)
	}
	assert.Equal(t, resilience.StateClosed, c.BreakerState())
}

func TestNetworkError(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	c := newClient(t, f)
	f.Close()

	_, err := c.Packages().FetchPage(context.Background(), types.Query{})
	require.Error(t, err)
	assert.True(t, IsNetwork(err))

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "list", ne.Op)
}

func TestRequestHeaders(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	c := newClient(t, f, func(o *Options) { o.Token = "tok1" })

	for i := 0; i < 2; i++ {
		_, err := c.Packages().FetchPage(context.Background(), types.Query{})
		require.NoError(t, err)
	}

	reqs := f.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer tok1", reqs[0].Header.Get("Authorization"))

	first, err := uuid.Parse(reqs[0].Header.Get("X-Request-ID"))
	require.NoError(t, err)
	second, err := uuid.Parse(reqs[1].Header.Get("X-Request-ID"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestRawTokenScheme(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	c := newClient(t, f, func(o *Options) {
		o.Token = "tok1"
		o.AuthScheme = ""
	})

	_, err := c.Packages().FetchPage(context.Background(), types.Query{})
	require.NoError(t, err)
	assert.Equal(t, "tok1", lastRequest(t, f).Header.Get("Authorization"))
}

func TestRefreshAndReplayOnce(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.Seed(testutil.Package("PKG1", types.StatusCreated, 1))
	f.RequireToken("tok2")
	f.EnableRefresh("refresh-cookie", "tok2")
	c := newClient(t, f, func(o *Options) { o.Token = "tok1" })

	page, err := c.Packages().FetchPage(context.Background(), types.Query{})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)

	assert.Equal(t, "tok2", c.Tokens().Token())
	assert.Equal(t, 1, f.Count(http.MethodPost, "/api/v1/auth/refresh-token"))
	assert.Equal(t, 2, f.Count(http.MethodGet, packagesPath))
	assert.Equal(t, "Bearer tok2", lastRequest(t, f).Header.Get("Authorization"))
}

func TestRefreshFailureIsUnauthorized(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.RequireToken("tok2")
	c := newClient(t, f, func(o *Options) { o.Token = "tok1" })

	_, err := c.Packages().FetchPage(context.Background(), types.Query{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	se, ok := AsService(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, se.Code)

	assert.Empty(t, c.Tokens().Token())
	assert.Equal(t, 1, f.Count(http.MethodPost, "/api/v1/auth/refresh-token"))
	assert.Equal(t, 1, f.Count(http.MethodGet, packagesPath))
}

func TestCouriers(t *testing.T) {
	f := testutil.NewFakeDirectory(t)
	f.SeedCouriers(
		testutil.Courier("C1", "alim", 1),
		testutil.Courier("C2", "sara", 2),
	)
	c := newClient(t, f)
	ctx := context.Background()

	page, err := c.Couriers().FetchPage(ctx, types.Query{SearchTerm: "ali"})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "C1", page.Records[0].ID)

	_, err = c.Couriers().Create(ctx, types.CourierDraft{
		Name:     "rafi",
		Email:    "not-an-email",
		Password: "123",
		Status:   "sleeping",
	})
	ve, ok := AsValidation(err)
	require.True(t, ok)
	assert.Len(t, ve, 3)

	created, err := c.Couriers().Create(ctx, types.CourierDraft{
		Name:     "rafi",
		Email:    "Rafi@Example.com",
		Password: "secret1",
		Status:   types.CourierActive,
	})
	require.NoError(t, err)
	assert.Equal(t, "rafi@example.com", created.Email)
	assert.NotEmpty(t, created.ID)
}
