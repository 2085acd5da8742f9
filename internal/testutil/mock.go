package testutil

import (
	"context"

	"github.com/aamira/courier-tracker/internal/shared/types"
	"github.com/stretchr/testify/mock"
)

// MockPackageDirectory is a mock of the /packages collection
type MockPackageDirectory struct {
	mock.Mock
}

// NewMockPackageDirectory creates a mock named "packages"
func NewMockPackageDirectory() *MockPackageDirectory {
	m := new(MockPackageDirectory)
	m.On("Name").Return("packages").Maybe()
	return m
}

// Name mocks the Name method.
func (m *MockPackageDirectory) Name() string {
	return m.Called().String(0)
}

// FetchPage mocks the FetchPage method.
func (m *MockPackageDirectory) FetchPage(ctx context.Context, q types.Query) (types.Page[types.Package], error) {
	args := m.Called(ctx, q)
	return args.Get(0).(types.Page[types.Package]), args.Error(1)
}

// Get mocks the Get method.
func (m *MockPackageDirectory) Get(ctx context.Context, id string) (types.Package, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Package), args.Error(1)
}

// Create mocks the Create method.
func (m *MockPackageDirectory) Create(ctx context.Context, draft types.PackageDraft) (types.Package, error) {
	args := m.Called(ctx, draft)
	return args.Get(0).(types.Package), args.Error(1)
}

// Update mocks the Update method.
func (m *MockPackageDirectory) Update(ctx context.Context, id string, patch types.PackagePatch) (types.Package, error) {
	args := m.Called(ctx, id, patch)
	return args.Get(0).(types.Package), args.Error(1)
}

// Delete mocks the Delete method.
func (m *MockPackageDirectory) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// PageOf builds a complete one-page result
func PageOf(records ...types.Package) types.Page[types.Package] {
	if records == nil {
		records = []types.Package{}
	}
	return types.Page[types.Package]{
		Records: records,
		Total:   len(records),
		Page:    1,
		Limit:   types.DefaultPageSize,
	}
}
