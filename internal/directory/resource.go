package directory

import (
	"context"
	"net/http"
	"net/url"

	"github.com/aamira/courier-tracker/internal/shared/types"
)

// Resource is one REST collection of the directory. T is the record, D the
// create draft and P the partial update.
type Resource[T any, D any, P any] struct {
	client    *Client
	path      string
	kind      string
	normalize func(T) T
}

// PackageResource is the /packages collection
type PackageResource = Resource[types.Package, types.PackageDraft, types.PackagePatch]

// CourierResource is the /couriers collection
type CourierResource = Resource[types.Courier, types.CourierDraft, types.CourierPatch]

// Name returns the collection name, e.g. "packages"
func (r *Resource[T, D, P]) Name() string {
	return r.path[1:]
}

func (r *Resource[T, D, P]) item(id string) string {
	return r.path + "/" + url.PathEscape(id)
}

// FetchPage returns one page of records matching q
func (r *Resource[T, D, P]) FetchPage(ctx context.Context, q types.Query) (types.Page[T], error) {
	q = q.Normalize()
	resp, err := r.client.do(ctx, call{
		resource: r.Name(),
		op:       "list",
		method:   http.MethodGet,
		path:     r.path,
		query:    q.Params(),
	})
	if err != nil {
		return types.Page[T]{}, err
	}

	records, m, err := decodeList[T](resp.Body())
	if err != nil {
		return types.Page[T]{}, &ServiceError{Code: resp.StatusCode(), Message: "malformed list response", Err: err}
	}
	for i := range records {
		records[i] = r.normalize(records[i])
	}
	return pageOf(records, m, q), nil
}

// Get fetches one record
func (r *Resource[T, D, P]) Get(ctx context.Context, id string) (T, error) {
	resp, err := r.client.do(ctx, call{
		resource: r.Name(),
		op:       "get",
		method:   http.MethodGet,
		path:     r.item(id),
		id:       id,
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return r.decode(resp.StatusCode(), resp.Body())
}

// Create validates the draft and creates the record
func (r *Resource[T, D, P]) Create(ctx context.Context, draft D) (T, error) {
	var zero T
	if err := Validate(draft); err != nil {
		return zero, err
	}

	resp, err := r.client.do(ctx, call{
		resource: r.Name(),
		op:       "create",
		method:   http.MethodPost,
		path:     r.path,
		body:     draft,
	})
	if err != nil {
		return zero, err
	}
	return r.decode(resp.StatusCode(), resp.Body())
}

// Update sends the present fields of patch
func (r *Resource[T, D, P]) Update(ctx context.Context, id string, patch P) (T, error) {
	var zero T
	if err := Validate(patch); err != nil {
		return zero, err
	}

	resp, err := r.client.do(ctx, call{
		resource: r.Name(),
		op:       "update",
		method:   http.MethodPatch,
		path:     r.item(id),
		id:       id,
		body:     patch,
	})
	if err != nil {
		return zero, err
	}
	return r.decode(resp.StatusCode(), resp.Body())
}

// Delete removes the record. A 2xx answer carrying success:false is a
// refusal.
func (r *Resource[T, D, P]) Delete(ctx context.Context, id string) error {
	resp, err := r.client.do(ctx, call{
		resource: r.Name(),
		op:       "delete",
		method:   http.MethodDelete,
		path:     r.item(id),
		id:       id,
	})
	if err != nil {
		return err
	}
	if ok, msg := decodeAck(resp.Body()); !ok {
		if msg == "" {
			msg = r.kind + " delete rejected"
		}
		r.client.metrics.RecordDirectoryError(r.Name(), "delete", "service")
		return &ServiceError{Code: resp.StatusCode(), Message: msg}
	}
	return nil
}

func (r *Resource[T, D, P]) decode(code int, body []byte) (T, error) {
	record, err := decodeOne[T](body)
	if err != nil {
		return record, &ServiceError{Code: code, Message: "malformed " + r.kind + " response", Err: err}
	}
	return r.normalize(record), nil
}
