package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/bytedance/sonic"
)

type meta struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Meta    *meta           `json:"meta"`
	Message string          `json:"message"`
}

type ack struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// decodeAck reads a {success, message} answer. A body without a success
// flag counts as accepted.
func decodeAck(body []byte) (bool, string) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return true, ""
	}
	var a ack
	if err := sonic.Unmarshal(body, &a); err != nil || a.Success == nil {
		return true, ""
	}
	return *a.Success, a.Message
}

// decodeList accepts {data:[...], meta}, the nested {data:{data:[...]}, meta}
// and a bare array.
func decodeList[T any](body []byte) ([]T, *meta, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil, nil
	}

	if body[0] == '[' {
		var records []T
		if err := sonic.Unmarshal(body, &records); err != nil {
			return nil, nil, fmt.Errorf("decode list: %w", err)
		}
		return records, nil, nil
	}

	var env envelope
	if err := sonic.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, env.Meta, nil
	}
	if data[0] == '[' {
		var records []T
		if err := sonic.Unmarshal(data, &records); err != nil {
			return nil, nil, fmt.Errorf("decode list: %w", err)
		}
		return records, env.Meta, nil
	}

	var nested struct {
		Data []T  `json:"data"`
		Meta *meta `json:"meta"`
	}
	if err := sonic.Unmarshal(data, &nested); err != nil {
		return nil, nil, fmt.Errorf("decode nested list: %w", err)
	}
	m := env.Meta
	if m == nil {
		m = nested.Meta
	}
	return nested.Data, m, nil
}

// decodeOne accepts a bare record or {data: record}
func decodeOne[T any](body []byte) (T, error) {
	var record T

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return record, fmt.Errorf("decode record: empty body")
	}

	var env envelope
	if err := sonic.Unmarshal(body, &env); err == nil {
		data := bytes.TrimSpace(env.Data)
		if len(data) > 0 && data[0] == '{' {
			if err := sonic.Unmarshal(data, &record); err != nil {
				return record, fmt.Errorf("decode record: %w", err)
			}
			return record, nil
		}
	}

	if err := sonic.Unmarshal(body, &record); err != nil {
		return record, fmt.Errorf("decode record: %w", err)
	}
	return record, nil
}

type fieldError struct {
	Path    string `json:"path"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorBody struct {
	Message      string          `json:"message"`
	Error        string          `json:"error"`
	ErrorSources []fieldError    `json:"errorSources"`
	Errors       json.RawMessage `json:"errors"`
}

// parseError extracts the message and any field errors from an error body
func parseError(body []byte) (string, ValidationErrors) {
	var eb errorBody
	if err := sonic.Unmarshal(body, &eb); err != nil {
		return string(bytes.TrimSpace(body)), nil
	}

	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}

	var fields ValidationErrors
	add := func(fe fieldError) {
		name := fe.Field
		if name == "" {
			name = fe.Path
		}
		fields = append(fields, ValidationError{Field: name, Message: fe.Message})
	}
	for _, fe := range eb.ErrorSources {
		add(fe)
	}

	raw := bytes.TrimSpace(eb.Errors)
	switch {
	case len(raw) == 0:
	case raw[0] == '[':
		var list []fieldError
		if sonic.Unmarshal(raw, &list) == nil {
			for _, fe := range list {
				add(fe)
			}
		}
	case raw[0] == '{':
		var byField map[string]string
		if sonic.Unmarshal(raw, &byField) == nil {
			for _, field := range slices.Sorted(maps.Keys(byField)) {
				add(fieldError{Field: field, Message: byField[field]})
			}
		}
	}
	return msg, fields
}

type refreshBody struct {
	AccessToken string `json:"accessToken"`
	Data        struct {
		AccessToken string `json:"accessToken"`
	} `json:"data"`
}

func decodeAccessToken(body []byte) string {
	var rb refreshBody
	if err := sonic.Unmarshal(body, &rb); err != nil {
		return ""
	}
	if rb.Data.AccessToken != "" {
		return rb.Data.AccessToken
	}
	return rb.AccessToken
}
