// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPClient implements Client against a REST-style customer-data
// platform API.
//
// Throttling responses (429) are surfaced as *RateLimitedError so the
// retry layer can honor the server's Retry-After hint. Missing objects
// map to ErrNotFound.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a client for the API at baseURL authenticating
// with a bearer token. A nil httpClient means http.DefaultClient.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    httpClient,
	}
}

var _ Client = (*HTTPClient)(nil)

// ReadProperty fetches the current value of one property.
func (c *HTTPClient) ReadProperty(ctx context.Context, objectType, objectID, property string) (string, error) {
	path := fmt.Sprintf("/crm/v3/objects/%s/%s?properties=%s",
		url.PathEscape(objectType), url.PathEscape(objectID), url.QueryEscape(property))

	var body struct {
		Properties map[string]string `json:"properties"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &body); err != nil {
		return "", err
	}
	return body.Properties[property], nil
}

// UpdateProperty patches one property to a new value.
func (c *HTTPClient) UpdateProperty(ctx context.Context, objectType, objectID, property, value string) error {
	path := fmt.Sprintf("/crm/v3/objects/%s/%s",
		url.PathEscape(objectType), url.PathEscape(objectID))
	payload := map[string]any{
		"properties": map[string]string{property: value},
	}
	return c.do(ctx, http.MethodPatch, path, payload, nil)
}

// DeleteObject archives an object.
func (c *HTTPClient) DeleteObject(ctx context.Context, objectType, objectID string) error {
	path := fmt.Sprintf("/crm/v3/objects/%s/%s",
		url.PathEscape(objectType), url.PathEscape(objectID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// AddToList adds an object to a static list.
func (c *HTTPClient) AddToList(ctx context.Context, listID, objectID string) error {
	path := fmt.Sprintf("/crm/v3/lists/%s/memberships/add", url.PathEscape(listID))
	return c.do(ctx, http.MethodPut, path, []string{objectID}, nil)
}

// RemoveFromList removes an object from a static list.
func (c *HTTPClient) RemoveFromList(ctx context.Context, listID, objectID string) error {
	path := fmt.Sprintf("/crm/v3/lists/%s/memberships/remove", url.PathEscape(listID))
	return c.do(ctx, http.MethodPut, path, []string{objectID}, nil)
}

// CreateAssociation links two objects with the given association type.
func (c *HTTPClient) CreateAssociation(ctx context.Context, fromType, fromID, assocType, toID string) error {
	path := fmt.Sprintf("/crm/v4/objects/%s/%s/associations/default/%s/%s",
		url.PathEscape(fromType), url.PathEscape(fromID),
		url.PathEscape(assocType), url.PathEscape(toID))
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// MergeObjects merges mergeID into primaryID.
func (c *HTTPClient) MergeObjects(ctx context.Context, objectType, primaryID, mergeID string) error {
	path := fmt.Sprintf("/crm/v3/objects/%s/merge", url.PathEscape(objectType))
	payload := map[string]string{
		"primaryObjectId": primaryID,
		"objectIdToMerge": mergeID,
	}
	return c.do(ctx, http.MethodPost, path, payload, nil)
}

// do issues one request and decodes the response into out when non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
