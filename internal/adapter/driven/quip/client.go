package quip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UserDirectory = (*Client)(nil)

// Endpoint labels used in transport events.
const (
	EndpointUsersLookup = "users.lookup"
	EndpointUsersGet    = "users.get"
	EndpointUsersMe     = "users.current"
	EndpointFolderGet   = "folders.get"
	EndpointFolderAdd   = "folders.add_members"
)

// Client implements driven.UserDirectory on top of a Transport.
type Client struct {
	t *Transport
}

// NewClient creates a Client that issues every call through t.
func NewClient(t *Transport) *Client {
	return &Client{t: t}
}

type userJSON struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Emails []string `json:"emails"`
}

type folderJSON struct {
	Folder struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"folder"`
	MemberIDs []string `json:"member_ids"`
}

type apiError struct {
	Error            string `json:"error"`
	ErrorCode        int    `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// LookupUsers resolves ids with a single bulk call. The response is keyed by
// the requested identifier; entries without an id are treated as missing.
func (c *Client) LookupUsers(ctx context.Context, ids []string) (map[string]model.UserInfo, error) {
	if len(ids) == 0 {
		return map[string]model.UserInfo{}, nil
	}

	resp, err := c.t.Do(ctx, Request{
		Method:   http.MethodGet,
		Path:     "/1/users/",
		Endpoint: EndpointUsersLookup,
		Query:    url.Values{"ids": {strings.Join(ids, ",")}},
	})
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := decodeJSON(resp.Body, &raw); err != nil {
		return nil, model.NewError(model.KindTransient, "decode users lookup", err)
	}

	found := make(map[string]model.UserInfo, len(raw))
	for _, id := range ids {
		entry, ok := raw[id]
		if !ok {
			continue
		}
		var u userJSON
		if err := json.Unmarshal(entry, &u); err != nil || u.ID == "" {
			continue
		}
		found[id] = mapUser(u)
	}
	return found, nil
}

// LookupUser resolves a single email address.
func (c *Client) LookupUser(ctx context.Context, email string) (model.UserInfo, error) {
	resp, err := c.t.Do(ctx, Request{
		Method:   http.MethodGet,
		Path:     "/1/users/" + url.PathEscape(email),
		Endpoint: EndpointUsersGet,
	})
	if err != nil {
		return model.UserInfo{}, err
	}

	var u userJSON
	if err := decodeJSON(resp.Body, &u); err != nil {
		return model.UserInfo{}, model.NewError(model.KindTransient, "decode user", err)
	}
	if u.ID == "" {
		return model.UserInfo{}, model.NewError(model.KindNotFound, "lookup user", fmt.Errorf("no id in response"))
	}
	return mapUser(u), nil
}

// GetFolder fetches folder metadata and member IDs.
func (c *Client) GetFolder(ctx context.Context, folderID string) (model.Folder, error) {
	resp, err := c.t.Do(ctx, Request{
		Method:   http.MethodGet,
		Path:     "/1/folders/" + url.PathEscape(folderID),
		Endpoint: EndpointFolderGet,
	})
	if err != nil {
		return model.Folder{}, err
	}

	var f folderJSON
	if err := decodeJSON(resp.Body, &f); err != nil {
		return model.Folder{}, model.NewError(model.KindTransient, "decode folder", err)
	}

	id := f.Folder.ID
	if id == "" {
		id = folderID
	}
	members := f.MemberIDs
	if members == nil {
		members = []string{}
	}
	return model.Folder{ID: id, Title: f.Folder.Title, MemberIDs: members}, nil
}

// AddFolderMembers adds memberIDs to folderID in one call.
func (c *Client) AddFolderMembers(ctx context.Context, folderID string, memberIDs []string) error {
	if len(memberIDs) == 0 {
		return nil
	}

	_, err := c.t.Do(ctx, Request{
		Method:   http.MethodPost,
		Path:     "/1/folders/add-members",
		Endpoint: EndpointFolderAdd,
		Form: url.Values{
			"folder_id":  {folderID},
			"member_ids": {strings.Join(memberIDs, ",")},
		},
	})
	return err
}

func mapUser(u userJSON) model.UserInfo {
	return model.UserInfo{ID: u.ID, Name: u.Name, Emails: u.Emails}
}

func decodeJSON(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
