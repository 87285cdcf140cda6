package klaviyo

import (
	"context"
	"net/http"
	"net/url"
)

const (
	profilesPath     = "profiles/"
	profileMergePath = "profile-merge/"
)

// GetProfile fetches one profile by id.
func (c *Client) GetProfile(ctx context.Context, id string) (*Profile, error) {
	var doc jsonAPIData[Profile]
	if err := c.do(ctx, http.MethodGet, profilesPath+url.PathEscape(id)+"/", nil, nil, &doc); err != nil {
		return nil, err
	}
	return &doc.Data, nil
}

// FindProfileByEmail returns the profile with the given email, or nil when none exists.
func (c *Client) FindProfileByEmail(ctx context.Context, email string) (*Profile, error) {
	page, err := FetchPage[ProfileAttributes](ctx, c, profilesPath, Query{Filter: Equals("email", email), PageSize: 1}, "")
	if err != nil {
		return nil, err
	}
	if len(page.Data) == 0 {
		return nil, nil
	}
	return &page.Data[0], nil
}

type resourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type profileMergePayload struct {
	Data struct {
		Type          string `json:"type"`
		ID            string `json:"id"`
		Relationships struct {
			Profiles jsonAPIData[[]resourceRef] `json:"profiles"`
		} `json:"relationships"`
	} `json:"data"`
}

// MergeProfiles merges the source profiles into destinationID.
func (c *Client) MergeProfiles(ctx context.Context, destinationID string, sourceIDs []string) (interface{}, error) {
	var payload profileMergePayload
	payload.Data.Type = "profile-merge"
	payload.Data.ID = destinationID
	refs := make([]resourceRef, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		refs = append(refs, resourceRef{Type: "profile", ID: id})
	}
	payload.Data.Relationships.Profiles.Data = refs

	var out interface{}
	if err := c.do(ctx, http.MethodPost, profileMergePath, nil, payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}
