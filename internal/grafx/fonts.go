package grafx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/starford/studiopack/internal/models"
)

// FontFamily is a font family of the environment.
type FontFamily struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FontStyle is a style of a font family.
type FontStyle struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	FamilyID   string `json:"familyId"`
	FamilyName string `json:"familyName"`
}

// SearchFontFamilies returns every family matching search, across pages.
func (c *Client) SearchFontFamilies(ctx context.Context, search string) ([]FontFamily, error) {
	q := url.Values{}
	if search != "" {
		q.Set("search", search)
	}
	return listAll[FontFamily](ctx, c, c.url("/font-families", q))
}

// FontStyles returns every style of the family, across pages.
func (c *Client) FontStyles(ctx context.Context, familyID string) ([]FontStyle, error) {
	return listAll[FontStyle](ctx, c, c.url("/font-families/"+url.PathEscape(familyID)+"/styles", nil))
}

// FontStyle returns the details of one style.
func (c *Client) FontStyle(ctx context.Context, styleID string) (models.FontData, error) {
	var fd models.FontData
	err := c.getJSON(ctx, c.url("/font-styles/"+url.PathEscape(styleID), nil), &fd)
	return fd, err
}

// FontStyleDownloadURL is the URL serving the font file of a style.
func (c *Client) FontStyleDownloadURL(styleID string) string {
	return c.url("/font-styles/"+url.PathEscape(styleID)+"/download", nil)
}

// FontExists reports whether a style named styleName exists in a family
// named exactly familyName.
func (c *Client) FontExists(ctx context.Context, familyName, styleName string) (bool, error) {
	families, err := c.SearchFontFamilies(ctx, familyName)
	if err != nil {
		return false, err
	}
	for _, f := range families {
		if f.Name != familyName {
			continue
		}
		styles, err := c.FontStyles(ctx, f.ID)
		if err != nil {
			return false, err
		}
		for _, s := range styles {
			if s.Name == styleName {
				return true, nil
			}
		}
	}
	return false, nil
}

type fontUpload struct {
	ID string `json:"id"`
}

type fontUploadNames struct {
	FamilyName string `json:"familyName"`
	Name       string `json:"name"`
}

// UploadFont runs the three-step upload: raw file, family and style names,
// confirm. The first failing step's error is returned; a non-2xx response
// is an *apperr.HTTPError.
func (c *Client) UploadFont(ctx context.Context, fileName string, data []byte, familyName, styleName string) error {
	id, err := c.uploadFontFile(ctx, fileName, data)
	if err != nil {
		return err
	}
	base := c.url("/font-uploads/"+url.PathEscape(id), nil)
	if err := c.sendJSON(ctx, http.MethodPatch, base, fontUploadNames{FamilyName: familyName, Name: styleName}, nil); err != nil {
		return err
	}
	return c.sendJSON(ctx, http.MethodPost, base+"/confirm", nil, nil)
}

func (c *Client) uploadFontFile(ctx context.Context, fileName string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/font-uploads", nil), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	var up fontUpload
	if err := json.Unmarshal(resp, &up); err != nil {
		return "", fmt.Errorf("grafx: decode font upload: %w", err)
	}
	if up.ID == "" {
		return "", fmt.Errorf("grafx: font upload returned no id")
	}
	return up.ID, nil
}
