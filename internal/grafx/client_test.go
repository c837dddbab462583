package grafx_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"golang.org/x/oauth2"

	"github.com/starford/studiopack/internal/apperr"
	"github.com/starford/studiopack/internal/grafx"
	"github.com/starford/studiopack/internal/models"
	"github.com/starford/studiopack/internal/smartcrop"
	"github.com/starford/studiopack/internal/testutil"
)

func TestMediaConnectors_FiltersAndPaginates(t *testing.T) {
	fake := testutil.NewFakeGraFx(t)
	fake.Connectors = []models.Connector{
		{ID: "1", Name: "Media", Type: "media", Enabled: true},
		{ID: "2", Name: "Fonts", Type: "fonts", Enabled: true},
		{ID: "3", Name: "Off", Type: "media", Enabled: false},
		{ID: "4", Name: "Other", Type: "media", Enabled: true},
		{ID: "5", Name: "Data", Type: "data", Enabled: true},
	}
	got, err := fake.Client().MediaConnectors(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "4", got[1].ID)
	assert.Equal(t, 3, fake.CallCount(http.MethodGet, "/connectors"))
}

func TestMediaConnectors_Unauthorized(t *testing.T) {
	fake := testutil.NewFakeGraFx(t)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "wrong"})
	c := grafx.New(fake.BaseURL(), ts)
	_, err := c.MediaConnectors(context.Background())
	assert.ErrorIs(t, err, apperr.ErrFailedToFetchConnectors)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
}

func TestQueryMedia_Pages(t *testing.T) {
	fake := testutil.NewFakeGraFx(t)
	var items []models.MediaItem
	for i := 0; i < 20; i++ {
		items = append(items, models.MediaItem{ID: fmt.Sprint(i), Name: fmt.Sprint(i), Type: models.MediaItemFile})
	}
	fake.Media[testutil.MediaKey("c1", "/photos")] = items

	c := fake.Client()
	ctx := context.Background()
	first, err := c.QueryMedia(ctx, "c1", models.QueryOptions{Collection: "/photos", PageSize: models.QueryPageSize})
	require.NoError(t, err)
	assert.Len(t, first.Data, 15)
	require.NotEmpty(t, first.NextPageToken)

	second, err := c.QueryMedia(ctx, "c1", models.QueryOptions{Collection: "/photos", PageToken: first.NextPageToken})
	require.NoError(t, err)
	assert.Len(t, second.Data, 5)
	assert.Empty(t, second.NextPageToken)
}

func TestVision(t *testing.T) {
	fake := testutil.NewFakeGraFx(t)
	c := fake.Client()
	ctx := context.Background()

	_, err := c.GetVision(ctx, "c1", "missing")
	assert.ErrorIs(t, err, apperr.ErrVisionNotFound)

	meta := smartcrop.Metadata{"subjectArea": json.RawMessage(`{"x":0,"y":0,"width":1,"height":1}`)}
	require.NoError(t, c.SetVision(ctx, "c1", "a1", meta))
	got, err := c.GetVision(ctx, "c1", "a1")
	require.NoError(t, err)
	assert.JSONEq(t, string(meta["subjectArea"]), string(got["subjectArea"]))
}

func TestFontExists(t *testing.T) {
	fake := testutil.NewFakeGraFx(t)
	fake.AddFont(models.FontData{ID: "s1", Name: "Bold", FamilyID: "f1", FamilyName: "Arial"}, []byte("x"))
	fake.AddFont(models.FontData{ID: "s2", Name: "Regular", FamilyID: "f2", FamilyName: "Arial Narrow"}, []byte("x"))
	c := fake.Client()
	ctx := context.Background()

	ok, err := c.FontExists(ctx, "Arial", "Bold")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.FontExists(ctx, "Arial", "Regular")
	require.NoError(t, err)
	assert.False(t, ok, "style of another family with a longer name")

	ok, err = c.FontExists(ctx, "arial", "Bold")
	require.NoError(t, err)
	assert.False(t, ok, "family names match exactly")
}

func TestUploadFont(t *testing.T) {
	fake := testutil.NewFakeGraFx(t)
	err := fake.Client().UploadFont(context.Background(), "Comic.ttf", []byte("font"), "Comic", "Regular")
	require.NoError(t, err)
	require.Len(t, fake.Uploads, 1)
	up := fake.Uploads[0]
	assert.Equal(t, "Comic.ttf", up.FileName)
	assert.Equal(t, "Comic", up.FamilyName)
	assert.Equal(t, "Regular", up.StyleName)
	assert.True(t, up.Confirmed)
}

func TestUploadFont_StepFailure(t *testing.T) {
	fake := testutil.NewFakeGraFx(t)
	fake.FailStep["patch"] = http.StatusConflict
	err := fake.Client().UploadFont(context.Background(), "Comic.ttf", []byte("font"), "Comic", "Regular")
	var httpErr *apperr.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, "Conflict", httpErr.StatusText())
	assert.Equal(t, 0, fake.CallCount(http.MethodPost, "/font-uploads/upload-1/confirm"))
}

func TestFontStyle(t *testing.T) {
	fake := testutil.NewFakeGraFx(t)
	fd := models.FontData{ID: "s1", Name: "Bold", FamilyID: "f1", FamilyName: "Arial", Extension: "ttf", FileName: "Arial-Bold.ttf", FileSize: 3}
	fake.AddFont(fd, []byte("abc"))
	got, err := fake.Client().FontStyle(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, fd, got)

	_, err = fake.Client().FontStyle(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()})
	s, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)
	return s
}

func TestCheckExpiry(t *testing.T) {
	now := time.Now()
	assert.NoError(t, grafx.CheckExpiry(signed(t, now.Add(time.Hour)), now))
	assert.ErrorIs(t, grafx.CheckExpiry(signed(t, now.Add(-time.Hour)), now), apperr.ErrAuthorization)
	assert.NoError(t, grafx.CheckExpiry("opaque-token", now))
}

func TestTokenSource(t *testing.T) {
	ctx := context.Background()
	ts, err := grafx.TokenSource(ctx, grafx.AuthConfig{Token: "abc"})
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)

	_, err = grafx.TokenSource(ctx, grafx.AuthConfig{})
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
}

func TestKeyringTokens(t *testing.T) {
	keyring.MockInit()
	base := "https://env.example/api"

	_, err := grafx.LoadToken(base)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	require.NoError(t, grafx.SaveToken(base, "stored"))
	ts, err := grafx.TokenSource(context.Background(), grafx.AuthConfig{BaseURL: base, UseKeyring: true})
	require.NoError(t, err)
	tok, _ := ts.Token()
	assert.Equal(t, "stored", tok.AccessToken)

	require.NoError(t, grafx.DeleteToken(base))
	require.NoError(t, grafx.DeleteToken(base))
}

func TestAuthorization(t *testing.T) {
	fake := testutil.NewFakeGraFx(t)
	h, err := fake.Client().Authorization()
	require.NoError(t, err)
	assert.Equal(t, "Bearer "+testutil.FakeToken, h)
}
