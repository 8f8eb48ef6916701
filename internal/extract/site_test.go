package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	page Page
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) (Page, error) {
	return f.page, f.err
}

type fakeRenderer struct {
	page   Page
	err    error
	called bool
}

func (r *fakeRenderer) Render(_ context.Context, _ string) (Page, error) {
	r.called = true
	return r.page, r.err
}

func (r *fakeRenderer) Close() {}

type fakeArchive struct {
	uri  string
	err  error
	key  string
	data []byte
}

func (a *fakeArchive) Save(_ context.Context, key, _ string, data []byte) (string, error) {
	a.key = key
	a.data = data
	return a.uri, a.err
}

const staticBody = `<html><body>
	<h1>Ace Towing</h1>
	<p>Monday: 8am - 5pm</p>
	<p>Open 24/7 for emergencies.</p>
	<p>Flatbed towing and roadside assistance. Visit our impound lot.</p>
</body></html>`

func TestSiteExtractor_StaticPage(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{page: Page{
		URL:        "https://acetowing.test",
		FinalURL:   "https://acetowing.test/",
		StatusCode: 200,
		Body:       []byte(staticBody),
	}}
	renderer := &fakeRenderer{}
	ex := NewSiteExtractor(SiteExtractorConfig{}, fetcher, renderer, nil, zap.NewNop())

	res, err := ex.Extract(context.Background(), "https://acetowing.test")
	require.NoError(t, err)
	assert.False(t, renderer.called)
	assert.False(t, res.UsedHeadless)

	require.NotNil(t, res.Hours)
	assert.True(t, res.Hours.AlwaysOpen)
	assert.Equal(t, "8am - 5pm", res.Hours.Days["monday"])

	assert.Equal(t, VerdictYes, res.Impound.Verdict)
	assert.InDelta(t, 0.8, res.Impound.Score, 0.001)
	assert.Contains(t, res.Services, "flatbed towing")
	assert.Contains(t, res.Services, "roadside assistance")
	assert.Equal(t, "https://acetowing.test/", res.FinalURL)
}

func TestSiteExtractor_PromotesToHeadless(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{page: Page{
		StatusCode: 200,
		Body:       []byte(`<div id="root"></div>`),
	}}
	renderer := &fakeRenderer{page: Page{
		StatusCode: 200,
		FinalURL:   "https://spa.test/",
		Body:       []byte(staticBody),
		UsedJS:     true,
	}}
	ex := NewSiteExtractor(SiteExtractorConfig{}, fetcher, renderer, nil, zap.NewNop())

	res, err := ex.Extract(context.Background(), "https://spa.test")
	require.NoError(t, err)
	assert.True(t, renderer.called)
	assert.True(t, res.UsedHeadless)
	require.NotNil(t, res.Hours)
}

func TestSiteExtractor_RenderFailureFallsBackToStatic(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{page: Page{
		StatusCode: 200,
		Body:       []byte(`<div id="root">` + staticBody + `</div>`),
	}}
	renderer := &fakeRenderer{err: errors.New("browser crashed")}
	ex := NewSiteExtractor(SiteExtractorConfig{}, fetcher, renderer, nil, zap.NewNop())

	res, err := ex.Extract(context.Background(), "https://spa.test")
	require.NoError(t, err)
	assert.True(t, renderer.called)
	assert.False(t, res.UsedHeadless)
	assert.Equal(t, VerdictYes, res.Impound.Verdict)
}

func TestSiteExtractor_BlockedStatus(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		page: Page{StatusCode: 403},
		err:  errors.New("forbidden"),
	}
	ex := NewSiteExtractor(SiteExtractorConfig{}, fetcher, nil, nil, zap.NewNop())

	_, err := ex.Extract(context.Background(), "https://walled.test")
	var exErr *Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, KindBlocked, exErr.Kind)
}

func TestSiteExtractor_BotWallContent(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{page: Page{
		StatusCode: 200,
		Body:       []byte(`<html><body><p>Checking your browser before accessing the site.</p></body></html>`),
	}}
	ex := NewSiteExtractor(SiteExtractorConfig{}, fetcher, nil, nil, zap.NewNop())

	_, err := ex.Extract(context.Background(), "https://walled.test")
	var exErr *Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, KindBlocked, exErr.Kind)
}

func TestSiteExtractor_TimeoutClassified(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	ex := NewSiteExtractor(SiteExtractorConfig{}, fetcher, nil, nil, zap.NewNop())

	_, err := ex.Extract(context.Background(), "https://slow.test")
	var exErr *Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, KindTimeout, exErr.Kind)
}

func TestSiteExtractor_BadScheme(t *testing.T) {
	t.Parallel()

	ex := NewSiteExtractor(SiteExtractorConfig{}, &fakeFetcher{}, nil, nil, zap.NewNop())

	_, err := ex.Extract(context.Background(), "ftp://example.test/file")
	var exErr *Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, KindUnreachable, exErr.Kind)
}

func TestSiteExtractor_EmptyBody(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{page: Page{StatusCode: 200, Body: []byte("<html><body></body></html>")}}
	ex := NewSiteExtractor(SiteExtractorConfig{}, fetcher, nil, nil, zap.NewNop())

	_, err := ex.Extract(context.Background(), "https://blank.test")
	var exErr *Error
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, KindMalformed, exErr.Kind)
}

func TestSiteExtractor_SnapshotArchived(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{page: Page{StatusCode: 200, Body: []byte(staticBody)}}
	archive := &fakeArchive{uri: "gs://snapshots/ace.html"}
	ex := NewSiteExtractor(SiteExtractorConfig{}, fetcher, nil, archive, zap.NewNop())

	res, err := ex.Extract(context.Background(), "https://acetowing.test")
	require.NoError(t, err)
	assert.Equal(t, "gs://snapshots/ace.html", res.SnapshotURI)
	assert.Equal(t, "https://acetowing.test", archive.key)
	assert.Equal(t, []byte(staticBody), archive.data)
}

func TestSiteExtractor_SnapshotFailureNonFatal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{page: Page{StatusCode: 200, Body: []byte(staticBody)}}
	archive := &fakeArchive{err: errors.New("bucket gone")}
	ex := NewSiteExtractor(SiteExtractorConfig{}, fetcher, nil, archive, zap.NewNop())

	res, err := ex.Extract(context.Background(), "https://acetowing.test")
	require.NoError(t, err)
	assert.Empty(t, res.SnapshotURI)
}
