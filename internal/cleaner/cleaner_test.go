package cleaner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tracewipe/internal/host"
	"tracewipe/internal/policy"
)

type fakeHistory struct {
	items     []host.HistoryItem
	searchErr error
	deleteErr map[string]error
	deleted   []string
}

func (f *fakeHistory) Search(ctx context.Context, text string, since time.Time, maxResults int) ([]host.HistoryItem, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.items, nil
}

func (f *fakeHistory) DeleteURL(ctx context.Context, url string) error {
	if err, ok := f.deleteErr[url]; ok {
		return err
	}
	f.deleted = append(f.deleted, url)
	return nil
}

type removeCall struct {
	hostnames []string
	set       host.DataSet
}

type fakeSiteData struct {
	calls []removeCall
	err   error
}

func (f *fakeSiteData) Remove(ctx context.Context, hostnames []string, set host.DataSet) error {
	f.calls = append(f.calls, removeCall{hostnames: hostnames, set: set})
	return f.err
}

func newTestCleaner(h *fakeHistory, sd *fakeSiteData) *Cleaner {
	return New(h, sd, 1000, 15*time.Minute)
}

func TestDeleteHistorySweepsEquivalents(t *testing.T) {
	h := &fakeHistory{items: []host.HistoryItem{
		{URL: "http://www.example.com/page/"},
		{URL: "https://example.com/page?x=1"},
		{URL: "https://example.com/other"},
	}}
	c := newTestCleaner(h, &fakeSiteData{})

	result := c.DeleteHistory(context.Background(), "https://example.com/page", ExecOptions{})
	require.True(t, result.Success)
	require.False(t, result.Partial)
	require.Equal(t, 2, result.Deleted)
	require.ElementsMatch(t, []string{
		"https://example.com/page",
		"http://www.example.com/page/",
	}, h.deleted)
}

func TestDeleteHistorySubtreeIgnoresQuery(t *testing.T) {
	h := &fakeHistory{items: []host.HistoryItem{
		{URL: "https://example.com/page/sub?y=2"},
		{URL: "https://example.com/pageology"},
	}}
	c := newTestCleaner(h, &fakeSiteData{})

	result := c.DeleteHistory(context.Background(), "https://example.com/page", ExecOptions{IncludeSubpages: true})
	require.Equal(t, 2, result.Deleted)
	require.Contains(t, h.deleted, "https://example.com/page/sub?y=2")
	require.NotContains(t, h.deleted, "https://example.com/pageology")
}

func TestDeleteHistorySearchFailureFallsBackToExactURL(t *testing.T) {
	h := &fakeHistory{searchErr: errors.New("bridge down")}
	c := newTestCleaner(h, &fakeSiteData{})

	result := c.DeleteHistory(context.Background(), "https://example.com/page", ExecOptions{})
	require.True(t, result.Success)
	require.Equal(t, 1, result.Deleted)
	require.Equal(t, []string{"https://example.com/page"}, h.deleted)
}

func TestDeleteHistoryPartialFailure(t *testing.T) {
	h := &fakeHistory{
		items:     []host.HistoryItem{{URL: "http://example.com/page"}},
		deleteErr: map[string]error{"http://example.com/page": errors.New("locked")},
	}
	c := newTestCleaner(h, &fakeSiteData{})

	result := c.DeleteHistory(context.Background(), "https://example.com/page", ExecOptions{})
	require.True(t, result.Success)
	require.True(t, result.Partial)
	require.Equal(t, 1, result.Deleted)
	require.Len(t, result.Errors, 1)
}

func TestDeleteHistoryTotalFailure(t *testing.T) {
	h := &fakeHistory{deleteErr: map[string]error{"https://example.com/page": errors.New("locked")}}
	c := newTestCleaner(h, &fakeSiteData{})

	result := c.DeleteHistory(context.Background(), "https://example.com/page", ExecOptions{})
	require.False(t, result.Success)
	require.Zero(t, result.Deleted)
}

func TestDeleteSiteDataExpandsHostnames(t *testing.T) {
	sd := &fakeSiteData{}
	c := newTestCleaner(&fakeHistory{}, sd)

	actions := policy.ActionSet{Cookies: policy.ActionDelete, SiteData: policy.ActionKeep}
	result := c.DeleteSiteData(context.Background(), "example.com", actions)
	require.True(t, result.Success)
	require.Len(t, sd.calls, 1)
	require.Equal(t, []string{"example.com", "www.example.com"}, sd.calls[0].hostnames)
	require.True(t, sd.calls[0].set.Cookies)
	require.False(t, sd.calls[0].set.LocalStorage)
}

func TestDeleteSiteDataSkipsEmptyRequest(t *testing.T) {
	sd := &fakeSiteData{}
	c := newTestCleaner(&fakeHistory{}, sd)

	actions := policy.ActionSet{Cookies: policy.ActionKeep, SiteData: policy.ActionKeep}
	result := c.DeleteSiteData(context.Background(), "example.com", actions)
	require.True(t, result.Success)
	require.True(t, result.Skipped)
	require.Empty(t, sd.calls)
}

func TestDeleteSiteDataRefusesEmptyHostname(t *testing.T) {
	sd := &fakeSiteData{}
	c := newTestCleaner(&fakeHistory{}, sd)

	actions := policy.ActionSet{Cookies: policy.ActionDelete}
	result := c.DeleteSiteData(context.Background(), "", actions)
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
	require.Empty(t, sd.calls)
}

func TestClearGlobalCacheRateLimited(t *testing.T) {
	sd := &fakeSiteData{}
	c := newTestCleaner(&fakeHistory{}, sd)

	current := time.Unix(1700000000, 0)
	c.SetClock(func() time.Time { return current })

	first := c.ClearGlobalCache(context.Background())
	require.True(t, first.Success)
	require.False(t, first.Skipped)
	require.Len(t, sd.calls, 1)

	current = current.Add(5 * time.Minute)
	second := c.ClearGlobalCache(context.Background())
	require.True(t, second.Success)
	require.True(t, second.Skipped)
	require.Equal(t, "rate-limited", second.Reason)
	require.Len(t, sd.calls, 1)

	current = current.Add(11 * time.Minute)
	third := c.ClearGlobalCache(context.Background())
	require.True(t, third.Success)
	require.False(t, third.Skipped)
	require.Len(t, sd.calls, 2)
}

func TestClearGlobalCacheFailureAllowsImmediateRetry(t *testing.T) {
	sd := &fakeSiteData{err: errors.New("bridge down")}
	c := newTestCleaner(&fakeHistory{}, sd)

	current := time.Unix(1700000000, 0)
	c.SetClock(func() time.Time { return current })

	first := c.ClearGlobalCache(context.Background())
	require.False(t, first.Success)

	sd.err = nil
	second := c.ClearGlobalCache(context.Background())
	require.True(t, second.Success)
	require.False(t, second.Skipped)
}

func TestExecuteActionsPartialHistoryFailsOverall(t *testing.T) {
	h := &fakeHistory{
		items:     []host.HistoryItem{{URL: "http://example.com/page"}},
		deleteErr: map[string]error{"http://example.com/page": errors.New("locked")},
	}
	c := newTestCleaner(h, &fakeSiteData{})

	merged := policy.ActionSet{History: policy.ActionDelete, Cookies: policy.ActionKeep,
		Cache: policy.ActionKeep, SiteData: policy.ActionKeep}
	result := c.ExecuteActions(context.Background(), "https://example.com/page", merged, ExecOptions{})
	require.False(t, result.Success)
	require.NotNil(t, result.History)
	require.True(t, result.History.Success)
	require.True(t, result.History.Partial)
}

func TestExecuteActionsRunsEveryRequestedOperation(t *testing.T) {
	h := &fakeHistory{}
	sd := &fakeSiteData{}
	c := newTestCleaner(h, sd)

	merged := policy.ActionSet{History: policy.ActionDelete, Cookies: policy.ActionDelete,
		Cache: policy.ActionDelete, SiteData: policy.ActionDelete}
	result := c.ExecuteActions(context.Background(), "https://example.com/page", merged, ExecOptions{})
	require.True(t, result.Success)
	require.NotNil(t, result.History)
	require.NotNil(t, result.SiteData)
	require.NotNil(t, result.Cache)

	// One origin-scoped removal plus one global cache clear.
	require.Len(t, sd.calls, 2)
}
