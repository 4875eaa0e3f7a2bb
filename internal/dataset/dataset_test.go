package dataset

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidhogg/agora/internal/act"
	"github.com/nidhogg/agora/internal/timeutil"
)

func ts(s string) time.Time { return timeutil.MustParse(s) }

func fixture() *Data {
	users := []User{
		{ID: "u1", Info: map[string]any{"name": "Ann"}, Posts: []string{"p2", "p1"}, Likes: []string{"p3"}, Following: []string{"u2"}},
		{ID: "u2", Info: map[string]any{"name": "Bo"}, Posts: []string{"p3", "p4"}, Followers: []string{"u1"}},
	}
	posts := []Post{
		{ID: "p3", AuthorID: "u2", Timestamp: ts("2024-01-02 09:00:00"), Text: "bo says", Type: TypePost},
		{ID: "p1", AuthorID: "u1", Timestamp: ts("2024-01-01 08:00:00"), Text: "first", Type: TypePost},
		{ID: "p2", AuthorID: "u1", QuoteID: "p3", Timestamp: ts("2024-01-02 10:00:00"), Text: "bo says", Type: TypeRetweet},
		{ID: "p4", AuthorID: "u2", Timestamp: ts("2024-01-05 00:00:00"), Text: "late", Type: TypePost},
	}
	return New(users, posts)
}

func TestNew_SortsPosts(t *testing.T) {
	d := fixture()
	require.Len(t, d.Posts, 4)
	assert.Equal(t, []string{"p1", "p3", "p2", "p4"}, []string{d.Posts[0].ID, d.Posts[1].ID, d.Posts[2].ID, d.Posts[3].ID})

	p, err := d.Post("p2")
	require.NoError(t, err)
	assert.Equal(t, "p3", p.QuoteID)

	_, err = d.Post("nope")
	assert.ErrorIs(t, err, ErrPostNotFound)
	_, err = d.User("nope")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestFilterByTime(t *testing.T) {
	d := fixture().FilterByTime(ts("2024-01-02 00:00:00"), ts("2024-01-05 00:00:00"))
	require.Len(t, d.Posts, 2)
	u1, err := d.User("u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, u1.Posts)
	assert.Equal(t, []string{"p3"}, u1.Likes)
	u2, _ := d.User("u2")
	assert.Equal(t, []string{"p3"}, u2.Posts, "end bound is exclusive")
}

func TestMakeHistory(t *testing.T) {
	d := fixture()
	require.NoError(t, d.MakeHistory(ts("2024-01-01 00:00:00"), ts("2024-01-04 00:00:00")))

	hist, err := d.History("u1")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, TypePost, hist[0].Type)
	assert.Equal(t, TypeLike, hist[1].Type)
	assert.Equal(t, TypeRepost, hist[2].Type)
	assert.Equal(t, "p3", hist[2].QuoteID)

	acts := Acts(hist)
	assert.Equal(t, act.KindRepost, acts[2].Kind)

	between, err := d.HistoryBetween("u1", ts("2024-01-02 09:00:00"), ts("2024-01-02 10:00:00"))
	require.NoError(t, err)
	require.Len(t, between, 1)
	assert.Equal(t, "p3", between[0].PostID)

	u2, err := d.History("u2")
	require.NoError(t, err)
	assert.Len(t, u2, 1, "p4 is outside the range")
}

func TestMeta(t *testing.T) {
	d := fixture()
	var s string
	assert.ErrorIs(t, d.Meta(MetaProfile, "u1", &s), ErrMetaNotFound)
	assert.Equal(t, "fallback", d.MetaOrDefault(MetaProfile, "u1", "fallback"))
	assert.False(t, d.HasMetaKey(MetaProfile))

	require.NoError(t, d.SetMeta(MetaProfile, "u1", "likes tea"))
	assert.Equal(t, "likes tea", d.MetaOrDefault(MetaProfile, "u1", "fallback"))
	assert.True(t, d.HasMetaKey(MetaProfile))
}

func TestSaveLoad(t *testing.T) {
	d := fixture()
	require.NoError(t, d.SetMeta(MetaProfile, "u2", "bo profile"))
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, d.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, back.Posts, 4)
	assert.Equal(t, "bo profile", back.MetaOrDefault(MetaProfile, "u2", ""))
	p, err := back.Post("p1")
	require.NoError(t, err)
	assert.Equal(t, "", p.QuoteID)
	assert.True(t, p.Timestamp.Equal(ts("2024-01-01 08:00:00")))
}

func TestDecodeQuoteID(t *testing.T) {
	assert.Equal(t, "", decodeQuoteID([]byte(`null`)))
	assert.Equal(t, "", decodeQuoteID([]byte(`"-1"`)))
	assert.Equal(t, "", decodeQuoteID([]byte(`-1`)))
	assert.Equal(t, "42", decodeQuoteID([]byte(`42`)))
	assert.Equal(t, "abc", decodeQuoteID([]byte(`"abc"`)))
}
