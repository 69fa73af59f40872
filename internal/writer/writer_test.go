package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
	"github.com/xtchd/xtchd/internal/sqlitestore"
)

// memStore is a Store that keeps chains in memory and can be told to fail.
type memStore struct {
	mu       sync.Mutex
	heads    map[string]chain.Head
	rows     map[string][]chain.Envelope[content.Record]
	failures []error
	calls    int
}

func newMemStore(failures ...error) *memStore {
	return &memStore{
		heads:    make(map[string]chain.Head),
		rows:     make(map[string][]chain.Envelope[content.Record]),
		failures: failures,
	}
}

func (m *memStore) Head(_ context.Context, table string) (chain.Head, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.heads[table]; ok {
		return h, nil
	}
	return chain.GenesisHead(), nil
}

func (m *memStore) Append(ctx context.Context, table string, fn chain.AppendFunc) (chain.Envelope[content.Record], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return chain.Envelope[content.Record]{}, err
	}

	head, ok := m.heads[table]
	if !ok {
		head = chain.GenesisHead()
	}
	env, err := fn(head)
	if err != nil {
		return chain.Envelope[content.Record]{}, err
	}
	m.rows[table] = append(m.rows[table], env)
	m.heads[table] = env.Head()
	return env, nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []*chain.IntegrityError
}

func (r *recordingAlerter) SendIntegrityAlert(_ context.Context, ie *chain.IntegrityError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, ie)
	return nil
}

func fixedClock(ts ...time.Time) func() time.Time {
	var mu sync.Mutex
	i := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := ts[i%len(ts)]
		i++
		return t
	}
}

var (
	adminsTS  = time.Date(2023, time.March, 14, 15, 9, 26, 0, time.UTC)
	someGuyTS = time.Date(2023, time.March, 14, 15, 10, 2, 0, time.UTC)
)

const (
	adminsHash  = "1558371924a2df193c1aac169da41bf6920483381c436212f1aa1df853b7585c"
	someGuyHash = "7b32f1219b87ce2b2c2eb4a8cf5ed45df48ebad5a25bc2f28f005291bbf3c4e3"
)

func startWriter(t *testing.T, store Store, config *Config) *Writer {
	t.Helper()
	w := New(store, config)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestAddAuthorAssignsIDsAndLinks(t *testing.T) {
	store := newMemStore()
	w := startWriter(t, store, &Config{Clock: fixedClock(adminsTS, someGuyTS)})
	ctx := context.Background()

	first, err := w.AddAuthor(ctx, "Xtchd Admins")
	require.NoError(t, err)
	assert.Equal(t, int32(0), first.Content.AuthID)
	assert.Nil(t, first.PriorID)
	assert.Equal(t, adminsHash, first.NewHash)

	second, err := w.AddAuthor(ctx, "Some guy")
	require.NoError(t, err)
	assert.Equal(t, int32(1), second.Content.AuthID)
	require.NotNil(t, second.PriorID)
	assert.Equal(t, int32(0), *second.PriorID)
	assert.Equal(t, first.NewHash, second.PriorHash)
	assert.Equal(t, someGuyHash, second.NewHash)

	head, err := w.Head(ctx, content.TableAuthors)
	require.NoError(t, err)
	assert.Equal(t, chain.Head{ID: 1, Hash: someGuyHash}, head)
}

func TestTablesHaveIndependentChains(t *testing.T) {
	store := newMemStore()
	w := startWriter(t, store, &Config{})
	ctx := context.Background()

	_, err := w.AddAuthor(ctx, "a")
	require.NoError(t, err)
	art, err := w.AddArticle(ctx, 0, "first article")
	require.NoError(t, err)
	assert.Equal(t, int32(0), art.Content.ArtID)
	assert.Nil(t, art.PriorID)

	para, err := w.AddArticlePara(ctx, art.Content.ArtID, "Hello **world**")
	require.NoError(t, err)
	assert.Equal(t, "apara_id=0 art_id=0 md=Hello **world**", para.Content.StateString())
}

func TestTransientFailuresAreRetried(t *testing.T) {
	flaky := chain.NewTransientError("read chain head", errors.New("connection reset"))
	store := newMemStore(flaky, flaky)
	w := startWriter(t, store, &Config{MaxRetries: 3, RetryBackoff: time.Millisecond})

	env, err := w.AddAuthor(context.Background(), "Xtchd Admins")
	require.NoError(t, err)
	assert.Equal(t, int32(0), env.ID())
	assert.Equal(t, 3, store.calls)
}

func TestTransientFailuresExhaustRetries(t *testing.T) {
	flaky := chain.NewTransientError("read chain head", errors.New("connection reset"))
	store := newMemStore(flaky, flaky, flaky)
	w := startWriter(t, store, &Config{MaxRetries: 1, RetryBackoff: time.Millisecond})

	_, err := w.AddAuthor(context.Background(), "Xtchd Admins")
	require.Error(t, err)
	assert.True(t, chain.IsTransient(err))
	assert.Equal(t, 2, store.calls)
}

func TestIntegrityViolationIsNotRetried(t *testing.T) {
	rejected := &chain.IntegrityError{Table: content.TableAuthors, RowID: 0, Reason: chain.ReasonRejectedByDatabase}
	store := newMemStore(rejected)
	alerter := &recordingAlerter{}
	w := startWriter(t, store, &Config{MaxRetries: 5, RetryBackoff: time.Millisecond})
	w.SetAlerter(alerter)

	_, err := w.AddAuthor(context.Background(), "Xtchd Admins")
	require.Error(t, err)
	assert.True(t, chain.IsIntegrity(err))
	assert.Equal(t, 1, store.calls)
	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, chain.ReasonRejectedByDatabase, alerter.alerts[0].Reason)
}

func TestInvalidContentIsRejectedBeforeAppend(t *testing.T) {
	store := newMemStore()
	w := startWriter(t, store, &Config{})
	ctx := context.Background()

	_, err := w.AddAuthor(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = w.AddYoutubeChannel(ctx, "", "name")
	assert.ErrorIs(t, err, ErrInvalidContent)

	negative := int16(-1)
	_, err = w.AddArticleRefVideo(ctx, content.ArticleRefVideoReq{VidPK: "pk", SecReq: &negative})
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = w.AddImage(ctx, content.ImagePair{Alt: "no sources"})
	assert.ErrorIs(t, err, ErrInvalidContent)

	assert.Equal(t, 0, store.calls)
}

func TestYoutubeChannelURLIsLowercased(t *testing.T) {
	w := startWriter(t, newMemStore(), &Config{})

	env, err := w.AddYoutubeChannel(context.Background(), "https://YouTube.com/@Chan", "Chan")
	require.NoError(t, err)
	assert.Equal(t, "https://youtube.com/@chan", env.Content.URL)
	assert.Equal(t, "Chan", env.Content.Name)
}

func TestStoppedWriterRefusesAppends(t *testing.T) {
	w := New(newMemStore(), &Config{})
	_, err := w.AddAuthor(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStopped)

	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	_, err = w.AddAuthor(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSequencerStopsWithStartContext(t *testing.T) {
	s := NewSequencer(content.TableAuthors, newMemStore(), &Config{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	cancel()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sequencer loop did not exit after its context was canceled")
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), func(id int32) content.Record {
			return content.Author{AuthID: id, Name: "x"}
		})
		errCh <- err
	}()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked on a sequencer whose loop has exited")
	}

	// A sequencer stopped this way can be started again.
	require.NoError(t, s.Start(context.Background()))
	env, err := s.Submit(context.Background(), func(id int32) content.Record {
		return content.Author{AuthID: id, Name: "x"}
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), env.ID())
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewSequencer(content.TableAuthors, newMemStore(), &Config{})
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
	_, err := s.Submit(context.Background(), func(id int32) content.Record {
		return content.Author{AuthID: id}
	})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSubmitRejectsWrongTable(t *testing.T) {
	s := NewSequencer(content.TableAuthors, newMemStore(), &Config{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	_, err := s.Submit(context.Background(), func(id int32) content.Record {
		return content.Article{ArtID: id}
	})
	assert.ErrorContains(t, err, "articles content submitted to authors sequencer")

	_, err = s.Submit(context.Background(), func(id int32) content.Record {
		return content.Author{AuthID: id + 7}
	})
	assert.ErrorContains(t, err, "does not follow head")
}

func TestConcurrentAppendsStayLinear(t *testing.T) {
	store := newMemStore()
	w := startWriter(t, store, &Config{})
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.AddAuthor(ctx, "concurrent")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows := store.rows[content.TableAuthors]
	require.Len(t, rows, n)
	for i, env := range rows {
		assert.Equal(t, int32(i), env.ID())
		if i > 0 {
			assert.Equal(t, rows[i-1].NewHash, env.PriorHash)
		}
	}
}

func TestCanceledContext(t *testing.T) {
	w := startWriter(t, newMemStore(), &Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.AddAuthor(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEndToEndAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate(ctx))

	w := startWriter(t, store, &Config{Clock: fixedClock(adminsTS, someGuyTS)})

	first, err := w.AddAuthor(ctx, "Xtchd Admins")
	require.NoError(t, err)
	second, err := w.AddAuthor(ctx, "Some guy")
	require.NoError(t, err)
	assert.Equal(t, adminsHash, first.NewHash)
	assert.Equal(t, someGuyHash, second.NewHash)

	channel, err := w.AddYoutubeChannel(ctx, "https://youtube.com/@x", "x")
	require.NoError(t, err)
	video, err := w.AddYoutubeVideo(ctx, channel.Content.ChanID, "dQw4w9WgXcQ", "A video", content.NewDate(2009, time.October, 25))
	require.NoError(t, err)

	art, err := w.AddArticle(ctx, second.Content.AuthID, "Article")
	require.NoError(t, err)
	para, err := w.AddArticlePara(ctx, art.Content.ArtID, "para")
	require.NoError(t, err)

	url := "https://example.com/cat.png"
	img, err := w.AddImage(ctx, content.ImagePair{SrcFull: "data:image/png;base64,AA", SrcThmb: "data:image/png;base64,AB", Alt: "cat", URL: &url})
	require.NoError(t, err)

	from := content.RefFrom{ArtID: art.Content.ArtID, AParaID: &para.Content.AParaID, Comment: "see"}
	_, err = w.AddArticleRefArticle(ctx, content.ArticleRefArticleReq{RefFrom: from, RefsArt: art.Content.ArtID})
	require.NoError(t, err)
	sec := int16(30)
	_, err = w.AddArticleRefVideo(ctx, content.ArticleRefVideoReq{RefFrom: from, VidPK: video.Content.VidPK, SecReq: &sec})
	require.NoError(t, err)
	_, err = w.AddArticleRefImage(ctx, content.ArticleRefImageReq{RefFrom: from, ImgID: img.Content.ImgID})
	require.NoError(t, err)

	for _, c := range content.Classes() {
		rows, err := store.Rows(ctx, c.Table, 0, 10)
		require.NoError(t, err)
		require.NotEmpty(t, rows, c.Table)
		for _, env := range rows {
			assert.True(t, env.Valid(), "%s row %d", c.Table, env.ID())
		}
	}
}
