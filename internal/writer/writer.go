// Package writer chains new content onto the per-table hash chains.
//
// Callers supply semantic fields only. Ids, prior ids and prior hashes are
// always taken from the chain head inside the append transaction.
package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xtchd/xtchd/internal/chain"
	"github.com/xtchd/xtchd/internal/content"
)

var ErrInvalidContent = errors.New("invalid content")

type Writer struct {
	store      Store
	sequencers map[string]*Sequencer
}

// New creates one sequencer per content table.
func New(store Store, config *Config) *Writer {
	w := &Writer{
		store:      store,
		sequencers: make(map[string]*Sequencer),
	}
	for _, c := range content.Classes() {
		w.sequencers[c.Table] = NewSequencer(c.Table, store, config)
	}
	return w
}

func (w *Writer) SetAlerter(a Alerter) {
	for _, s := range w.sequencers {
		s.SetAlerter(a)
	}
}

func (w *Writer) Start(ctx context.Context) error {
	for table, s := range w.sequencers {
		if err := s.Start(ctx); err != nil {
			w.Stop()
			return fmt.Errorf("failed to start sequencer for %s: %w", table, err)
		}
	}
	return nil
}

func (w *Writer) Stop() {
	for _, s := range w.sequencers {
		s.Stop()
	}
}

// Head returns the current chain head of table.
func (w *Writer) Head(ctx context.Context, table string) (chain.Head, error) {
	if _, ok := w.sequencers[table]; !ok {
		return chain.Head{}, fmt.Errorf("unknown table %q", table)
	}
	return w.store.Head(ctx, table)
}

func appendAs[T content.Record](ctx context.Context, w *Writer, table string, build func(id int32) T) (chain.Envelope[T], error) {
	s, ok := w.sequencers[table]
	if !ok {
		return chain.Envelope[T]{}, fmt.Errorf("unknown table %q", table)
	}
	env, err := s.Submit(ctx, func(id int32) content.Record { return build(id) })
	if err != nil {
		return chain.Envelope[T]{}, err
	}
	return chain.As[T](env)
}

func required(field, value string) (string, error) {
	value = strings.TrimSpace(content.Normalize(value))
	if value == "" {
		return "", fmt.Errorf("%w: %s must not be empty", ErrInvalidContent, field)
	}
	return value, nil
}

func (w *Writer) AddAuthor(ctx context.Context, name string) (chain.Envelope[content.Author], error) {
	name, err := required("name", name)
	if err != nil {
		return chain.Envelope[content.Author]{}, err
	}
	return appendAs(ctx, w, content.TableAuthors, func(id int32) content.Author {
		return content.Author{AuthID: id, Name: name}
	})
}

func (w *Writer) AddArticle(ctx context.Context, authID int32, title string) (chain.Envelope[content.Article], error) {
	title, err := required("title", title)
	if err != nil {
		return chain.Envelope[content.Article]{}, err
	}
	return appendAs(ctx, w, content.TableArticles, func(id int32) content.Article {
		return content.Article{ArtID: id, AuthID: authID, Title: title}
	})
}

func (w *Writer) AddArticlePara(ctx context.Context, artID int32, md string) (chain.Envelope[content.ArticlePara], error) {
	md, err := required("md", md)
	if err != nil {
		return chain.Envelope[content.ArticlePara]{}, err
	}
	return appendAs(ctx, w, content.TableArticleParagraphs, func(id int32) content.ArticlePara {
		return content.ArticlePara{AParaID: id, ArtID: artID, MD: md}
	})
}

// AddYoutubeChannel stores url lowercased.
func (w *Writer) AddYoutubeChannel(ctx context.Context, url, name string) (chain.Envelope[content.YoutubeChannel], error) {
	url, err := required("url", url)
	if err != nil {
		return chain.Envelope[content.YoutubeChannel]{}, err
	}
	name, err = required("name", name)
	if err != nil {
		return chain.Envelope[content.YoutubeChannel]{}, err
	}
	url = strings.ToLower(url)
	return appendAs(ctx, w, content.TableYoutubeChannels, func(id int32) content.YoutubeChannel {
		return content.YoutubeChannel{ChanID: id, Name: name, URL: url}
	})
}

func (w *Writer) AddYoutubeVideo(ctx context.Context, chanID int32, vidPK, title string, uploaded content.Date) (chain.Envelope[content.YoutubeVideo], error) {
	vidPK, err := required("vid_pk", vidPK)
	if err != nil {
		return chain.Envelope[content.YoutubeVideo]{}, err
	}
	title, err = required("title", title)
	if err != nil {
		return chain.Envelope[content.YoutubeVideo]{}, err
	}
	return appendAs(ctx, w, content.TableYoutubeVideos, func(id int32) content.YoutubeVideo {
		return content.YoutubeVideo{VidID: id, VidPK: vidPK, ChanID: chanID, Title: title, DateUploaded: uploaded}
	})
}

func (w *Writer) AddImage(ctx context.Context, pair content.ImagePair) (chain.Envelope[content.Image], error) {
	if pair.SrcFull == "" || pair.SrcThmb == "" {
		return chain.Envelope[content.Image]{}, fmt.Errorf("%w: image sources must not be empty", ErrInvalidContent)
	}
	return appendAs(ctx, w, content.TableImages, pair.WithID)
}

func (w *Writer) AddArticleRefArticle(ctx context.Context, req content.ArticleRefArticleReq) (chain.Envelope[content.ArticleRefArticle], error) {
	return appendAs(ctx, w, content.TableArticleRefArticle, req.WithID)
}

func (w *Writer) AddArticleRefVideo(ctx context.Context, req content.ArticleRefVideoReq) (chain.Envelope[content.ArticleRefVideo], error) {
	if strings.TrimSpace(req.VidPK) == "" {
		return chain.Envelope[content.ArticleRefVideo]{}, fmt.Errorf("%w: vid_pk must not be empty", ErrInvalidContent)
	}
	if req.SecReq != nil && *req.SecReq < 0 {
		return chain.Envelope[content.ArticleRefVideo]{}, fmt.Errorf("%w: sec_req must not be negative", ErrInvalidContent)
	}
	return appendAs(ctx, w, content.TableArticleRefVideo, req.WithID)
}

func (w *Writer) AddArticleRefImage(ctx context.Context, req content.ArticleRefImageReq) (chain.Envelope[content.ArticleRefImage], error) {
	return appendAs(ctx, w, content.TableArticleRefImage, req.WithID)
}
